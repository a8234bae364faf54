package sheetsql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nao1215/sheetsql/domain/model"
)

// Error kinds. Failures of loading, query resolution, mapping validation and
// query execution match exactly one of these with errors.Is.
var (
	// ErrLoad indicates a sheet or header resolution failure
	ErrLoad = errors.New("sheetsql: load error")

	// ErrResolution indicates an unresolved placeholder or parameter
	ErrResolution = errors.New("sheetsql: resolution error")

	// ErrValidation indicates a mapping with error diagnostics under fail-on-error
	ErrValidation = errors.New("sheetsql: validation error")

	// ErrEngine indicates a failure reported by the SQL engine
	ErrEngine = errors.New("sheetsql: engine error")
)

// Finer-grained causes, wrapped inside the kinds above.
var (
	// ErrUnsupportedFormat indicates an unsupported file format
	ErrUnsupportedFormat = errors.New("sheetsql: unsupported file format")

	// ErrSheetNotFound indicates the sheet is not in the workbook
	ErrSheetNotFound = errors.New("sheetsql: sheet not found")

	// ErrHeaderOutOfRange indicates a header row outside the sheet extent
	ErrHeaderOutOfRange = errors.New("sheetsql: header row out of range")

	// ErrNoWorkbook indicates an operation that needs an open workbook
	ErrNoWorkbook = errors.New("sheetsql: no workbook open")

	// ErrEmptyData indicates that the data source contains no records
	ErrEmptyData = errors.New("sheetsql: empty data source")

	// ErrMemoryLimit indicates memory limit exceeded
	ErrMemoryLimit = errors.New("sheetsql: memory limit exceeded")

	// ErrUnsafeQuery indicates a statement rejected by the read-only guard
	ErrUnsafeQuery = errors.New("sheetsql: only read-only queries are allowed")

	// ErrNotBound indicates an alias or sheet that is not bound in the session
	ErrNotBound = errors.New("sheetsql: sheet not bound")

	// ErrAliasInUse indicates an explicit alias already used by another sheet
	ErrAliasInUse = errors.New("sheetsql: alias already in use")

	// ErrNotCached indicates binding a sheet whose relation is not cached
	ErrNotCached = errors.New("sheetsql: relation not cached")

	// ErrExpressionsDisabled indicates a mapping expression that needs allow_expressions
	ErrExpressionsDisabled = errors.New("sheetsql: expressions are disabled (set allow_expressions)")

	// ErrInvalidParam indicates a parameter name that is not an identifier
	ErrInvalidParam = errors.New("sheetsql: invalid parameter name")

	// ErrCacheMiss indicates a lookup of a key the cache does not hold
	ErrCacheMiss = errors.New("sheetsql: cache miss")
)

// ErrorContext provides context for where an error occurred
type ErrorContext struct {
	Operation string
	FilePath  string
	Sheet     string
	Details   string
}

// NewErrorContext creates a new error context
func NewErrorContext(operation, filePath string) *ErrorContext {
	return &ErrorContext{
		Operation: operation,
		FilePath:  filePath,
	}
}

// WithSheet adds sheet context to the error
func (ec *ErrorContext) WithSheet(sheet string) *ErrorContext {
	ec.Sheet = sheet
	return ec
}

// WithDetails adds details to the error context
func (ec *ErrorContext) WithDetails(details string) *ErrorContext {
	ec.Details = details
	return ec
}

// Error creates a formatted error with context
func (ec *ErrorContext) Error(baseErr error) error {
	var parts []string
	parts = append(parts, fmt.Sprintf("sheetsql: %s failed", ec.Operation))

	if ec.FilePath != "" {
		parts = append(parts, "file: "+ec.FilePath)
	}

	if ec.Sheet != "" {
		parts = append(parts, "sheet: "+ec.Sheet)
	}

	if ec.Details != "" {
		parts = append(parts, "details: "+ec.Details)
	}

	context := strings.Join(parts, ", ")
	if baseErr != nil {
		return fmt.Errorf("%s: %w", context, baseErr)
	}
	return errors.New(context)
}

// LoadError is a LOAD failure: unknown sheet, header out of range, or an
// unreadable source.
type LoadError struct {
	Path  string
	Sheet string
	Err   error
}

func newLoadError(path, sheet string, err error) *LoadError {
	return &LoadError{Path: path, Sheet: sheet, Err: err}
}

func (e *LoadError) Error() string {
	ec := NewErrorContext("load", e.Path).WithSheet(e.Sheet)
	return ec.Error(e.Err).Error()
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is reports LoadError as ErrLoad.
func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// ResolutionError lists every placeholder and parameter a rewrite could not resolve.
type ResolutionError struct {
	UnknownPlaceholders []string
	MissingParams       []string
}

func (e *ResolutionError) Error() string {
	var parts []string
	if len(e.UnknownPlaceholders) > 0 {
		parts = append(parts, "unknown sheet placeholders: {"+strings.Join(e.UnknownPlaceholders, "}, {")+"}")
	}
	if len(e.MissingParams) > 0 {
		parts = append(parts, "missing parameters: :"+strings.Join(e.MissingParams, ", :"))
	}
	return "sheetsql: cannot resolve query: " + strings.Join(parts, "; ")
}

// Is reports ResolutionError as ErrResolution.
func (e *ResolutionError) Is(target error) bool { return target == ErrResolution }

// ValidationError carries the diagnostics of a mapping rejected under fail-on-error.
type ValidationError struct {
	Diagnostics []model.Diagnostic
}

func (e *ValidationError) Error() string {
	errs, warns := model.CountSeverity(e.Diagnostics)
	return fmt.Sprintf("sheetsql: mapping has %d error(s) and %d warning(s)", errs, warns)
}

// Is reports ValidationError as ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransformError is the first cell failure of a mapping applied with
// fail-on-error.
type TransformError struct {
	Target string
	// Row is the 1-based data row; 0 when the whole column failed.
	Row int
	Err error
}

func (e *TransformError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("sheetsql: mapping error column=%s row=%d: %v", e.Target, e.Row, e.Err)
	}
	return fmt.Sprintf("sheetsql: mapping error column=%s: %v", e.Target, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Is reports TransformError as ErrValidation.
func (e *TransformError) Is(target error) bool { return target == ErrValidation }

// EngineError passes an engine failure through together with the query that ran.
type EngineError struct {
	Query string
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("sheetsql: engine error: %v\nquery: %s", e.Err, e.Query)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Is reports EngineError as ErrEngine.
func (e *EngineError) Is(target error) bool { return target == ErrEngine }
