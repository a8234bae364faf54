package model

import (
	"fmt"
	"path/filepath"
	"strings"
)

// OutputFormat represents the export file format
type OutputFormat int

const (
	// OutputFormatCSV represents CSV output format
	OutputFormatCSV OutputFormat = iota
	// OutputFormatTSV represents TSV output format
	OutputFormatTSV
	// OutputFormatLTSV represents LTSV output format
	OutputFormatLTSV
	// OutputFormatJSON represents a JSON array of objects
	OutputFormatJSON
	// OutputFormatJSONL represents one JSON object per line
	OutputFormatJSONL
	// OutputFormatParquet represents Parquet output format
	OutputFormatParquet
	// OutputFormatXLSX represents Excel workbook output format
	OutputFormatXLSX
)

// String returns the string representation of OutputFormat
func (f OutputFormat) String() string {
	switch f {
	case OutputFormatCSV:
		return "csv"
	case OutputFormatTSV:
		return "tsv"
	case OutputFormatLTSV:
		return "ltsv"
	case OutputFormatJSON:
		return "json"
	case OutputFormatJSONL:
		return "jsonl"
	case OutputFormatParquet:
		return "parquet"
	case OutputFormatXLSX:
		return "xlsx"
	default:
		return "csv"
	}
}

// Extension returns the file extension for the format
func (f OutputFormat) Extension() string {
	switch f {
	case OutputFormatTSV:
		return ExtTSV
	case OutputFormatLTSV:
		return ExtLTSV
	case OutputFormatJSON:
		return ExtJSON
	case OutputFormatJSONL:
		return ExtJSONL
	case OutputFormatParquet:
		return ExtParquet
	case OutputFormatXLSX:
		return ExtXLSX
	default:
		return ExtCSV
	}
}

// Compressible reports whether the format can be wrapped in a compression stream.
func (f OutputFormat) Compressible() bool {
	return f != OutputFormatParquet && f != OutputFormatXLSX
}

// ParseOutputFormat maps a name such as "jsonl" or "excel" to an OutputFormat.
func ParseOutputFormat(name string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "csv":
		return OutputFormatCSV, nil
	case "tsv":
		return OutputFormatTSV, nil
	case "ltsv":
		return OutputFormatLTSV, nil
	case "json":
		return OutputFormatJSON, nil
	case "jsonl", "ndjson":
		return OutputFormatJSONL, nil
	case "parquet":
		return OutputFormatParquet, nil
	case "xlsx", "excel":
		return OutputFormatXLSX, nil
	default:
		return OutputFormatCSV, fmt.Errorf("unsupported export format %q", name)
	}
}

// CompressionType represents the compression type
type CompressionType int

const (
	// CompressionNone represents no compression
	CompressionNone CompressionType = iota
	// CompressionGZ represents gzip compression
	CompressionGZ
	// CompressionBZ2 represents bzip2 compression
	CompressionBZ2
	// CompressionXZ represents xz compression
	CompressionXZ
	// CompressionZSTD represents zstd compression
	CompressionZSTD
)

// String returns the string representation of CompressionType
func (c CompressionType) String() string {
	switch c {
	case CompressionGZ:
		return "gz"
	case CompressionBZ2:
		return "bz2"
	case CompressionXZ:
		return "xz"
	case CompressionZSTD:
		return "zstd"
	default:
		return "none"
	}
}

// Extension returns the file extension for the compression type
func (c CompressionType) Extension() string {
	switch c {
	case CompressionGZ:
		return ExtGZ
	case CompressionBZ2:
		return ExtBZ2
	case CompressionXZ:
		return ExtXZ
	case CompressionZSTD:
		return ExtZSTD
	default:
		return ""
	}
}

// ExportOptions represents options for exporting a result set
type ExportOptions struct {
	// Format specifies the output file format
	Format OutputFormat
	// Compression specifies the compression type
	Compression CompressionType
	// SheetName names the worksheet for xlsx output.
	SheetName string
}

// NewExportOptions creates new ExportOptions with default values (CSV format, no compression)
func NewExportOptions() ExportOptions {
	return ExportOptions{
		Format:      OutputFormatCSV,
		Compression: CompressionNone,
		SheetName:   "Result",
	}
}

// ExportOptionsForPath infers format and compression from a file name such as out.csv.gz.
func ExportOptionsForPath(path string) (ExportOptions, error) {
	opts := NewExportOptions().WithCompression(DetectCompression(path))
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(TrimCompressionExt(path))), ".")
	if ext == "" {
		return opts, fmt.Errorf("cannot infer export format from %q", path)
	}
	format, err := ParseOutputFormat(ext)
	if err != nil {
		return opts, err
	}
	return opts.WithFormat(format), nil
}

// WithFormat sets the output format
func (o ExportOptions) WithFormat(format OutputFormat) ExportOptions {
	o.Format = format
	return o
}

// WithCompression sets the compression type
func (o ExportOptions) WithCompression(compression CompressionType) ExportOptions {
	o.Compression = compression
	return o
}

// FileExtension returns the complete file extension including compression
func (o ExportOptions) FileExtension() string {
	baseExt := o.Format.Extension()
	compExt := o.Compression.Extension()
	return baseExt + compExt
}
