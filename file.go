package sheetsql

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/apache/arrow/go/v18/arrow/array"
	pqfile "github.com/apache/arrow/go/v18/parquet/file"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
	"github.com/nao1215/sheetsql/domain/model"
	"github.com/xuri/excelize/v2"
	"github.com/zeebo/xxh3"
)

// DefaultChunkSize is the default number of rows per read batch.
const DefaultChunkSize = 1000

// rowBatchProcessor receives consecutive rows; first is the 1-based row
// number of rows[0]. Returning errStopScan ends the scan without error.
type rowBatchProcessor func(first int, rows []model.Record) error

var errStopScan = errors.New("stop scan")

// Source is an opened workbook or flat file. A flat file exposes exactly
// one sheet named after the file.
type Source interface {
	// Workbook describes the source.
	Workbook() *model.Workbook
	// ScanRows streams rows of sheet starting at row from (1-based) in
	// batches of at most batch rows. ctx is checked between batches.
	ScanRows(ctx context.Context, sheet string, from, batch int, fn rowBatchProcessor) error
	// Close releases the source.
	Close() error
}

// ReadRows returns rows from..to (1-based, inclusive) of sheet; to <= 0 reads to the end.
func ReadRows(ctx context.Context, src Source, sheet string, from, to int) ([]model.Record, error) {
	var out []model.Record
	batch := DefaultChunkSize
	if to > 0 && to-from+1 < batch {
		batch = max(to-from+1, 1)
	}
	err := src.ScanRows(ctx, sheet, from, batch, func(first int, rows []model.Record) error {
		for i, r := range rows {
			if to > 0 && first+i > to {
				return errStopScan
			}
			out = append(out, r)
		}
		if to > 0 && first+len(rows)-1 >= to {
			return errStopScan
		}
		return nil
	})
	return out, err
}

// OpenWorkbook opens path and describes its sheets without materializing them.
func OpenWorkbook(ctx context.Context, path string) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	fileType := model.DetectFileType(abs)
	if fileType == model.FileTypeUnsupported {
		return nil, NewErrorContext("open", abs).Error(ErrUnsupportedFormat)
	}

	data, err := os.ReadFile(abs) //nolint:gosec // User-provided path is necessary for file operations
	if err != nil {
		return nil, NewErrorContext("open", abs).Error(err)
	}
	fp := fingerprint(data)

	if fileType == model.FileTypeXLSX {
		return openXLSX(abs, fp, data)
	}

	plain, err := decompress(abs, data)
	if err != nil {
		return nil, NewErrorContext("open", abs).Error(err)
	}

	var records []model.Record
	switch fileType {
	case model.FileTypeCSV:
		records, err = parseDelimited(plain, ',')
	case model.FileTypeTSV:
		records, err = parseDelimited(plain, '\t')
	case model.FileTypeLTSV:
		records, err = parseLTSV(plain)
	case model.FileTypeParquet:
		records, err = parseParquet(ctx, plain)
	}
	if err != nil {
		return nil, NewErrorContext("open", abs).WithDetails(fileType.String()).Error(err)
	}
	return newTableSource(abs, fp, model.SheetNameFromPath(abs), records), nil
}

// fingerprint hashes file content; any byte change yields a new workbook identity.
func fingerprint(data []byte) string {
	h := xxh3.Hash128(data)
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}

// xlsxSource reads sheets of an excelize workbook on demand.
type xlsxSource struct {
	mu       sync.Mutex
	file     *excelize.File
	workbook *model.Workbook
}

func openXLSX(path, fp string, data []byte) (*xlsxSource, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, NewErrorContext("open", path).WithDetails("xlsx").Error(err)
	}

	names := f.GetSheetList()
	sheets := make([]model.Sheet, 0, len(names))
	for _, name := range names {
		rows, cols, err := sheetExtent(f, name)
		if err != nil {
			_ = f.Close()
			return nil, NewErrorContext("open", path).WithSheet(name).Error(err)
		}
		sheets = append(sheets, model.Sheet{Name: name, Rows: rows, Cols: cols})
	}

	return &xlsxSource{
		file:     f,
		workbook: model.NewWorkbook(path, fp, sheets),
	}, nil
}

// sheetExtent walks the row stream once to find the last populated row and
// the widest row. The stored dimension element is not trusted; many writers
// leave it at A1.
func sheetExtent(f *excelize.File, sheet string) (int, int, error) {
	iter, err := f.Rows(sheet)
	if err != nil {
		return 0, 0, err
	}
	defer iter.Close()

	lastRow, width := 0, 0
	for n := 1; iter.Next(); n++ {
		cols, err := iter.Columns()
		if err != nil {
			return 0, 0, err
		}
		if w := populatedWidth(cols); w > 0 {
			lastRow = n
			width = max(width, w)
		}
	}
	return lastRow, width, iter.Error()
}

// populatedWidth is the index after the last non-blank cell.
func populatedWidth(cols []string) int {
	for i := len(cols) - 1; i >= 0; i-- {
		if strings.TrimSpace(cols[i]) != "" {
			return i + 1
		}
	}
	return 0
}

func (s *xlsxSource) Workbook() *model.Workbook {
	return s.workbook
}

func (s *xlsxSource) ScanRows(ctx context.Context, sheet string, from, batch int, fn rowBatchProcessor) error {
	meta, ok := s.workbook.Sheet(sheet)
	if !ok {
		return ErrSheetNotFound
	}
	if batch <= 0 {
		batch = DefaultChunkSize
	}
	from = max(from, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	iter, err := s.file.Rows(sheet)
	if err != nil {
		return err
	}
	defer iter.Close()

	chunk := make([]model.Record, 0, batch)
	first := from
	for n := 1; n <= meta.Rows && iter.Next(); n++ {
		if n < from {
			continue
		}
		cols, err := iter.Columns()
		if err != nil {
			return fmt.Errorf("failed to read row %d in sheet %s: %w", n, sheet, err)
		}
		chunk = append(chunk, model.NewRecord(cols))
		if len(chunk) == batch {
			if err := emitBatch(ctx, fn, first, chunk); err != nil {
				return stopped(err)
			}
			first += len(chunk)
			chunk = make([]model.Record, 0, batch)
		}
	}
	if err := iter.Error(); err != nil {
		return err
	}
	if len(chunk) > 0 {
		return stopped(emitBatch(ctx, fn, first, chunk))
	}
	return nil
}

func (s *xlsxSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// tableSource serves a flat file already decoded into records.
type tableSource struct {
	workbook *model.Workbook
	records  []model.Record
}

func newTableSource(path, fp, sheet string, records []model.Record) *tableSource {
	width := 0
	lastRow := 0
	for i, r := range records {
		if w := populatedWidth(r); w > 0 {
			width = max(width, w)
			lastRow = i + 1
		}
	}
	records = records[:lastRow]
	return &tableSource{
		workbook: model.NewWorkbook(path, fp, []model.Sheet{{Name: sheet, Rows: lastRow, Cols: width}}),
		records:  records,
	}
}

func (s *tableSource) Workbook() *model.Workbook {
	return s.workbook
}

func (s *tableSource) ScanRows(ctx context.Context, sheet string, from, batch int, fn rowBatchProcessor) error {
	if _, ok := s.workbook.Sheet(sheet); !ok {
		return ErrSheetNotFound
	}
	if batch <= 0 {
		batch = DefaultChunkSize
	}
	for start := max(from, 1) - 1; start < len(s.records); start += batch {
		end := min(start+batch, len(s.records))
		if err := emitBatch(ctx, fn, start+1, s.records[start:end]); err != nil {
			return stopped(err)
		}
	}
	return nil
}

func (s *tableSource) Close() error {
	return nil
}

// emitBatch checks for cancellation before handing a batch over.
func emitBatch(ctx context.Context, fn rowBatchProcessor, first int, rows []model.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(first, rows)
}

func stopped(err error) error {
	if errors.Is(err, errStopScan) {
		return nil
	}
	return err
}

// parseDelimited parses CSV or TSV content. Ragged rows are accepted.
func parseDelimited(data []byte, delimiter rune) ([]model.Record, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var records []model.Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, model.NewRecord(row))
	}
	if len(records) == 0 {
		return nil, ErrEmptyData
	}
	return records, nil
}

// parseLTSV turns label:value lines into a header row of labels in
// first-seen order followed by one record per line.
func parseLTSV(data []byte) ([]model.Record, error) {
	var (
		labels []string
		index  = map[string]int{}
		lines  []map[string]string
	)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := map[string]string{}
		for _, pair := range strings.Split(line, "\t") {
			label, value, ok := strings.Cut(pair, ":")
			if !ok {
				continue
			}
			label = strings.TrimSpace(label)
			if _, seen := index[label]; !seen {
				index[label] = len(labels)
				labels = append(labels, label)
			}
			fields[label] = value
		}
		if len(fields) > 0 {
			lines = append(lines, fields)
		}
	}
	if len(lines) == 0 {
		return nil, ErrEmptyData
	}

	records := make([]model.Record, 0, len(lines)+1)
	records = append(records, model.NewRecord(labels))
	for _, fields := range lines {
		row := make(model.Record, len(labels))
		for label, value := range fields {
			row[index[label]] = value
		}
		records = append(records, row)
	}
	return records, nil
}

// parseParquet reads a Parquet file into a header row of field names and
// one record per row, rendering each value as text.
func parseParquet(ctx context.Context, data []byte) ([]model.Record, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}

	pqReader, err := pqfile.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader from bytes: %w", err)
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	defer table.Release()

	schema := table.Schema()
	header := make(model.Record, schema.NumFields())
	for i, field := range schema.Fields() {
		header[i] = field.Name
	}
	records := []model.Record{header}

	tableReader := array.NewTableReader(table, DefaultChunkSize)
	defer tableReader.Release()

	for tableReader.Next() {
		batch := tableReader.Record()
		for i := 0; i < int(batch.NumRows()); i++ {
			row := make(model.Record, batch.NumCols())
			for j, col := range batch.Columns() {
				if !col.IsNull(i) {
					row[j] = col.ValueStr(i)
				}
			}
			records = append(records, row)
		}
	}
	if err := tableReader.Err(); err != nil {
		return nil, fmt.Errorf("error reading table records: %w", err)
	}
	return records, nil
}
