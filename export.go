package sheetsql

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/compress"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
	"github.com/nao1215/sheetsql/domain/model"
	"github.com/xuri/excelize/v2"
)

// ErrExportCompression indicates compression requested for a binary format.
var ErrExportCompression = errors.New("sheetsql: compression is not supported for this export format")

// Export writes rel to path in the format and compression of opts.
// ExportOptionsForPath derives opts from a file name.
func Export(ctx context.Context, path string, rel *model.Relation, opts model.ExportOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opts.Compression != model.CompressionNone && !opts.Format.Compressible() {
		return NewErrorContext("export", path).WithDetails(opts.Format.String()).Error(ErrExportCompression)
	}

	if opts.Format == model.OutputFormatXLSX {
		return exportXLSX(path, rel, opts.SheetName)
	}

	w, cleanup, err := createCompressedFile(path, opts.Compression)
	if err != nil {
		return NewErrorContext("export", path).Error(err)
	}

	switch opts.Format {
	case model.OutputFormatCSV:
		err = writeDelimited(w, rel, ',')
	case model.OutputFormatTSV:
		err = writeDelimited(w, rel, '\t')
	case model.OutputFormatLTSV:
		err = writeLTSV(w, rel)
	case model.OutputFormatJSON:
		err = writeJSON(w, rel, false)
	case model.OutputFormatJSONL:
		err = writeJSON(w, rel, true)
	case model.OutputFormatParquet:
		err = writeParquet(ctx, w, rel)
	default:
		err = fmt.Errorf("unsupported export format: %v", opts.Format)
	}
	if err = errors.Join(err, cleanup()); err != nil {
		return NewErrorContext("export", path).WithDetails(opts.Format.String()).Error(err)
	}
	return nil
}

// cellText renders a cell for text formats; null is empty.
func cellText(v model.Value) string {
	if v.IsNull() {
		return ""
	}
	return v.String()
}

func writeDelimited(w io.Writer, rel *model.Relation, delimiter rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delimiter
	if err := cw.Write(rel.ColumnNames()); err != nil {
		return err
	}
	record := make([]string, len(rel.Columns()))
	for _, row := range rel.Rows() {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = cellText(row[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ltsvEscaper keeps values on one line and free of field separators.
var ltsvEscaper = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

func writeLTSV(w io.Writer, rel *model.Relation) error {
	names := rel.ColumnNames()
	fields := make([]string, len(names))
	for _, row := range rel.Rows() {
		for i, name := range names {
			var v string
			if i < len(row) {
				v = cellText(row[i])
			}
			fields[i] = strings.ReplaceAll(name, ":", "_") + ":" + ltsvEscaper.Replace(v)
		}
		if _, err := io.WriteString(w, strings.Join(fields, "\t")+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// orderedRow marshals a row as a JSON object in column order.
type orderedRow struct {
	names []string
	cells []model.Value
}

func (r orderedRow) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, name := range r.names {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')

		var payload any
		if i < len(r.cells) {
			payload = jsonValue(r.cells[i])
		}
		val, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		b.Write(val)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func jsonValue(v model.Value) any {
	switch v.Kind() {
	case model.KindNull:
		return nil
	case model.KindDate:
		return model.FormatDate(v.AsTime())
	default:
		return v.Any()
	}
}

func writeJSON(w io.Writer, rel *model.Relation, lines bool) error {
	names := rel.ColumnNames()
	enc := json.NewEncoder(w)
	if lines {
		for _, row := range rel.Rows() {
			if err := enc.Encode(orderedRow{names: names, cells: row}); err != nil {
				return err
			}
		}
		return nil
	}

	rows := make([]orderedRow, rel.Len())
	for i, row := range rel.Rows() {
		rows[i] = orderedRow{names: names, cells: row}
	}
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// parquetField maps a column to an arrow field. Dates are stored as date32
// when every value is at midnight and as text otherwise.
func parquetField(rel *model.Relation, j int, c model.Column) arrow.Field {
	field := arrow.Field{Name: c.Name, Nullable: true}
	switch c.Kind {
	case model.KindInteger:
		field.Type = arrow.PrimitiveTypes.Int64
	case model.KindFloat:
		field.Type = arrow.PrimitiveTypes.Float64
	case model.KindBool:
		field.Type = arrow.FixedWidthTypes.Boolean
	case model.KindDate:
		field.Type = arrow.FixedWidthTypes.Date32
		for _, row := range rel.Rows() {
			if v := row[j]; !v.IsNull() && model.FormatDate(v.AsTime()) != v.AsTime().Format("2006-01-02") {
				field.Type = arrow.BinaryTypes.String
				break
			}
		}
	default:
		field.Type = arrow.BinaryTypes.String
	}
	return field
}

func writeParquet(ctx context.Context, w io.Writer, rel *model.Relation) error {
	columns := rel.Columns()
	fields := make([]arrow.Field, len(columns))
	for j, c := range columns {
		fields[j] = parquetField(rel, j, c)
	}
	schema := arrow.NewSchema(fields, nil)

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	for i, row := range rel.Rows() {
		if i%DefaultChunkSize == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for j := range fields {
			v := model.Null()
			if j < len(row) {
				v = row[j]
			}
			appendArrow(builder.Field(j), v)
		}
	}
	record := builder.NewRecord()
	defer record.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(schema, w, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if err := fw.Write(record); err != nil {
		return errors.Join(fmt.Errorf("failed to write parquet record: %w", err), fw.Close())
	}
	return fw.Close()
}

func appendArrow(b array.Builder, v model.Value) {
	if v.IsNull() {
		b.AppendNull()
		return
	}
	switch b := b.(type) {
	case *array.Int64Builder:
		b.Append(v.AsInt())
	case *array.Float64Builder:
		b.Append(v.AsFloat())
	case *array.BooleanBuilder:
		b.Append(v.AsBool())
	case *array.Date32Builder:
		b.Append(arrow.Date32FromTime(v.AsTime()))
	case *array.StringBuilder:
		b.Append(v.String())
	default:
		b.AppendNull()
	}
}

func exportXLSX(path string, rel *model.Relation, sheet string) error {
	if sheet == "" {
		sheet = "Result"
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return NewErrorContext("export", path).WithSheet(sheet).Error(err)
	}
	if err := writeSheet(f, sheet, rel.ColumnNames(), rel.Rows()); err != nil {
		return NewErrorContext("export", path).WithSheet(sheet).Error(err)
	}
	if err := f.SaveAs(path); err != nil {
		return NewErrorContext("export", path).Error(err)
	}
	return nil
}

// writeSheet writes a header row and data rows starting at A1.
func writeSheet(f *excelize.File, sheet string, header []string, rows [][]model.Value) error {
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &cells); err != nil {
		return err
	}
	for i, row := range rows {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v.Any()
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return err
		}
	}
	return nil
}

// WriteMappingTemplate writes an xlsx mapping workbook with one entry per
// column of rel, each mapping the column onto itself.
func WriteMappingTemplate(path string, rel *model.Relation) error {
	const sheet = "Mapping"
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return NewErrorContext("scaffold", path).Error(err)
	}
	header := []string{model.MappingTargetColumn, model.MappingExpressionColumn, model.MappingTypeColumn}
	rows := make([][]model.Value, 0, len(rel.Columns()))
	for _, c := range rel.Columns() {
		expr := c.Name
		if !isBareName(c.Name) {
			expr = fmt.Sprintf("col(%s)", starlarkString(c.Name))
		}
		rows = append(rows, []model.Value{model.String(c.Name), model.String(expr), model.String(c.Kind.String())})
	}
	if err := writeSheet(f, sheet, header, rows); err != nil {
		return NewErrorContext("scaffold", path).WithSheet(sheet).Error(err)
	}
	if err := f.SaveAs(path); err != nil {
		return NewErrorContext("scaffold", path).Error(err)
	}
	return nil
}

func starlarkString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
