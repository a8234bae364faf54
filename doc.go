// Package sheetsql lets you query spreadsheet sheets as named relations
// with SQL, without loading or parsing the files yourself each time.
//
// A workbook (.xlsx) exposes every sheet; CSV, TSV, LTSV and Parquet files,
// optionally compressed, expose a single sheet named after the file. Sheets
// are materialized lazily into typed relations and kept in a Cache for the
// life of the process.
//
// # Features
//
//   - Header row inference with an explicit per-sheet override
//   - Column kind inference (integer, float, boolean, date, string)
//   - {Sheet} placeholders and :name parameters in query text
//   - Mapping sheets that derive new columns from expressions, validated
//     against the source schemas before they run
//   - Export of results to CSV, TSV, LTSV, JSON, JSON Lines, Parquet and XLSX
//
// # Basic Usage
//
// A Workspace wires the pieces together:
//
//	ws, err := sheetsql.NewWorkspace()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ws.Close()
//
//	if _, err := ws.Open(ctx, "sales.xlsx"); err != nil {
//	    log.Fatal(err)
//	}
//	if err := ws.Session().SetParam("start", model.ParseParam("2024-01-01")); err != nil {
//	    log.Fatal(err)
//	}
//	res, err := ws.Query(ctx, "SELECT Region, SUM(Amount) FROM {Sales} WHERE Day >= :start GROUP BY Region")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Placeholders and Parameters
//
// {Sales} is replaced with the alias the sheet "Sales" is bound under; a
// sheet named in a placeholder but not yet bound is bound on first use.
// :start is replaced with the SQL literal of the session parameter. Neither
// is recognized inside string literals, quoted identifiers or comments, and
// "::" casts are left alone. A query with any unresolved token fails with a
// *ResolutionError naming all of them.
//
// # Read-only Queries
//
// Only single SELECT, WITH, VALUES, EXPLAIN, DESCRIBE, SHOW and
// PRAGMA table_info statements are run; see CheckQuery.
//
// # Errors
//
// Failures match one of ErrLoad, ErrResolution, ErrValidation or ErrEngine
// with errors.Is. The typed errors LoadError, ResolutionError,
// ValidationError, TransformError and EngineError carry the details.
package sheetsql
