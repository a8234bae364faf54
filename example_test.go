package sheetsql_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/nao1215/sheetsql"
	"github.com/nao1215/sheetsql/domain/model"
	"github.com/xuri/excelize/v2"
)

// ExampleWorkspace_Query joins two sheets of one workbook. Placeholders
// bind their sheets on first use and :min is a session parameter.
func ExampleWorkspace_Query() {
	path := createCompanyWorkbook()
	defer os.RemoveAll(filepath.Dir(path))

	ws, err := sheetsql.NewWorkspace()
	if err != nil {
		log.Fatal(err)
	}
	defer ws.Close()

	ctx := context.Background()
	if _, err := ws.Open(ctx, path); err != nil {
		log.Fatal(err)
	}
	if err := ws.Session().SetParam("min", model.Int(70000)); err != nil {
		log.Fatal(err)
	}

	res, err := ws.Query(ctx, `
		SELECT e.name, d.name AS department, e.salary
		FROM {Employees} e
		JOIN {Departments} d ON e.department_id = d.id
		WHERE e.salary > :min
		ORDER BY e.salary DESC
	`)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("Salaries above 70000:")
	for _, row := range res.Set.Rows {
		fmt.Printf("%-15s | %-12s | %s\n", row[0], row[1], row[2])
	}

	// Output:
	// Salaries above 70000:
	// Alice Johnson   | Engineering  | 95000
	// Bob Smith       | Engineering  | 85000
	// Eve Davis       | Marketing    | 80000
}

// ExampleWorkspace_Sheets lists the sheets of the open workbook with the
// header row inferred for each.
func ExampleWorkspace_Sheets() {
	path := createCompanyWorkbook()
	defer os.RemoveAll(filepath.Dir(path))

	ws, err := sheetsql.NewWorkspace()
	if err != nil {
		log.Fatal(err)
	}
	defer ws.Close()

	ctx := context.Background()
	if _, err := ws.Open(ctx, path); err != nil {
		log.Fatal(err)
	}
	sheets, err := ws.Sheets(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, s := range sheets {
		hdr, err := ws.HeaderRow(ctx, s.Name)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("- %s (header row %d)\n", s.Name, hdr.Row)
	}

	// Output:
	// - Employees (header row 2)
	// - Departments (header row 1)
}

// createCompanyWorkbook writes company.xlsx into a new temporary directory.
// The Employees sheet starts with a title row.
func createCompanyWorkbook() string {
	tmpDir, err := os.MkdirTemp("", "sheetsql_example")
	if err != nil {
		log.Fatal(err)
	}

	sheets := []struct {
		name string
		rows [][]any
	}{
		{
			name: "Employees",
			rows: [][]any{
				{"Staff list"},
				{"id", "name", "department_id", "salary"},
				{1, "Alice Johnson", 1, 95000},
				{2, "Bob Smith", 1, 85000},
				{3, "Charlie Brown", 2, 60000},
				{4, "Eve Davis", 2, 80000},
			},
		},
		{
			name: "Departments",
			rows: [][]any{
				{"id", "name"},
				{1, "Engineering"},
				{2, "Marketing"},
			},
		},
	}

	f := excelize.NewFile()
	defer f.Close()
	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				log.Fatal(err)
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			log.Fatal(err)
		}
		for r, row := range s.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				log.Fatal(err)
			}
			if err := f.SetSheetRow(s.name, cell, &row); err != nil {
				log.Fatal(err)
			}
		}
	}

	path := filepath.Join(tmpDir, "company.xlsx")
	if err := f.SaveAs(path); err != nil {
		log.Fatal(err)
	}
	return path
}

// ExampleRewrite shows placeholder and parameter substitution.
func ExampleRewrite() {
	rw, err := sheetsql.Rewrite(
		"SELECT Region FROM {Sales} WHERE Amount > :min",
		map[string]string{"Sales": "s1"},
		map[string]model.Value{"min": model.Int(10)},
	)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(rw.Query)

	_, err = sheetsql.Rewrite("SELECT * FROM {Missing}", nil, nil)
	fmt.Println(errors.Is(err, sheetsql.ErrResolution))

	// Output:
	// SELECT Region FROM s1 WHERE Amount > 10
	// true
}

// ExampleCheckQuery shows the read-only guard.
func ExampleCheckQuery() {
	for _, q := range []string{
		"SELECT * FROM {Sales}",
		"DELETE FROM {Sales}",
		"SELECT 1; DROP TABLE s1",
	} {
		err := sheetsql.CheckQuery(q, false)
		fmt.Printf("%-25s allowed=%t\n", q, err == nil)
	}

	// Output:
	// SELECT * FROM {Sales}     allowed=true
	// DELETE FROM {Sales}       allowed=false
	// SELECT 1; DROP TABLE s1   allowed=false
}

// ExampleWrapLimit caps a query that has no LIMIT of its own.
func ExampleWrapLimit() {
	fmt.Println(sheetsql.WrapLimit("SELECT * FROM s1", 10))
	fmt.Println(sheetsql.WrapLimit("SELECT * FROM s1 LIMIT 3", 10))

	// Output:
	// SELECT * FROM (SELECT * FROM s1) AS sheetsql_sub LIMIT 10
	// SELECT * FROM s1 LIMIT 3
}

// ExampleApplyMapping maps rows onto target columns with expressions.
func ExampleApplyMapping() {
	rel := model.NewRelation("Sales", 1,
		[]model.Column{
			{Name: "Region", Kind: model.KindString},
			{Name: "Unit Price", Kind: model.KindFloat},
		},
		[][]model.Value{
			{model.String("  north "), model.Float(12.5)},
			{model.String("south"), model.Float(3)},
		},
	)
	entries := []model.MappingEntry{
		{Target: "Area", Expression: "upper(clean(Region))"},
		{Target: "Band", Expression: `case_when(col("Unit Price") >= 10, "high", "low")`},
	}

	out, report, err := sheetsql.ApplyMapping(context.Background(), rel, entries,
		sheetsql.TransformOptions{AllowExpressions: true})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(strings.Join(out.ColumnNames(), ","))
	for _, row := range out.Rows() {
		fmt.Printf("%s,%s\n", row[0], row[1])
	}
	fmt.Println("errors:", report.ErrorCount())

	// Output:
	// Area,Band
	// NORTH,high
	// SOUTH,low
	// errors: 0
}
