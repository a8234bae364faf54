package sheetsql

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// writeWorkbook saves an xlsx file whose sheets appear in order.
func writeWorkbook(t *testing.T, path string, sheets map[string][][]any, order ...string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			if len(row) == 0 {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}
	require.NoError(t, f.SaveAs(path))
}

// salesBook writes the workbook most tests share:
//
//	Sales:   a title row, a blank row, then Region/Amount/Day from row 3
//	Regions: Region/Manager with the header on row 1
func salesBook(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sales.xlsx")
	writeWorkbook(t, path, map[string][][]any{
		"Sales": {
			{"Quarterly report"},
			{},
			{"Region", "Amount", "Day"},
			{"East", 10, "2024-01-05"},
			{"West", 5, "2024-02-01"},
			{"East", 7, "2024-03-01"},
		},
		"Regions": {
			{"Region", "Manager"},
			{"East", "Kim"},
			{"West", "Lee"},
		},
	}, "Sales", "Regions")
	return path
}

func writeText(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
