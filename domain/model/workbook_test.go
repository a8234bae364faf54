package model

import (
	"errors"
	"testing"
)

func TestAliasFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		sheet string
		taken []string
		want  string
	}{
		{name: "plain name kept", sheet: "Sales", want: "Sales"},
		{name: "spaces replaced", sheet: "Sales Data 2024", want: "Sales_Data_2024"},
		{name: "punctuation runs collapse", sheet: "Q1 - Q2", want: "Q1_Q2"},
		{name: "leading digit prefixed", sheet: "2024 Sales", want: "t_2024_Sales"},
		{name: "empty name", sheet: "  ", want: "t_sheet"},
		{name: "case-insensitive collision", sheet: "sales", taken: []string{"Sales"}, want: "sales_1"},
		{name: "second collision", sheet: "Sales", taken: []string{"sales", "SALES_1"}, want: "Sales_2"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := AliasFor(tt.sheet, tt.taken); got != tt.want {
				t.Errorf("AliasFor(%q) = %q, want %q", tt.sheet, got, tt.want)
			}
		})
	}
}

func TestParseSheetSpec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		spec      string
		wantSheet string
		wantRow   int
		wantErr   bool
	}{
		{name: "name only", spec: "Sales", wantSheet: "Sales"},
		{name: "explicit header", spec: "Sales:3", wantSheet: "Sales", wantRow: 3},
		{name: "auto header", spec: "Sales:auto", wantSheet: "Sales"},
		{name: "trailing colon", spec: "Sales:", wantSheet: "Sales"},
		{name: "colon inside name", spec: "A:B:2", wantSheet: "A:B", wantRow: 2},
		{name: "bad header", spec: "Sales:x", wantErr: true},
		{name: "empty name", spec: ":2", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sheet, row, err := ParseSheetSpec(tt.spec)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSheetSpec) {
					t.Fatalf("ParseSheetSpec(%q) error = %v, want ErrInvalidSheetSpec", tt.spec, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSheetSpec(%q) unexpected error: %v", tt.spec, err)
			}
			if sheet != tt.wantSheet || row != tt.wantRow {
				t.Errorf("ParseSheetSpec(%q) = (%q, %d), want (%q, %d)", tt.spec, sheet, row, tt.wantSheet, tt.wantRow)
			}
		})
	}
}

func TestIsIdentifier(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"Sales", "sales_2024", "_x", "2024"} {
		if !IsIdentifier(ok) {
			t.Errorf("IsIdentifier(%q) = false, want true", ok)
		}
	}
	for _, bad := range []string{"", "Sales Data", "a-b", "é"} {
		if IsIdentifier(bad) {
			t.Errorf("IsIdentifier(%q) = true, want false", bad)
		}
	}
	if IsStrictSheetName("_x") || !IsStrictSheetName("Sales1") {
		t.Error("IsStrictSheetName mismatch")
	}
}

func TestWorkbook_Sheet(t *testing.T) {
	t.Parallel()

	sheets := []Sheet{{Name: "A", Rows: 3, Cols: 2}, {Name: "B", Rows: 1, Cols: 1}}
	wb := NewWorkbook("/tmp/x.xlsx", "abc", sheets)
	sheets[0].Name = "mutated"

	if got := wb.SheetNames(); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("SheetNames() = %v", got)
	}
	if s, ok := wb.Sheet("B"); !ok || s.Rows != 1 {
		t.Errorf("Sheet(B) = %+v, %v", s, ok)
	}
	if _, ok := wb.Sheet("b"); ok {
		t.Error("sheet lookup must be case-sensitive")
	}
}
