package model

import (
	"strconv"
	"strings"
	"unicode"
)

// DefaultHeaderScanRows is how many rows header inference looks at.
const DefaultHeaderScanRows = 10

// InferHeaderRow returns the 1-based row that most looks like a header.
//
// Each of the first maxScan rows is scored by the number of non-empty cells
// holding at least one letter. Cells that parse as numbers never score. The
// highest score wins and ties go to the earliest row. When nothing scores,
// row 1 is returned.
func InferHeaderRow(sample []Record, maxScan int) int {
	if maxScan <= 0 || maxScan > len(sample) {
		maxScan = len(sample)
	}

	best, bestScore := 1, 0
	for i := 0; i < maxScan; i++ {
		score := labelScore(sample[i])
		if score > bestScore {
			best, bestScore = i+1, score
		}
	}
	return best
}

// HeaderScores returns the label score of each of the first maxScan rows.
func HeaderScores(sample []Record, maxScan int) []int {
	if maxScan <= 0 || maxScan > len(sample) {
		maxScan = len(sample)
	}
	scores := make([]int, maxScan)
	for i := range scores {
		scores[i] = labelScore(sample[i])
	}
	return scores
}

func labelScore(r Record) int {
	score := 0
	for _, cell := range r {
		if isLabel(cell) {
			score++
		}
	}
	return score
}

func isLabel(cell string) bool {
	cell = strings.TrimSpace(cell)
	if cell == "" || isNumber(cell) {
		return false
	}
	return strings.IndexFunc(cell, unicode.IsLetter) >= 0
}

// ColumnNames derives unique column names from a header row of the given width.
// Names are trimmed; an empty name becomes ColumnN (N is the 1-based
// position) and a repeated name gets _2, _3, ... until it is unique.
// Names are compared case-insensitively, as SQL identifiers are.
func ColumnNames(header Header, width int) []string {
	if width < len(header) {
		width = len(header)
	}

	names := make([]string, width)
	seen := make(map[string]struct{}, width)
	for i := range names {
		name := ""
		if i < len(header) {
			name = strings.TrimSpace(header[i])
		}
		if name == "" {
			name = "Column" + strconv.Itoa(i+1)
		}
		if _, dup := seen[strings.ToLower(name)]; dup {
			base := name
			for n := 2; ; n++ {
				name = base + "_" + strconv.Itoa(n)
				if _, taken := seen[strings.ToLower(name)]; !taken {
					break
				}
			}
		}
		seen[strings.ToLower(name)] = struct{}{}
		names[i] = name
	}
	return names
}
