package model

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultTypeSampleRows is the default number of data rows scanned for type inference.
const DefaultTypeSampleRows = 1000

// Common datetime patterns to detect
var datetimePatterns = []struct {
	pattern *regexp.Regexp
	formats []string // Multiple formats for the same pattern
}{
	// ISO8601 formats with timezone
	{
		regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})$`),
		[]string{time.RFC3339, time.RFC3339Nano},
	},
	// ISO8601 formats without timezone
	{
		regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?$`),
		[]string{"2006-01-02T15:04:05", "2006-01-02T15:04:05.999999999"},
	},
	// ISO8601 date and time with space
	{
		regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(\.\d+)?$`),
		[]string{"2006-01-02 15:04:05", "2006-01-02 15:04:05.999999999"},
	},
	// ISO8601 date only
	{
		regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
		[]string{"2006-01-02"},
	},
	// US formats, as excelize renders them with the default number format
	{
		regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4} \d{1,2}:\d{2}(:\d{2})?( (AM|PM))?$`),
		[]string{"1/2/2006 15:04:05", "1/2/2006 3:04:05 PM", "01/02/2006 15:04:05", "1/2/2006 15:04"},
	},
	{
		regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`),
		[]string{"1/2/2006", "01/02/2006"},
	},
	{
		regexp.MustCompile(`^\d{1,2}-\d{1,2}-\d{2}$`),
		[]string{"01-02-06", "1-2-06"},
	},
	// European formats
	{
		regexp.MustCompile(`^\d{1,2}\.\d{1,2}\.\d{4}$`),
		[]string{"2.1.2006", "02.01.2006"},
	},
}

// parseDatetime parses value against the known date layouts.
func parseDatetime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, dp := range datetimePatterns {
		if !dp.pattern.MatchString(value) {
			continue
		}
		for _, format := range dp.formats {
			if t, err := time.Parse(format, value); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// ParseDate parses text in any supported date layout.
func ParseDate(value string) (time.Time, bool) {
	return parseDatetime(value)
}

// parseBool accepts the spellings spreadsheets use for booleans.
func parseBool(value string) (bool, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "TRUE":
		return true, true
	case "FALSE":
		return false, true
	default:
		return false, false
	}
}

// isNumber reports whether the cell parses as a number.
func isNumber(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		return false
	}
	return isDecimalText(value)
}

// InferKind returns the narrowest kind that fits every non-empty value.
// Numbers widen integer to float. Booleans and dates must be uniform;
// any other mix, or a single value that fits no kind, forces string.
func InferKind(values []string) Kind {
	var hasInteger, hasFloat, hasBool, hasDate, seen bool

	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		seen = true

		if _, err := strconv.ParseInt(value, 10, 64); err == nil {
			hasInteger = true
			continue
		}
		if isNumber(value) {
			hasFloat = true
			continue
		}
		if _, ok := parseBool(value); ok {
			hasBool = true
			continue
		}
		if _, ok := parseDatetime(value); ok {
			hasDate = true
			continue
		}
		return KindString
	}

	if !seen {
		return KindString
	}
	numeric := hasInteger || hasFloat
	switch {
	case numeric && !hasBool && !hasDate:
		if hasFloat {
			return KindFloat
		}
		return KindInteger
	case hasBool && !numeric && !hasDate:
		return KindBool
	case hasDate && !numeric && !hasBool:
		return KindDate
	default:
		return KindString
	}
}

// Coerce converts raw cell text to kind. Empty or unparsable text becomes null.
func Coerce(raw string, kind Kind) Value {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Null()
	}
	switch kind {
	case KindInteger:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i)
		}
		// Whole floats such as "3.0" still fit an integer column.
		if f, err := strconv.ParseFloat(s, 64); err == nil && isDecimalText(s) && f == float64(int64(f)) {
			return Int(int64(f))
		}
		return Null()
	case KindFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil && isDecimalText(s) {
			return Float(f)
		}
		return Null()
	case KindBool:
		if b, ok := parseBool(s); ok {
			return Bool(b)
		}
		return Null()
	case KindDate:
		if t, ok := parseDatetime(s); ok {
			return Date(t)
		}
		return Null()
	case KindNull:
		return Null()
	default:
		return String(raw)
	}
}

// InferColumns infers a kind per column from at most sampleRows records.
func InferColumns(names []string, records []Record, sampleRows int) []Column {
	columns := make([]Column, len(names))
	for i, name := range names {
		columns[i] = Column{Name: name, Kind: KindString}
	}
	if len(records) == 0 {
		return columns
	}
	if sampleRows <= 0 || sampleRows > len(records) {
		sampleRows = len(records)
	}

	values := make([]string, 0, sampleRows)
	for i := range columns {
		values = values[:0]
		for _, record := range records[:sampleRows] {
			values = append(values, record.Cell(i))
		}
		columns[i].Kind = InferKind(values)
	}
	return columns
}
