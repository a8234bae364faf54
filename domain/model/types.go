// Package model provides domain model for sheetsql
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Header is the raw header row of a sheet.
type Header []string

// NewHeader create new Header.
func NewHeader(h []string) Header {
	return Header(h)
}

// Equal compare Header.
func (h Header) Equal(h2 Header) bool {
	if len(h) != len(h2) {
		return false
	}
	for i, v := range h {
		if v != h2[i] {
			return false
		}
	}
	return true
}

// Record is one raw sheet row: untyped cell text as stored, no formula evaluation.
type Record []string

// NewRecord create new Record.
func NewRecord(r []string) Record {
	return Record(r)
}

// Equal compare Record.
func (r Record) Equal(r2 Record) bool {
	if len(r) != len(r2) {
		return false
	}
	for i, v := range r {
		if v != r2[i] {
			return false
		}
	}
	return true
}

// Cell returns the cell at index i, or "" when the row is shorter.
func (r Record) Cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// Kind is the runtime type of a scalar value.
type Kind int

const (
	// KindNull is the kind of a missing value
	KindNull Kind = iota
	// KindBool represents a boolean
	KindBool
	// KindInteger represents a 64-bit signed integer
	KindInteger
	// KindFloat represents a 64-bit float
	KindFloat
	// KindString represents text
	KindString
	// KindDate represents a date or timestamp
	KindDate
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// IsNumeric reports whether the kind is integer or float.
func (k Kind) IsNumeric() bool {
	return k == KindInteger || k == KindFloat
}

// ParseKind maps a declared type name to a Kind. Accepted names are
// case-insensitive and include the usual SQL spellings.
func ParseKind(name string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int", "integer", "bigint", "long":
		return KindInteger, true
	case "float", "double", "real", "number", "numeric", "decimal":
		return KindFloat, true
	case "str", "string", "text", "varchar":
		return KindString, true
	case "bool", "boolean":
		return KindBool, true
	case "date", "datetime", "timestamp":
		return KindDate, true
	default:
		return KindNull, false
	}
}

// Value is an immutable typed scalar.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindInteger, i: i} }

// Float wraps a float.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Date wraps a time.
func Date(t time.Time) Value { return Value{kind: KindDate, t: t} }

// Kind returns the value kind.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload.
func (v Value) AsBool() bool { return v.b }

// AsInt returns the integer payload, converting floats.
func (v Value) AsInt() int64 {
	if v.kind == KindFloat {
		return int64(v.f)
	}
	return v.i
}

// AsFloat returns the numeric payload as float64.
func (v Value) AsFloat() float64 {
	if v.kind == KindInteger {
		return float64(v.i)
	}
	return v.f
}

// AsTime returns the date payload.
func (v Value) AsTime() time.Time { return v.t }

// String renders the value for display. Null renders as "NULL".
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	case KindDate:
		return FormatDate(v.t)
	default:
		return fmt.Sprintf("%v", v.Any())
	}
}

// Any returns the payload as a Go value suitable for database/sql.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInteger:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindDate:
		return v.t
	default:
		return nil
	}
}

// Equal compares kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInteger:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindDate:
		return v.t.Equal(o.t)
	}
	return false
}

// size approximates the in-memory footprint of the value in bytes.
func (v Value) size() int64 {
	const base = 48
	if v.kind == KindString {
		return base + int64(len(v.s))
	}
	return base
}

// FormatDate renders a date as YYYY-MM-DD, adding the clock when it is not midnight.
func FormatDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02 15:04:05")
}

// ValueOf converts a database/sql scan result into a Value.
func ValueOf(x any) Value {
	switch v := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(v)
	case int:
		return Int(int64(v))
	case int32:
		return Int(int64(v))
	case int64:
		return Int(v)
	case float32:
		return Float(float64(v))
	case float64:
		return Float(v)
	case string:
		return String(v)
	case []byte:
		return String(string(v))
	case time.Time:
		return Date(v)
	case Value:
		return v
	default:
		return String(fmt.Sprintf("%v", v))
	}
}

// ParseParam coerces raw parameter text into a typed value. Quoted text
// stays a string; integers, floats, booleans and ISO dates are recognized.
func ParseParam(raw string) Value {
	s := strings.TrimSpace(raw)
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return String(s[1 : len(s)-1])
		}
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && isDecimalText(s) {
		return Float(f)
	}
	switch strings.ToLower(s) {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	case "null":
		return Null()
	}
	if t, ok := parseDatetime(s); ok {
		return Date(t)
	}
	return String(s)
}

// isDecimalText rejects strconv spellings such as "Inf" and "NaN" that are words, not numbers.
func isDecimalText(s string) bool {
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '+' || r == 'e' || r == 'E' {
			continue
		}
		return false
	}
	return true
}
