// Package value defines the schema-typed value union shared by the table and
// form engines.
//
// Host applications hand the engines loosely typed data (decoded JSON, YAML,
// form posts). At the boundary every cell or field value is narrowed to one of
// a small set of kinds according to the declared column or field type, so the
// engines never have to interpret arbitrary Go values:
//
//	Null | String | Number | Bool | Date | File
//
// Use [From] for an untyped conversion and [Coerce] to narrow to a declared kind.
package value

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which member of the union a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindDate
	KindFile
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	case KindFile:
		return "file"
	default:
		return "null"
	}
}

// DateLayout is the canonical display layout for dates.
const DateLayout = "2006-01-02"

// File describes an uploaded attachment. ContentRef is an opaque handle the
// host resolves to the actual bytes or URL.
type File struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mimeType"`
	ContentRef string `json:"contentRef"`
}

// Value is an immutable tagged union. The zero Value is Null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	t    time.Time
	file File
}

// Null returns the null value.
func Null() Value { return Value{} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps a float64.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Date wraps a time.
func Date(t time.Time) Value { return Value{kind: KindDate, t: t} }

// FileValue wraps a file descriptor.
func FileValue(f File) Value { return Value{kind: KindFile, file: f} }

// Kind reports which member the value holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsEmpty reports whether v counts as "no input": null, a blank string, or an
// unchecked bool.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return strings.TrimSpace(v.str) == ""
	case KindBool:
		return !v.b
	case KindFile:
		return v.file.ContentRef == "" && v.file.Name == ""
	default:
		return false
	}
}

// Number returns the numeric payload.
func (v Value) Number() (float64, bool) { return v.num, v.kind == KindNumber }

// Bool returns the boolean payload.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Time returns the date payload.
func (v Value) Time() (time.Time, bool) { return v.t, v.kind == KindDate }

// File returns the file payload.
func (v Value) File() (File, bool) { return v.file, v.kind == KindFile }

// String returns the display form of the value. Null renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return FormatNumber(v.num)
	case KindBool:
		if v.b {
			return "Yes"
		}
		return "No"
	case KindDate:
		return v.t.Format(DateLayout)
	case KindFile:
		return v.file.Name
	default:
		return ""
	}
}

// Interface returns the plain Go value: nil, string, float64, bool,
// time.Time or File.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindDate:
		return v.t
	case KindFile:
		return v.file
	default:
		return nil
	}
}

// Equal reports whether two values hold the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindDate:
		return v.t.Equal(o.t)
	case KindFile:
		return v.file == o.file
	default:
		return true
	}
}

// MarshalJSON encodes the plain payload; dates use DateLayout.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindDate {
		return json.Marshal(v.t.Format(DateLayout))
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes the plain payload with From. Dates arrive as strings;
// Coerce narrows them against a declared kind.
func (v *Value) UnmarshalJSON(b []byte) error {
	var x any
	if err := json.Unmarshal(b, &x); err != nil {
		return err
	}
	*v = From(x)
	return nil
}

// FormatNumber renders whole numbers without a fractional part and everything
// else with the shortest exact representation.
func FormatNumber(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// From converts an arbitrary Go value without a declared type.
func From(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case *Value:
		if t == nil {
			return Null()
		}
		return *t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Number(float64(t))
	case int8:
		return Number(float64(t))
	case int16:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint:
		return Number(float64(t))
	case uint8:
		return Number(float64(t))
	case uint16:
		return Number(float64(t))
	case uint32:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case float32:
		return Number(float64(t))
	case float64:
		return Number(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return Number(f)
		}
		return String(t.String())
	case time.Time:
		if t.IsZero() {
			return Null()
		}
		return Date(t)
	case *time.Time:
		if t == nil || t.IsZero() {
			return Null()
		}
		return Date(*t)
	case File:
		return FileValue(t)
	case *File:
		if t == nil {
			return Null()
		}
		return FileValue(*t)
	case map[string]any:
		return fileFromMap(t)
	case fmt.Stringer:
		return String(t.String())
	default:
		return String(fmt.Sprint(t))
	}
}

// Coerce narrows x to kind k. Strings are parsed leniently (currency symbols,
// several date layouts, yes/no booleans). Input that cannot be narrowed
// becomes Null; an empty string is Null for every kind except KindString.
func Coerce(x any, k Kind) Value {
	v := From(x)
	if v.kind == k || v.kind == KindNull {
		return v
	}

	switch k {
	case KindString:
		return String(v.String())

	case KindNumber:
		switch v.kind {
		case KindString:
			if n, ok := ParseNumber(v.str); ok {
				return Number(n)
			}
		case KindBool:
			if v.b {
				return Number(1)
			}
			return Number(0)
		}
		return Null()

	case KindDate:
		if v.kind == KindString {
			if t, ok := ParseDate(v.str); ok {
				return Date(t)
			}
		}
		return Null()

	case KindBool:
		switch v.kind {
		case KindString:
			if b, ok := ParseBool(v.str); ok {
				return Bool(b)
			}
		case KindNumber:
			return Bool(v.num != 0)
		}
		return Null()

	case KindFile:
		return Null()

	default:
		return Null()
	}
}

// fileFromMap accepts the JSON shape of File so decoded payloads round-trip.
func fileFromMap(m map[string]any) Value {
	name, _ := m["name"].(string)
	ref, _ := m["contentRef"].(string)
	if name == "" && ref == "" {
		return String(fmt.Sprint(m))
	}
	f := File{Name: name, ContentRef: ref}
	f.MimeType, _ = m["mimeType"].(string)
	switch size := m["size"].(type) {
	case float64:
		f.Size = int64(size)
	case int64:
		f.Size = size
	case int:
		f.Size = int64(size)
	}
	return FileValue(f)
}
