// Package form implements the form wizard engine: a multi-step field schema
// driven as a state machine with per-field validation, cross-field dependency
// resolution, debounced autosave and simulated file uploads.
//
// The wizard owns view state only. Persisting values is the host's job and is
// requested through [Callbacks].
package form

import (
	"log/slog"
	"strings"

	"github.com/JonMunkholm/erpshell/internal/value"
)

// FieldType is the input type of a field.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldEmail    FieldType = "email"
	FieldPhone    FieldType = "phone"
	FieldNumber   FieldType = "number"
	FieldDate     FieldType = "date"
	FieldSelect   FieldType = "select"
	FieldTextarea FieldType = "textarea"
	FieldCheckbox FieldType = "checkbox"
	FieldFile     FieldType = "file"
)

// Kind returns the value kind field input is narrowed to.
func (t FieldType) Kind() value.Kind {
	switch t {
	case FieldNumber:
		return value.KindNumber
	case FieldDate:
		return value.KindDate
	case FieldCheckbox:
		return value.KindBool
	case FieldFile:
		return value.KindFile
	default:
		return value.KindString
	}
}

// Option is one choice of a select field.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FileConstraints restrict what BeginUpload accepts. Accept entries are MIME
// types ("application/pdf"), MIME wildcards ("image/*") or extensions (".csv").
type FileConstraints struct {
	MaxSize int64    `json:"maxSize"` // bytes, 0 = unlimited
	Accept  []string `json:"accept"`
}

// Allows reports whether the constraints accept f, and why not.
func (c *FileConstraints) Allows(f FileInfo) (bool, string) {
	if c == nil {
		return true, ""
	}
	if c.MaxSize > 0 && f.Size > c.MaxSize {
		return false, MsgFileTooLarge
	}
	if len(c.Accept) == 0 {
		return true, ""
	}

	mime := strings.ToLower(f.MimeType)
	name := strings.ToLower(f.Name)
	for _, a := range c.Accept {
		a = strings.ToLower(strings.TrimSpace(a))
		switch {
		case a == "":
		case strings.HasPrefix(a, "."):
			if strings.HasSuffix(name, a) {
				return true, ""
			}
		case strings.HasSuffix(a, "/*"):
			if strings.HasPrefix(mime, strings.TrimSuffix(a, "*")) {
				return true, ""
			}
		case a == mime:
			return true, ""
		}
	}
	return false, MsgFileType
}

// FieldSpec describes one field. Name must be unique across the wizard.
// Dependencies lists the fields this field influences.
type FieldSpec struct {
	Name         string
	Label        string
	Type         FieldType
	Default      any
	Rules        Rules
	Options      []Option
	File         *FileConstraints
	Dependencies []Dependency
}

func (f FieldSpec) initial() value.Value {
	v := value.Coerce(f.Default, f.Type.Kind())
	if v.IsNull() && f.Type == FieldCheckbox {
		return value.Bool(false)
	}
	return v
}

// Step is one page of the wizard. A field belongs to the step that lists it.
type Step struct {
	ID     string
	Title  string
	Fields []FieldSpec
}

// State is the read-only form state handed to predicates and custom checks.
// Implementations must not retain or modify the maps.
type State struct {
	Values    map[string]value.Value
	Overrides map[string]Override
	// Log receives expression failures; nil means slog.Default.
	Log *slog.Logger
}

func (s State) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

// Get returns the current value of a field, or Null.
func (s State) Get(name string) value.Value {
	return s.Values[name]
}

// Visible reports whether the field is visible under the current overrides.
func (s State) Visible(name string) bool {
	o, ok := s.Overrides[name]
	return !ok || o.Visible == nil || *o.Visible
}

// plainValues converts values for expression evaluation.
func plainValues(vals map[string]value.Value) map[string]any {
	out := make(map[string]any, len(vals))
	for k, v := range vals {
		out[k] = plainValue(v)
	}
	return out
}
