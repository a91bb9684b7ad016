// Package schema loads screen definitions from YAML.
//
// A screen couples a table (columns, feature flags, seed records, bulk
// actions) with an optional form wizard (steps, fields, rules and
// dependencies). Expressions in the file are CEL and compiled at load time,
// so a screen that parses is ready to drive both engines.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/erpshell/internal/form"
	"github.com/JonMunkholm/erpshell/internal/table"
	"github.com/JonMunkholm/erpshell/internal/value"
)

// ErrNotFound is returned when no screen is registered under an id.
var ErrNotFound = errors.New("schema: screen not found")

// BulkAction is a host action offered for selected rows. Set patches every
// selected record; Delete removes them.
type BulkAction struct {
	ID     string         `json:"id" yaml:"id"`
	Label  string         `json:"label" yaml:"label"`
	Set    map[string]any `json:"set,omitempty" yaml:"set"`
	Delete bool           `json:"delete,omitempty" yaml:"delete"`
}

// Features are the table feature flags of a screen. Nil leaves the host
// default in place.
type Features struct {
	Selection    *bool
	Search       *bool
	Filters      *bool
	Export       *bool
	ColumnToggle *bool
	InlineEdit   *bool
}

// WizardSettings are per-screen wizard overrides. Nil leaves the host
// default in place.
type WizardSettings struct {
	AllowStepSkipping      *bool
	AutoSave               *bool
	TransitiveDependencies *bool
}

// Screen is one parsed screen definition.
type Screen struct {
	ID          string
	Title       string
	Group       string
	Description string

	Columns     []table.ColumnSpec
	PageSize    int
	Features    Features
	BulkActions []BulkAction
	Records     []table.Record

	Steps  []form.Step
	Wizard WizardSettings
}

// HasTable reports whether the screen defines a table.
func (s *Screen) HasTable() bool { return len(s.Columns) > 0 }

// HasWizard reports whether the screen defines a wizard.
func (s *Screen) HasWizard() bool { return len(s.Steps) > 0 }

// TableOptions overlays the screen's settings on base.
func (s *Screen) TableOptions(base table.Options) table.Options {
	if s.PageSize > 0 {
		base.PageSize = s.PageSize
	}
	f := s.Features
	overlay(&base.EnableSelection, f.Selection)
	overlay(&base.EnableSearch, f.Search)
	overlay(&base.EnableFilters, f.Filters)
	overlay(&base.EnableExport, f.Export)
	overlay(&base.EnableColumnToggle, f.ColumnToggle)
	overlay(&base.EnableInlineEdit, f.InlineEdit)
	return base
}

// WizardOptions overlays the screen's settings on base.
func (s *Screen) WizardOptions(base form.Options) form.Options {
	overlay(&base.AllowStepSkipping, s.Wizard.AllowStepSkipping)
	overlay(&base.EnableAutoSave, s.Wizard.AutoSave)
	overlay(&base.TransitiveDependencies, s.Wizard.TransitiveDependencies)
	return base
}

// CloneRecords returns a copy of the seed records safe to hand to a host
// store.
func (s *Screen) CloneRecords() []table.Record {
	out := make([]table.Record, len(s.Records))
	for i, r := range s.Records {
		fields := make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			fields[k] = v
		}
		out[i] = table.Record{ID: r.ID, Fields: fields}
	}
	return out
}

// BulkAction returns the screen's bulk action with the given id.
func (s *Screen) BulkAction(id string) (BulkAction, bool) {
	i := slices.IndexFunc(s.BulkActions, func(a BulkAction) bool { return a.ID == id })
	if i < 0 {
		return BulkAction{}, false
	}
	return s.BulkActions[i], true
}

func overlay(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// YAML documents

type screenDoc struct {
	ID          string     `yaml:"id"`
	Title       string     `yaml:"title"`
	Group       string     `yaml:"group"`
	Description string     `yaml:"description"`
	Table       *tableDoc  `yaml:"table"`
	Wizard      *wizardDoc `yaml:"wizard"`
}

type tableDoc struct {
	PageSize    int          `yaml:"pageSize"`
	Features    featuresDoc  `yaml:"features"`
	Columns     []columnDoc  `yaml:"columns"`
	BulkActions []BulkAction `yaml:"bulkActions"`
	Records     []recordDoc  `yaml:"records"`
}

type featuresDoc struct {
	Selection    *bool `yaml:"selection"`
	Search       *bool `yaml:"search"`
	Filters      *bool `yaml:"filters"`
	Export       *bool `yaml:"export"`
	ColumnToggle *bool `yaml:"columnToggle"`
	InlineEdit   *bool `yaml:"inlineEdit"`
}

type columnDoc struct {
	Key        string `yaml:"key"`
	Header     string `yaml:"header"`
	Type       string `yaml:"type"`
	Sortable   *bool  `yaml:"sortable"`
	Filterable bool   `yaml:"filterable"`
	Editable   bool   `yaml:"editable"`
	Hidden     bool   `yaml:"hidden"`
}

type recordDoc struct {
	ID     string         `yaml:"id"`
	Fields map[string]any `yaml:"fields"`
}

type wizardDoc struct {
	AllowStepSkipping      *bool     `yaml:"allowStepSkipping"`
	AutoSave               *bool     `yaml:"autoSave"`
	TransitiveDependencies *bool     `yaml:"transitiveDependencies"`
	Steps                  []stepDoc `yaml:"steps"`
}

type stepDoc struct {
	ID     string     `yaml:"id"`
	Title  string     `yaml:"title"`
	Fields []fieldDoc `yaml:"fields"`
}

type fieldDoc struct {
	Name    string `yaml:"name"`
	Label   string `yaml:"label"`
	Type    string `yaml:"type"`
	Default any    `yaml:"default"`

	Required  bool        `yaml:"required"`
	Email     bool        `yaml:"email"`
	Phone     bool        `yaml:"phone"`
	MinLength int         `yaml:"minLength"`
	MaxLength int         `yaml:"maxLength"`
	Pattern   string      `yaml:"pattern"`
	Custom    string      `yaml:"custom"`
	Messages  messagesDoc `yaml:"messages"`

	Options      []optionDoc     `yaml:"options"`
	File         *fileDoc        `yaml:"file"`
	Dependencies []dependencyDoc `yaml:"dependencies"`
}

type messagesDoc struct {
	Required  string `yaml:"required"`
	Email     string `yaml:"email"`
	Phone     string `yaml:"phone"`
	MinLength string `yaml:"minLength"`
	MaxLength string `yaml:"maxLength"`
	Pattern   string `yaml:"pattern"`
}

type optionDoc struct {
	Value string `yaml:"value"`
	Label string `yaml:"label"`
}

type fileDoc struct {
	MaxSize int64    `yaml:"maxSize"`
	Accept  []string `yaml:"accept"`
}

// dependencyDoc is either a visibility rule (visibleWhen) or a composite
// rule (any of visible, required, options).
type dependencyDoc struct {
	Target      string `yaml:"target"`
	VisibleWhen string `yaml:"visibleWhen"`
	Visible     string `yaml:"visible"`
	Required    string `yaml:"required"`
	Options     string `yaml:"options"`
}

// Parse decodes and checks one screen document. Unknown keys are errors.
func Parse(r io.Reader) (*Screen, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc screenDoc
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("schema: empty document")
		}
		return nil, fmt.Errorf("schema: decode: %w", err)
	}
	return doc.build()
}

// ParseBytes is Parse over a byte slice.
func ParseBytes(b []byte) (*Screen, error) {
	return Parse(bytes.NewReader(b))
}

// LoadFile parses the screen at path.
func LoadFile(path string) (*Screen, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// LoadDir parses every *.yaml and *.yml file in dir, sorted by name.
// Duplicate screen ids are an error.
func LoadDir(dir string) ([]*Screen, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("schema: read dir: %w", err)
	}

	var (
		screens []*Screen
		errs    []error
		seen    = make(map[string]string)
	)
	for _, e := range entries {
		if e.IsDir() || !isScreenFile(e.Name()) {
			continue
		}
		s, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, dup := seen[s.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: screen %q already defined in %s", e.Name(), s.ID, prev))
			continue
		}
		seen[s.ID] = e.Name()
		screens = append(screens, s)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return screens, nil
}

// problems collects validation messages for one document.
type problems []string

func (p *problems) add(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) err(id string) error {
	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("schema: screen %q invalid:\n  - %s", id, strings.Join(p, "\n  - "))
}

var columnTypes = map[string]table.ColumnType{
	"":         table.ColumnText,
	"text":     table.ColumnText,
	"number":   table.ColumnNumber,
	"currency": table.ColumnCurrency,
	"date":     table.ColumnDate,
	"badge":    table.ColumnBadge,
	"custom":   table.ColumnCustom,
}

var fieldTypes = map[string]form.FieldType{
	"":         form.FieldText,
	"text":     form.FieldText,
	"email":    form.FieldEmail,
	"phone":    form.FieldPhone,
	"number":   form.FieldNumber,
	"date":     form.FieldDate,
	"select":   form.FieldSelect,
	"textarea": form.FieldTextarea,
	"checkbox": form.FieldCheckbox,
	"file":     form.FieldFile,
}

func (d *screenDoc) build() (*Screen, error) {
	var p problems
	if d.ID == "" {
		p.add("id is required")
	}
	if d.Table == nil && d.Wizard == nil {
		p.add("a screen needs a table or a wizard")
	}

	s := &Screen{
		ID:          d.ID,
		Title:       d.Title,
		Group:       d.Group,
		Description: d.Description,
	}
	if s.Title == "" {
		s.Title = s.ID
	}

	if d.Table != nil {
		d.Table.build(s, &p)
	}
	if d.Wizard != nil {
		d.Wizard.build(s, &p)
	}

	if err := p.err(d.ID); err != nil {
		return nil, err
	}
	return s, nil
}

func (t *tableDoc) build(s *Screen, p *problems) {
	if len(t.Columns) == 0 {
		p.add("table: at least one column is required")
	}
	if t.PageSize < 0 {
		p.add("table: pageSize must not be negative")
	}

	kinds := make(map[string]value.Kind, len(t.Columns))
	for i, c := range t.Columns {
		if c.Key == "" {
			p.add("table: column %d has no key", i)
			continue
		}
		if _, dup := kinds[c.Key]; dup {
			p.add("table: duplicate column %q", c.Key)
			continue
		}
		ct, ok := columnTypes[strings.ToLower(c.Type)]
		if !ok {
			p.add("table: column %q has unknown type %q", c.Key, c.Type)
			continue
		}
		kinds[c.Key] = ct.Kind()
		s.Columns = append(s.Columns, table.ColumnSpec{
			Key:        c.Key,
			Header:     c.Header,
			Type:       ct,
			Unsortable: c.Sortable != nil && !*c.Sortable,
			Filterable: c.Filterable,
			Editable:   c.Editable,
			Hidden:     c.Hidden,
		})
	}

	s.PageSize = t.PageSize
	s.Features = Features{
		Selection:    t.Features.Selection,
		Search:       t.Features.Search,
		Filters:      t.Features.Filters,
		Export:       t.Features.Export,
		ColumnToggle: t.Features.ColumnToggle,
		InlineEdit:   t.Features.InlineEdit,
	}

	for _, a := range t.BulkActions {
		if a.ID == "" {
			p.add("table: bulk action without id")
			continue
		}
		if a.Label == "" {
			a.Label = a.ID
		}
		if a.Delete && len(a.Set) > 0 {
			p.add("table: bulk action %q both sets fields and deletes", a.ID)
		}
		if len(a.Set) > 0 {
			set := make(map[string]any, len(a.Set))
			for k, raw := range a.Set {
				kind, ok := kinds[k]
				if !ok {
					p.add("table: bulk action %q sets unknown column %q", a.ID, k)
					continue
				}
				set[k] = value.Coerce(raw, kind)
			}
			a.Set = set
		}
		s.BulkActions = append(s.BulkActions, a)
	}

	ids := make(map[string]bool, len(t.Records))
	for i, r := range t.Records {
		if r.ID == "" {
			p.add("table: record %d has no id", i)
			continue
		}
		if ids[r.ID] {
			p.add("table: duplicate record id %q", r.ID)
			continue
		}
		ids[r.ID] = true

		fields := make(map[string]any, len(r.Fields))
		for k, raw := range r.Fields {
			kind, ok := kinds[k]
			if !ok {
				fields[k] = value.From(raw)
				continue
			}
			v := value.Coerce(raw, kind)
			if v.IsNull() && raw != nil {
				p.add("table: record %q field %q: cannot read %v as %s", r.ID, k, raw, kind)
			}
			fields[k] = v
		}
		s.Records = append(s.Records, table.Record{ID: r.ID, Fields: fields})
	}
}

func (w *wizardDoc) build(s *Screen, p *problems) {
	if len(w.Steps) == 0 {
		p.add("wizard: at least one step is required")
	}
	s.Wizard = WizardSettings{
		AllowStepSkipping:      w.AllowStepSkipping,
		AutoSave:               w.AutoSave,
		TransitiveDependencies: w.TransitiveDependencies,
	}

	names := make(map[string]bool)
	for _, st := range w.Steps {
		for _, f := range st.Fields {
			if f.Name != "" {
				if names[f.Name] {
					p.add("wizard: duplicate field %q", f.Name)
				}
				names[f.Name] = true
			}
		}
	}

	stepIDs := make(map[string]bool, len(w.Steps))
	for i, st := range w.Steps {
		if st.ID == "" {
			st.ID = fmt.Sprintf("step-%d", i+1)
		}
		if stepIDs[st.ID] {
			p.add("wizard: duplicate step %q", st.ID)
		}
		stepIDs[st.ID] = true

		step := form.Step{ID: st.ID, Title: st.Title}
		for _, f := range st.Fields {
			if spec, ok := f.build(names, p); ok {
				step.Fields = append(step.Fields, spec)
			}
		}
		s.Steps = append(s.Steps, step)
	}
}

func (f *fieldDoc) build(names map[string]bool, p *problems) (form.FieldSpec, bool) {
	if f.Name == "" {
		p.add("wizard: field without name")
		return form.FieldSpec{}, false
	}
	ft, ok := fieldTypes[strings.ToLower(f.Type)]
	if !ok {
		p.add("field %q: unknown type %q", f.Name, f.Type)
		return form.FieldSpec{}, false
	}

	spec := form.FieldSpec{
		Name:    f.Name,
		Label:   f.Label,
		Type:    ft,
		Default: f.Default,
		Rules: form.Rules{
			Required:  f.Required,
			Email:     f.Email || ft == form.FieldEmail,
			Phone:     f.Phone || ft == form.FieldPhone,
			MinLength: f.MinLength,
			MaxLength: f.MaxLength,
			Messages: form.Messages{
				Required:  f.Messages.Required,
				Email:     f.Messages.Email,
				Phone:     f.Messages.Phone,
				MinLength: f.Messages.MinLength,
				MaxLength: f.Messages.MaxLength,
				Pattern:   f.Messages.Pattern,
			},
		},
	}
	if spec.Label == "" {
		spec.Label = f.Name
	}
	if f.MinLength < 0 || f.MaxLength < 0 {
		p.add("field %q: length limits must not be negative", f.Name)
	}
	if f.MaxLength > 0 && f.MinLength > f.MaxLength {
		p.add("field %q: minLength exceeds maxLength", f.Name)
	}

	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			p.add("field %q: pattern: %v", f.Name, err)
		} else {
			spec.Rules.Pattern = re
		}
	}
	if f.Custom != "" {
		x, err := form.CompileExpr(f.Custom)
		if err != nil {
			p.add("field %q: custom: %v", f.Name, err)
		} else {
			spec.Rules.Custom = x
		}
	}

	for _, o := range f.Options {
		if o.Label == "" {
			o.Label = o.Value
		}
		spec.Options = append(spec.Options, form.Option{Value: o.Value, Label: o.Label})
	}

	if f.File != nil {
		if ft != form.FieldFile {
			p.add("field %q: file constraints on a %s field", f.Name, ft)
		}
		spec.File = &form.FileConstraints{MaxSize: f.File.MaxSize, Accept: f.File.Accept}
	}

	for _, d := range f.Dependencies {
		if dep, ok := d.build(f.Name, names, p); ok {
			spec.Dependencies = append(spec.Dependencies, dep)
		}
	}
	return spec, true
}

func (d *dependencyDoc) build(source string, names map[string]bool, p *problems) (form.Dependency, bool) {
	if !names[d.Target] {
		p.add("field %q: dependency target %q is not a field", source, d.Target)
		return form.Dependency{}, false
	}

	composite := d.Visible != "" || d.Required != "" || d.Options != ""
	switch {
	case d.VisibleWhen != "" && composite:
		p.add("field %q: dependency on %q mixes visibleWhen with visible/required/options", source, d.Target)
		return form.Dependency{}, false
	case d.VisibleWhen != "":
		x, err := form.CompileExpr(d.VisibleWhen)
		if err != nil {
			p.add("field %q: visibleWhen: %v", source, err)
			return form.Dependency{}, false
		}
		return form.Dependency{Target: d.Target, Influence: form.Visibility{When: x}}, true
	case composite:
		var c form.Composite
		ok := true
		compile := func(name, src string) *form.Expr {
			if src == "" {
				return nil
			}
			x, err := form.CompileExpr(src)
			if err != nil {
				p.add("field %q: %s: %v", source, name, err)
				ok = false
				return nil
			}
			return x
		}
		if x := compile("visible", d.Visible); x != nil {
			c.Visible = x
		}
		if x := compile("required", d.Required); x != nil {
			c.Required = x
		}
		if x := compile("options", d.Options); x != nil {
			c.Options = x
		}
		return form.Dependency{Target: d.Target, Influence: c}, ok
	default:
		p.add("field %q: dependency on %q has no rule", source, d.Target)
		return form.Dependency{}, false
	}
}
