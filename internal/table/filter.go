package table

// filter.go builds the keep/drop predicate for a record.
//
// A record is kept iff it passes the search term AND every active column
// filter:
//   - Search: case-folded substring match against the display form of any
//     visible column (OR across columns). An empty term matches everything.
//   - Filters: categorical (exact match or set membership) or range (inclusive
//     bounds, either bound optional), combined with AND across columns.
//
// Null cells never match a search term or a filter.

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/JonMunkholm/erpshell/internal/value"
)

// FilterKind distinguishes the two filter shapes.
type FilterKind string

const (
	FilterCategorical FilterKind = "categorical"
	FilterRange       FilterKind = "range"
)

// AllValues is the categorical literal meaning "no filter".
const AllValues = "all"

// Filter is a structured column filter. Values holds the categorical
// literals (one literal = exact match, several = membership). From and To are
// the inclusive range bounds; nil leaves that side unconstrained.
type Filter struct {
	Kind   FilterKind `json:"kind"`
	Values []any      `json:"values,omitempty"`
	From   any        `json:"from,omitempty"`
	To     any        `json:"to,omitempty"`
}

// Equals builds an exact-match categorical filter.
func Equals(v any) Filter {
	return Filter{Kind: FilterCategorical, Values: []any{v}}
}

// OneOf builds a set-membership categorical filter.
func OneOf(vs ...any) Filter {
	return Filter{Kind: FilterCategorical, Values: vs}
}

// Between builds an inclusive range filter. Pass nil for an open bound.
func Between(from, to any) Filter {
	return Filter{Kind: FilterRange, From: from, To: to}
}

// IsEmpty reports whether applying f would clear the column's filter:
// no literals, the "all" literal, or a range with both bounds open.
func (f Filter) IsEmpty() bool {
	switch f.Kind {
	case FilterRange:
		return isBlank(f.From) && isBlank(f.To)
	default:
		for _, v := range f.Values {
			if s, ok := v.(string); ok && strings.EqualFold(s, AllValues) {
				return true
			}
			if !isBlank(v) {
				return false
			}
		}
		return true
	}
}

func isBlank(x any) bool {
	if x == nil {
		return true
	}
	if s, ok := x.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// columnFilter is a Filter compiled against its column's declared type.
type columnFilter struct {
	col      int
	typ      ColumnType
	kind     FilterKind
	literals []value.Value
	from, to value.Value
}

func compileFilter(col int, spec ColumnSpec, f Filter) columnFilter {
	cf := columnFilter{col: col, typ: spec.Type, kind: f.Kind}
	k := spec.kind()
	if f.Kind == FilterRange {
		cf.from = value.Coerce(f.From, k)
		cf.to = value.Coerce(f.To, k)
		return cf
	}
	cf.kind = FilterCategorical
	for _, lit := range f.Values {
		if isBlank(lit) {
			continue
		}
		cf.literals = append(cf.literals, value.Coerce(lit, k))
	}
	return cf
}

func (cf columnFilter) match(v value.Value) bool {
	if v.IsNull() {
		return false
	}

	if cf.kind == FilterRange {
		if !cf.from.IsNull() && compareValues(v, cf.from, cf.typ) < 0 {
			return false
		}
		if !cf.to.IsNull() && compareValues(v, cf.to, cf.typ) > 0 {
			return false
		}
		return true
	}

	for _, lit := range cf.literals {
		if !lit.IsNull() && compareValues(v, lit, cf.typ) == 0 && v.String() == lit.String() {
			return true
		}
	}
	return false
}

// Query is the view state the predicate is built from.
type Query struct {
	Search  string
	Filters map[string]Filter
	Visible map[string]bool // nil: every column not declared Hidden
}

// Predicate is a compiled search + filter conjunction.
type Predicate struct {
	columns    []ColumnSpec
	searchCols []int
	term       string
	filters    []columnFilter
}

// NewPredicate compiles q against columns. Filters on unknown keys and empty
// filters are ignored.
func NewPredicate(columns []ColumnSpec, q Query) Predicate {
	p := Predicate{columns: columns, term: fold(q.Search)}

	for i, c := range columns {
		visible := !c.Hidden
		if q.Visible != nil {
			visible = q.Visible[c.Key]
		}
		if visible {
			p.searchCols = append(p.searchCols, i)
		}

		if f, ok := q.Filters[c.Key]; ok && !f.IsEmpty() {
			p.filters = append(p.filters, compileFilter(i, c, f))
		}
	}
	return p
}

// Keep reports whether rec passes the predicate.
func (p Predicate) Keep(rec Record) bool {
	return p.keepCells(cellsOf(rec, p.columns))
}

// keepCells evaluates the predicate over cells already narrowed per column.
func (p Predicate) keepCells(cells []value.Value) bool {
	if p.term != "" {
		found := false
		for _, i := range p.searchCols {
			if strings.Contains(fold(cells[i].String()), p.term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, f := range p.filters {
		if !f.match(cells[f.col]) {
			return false
		}
	}
	return true
}

// Keep is the one-shot form of NewPredicate(columns, q).Keep(rec).
func Keep(rec Record, columns []ColumnSpec, q Query) bool {
	return NewPredicate(columns, q).Keep(rec)
}

// cellsOf narrows each column's raw value to the column's declared kind.
func cellsOf(rec Record, columns []ColumnSpec) []value.Value {
	cells := make([]value.Value, len(columns))
	for i, c := range columns {
		cells[i] = value.Coerce(rec.Get(c.Key), c.kind())
	}
	return cells
}

// fold applies locale-insensitive Unicode case folding over the NFC form, so
// composed and decomposed accents compare equal.
func fold(s string) string {
	if s == "" {
		return ""
	}
	return cases.Fold().String(norm.NFC.String(s))
}
