// Package table implements the tabular data engine: a headless view over an
// in-memory record set that searches, filters, sorts, paginates, selects,
// edits inline and exports.
//
// The engine owns only view state (search term, filters, sort, selection,
// page, column visibility). Records belong to the host; edits, deletions and
// bulk actions are proposed back to the host through [Callbacks].
package table

import (
	"context"

	"github.com/JonMunkholm/erpshell/internal/value"
)

// ColumnType is the semantic type of a column. It decides how raw record
// values are narrowed and how they compare.
type ColumnType string

const (
	ColumnText     ColumnType = "text"
	ColumnNumber   ColumnType = "number"
	ColumnCurrency ColumnType = "currency"
	ColumnDate     ColumnType = "date"
	ColumnBadge    ColumnType = "badge"
	ColumnCustom   ColumnType = "custom"
)

// Kind returns the value kind cells of this column are narrowed to.
func (t ColumnType) Kind() value.Kind {
	switch t {
	case ColumnNumber, ColumnCurrency:
		return value.KindNumber
	case ColumnDate:
		return value.KindDate
	default:
		return value.KindString
	}
}

// Numeric reports whether the column holds numbers.
func (t ColumnType) Numeric() bool {
	return t == ColumnNumber || t == ColumnCurrency
}

// ColumnSpec describes one column. The Key set of a table is the universe of
// valid filter, sort and visibility keys.
type ColumnSpec struct {
	Key        string     `json:"key"`        // Unique within the table
	Header     string     `json:"header"`     // Display label, also the export key
	Type       ColumnType `json:"type"`       // Defaults to text
	Unsortable bool       `json:"unsortable"` // Columns are sortable unless this is set
	Filterable bool       `json:"filterable"`
	Editable   bool       `json:"editable"`
	Hidden     bool       `json:"hidden"` // Hidden by default (toggleable when column toggle is enabled)
}

// Sortable reports whether SortBy accepts this column.
func (c ColumnSpec) Sortable() bool { return !c.Unsortable }

// Label returns the header, falling back to the key.
func (c ColumnSpec) Label() string {
	if c.Header == "" {
		return c.Key
	}
	return c.Header
}

func (c ColumnSpec) kind() value.Kind { return c.Type.Kind() }

// Record is one row of host data. ID must be stable and unique.
type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Get returns the raw field value.
func (r Record) Get(key string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[key]
}

// Patch is a partial record update proposed to the host.
type Patch map[string]any

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Flip returns the opposite direction.
func (d Direction) Flip() Direction {
	if d == Asc {
		return Desc
	}
	return Asc
}

// SortSpec is the active sort column and direction.
type SortSpec struct {
	Key string    `json:"key"`
	Dir Direction `json:"dir"`
}

// Callbacks are the host hooks. Any hook may be nil when the host does not
// support the corresponding intent.
type Callbacks struct {
	OnEdit       func(ctx context.Context, id string, patch Patch) error
	OnDelete     func(ctx context.Context, rec Record) error
	OnView       func(ctx context.Context, rec Record)
	OnAdd        func(ctx context.Context)
	OnRefresh    func(ctx context.Context)
	OnBulkAction func(ctx context.Context, actionID string, ids []string) error
	OnExport     func(ctx context.Context, payload Export) error
}

// EditCell identifies the cell currently in inline-edit mode.
type EditCell struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// ColumnAggregation holds aggregated values for a single numeric column.
type ColumnAggregation struct {
	Key   string   `json:"key"`
	Sum   *float64 `json:"sum"` // nil if no valid values
	Avg   *float64 `json:"avg"`
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Count int64    `json:"count"` // Count of non-null values
}

// Aggregations maps column keys to their aggregation results.
type Aggregations map[string]*ColumnAggregation

// ViewModel is the derived state a host renders from.
type ViewModel struct {
	Rows            []Record          `json:"rows"`
	Columns         []ColumnSpec      `json:"columns"` // Visible columns, declaration order
	TotalRows       int               `json:"totalRows"`
	Page            int               `json:"page"`
	PageSize        int               `json:"pageSize"`
	TotalPages      int               `json:"totalPages"`
	Search          string            `json:"search"`
	Filters         map[string]Filter `json:"filters"`
	Sort            *SortSpec         `json:"sort,omitempty"`
	Selected        []string          `json:"selected"`
	PageAllSelected bool              `json:"pageAllSelected"`
	Editing         *EditCell         `json:"editing,omitempty"`
}
