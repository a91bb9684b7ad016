package table

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/JonMunkholm/erpshell/internal/value"
)

// DefaultPageSize is the page size used when Options.PageSize is not positive.
const DefaultPageSize = 10

var (
	ErrFeatureDisabled = errors.New("table: feature disabled")
	ErrNoSelection     = errors.New("table: no rows selected")
	ErrNotEditing      = errors.New("table: no cell in edit mode")
	ErrUnknownRecord   = errors.New("table: unknown record")
	ErrNotEditable     = errors.New("table: column is not editable")
	ErrNoHandler       = errors.New("table: host callback not set")
)

// Options is the per-instance configuration surface. Disabled features turn
// their intents into no-ops (or ErrFeatureDisabled where an error is returned).
type Options struct {
	PageSize           int
	EnableSelection    bool
	EnableSearch       bool
	EnableFilters      bool
	EnableExport       bool
	EnableColumnToggle bool
	EnableInlineEdit   bool
	Logger             *slog.Logger
}

// DefaultOptions enables every feature with the default page size.
func DefaultOptions() Options {
	return Options{
		PageSize:           DefaultPageSize,
		EnableSelection:    true,
		EnableSearch:       true,
		EnableFilters:      true,
		EnableExport:       true,
		EnableColumnToggle: true,
		EnableInlineEdit:   true,
	}
}

// Engine is a headless table over a host-owned record set.
//
// All methods are safe for concurrent use. Host callbacks are invoked without
// the engine lock held, so a callback may call back into the engine (for
// example SetRecords after persisting an edit).
type Engine struct {
	mu   sync.Mutex
	opts Options
	cb   Callbacks
	log  *slog.Logger

	columns []ColumnSpec
	colIdx  map[string]int

	records []Record
	cells   [][]value.Value // records narrowed per column, parallel to records
	byID    map[string]int

	search   string
	filters  map[string]Filter
	sort     *SortSpec
	selected map[string]struct{}
	page     int
	visible  map[string]bool
	editing  *EditCell

	order []int // filtered+sorted indexes into records
}

// New builds an engine. The column set is fixed for the lifetime of the
// engine; records may be replaced with SetRecords.
func New(columns []ColumnSpec, records []Record, opts Options, cb Callbacks) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	e := &Engine{
		opts:     opts,
		cb:       cb,
		log:      log,
		columns:  slices.Clone(columns),
		colIdx:   make(map[string]int, len(columns)),
		filters:  make(map[string]Filter),
		selected: make(map[string]struct{}),
		visible:  make(map[string]bool, len(columns)),
		page:     1,
	}
	for i, c := range e.columns {
		e.colIdx[c.Key] = i
		e.visible[c.Key] = !c.Hidden
	}
	e.load(records)
	e.recompute()
	return e
}

// Columns returns every declared column, visible or not.
func (e *Engine) Columns() []ColumnSpec {
	return slices.Clone(e.columns)
}

// Options returns the engine configuration.
func (e *Engine) Options() Options {
	return e.opts
}

func (e *Engine) load(records []Record) {
	e.records = slices.Clone(records)
	e.cells = make([][]value.Value, len(records))
	e.byID = make(map[string]int, len(records))
	for i, r := range e.records {
		e.cells[i] = cellsOf(r, e.columns)
		e.byID[r.ID] = i
	}
}

// recompute rebuilds the filtered+sorted order and clamps the page.
// Caller holds mu.
func (e *Engine) recompute() {
	pred := NewPredicate(e.columns, Query{
		Search:  e.search,
		Filters: e.filters,
		Visible: e.visible,
	})

	order := make([]int, 0, len(e.records))
	for i := range e.records {
		if pred.keepCells(e.cells[i]) {
			order = append(order, i)
		}
	}

	if e.sort != nil {
		ci := e.colIdx[e.sort.Key]
		typ := e.columns[ci].Type
		dir := e.sort.Dir
		slices.SortStableFunc(order, func(a, b int) int {
			return compareCells(e.cells[a][ci], e.cells[b][ci], typ, dir)
		})
	}

	e.order = order
	e.page = clampPage(e.page, len(order), e.opts.PageSize)
}

func totalPages(rows, pageSize int) int {
	pages := (rows + pageSize - 1) / pageSize
	if pages < 1 {
		pages = 1
	}
	return pages
}

func clampPage(page, rows, pageSize int) int {
	if page < 1 {
		page = 1
	}
	if last := totalPages(rows, pageSize); page > last {
		page = last
	}
	return page
}

// pageBounds returns the [lo, hi) slice of order shown on the current page.
func (e *Engine) pageBounds() (int, int) {
	lo := (e.page - 1) * e.opts.PageSize
	hi := min(lo+e.opts.PageSize, len(e.order))
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

// SetSearchTerm replaces the search term. The page is clamped afterwards.
func (e *Engine) SetSearchTerm(term string) {
	if !e.opts.EnableSearch {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.search = term
	e.recompute()
}

// ApplyFilter stores f for the column. An empty filter (or the "all" literal)
// clears it. Unknown or non-filterable columns are ignored; the return value
// reports whether the filter state changed.
func (e *Engine) ApplyFilter(key string, f Filter) bool {
	if !e.opts.EnableFilters {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ci, ok := e.colIdx[key]
	if !ok || !e.columns[ci].Filterable {
		return false
	}
	if f.IsEmpty() {
		delete(e.filters, key)
	} else {
		e.filters[key] = f
	}
	e.recompute()
	return true
}

// ClearFilter removes the column's filter.
func (e *Engine) ClearFilter(key string) bool {
	return e.ApplyFilter(key, Filter{})
}

// ClearFilters removes every column filter.
func (e *Engine) ClearFilters() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.filters)
	e.recompute()
}

// SortBy sorts by key ascending, or flips the direction when key is already
// the sort column. Unknown and unsortable columns are ignored.
func (e *Engine) SortBy(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ci, ok := e.colIdx[key]
	if !ok || !e.columns[ci].Sortable() {
		return false
	}
	if e.sort != nil && e.sort.Key == key {
		e.sort = &SortSpec{Key: key, Dir: e.sort.Dir.Flip()}
	} else {
		e.sort = &SortSpec{Key: key, Dir: Asc}
	}
	e.recompute()
	return true
}

// SetPage moves to page p, clamped to the valid range. Returns the new page.
func (e *Engine) SetPage(p int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.page = clampPage(p, len(e.order), e.opts.PageSize)
	return e.page
}

// SetColumnVisible shows or hides a column. Search and export follow the
// visible set.
func (e *Engine) SetColumnVisible(key string, visible bool) bool {
	if !e.opts.EnableColumnToggle {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.colIdx[key]; !ok {
		return false
	}
	e.visible[key] = visible
	e.recompute()
	return true
}

// ToggleSelect adds or removes one id. Ids outside the record set are ignored.
func (e *Engine) ToggleSelect(id string, included bool) bool {
	if !e.opts.EnableSelection {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.byID[id]; !ok {
		return false
	}
	if included {
		e.selected[id] = struct{}{}
	} else {
		delete(e.selected, id)
	}
	return true
}

// ToggleSelectAllOnPage adds or removes exactly the ids on the current page.
// Selections on other pages are untouched.
func (e *Engine) ToggleSelectAllOnPage(included bool) {
	if !e.opts.EnableSelection {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	lo, hi := e.pageBounds()
	for _, ri := range e.order[lo:hi] {
		id := e.records[ri].ID
		if included {
			e.selected[id] = struct{}{}
		} else {
			delete(e.selected, id)
		}
	}
}

// ClearSelection empties the selection set.
func (e *Engine) ClearSelection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.selected)
}

// SetRecords replaces the record set. Selected ids and the edit cell that no
// longer exist are dropped; view state is otherwise kept.
func (e *Engine) SetRecords(records []Record) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.load(records)
	for id := range e.selected {
		if _, ok := e.byID[id]; !ok {
			delete(e.selected, id)
		}
	}
	if e.editing != nil {
		if _, ok := e.byID[e.editing.ID]; !ok {
			e.editing = nil
		}
	}
	e.recompute()
}

// orderedSelection lists selected ids in filtered+sorted order, followed by
// selected ids hidden by the current filters in ascending order.
// Caller holds mu.
func (e *Engine) orderedSelection() []string {
	ids := make([]string, 0, len(e.selected))
	seen := make(map[string]struct{}, len(e.selected))
	for _, ri := range e.order {
		id := e.records[ri].ID
		if _, ok := e.selected[id]; ok {
			ids = append(ids, id)
			seen[id] = struct{}{}
		}
	}

	var stale []string
	for id := range e.selected {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	slices.SortFunc(stale, cmp.Compare[string])
	return append(ids, stale...)
}

// RequestBulkAction emits the selected ids to OnBulkAction and clears the
// emitted ids from the selection once the host accepts. On host failure the
// selection is kept.
func (e *Engine) RequestBulkAction(ctx context.Context, actionID string) ([]string, error) {
	if !e.opts.EnableSelection {
		return nil, ErrFeatureDisabled
	}
	if e.cb.OnBulkAction == nil {
		return nil, ErrNoHandler
	}

	e.mu.Lock()
	ids := e.orderedSelection()
	e.mu.Unlock()

	if len(ids) == 0 {
		return nil, ErrNoSelection
	}

	if err := e.cb.OnBulkAction(ctx, actionID, ids); err != nil {
		e.log.Warn("bulk action failed", "action", actionID, "count", len(ids), "error", err)
		return ids, fmt.Errorf("bulk action %s: %w", actionID, err)
	}

	e.mu.Lock()
	for _, id := range ids {
		delete(e.selected, id)
	}
	e.mu.Unlock()

	e.log.Debug("bulk action dispatched", "action", actionID, "count", len(ids))
	return ids, nil
}

// buildExport projects the full filtered+sorted set onto the visible columns.
// Caller holds mu.
func (e *Engine) buildExport(format string) Export {
	cols := e.visibleColumnIdx()
	out := Export{
		Format:  format,
		Headers: make([]string, len(cols)),
		Rows:    make([]map[string]value.Value, 0, len(e.order)),
	}
	for i, ci := range cols {
		out.Headers[i] = e.columns[ci].Label()
	}
	for _, ri := range e.order {
		row := make(map[string]value.Value, len(cols))
		for i, ci := range cols {
			row[out.Headers[i]] = e.cells[ri][ci]
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// RequestExport returns the export payload for format and hands it to
// OnExport when the host registered one. Pagination does not apply.
func (e *Engine) RequestExport(ctx context.Context, format string) (Export, error) {
	if !e.opts.EnableExport {
		return Export{}, ErrFeatureDisabled
	}

	e.mu.Lock()
	out := e.buildExport(format)
	e.mu.Unlock()

	if e.cb.OnExport != nil {
		if err := e.cb.OnExport(ctx, out); err != nil {
			return out, fmt.Errorf("export %s: %w", format, err)
		}
	}
	return out, nil
}

// BeginInlineEdit puts one cell in edit mode, replacing any cell already
// being edited.
func (e *Engine) BeginInlineEdit(id, key string) error {
	if !e.opts.EnableInlineEdit {
		return ErrFeatureDisabled
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecord, id)
	}
	ci, ok := e.colIdx[key]
	if !ok || !e.columns[ci].Editable {
		return fmt.Errorf("%w: %s", ErrNotEditable, key)
	}
	e.editing = &EditCell{ID: id, Key: key}
	return nil
}

// CommitInlineEdit proposes {key: v} for the edited record to OnEdit and
// leaves edit mode, whether or not the host accepts the patch.
func (e *Engine) CommitInlineEdit(ctx context.Context, v any) error {
	e.mu.Lock()
	cell := e.editing
	e.editing = nil
	e.mu.Unlock()

	if cell == nil {
		return ErrNotEditing
	}
	if e.cb.OnEdit == nil {
		return ErrNoHandler
	}
	if err := e.cb.OnEdit(ctx, cell.ID, Patch{cell.Key: v}); err != nil {
		e.log.Warn("inline edit rejected", "id", cell.ID, "column", cell.Key, "error", err)
		return fmt.Errorf("edit %s.%s: %w", cell.ID, cell.Key, err)
	}
	return nil
}

// CancelInlineEdit leaves edit mode without emitting anything.
func (e *Engine) CancelInlineEdit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.editing = nil
}

func (e *Engine) record(id string) (Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ri, ok := e.byID[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownRecord, id)
	}
	return e.records[ri], nil
}

// ViewRecord hands the record to OnView.
func (e *Engine) ViewRecord(ctx context.Context, id string) error {
	rec, err := e.record(id)
	if err != nil {
		return err
	}
	if e.cb.OnView == nil {
		return ErrNoHandler
	}
	e.cb.OnView(ctx, rec)
	return nil
}

// Delete asks the host to delete the record.
func (e *Engine) Delete(ctx context.Context, id string) error {
	rec, err := e.record(id)
	if err != nil {
		return err
	}
	if e.cb.OnDelete == nil {
		return ErrNoHandler
	}
	if err := e.cb.OnDelete(ctx, rec); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// Add signals the host to start creating a record.
func (e *Engine) Add(ctx context.Context) error {
	if e.cb.OnAdd == nil {
		return ErrNoHandler
	}
	e.cb.OnAdd(ctx)
	return nil
}

// Refresh asks the host to reload records.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.cb.OnRefresh == nil {
		return ErrNoHandler
	}
	e.cb.OnRefresh(ctx)
	return nil
}

// visibleColumnIdx returns indexes of visible columns in declaration order.
// Caller holds mu.
func (e *Engine) visibleColumnIdx() []int {
	idx := make([]int, 0, len(e.columns))
	for i, c := range e.columns {
		if e.visible[c.Key] {
			idx = append(idx, i)
		}
	}
	return idx
}

// View returns the derived view model for the current page.
func (e *Engine) View() ViewModel {
	e.mu.Lock()
	defer e.mu.Unlock()

	lo, hi := e.pageBounds()
	rows := make([]Record, 0, hi-lo)
	allSelected := hi > lo
	for _, ri := range e.order[lo:hi] {
		rec := e.records[ri]
		rows = append(rows, rec)
		if _, ok := e.selected[rec.ID]; !ok {
			allSelected = false
		}
	}

	cols := make([]ColumnSpec, 0, len(e.columns))
	for _, ci := range e.visibleColumnIdx() {
		cols = append(cols, e.columns[ci])
	}

	filters := make(map[string]Filter, len(e.filters))
	for k, f := range e.filters {
		filters[k] = f
	}

	vm := ViewModel{
		Rows:            rows,
		Columns:         cols,
		TotalRows:       len(e.order),
		Page:            e.page,
		PageSize:        e.opts.PageSize,
		TotalPages:      totalPages(len(e.order), e.opts.PageSize),
		Search:          e.search,
		Filters:         filters,
		Selected:        e.orderedSelection(),
		PageAllSelected: allSelected,
	}
	if e.sort != nil {
		s := *e.sort
		vm.Sort = &s
	}
	if e.editing != nil {
		c := *e.editing
		vm.Editing = &c
	}
	return vm
}

// Aggregations computes sum, average, min and max of every numeric column
// over the filtered set. Hidden columns are included.
func (e *Engine) Aggregations() Aggregations {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make(Aggregations)
	for ci, c := range e.columns {
		if !c.Type.Numeric() {
			continue
		}
		agg := &ColumnAggregation{Key: c.Key}
		var sum, lo, hi float64
		for _, ri := range e.order {
			n, ok := e.cells[ri][ci].Number()
			if !ok {
				continue
			}
			if agg.Count == 0 {
				lo, hi = n, n
			}
			lo, hi = min(lo, n), max(hi, n)
			sum += n
			agg.Count++
		}
		if agg.Count > 0 {
			avg := sum / float64(agg.Count)
			agg.Sum, agg.Avg, agg.Min, agg.Max = &sum, &avg, &lo, &hi
		}
		result[c.Key] = agg
	}
	return result
}
