package web

// store.go is the in-memory record store behind the HTTP host.
//
// Each screen's records are kept in insertion order together with a version
// that increases on every mutation. Table engines remember the version they
// were last loaded at and reload when it moves, so a change made in one
// session shows up in the others on their next request.

import (
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/erpshell/internal/table"
	"github.com/JonMunkholm/erpshell/internal/value"
)

type screenRecords struct {
	records []table.Record
	index   map[string]int
	version uint64
}

// Store holds records per screen and autosaved wizard drafts per session.
type Store struct {
	mu      sync.RWMutex
	screens map[string]*screenRecords
	drafts  map[string]map[string]value.Value

	newID func() string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		screens: make(map[string]*screenRecords),
		drafts:  make(map[string]map[string]value.Value),
		newID:   uuid.NewString,
	}
}

func (s *Store) screenLocked(screen string) *screenRecords {
	sr, ok := s.screens[screen]
	if !ok {
		sr = &screenRecords{index: make(map[string]int)}
		s.screens[screen] = sr
	}
	return sr
}

func (sr *screenRecords) reindex() {
	clear(sr.index)
	for i, r := range sr.records {
		sr.index[r.ID] = i
	}
}

// Seed replaces the records of screen.
func (s *Store) Seed(screen string, recs []table.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr := s.screenLocked(screen)
	sr.records = make([]table.Record, len(recs))
	for i, r := range recs {
		sr.records[i] = cloneRecord(r)
	}
	sr.reindex()
	sr.version++
}

// Records returns a copy of screen's records and their version.
func (s *Store) Records(screen string) ([]table.Record, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.screens[screen]
	if !ok {
		return nil, 0
	}
	out := make([]table.Record, len(sr.records))
	for i, r := range sr.records {
		out[i] = cloneRecord(r)
	}
	return out, sr.version
}

// Version returns the current version of screen's records.
func (s *Store) Version(screen string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sr, ok := s.screens[screen]; ok {
		return sr.version
	}
	return 0
}

// Record returns one record.
func (s *Store) Record(screen, id string) (table.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.screens[screen]
	if !ok {
		return table.Record{}, fmt.Errorf("%w: %s", table.ErrUnknownRecord, id)
	}
	i, ok := sr.index[id]
	if !ok {
		return table.Record{}, fmt.Errorf("%w: %s", table.ErrUnknownRecord, id)
	}
	return cloneRecord(sr.records[i]), nil
}

// Update merges patch into each of the records. Either every id exists and
// all are patched, or nothing changes.
func (s *Store) Update(screen string, patch table.Patch, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr := s.screenLocked(screen)
	for _, id := range ids {
		if _, ok := sr.index[id]; !ok {
			return fmt.Errorf("%w: %s", table.ErrUnknownRecord, id)
		}
	}
	for _, id := range ids {
		rec := &sr.records[sr.index[id]]
		fields := maps.Clone(rec.Fields)
		if fields == nil {
			fields = make(map[string]any, len(patch))
		}
		for k, v := range patch {
			fields[k] = v
		}
		rec.Fields = fields
	}
	sr.version++
	return nil
}

// Delete removes the records. Either every id exists and all are removed, or
// nothing changes.
func (s *Store) Delete(screen string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr := s.screenLocked(screen)
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := sr.index[id]; !ok {
			return fmt.Errorf("%w: %s", table.ErrUnknownRecord, id)
		}
		drop[id] = true
	}

	kept := sr.records[:0]
	for _, r := range sr.records {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	clear(sr.records[len(kept):])
	sr.records = kept
	sr.reindex()
	sr.version++
	return nil
}

// Insert appends a new record with a generated id.
func (s *Store) Insert(screen string, fields map[string]any) table.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr := s.screenLocked(screen)
	rec := table.Record{ID: s.newID(), Fields: maps.Clone(fields)}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	sr.records = append(sr.records, rec)
	sr.index[rec.ID] = len(sr.records) - 1
	sr.version++
	return cloneRecord(rec)
}

// SaveDraft stores the autosaved values under key.
func (s *Store) SaveDraft(key string, vals map[string]value.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[key] = maps.Clone(vals)
}

// Draft returns the last autosaved values under key.
func (s *Store) Draft(key string) (map[string]value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[key]
	return maps.Clone(d), ok
}

// DeleteDraft drops the draft under key.
func (s *Store) DeleteDraft(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, key)
}

func cloneRecord(r table.Record) table.Record {
	return table.Record{ID: r.ID, Fields: maps.Clone(r.Fields)}
}
