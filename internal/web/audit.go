package web

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditAction is the kind of change an audit entry records.
type AuditAction string

const (
	ActionCellEdit   AuditAction = "cell_edit"
	ActionRowDelete  AuditAction = "row_delete"
	ActionRowAdd     AuditAction = "row_add"
	ActionBulk       AuditAction = "bulk_action"
	ActionExport     AuditAction = "export"
	ActionAutosave   AuditAction = "autosave"
	ActionFormSubmit AuditAction = "form_submit"
)

// AuditEntry is one recorded host action.
type AuditEntry struct {
	ID        string         `json:"id"`
	Action    AuditAction    `json:"action"`
	Screen    string         `json:"screen"`
	SessionID string         `json:"sessionId,omitempty"`
	IPAddress string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	RecordIDs []string       `json:"recordIds,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// DefaultAuditCapacity is how many entries the log keeps.
const DefaultAuditCapacity = 1000

// AuditLog is a bounded in-memory log; the oldest entries are dropped first.
type AuditLog struct {
	mu      sync.RWMutex
	entries []AuditEntry
	limit   int
	now     func() time.Time
}

// NewAuditLog keeps at most capacity entries.
func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &AuditLog{limit: capacity, now: time.Now}
}

// Record appends e, filling ID and CreatedAt.
func (a *AuditLog) Record(e AuditEntry) AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	e.ID = uuid.NewString()
	e.CreatedAt = a.now()
	a.entries = append(a.entries, e)
	if over := len(a.entries) - a.limit; over > 0 {
		a.entries = append(a.entries[:0:0], a.entries[over:]...)
	}
	return e
}

// RecordCtx is Record with the request metadata carried by ctx.
func (a *AuditLog) RecordCtx(ctx context.Context, e AuditEntry) AuditEntry {
	m := requestMetaFrom(ctx)
	e.IPAddress = m.IP
	e.UserAgent = m.UserAgent
	return a.Record(e)
}

// List returns up to limit entries, newest first. An empty screen matches
// every screen; limit <= 0 means no limit.
func (a *AuditLog) List(screen string, limit int) []AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := []AuditEntry{}
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if screen != "" && e.Screen != screen {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
