package web

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLog_NewestFirstAndFiltered(t *testing.T) {
	a := NewAuditLog(10)
	a.Record(AuditEntry{Action: ActionCellEdit, Screen: "orders"})
	a.Record(AuditEntry{Action: ActionExport, Screen: "invoices"})
	a.Record(AuditEntry{Action: ActionRowDelete, Screen: "orders"})

	all := a.List("", 0)
	require.Len(t, all, 3)
	assert.Equal(t, ActionRowDelete, all[0].Action)
	assert.NotEmpty(t, all[0].ID)
	assert.False(t, all[0].CreatedAt.IsZero())

	orders := a.List("orders", 0)
	require.Len(t, orders, 2)
	assert.Equal(t, ActionCellEdit, orders[1].Action)

	assert.Len(t, a.List("", 1), 1)
	assert.Empty(t, a.List("missing", 0))
}

func TestAuditLog_DropsOldest(t *testing.T) {
	a := NewAuditLog(2)
	a.Record(AuditEntry{Action: ActionRowAdd, Screen: "1"})
	a.Record(AuditEntry{Action: ActionRowAdd, Screen: "2"})
	a.Record(AuditEntry{Action: ActionRowAdd, Screen: "3"})

	got := a.List("", 0)
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].Screen)
	assert.Equal(t, "2", got[1].Screen)
}

func TestAuditLog_RecordCtxCarriesRequestMetadata(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	r.RemoteAddr = "192.0.2.7:4242"
	r.Header.Set("User-Agent", "ledger-test")

	a := NewAuditLog(0)
	e := a.RecordCtx(WithRequestMetadata(context.Background(), r), AuditEntry{Action: ActionBulk})
	assert.Equal(t, "192.0.2.7", e.IPAddress)
	assert.Equal(t, "ledger-test", e.UserAgent)

	e = a.RecordCtx(context.Background(), AuditEntry{Action: ActionBulk})
	assert.Empty(t, e.IPAddress)
}
