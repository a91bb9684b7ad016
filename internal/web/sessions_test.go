package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/erpshell/internal/form"
	"github.com/JonMunkholm/erpshell/internal/logging"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestSessions(ttl time.Duration) (*SessionManager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	m := NewSessionManager(ttl, "sid")
	m.now = clock.now
	return m, clock
}

func oneFieldWizard() *form.Wizard {
	return form.New([]form.Step{{ID: "s", Fields: []form.FieldSpec{{Name: "name"}}}}, form.Options{}, form.Callbacks{})
}

func TestSessionManager_GetTouches(t *testing.T) {
	m, clock := newTestSessions(time.Minute)
	s := m.Create()

	clock.t = clock.t.Add(50 * time.Second)
	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	// Touched at +50s, so +100s is still within the TTL.
	clock.t = clock.t.Add(50 * time.Second)
	_, ok = m.Get(s.ID)
	assert.True(t, ok)

	clock.t = clock.t.Add(61 * time.Second)
	_, ok = m.Get(s.ID)
	assert.False(t, ok)
}

func TestSessionManager_SweepDisposesEngines(t *testing.T) {
	m, clock := newTestSessions(time.Minute)
	var closed []string
	m.OnClose = func(s *Session) { closed = append(closed, s.ID) }

	old := m.Create()
	wz := old.wizard("signup", oneFieldWizard)

	clock.t = clock.t.Add(45 * time.Second)
	fresh := m.Create()

	clock.t = clock.t.Add(30 * time.Second)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, []string{old.ID}, closed)
	assert.Equal(t, 1, m.Len())

	assert.ErrorIs(t, wz.SetFieldValue("name", "x"), form.ErrDisposed)
	_, ok := m.Get(fresh.ID)
	assert.True(t, ok)

	late := old.wizard("signup", oneFieldWizard)
	assert.ErrorIs(t, late.SetFieldValue("name", "x"), form.ErrDisposed)
}

func TestSessionManager_CloseAll(t *testing.T) {
	m, _ := newTestSessions(time.Minute)
	n := 0
	m.OnClose = func(*Session) { n++ }
	m.Create()
	m.Create()

	m.CloseAll()
	assert.Equal(t, 2, n)
	assert.Zero(t, m.Len())
}

func TestSessionManager_Middleware(t *testing.T) {
	m, clock := newTestSessions(time.Minute)

	var seen []string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r.Context())
		require.NotNil(t, s)
		assert.Equal(t, s.ID, logging.SessionID(r.Context()))
		seen = append(seen, s.ID)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Result().Cookies(), "known session keeps its cookie")

	clock.t = clock.t.Add(2 * time.Minute)
	req = httptest.NewRequest("GET", "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Len(t, rec.Result().Cookies(), 1, "expired session is replaced")

	require.Len(t, seen, 3)
	assert.Equal(t, seen[0], seen[1])
	assert.NotEqual(t, seen[1], seen[2])
}
