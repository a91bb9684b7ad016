package web

// sessions.go keeps one set of engines per browser session.
//
// Engines are stateful (filters, selection, wizard progress), so every
// client gets its own instances keyed by a cookie. Records live in the
// shared Store; each table handle remembers the store version it last
// loaded and reloads when another session changed the data.

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/erpshell/internal/form"
	"github.com/JonMunkholm/erpshell/internal/logging"
	"github.com/JonMunkholm/erpshell/internal/table"
)

// tableHandle is one session's table engine for one screen.
type tableHandle struct {
	engine *table.Engine

	mu      sync.Mutex
	version uint64
}

// sync reloads the engine when the store moved past the loaded version.
// force reloads regardless.
func (h *tableHandle) sync(store *Store, screen string, force bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !force && store.Version(screen) == h.version {
		return
	}
	recs, ver := store.Records(screen)
	h.engine.SetRecords(recs)
	h.version = ver
}

// Session holds the engines of one client.
type Session struct {
	ID string

	mu       sync.Mutex
	tables   map[string]*tableHandle
	wizards  map[string]*form.Wizard
	lastSeen time.Time
	closed   bool
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:       id,
		tables:   make(map[string]*tableHandle),
		wizards:  make(map[string]*form.Wizard),
		lastSeen: now,
	}
}

// table returns the screen's table handle, building it on first use.
func (s *Session) table(screen string, build func() *tableHandle) *tableHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.tables[screen]
	if !ok {
		h = build()
		s.tables[screen] = h
	}
	return h
}

// wizard returns the screen's wizard, building it on first use.
func (s *Session) wizard(screen string, build func() *form.Wizard) *form.Wizard {
	s.mu.Lock()
	defer s.mu.Unlock()
	wz, ok := s.wizards[screen]
	if !ok {
		wz = build()
		if s.closed {
			// Requests racing an expiry get a wizard that answers ErrDisposed.
			wz.Dispose()
			return wz
		}
		s.wizards[screen] = wz
	}
	return wz
}

// existingWizard returns the screen's wizard if one was built.
func (s *Session) existingWizard(screen string) (*form.Wizard, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wz, ok := s.wizards[screen]
	return wz, ok
}

func (s *Session) close() {
	s.mu.Lock()
	wizards := s.wizards
	s.wizards = map[string]*form.Wizard{}
	s.tables = map[string]*tableHandle{}
	s.closed = true
	s.mu.Unlock()

	for _, wz := range wizards {
		wz.Dispose()
	}
}

// SessionManager creates, finds and expires sessions.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	cookie   string

	// OnClose runs after a session's wizards are disposed.
	OnClose func(s *Session)

	now   func() time.Time
	newID func() string
}

// NewSessionManager expires sessions idle for longer than ttl.
func NewSessionManager(ttl time.Duration, cookie string) *SessionManager {
	if cookie == "" {
		cookie = "erpshell_session"
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		cookie:   cookie,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Get returns the live session with id, touching it.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	now := m.now()
	if now.Sub(s.lastSeen) > m.ttl {
		return nil, false
	}
	s.lastSeen = now
	return s, true
}

// Create starts a new session.
func (m *SessionManager) Create() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := newSession(m.newID(), m.now())
	m.sessions[s.ID] = s
	return s
}

// Len returns the number of sessions, expired ones included until swept.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the TTL and returns how many.
func (m *SessionManager) Sweep() int {
	m.mu.Lock()
	now := m.now()
	var expired []*Session
	for id, s := range m.sessions {
		if now.Sub(s.lastSeen) > m.ttl {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.closeSession(s)
	}
	return len(expired)
}

// CloseAll closes every session.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	clear(m.sessions)
	m.mu.Unlock()

	for _, s := range all {
		m.closeSession(s)
	}
}

func (m *SessionManager) closeSession(s *Session) {
	s.close()
	if m.OnClose != nil {
		m.OnClose(s)
	}
}

// Run sweeps expired sessions until ctx is done.
func (m *SessionManager) Run(ctx context.Context) {
	interval := min(max(m.ttl/4, time.Second), time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				logging.FromContext(ctx).Debug("sessions expired", "count", n)
			}
		}
	}
}

type sessionKey struct{}

// sessionFrom returns the request's session. Middleware guarantees one.
func sessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}

// Middleware attaches a session to the request, issuing a cookie for new
// clients and for clients whose session expired.
func (m *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sess *Session
		if c, err := r.Cookie(m.cookie); err == nil {
			sess, _ = m.Get(c.Value)
		}
		if sess == nil {
			sess = m.Create()
			http.SetCookie(w, &http.Cookie{
				Name:     m.cookie,
				Value:    sess.ID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, sess)
		ctx = logging.WithSession(ctx, sess.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
