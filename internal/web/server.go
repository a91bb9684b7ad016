// Package web hosts the table and wizard engines over HTTP.
//
// Screens come from the schema registry; records live in a shared Store;
// each browser session gets its own engine instances. Every engine intent is
// a JSON endpoint that answers with the refreshed view model or snapshot.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/erpshell/internal/config"
	"github.com/JonMunkholm/erpshell/internal/form"
	"github.com/JonMunkholm/erpshell/internal/schema"
	mw "github.com/JonMunkholm/erpshell/internal/web/middleware"
)

// Server is the HTTP host for the engines.
type Server struct {
	cfg      *config.Config
	screens  *schema.Registry
	store    *Store
	audit    *AuditLog
	sessions *SessionManager
	uploads  *UploadLimiter
	metrics  *Metrics
	limiter  *mw.RateLimiter
	log      *slog.Logger
	sched    form.Scheduler

	router *chi.Mux
	server *http.Server
}

// New builds a server over the registry. Table screens without records in
// store are seeded from their definitions.
func New(cfg *config.Config, screens *schema.Registry, store *Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		screens:  screens,
		store:    store,
		audit:    NewAuditLog(DefaultAuditCapacity),
		sessions: NewSessionManager(cfg.Session.TTL, cfg.Session.CookieName),
		uploads:  NewUploadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		log:      log,
		sched:    form.SystemScheduler(),
		router:   chi.NewRouter(),
	}
	s.metrics = NewMetrics(s.sessions.Len, s.uploads.ActiveCount)
	s.sessions.OnClose = func(sess *Session) {
		if n := s.uploads.ReleasePrefix(sess.ID + "/"); n > 0 {
			s.log.Debug("released upload slots", "session_id", sess.ID, "count", n)
		}
	}

	s.seedScreens()
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Server.TrustedProxies))
	s.router.Use(mw.Logger(s.metrics.Observe))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

	// Security hardening
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		s.limiter = mw.NewRateLimiter(s.cfg.Rate.RequestsPerSecond, s.cfg.Rate.Burst)
		s.limiter.Deny = func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
			respondError(w, r, fmt.Errorf("rate limit exceeded, retry in %s", retryAfter.Round(time.Second)))
		}
		s.router.Use(s.limiter.Middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.sessions.Middleware)
		r.Use(requestMetadata)

		r.Get("/screens", s.handleListScreens)
		r.Get("/audit", s.handleAuditLog)
		r.Get("/uploads", s.handleUploadStatus)

		r.Route("/screens/{screen}", func(r chi.Router) {
			r.Use(s.screenCtx)
			r.Get("/", s.handleScreen)

			r.Route("/table", func(r chi.Router) {
				r.Use(requireTable)

				r.Get("/", s.handleTableView)
				r.Get("/aggregations", s.handleAggregations)
				r.Post("/search", s.handleSearch)

				r.Put("/filters/{key}", s.handleApplyFilter)
				r.Delete("/filters/{key}", s.handleClearFilter)
				r.Delete("/filters", s.handleClearFilters)

				r.Post("/sort", s.handleSort)
				r.Post("/page", s.handlePage)
				r.Put("/columns/{key}", s.handleColumnVisible)

				r.Put("/selection/{id}", s.handleToggleSelect)
				r.Put("/selection", s.handleToggleSelectPage)
				r.Delete("/selection", s.handleClearSelection)
				r.Post("/bulk/{action}", s.handleBulkAction)

				r.Get("/export", s.handleExport)

				r.Post("/edit", s.handleBeginEdit)
				r.Put("/edit", s.handleCommitEdit)
				r.Delete("/edit", s.handleCancelEdit)

				r.Get("/records/{id}", s.handleViewRecord)
				r.Delete("/records/{id}", s.handleDeleteRecord)
				r.Post("/records", s.handleAddRecord)
				r.Post("/refresh", s.handleRefresh)
			})

			r.Route("/wizard", func(r chi.Router) {
				r.Use(requireWizard)

				r.Get("/", s.handleSnapshot)
				r.Get("/options/{field}", s.handleFieldOptions)
				r.Put("/fields/{field}", s.handleSetField)
				r.Post("/fields/{field}/blur", s.handleBlur)
				r.Post("/fields/{field}/validate", s.handleValidateField)

				r.Post("/validate", s.handleValidateAll)
				r.Post("/next", s.handleNext)
				r.Post("/previous", s.handlePrevious)
				r.Post("/steps/{index}", s.handleGoToStep)
				r.Post("/submit", s.handleSubmit)
				r.Post("/reset", s.handleReset)

				r.Post("/uploads/{field}", s.handleBeginUpload)
				r.Get("/uploads/{field}", s.handleUploadProgress)
				r.Delete("/uploads/{field}", s.handleCancelUpload)

				r.Get("/draft", s.handleDraft)
			})
		})
	})
}

// Start begins listening for HTTP requests. Background sweepers stop when
// ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	go s.sessions.Run(ctx)
	if s.limiter != nil {
		go s.limiter.Run(ctx)
	}
	if s.cfg.Schema.Watch {
		go s.watchScreens(ctx)
	}

	s.log.Info("starting server", "addr", s.server.Addr, "screens", s.screens.Len())
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, waits for running uploads and
// closes every session.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	if drainErr := s.uploads.WaitForDrain(ctx); drainErr != nil {
		s.log.Warn("uploads still running at shutdown", "active", s.uploads.ActiveCount())
	}
	s.sessions.CloseAll()
	return err
}

// seedScreens gives every table screen without stored records its seed
// records.
func (s *Server) seedScreens() {
	for _, sc := range s.screens.All() {
		if sc.HasTable() && s.store.Version(sc.ID) == 0 {
			s.store.Seed(sc.ID, sc.CloneRecords())
		}
	}
}

func (s *Server) watchScreens(ctx context.Context) {
	dir := s.cfg.Schema.Dir
	s.log.Info("watching screen definitions", "dir", dir)
	if err := schema.Watch(ctx, dir, schema.DefaultSettle, s.reloadScreens); err != nil {
		s.log.Error("screen watcher stopped", "dir", dir, "error", err)
	}
}

// reloadScreens swaps in the definitions on disk. A broken file keeps the
// screens already served. Sessions keep the engines they built until they
// expire.
func (s *Server) reloadScreens() {
	n, err := s.screens.Reload(s.cfg.Schema.Dir)
	if err != nil {
		s.log.Warn("screen reload failed, keeping previous screens", "error", err)
		return
	}
	s.seedScreens()
	s.log.Info("screens reloaded", "count", n)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Audit returns the server's audit log.
func (s *Server) Audit() *AuditLog {
	return s.audit
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, map[string]any{
		"status":   "ok",
		"screens":  s.screens.Len(),
		"sessions": s.sessions.Len(),
	})
}

type screenKey struct{}

// screenCtx resolves {screen} against the registry.
func (s *Server) screenCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, err := s.screens.Get(chi.URLParam(r, "screen"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), screenKey{}, sc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func screenFrom(ctx context.Context) *schema.Screen {
	sc, _ := ctx.Value(screenKey{}).(*schema.Screen)
	return sc
}

func requireTable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sc := screenFrom(r.Context()); !sc.HasTable() {
			respondError(w, r, fmt.Errorf("%w: %q has no table", schema.ErrNotFound, sc.ID))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireWizard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sc := screenFrom(r.Context()); !sc.HasWizard() {
			respondError(w, r, fmt.Errorf("%w: %q has no wizard", schema.ErrNotFound, sc.ID))
			return
		}
		next.ServeHTTP(w, r)
	})
}
