package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/erpshell/internal/logging"
	"github.com/JonMunkholm/erpshell/internal/table"
)

var (
	errUnknownColumn     = errors.New("unknown column")
	errUnsupportedExport = errors.New("unsupported export format")
)

// respondView syncs h and writes its view model. Callbacks may have changed
// the store during the intent.
func (s *Server) respondView(w http.ResponseWriter, r *http.Request, h *tableHandle) {
	h.sync(s.store, screenFrom(r.Context()).ID, false)
	writeJSON(w, r, h.engine.View())
}

// tableIntent runs fn, counts it and answers with the view or the error.
func (s *Server) tableIntent(w http.ResponseWriter, r *http.Request, intent string, fn func(h *tableHandle) error) {
	h, _ := s.tableFor(r)
	err := fn(h)
	s.metrics.Intent("table", intent, err)
	if err != nil {
		respondError(w, r, err)
		return
	}
	s.respondView(w, r, h)
}

func (s *Server) handleTableView(w http.ResponseWriter, r *http.Request) {
	h, _ := s.tableFor(r)
	writeJSON(w, r, h.engine.View())
}

func (s *Server) handleAggregations(w http.ResponseWriter, r *http.Request) {
	h, _ := s.tableFor(r)
	writeJSON(w, r, h.engine.Aggregations())
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Term string `json:"term"`
	}
	s.tableIntent(w, r, "search", func(h *tableHandle) error {
		if !h.engine.Options().EnableSearch {
			return table.ErrFeatureDisabled
		}
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		h.engine.SetSearchTerm(req.Term)
		return nil
	})
}

func (s *Server) handleApplyFilter(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s.tableIntent(w, r, "filter", func(h *tableHandle) error {
		if !h.engine.Options().EnableFilters {
			return table.ErrFeatureDisabled
		}
		var f table.Filter
		if err := decodeJSON(w, r, &f); err != nil {
			return err
		}
		if !h.engine.ApplyFilter(key, f) {
			return fmt.Errorf("%w %q: not filterable", errUnknownColumn, key)
		}
		return nil
	})
}

func (s *Server) handleClearFilter(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s.tableIntent(w, r, "filter", func(h *tableHandle) error {
		if !h.engine.ClearFilter(key) {
			return fmt.Errorf("%w %q: not filterable", errUnknownColumn, key)
		}
		return nil
	})
}

func (s *Server) handleClearFilters(w http.ResponseWriter, r *http.Request) {
	s.tableIntent(w, r, "filter", func(h *tableHandle) error {
		h.engine.ClearFilters()
		return nil
	})
}

func (s *Server) handleSort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	s.tableIntent(w, r, "sort", func(h *tableHandle) error {
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		if !h.engine.SortBy(req.Key) {
			return fmt.Errorf("%w %q: not sortable", errUnknownColumn, req.Key)
		}
		return nil
	})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Page int `json:"page"`
	}
	s.tableIntent(w, r, "page", func(h *tableHandle) error {
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		h.engine.SetPage(req.Page)
		return nil
	})
}

func (s *Server) handleColumnVisible(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req struct {
		Visible bool `json:"visible"`
	}
	s.tableIntent(w, r, "column", func(h *tableHandle) error {
		if !h.engine.Options().EnableColumnToggle {
			return table.ErrFeatureDisabled
		}
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		if !h.engine.SetColumnVisible(key, req.Visible) {
			return fmt.Errorf("%w %q", errUnknownColumn, key)
		}
		return nil
	})
}

type selectRequest struct {
	Selected bool `json:"selected"`
}

func (s *Server) handleToggleSelect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req := selectRequest{Selected: true}
	s.tableIntent(w, r, "select", func(h *tableHandle) error {
		if !h.engine.Options().EnableSelection {
			return table.ErrFeatureDisabled
		}
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		if !h.engine.ToggleSelect(id, req.Selected) {
			return fmt.Errorf("%w: %s", table.ErrUnknownRecord, id)
		}
		return nil
	})
}

func (s *Server) handleToggleSelectPage(w http.ResponseWriter, r *http.Request) {
	req := selectRequest{Selected: true}
	s.tableIntent(w, r, "select", func(h *tableHandle) error {
		if !h.engine.Options().EnableSelection {
			return table.ErrFeatureDisabled
		}
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		h.engine.ToggleSelectAllOnPage(req.Selected)
		return nil
	})
}

func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	s.tableIntent(w, r, "select", func(h *tableHandle) error {
		h.engine.ClearSelection()
		return nil
	})
}

// BulkResponse reports the ids a bulk action covered.
type BulkResponse struct {
	Action string          `json:"action"`
	IDs    []string        `json:"ids"`
	View   table.ViewModel `json:"view"`
}

func (s *Server) handleBulkAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	h, sc := s.tableFor(r)

	ids, err := h.engine.RequestBulkAction(r.Context(), action)
	s.metrics.Intent("table", "bulk", err)
	if err != nil {
		respondError(w, r, err)
		return
	}
	h.sync(s.store, sc.ID, false)
	writeJSON(w, r, BulkResponse{Action: action, IDs: ids, View: h.engine.View()})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	h, sc := s.tableFor(r)

	exp, ok := table.ExporterFor(format)
	if !ok {
		err := fmt.Errorf("%w: %q", errUnsupportedExport, format)
		s.metrics.Intent("table", "export", err)
		respondError(w, r, err)
		return
	}

	payload, err := h.engine.RequestExport(r.Context(), format)
	s.metrics.Intent("table", "export", err)
	if err != nil {
		respondError(w, r, err)
		return
	}

	filename := fmt.Sprintf("%s_%s%s", sc.ID, time.Now().Format("2006-01-02"), exp.Extension())
	w.Header().Set("Content-Type", exp.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := exp.Write(w, payload); err != nil {
		logging.FromContext(r.Context()).Warn("export write failed", "format", format, "error", err)
	}
}

func (s *Server) handleBeginEdit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	s.tableIntent(w, r, "edit_begin", func(h *tableHandle) error {
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		return h.engine.BeginInlineEdit(req.ID, req.Key)
	})
}

func (s *Server) handleCommitEdit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value any `json:"value"`
	}
	s.tableIntent(w, r, "edit", func(h *tableHandle) error {
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		return h.engine.CommitInlineEdit(r.Context(), req.Value)
	})
}

func (s *Server) handleCancelEdit(w http.ResponseWriter, r *http.Request) {
	s.tableIntent(w, r, "edit_cancel", func(h *tableHandle) error {
		h.engine.CancelInlineEdit()
		return nil
	})
}

func (s *Server) handleViewRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h, sc := s.tableFor(r)

	err := h.engine.ViewRecord(r.Context(), id)
	s.metrics.Intent("table", "view", err)
	if err != nil {
		respondError(w, r, err)
		return
	}
	rec, err := s.store.Record(sc.ID, id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.tableIntent(w, r, "delete", func(h *tableHandle) error {
		return h.engine.Delete(r.Context(), id)
	})
}

// AddResponse tells the client where record creation continues.
type AddResponse struct {
	Wizard bool            `json:"wizard"`
	View   table.ViewModel `json:"view"`
}

func (s *Server) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	h, sc := s.tableFor(r)

	err := h.engine.Add(r.Context())
	s.metrics.Intent("table", "add", err)
	if err != nil {
		respondError(w, r, err)
		return
	}
	h.sync(s.store, sc.ID, false)
	writeJSONStatus(w, r, http.StatusCreated, AddResponse{Wizard: sc.HasWizard(), View: h.engine.View()})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.tableIntent(w, r, "refresh", func(h *tableHandle) error {
		return h.engine.Refresh(r.Context())
	})
}
