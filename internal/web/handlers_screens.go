package web

import (
	"net/http"
	"strconv"

	"github.com/JonMunkholm/erpshell/internal/schema"
	"github.com/JonMunkholm/erpshell/internal/table"
)

// ScreenSummary describes a screen for navigation.
type ScreenSummary struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Group       string              `json:"group"`
	Description string              `json:"description,omitempty"`
	Table       bool                `json:"table"`
	Wizard      bool                `json:"wizard"`
	BulkActions []schema.BulkAction `json:"bulkActions,omitempty"`
}

// ScreenDetail adds the table columns and wizard steps.
type ScreenDetail struct {
	ScreenSummary
	Columns []table.ColumnSpec `json:"columns,omitempty"`
	Steps   []StepSummary      `json:"steps,omitempty"`
}

// StepSummary lists a wizard step's fields.
type StepSummary struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Fields []string `json:"fields"`
}

func summarize(sc *schema.Screen) ScreenSummary {
	return ScreenSummary{
		ID:          sc.ID,
		Title:       sc.Title,
		Group:       sc.Group,
		Description: sc.Description,
		Table:       sc.HasTable(),
		Wizard:      sc.HasWizard(),
		BulkActions: sc.BulkActions,
	}
}

func (s *Server) handleListScreens(w http.ResponseWriter, r *http.Request) {
	all := s.screens.All()
	out := make([]ScreenSummary, len(all))
	for i, sc := range all {
		out[i] = summarize(sc)
	}
	writeJSON(w, r, out)
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	sc := screenFrom(r.Context())
	d := ScreenDetail{ScreenSummary: summarize(sc), Columns: sc.Columns}
	for _, st := range sc.Steps {
		ss := StepSummary{ID: st.ID, Title: st.Title, Fields: make([]string, len(st.Fields))}
		for i, f := range st.Fields {
			ss.Fields[i] = f.Name
		}
		d.Steps = append(d.Steps, ss)
	}
	writeJSON(w, r, d)
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		limit = 100
	}
	writeJSON(w, r, s.audit.List(r.URL.Query().Get("screen"), limit))
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, s.uploads.Status())
}
