package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/erpshell/internal/form"
	"github.com/JonMunkholm/erpshell/internal/value"
)

// wizardIntent runs fn, counts it and answers with the snapshot or the error.
func (s *Server) wizardIntent(w http.ResponseWriter, r *http.Request, intent string, fn func(wz *form.Wizard) error) {
	wz, _ := s.wizardFor(r)
	err := fn(wz)
	s.metrics.Intent("wizard", intent, err)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, wz.Snapshot())
}

// knownField fails with ErrUnknownField when name is not declared.
func knownField(wz *form.Wizard, name string) error {
	if _, ok := wz.Field(name); !ok {
		return fmt.Errorf("%w: %s", form.ErrUnknownField, name)
	}
	return nil
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	wz, _ := s.wizardFor(r)
	writeJSON(w, r, wz.Snapshot())
}

func (s *Server) handleFieldOptions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "field")
	wz, _ := s.wizardFor(r)
	if err := knownField(wz, name); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, map[string]any{"field": name, "options": wz.Options(name)})
}

type valueRequest struct {
	Value any `json:"value"`
}

func (s *Server) handleSetField(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "field")
	var req valueRequest
	s.wizardIntent(w, r, "set", func(wz *form.Wizard) error {
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		return wz.SetFieldValue(name, req.Value)
	})
}

func (s *Server) handleBlur(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "field")
	s.wizardIntent(w, r, "blur", func(wz *form.Wizard) error {
		if err := knownField(wz, name); err != nil {
			return err
		}
		wz.Blur(name)
		return nil
	})
}

// FieldCheck is the outcome of validating one value without recording it.
type FieldCheck struct {
	Field string `json:"field"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleValidateField(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "field")
	wz, _ := s.wizardFor(r)
	if err := knownField(wz, name); err != nil {
		respondError(w, r, err)
		return
	}
	var req valueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	msg := wz.ValidateField(name, req.Value)
	writeJSON(w, r, FieldCheck{Field: name, Valid: msg == "", Error: msg})
}

// ValidateAllResponse reports a whole-form check.
type ValidateAllResponse struct {
	FirstInvalidStep int           `json:"firstInvalidStep"` // -1 when valid
	Snapshot         form.Snapshot `json:"snapshot"`
}

func (s *Server) handleValidateAll(w http.ResponseWriter, r *http.Request) {
	wz, _ := s.wizardFor(r)
	step := wz.ValidateAll()
	writeJSON(w, r, ValidateAllResponse{FirstInvalidStep: step, Snapshot: wz.Snapshot()})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.wizardIntent(w, r, "next", func(wz *form.Wizard) error {
		return wz.GoNext()
	})
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	s.wizardIntent(w, r, "previous", func(wz *form.Wizard) error {
		return wz.GoPrevious()
	})
}

func (s *Server) handleGoToStep(w http.ResponseWriter, r *http.Request) {
	s.wizardIntent(w, r, "goto", func(wz *form.Wizard) error {
		i, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			return fmt.Errorf("%w: %q", form.ErrStepRange, chi.URLParam(r, "index"))
		}
		return wz.GoToStep(i)
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.wizardIntent(w, r, "submit", func(wz *form.Wizard) error {
		return wz.Submit(r.Context())
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	sc := screenFrom(r.Context())
	s.wizardIntent(w, r, "reset", func(wz *form.Wizard) error {
		wz.Reset()
		s.uploads.ReleasePrefix(draftKey(sess.ID, sc.ID) + "/")
		return nil
	})
}

func (s *Server) handleBeginUpload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "field")
	sess := sessionFrom(r.Context())
	sc := screenFrom(r.Context())
	key := uploadKey(sess.ID, sc.ID, name)

	wz, _ := s.wizardFor(r)
	err := s.beginUpload(w, r, wz, name, key)
	s.metrics.Intent("wizard", "upload", err)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSONStatus(w, r, http.StatusAccepted, wz.Snapshot())
}

func (s *Server) beginUpload(w http.ResponseWriter, r *http.Request, wz *form.Wizard, name, key string) error {
	var f form.FileInfo
	if err := decodeJSON(w, r, &f); err != nil {
		return err
	}
	if f.Size > s.cfg.Upload.MaxFileSize {
		return fmt.Errorf("%w: %s exceeds the %s host limit", form.ErrUploadRejected,
			f.Name, value.FormatNumber(float64(s.cfg.Upload.MaxFileSize)))
	}
	if err := knownField(wz, name); err != nil {
		return err
	}

	fresh, err := s.uploads.Reserve(r.Context(), key)
	if err != nil {
		return err
	}
	if err := wz.BeginUpload(name, f); err != nil {
		// A rejected replacement leaves the running upload and its slot alone.
		if fresh {
			s.uploads.Release(key)
		}
		return err
	}
	return nil
}

// UploadStatus is the progress of one field's upload.
type UploadStatus struct {
	Field    string `json:"field"`
	Progress int    `json:"progress"`
	Started  bool   `json:"started"`
	Done     bool   `json:"done"`
}

func (s *Server) handleUploadProgress(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "field")
	wz, _ := s.wizardFor(r)
	if err := knownField(wz, name); err != nil {
		respondError(w, r, err)
		return
	}
	p, ok := wz.UploadProgress(name)
	writeJSON(w, r, UploadStatus{Field: name, Progress: p, Started: ok, Done: ok && p >= 100})
}

func (s *Server) handleCancelUpload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "field")
	sess := sessionFrom(r.Context())
	sc := screenFrom(r.Context())
	s.wizardIntent(w, r, "upload_cancel", func(wz *form.Wizard) error {
		if err := wz.CancelUpload(name); err != nil {
			return err
		}
		s.uploads.Release(uploadKey(sess.ID, sc.ID, name))
		return nil
	})
}

// DraftResponse carries the last autosaved values of the session's wizard.
type DraftResponse struct {
	Saved  bool                   `json:"saved"`
	Values map[string]value.Value `json:"values,omitempty"`
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	sc := screenFrom(r.Context())
	vals, ok := s.store.Draft(draftKey(sess.ID, sc.ID))
	writeJSON(w, r, DraftResponse{Saved: ok, Values: vals})
}
