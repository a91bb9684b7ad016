package web

// engines.go builds per-session engines and binds their host callbacks to
// the store, the audit log and the upload limiter.

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"

	"github.com/google/uuid"

	"github.com/JonMunkholm/erpshell/internal/form"
	"github.com/JonMunkholm/erpshell/internal/logging"
	"github.com/JonMunkholm/erpshell/internal/schema"
	"github.com/JonMunkholm/erpshell/internal/table"
	"github.com/JonMunkholm/erpshell/internal/value"
)

var errUnknownBulkAction = errors.New("unknown bulk action")

func draftKey(sessionID, screen string) string { return sessionID + "/" + screen }

func uploadKey(sessionID, screen, field string) string {
	return sessionID + "/" + screen + "/" + field
}

// tableFor returns the request session's synced table handle for the screen.
func (s *Server) tableFor(r *http.Request) (*tableHandle, *schema.Screen) {
	sess := sessionFrom(r.Context())
	sc := screenFrom(r.Context())
	h := sess.table(sc.ID, func() *tableHandle { return s.newTable(sess, sc) })
	h.sync(s.store, sc.ID, false)
	return h, sc
}

// wizardFor returns the request session's wizard for the screen.
func (s *Server) wizardFor(r *http.Request) (*form.Wizard, *schema.Screen) {
	sess := sessionFrom(r.Context())
	sc := screenFrom(r.Context())
	return s.wizard(sess, sc), sc
}

func (s *Server) wizard(sess *Session, sc *schema.Screen) *form.Wizard {
	return sess.wizard(sc.ID, func() *form.Wizard { return s.newWizard(sess, sc) })
}

func (s *Server) newTable(sess *Session, sc *schema.Screen) *tableHandle {
	h := &tableHandle{}
	opts := sc.TableOptions(table.Options{
		PageSize:           s.cfg.Table.PageSize,
		EnableSelection:    true,
		EnableSearch:       true,
		EnableFilters:      true,
		EnableExport:       true,
		EnableColumnToggle: true,
		EnableInlineEdit:   true,
		Logger:             s.log.With("screen", sc.ID, "session_id", sess.ID),
	})

	record := func(ctx context.Context, e AuditEntry) {
		e.Screen = sc.ID
		e.SessionID = sess.ID
		s.audit.RecordCtx(ctx, e)
	}

	cb := table.Callbacks{
		OnEdit: func(ctx context.Context, id string, patch table.Patch) error {
			if err := s.store.Update(sc.ID, patch, id); err != nil {
				return err
			}
			record(ctx, AuditEntry{Action: ActionCellEdit, RecordIDs: []string{id}, Detail: maps.Clone(patch)})
			return nil
		},
		OnDelete: func(ctx context.Context, rec table.Record) error {
			if err := s.store.Delete(sc.ID, rec.ID); err != nil {
				return err
			}
			record(ctx, AuditEntry{Action: ActionRowDelete, RecordIDs: []string{rec.ID}})
			return nil
		},
		OnView: func(ctx context.Context, rec table.Record) {
			logging.FromContext(ctx).Debug("record viewed", "screen", sc.ID, "id", rec.ID)
		},
		OnAdd: func(ctx context.Context) {
			if sc.HasWizard() {
				// New records on wizard screens are created by submitting it.
				s.wizard(sess, sc).Reset()
				s.uploads.ReleasePrefix(draftKey(sess.ID, sc.ID) + "/")
				return
			}
			rec := s.store.Insert(sc.ID, nil)
			record(ctx, AuditEntry{Action: ActionRowAdd, RecordIDs: []string{rec.ID}})
		},
		OnRefresh: func(ctx context.Context) {
			h.sync(s.store, sc.ID, true)
		},
		OnBulkAction: func(ctx context.Context, actionID string, ids []string) error {
			act, ok := sc.BulkAction(actionID)
			if !ok {
				return fmt.Errorf("%w: %s", errUnknownBulkAction, actionID)
			}
			var err error
			if act.Delete {
				err = s.store.Delete(sc.ID, ids...)
			} else {
				err = s.store.Update(sc.ID, table.Patch(act.Set), ids...)
			}
			if err != nil {
				return err
			}
			record(ctx, AuditEntry{Action: ActionBulk, RecordIDs: ids, Detail: map[string]any{"action": actionID}})
			return nil
		},
		OnExport: func(ctx context.Context, payload table.Export) error {
			record(ctx, AuditEntry{Action: ActionExport, Detail: map[string]any{
				"format": payload.Format,
				"rows":   payload.Len(),
			}})
			return nil
		},
	}

	recs, ver := s.store.Records(sc.ID)
	h.engine = table.New(sc.Columns, recs, opts, cb)
	h.version = ver
	return h
}

func (s *Server) newWizard(sess *Session, sc *schema.Screen) *form.Wizard {
	log := s.log.With("screen", sc.ID, "session_id", sess.ID)
	key := draftKey(sess.ID, sc.ID)

	opts := sc.WizardOptions(form.Options{
		AllowStepSkipping:      s.cfg.Form.AllowStepSkipping,
		EnableAutoSave:         s.cfg.Form.EnableAutoSave,
		AutoSaveInterval:       s.cfg.Form.AutoSaveInterval,
		UploadTick:             s.cfg.Form.UploadTick,
		UploadStep:             s.cfg.Form.UploadStep,
		TransitiveDependencies: s.cfg.Form.TransitiveDependencies,
		Scheduler:              s.sched,
		Logger:                 log,
		NewContentRef: func(f form.FileInfo) string {
			return "uploads/" + sc.ID + "/" + uuid.NewString() + "/" + f.Name
		},
	})

	cb := form.Callbacks{
		OnSave: func(ctx context.Context, vals map[string]value.Value) error {
			s.store.SaveDraft(key, vals)
			s.audit.Record(AuditEntry{Action: ActionAutosave, Screen: sc.ID, SessionID: sess.ID})
			s.metrics.Autosave(nil)
			return nil
		},
		OnSubmit: func(ctx context.Context, vals map[string]value.Value) error {
			entry := AuditEntry{Action: ActionFormSubmit, Screen: sc.ID, SessionID: sess.ID}
			if sc.HasTable() {
				fields := make(map[string]any, len(sc.Columns))
				for _, c := range sc.Columns {
					if v, ok := vals[c.Key]; ok {
						fields[c.Key] = v
					}
				}
				rec := s.store.Insert(sc.ID, fields)
				entry.RecordIDs = []string{rec.ID}
			}
			s.audit.RecordCtx(ctx, entry)
			s.store.DeleteDraft(key)
			return nil
		},
		OnError: func(err error) {
			log.Warn("autosave failed", "error", err)
			s.metrics.Autosave(err)
		},
		OnUpload: func(field string, file value.File) {
			s.uploads.Release(uploadKey(sess.ID, sc.ID, field))
			log.Info("upload complete", "field", field, "file", file.Name, "ref", file.ContentRef)
		},
	}

	return form.New(sc.Steps, opts, cb)
}
