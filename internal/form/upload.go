package form

// upload.go simulates file uploads.
//
// BeginUpload checks the field's FileConstraints and refuses a violating file
// outright (no progress entry). An accepted file advances by UploadStep
// percent every UploadTick until it reaches 100, at which point the field
// value becomes a value.File whose ContentRef is minted by
// Options.NewContentRef. No bytes move; progress is only guaranteed to be
// monotonic and to end in the value swap.

import (
	"fmt"

	"github.com/JonMunkholm/erpshell/internal/value"
)

// FileInfo describes a file the user picked.
type FileInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

type upload struct {
	file  FileInfo
	timer Timer
}

// BeginUpload validates f against the field's constraints and starts the
// simulated transfer, replacing any upload already running for the field.
func (w *Wizard) BeginUpload(name string, f FileInfo) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkEditable(); err != nil {
		return err
	}
	spec, ok := w.fields[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	if spec.Type != FieldFile {
		return fmt.Errorf("%w: %s", ErrNotFileField, name)
	}

	if ok, msg := spec.File.Allows(f); !ok {
		w.errors[name] = msg
		w.touched[name] = true
		w.log.Debug("upload rejected", "field", name, "file", f.Name, "size", f.Size, "reason", msg)
		return fmt.Errorf("%w: %s", ErrUploadRejected, msg)
	}

	w.cancelUploadLocked(name)
	delete(w.errors, name)
	w.touched[name] = true
	w.progress[name] = 0

	u := &upload{file: f}
	w.uploads[name] = u
	w.armUploadLocked(name, u)
	return nil
}

func (w *Wizard) armUploadLocked(name string, u *upload) {
	u.timer = w.sched.AfterFunc(w.opts.UploadTick, func() {
		w.uploadTick(name, u)
	})
}

func (w *Wizard) uploadTick(name string, u *upload) {
	w.mu.Lock()

	if w.disposed || w.uploads[name] != u {
		w.mu.Unlock()
		return
	}
	switch w.phase {
	case PhaseSubmitting:
		// Values are frozen until the host answers.
		w.armUploadLocked(name, u)
		w.mu.Unlock()
		return
	case PhaseIdle:
		delete(w.uploads, name)
		w.mu.Unlock()
		return
	}

	p := min(w.progress[name]+w.opts.UploadStep, 100)
	w.progress[name] = p
	if p < 100 {
		w.armUploadLocked(name, u)
		w.mu.Unlock()
		return
	}

	delete(w.uploads, name)
	file := value.File{
		Name:       u.file.Name,
		Size:       u.file.Size,
		MimeType:   u.file.MimeType,
		ContentRef: w.opts.NewContentRef(u.file),
	}
	w.values[name] = value.FileValue(file)
	delete(w.errors, name)
	w.resolveLocked(name)
	w.scheduleAutosaveLocked()
	w.mu.Unlock()

	w.log.Debug("upload complete", "field", name, "file", u.file.Name)
	if w.cb.OnUpload != nil {
		w.cb.OnUpload(name, file)
	}
}

// CancelUpload stops a running upload and drops its progress. The field value
// is left as it was before the upload started.
func (w *Wizard) CancelUpload(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.uploads[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNoUpload, name)
	}
	w.cancelUploadLocked(name)
	delete(w.progress, name)
	return nil
}

func (w *Wizard) cancelUploadLocked(name string) {
	if u, ok := w.uploads[name]; ok {
		u.timer.Stop()
		delete(w.uploads, name)
	}
}

// UploadProgress returns the progress of a field's upload (0..100) and
// whether one was started since the last reset.
func (w *Wizard) UploadProgress(name string) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.progress[name]
	return p, ok
}
