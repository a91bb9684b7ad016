package form

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/erpshell/internal/value"
)

// Defaults for Options.
const (
	DefaultAutoSaveInterval = 30 * time.Second
	DefaultUploadTick       = 200 * time.Millisecond
	DefaultUploadStep       = 10
)

var (
	ErrSubmitting     = errors.New("form: submission in progress")
	ErrCompleted      = errors.New("form: already submitted")
	ErrDisposed       = errors.New("form: wizard disposed")
	ErrStepInvalid    = errors.New("form: step has invalid fields")
	ErrStepSkip       = errors.New("form: step skipping is disabled")
	ErrStepRange      = errors.New("form: step index out of range")
	ErrFirstStep      = errors.New("form: already on the first step")
	ErrLastStep       = errors.New("form: already on the last step")
	ErrUnknownField   = errors.New("form: unknown field")
	ErrNotFileField   = errors.New("form: not a file field")
	ErrUploadRejected = errors.New("form: upload rejected")
	ErrNoUpload       = errors.New("form: no upload in progress")
	ErrUploadInFlight = errors.New("form: upload still in progress")
)

// StepError reports the invalid fields that blocked a transition. Step is the
// first step (in declaration order) holding an invalid field.
type StepError struct {
	Step   int
	Errors map[string]string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("form: step %d has %d invalid field(s)", e.Step, len(e.Errors))
}

func (e *StepError) Unwrap() error { return ErrStepInvalid }

// Phase is the wizard state machine position.
//
//	Editing -> Validating -> Editing            (validation failed)
//	Editing -> Submitting -> Idle | Editing     (host accepted | host failed)
type Phase string

const (
	PhaseEditing    Phase = "editing"
	PhaseValidating Phase = "validating"
	PhaseSubmitting Phase = "submitting"
	PhaseIdle       Phase = "idle"
)

// Options configures one wizard instance.
type Options struct {
	AllowStepSkipping bool
	EnableAutoSave    bool
	AutoSaveInterval  time.Duration // quiet interval, default 30s
	UploadTick        time.Duration // simulated upload tick, default 200ms
	UploadStep        int           // progress percent per tick, default 10

	// TransitiveDependencies resolves chained influences (A -> B -> C) in one
	// change instead of one hop.
	TransitiveDependencies bool

	Scheduler Scheduler
	Logger    *slog.Logger

	// NewContentRef mints the opaque handle of a completed upload.
	NewContentRef func(FileInfo) string
}

// Callbacks are the host hooks. All may be nil.
type Callbacks struct {
	OnSubmit func(ctx context.Context, values map[string]value.Value) error
	OnSave   func(ctx context.Context, values map[string]value.Value) error
	// OnError receives autosave failures. They are never returned to the user.
	OnError func(err error)
	// OnUpload is told when a simulated upload completes.
	OnUpload func(field string, file value.File)
}

// Snapshot is a copy of the wizard state for rendering.
type Snapshot struct {
	Step          int                    `json:"step"`
	StepCount     int                    `json:"stepCount"`
	StepID        string                 `json:"stepId"`
	Phase         Phase                  `json:"phase"`
	Values        map[string]value.Value `json:"values"`
	Touched       []string               `json:"touched"`
	Errors        map[string]string      `json:"errors"`
	Overrides     map[string]Override    `json:"overrides"`
	Uploads       map[string]int         `json:"uploads"`
	VisibleFields []string               `json:"visibleFields"` // current step
	LastSavedAt   *time.Time             `json:"lastSavedAt,omitempty"`
	Saving        bool                   `json:"saving"`
}

// Wizard is a multi-step form engine.
//
// Methods are safe for concurrent use; timer tasks run on scheduler goroutines
// and take the same lock. Host callbacks run without the lock held.
type Wizard struct {
	mu    sync.Mutex
	opts  Options
	cb    Callbacks
	log   *slog.Logger
	sched Scheduler

	steps  []Step
	fields map[string]FieldSpec
	order  []string // field names in declaration order
	stepOf map[string]int

	step      int
	phase     Phase
	values    map[string]value.Value
	touched   map[string]bool
	errors    map[string]string
	overrides map[string]Override
	progress  map[string]int
	uploads   map[string]*upload
	lastSaved time.Time

	saveTimer Timer
	saveSeq   uint64
	saving    bool
	gen       uint64 // bumped on Reset and Dispose; stale timer tasks compare it
	disposed  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a wizard over steps. Field names must be unique across steps.
func New(steps []Step, opts Options, cb Callbacks) *Wizard {
	if opts.AutoSaveInterval <= 0 {
		opts.AutoSaveInterval = DefaultAutoSaveInterval
	}
	if opts.UploadTick <= 0 {
		opts.UploadTick = DefaultUploadTick
	}
	if opts.UploadStep <= 0 {
		opts.UploadStep = DefaultUploadStep
	}
	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler()
	}
	if opts.NewContentRef == nil {
		opts.NewContentRef = func(FileInfo) string { return uuid.NewString() }
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	w := &Wizard{
		opts:   opts,
		cb:     cb,
		log:    log,
		sched:  opts.Scheduler,
		steps:  slices.Clone(steps),
		fields: make(map[string]FieldSpec),
		stepOf: make(map[string]int),
	}
	for i, st := range w.steps {
		for _, f := range st.Fields {
			w.fields[f.Name] = f
			w.stepOf[f.Name] = i
			w.order = append(w.order, f.Name)
		}
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.resetLocked()
	return w
}

// resetLocked restores initial state. Caller holds mu (or owns w exclusively).
func (w *Wizard) resetLocked() {
	w.step = 0
	w.phase = PhaseEditing
	w.values = make(map[string]value.Value, len(w.fields))
	w.touched = make(map[string]bool)
	w.errors = make(map[string]string)
	w.overrides = make(map[string]Override)
	w.progress = make(map[string]int)
	w.uploads = make(map[string]*upload)
	w.lastSaved = time.Time{}
	w.saving = false

	for _, name := range w.order {
		w.values[name] = w.fields[name].initial()
	}
	for _, name := range w.order {
		w.resolveLocked(name)
	}
}

// Steps returns the step definitions.
func (w *Wizard) Steps() []Step { return slices.Clone(w.steps) }

// Field returns the definition of a field.
func (w *Wizard) Field(name string) (FieldSpec, bool) {
	f, ok := w.fields[name]
	return f, ok
}

// FieldStep returns the index of the step that owns the field.
func (w *Wizard) FieldStep(name string) (int, bool) {
	i, ok := w.stepOf[name]
	return i, ok
}

func (w *Wizard) state() State {
	return State{Values: w.values, Overrides: w.overrides, Log: w.log}
}

func (w *Wizard) visibleLocked(name string) bool {
	return w.state().Visible(name)
}

// rulesLocked returns the field's rules with the required override applied.
func (w *Wizard) rulesLocked(name string) Rules {
	r := w.fields[name].Rules
	if o, ok := w.overrides[name]; ok && o.Required != nil {
		r.Required = *o.Required
	}
	return r
}

// resolveLocked recomputes the overrides influenced by source and drops errors
// of fields that became invisible.
func (w *Wizard) resolveLocked(source string) {
	if len(w.fields[source].Dependencies) == 0 {
		return
	}
	w.overrides = Propagate(w.fields, source, w.state(), w.opts.TransitiveDependencies)
	for name := range w.errors {
		if !w.visibleLocked(name) {
			delete(w.errors, name)
		}
	}
}

// checkEditable returns why intents are refused in the current phase.
func (w *Wizard) checkEditable() error {
	switch {
	case w.disposed:
		return ErrDisposed
	case w.phase == PhaseSubmitting:
		return ErrSubmitting
	case w.phase == PhaseIdle:
		return ErrCompleted
	}
	return nil
}

// SetFieldValue stores x narrowed to the field's type, marks the field
// touched, clears its error (it is recomputed on the next validation pass),
// resolves the field's influences and restarts the autosave debounce.
func (w *Wizard) SetFieldValue(name string, x any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkEditable(); err != nil {
		return err
	}
	spec, ok := w.fields[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}

	w.values[name] = value.Coerce(x, spec.Type.Kind())
	w.touched[name] = true
	delete(w.errors, name)
	w.resolveLocked(name)
	w.scheduleAutosaveLocked()
	return nil
}

// Blur validates the stored value of a touched field and records the result.
func (w *Wizard) Blur(name string) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.fields[name]; !ok || !w.touched[name] || !w.visibleLocked(name) {
		return ""
	}
	return w.recordLocked(name)
}

// ValidateField evaluates v against the field's effective rules without
// storing anything. Unknown fields pass.
func (w *Wizard) ValidateField(name string, x any) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	spec, ok := w.fields[name]
	if !ok {
		return ""
	}
	return ValidateValue(value.Coerce(x, spec.Type.Kind()), w.rulesLocked(name), w.state())
}

// recordLocked validates the stored value and records or clears the error.
func (w *Wizard) recordLocked(name string) string {
	msg := ValidateValue(w.values[name], w.rulesLocked(name), w.state())
	if msg != "" {
		w.errors[name] = msg
	} else {
		delete(w.errors, name)
	}
	return msg
}

// validateStepLocked validates the visible fields of step i and returns the
// failures.
func (w *Wizard) validateStepLocked(i int) map[string]string {
	failed := make(map[string]string)
	for _, f := range w.steps[i].Fields {
		if !w.visibleLocked(f.Name) {
			delete(w.errors, f.Name)
			continue
		}
		if msg := w.recordLocked(f.Name); msg != "" {
			failed[f.Name] = msg
		}
	}
	return failed
}

// ValidateStep validates every visible field of step i, records the messages
// and reports whether all passed. Out-of-range indexes fail.
func (w *Wizard) ValidateStep(i int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if i < 0 || i >= len(w.steps) {
		return false
	}
	return len(w.validateStepLocked(i)) == 0
}

// validateAllLocked returns the first invalid step and every failure.
func (w *Wizard) validateAllLocked() (int, map[string]string) {
	first := -1
	failed := make(map[string]string)
	for i := range w.steps {
		stepFailed := w.validateStepLocked(i)
		if len(stepFailed) > 0 && first < 0 {
			first = i
		}
		maps.Copy(failed, stepFailed)
	}
	return first, failed
}

// ValidateAll validates every visible field across every step. It returns
// the index of the first step holding an invalid field, or -1.
func (w *Wizard) ValidateAll() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	first, _ := w.validateAllLocked()
	return first
}

// advanceLocked validates the current step and moves to to on success.
func (w *Wizard) advanceLocked(to int) error {
	w.phase = PhaseValidating
	failed := w.validateStepLocked(w.step)
	w.phase = PhaseEditing
	if len(failed) > 0 {
		return &StepError{Step: w.step, Errors: failed}
	}
	w.step = to
	return nil
}

// GoNext moves forward when every visible field of the current step passes.
func (w *Wizard) GoNext() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkEditable(); err != nil {
		return err
	}
	if w.step >= len(w.steps)-1 {
		return ErrLastStep
	}
	return w.advanceLocked(w.step + 1)
}

// GoPrevious moves back one step. It never validates.
func (w *Wizard) GoPrevious() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkEditable(); err != nil {
		return err
	}
	if w.step == 0 {
		return ErrFirstStep
	}
	w.step--
	return nil
}

// GoToStep jumps to step i. Backward jumps are free, i == current+1 behaves
// like GoNext, and further jumps need AllowStepSkipping (and are not
// validated; Submit validates everything).
func (w *Wizard) GoToStep(i int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkEditable(); err != nil {
		return err
	}
	switch {
	case i < 0 || i >= len(w.steps):
		return fmt.Errorf("%w: %d", ErrStepRange, i)
	case i <= w.step:
		w.step = i
		return nil
	case i == w.step+1:
		return w.advanceLocked(i)
	case !w.opts.AllowStepSkipping:
		return ErrStepSkip
	default:
		w.step = i
		return nil
	}
}

// Submit validates every step and hands the values to OnSubmit. On validation
// failure the wizard jumps to the first invalid step and the host is not
// called. While the host call is in flight edits, navigation and autosave are
// refused. Success ends in PhaseIdle; a host error returns to editing with
// the values intact. A running upload must finish or be cancelled first.
func (w *Wizard) Submit(ctx context.Context) error {
	w.mu.Lock()
	if err := w.checkEditable(); err != nil {
		w.mu.Unlock()
		return err
	}
	if len(w.uploads) > 0 {
		names := slices.Sorted(maps.Keys(w.uploads))
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUploadInFlight, strings.Join(names, ", "))
	}

	w.phase = PhaseValidating
	first, failed := w.validateAllLocked()
	if first >= 0 {
		w.step = first
		w.phase = PhaseEditing
		w.mu.Unlock()
		return &StepError{Step: first, Errors: failed}
	}

	w.phase = PhaseSubmitting
	w.stopAutosaveLocked()
	vals := maps.Clone(w.values)
	gen := w.gen
	w.mu.Unlock()

	var err error
	if w.cb.OnSubmit != nil {
		err = w.cb.OnSubmit(ctx, vals)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen {
		// Reset or disposed while the host was busy.
		return err
	}
	if err != nil {
		w.phase = PhaseEditing
		w.log.Warn("form submit failed", "error", err)
		return fmt.Errorf("submit: %w", err)
	}
	w.phase = PhaseIdle
	w.log.Debug("form submitted", "fields", len(vals))
	return nil
}

// Reset cancels pending timers and uploads and restores the initial state.
func (w *Wizard) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return
	}
	w.stopTimersLocked()
	w.gen++
	w.resetLocked()
}

// Dispose cancels every pending task. Later intents fail with ErrDisposed and
// late timer fires are ignored.
func (w *Wizard) Dispose() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return
	}
	w.disposed = true
	w.gen++
	w.stopTimersLocked()
	w.cancel()
}

func (w *Wizard) stopTimersLocked() {
	w.stopAutosaveLocked()
	for name, u := range w.uploads {
		u.timer.Stop()
		delete(w.uploads, name)
	}
}

// Snapshot returns a copy of the current state.
func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Snapshot{
		Step:      w.step,
		StepCount: len(w.steps),
		Phase:     w.phase,
		Values:    maps.Clone(w.values),
		Errors:    maps.Clone(w.errors),
		Overrides: maps.Clone(w.overrides),
		Uploads:   maps.Clone(w.progress),
		Saving:    w.saving,
	}
	if len(w.steps) > 0 {
		s.StepID = w.steps[w.step].ID
		for _, f := range w.steps[w.step].Fields {
			if w.visibleLocked(f.Name) {
				s.VisibleFields = append(s.VisibleFields, f.Name)
			}
		}
	}
	for _, name := range w.order {
		if w.touched[name] {
			s.Touched = append(s.Touched, name)
		}
	}
	if !w.lastSaved.IsZero() {
		t := w.lastSaved
		s.LastSavedAt = &t
	}
	return s
}

// Options returns the effective choices of a select field: the override when
// a dependency set one, else the declared options.
func (w *Wizard) Options(name string) []Option {
	w.mu.Lock()
	defer w.mu.Unlock()
	if o, ok := w.overrides[name]; ok && o.Options != nil {
		return slices.Clone(o.Options)
	}
	return slices.Clone(w.fields[name].Options)
}

// Values returns a copy of the current values.
func (w *Wizard) Values() map[string]value.Value {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.values)
}
