package form

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/erpshell/internal/value"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	saves   []map[string]value.Value
	submits []map[string]value.Value
	errs    []error
}

func (r *recorder) callbacks(saveErr, submitErr error) Callbacks {
	return Callbacks{
		OnSave: func(_ context.Context, v map[string]value.Value) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.saves = append(r.saves, v)
			return saveErr
		},
		OnSubmit: func(_ context.Context, v map[string]value.Value) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.submits = append(r.submits, v)
			return submitErr
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func twoSteps() []Step {
	return []Step{
		{ID: "one", Fields: []FieldSpec{{Name: "x", Type: FieldText, Rules: Rules{Required: true}}}},
		{ID: "two", Fields: []FieldSpec{{Name: "y", Type: FieldText}}},
	}
}

func addressSteps() []Step {
	return []Step{
		{ID: "address", Fields: []FieldSpec{
			{Name: "country", Type: FieldSelect, Dependencies: []Dependency{
				{Target: "state", Influence: Visibility{When: equalsString("US")}},
			}},
			{Name: "state", Type: FieldText, Rules: Rules{Required: true, MinLength: 2}},
		}},
		{ID: "done", Fields: []FieldSpec{{Name: "note", Type: FieldTextarea}}},
	}
}

func newWizard(steps []Step, opts Options, cb Callbacks) (*Wizard, *ManualScheduler) {
	sched := NewManualScheduler(epoch)
	opts.Scheduler = sched
	return New(steps, opts, cb), sched
}

func TestGoNext_RequiresValidStep(t *testing.T) {
	w, _ := newWizard(twoSteps(), Options{}, Callbacks{})

	err := w.GoNext()
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.ErrorIs(t, err, ErrStepInvalid)
	assert.Equal(t, 0, stepErr.Step)
	assert.Equal(t, 0, w.Snapshot().Step)
	assert.Equal(t, MsgRequired, w.Snapshot().Errors["x"])

	require.NoError(t, w.SetFieldValue("x", "v"))
	assert.Empty(t, w.Snapshot().Errors, "editing clears the field error")

	require.NoError(t, w.GoNext())
	assert.Equal(t, 1, w.Snapshot().Step)
	assert.ErrorIs(t, w.GoNext(), ErrLastStep)
}

func TestGoPrevious(t *testing.T) {
	w, _ := newWizard(twoSteps(), Options{}, Callbacks{})
	assert.ErrorIs(t, w.GoPrevious(), ErrFirstStep)

	require.NoError(t, w.SetFieldValue("x", "v"))
	require.NoError(t, w.GoNext())

	require.NoError(t, w.SetFieldValue("x", ""))
	require.NoError(t, w.GoPrevious(), "going back never validates")
	assert.Equal(t, 0, w.Snapshot().Step)
}

func TestGoToStep(t *testing.T) {
	steps := []Step{
		{ID: "a", Fields: []FieldSpec{{Name: "a", Rules: Rules{Required: true}}}},
		{ID: "b"},
		{ID: "c"},
	}

	w, _ := newWizard(steps, Options{}, Callbacks{})
	assert.ErrorIs(t, w.GoToStep(2), ErrStepSkip)
	assert.ErrorIs(t, w.GoToStep(1), ErrStepInvalid)
	assert.ErrorIs(t, w.GoToStep(7), ErrStepRange)

	require.NoError(t, w.SetFieldValue("a", "ok"))
	require.NoError(t, w.GoToStep(1))
	require.NoError(t, w.GoToStep(0))

	w, _ = newWizard(steps, Options{AllowStepSkipping: true}, Callbacks{})
	require.NoError(t, w.GoToStep(2))
	assert.Equal(t, 2, w.Snapshot().Step)
}

func TestDependency_InvisibleFieldIsExempt(t *testing.T) {
	w, _ := newWizard(addressSteps(), Options{}, Callbacks{})

	assert.NotContains(t, w.Snapshot().VisibleFields, "state")

	require.NoError(t, w.SetFieldValue("country", "US"))
	assert.Contains(t, w.Snapshot().VisibleFields, "state")
	assert.ErrorIs(t, w.GoNext(), ErrStepInvalid)
	assert.Equal(t, MsgRequired, w.Snapshot().Errors["state"])

	require.NoError(t, w.SetFieldValue("country", "FR"))
	assert.NotContains(t, w.Snapshot().VisibleFields, "state")
	assert.NotContains(t, w.Snapshot().Errors, "state", "hidden fields drop their errors")
	require.NoError(t, w.GoNext())
}

func TestDependency_CompositeRequiredAndOptions(t *testing.T) {
	steps := []Step{{ID: "s", Fields: []FieldSpec{
		{Name: "amount", Type: FieldNumber, Dependencies: []Dependency{
			{Target: "approver", Influence: Composite{Required: MustExpr(`value > 1000.0`)}},
			{Target: "tier", Influence: Composite{Options: MustExpr(`value > 1000.0 ? ["gold"] : ["basic", "silver"]`)}},
		}},
		{Name: "approver", Type: FieldEmail, Rules: Rules{Email: true}},
		{Name: "tier", Type: FieldSelect, Options: []Option{{Value: "basic", Label: "Basic"}}},
	}}}

	w, _ := newWizard(steps, Options{}, Callbacks{})
	assert.Equal(t, -1, w.ValidateAll())

	require.NoError(t, w.SetFieldValue("amount", "2500"))
	assert.Equal(t, 0, w.ValidateAll())
	assert.Equal(t, MsgRequired, w.Snapshot().Errors["approver"])
	assert.Equal(t, []Option{{Value: "gold", Label: "gold"}}, w.Options("tier"))

	require.NoError(t, w.SetFieldValue("amount", 50))
	assert.Equal(t, -1, w.ValidateAll())
	assert.Len(t, w.Options("tier"), 2)
}

func TestDependency_TransitiveOption(t *testing.T) {
	steps := []Step{{ID: "s", Fields: []FieldSpec{
		{Name: "a", Dependencies: []Dependency{{Target: "b", Influence: Visibility{When: equalsString("on")}}}},
		{Name: "b", Dependencies: []Dependency{{Target: "c", Influence: Visibility{When: PredicateFunc(
			func(_ value.Value, s State) bool { return s.Visible("b") },
		)}}}},
		{Name: "c", Rules: Rules{Required: true}},
	}}}

	single, _ := newWizard(steps, Options{}, Callbacks{})
	require.NoError(t, single.SetFieldValue("a", "on"))
	assert.Contains(t, single.Snapshot().VisibleFields, "b")
	assert.NotContains(t, single.Snapshot().VisibleFields, "c", "one hop leaves c stale")

	chained, _ := newWizard(steps, Options{TransitiveDependencies: true}, Callbacks{})
	require.NoError(t, chained.SetFieldValue("a", "on"))
	assert.Contains(t, chained.Snapshot().VisibleFields, "c")
	assert.Equal(t, 0, chained.ValidateAll())

	require.NoError(t, chained.SetFieldValue("a", "off"))
	assert.NotContains(t, chained.Snapshot().VisibleFields, "c")
	assert.Equal(t, -1, chained.ValidateAll())
}

func TestValidateField_DoesNotRecord(t *testing.T) {
	steps := []Step{{ID: "s", Fields: []FieldSpec{{Name: "email", Type: FieldEmail, Rules: Rules{Required: true, Email: true}}}}}
	w, _ := newWizard(steps, Options{}, Callbacks{})

	assert.Equal(t, MsgRequired, w.ValidateField("email", ""))
	assert.Equal(t, MsgInvalidEmail, w.ValidateField("email", "foo"))
	assert.Equal(t, "", w.ValidateField("email", "a@b.com"))
	assert.Empty(t, w.Snapshot().Errors)

	assert.Equal(t, "", w.Blur("email"), "untouched fields are not validated on blur")
	require.NoError(t, w.SetFieldValue("email", "foo"))
	assert.Equal(t, MsgInvalidEmail, w.Blur("email"))
	assert.Equal(t, MsgInvalidEmail, w.Snapshot().Errors["email"])
}

func TestSetFieldValue_UnknownField(t *testing.T) {
	w, _ := newWizard(twoSteps(), Options{}, Callbacks{})
	assert.ErrorIs(t, w.SetFieldValue("nope", 1), ErrUnknownField)
}

func TestAutosave_TrailingDebounce(t *testing.T) {
	var rec recorder
	w, sched := newWizard(twoSteps(), Options{EnableAutoSave: true, AutoSaveInterval: 30 * time.Second}, rec.callbacks(nil, nil))

	for _, v := range []string{"a", "ab", "abc"} {
		require.NoError(t, w.SetFieldValue("x", v))
		sched.Advance(10 * time.Second)
	}
	assert.Empty(t, rec.saves)

	sched.Advance(19 * time.Second)
	assert.Empty(t, rec.saves, "fires a full interval after the last edit")

	sched.Advance(time.Second)
	require.Len(t, rec.saves, 1)
	assert.Equal(t, "abc", rec.saves[0]["x"].String())

	snap := w.Snapshot()
	require.NotNil(t, snap.LastSavedAt)
	assert.Equal(t, epoch.Add(50*time.Second), *snap.LastSavedAt)

	sched.Advance(time.Hour)
	assert.Len(t, rec.saves, 1, "no edits, no further saves")
}

func TestAutosave_Disabled(t *testing.T) {
	var rec recorder
	w, sched := newWizard(twoSteps(), Options{}, rec.callbacks(nil, nil))
	require.NoError(t, w.SetFieldValue("x", "a"))
	sched.Advance(time.Hour)
	assert.Empty(t, rec.saves)
	assert.Zero(t, sched.Pending())
}

func TestAutosave_FailureIsReportedNotRetried(t *testing.T) {
	var rec recorder
	saveErr := errors.New("offline")
	w, sched := newWizard(twoSteps(), Options{EnableAutoSave: true}, rec.callbacks(saveErr, nil))

	require.NoError(t, w.SetFieldValue("x", "a"))
	sched.Advance(DefaultAutoSaveInterval)

	assert.Len(t, rec.saves, 1)
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], saveErr)
	assert.Zero(t, sched.Pending())
	assert.Nil(t, w.Snapshot().LastSavedAt)
	assert.Equal(t, PhaseEditing, w.Snapshot().Phase)
}

func TestAutosave_AtMostOneInFlight(t *testing.T) {
	var w *Wizard
	var sched *ManualScheduler
	saves := 0
	cb := Callbacks{OnSave: func(context.Context, map[string]value.Value) error {
		saves++
		if saves == 1 {
			// A second debounce elapses while the first save is still running.
			require.NoError(t, w.SetFieldValue("x", "later"))
			sched.Advance(DefaultAutoSaveInterval)
			assert.True(t, w.Snapshot().Saving)
		}
		return nil
	}}
	w, sched = newWizard(twoSteps(), Options{EnableAutoSave: true}, cb)

	require.NoError(t, w.SetFieldValue("x", "first"))
	sched.Advance(DefaultAutoSaveInterval)
	assert.Equal(t, 1, saves)
	assert.False(t, w.Snapshot().Saving)
}

func TestSubmit_SuppressesAutosaveAndEdits(t *testing.T) {
	var w *Wizard
	var sched *ManualScheduler
	saves := 0
	cb := Callbacks{
		OnSave: func(context.Context, map[string]value.Value) error { saves++; return nil },
		OnSubmit: func(context.Context, map[string]value.Value) error {
			assert.Equal(t, PhaseSubmitting, w.Snapshot().Phase)
			assert.ErrorIs(t, w.SetFieldValue("y", "z"), ErrSubmitting)
			assert.ErrorIs(t, w.GoPrevious(), ErrSubmitting)
			assert.ErrorIs(t, w.Submit(context.Background()), ErrSubmitting)
			assert.Zero(t, sched.Pending(), "pending autosave cancelled")
			sched.Advance(time.Hour)
			return nil
		},
	}
	w, sched = newWizard(twoSteps(), Options{EnableAutoSave: true}, cb)

	require.NoError(t, w.SetFieldValue("x", "v"))
	require.NoError(t, w.Submit(context.Background()))
	assert.Zero(t, saves)
	assert.Equal(t, PhaseIdle, w.Snapshot().Phase)
	assert.ErrorIs(t, w.SetFieldValue("x", "again"), ErrCompleted)

	w.Reset()
	assert.Equal(t, PhaseEditing, w.Snapshot().Phase)
	assert.True(t, w.Snapshot().Values["x"].IsNull())
}

func TestSubmit_ValidationJumpsToFirstInvalidStep(t *testing.T) {
	var rec recorder
	steps := []Step{
		{ID: "a", Fields: []FieldSpec{{Name: "a"}}},
		{ID: "b", Fields: []FieldSpec{{Name: "b", Rules: Rules{Required: true}}}},
		{ID: "c", Fields: []FieldSpec{{Name: "c", Rules: Rules{Required: true}}}},
	}
	w, _ := newWizard(steps, Options{AllowStepSkipping: true}, rec.callbacks(nil, nil))
	require.NoError(t, w.GoToStep(2))

	err := w.Submit(context.Background())
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 1, stepErr.Step)
	assert.Equal(t, map[string]string{"b": MsgRequired, "c": MsgRequired}, stepErr.Errors)

	snap := w.Snapshot()
	assert.Equal(t, 1, snap.Step)
	assert.Equal(t, PhaseEditing, snap.Phase)
	assert.Empty(t, rec.submits)
}

func TestSubmit_HostFailureKeepsValues(t *testing.T) {
	var rec recorder
	hostErr := errors.New("conflict")
	w, _ := newWizard(twoSteps(), Options{}, rec.callbacks(nil, hostErr))

	require.NoError(t, w.SetFieldValue("x", "kept"))
	err := w.Submit(context.Background())
	assert.ErrorIs(t, err, hostErr)

	snap := w.Snapshot()
	assert.Equal(t, PhaseEditing, snap.Phase)
	assert.Equal(t, "kept", snap.Values["x"].String())
	require.NoError(t, w.SetFieldValue("y", "retry"), "editing re-enabled")
	require.Len(t, rec.submits, 1)
	assert.Equal(t, "kept", rec.submits[0]["x"].String())
}

func uploadSteps() []Step {
	return []Step{{ID: "docs", Fields: []FieldSpec{
		{Name: "contract", Type: FieldFile, Rules: Rules{Required: true},
			File: &FileConstraints{MaxSize: 1 << 20, Accept: []string{".pdf"}}},
		{Name: "title", Type: FieldText},
	}}}
}

func TestUpload_ProgressAndValueSwap(t *testing.T) {
	opts := Options{
		UploadTick:    100 * time.Millisecond,
		UploadStep:    30,
		NewContentRef: func(f FileInfo) string { return "ref:" + f.Name },
	}
	var done []string
	w, sched := newWizard(uploadSteps(), opts, Callbacks{
		OnUpload: func(field string, f value.File) { done = append(done, field+"="+f.ContentRef) },
	})

	require.NoError(t, w.BeginUpload("contract", FileInfo{Name: "c.pdf", Size: 2048, MimeType: "application/pdf"}))

	var seen []int
	for range 4 {
		p, ok := w.UploadProgress("contract")
		require.True(t, ok)
		seen = append(seen, p)
		assert.True(t, w.Snapshot().Values["contract"].IsNull())
		sched.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, []int{0, 30, 60, 90}, seen)
	assert.Empty(t, done)

	p, _ := w.UploadProgress("contract")
	assert.Equal(t, 100, p)

	f, ok := w.Snapshot().Values["contract"].File()
	require.True(t, ok)
	assert.Equal(t, "c.pdf", f.Name)
	assert.Equal(t, int64(2048), f.Size)
	assert.Equal(t, "application/pdf", f.MimeType)
	assert.Equal(t, "ref:c.pdf", f.ContentRef)
	assert.Equal(t, []string{"contract=ref:c.pdf"}, done)
	assert.Zero(t, sched.Pending())
	assert.Equal(t, -1, w.ValidateAll())
}

func TestUpload_Rejected(t *testing.T) {
	w, sched := newWizard(uploadSteps(), Options{}, Callbacks{})

	err := w.BeginUpload("contract", FileInfo{Name: "big.pdf", Size: 5 << 20, MimeType: "application/pdf"})
	assert.ErrorIs(t, err, ErrUploadRejected)
	assert.Equal(t, MsgFileTooLarge, w.Snapshot().Errors["contract"])

	err = w.BeginUpload("contract", FileInfo{Name: "virus.exe", Size: 10})
	assert.ErrorIs(t, err, ErrUploadRejected)
	assert.Equal(t, MsgFileType, w.Snapshot().Errors["contract"])

	_, started := w.UploadProgress("contract")
	assert.False(t, started)
	assert.Zero(t, sched.Pending())

	assert.ErrorIs(t, w.BeginUpload("title", FileInfo{Name: "a.pdf"}), ErrNotFileField)
}

func TestUpload_CancelAndDispose(t *testing.T) {
	w, sched := newWizard(uploadSteps(), Options{EnableAutoSave: true}, Callbacks{
		OnSave: func(context.Context, map[string]value.Value) error {
			t.Error("autosave after dispose")
			return nil
		},
	})

	require.NoError(t, w.BeginUpload("contract", FileInfo{Name: "a.pdf", Size: 1}))
	sched.Advance(DefaultUploadTick)
	require.NoError(t, w.CancelUpload("contract"))
	_, started := w.UploadProgress("contract")
	assert.False(t, started)
	assert.ErrorIs(t, w.CancelUpload("contract"), ErrNoUpload)

	require.NoError(t, w.BeginUpload("contract", FileInfo{Name: "b.pdf", Size: 1}))
	require.NoError(t, w.SetFieldValue("title", "x"))
	assert.Equal(t, 2, sched.Pending())

	w.Dispose()
	assert.Zero(t, sched.Pending())
	sched.Advance(time.Hour)
	assert.True(t, w.Snapshot().Values["contract"].IsNull())
	assert.ErrorIs(t, w.SetFieldValue("title", "y"), ErrDisposed)
}

func TestSubmit_RefusedWhileUploading(t *testing.T) {
	steps := []Step{{ID: "docs", Fields: []FieldSpec{
		{Name: "attachment", Type: FieldFile, File: &FileConstraints{Accept: []string{".pdf"}}},
	}}}
	var rec recorder
	w, sched := newWizard(steps, Options{
		NewContentRef: func(f FileInfo) string { return "ref:" + f.Name },
	}, rec.callbacks(nil, nil))

	require.NoError(t, w.BeginUpload("attachment", FileInfo{Name: "a.pdf", Size: 10}))

	err := w.Submit(context.Background())
	require.ErrorIs(t, err, ErrUploadInFlight)
	assert.Contains(t, err.Error(), "attachment")
	assert.Equal(t, PhaseEditing, w.Snapshot().Phase)
	assert.Empty(t, rec.submits)
	assert.Equal(t, 1, sched.Pending(), "upload keeps running")

	sched.Advance(time.Hour)
	require.NoError(t, w.Submit(context.Background()))
	require.Len(t, rec.submits, 1)
	f, ok := rec.submits[0]["attachment"].File()
	require.True(t, ok, "host receives the uploaded file")
	assert.Equal(t, "ref:a.pdf", f.ContentRef)
	assert.Equal(t, PhaseIdle, w.Snapshot().Phase)
}

func TestSubmit_CancelledUploadUnblocks(t *testing.T) {
	steps := []Step{{ID: "docs", Fields: []FieldSpec{
		{Name: "attachment", Type: FieldFile},
	}}}
	var rec recorder
	w, sched := newWizard(steps, Options{}, rec.callbacks(nil, nil))

	require.NoError(t, w.BeginUpload("attachment", FileInfo{Name: "a.pdf", Size: 10}))
	require.ErrorIs(t, w.Submit(context.Background()), ErrUploadInFlight)
	require.NoError(t, w.CancelUpload("attachment"))

	require.NoError(t, w.Submit(context.Background()))
	require.Len(t, rec.submits, 1)
	assert.True(t, rec.submits[0]["attachment"].IsNull())

	sched.Advance(time.Hour)
	assert.True(t, w.Snapshot().Values["attachment"].IsNull(), "no late value swap after completion")
}

func TestReset_CancelsTimers(t *testing.T) {
	var rec recorder
	w, sched := newWizard(addressSteps(), Options{EnableAutoSave: true}, rec.callbacks(nil, nil))

	require.NoError(t, w.SetFieldValue("country", "US"))
	assert.Contains(t, w.Snapshot().VisibleFields, "state")

	w.Reset()
	assert.Zero(t, sched.Pending())
	sched.Advance(time.Hour)
	assert.Empty(t, rec.saves)

	snap := w.Snapshot()
	assert.Empty(t, snap.Touched)
	assert.NotContains(t, snap.VisibleFields, "state", "dependencies re-resolved from defaults")
}
