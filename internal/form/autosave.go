package form

// autosave.go implements the trailing-debounce autosave.
//
// Every value change stops the pending timer and starts a new one, so a save
// fires only after edits pause for AutoSaveInterval. A fire is skipped while
// a submission is in flight or a previous save has not returned, so at most
// one save runs at a time. Failures go to the log and OnError; nothing is
// retried.

import "maps"

func (w *Wizard) scheduleAutosaveLocked() {
	if !w.opts.EnableAutoSave || w.cb.OnSave == nil {
		return
	}
	w.stopAutosaveLocked()
	seq := w.saveSeq
	w.saveTimer = w.sched.AfterFunc(w.opts.AutoSaveInterval, func() {
		w.autosave(seq)
	})
}

// stopAutosaveLocked cancels the pending timer. Bumping saveSeq also voids a
// timer that already fired but is still waiting for the lock.
func (w *Wizard) stopAutosaveLocked() {
	w.saveSeq++
	if w.saveTimer != nil {
		w.saveTimer.Stop()
		w.saveTimer = nil
	}
}

func (w *Wizard) autosave(seq uint64) {
	w.mu.Lock()
	if seq != w.saveSeq || w.disposed {
		w.mu.Unlock()
		return
	}
	w.saveTimer = nil
	gen := w.gen
	if w.phase == PhaseSubmitting || w.phase == PhaseIdle || w.saving {
		w.log.Debug("autosave skipped", "phase", w.phase, "saving", w.saving)
		w.mu.Unlock()
		return
	}
	w.saving = true
	vals := maps.Clone(w.values)
	ctx := w.ctx
	w.mu.Unlock()

	err := w.cb.OnSave(ctx, vals)

	w.mu.Lock()
	stale := gen != w.gen
	if !stale {
		w.saving = false
		if err == nil {
			w.lastSaved = w.sched.Now()
		}
	}
	w.mu.Unlock()

	if err != nil {
		w.log.Warn("autosave failed", "error", err)
		if w.cb.OnError != nil {
			w.cb.OnError(err)
		}
		return
	}
	w.log.Debug("autosaved", "fields", len(vals))
}
