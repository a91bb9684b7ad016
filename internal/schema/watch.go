package schema

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long Watch waits for a burst of file events to end.
const DefaultSettle = 250 * time.Millisecond

// Watch calls onChange once a burst of changes to screen files in dir has
// been quiet for settle. It blocks until ctx is done or the watcher fails.
func Watch(ctx context.Context, dir string, settle time.Duration, onChange func()) error {
	if settle <= 0 {
		settle = DefaultSettle
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("schema: create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("schema: watch %s: %w", dir, err)
	}

	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isScreenFile(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			timer.Reset(settle)

		case <-timer.C:
			onChange()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("schema: watch %s: %w", dir, err)
		}
	}
}

func isScreenFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
