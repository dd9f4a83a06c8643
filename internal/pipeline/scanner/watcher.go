package scanner

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// QuiescenceWatcher blocks the daemon's scan loop until a backlog
// directory has gone quiet for a debounce window, rather than rescanning
// on every single filesystem event.
type QuiescenceWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	dropped  int64
}

// NewQuiescenceWatcher watches the given directories for any change and
// debounces bursts of events into a single quiescence signal.
func NewQuiescenceWatcher(dirs []string, debounce time.Duration) (*QuiescenceWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			w.Close()
			return nil, err
		}
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &QuiescenceWatcher{watcher: w, debounce: debounce}, nil
}

// Close stops watching.
func (q *QuiescenceWatcher) Close() error {
	return q.watcher.Close()
}

// WaitForQuiescence blocks until either ctx is done or the watched
// directories have had no events for the debounce window, returning true
// if it returned due to quiescence (false means ctx was cancelled first).
func (q *QuiescenceWatcher) WaitForQuiescence(ctx context.Context) bool {
	timer := time.NewTimer(q.debounce)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-q.watcher.Events:
			if !ok {
				return false
			}
			_ = event
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(q.debounce)
		case err, ok := <-q.watcher.Errors:
			if !ok {
				return false
			}
			if err != nil {
				q.dropped++
			}
		case <-timer.C:
			return true
		}
	}
}

// Dropped reports the count of watcher errors observed.
func (q *QuiescenceWatcher) Dropped() int64 {
	return q.dropped
}
