package store

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDebounceWindow is how long ratchet-advance saves are allowed to
// coalesce before hitting disk.
const DefaultDebounceWindow = 250 * time.Millisecond

// DebouncedWriter coalesces frequent credential saves into fewer durable
// writes. Enqueue is cheap; Flush is the durability barrier a caller must
// cross before acknowledging a frame whose ratchet state it covers.
type DebouncedWriter struct {
	store  Store
	window time.Duration

	// OnFlush, when set, is called with each snapshot that reached disk.
	// It runs under the writer's lock and must not call back into the
	// writer. Set it before the first Enqueue.
	OnFlush func(creds *Credentials)

	mu      sync.Mutex
	pending *Credentials
	timer   *time.Timer
	lastErr error
	closed  bool
}

// NewDebouncedWriter wraps a store with write coalescing. A zero window
// means DefaultDebounceWindow.
func NewDebouncedWriter(store Store, window time.Duration) *DebouncedWriter {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &DebouncedWriter{store: store, window: window}
}

// Enqueue schedules creds for writing. Later enqueues within the window
// replace earlier ones; only the newest snapshot reaches disk.
func (w *DebouncedWriter) Enqueue(creds *Credentials) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	w.pending = creds.Clone()
	if w.timer == nil {
		w.timer = time.AfterFunc(w.window, w.timerFlush)
	}
}

func (w *DebouncedWriter) timerFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
}

// Flush forces any pending write to complete before returning. The error
// of the write (current or previously failed background flush) is
// surfaced here.
func (w *DebouncedWriter) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
	return w.lastErr
}

// Close flushes outstanding state and stops the writer.
func (w *DebouncedWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
	w.closed = true
	return w.lastErr
}

// flushLocked writes the pending snapshot, if any. Caller holds the mutex;
// the underlying store serializes its own IO.
func (w *DebouncedWriter) flushLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.pending == nil {
		return
	}
	creds := w.pending
	w.pending = nil

	if err := w.store.Save(creds); err != nil {
		w.lastErr = err
		logrus.WithFields(logrus.Fields{
			"function": "flushLocked",
			"package":  "store",
			"error":    err.Error(),
		}).Error("Debounced credential write failed")
		return
	}
	w.lastErr = nil
	if w.OnFlush != nil {
		w.OnFlush(creds)
	}
}
