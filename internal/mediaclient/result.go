package mediaclient

import (
	"context"
	"sync"
	"time"
)

// Result is the pending outcome of an open or close. It resolves exactly once: when the engine
// answers, when its timer fires, or when the engine disconnects.
type Result struct {
	once sync.Once
	done chan struct{}
	err  error

	mu    sync.Mutex
	timer *time.Timer
}

func newResult() *Result {
	return &Result{done: make(chan struct{})}
}

// resolvedResult returns a Result that is already complete
func resolvedResult(err error) *Result {
	r := newResult()
	r.resolve(err)
	return r
}

// arm starts the timeout. onTimeout runs on the timer goroutine.
func (r *Result) arm(d time.Duration, onTimeout func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
		return
	default:
	}
	r.timer = time.AfterFunc(d, onTimeout)
}

// resolve completes the result and stops its timer. It reports whether this call was the
// one that resolved it.
func (r *Result) resolve(err error) bool {
	resolved := false
	r.once.Do(func() {
		r.mu.Lock()
		if r.timer != nil {
			r.timer.Stop()
		}
		r.err = err
		close(r.done)
		r.mu.Unlock()
		resolved = true
	})
	return resolved
}

// Done is closed once the result has resolved.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Err returns the outcome, or nil while the result is still pending.
func (r *Result) Err() error {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the result resolves or ctx ends. Giving up on ctx does not cancel the
// operation; it still completes by response or timeout.
func (r *Result) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
