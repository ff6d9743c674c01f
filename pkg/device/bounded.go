package device

import (
	"sync"
	"time"

	"urgent-alert-relay/pkg/models"
)

// Bounded wraps a Releaser with a hard upper-bound timer. Whichever comes
// first, an explicit Release or the timer, releases the inner resource; the
// other becomes a no-op.
type Bounded struct {
	inner Releaser
	timer *time.Timer

	mu       sync.Mutex
	released bool
	forced   bool
	err      error
}

func NewBounded(inner Releaser, max time.Duration, onForced func()) *Bounded {
	b := &Bounded{inner: inner}
	b.timer = time.AfterFunc(max, func() {
		if b.release(true) && onForced != nil {
			onForced()
		}
	})
	return b
}

// Release stops the hard timer and releases the resource.
func (b *Bounded) Release() error {
	b.timer.Stop()
	b.release(false)

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Forced reports whether the hard timer performed the release.
func (b *Bounded) Forced() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.forced
}

func (b *Bounded) release(forced bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return false
	}
	b.released = true
	b.forced = forced
	b.err = b.inner.Release()
	return true
}

// AcquireWake takes a wake assertion capped at max regardless of what the
// platform lock does with its own timeout.
func AcquireWake(lock WakeLock, tag string, max time.Duration, onForced func()) (*Bounded, error) {
	r, err := lock.Acquire(tag, max)
	if err != nil {
		return nil, err
	}
	return NewBounded(r, max, onForced), nil
}

// StartFeedback starts alert feedback capped at max.
func StartFeedback(fb Feedback, kind models.Kind, max time.Duration, onForced func()) (*Bounded, error) {
	r, err := fb.Start(kind)
	if err != nil {
		return nil, err
	}
	return NewBounded(r, max, onForced), nil
}
