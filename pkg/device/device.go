// Package device holds the platform collaborators an alert needs: the host
// application's foreground state, the wake assertion, and alert feedback
// (sound and vibration). Every acquired resource has a hard release timer
// that runs independently of the code that acquired it.
package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"urgent-alert-relay/pkg/models"
)

// ErrUnavailable is returned when a resource cannot be acquired on this device.
var ErrUnavailable = errors.New("device resource unavailable")

// ForegroundProbe reports whether the host application is in the foreground.
// It is queried on every dispatch and must not be cached by callers.
type ForegroundProbe interface {
	IsForeground() bool
}

// Releaser gives back an acquired resource. Release must be idempotent.
type Releaser interface {
	Release() error
}

// WakeLock acquires a hold that keeps the device awake for at most timeout.
type WakeLock interface {
	Acquire(tag string, timeout time.Duration) (Releaser, error)
}

// Feedback starts the ringing/vibration pattern for an alert kind.
type Feedback interface {
	Start(kind models.Kind) (Releaser, error)
}

// Notifier shows and dismisses the system notification backing an alert.
type Notifier interface {
	Show(ctx context.Context, session models.AlertSession) error
	Dismiss(ctx context.Context, kind models.Kind, sessionID string) error
}

// Renderer is the UI layer: it draws countdown frames and is told to close.
type Renderer interface {
	Render(ctx context.Context, req models.RenderRequest) error
	Close(ctx context.Context, kind models.Kind, sessionID, reason string) error
}

// HostState is the process-wide view of the host application lifecycle.
// It starts backgrounded and is updated by the host as it moves between
// foreground and background.
type HostState struct {
	foreground atomic.Bool
	changedAt  atomic.Int64
}

func NewHostState(foreground bool) *HostState {
	h := &HostState{}
	h.SetForeground(foreground)
	return h
}

func (h *HostState) IsForeground() bool {
	return h.foreground.Load()
}

func (h *HostState) SetForeground(foreground bool) {
	h.foreground.Store(foreground)
	h.changedAt.Store(time.Now().UnixMilli())
}

func (h *HostState) ChangedAt() time.Time {
	return time.UnixMilli(h.changedAt.Load())
}

// ReleaseFunc adapts a function to Releaser; the function runs at most once.
func ReleaseFunc(fn func() error) Releaser {
	return &onceReleaser{fn: fn}
}

type onceReleaser struct {
	once sync.Once
	fn   func() error
	err  error
}

func (r *onceReleaser) Release() error {
	r.once.Do(func() {
		r.err = r.fn()
	})
	return r.err
}

// Nop is a Releaser that does nothing; used when a resource was unavailable.
var Nop Releaser = ReleaseFunc(func() error { return nil })
