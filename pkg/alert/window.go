package alert

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"urgent-alert-relay/pkg/constants"
	"urgent-alert-relay/pkg/device"
	"urgent-alert-relay/pkg/metrics"
	"urgent-alert-relay/pkg/models"
	"urgent-alert-relay/pkg/store"
)

const uiTimeout = 2 * time.Second

type windowConfig struct {
	payload    models.AlertPayload
	window     time.Duration
	tick       time.Duration
	autoAccept time.Duration
	now        func() time.Time

	store    store.Store
	renderer device.Renderer
	notifier device.Notifier
	feedback device.Releaser
	wake     device.Releaser
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	// onTerminal runs once, after cleanup and persistence.
	onTerminal func(w *Window)
	// onHandoff runs after a handoff was written for the payload.
	onHandoff func(kind models.Kind)
}

// Window is one Decision Window: it presents a single alert and collects
// exactly one resolution. Active is the only non-terminal state.
type Window struct {
	cfg       windowConfig
	sessionID string
	deadline  time.Time

	mu           sync.Mutex
	state        models.SessionState
	resolution   models.Resolution
	cancelReason string
	started      bool

	stop       chan struct{}
	done       chan struct{}
	terminated chan struct{}
}

func newWindow(cfg windowConfig) *Window {
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if cfg.feedback == nil {
		cfg.feedback = device.Nop
	}
	if cfg.wake == nil {
		cfg.wake = device.Nop
	}

	return &Window{
		cfg:        cfg,
		sessionID:  uuid.New().String(),
		deadline:   cfg.payload.ReceivedAt.Add(cfg.window),
		state:      models.StateActive,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		terminated: make(chan struct{}),
	}
}

// start launches the countdown. A window whose deadline already passed
// expires on the first loop iteration.
func (w *Window) start() {
	w.mu.Lock()
	if w.state.Terminal() || w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.cfg.metrics.ActiveSessions.WithLabelValues(string(w.cfg.payload.Kind)).Inc()
	go w.run()
}

func (w *Window) run() {
	defer close(w.done)

	remaining := w.deadline.Sub(w.cfg.now())
	if remaining <= 0 {
		w.finish(models.StateExpired, models.ResolutionTimedOut, "", true)
		return
	}

	w.render()

	ticker := time.NewTicker(w.cfg.tick)
	defer ticker.Stop()

	deadline := time.NewTimer(remaining)
	defer deadline.Stop()

	var autoAccept <-chan time.Time
	if w.cfg.autoAccept > 0 {
		t := time.NewTimer(w.cfg.autoAccept)
		defer t.Stop()
		autoAccept = t.C
	}

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.render()
		case <-deadline.C:
			w.finish(models.StateExpired, models.ResolutionTimedOut, "", true)
			return
		case <-autoAccept:
			w.finish(models.StateResolved, models.ResolutionAccepted, "", true)
			return
		}
	}
}

func (w *Window) render() {
	w.mu.Lock()
	active := w.state == models.StateActive
	w.mu.Unlock()
	if !active {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), uiTimeout)
	defer cancel()

	if err := w.cfg.renderer.Render(ctx, w.renderRequest()); err != nil {
		w.cfg.logger.WithError(err).WithFields(w.fields()).Debug("Failed to render countdown frame")
	}
}

func (w *Window) renderRequest() models.RenderRequest {
	return models.RenderRequest{
		Kind:             w.cfg.payload.Kind,
		SessionID:        w.sessionID,
		PayloadID:        w.cfg.payload.ID,
		Fields:           models.DisplayFields(w.cfg.payload.Kind, w.cfg.payload.Fields),
		RemainingSeconds: w.Remaining(),
	}
}

// Remaining is the whole number of seconds left, rounded up, never negative.
func (w *Window) Remaining() int {
	return remainingSeconds(w.deadline, w.cfg.now())
}

func remainingSeconds(deadline, now time.Time) int {
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

// Accept resolves the window as accepted. If the window is already terminal
// the existing resolution is returned unchanged.
func (w *Window) Accept() models.Resolution {
	res, _ := w.finish(models.StateResolved, models.ResolutionAccepted, "", false)
	return res
}

// Reject resolves the window as rejected, with the same idempotency as Accept.
func (w *Window) Reject() models.Resolution {
	res, _ := w.finish(models.StateResolved, models.ResolutionRejected, "", false)
	return res
}

// Cancel aborts an active window without producing a handoff. It reports
// whether this call performed the transition.
func (w *Window) Cancel(reason string) bool {
	_, ok := w.finish(models.StateCancelled, models.ResolutionNone, reason, false)
	return ok
}

// Done is closed once the window is terminal and fully cleaned up.
func (w *Window) Done() <-chan struct{} {
	return w.terminated
}

func (w *Window) SessionID() string {
	return w.sessionID
}

func (w *Window) Payload() models.AlertPayload {
	return w.cfg.payload.Clone()
}

func (w *Window) Snapshot() models.AlertSession {
	w.mu.Lock()
	defer w.mu.Unlock()

	return models.AlertSession{
		SessionID:    w.sessionID,
		Payload:      w.cfg.payload.Clone(),
		Deadline:     w.deadline,
		State:        w.state,
		Resolution:   w.resolution,
		CancelReason: w.cancelReason,
	}
}

// finish performs the single Active -> terminal transition. The caller that
// loses the race gets the winner's resolution once cleanup is complete.
// fromLoop is set when called on the countdown goroutine itself.
func (w *Window) finish(state models.SessionState, resolution models.Resolution, reason string, fromLoop bool) (models.Resolution, bool) {
	w.mu.Lock()
	if w.state.Terminal() {
		existing := w.resolution
		w.mu.Unlock()
		if !fromLoop {
			<-w.terminated
		}
		return existing, false
	}
	w.state = state
	w.resolution = resolution
	w.cancelReason = reason
	started := w.started
	w.mu.Unlock()

	logger := w.cfg.logger.WithFields(w.fields())

	w.runStep("countdown", func() error {
		if !fromLoop && started {
			close(w.stop)
			<-w.done
		}
		return nil
	})
	w.runStep("feedback", w.cfg.feedback.Release)
	w.runStep("wake", w.cfg.wake.Release)
	w.runStep("notification", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), uiTimeout)
		defer cancel()
		return w.cfg.notifier.Dismiss(ctx, w.cfg.payload.Kind, w.sessionID)
	})
	w.runStep("screen", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), uiTimeout)
		defer cancel()
		return w.cfg.renderer.Close(ctx, w.cfg.payload.Kind, w.sessionID, closeReason(state, resolution, reason))
	})

	switch state {
	case models.StateResolved, models.StateExpired:
		w.persistHandoff(logger)
	case models.StateCancelled:
		w.clearPayload(logger)
	}

	kind := string(w.cfg.payload.Kind)
	if started {
		w.cfg.metrics.ActiveSessions.WithLabelValues(kind).Dec()
	}
	w.cfg.metrics.SessionResolutions.WithLabelValues(kind, string(state), string(resolution)).Inc()
	w.cfg.metrics.DecisionDuration.WithLabelValues(kind).Observe(w.cfg.now().Sub(w.cfg.payload.ReceivedAt).Seconds())

	logger.WithFields(logrus.Fields{
		"state":         state,
		"resolution":    resolution,
		"cancel_reason": reason,
	}).Info("Decision window finished")

	if w.cfg.onTerminal != nil {
		w.cfg.onTerminal(w)
	}
	close(w.terminated)

	return resolution, true
}

func (w *Window) persistHandoff(logger *logrus.Entry) {
	w.mu.Lock()
	resolution := w.resolution
	w.mu.Unlock()

	handoff := models.PendingHandoff{
		Kind:       w.cfg.payload.Kind,
		PayloadID:  w.cfg.payload.ID,
		SessionID:  w.sessionID,
		Resolution: resolution,
		Fields:     models.CloneFields(w.cfg.payload.Fields),
		ResolvedAt: w.cfg.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), uiTimeout)
	defer cancel()

	if err := w.cfg.store.Resolve(ctx, handoff); err != nil {
		logger.WithError(err).Error("Failed to persist handoff")
		return
	}
	if w.cfg.onHandoff != nil {
		w.cfg.onHandoff(handoff.Kind)
	}
}

func (w *Window) clearPayload(logger *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), uiTimeout)
	defer cancel()

	if err := w.cfg.store.ClearPayload(ctx, w.cfg.payload.Kind, w.cfg.payload.ID); err != nil {
		logger.WithError(err).Warn("Failed to clear cancelled payload")
	}
}

// suspend stops the countdown and releases device resources without a state
// transition, leaving the stored payload for the next process to recover.
func (w *Window) suspend() {
	w.mu.Lock()
	if w.state.Terminal() {
		w.mu.Unlock()
		return
	}
	started := w.started
	w.started = false
	w.mu.Unlock()

	if started {
		close(w.stop)
		<-w.done
		w.cfg.metrics.ActiveSessions.WithLabelValues(string(w.cfg.payload.Kind)).Dec()
	}
	w.runStep("feedback", w.cfg.feedback.Release)
	w.runStep("wake", w.cfg.wake.Release)
	w.runStep("screen", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), uiTimeout)
		defer cancel()
		return w.cfg.renderer.Close(ctx, w.cfg.payload.Kind, w.sessionID, constants.ReasonShutdown)
	})
}

// runStep runs one cleanup step; a failure is counted and logged but never
// stops the steps after it.
func (w *Window) runStep(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			w.stepFailed(step, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(); err != nil {
		w.stepFailed(step, err)
	}
}

func (w *Window) stepFailed(step string, err error) {
	w.cfg.metrics.CleanupFailures.WithLabelValues(step).Inc()
	w.cfg.logger.WithError(err).WithFields(w.fields()).WithField("step", step).Error("Cleanup step failed")
}

func (w *Window) fields() logrus.Fields {
	return logrus.Fields{
		"kind":       w.cfg.payload.Kind,
		"payload_id": w.cfg.payload.ID,
		"session_id": w.sessionID,
	}
}

func closeReason(state models.SessionState, resolution models.Resolution, reason string) string {
	if state == models.StateCancelled {
		return reason
	}
	return string(resolution)
}
