// Package alert implements the urgent-alert state machine: the dispatcher
// that promotes transport events into Decision Windows, the windows
// themselves, cancellation, startup recovery, and the Resume Bridge that
// hands resolutions to the host application.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"urgent-alert-relay/pkg/config"
	"urgent-alert-relay/pkg/constants"
	"urgent-alert-relay/pkg/device"
	"urgent-alert-relay/pkg/metrics"
	"urgent-alert-relay/pkg/models"
	"urgent-alert-relay/pkg/store"
)

// Options holds the timing parameters of the alert flow.
type Options struct {
	DecisionWindow time.Duration
	ChatWindow     time.Duration
	WakeMax        time.Duration
	ChatWakeMax    time.Duration
	TickInterval   time.Duration
	ChatAutoOpen   time.Duration
	CancelGrace    time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DecisionWindow: cfg.DecisionWindow(),
		ChatWindow:     cfg.ChatWindow(),
		WakeMax:        cfg.WakeMax(),
		ChatWakeMax:    cfg.ChatWakeMax(),
		TickInterval:   cfg.TickInterval(),
		ChatAutoOpen:   cfg.ChatAutoOpen(),
		CancelGrace:    cfg.CancelGrace(),
	}
}

func (o Options) window(kind models.Kind) time.Duration {
	if kind == models.KindChatMessage {
		return o.ChatWindow
	}
	return o.DecisionWindow
}

func (o Options) wakeMax(kind models.Kind) time.Duration {
	if kind == models.KindChatMessage {
		return o.ChatWakeMax
	}
	return o.WakeMax
}

func (o Options) autoAccept(kind models.Kind) time.Duration {
	if kind == models.KindChatMessage {
		return o.ChatAutoOpen
	}
	return 0
}

// Deps are the collaborators of the Manager. Probe, Wake and Feedback may be
// nil; the flow then runs without them.
type Deps struct {
	Store    store.Store
	Bridge   *Bridge
	Probe    device.ForegroundProbe
	Wake     device.WakeLock
	Feedback device.Feedback
	Notifier device.Notifier
	Renderer device.Renderer
}

// Manager is the single alert-processing context for a device. Dispatch and
// Cancel are serialized; decisions from the UI go straight to the window.
type Manager struct {
	deps    Deps
	opts    Options
	logger  *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// dispatchMu serializes Dispatch, Cancel and Recover.
	dispatchMu sync.Mutex

	// mu guards the registry only; windows call back into it on termination.
	mu           sync.Mutex
	windows      map[models.Kind]*Window
	terminated   *expiringSet
	earlyCancels *expiringSet
	closed       bool
}

func NewManager(deps Deps, opts Options, logger *logrus.Logger, metrics *metrics.Metrics) *Manager {
	if deps.Notifier == nil {
		deps.Notifier = nopUI{}
	}
	if deps.Renderer == nil {
		deps.Renderer = nopUI{}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}

	longest := opts.DecisionWindow
	if opts.ChatWindow > longest {
		longest = opts.ChatWindow
	}

	return &Manager{
		deps:         deps,
		opts:         opts,
		logger:       logger,
		metrics:      metrics,
		now:          time.Now,
		windows:      make(map[models.Kind]*Window),
		terminated:   newExpiringSet(longest * constants.DuplicateMemoryFactor),
		earlyCancels: newExpiringSet(opts.CancelGrace),
	}
}

// active returns the Active window for kind, if any.
func (m *Manager) active(kind models.Kind) *Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windows[kind]
}

// Session returns a snapshot of the Active session for kind.
func (m *Manager) Session(kind models.Kind) (models.AlertSession, bool) {
	w := m.active(kind)
	if w == nil {
		return models.AlertSession{}, false
	}
	return w.Snapshot(), true
}

// Sessions returns snapshots of every Active session.
func (m *Manager) Sessions() []models.AlertSession {
	m.mu.Lock()
	windows := make([]*Window, 0, len(m.windows))
	for _, kind := range models.Kinds {
		if w, ok := m.windows[kind]; ok {
			windows = append(windows, w)
		}
	}
	m.mu.Unlock()

	sessions := make([]models.AlertSession, 0, len(windows))
	for _, w := range windows {
		sessions = append(sessions, w.Snapshot())
	}
	return sessions
}

// Accept resolves the session of kind matching id as accepted. id may be a
// payload id or a session id; empty means the Active session, or the most
// recently finished one when none is Active. A session that is already
// terminal is returned unchanged. The second return is false when no session
// matches.
func (m *Manager) Accept(ctx context.Context, kind models.Kind, id string) (session models.AlertSession, ok bool) {
	defer m.guard("accept", kind)
	return m.decide(kind, id, (*Window).Accept)
}

// Reject resolves the matching session of kind as rejected, with the same
// matching rules as Accept.
func (m *Manager) Reject(ctx context.Context, kind models.Kind, id string) (session models.AlertSession, ok bool) {
	defer m.guard("reject", kind)
	return m.decide(kind, id, (*Window).Reject)
}

func (m *Manager) decide(kind models.Kind, id string, decision func(*Window) models.Resolution) (models.AlertSession, bool) {
	now := m.now()

	m.mu.Lock()
	w := m.windows[kind]
	if w != nil && (id == "" || id == w.cfg.payload.ID || id == w.sessionID) {
		m.mu.Unlock()
		decision(w)
		return w.Snapshot(), true
	}
	finished, _ := m.terminated.get(alertKey{kind, id}, now)
	m.mu.Unlock()

	if finished == nil {
		return models.AlertSession{}, false
	}
	return *finished, true
}

// Close stops every running countdown and releases device resources. Active
// sessions keep their stored payload so Recover can resume them.
func (m *Manager) Close() {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	m.closed = true
	windows := make([]*Window, 0, len(m.windows))
	for _, w := range m.windows {
		windows = append(windows, w)
	}
	m.windows = make(map[models.Kind]*Window)
	m.mu.Unlock()

	for _, w := range windows {
		w.suspend()
	}
	m.logger.WithField("suspended", len(windows)).Info("Alert manager stopped")
}

func (m *Manager) onTerminal(w *Window) {
	session := w.Snapshot()
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	kind := w.cfg.payload.Kind
	if m.windows[kind] == w {
		delete(m.windows, kind)
	}
	m.remember(session, now)
}

// remember records a finished session under its payload id, its session id
// and, as the latest outcome for the kind, the empty id.
func (m *Manager) remember(session models.AlertSession, now time.Time) {
	kind := session.Payload.Kind
	m.terminated.put(alertKey{kind, session.Payload.ID}, &session, now)
	m.terminated.put(alertKey{kind, session.SessionID}, &session, now)
	m.terminated.put(alertKey{kind, ""}, &session, now)
}

func (m *Manager) onHandoff(kind models.Kind) {
	if m.deps.Bridge != nil {
		m.deps.Bridge.Notify(kind)
	}
}

// newWindow builds a window for payload owning the given resources.
func (m *Manager) newWindow(payload models.AlertPayload, wake, feedback device.Releaser) *Window {
	kind := payload.Kind
	return newWindow(windowConfig{
		payload:    payload,
		window:     m.opts.window(kind),
		tick:       m.opts.TickInterval,
		autoAccept: m.opts.autoAccept(kind),
		now:        m.now,
		store:      m.deps.Store,
		renderer:   m.deps.Renderer,
		notifier:   m.deps.Notifier,
		feedback:   feedback,
		wake:       wake,
		logger:     m.logger,
		metrics:    m.metrics,
		onTerminal: m.onTerminal,
		onHandoff:  m.onHandoff,
	})
}

// acquire takes the bounded wake assertion and feedback for kind. Failures
// are logged and the alert continues UI-only.
func (m *Manager) acquire(kind models.Kind, max time.Duration, logger *logrus.Entry) (wake, feedback device.Releaser) {
	wake, feedback = device.Nop, device.Nop
	if max <= 0 {
		return wake, feedback
	}

	if m.deps.Wake != nil {
		b, err := device.AcquireWake(m.deps.Wake, "alert:"+string(kind), max, m.forced("wake", logger))
		if err != nil {
			logger.WithError(err).Warn("Failed to acquire wake assertion, alerting without it")
		} else {
			wake = b
		}
	}

	if m.deps.Feedback != nil {
		b, err := device.StartFeedback(m.deps.Feedback, kind, max, m.forced("feedback", logger))
		if err != nil {
			logger.WithError(err).Warn("Failed to start alert feedback")
		} else {
			feedback = b
		}
	}

	return wake, feedback
}

func (m *Manager) forced(resource string, logger *logrus.Entry) func() {
	return func() {
		m.metrics.ForcedReleases.WithLabelValues(resource).Inc()
		logger.WithField("resource", resource).Warn("Resource hit its hard release timer")
	}
}

// guard turns a panic at a public boundary into a log line.
func (m *Manager) guard(op string, kind models.Kind) {
	if r := recover(); r != nil {
		m.logger.WithFields(logrus.Fields{
			"operation": op,
			"kind":      kind,
			"panic":     r,
		}).Error("Recovered from panic in alert manager")
	}
}

type nopUI struct{}

func (nopUI) Show(context.Context, models.AlertSession) error { return nil }
func (nopUI) Dismiss(context.Context, models.Kind, string) error { return nil }
func (nopUI) Render(context.Context, models.RenderRequest) error { return nil }
func (nopUI) Close(context.Context, models.Kind, string, string) error { return nil }
