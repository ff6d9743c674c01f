package alert

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"urgent-alert-relay/pkg/constants"
	"urgent-alert-relay/pkg/models"
)

// Outcome is what Dispatch did with an event.
type Outcome string

const (
	Ignored    Outcome = "ignored"
	Suppressed Outcome = "suppressed"
	Promoted   Outcome = "promoted"
)

// Dispatch routes one alert payload. A foreground host suppresses it;
// otherwise it becomes the kind's Active Decision Window, superseding any
// prior one. Redelivery of the Active payload is a no-op that reports
// Promoted without touching the deadline. Dispatch never returns an error:
// persistence and device failures degrade the alert rather than drop it.
func (m *Manager) Dispatch(ctx context.Context, payload models.AlertPayload, foregroundHint *bool) (outcome Outcome) {
	outcome = Ignored
	defer func() {
		m.metrics.AlertsDispatched.WithLabelValues(string(payload.Kind), string(outcome)).Inc()
	}()
	defer m.guard("dispatch", payload.Kind)

	if !payload.Kind.Valid() {
		m.logger.WithField("kind", payload.Kind).Debug("Ignoring alert of unknown kind")
		return Ignored
	}

	if m.isForeground(foregroundHint) {
		m.logger.WithFields(logrus.Fields{
			"kind":       payload.Kind,
			"payload_id": payload.ID,
		}).Debug("Host in foreground, alert suppressed")
		return Suppressed
	}

	payload = payload.Clone()
	if payload.ID == "" {
		payload.ID = uuid.New().String()
	}
	if payload.ReceivedAt.IsZero() {
		payload.ReceivedAt = m.now()
	}

	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	logger := m.logger.WithFields(logrus.Fields{
		"kind":       payload.Kind,
		"payload_id": payload.ID,
	})

	if outcome, done := m.checkDuplicate(payload, logger); done {
		return outcome
	}

	if err := m.deps.Store.SavePayload(ctx, payload); err != nil {
		logger.WithError(err).Warn("Failed to persist alert payload, continuing without durability")
	}

	if prior := m.active(payload.Kind); prior != nil {
		prior.Cancel(constants.ReasonSuperseded)
	}

	wake, feedback := m.acquire(payload.Kind, m.opts.wakeMax(payload.Kind), logger)
	w := m.newWindow(payload, wake, feedback)

	if err := m.deps.Notifier.Show(ctx, w.Snapshot()); err != nil {
		logger.WithError(err).Warn("Failed to show alert notification")
	}

	m.register(w)
	w.start()

	logger.WithFields(logrus.Fields{
		"session_id": w.SessionID(),
		"deadline":   w.deadline,
	}).Info("Alert promoted to decision window")

	return Promoted
}

// checkDuplicate handles redelivery, late duplicates and ids that were
// cancelled before they arrived. Caller holds dispatchMu.
func (m *Manager) checkDuplicate(payload models.AlertPayload, logger *logrus.Entry) (Outcome, bool) {
	key := alertKey{payload.Kind, payload.ID}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		logger.Warn("Alert manager stopped, ignoring alert")
		return Ignored, true
	}
	if w := m.windows[payload.Kind]; w != nil && w.cfg.payload.ID == payload.ID {
		logger.Debug("Duplicate delivery of active alert")
		return Promoted, true
	}
	if m.terminated.contains(key, now) {
		logger.Debug("Late duplicate of a finished alert ignored")
		return Ignored, true
	}
	if m.earlyCancels.contains(key, now) {
		m.earlyCancels.remove(key)
		logger.Info("Alert was cancelled before it arrived, ignoring")
		return Ignored, true
	}
	return "", false
}

func (m *Manager) register(w *Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[w.cfg.payload.Kind] = w
}

// isForeground asks the probe on every call. The event's own hint is only
// trusted when no probe is wired.
func (m *Manager) isForeground(hint *bool) bool {
	if m.deps.Probe != nil {
		return m.deps.Probe.IsForeground()
	}
	return hint != nil && *hint
}
