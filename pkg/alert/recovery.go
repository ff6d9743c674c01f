package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"urgent-alert-relay/pkg/models"
)

// Recover resumes alerts that were in flight when the previous process died.
// For each stored payload: if its handoff was already written the payload is
// just cleared; if its deadline passed it resolves as timed out; otherwise a
// Decision Window is recreated with the time that is left.
func (m *Manager) Recover(ctx context.Context) (recovered int, err error) {
	defer m.guard("recover", "")

	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	var errs []error
	for _, kind := range models.Kinds {
		resumed, err := m.recoverKind(ctx, kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("recover %s: %w", kind, err))
			continue
		}
		if resumed {
			recovered++
		}
	}

	m.logger.WithField("resumed", recovered).Info("Alert recovery complete")
	return recovered, errors.Join(errs...)
}

func (m *Manager) recoverKind(ctx context.Context, kind models.Kind) (bool, error) {
	payload, err := m.deps.Store.LoadPayload(ctx, kind)
	if err != nil {
		return false, fmt.Errorf("load payload: %w", err)
	}
	if payload == nil || m.active(kind) != nil {
		return false, nil
	}

	logger := m.logger.WithFields(logrus.Fields{
		"kind":       kind,
		"payload_id": payload.ID,
	})

	handoff, err := m.deps.Store.PeekHandoff(ctx, kind)
	if err != nil {
		return false, fmt.Errorf("peek handoff: %w", err)
	}
	if handoff != nil && handoff.PayloadID == payload.ID {
		logger.Info("Stored alert already resolved, clearing payload")
		return false, m.deps.Store.ClearPayload(ctx, kind, payload.ID)
	}

	now := m.now()
	elapsed := now.Sub(payload.ReceivedAt)
	if elapsed >= m.opts.window(kind) {
		sessionID := uuid.New().String()
		if err := m.deps.Store.Resolve(ctx, models.PendingHandoff{
			Kind:       kind,
			PayloadID:  payload.ID,
			SessionID:  sessionID,
			Resolution: models.ResolutionTimedOut,
			Fields:     models.CloneFields(payload.Fields),
			ResolvedAt: now.UTC(),
		}); err != nil {
			return false, fmt.Errorf("resolve expired alert: %w", err)
		}

		m.metrics.SessionResolutions.WithLabelValues(string(kind), string(models.StateExpired), string(models.ResolutionTimedOut)).Inc()
		m.mu.Lock()
		m.remember(models.AlertSession{
			SessionID:  sessionID,
			Payload:    payload.Clone(),
			Deadline:   payload.ReceivedAt.Add(m.opts.window(kind)),
			State:      models.StateExpired,
			Resolution: models.ResolutionTimedOut,
		}, now)
		m.mu.Unlock()

		logger.Info("Stored alert expired while the process was down")
		m.onHandoff(kind)
		return false, nil
	}

	wake, feedback := m.acquire(kind, m.opts.wakeMax(kind)-elapsed, logger)
	w := m.newWindow(*payload, wake, feedback)
	if err := m.deps.Notifier.Show(ctx, w.Snapshot()); err != nil {
		logger.WithError(err).Warn("Failed to show alert notification")
	}
	m.register(w)
	w.start()

	logger.WithFields(logrus.Fields{
		"session_id": w.SessionID(),
		"remaining":  w.Remaining(),
	}).Info("Resumed decision window from stored payload")

	return true, nil
}

// View rebuilds what the alert screen should show for kind. A recreated
// screen uses it so the countdown continues from the original receipt time.
// Fields passed by the caller win over stored ones; missing display fields
// get their defaults. The second return is false when nothing is pending.
func (m *Manager) View(ctx context.Context, kind models.Kind, overrides map[string]string) (models.RenderRequest, bool, error) {
	if !kind.Valid() {
		return models.RenderRequest{}, false, fmt.Errorf("unknown alert kind %q", kind)
	}

	payload, err := m.deps.Store.LoadPayload(ctx, kind)
	if err != nil {
		return models.RenderRequest{}, false, fmt.Errorf("load payload: %w", err)
	}

	w := m.active(kind)
	if payload == nil {
		if w == nil {
			return models.RenderRequest{}, false, nil
		}
		p := w.Payload()
		payload = &p
	}

	fields := models.CloneFields(payload.Fields)
	for k, v := range overrides {
		if v != "" {
			fields[k] = v
		}
	}

	req := models.RenderRequest{
		Kind:             kind,
		PayloadID:        payload.ID,
		Fields:           models.DisplayFields(kind, fields),
		RemainingSeconds: remainingSeconds(payload.ReceivedAt.Add(m.opts.window(kind)), m.now()),
	}
	if w != nil && w.cfg.payload.ID == payload.ID {
		req.SessionID = w.SessionID()
	}
	return req, true, nil
}
