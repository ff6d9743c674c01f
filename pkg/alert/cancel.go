package alert

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"urgent-alert-relay/pkg/models"
)

type alertKey struct {
	kind models.Kind
	id   string
}

// expiringSet remembers keys for a fixed period. It is used both for ids that
// already reached a terminal state, with the final session attached, and for
// cancellations that arrived before their alert. Callers hold the Manager lock.
type expiringSet struct {
	ttl     time.Duration
	entries map[alertKey]expiring
}

type expiring struct {
	expires time.Time
	session *models.AlertSession
}

func newExpiringSet(ttl time.Duration) *expiringSet {
	return &expiringSet{ttl: ttl, entries: make(map[alertKey]expiring)}
}

func (s *expiringSet) add(key alertKey, now time.Time) {
	s.put(key, nil, now)
}

func (s *expiringSet) put(key alertKey, session *models.AlertSession, now time.Time) {
	if s.ttl <= 0 {
		return
	}
	s.entries[key] = expiring{expires: now.Add(s.ttl), session: session}
}

// get returns the session stored under key; ok is false once it expired.
func (s *expiringSet) get(key alertKey, now time.Time) (*models.AlertSession, bool) {
	s.prune(now)
	e, ok := s.entries[key]
	return e.session, ok
}

func (s *expiringSet) contains(key alertKey, now time.Time) bool {
	_, ok := s.get(key, now)
	return ok
}

func (s *expiringSet) remove(key alertKey) {
	delete(s.entries, key)
}

func (s *expiringSet) prune(now time.Time) {
	for key, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, key)
		}
	}
}

// Cancel aborts the Active session of kind whose payload id or session id
// matches id. An empty id cancels whatever is Active for the kind. A cancel
// for a terminal or unknown session is a no-op; with a grace period
// configured, an unknown id is remembered so a late-arriving alert for it is
// ignored. Cancel reports whether a session was cancelled.
func (m *Manager) Cancel(ctx context.Context, kind models.Kind, id, reason string) (cancelled bool) {
	defer m.guard("cancel", kind)

	if !kind.Valid() {
		return false
	}

	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	logger := m.logger.WithFields(logrus.Fields{
		"kind":   kind,
		"id":     id,
		"reason": reason,
	})

	w := m.active(kind)
	if w == nil || (id != "" && id != w.cfg.payload.ID && id != w.SessionID()) {
		m.bufferCancel(kind, id, logger)
		return false
	}

	if !w.Cancel(reason) {
		logger.Debug("Cancel ignored, session already terminal")
		return false
	}
	return true
}

func (m *Manager) bufferCancel(kind models.Kind, id string, logger *logrus.Entry) {
	if id == "" {
		logger.Debug("Cancel ignored, no active session")
		return
	}

	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminated.contains(alertKey{kind, id}, now) {
		logger.Debug("Cancel ignored, session already terminal")
		return
	}
	if m.opts.CancelGrace <= 0 {
		logger.Debug("Cancel ignored, no matching session")
		return
	}

	m.earlyCancels.add(alertKey{kind, id}, now)
	logger.WithField("grace", m.opts.CancelGrace.String()).Info("Buffered cancellation for alert not yet received")
}
