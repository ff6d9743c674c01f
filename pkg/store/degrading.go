package store

import (
	"context"

	"github.com/sirupsen/logrus"

	"urgent-alert-relay/pkg/metrics"
	"urgent-alert-relay/pkg/models"
)

// Degrading wraps a durable store with an in-memory fallback. When the
// primary fails the operation is logged and served from memory, so an
// unavailable store never blocks a decision. Methods only return an error if
// the fallback itself fails.
type Degrading struct {
	primary  Store
	fallback *MemoryStore
	logger   *logrus.Logger
	metrics  *metrics.Metrics
}

func NewDegrading(primary Store, logger *logrus.Logger, metrics *metrics.Metrics) *Degrading {
	return &Degrading{
		primary:  primary,
		fallback: NewMemoryStore(),
		logger:   logger,
		metrics:  metrics,
	}
}

func (d *Degrading) degraded(operation string, kind models.Kind, err error) {
	d.metrics.StoreDegraded.WithLabelValues(operation).Inc()
	d.logger.WithError(err).WithFields(logrus.Fields{
		"operation": operation,
		"kind":      kind,
	}).Warn("Payload store unavailable, continuing in memory")
}

func (d *Degrading) SavePayload(ctx context.Context, payload models.AlertPayload) error {
	if err := d.primary.SavePayload(ctx, payload); err != nil {
		d.degraded("save_payload", payload.Kind, err)
		return d.fallback.SavePayload(ctx, payload)
	}
	// A newer durable copy supersedes anything parked in memory.
	return d.fallback.ClearPayload(ctx, payload.Kind, "")
}

func (d *Degrading) LoadPayload(ctx context.Context, kind models.Kind) (*models.AlertPayload, error) {
	payload, err := d.primary.LoadPayload(ctx, kind)
	if err != nil {
		d.degraded("load_payload", kind, err)
		return d.fallback.LoadPayload(ctx, kind)
	}
	if payload == nil {
		return d.fallback.LoadPayload(ctx, kind)
	}
	return payload, nil
}

func (d *Degrading) ClearPayload(ctx context.Context, kind models.Kind, payloadID string) error {
	if err := d.primary.ClearPayload(ctx, kind, payloadID); err != nil {
		d.degraded("clear_payload", kind, err)
	}
	return d.fallback.ClearPayload(ctx, kind, payloadID)
}

func (d *Degrading) Resolve(ctx context.Context, handoff models.PendingHandoff) error {
	if err := d.primary.Resolve(ctx, handoff); err != nil {
		d.degraded("resolve", handoff.Kind, err)
		return d.fallback.Resolve(ctx, handoff)
	}
	// The slot holds one handoff per kind; a parked one is now stale.
	d.fallback.DropHandoff(handoff.Kind)
	return d.fallback.ClearPayload(ctx, handoff.Kind, handoff.PayloadID)
}

// TakeHandoff drains both slots and returns the newer handoff. The older one
// belongs to an earlier alert and is discarded.
func (d *Degrading) TakeHandoff(ctx context.Context, kind models.Kind) (*models.PendingHandoff, error) {
	handoff, err := d.primary.TakeHandoff(ctx, kind)
	if err != nil {
		d.degraded("take_handoff", kind, err)
	}
	parked, err := d.fallback.TakeHandoff(ctx, kind)
	if err != nil {
		return nil, err
	}
	return newer(handoff, parked), nil
}

func (d *Degrading) PeekHandoff(ctx context.Context, kind models.Kind) (*models.PendingHandoff, error) {
	handoff, err := d.primary.PeekHandoff(ctx, kind)
	if err != nil {
		d.degraded("peek_handoff", kind, err)
	}
	parked, err := d.fallback.PeekHandoff(ctx, kind)
	if err != nil {
		return nil, err
	}
	return newer(handoff, parked), nil
}

func newer(a, b *models.PendingHandoff) *models.PendingHandoff {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.ResolvedAt.After(a.ResolvedAt):
		return b
	default:
		return a
	}
}

func (d *Degrading) RestoreHandoff(ctx context.Context, handoff models.PendingHandoff) (bool, error) {
	ok, err := d.primary.RestoreHandoff(ctx, handoff)
	if err != nil {
		d.degraded("restore_handoff", handoff.Kind, err)
		return d.fallback.RestoreHandoff(ctx, handoff)
	}
	return ok, nil
}

func (d *Degrading) Close() error {
	return d.primary.Close()
}
