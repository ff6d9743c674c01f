package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"urgent-alert-relay/pkg/metrics"
	"urgent-alert-relay/pkg/models"
	"urgent-alert-relay/pkg/store"
)

// ErrNotAttached is returned by a push attempt while no receiver is attached.
var ErrNotAttached = errors.New("no handoff receiver attached")

// ErrNotDelivered marks a Deliver failure where the host certainly did not
// get the handoff, so it can be put back and retried.
var ErrNotDelivered = errors.New("handoff not delivered")

var errOutcomeUnknown = errors.New("handoff push outcome unknown")

// Receiver is the host application's side of the Resume Bridge. Deliver
// wraps ErrNotDelivered when nothing reached the host; any other error is
// treated as a possible delivery and the handoff is not offered again.
type Receiver interface {
	Deliver(ctx context.Context, handoff models.PendingHandoff) error
}

// Bridge hands resolved decisions to the host application. The durable
// handoff slot in the store is the source of truth: a push takes it, and
// puts it back only if delivery certainly failed, so a handoff is consumed at
// most once whether the host pulls it or receives a push.
type Bridge struct {
	store       store.Store
	retryDelay  time.Duration
	maxAttempts int
	logger      *logrus.Logger
	metrics     *metrics.Metrics

	mu       sync.RWMutex
	receiver Receiver
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBridge(store store.Store, retryDelay time.Duration, maxAttempts int, logger *logrus.Logger, metrics *metrics.Metrics) *Bridge {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Bridge{
		store:       store,
		retryDelay:  retryDelay,
		maxAttempts: maxAttempts,
		logger:      logger,
		metrics:     metrics,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Consume returns the pending handoff for kind and clears it. A second call
// returns nil until another decision is made.
func (b *Bridge) Consume(ctx context.Context, kind models.Kind) (*models.PendingHandoff, error) {
	handoff, err := b.store.TakeHandoff(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("take handoff: %w", err)
	}
	if handoff != nil {
		b.metrics.HandoffDeliveries.WithLabelValues(string(kind), "pulled").Inc()
		b.logger.WithFields(logrus.Fields{
			"kind":       kind,
			"payload_id": handoff.PayloadID,
			"resolution": handoff.Resolution,
		}).Info("Handoff consumed by host")
	}
	return handoff, nil
}

// Attach registers the host receiver and pushes anything already pending.
func (b *Bridge) Attach(r Receiver) {
	b.mu.Lock()
	b.receiver = r
	b.mu.Unlock()

	b.logger.Info("Host receiver attached")
	for _, kind := range models.Kinds {
		b.Notify(kind)
	}
}

func (b *Bridge) Detach() {
	b.mu.Lock()
	b.receiver = nil
	b.mu.Unlock()

	b.logger.Info("Host receiver detached")
}

func (b *Bridge) Attached() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.receiver != nil
}

// Notify starts an asynchronous push of kind's pending handoff.
func (b *Bridge) Notify(kind models.Kind) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		b.push(kind)
	}()
}

func (b *Bridge) push(kind models.Kind) {
	logger := b.logger.WithField("kind", kind)

	_, err := backoff.Retry(b.ctx, func() (bool, error) {
		return true, b.deliverOnce(kind)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(b.retryDelay)),
		backoff.WithMaxTries(uint(b.maxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WithError(err).WithField("retry_in", next.String()).Debug("Handoff push failed, retrying")
		}),
	)
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, context.Canceled):
	case errors.Is(err, ErrNotAttached):
		b.metrics.HandoffDeliveries.WithLabelValues(string(kind), "awaiting_pull").Inc()
		logger.Info("No host receiver attached, handoff left for the host to pull")
	case errors.Is(err, errOutcomeUnknown):
		b.metrics.HandoffDeliveries.WithLabelValues(string(kind), "unconfirmed").Inc()
		logger.WithError(err).Warn("Handoff push may have reached the host, not offering it again")
	default:
		b.metrics.HandoffDeliveries.WithLabelValues(string(kind), "dropped").Inc()
		logger.WithError(err).Warn("Handoff push failed, leaving it for the host to pull")
	}
}

func (b *Bridge) deliverOnce(kind models.Kind) error {
	b.mu.RLock()
	receiver := b.receiver
	b.mu.RUnlock()

	if receiver == nil {
		return ErrNotAttached
	}

	handoff, err := b.store.TakeHandoff(b.ctx, kind)
	if err != nil {
		return fmt.Errorf("take handoff: %w", err)
	}
	if handoff == nil {
		return nil
	}

	if err := receiver.Deliver(b.ctx, *handoff); err != nil {
		if !errors.Is(err, ErrNotDelivered) {
			// The host may hold it already; offering it again could apply it twice.
			return backoff.Permanent(fmt.Errorf("%w: %w", errOutcomeUnknown, err))
		}
		// Put it back unless a newer decision already took the slot.
		if _, rerr := b.store.RestoreHandoff(context.Background(), *handoff); rerr != nil {
			b.logger.WithError(rerr).WithField("kind", kind).Error("Failed to restore handoff after failed push")
		}
		return fmt.Errorf("deliver handoff: %w", err)
	}

	b.metrics.HandoffDeliveries.WithLabelValues(string(kind), "pushed").Inc()
	b.logger.WithFields(logrus.Fields{
		"kind":       kind,
		"payload_id": handoff.PayloadID,
		"resolution": handoff.Resolution,
	}).Info("Handoff pushed to host")
	return nil
}

// Close stops pending retries and waits for in-flight pushes.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}
