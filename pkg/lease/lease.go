// Package lease makes sure a single daemon instance owns a device's event
// stream at a time. The lease is a Redis key set with NX and a TTL that the
// holder keeps renewing.
package lease

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"urgent-alert-relay/pkg/constants"
	"urgent-alert-relay/pkg/metrics"
)

var renewScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

var resignScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

type Lease struct {
	rdb        *redis.Client
	key        string
	holderID   string
	ttl        time.Duration
	renewEvery time.Duration
	logger     *logrus.Logger
	metrics    *metrics.Metrics

	mu   sync.Mutex
	held bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(rdb *redis.Client, deviceID string, ttl time.Duration, logger *logrus.Logger, metrics *metrics.Metrics) *Lease {
	if ttl <= 0 {
		ttl = constants.SecondsToDuration(constants.DefaultLeaseTTLSeconds)
	}
	renewEvery := ttl / 3
	if renewEvery <= 0 {
		renewEvery = constants.SecondsToDuration(constants.DefaultLeaseRenewIntervalSeconds)
	}

	return &Lease{
		rdb:        rdb,
		key:        constants.LeaseKeyPrefix + deviceID,
		holderID:   deviceID + "/" + uuid.New().String(),
		ttl:        ttl,
		renewEvery: renewEvery,
		logger:     logger,
		metrics:    metrics,
		stopCh:     make(chan struct{}),
	}
}

// Start makes a first attempt right away, then keeps renewing or retrying.
func (l *Lease) Start(ctx context.Context) error {
	l.logger.WithFields(logrus.Fields{
		"key":    l.key,
		"holder": l.holderID,
	}).Info("Starting device lease")

	l.Tick(ctx)

	l.wg.Add(1)
	go l.loop(ctx)
	return nil
}

// Stop ends the renew loop and gives the lease up if held.
func (l *Lease) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	l.wg.Wait()

	if l.Held() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		l.resign(ctx)
	}
}

func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *Lease) HolderID() string {
	return l.holderID
}

func (l *Lease) loop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick renews a held lease or tries to take a free one.
func (l *Lease) Tick(ctx context.Context) {
	if l.Held() {
		l.renew(ctx)
		return
	}
	l.tryAcquire(ctx)
}

func (l *Lease) tryAcquire(ctx context.Context) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.holderID, l.ttl).Result()
	if err != nil {
		l.logger.WithError(err).Error("Failed to attempt device lease")
		return
	}
	if !ok {
		return
	}

	l.setHeld(true)
	l.metrics.LeaseChanges.Inc()
	l.logger.WithField("holder", l.holderID).Info("Acquired device lease")
}

func (l *Lease) renew(ctx context.Context) {
	renewed, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.holderID, l.ttl.Milliseconds()).Int64()
	if err != nil {
		l.logger.WithError(err).Error("Failed to renew device lease")
		l.setHeld(false)
		return
	}

	if renewed == 0 {
		l.logger.Warn("Device lease renewal failed - held by another instance")
		l.setHeld(false)
	}
}

func (l *Lease) resign(ctx context.Context) {
	if err := resignScript.Run(ctx, l.rdb, []string{l.key}, l.holderID).Err(); err != nil {
		l.logger.WithError(err).Error("Failed to release device lease")
	} else {
		l.logger.Info("Released device lease")
	}
	l.setHeld(false)
}

func (l *Lease) setHeld(held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = held
}
