package device

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"urgent-alert-relay/pkg/metrics"
	"urgent-alert-relay/pkg/models"
)

// Vibration patterns in milliseconds: wait, buzz, pause, buzz...
var vibrationPatterns = map[models.Kind][]int64{
	models.KindTripRequest: {0, 1000, 500, 1000, 500, 1000},
	models.KindChatMessage: {0, 500, 200, 500, 200, 500},
}

// VibrationPattern returns the feedback pattern for kind.
func VibrationPattern(kind models.Kind) []int64 {
	return append([]int64(nil), vibrationPatterns[kind]...)
}

// LocalWake is the daemon's own wake assertion. It keeps a count of held
// assertions and exports it, so a leaked hold is visible on /metrics.
type LocalWake struct {
	held     atomic.Int32
	acquired atomic.Int64
	logger   *logrus.Logger
	metrics  *metrics.Metrics
}

func NewLocalWake(logger *logrus.Logger, metrics *metrics.Metrics) *LocalWake {
	return &LocalWake{logger: logger, metrics: metrics}
}

func (w *LocalWake) Acquire(tag string, timeout time.Duration) (Releaser, error) {
	w.held.Add(1)
	w.acquired.Add(1)
	w.metrics.WakeAssertionsHeld.Inc()

	w.logger.WithFields(logrus.Fields{
		"tag":     tag,
		"timeout": timeout.String(),
	}).Debug("Wake assertion acquired")

	return ReleaseFunc(func() error {
		w.held.Add(-1)
		w.metrics.WakeAssertionsHeld.Dec()
		w.logger.WithField("tag", tag).Debug("Wake assertion released")
		return nil
	}), nil
}

// Held is the number of assertions not yet released.
func (w *LocalWake) Held() int {
	return int(w.held.Load())
}

// Acquired is the number of assertions ever taken.
func (w *LocalWake) Acquired() int {
	return int(w.acquired.Load())
}

// LocalFeedback records which kinds are currently ringing. The actual sound
// and vibration are played by the UI process from the notify frame.
type LocalFeedback struct {
	active [2]atomic.Int32
	logger *logrus.Logger
}

func NewLocalFeedback(logger *logrus.Logger) *LocalFeedback {
	return &LocalFeedback{logger: logger}
}

func (f *LocalFeedback) slot(kind models.Kind) *atomic.Int32 {
	if kind == models.KindChatMessage {
		return &f.active[1]
	}
	return &f.active[0]
}

func (f *LocalFeedback) Start(kind models.Kind) (Releaser, error) {
	if !kind.Valid() {
		return nil, ErrUnavailable
	}

	f.slot(kind).Add(1)
	f.logger.WithFields(logrus.Fields{
		"kind":    kind,
		"pattern": vibrationPatterns[kind],
	}).Debug("Feedback started")

	return ReleaseFunc(func() error {
		f.slot(kind).Add(-1)
		f.logger.WithField("kind", kind).Debug("Feedback stopped")
		return nil
	}), nil
}

// Active reports whether feedback for kind is still playing.
func (f *LocalFeedback) Active(kind models.Kind) bool {
	return f.slot(kind).Load() > 0
}
