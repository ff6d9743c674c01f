package device

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"urgent-alert-relay/pkg/metrics"
	"urgent-alert-relay/pkg/models"
)

func TestBounded_ExplicitReleaseStopsTimer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var releases, forced atomic.Int32
	b := NewBounded(ReleaseFunc(func() error {
		releases.Add(1)
		return nil
	}), 50*time.Millisecond, func() { forced.Add(1) })

	require.NoError(t, b.Release())
	require.NoError(t, b.Release())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), releases.Load())
	assert.Equal(t, int32(0), forced.Load())
	assert.False(t, b.Forced())
}

func TestBounded_HardTimerReleases(t *testing.T) {
	var releases, forced atomic.Int32
	b := NewBounded(ReleaseFunc(func() error {
		releases.Add(1)
		return nil
	}), 20*time.Millisecond, func() { forced.Add(1) })

	assert.Eventually(t, func() bool { return releases.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), forced.Load())
	assert.True(t, b.Forced())

	// The owner's later release is a no-op
	require.NoError(t, b.Release())
	assert.Equal(t, int32(1), releases.Load())
}

func TestBounded_ReturnsInnerError(t *testing.T) {
	boom := errors.New("boom")
	b := NewBounded(ReleaseFunc(func() error { return boom }), time.Minute, nil)
	assert.ErrorIs(t, b.Release(), boom)
}

func TestLocalWake_HeldCount(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	wake := NewLocalWake(logger, m)

	first, err := AcquireWake(wake, "trip", time.Minute, nil)
	require.NoError(t, err)
	second, err := AcquireWake(wake, "chat", 20*time.Millisecond, func() {
		m.ForcedReleases.WithLabelValues("wake").Inc()
	})
	require.NoError(t, err)

	assert.Equal(t, 2, wake.Held())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.WakeAssertionsHeld))

	// The short hold is forced off by its own timer
	assert.Eventually(t, func() bool { return wake.Held() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ForcedReleases.WithLabelValues("wake")))

	require.NoError(t, first.Release())
	require.NoError(t, second.Release())
	assert.Equal(t, 0, wake.Held())
	assert.Equal(t, 2, wake.Acquired())
	assert.Equal(t, float64(0), testutil.ToFloat64(m.WakeAssertionsHeld))
}

func TestLocalFeedback_PerKind(t *testing.T) {
	logger, _ := test.NewNullLogger()
	fb := NewLocalFeedback(logger)

	r, err := StartFeedback(fb, models.KindTripRequest, time.Minute, nil)
	require.NoError(t, err)
	assert.True(t, fb.Active(models.KindTripRequest))
	assert.False(t, fb.Active(models.KindChatMessage))

	require.NoError(t, r.Release())
	assert.False(t, fb.Active(models.KindTripRequest))

	_, err = fb.Start(models.Kind("sms"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHostState(t *testing.T) {
	h := NewHostState(false)
	assert.False(t, h.IsForeground())

	before := time.Now().Add(-time.Second)
	h.SetForeground(true)
	assert.True(t, h.IsForeground())
	assert.True(t, h.ChangedAt().After(before))
}

func TestVibrationPattern_IsCopy(t *testing.T) {
	p := VibrationPattern(models.KindTripRequest)
	require.Len(t, p, 6)
	p[1] = 0
	assert.Equal(t, int64(1000), VibrationPattern(models.KindTripRequest)[1])
}
