package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urgent-alert-relay/pkg/constants"
	"urgent-alert-relay/pkg/metrics"
	"urgent-alert-relay/pkg/models"
	"urgent-alert-relay/pkg/store"
)

// stepRecorder collects UI and release calls in the order they happen.
type stepRecorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *stepRecorder) record(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *stepRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps...)
}

func (r *stepRecorder) renders() int {
	n := 0
	for _, step := range r.snapshot() {
		if step == "render" {
			n++
		}
	}
	return n
}

type recordingReleaser struct {
	rec  *stepRecorder
	name string
}

func (r recordingReleaser) Release() error {
	r.rec.record(r.name)
	return nil
}

type recordingUI struct {
	rec *stepRecorder
}

func (u recordingUI) Show(ctx context.Context, session models.AlertSession) error {
	u.rec.record("show")
	return nil
}

func (u recordingUI) Dismiss(ctx context.Context, kind models.Kind, sessionID string) error {
	u.rec.record("dismiss")
	return nil
}

func (u recordingUI) Render(ctx context.Context, req models.RenderRequest) error {
	u.rec.record("render")
	return nil
}

func (u recordingUI) Close(ctx context.Context, kind models.Kind, sessionID, reason string) error {
	u.rec.record("close")
	return nil
}

func newRecordedWindow(rec *stepRecorder) *Window {
	logger, _ := test.NewNullLogger()
	ui := recordingUI{rec: rec}

	return newWindow(windowConfig{
		payload:  trip("T1", "250"),
		window:   20 * time.Second,
		tick:     time.Millisecond,
		store:    store.NewMemoryStore(),
		renderer: ui,
		notifier: ui,
		feedback: recordingReleaser{rec: rec, name: "feedback"},
		wake:     recordingReleaser{rec: rec, name: "wake"},
		logger:   logger,
		metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
	})
}

func TestWindow_CleanupRunsInOrder(t *testing.T) {
	decisions := map[string]func(w *Window){
		"accept": func(w *Window) { w.Accept() },
		"reject": func(w *Window) { w.Reject() },
		"cancel": func(w *Window) { w.Cancel(constants.ReasonTransport) },
	}

	for name, decide := range decisions {
		t.Run(name, func(t *testing.T) {
			rec := &stepRecorder{}
			w := newRecordedWindow(rec)
			w.start()

			require.Eventually(t, func() bool { return rec.renders() >= 3 }, time.Second, time.Millisecond)
			decide(w)

			steps := rec.snapshot()
			i := 0
			for i < len(steps) && steps[i] == "render" {
				i++
			}
			// Every frame precedes the first cleanup step: the countdown stopped first
			assert.Equal(t, []string{"feedback", "wake", "dismiss", "close"}, steps[i:])

			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, steps, rec.snapshot(), "nothing may run after the decision returns")
		})
	}
}

func TestWindow_ExpiryCleanupRunsInOrder(t *testing.T) {
	rec := &stepRecorder{}
	w := newRecordedWindow(rec)
	w.cfg.payload.ReceivedAt = time.Now().Add(-19950 * time.Millisecond)
	w.deadline = w.cfg.payload.ReceivedAt.Add(w.cfg.window)
	w.start()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("window did not expire")
	}

	steps := rec.snapshot()
	i := 0
	for i < len(steps) && steps[i] == "render" {
		i++
	}
	assert.Equal(t, []string{"feedback", "wake", "dismiss", "close"}, steps[i:])
	assert.Equal(t, models.ResolutionTimedOut, w.Snapshot().Resolution)
}
