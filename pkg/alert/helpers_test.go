package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"urgent-alert-relay/pkg/device"
	"urgent-alert-relay/pkg/metrics"
	"urgent-alert-relay/pkg/models"
	"urgent-alert-relay/pkg/store"
)

type fakeUI struct {
	mu             sync.Mutex
	renders        []models.RenderRequest
	closeReasons   []string
	shown          int
	dismissed      int
	panicOnDismiss bool
}

func (f *fakeUI) Show(ctx context.Context, session models.AlertSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown++
	return nil
}

func (f *fakeUI) Dismiss(ctx context.Context, kind models.Kind, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnDismiss {
		panic("notification service gone")
	}
	f.dismissed++
	return nil
}

func (f *fakeUI) Render(ctx context.Context, req models.RenderRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders = append(f.renders, req)
	return nil
}

func (f *fakeUI) Close(ctx context.Context, kind models.Kind, sessionID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeReasons = append(f.closeReasons, reason)
	return nil
}

func (f *fakeUI) renderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.renders)
}

func (f *fakeUI) firstRender() models.RenderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renders[0]
}

func (f *fakeUI) reasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closeReasons...)
}

type fakeReceiver struct {
	mu          sync.Mutex
	failures    int
	unconfirmed bool
	delivered   []models.PendingHandoff
}

func (r *fakeReceiver) Deliver(ctx context.Context, handoff models.PendingHandoff) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return fmt.Errorf("host runtime not ready: %w", ErrNotDelivered)
	}
	r.delivered = append(r.delivered, handoff)
	if r.unconfirmed {
		return errors.New("timeout awaiting response headers")
	}
	return nil
}

func (r *fakeReceiver) deliveries() []models.PendingHandoff {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.PendingHandoff(nil), r.delivered...)
}

type panickingStore struct {
	store.Store
}

func (panickingStore) SavePayload(ctx context.Context, payload models.AlertPayload) error {
	panic("disk on fire")
}

type harness struct {
	mgr      *Manager
	bridge   *Bridge
	store    store.Store
	ui       *fakeUI
	wake     *device.LocalWake
	feedback *device.LocalFeedback
	host     *device.HostState
	metrics  *metrics.Metrics
	hook     *test.Hook
}

func testOptions() Options {
	return Options{
		DecisionWindow: 20 * time.Second,
		ChatWindow:     20 * time.Second,
		WakeMax:        60 * time.Second,
		ChatWakeMax:    30 * time.Second,
		TickInterval:   time.Second,
	}
}

func newHarness(t *testing.T, opts Options, st store.Store) *harness {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	m := metrics.NewMetrics(prometheus.NewRegistry())

	if st == nil {
		st = store.NewMemoryStore()
	}

	h := &harness{
		store:    st,
		ui:       &fakeUI{},
		wake:     device.NewLocalWake(logger, m),
		feedback: device.NewLocalFeedback(logger),
		host:     device.NewHostState(false),
		metrics:  m,
		hook:     hook,
	}
	h.bridge = NewBridge(st, 10*time.Millisecond, 2, logger, m)
	h.mgr = NewManager(Deps{
		Store:    st,
		Bridge:   h.bridge,
		Probe:    h.host,
		Wake:     h.wake,
		Feedback: h.feedback,
		Notifier: h.ui,
		Renderer: h.ui,
	}, opts, logger, m)

	t.Cleanup(func() {
		h.mgr.Close()
		h.bridge.Close()
	})

	return h
}

func trip(id, price string) models.AlertPayload {
	return models.AlertPayload{
		ID:         id,
		Kind:       models.KindTripRequest,
		Fields:     map[string]string{"tripId": id, "estimatedPrice": price, "pickup": "Av. 27 de Febrero"},
		ReceivedAt: time.Now(),
	}
}

func chat(id string) models.AlertPayload {
	return models.AlertPayload{
		ID:         id,
		Kind:       models.KindChatMessage,
		Fields:     map[string]string{"messageId": id, "tripId": "T9", "senderName": "Luis"},
		ReceivedAt: time.Now(),
	}
}

func waitDone(t *testing.T, w *Window) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("window %s did not terminate", w.SessionID())
	}
}

func hasMessage(hook *test.Hook, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Message == msg {
			return true
		}
	}
	return false
}
