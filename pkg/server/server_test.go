package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urgent-alert-relay/pkg/alert"
	"urgent-alert-relay/pkg/device"
	"urgent-alert-relay/pkg/handlers"
	"urgent-alert-relay/pkg/metrics"
	"urgent-alert-relay/pkg/models"
	"urgent-alert-relay/pkg/store"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
	fail   bool
}

func (s *recordingSink) Publish(ctx context.Context, eventType string, fields map[string]string, hint *bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", errors.New("stream unavailable")
	}
	s.events = append(s.events, eventType+":"+fields["tripId"])
	return "1-0", nil
}

type testServer struct {
	srv     *httptest.Server
	manager *alert.Manager
	bridge  *alert.Bridge
	host    *device.HostState
	sink    *recordingSink
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	st := store.NewMemoryStore()

	bridge := alert.NewBridge(st, 10*time.Millisecond, 2, logger, m)
	host := device.NewHostState(false)
	manager := alert.NewManager(alert.Deps{
		Store:  st,
		Bridge: bridge,
		Probe:  host,
		Wake:   device.NewLocalWake(logger, m),
	}, alert.Options{
		DecisionWindow: 20 * time.Second,
		ChatWindow:     20 * time.Second,
		WakeMax:        time.Minute,
		ChatWakeMax:    30 * time.Second,
		TickInterval:   time.Second,
	}, logger, m)

	sink := &recordingSink{}
	handler := handlers.NewHandler(manager, bridge, host, sink, logger,
		func() bool { return true },
		func(ctx context.Context) error { return nil },
	)

	srv := httptest.NewServer(NewRouter(handler, reg, logger))
	t.Cleanup(func() {
		srv.Close()
		manager.Close()
		bridge.Close()
	})

	return &testServer{srv: srv, manager: manager, bridge: bridge, host: host, sink: sink}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()

	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func dispatchTrip(t *testing.T, ts *testServer, id string) {
	t.Helper()
	outcome := ts.manager.Dispatch(context.Background(), models.AlertPayload{
		ID:         id,
		Kind:       models.KindTripRequest,
		Fields:     map[string]string{"tripId": id, "estimatedPrice": "250"},
		ReceivedAt: time.Now(),
	}, nil)
	require.Equal(t, alert.Promoted, outcome)
}

func TestPublishEvent(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "POST", "/events", `{"type":"new-trip-request","data":{"tripId":"T1"}}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "1-0", body["message_id"])
	assert.Equal(t, []string{"new-trip-request:T1"}, ts.sink.events)

	resp, _ = ts.do(t, "POST", "/events", `{"data":{}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ts.sink.fail = true
	resp, _ = ts.do(t, "POST", "/events", `{"type":"new-trip-request"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestSessionRejectAndHandoff(t *testing.T) {
	ts := newTestServer(t)
	dispatchTrip(t, ts, "T1")

	resp, body := ts.do(t, "GET", "/sessions/trip_request?pickup=Centro", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := body["view"].(map[string]interface{})
	fields := view["fields"].(map[string]interface{})
	assert.Equal(t, "Centro", fields["pickup"])
	assert.Equal(t, "Passenger", fields["user"])
	assert.NotNil(t, body["session"])

	resp, body = ts.do(t, "POST", "/sessions/trip_request/reject", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", body["resolution"])
	assert.Equal(t, "T1", body["payload_id"])

	// A late tap on the finished session reports its outcome
	resp, body = ts.do(t, "POST", "/sessions/trip_request/accept", `{"id":"T1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", body["resolution"])
	assert.Equal(t, "resolved", body["state"])

	resp, _ = ts.do(t, "POST", "/sessions/trip_request/accept?id=T404", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, "GET", "/handoff/trip_request", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", body["resolution"])
	assert.Equal(t, "250", body["fields"].(map[string]interface{})["estimatedPrice"])

	resp, _ = ts.do(t, "GET", "/handoff/trip_request", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestSessionCancel(t *testing.T) {
	ts := newTestServer(t)
	dispatchTrip(t, ts, "T2")

	resp, body := ts.do(t, "POST", "/sessions/trip_request/cancel", `{"id":"T2","reason":"trip_cancelled"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["cancelled"])

	resp, body = ts.do(t, "POST", "/sessions/trip_request/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["cancelled"])

	resp, _ = ts.do(t, "GET", "/sessions/trip_request", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, "GET", "/handoff/trip_request", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestUnknownKindRejected(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, "POST", "/sessions/sms/accept", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.do(t, "GET", "/handoff/sms", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHostStateSuppressesAlerts(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "POST", "/host/state", `{"foreground":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["foreground"])

	outcome := ts.manager.Dispatch(context.Background(), models.AlertPayload{ID: "C1", Kind: models.KindChatMessage}, nil)
	assert.Equal(t, alert.Suppressed, outcome)

	resp, _ = ts.do(t, "POST", "/host/state", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAttachPushesToCallback(t *testing.T) {
	ts := newTestServer(t)

	received := make(chan models.PendingHandoff, 1)
	host := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var h models.PendingHandoff
		if err := json.NewDecoder(r.Body).Decode(&h); err == nil {
			received <- h
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer host.Close()

	resp, _ := ts.do(t, "POST", "/host/attach", `{"callback_url":"`+host.URL+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dispatchTrip(t, ts, "T1")
	resp, _ = ts.do(t, "POST", "/sessions/trip_request/accept", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case h := <-received:
		assert.Equal(t, "T1", h.PayloadID)
		assert.Equal(t, models.ResolutionAccepted, h.Resolution)
	case <-time.After(2 * time.Second):
		t.Fatal("handoff was not pushed to the host")
	}

	resp, _ = ts.do(t, "DELETE", "/host/attach", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, ts.bridge.Attached())
}

func TestHealthStatusMetrics(t *testing.T) {
	ts := newTestServer(t)
	dispatchTrip(t, ts, "T1")

	resp, body := ts.do(t, "GET", "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, body = ts.do(t, "GET", "/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["active_sessions"])
	assert.Equal(t, true, body["is_leader"])
	assert.NotEmpty(t, body["foreground_since"])

	resp, _ = ts.do(t, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
