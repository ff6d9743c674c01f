package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"urgent-alert-relay/pkg/alert"
	"urgent-alert-relay/pkg/constants"
	"urgent-alert-relay/pkg/device"
	"urgent-alert-relay/pkg/models"
	"urgent-alert-relay/pkg/transport"
)

const webhookTimeout = 5 * time.Second

// EventSink accepts inbound events from the push gateway.
type EventSink interface {
	Publish(ctx context.Context, eventType string, fields map[string]string, foregroundHint *bool) (string, error)
}

type Handler struct {
	manager      *alert.Manager
	bridge       *alert.Bridge
	host         *device.HostState
	events       EventSink
	logger       *logrus.Logger
	isLeaderFunc func() bool
	ping         func(ctx context.Context) error
}

func NewHandler(manager *alert.Manager, bridge *alert.Bridge, host *device.HostState, events EventSink, logger *logrus.Logger, isLeaderFunc func() bool, ping func(ctx context.Context) error) *Handler {
	return &Handler{
		manager:      manager,
		bridge:       bridge,
		host:         host,
		events:       events,
		logger:       logger,
		isLeaderFunc: isLeaderFunc,
		ping:         ping,
	}
}

// PublishEvent takes a raw push payload and queues it on the event stream.
func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Type       string            `json:"type"`
		Data       map[string]string `json:"data"`
		Foreground *bool             `json:"foreground,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.Type == "" {
		http.Error(w, "Missing event type", http.StatusBadRequest)
		return
	}

	messageID, err := h.events.Publish(r.Context(), request.Type, request.Data, request.Foreground)
	if err != nil {
		h.logger.WithError(err).WithField("event_type", request.Type).Error("Failed to queue event")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":    true,
		"message_id": messageID,
	})
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.manager.Sessions(),
	})
}

// GetSession returns the render state for kind, rebuilt from the store so a
// recreated alert screen resumes the countdown. Query parameters override
// stored display fields.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}

	overrides := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			overrides[key] = values[0]
		}
	}

	view, found, err := h.manager.View(r.Context(), kind, overrides)
	if err != nil {
		h.logger.WithError(err).WithField("kind", kind).Error("Failed to load alert view")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "No pending alert", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{"view": view}
	if session, ok := h.manager.Session(kind); ok {
		response["session"] = session
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.manager.Accept)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.manager.Reject)
}

// decide applies a decision to the session named by the optional id (payload
// or session id, from the query or body). A session that already finished
// answers with its existing outcome.
func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decision func(context.Context, models.Kind, string) (models.AlertSession, bool)) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}

	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	session, ok := decision(r.Context(), kind, id)
	if !ok {
		http.Error(w, "No matching alert", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":       kind,
		"session_id": session.SessionID,
		"payload_id": session.Payload.ID,
		"state":      session.State,
		"resolution": session.Resolution,
	})
}

func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if id := r.URL.Query().Get("id"); id != "" {
		return id, true
	}

	var request struct {
		ID string `json:"id"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return "", false
		}
	}
	return request.ID, true
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}

	var request struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	if request.Reason == "" {
		request.Reason = constants.ReasonDismissed
	}

	cancelled := h.manager.Cancel(r.Context(), kind, request.ID, request.Reason)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":      kind,
		"cancelled": cancelled,
	})
}

func (h *Handler) HostState(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Foreground *bool `json:"foreground"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.Foreground == nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	h.host.SetForeground(*request.Foreground)
	h.logger.WithField("foreground", *request.Foreground).Debug("Host state updated")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"foreground": h.host.IsForeground(),
	})
}

// Attach registers the host's callback URL; pending handoffs are pushed to it
// right away.
func (h *Handler) Attach(w http.ResponseWriter, r *http.Request) {
	var request struct {
		CallbackURL string `json:"callback_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.CallbackURL == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	h.bridge.Attach(transport.NewWebhookReceiver(request.CallbackURL, webhookTimeout))
	writeJSON(w, http.StatusOK, map[string]interface{}{"attached": true})
}

func (h *Handler) Detach(w http.ResponseWriter, r *http.Request) {
	h.bridge.Detach()
	writeJSON(w, http.StatusOK, map[string]interface{}{"attached": false})
}

// Handoff is the host's pull side: 200 with the decision, once, or 204.
func (h *Handler) Handoff(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}

	handoff, err := h.bridge.Consume(r.Context(), kind)
	if err != nil {
		h.logger.WithError(err).WithField("kind", kind).Error("Failed to consume handoff")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if handoff == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, handoff)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.ping(r.Context()); err != nil {
		http.Error(w, "Health check failed", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"is_leader": h.isLeaderFunc(),
		"timestamp": time.Now(),
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"is_leader":        h.isLeaderFunc(),
		"foreground":       h.host.IsForeground(),
		"foreground_since": h.host.ChangedAt(),
		"host_attached":    h.bridge.Attached(),
		"active_sessions":  len(h.manager.Sessions()),
		"timestamp":        time.Now(),
	})
}

func (h *Handler) kind(w http.ResponseWriter, r *http.Request) (models.Kind, bool) {
	kind, err := models.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return kind, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
