package models

import (
	"fmt"
	"time"
)

// Kind is the category of an urgent alert
type Kind string

const (
	KindTripRequest Kind = "trip_request"
	KindChatMessage Kind = "chat_message"
)

// Kinds lists every known alert kind
var Kinds = []Kind{KindTripRequest, KindChatMessage}

func (k Kind) Valid() bool {
	switch k {
	case KindTripRequest, KindChatMessage:
		return true
	default:
		return false
	}
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown alert kind %q", s)
	}
	return k, nil
}

// AlertPayload is the immutable record delivered by the transport
type AlertPayload struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Fields     map[string]string `json:"fields"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Clone returns a deep copy so callers never share the fields map
func (p AlertPayload) Clone() AlertPayload {
	p.Fields = CloneFields(p.Fields)
	return p
}

// SessionState is the Decision Window lifecycle state
type SessionState string

const (
	StateActive    SessionState = "active"
	StateResolved  SessionState = "resolved"
	StateCancelled SessionState = "cancelled"
	StateExpired   SessionState = "expired"
)

func (s SessionState) Terminal() bool {
	return s != StateActive
}

// Resolution is the decision a session produced
type Resolution string

const (
	ResolutionNone     Resolution = ""
	ResolutionAccepted Resolution = "accepted"
	ResolutionRejected Resolution = "rejected"
	ResolutionTimedOut Resolution = "timed_out"
)

// AlertSession is a point-in-time view of one Decision Window
type AlertSession struct {
	SessionID    string       `json:"session_id"`
	Payload      AlertPayload `json:"payload"`
	Deadline     time.Time    `json:"deadline"`
	State        SessionState `json:"state"`
	Resolution   Resolution   `json:"resolution,omitempty"`
	CancelReason string       `json:"cancel_reason,omitempty"`
}

// PendingHandoff carries a resolution to the host application
type PendingHandoff struct {
	Kind       Kind              `json:"kind"`
	PayloadID  string            `json:"payload_id"`
	SessionID  string            `json:"session_id"`
	Resolution Resolution        `json:"resolution"`
	Fields     map[string]string `json:"fields"`
	ResolvedAt time.Time         `json:"resolved_at"`
}

// Event represents an inbound transport event
type Event struct {
	Type           string            `json:"type"`
	Fields         map[string]string `json:"fields"`
	ForegroundHint *bool             `json:"foreground_hint,omitempty"`
	ReceivedAt     time.Time         `json:"received_at"`
}

// RenderRequest is pushed to the UI layer on every countdown tick
type RenderRequest struct {
	Kind             Kind              `json:"kind"`
	SessionID        string            `json:"session_id"`
	PayloadID        string            `json:"payload_id"`
	Fields           map[string]string `json:"fields"`
	RemainingSeconds int               `json:"remaining_seconds"`
}

// tripDisplayDefaults fill gaps in what the alert screen shows
var tripDisplayDefaults = map[string]string{
	"user":           "Passenger",
	"pickup":         "Pickup location",
	"destination":    "Destination",
	"estimatedPrice": "0",
	"paymentMethod":  "cash",
}

// DisplayFields returns fields with per-kind display defaults applied
func DisplayFields(kind Kind, fields map[string]string) map[string]string {
	out := CloneFields(fields)
	if kind != KindTripRequest {
		return out
	}
	for key, value := range tripDisplayDefaults {
		if out[key] == "" {
			out[key] = value
		}
	}
	return out
}

func CloneFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
