// Package transport connects the alert manager to the outside world: inbound
// events arrive on a Redis stream, render and dismiss frames go out on
// another, and resolved decisions are pushed to the host over HTTP.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"urgent-alert-relay/pkg/alert"
	"urgent-alert-relay/pkg/constants"
	"urgent-alert-relay/pkg/models"
)

// ErrMalformed marks an event that can never be processed. The consumer
// acknowledges such events instead of retrying them.
var ErrMalformed = errors.New("malformed event")

// Dispatcher is the part of the alert manager the router drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload models.AlertPayload, foregroundHint *bool) alert.Outcome
	Cancel(ctx context.Context, kind models.Kind, id, reason string) bool
}

// Router maps transport event types onto dispatches and cancellations.
// Unknown types are ignored: the transport may deliver anything.
type Router struct {
	dispatcher Dispatcher
	logger     *logrus.Logger
}

func NewRouter(dispatcher Dispatcher, logger *logrus.Logger) *Router {
	return &Router{dispatcher: dispatcher, logger: logger}
}

// NormalizeType lower-cases an event type and uses dashes as separators.
func NormalizeType(eventType string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(eventType)), "_", "-")
}

func (r *Router) Handle(ctx context.Context, ev models.Event) error {
	eventType := NormalizeType(ev.Type)
	logger := r.logger.WithField("event_type", eventType)

	switch eventType {
	case constants.EventNewTripRequest:
		id := ev.Fields["tripId"]
		if id == "" {
			return fmt.Errorf("%w: %s without tripId", ErrMalformed, eventType)
		}
		outcome := r.dispatcher.Dispatch(ctx, payloadFor(models.KindTripRequest, id, ev), ev.ForegroundHint)
		logger.WithFields(logrus.Fields{"id": id, "outcome": outcome}).Debug("Routed trip request")

	case constants.EventChatMessage, constants.EventNewChatMessage:
		id := ev.Fields["messageId"]
		if id == "" {
			id = ev.Fields["tripId"]
		}
		outcome := r.dispatcher.Dispatch(ctx, payloadFor(models.KindChatMessage, id, ev), ev.ForegroundHint)
		logger.WithFields(logrus.Fields{"id": id, "outcome": outcome}).Debug("Routed chat message")

	case constants.EventTripCancelled:
		id := ev.Fields["tripId"]
		if id == "" {
			return fmt.Errorf("%w: %s without tripId", ErrMalformed, eventType)
		}
		r.dispatcher.Cancel(ctx, models.KindTripRequest, id, constants.ReasonTransport)

	case constants.EventAlertDismissed:
		kind, err := models.ParseKind(ev.Fields["kind"])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		r.dispatcher.Cancel(ctx, kind, ev.Fields["id"], constants.ReasonDismissed)

	default:
		logger.Debug("Ignoring event of unknown type")
	}

	return nil
}

func payloadFor(kind models.Kind, id string, ev models.Event) models.AlertPayload {
	return models.AlertPayload{
		ID:         id,
		Kind:       kind,
		Fields:     models.CloneFields(ev.Fields),
		ReceivedAt: ev.ReceivedAt,
	}
}
