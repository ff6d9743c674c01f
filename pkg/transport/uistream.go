package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"urgent-alert-relay/pkg/device"
	"urgent-alert-relay/pkg/models"
)

// Frame operations on the UI stream
const (
	OpRender  = "render"
	OpDismiss = "dismiss"
	OpNotify  = "notify"
)

const uiStreamMaxLen = 1000

// UIStream publishes alert frames for the UI process to draw. It implements
// both device.Renderer and device.Notifier.
type UIStream struct {
	rdb    *redis.Client
	stream string
}

var (
	_ device.Renderer = (*UIStream)(nil)
	_ device.Notifier = (*UIStream)(nil)
)

func NewUIStream(rdb *redis.Client, stream string) *UIStream {
	return &UIStream{rdb: rdb, stream: stream}
}

func (u *UIStream) Render(ctx context.Context, req models.RenderRequest) error {
	fields, err := json.Marshal(req.Fields)
	if err != nil {
		return fmt.Errorf("encode render fields: %w", err)
	}

	return u.add(ctx, map[string]interface{}{
		"op":         OpRender,
		"kind":       string(req.Kind),
		"session_id": req.SessionID,
		"payload_id": req.PayloadID,
		"remaining":  req.RemainingSeconds,
		"fields":     string(fields),
	})
}

// Close tells the alert screen to go away.
func (u *UIStream) Close(ctx context.Context, kind models.Kind, sessionID, reason string) error {
	return u.add(ctx, map[string]interface{}{
		"op":         OpDismiss,
		"kind":       string(kind),
		"session_id": sessionID,
		"reason":     reason,
	})
}

// Show posts the full-screen notification, with the vibration pattern the UI
// should play.
func (u *UIStream) Show(ctx context.Context, session models.AlertSession) error {
	pattern, err := json.Marshal(device.VibrationPattern(session.Payload.Kind))
	if err != nil {
		return fmt.Errorf("encode vibration pattern: %w", err)
	}

	return u.add(ctx, map[string]interface{}{
		"op":         OpNotify,
		"action":     "show",
		"kind":       string(session.Payload.Kind),
		"session_id": session.SessionID,
		"payload_id": session.Payload.ID,
		"deadline":   strconv.FormatInt(session.Deadline.UnixMilli(), 10),
		"vibration":  string(pattern),
	})
}

func (u *UIStream) Dismiss(ctx context.Context, kind models.Kind, sessionID string) error {
	return u.add(ctx, map[string]interface{}{
		"op":         OpNotify,
		"action":     "cancel",
		"kind":       string(kind),
		"session_id": sessionID,
	})
}

func (u *UIStream) add(ctx context.Context, values map[string]interface{}) error {
	err := u.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: u.stream,
		MaxLen: uiStreamMaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish %s frame: %w", values["op"], err)
	}
	return nil
}
