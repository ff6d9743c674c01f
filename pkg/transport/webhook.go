package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"urgent-alert-relay/pkg/alert"
	"urgent-alert-relay/pkg/models"
)

// WebhookReceiver delivers handoffs to the host application by POSTing them
// as JSON to its callback URL. A refused connection or a non-2xx answer is
// reported as not delivered; an error after the request went out is not.
type WebhookReceiver struct {
	url    string
	client *http.Client
}

func NewWebhookReceiver(url string, timeout time.Duration) *WebhookReceiver {
	return &WebhookReceiver{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (r *WebhookReceiver) Deliver(ctx context.Context, handoff models.PendingHandoff) error {
	body, err := json.Marshal(handoff)
	if err != nil {
		return fmt.Errorf("encode handoff: %w: %w", alert.ErrNotDelivered, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build handoff request: %w: %w", alert.ErrNotDelivered, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return fmt.Errorf("connect to host: %w: %w", alert.ErrNotDelivered, err)
		}
		return fmt.Errorf("post handoff: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("host rejected handoff with status %d: %w", resp.StatusCode, alert.ErrNotDelivered)
	}
	return nil
}
