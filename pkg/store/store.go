// Package store persists the most recent alert payload and the pending
// handoff for each alert kind so both survive a process restart.
package store

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"urgent-alert-relay/pkg/metrics"
	"urgent-alert-relay/pkg/models"
)

// Store holds one payload slot and one handoff slot per kind.
//
// Load and Take return (nil, nil) when the slot is empty.
type Store interface {
	SavePayload(ctx context.Context, payload models.AlertPayload) error
	LoadPayload(ctx context.Context, kind models.Kind) (*models.AlertPayload, error)
	// ClearPayload empties the payload slot if it still holds payloadID.
	// An empty payloadID clears unconditionally.
	ClearPayload(ctx context.Context, kind models.Kind, payloadID string) error
	// Resolve writes the handoff and clears the payload it was built from.
	Resolve(ctx context.Context, handoff models.PendingHandoff) error
	// TakeHandoff reads and clears the handoff slot in one step.
	TakeHandoff(ctx context.Context, kind models.Kind) (*models.PendingHandoff, error)
	// PeekHandoff reads the handoff slot without clearing it.
	PeekHandoff(ctx context.Context, kind models.Kind) (*models.PendingHandoff, error)
	// RestoreHandoff puts a handoff back only when the slot is empty.
	RestoreHandoff(ctx context.Context, handoff models.PendingHandoff) (bool, error)
	Close() error
}

// NewStore creates a store for the configured backend.
func NewStore(backend, dir string, rdb *redis.Client, logger *logrus.Logger, m *metrics.Metrics) (Store, error) {
	if backend == "" {
		backend = "redis"
	}

	switch backend {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis store backend requires a redis client")
		}
		return NewRedisStore(rdb, m), nil
	case "file":
		if dir == "" {
			return nil, fmt.Errorf("file store backend requires STORE_DIR")
		}
		return NewFileStore(dir)
	case "memory":
		logger.Warn("Using in-memory payload store; alerts will not survive a restart")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: redis, file, memory)", backend)
	}
}

func cloneHandoff(h models.PendingHandoff) models.PendingHandoff {
	h.Fields = models.CloneFields(h.Fields)
	return h
}
