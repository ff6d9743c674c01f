package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"urgent-alert-relay/pkg/constants"
	"urgent-alert-relay/pkg/metrics"
	"urgent-alert-relay/pkg/models"
)

// Payloads live in a hash {id, data} so the id-guarded clear can compare
// without decoding JSON inside Lua.
var (
	clearPayloadScript = redis.NewScript(`
		if redis.call("HGET", KEYS[1], "id") == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`)

	resolveScript = redis.NewScript(`
		if ARGV[2] == "" or redis.call("HGET", KEYS[1], "id") == ARGV[2] then
			redis.call("DEL", KEYS[1])
		end
		redis.call("SET", KEYS[2], ARGV[1])
		return 1
	`)

	takeScript = redis.NewScript(`
		local value = redis.call("GET", KEYS[1])
		if value then
			redis.call("DEL", KEYS[1])
		end
		return value
	`)
)

// RedisStore implements Store on a Redis instance reachable by every process
// that takes part in an alert.
type RedisStore struct {
	rdb     *redis.Client
	metrics *metrics.Metrics
}

func NewRedisStore(rdb *redis.Client, metrics *metrics.Metrics) *RedisStore {
	return &RedisStore{
		rdb:     rdb,
		metrics: metrics,
	}
}

func payloadKey(kind models.Kind) string {
	return constants.PayloadKeyPrefix + string(kind)
}

func handoffKey(kind models.Kind) string {
	return constants.HandoffKeyPrefix + string(kind)
}

func (s *RedisStore) observe(operation string, start time.Time) {
	s.metrics.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (s *RedisStore) SavePayload(ctx context.Context, payload models.AlertPayload) error {
	defer s.observe("save_payload", time.Now())

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, payloadKey(payload.Kind))
	pipe.HSet(ctx, payloadKey(payload.Kind), "id", payload.ID, "data", string(data))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save payload: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadPayload(ctx context.Context, kind models.Kind) (*models.AlertPayload, error) {
	defer s.observe("load_payload", time.Now())

	data, err := s.rdb.HGet(ctx, payloadKey(kind), "data").Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load payload: %w", err)
	}

	var payload models.AlertPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("invalid payload format: %w", err)
	}
	return &payload, nil
}

func (s *RedisStore) ClearPayload(ctx context.Context, kind models.Kind, payloadID string) error {
	defer s.observe("clear_payload", time.Now())

	var err error
	if payloadID == "" {
		err = s.rdb.Del(ctx, payloadKey(kind)).Err()
	} else {
		err = clearPayloadScript.Run(ctx, s.rdb, []string{payloadKey(kind)}, payloadID).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to clear payload: %w", err)
	}
	return nil
}

func (s *RedisStore) Resolve(ctx context.Context, handoff models.PendingHandoff) error {
	defer s.observe("resolve", time.Now())

	data, err := json.Marshal(handoff)
	if err != nil {
		return fmt.Errorf("failed to marshal handoff: %w", err)
	}

	keys := []string{payloadKey(handoff.Kind), handoffKey(handoff.Kind)}
	if err := resolveScript.Run(ctx, s.rdb, keys, string(data), handoff.PayloadID).Err(); err != nil {
		return fmt.Errorf("failed to write handoff: %w", err)
	}
	return nil
}

func (s *RedisStore) TakeHandoff(ctx context.Context, kind models.Kind) (*models.PendingHandoff, error) {
	defer s.observe("take_handoff", time.Now())

	data, err := takeScript.Run(ctx, s.rdb, []string{handoffKey(kind)}).Text()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to take handoff: %w", err)
	}
	return decodeHandoff(data)
}

func (s *RedisStore) PeekHandoff(ctx context.Context, kind models.Kind) (*models.PendingHandoff, error) {
	defer s.observe("peek_handoff", time.Now())

	data, err := s.rdb.Get(ctx, handoffKey(kind)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read handoff: %w", err)
	}
	return decodeHandoff(data)
}

func (s *RedisStore) RestoreHandoff(ctx context.Context, handoff models.PendingHandoff) (bool, error) {
	defer s.observe("restore_handoff", time.Now())

	data, err := json.Marshal(handoff)
	if err != nil {
		return false, fmt.Errorf("failed to marshal handoff: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, handoffKey(handoff.Kind), string(data), 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to restore handoff: %w", err)
	}
	return ok, nil
}

// Close is a no-op; the shared client is closed by its owner.
func (s *RedisStore) Close() error {
	return nil
}

func decodeHandoff(data string) (*models.PendingHandoff, error) {
	var handoff models.PendingHandoff
	if err := json.Unmarshal([]byte(data), &handoff); err != nil {
		return nil, fmt.Errorf("invalid handoff format: %w", err)
	}
	return &handoff, nil
}
