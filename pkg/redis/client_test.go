package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Connects(t *testing.T) {
	mr := miniredis.RunT(t)
	logger, hook := test.NewNullLogger()

	cfg := DefaultConnectionConfig()
	cfg.URL = "redis://" + mr.Addr()

	client, err := NewClient(cfg, logger)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	assert.NoError(t, client.Ping(ctx))
	require.NoError(t, client.GetRedisClient().Set(ctx, "k", "v", 0).Err())

	value, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
	assert.Equal(t, "Connected to Redis", hook.LastEntry().Message)
}

func TestNewClient_BadURL(t *testing.T) {
	logger, _ := test.NewNullLogger()

	cfg := DefaultConnectionConfig()
	cfg.URL = "://nope"

	_, err := NewClient(cfg, logger)
	assert.Error(t, err)
}

func TestNewClient_Unreachable(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := DefaultConnectionConfig()
	cfg.URL = "redis://127.0.0.1:1"
	cfg.DialTimeout = 200 * time.Millisecond
	cfg.MaxRetries = 0

	_, err := NewClient(cfg, logger)
	assert.Error(t, err)
}
