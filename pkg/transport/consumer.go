package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"urgent-alert-relay/pkg/config"
	"urgent-alert-relay/pkg/metrics"
	"urgent-alert-relay/pkg/models"
)

const (
	typeField       = "type"
	foregroundField = "foreground"
	readCount       = 10
	readBlock       = time.Second
	claimMinIdle    = time.Minute
	recoveryEvery   = 30 * time.Second
	leaseWait       = 250 * time.Millisecond
)

// EventHandler processes one decoded inbound event.
type EventHandler interface {
	Handle(ctx context.Context, ev models.Event) error
}

// Gate reports whether this instance may consume; normally the device lease.
type Gate interface {
	Held() bool
}

// StreamConsumer reads inbound events from the device's Redis stream through
// a consumer group. Events are acknowledged once handled; a failed event
// stays pending and is re-claimed by the recovery loop.
type StreamConsumer struct {
	rdb          *redis.Client
	stream       string
	group        string
	consumerName string
	gate         Gate
	handler      EventHandler
	logger       *logrus.Logger
	metrics      *metrics.Metrics

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewStreamConsumer(rdb *redis.Client, cfg *config.Config, gate Gate, handler EventHandler, logger *logrus.Logger, metrics *metrics.Metrics) *StreamConsumer {
	return &StreamConsumer{
		rdb:          rdb,
		stream:       cfg.EventsStream,
		group:        cfg.ConsumerGroupName,
		consumerName: fmt.Sprintf("consumer-%s", cfg.DeviceID),
		gate:         gate,
		handler:      handler,
		logger:       logger,
		metrics:      metrics,
		stopCh:       make(chan struct{}),
	}
}

func (sc *StreamConsumer) Start(ctx context.Context) error {
	if err := sc.createConsumerGroup(ctx); err != nil {
		return err
	}

	sc.logger.WithFields(logrus.Fields{
		"stream":        sc.stream,
		"consumer_name": sc.consumerName,
	}).Info("Starting stream consumer")

	sc.wg.Add(2)
	go sc.consumeLoop(ctx)
	go sc.pendingMessagesRecovery(ctx)

	return nil
}

// Stop ends both loops and waits for the in-flight read to return.
func (sc *StreamConsumer) Stop() {
	sc.stopOnce.Do(func() {
		close(sc.stopCh)
	})
	sc.wg.Wait()
}

func (sc *StreamConsumer) createConsumerGroup(ctx context.Context) error {
	// Start from the beginning so events published before the first run are seen.
	err := sc.rdb.XGroupCreateMkStream(ctx, sc.stream, sc.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	sc.logger.WithField("consumer_group", sc.group).Info("Consumer group ready")
	return nil
}

func (sc *StreamConsumer) consumeLoop(ctx context.Context) {
	defer sc.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sc.stopCh:
			return
		default:
		}

		if sc.gate != nil && !sc.gate.Held() {
			select {
			case <-ctx.Done():
				return
			case <-sc.stopCh:
				return
			case <-time.After(leaseWait):
			}
			continue
		}

		sc.consumeMessages(ctx)
	}
}

func (sc *StreamConsumer) consumeMessages(ctx context.Context) {
	start := time.Now()

	streams, err := sc.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    sc.group,
		Consumer: sc.consumerName,
		Streams:  []string{sc.stream, ">"},
		Count:    readCount,
		Block:    readBlock,
	}).Result()

	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			sc.logger.WithError(err).Error("Failed to read from stream")
			// Avoid spinning while Redis is unreachable.
			select {
			case <-sc.stopCh:
			case <-time.After(readBlock):
			}
		}
		return
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			sc.processMessage(ctx, message)
		}
	}

	if len(streams) > 0 {
		sc.metrics.StreamProcessingDuration.Observe(time.Since(start).Seconds())
	}
}

func (sc *StreamConsumer) processMessage(ctx context.Context, message redis.XMessage) {
	logger := sc.logger.WithField("message_id", message.ID)

	ev, err := ParseEvent(message)
	if err != nil {
		logger.WithError(err).Error("Failed to parse alert event")
		sc.metrics.StreamMessagesProcessed.WithLabelValues("parse_error").Inc()
		// Acknowledge message to prevent reprocessing
		sc.acknowledge(ctx, message.ID, logger)
		return
	}

	if err := sc.handler.Handle(ctx, ev); err != nil {
		if errors.Is(err, ErrMalformed) {
			logger.WithError(err).Warn("Dropping malformed alert event")
			sc.metrics.StreamMessagesProcessed.WithLabelValues("rejected").Inc()
			sc.acknowledge(ctx, message.ID, logger)
			return
		}
		logger.WithError(err).Error("Failed to handle alert event")
		sc.metrics.StreamMessagesProcessed.WithLabelValues("handler_error").Inc()
		// Don't acknowledge - let it retry
		return
	}

	if !sc.acknowledge(ctx, message.ID, logger) {
		return
	}

	sc.metrics.StreamMessagesProcessed.WithLabelValues("success").Inc()
	logger.WithField("event_type", ev.Type).Debug("Processed alert event")
}

func (sc *StreamConsumer) acknowledge(ctx context.Context, messageID string, logger *logrus.Entry) bool {
	if err := sc.rdb.XAck(ctx, sc.stream, sc.group, messageID).Err(); err != nil {
		logger.WithError(err).Error("Failed to acknowledge message")
		return false
	}
	return true
}

func (sc *StreamConsumer) pendingMessagesRecovery(ctx context.Context) {
	defer sc.wg.Done()

	ticker := time.NewTicker(recoveryEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sc.stopCh:
			return
		case <-ticker.C:
			if sc.gate == nil || sc.gate.Held() {
				sc.processPendingMessages(ctx, claimMinIdle)
			}
		}
	}
}

// processPendingMessages re-claims events that were delivered but never
// acknowledged, for example after a crash mid-handle.
func (sc *StreamConsumer) processPendingMessages(ctx context.Context, minIdle time.Duration) {
	pending, err := sc.rdb.XPending(ctx, sc.stream, sc.group).Result()
	if err != nil {
		sc.logger.WithError(err).Error("Failed to get pending messages")
		return
	}

	if pending.Count == 0 {
		return
	}

	sc.logger.WithField("pending_count", pending.Count).Info("Processing pending messages")

	messages, _, err := sc.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   sc.stream,
		Group:    sc.group,
		Consumer: sc.consumerName,
		MinIdle:  minIdle,
		Count:    readCount,
		Start:    "0-0",
	}).Result()

	if err != nil {
		sc.logger.WithError(err).Error("Failed to auto-claim pending messages")
		return
	}

	for _, message := range messages {
		sc.processMessage(ctx, message)
	}
}

// ParseEvent decodes a stream entry. The entry id supplies the receipt time.
func ParseEvent(message redis.XMessage) (models.Event, error) {
	ev := models.Event{Fields: make(map[string]string, len(message.Values))}

	for key, raw := range message.Values {
		value, ok := raw.(string)
		if !ok {
			value = fmt.Sprint(raw)
		}

		switch key {
		case typeField:
			ev.Type = value
		case foregroundField:
			hint, err := strconv.ParseBool(value)
			if err != nil {
				return models.Event{}, fmt.Errorf("invalid foreground hint %q: %w", value, err)
			}
			ev.ForegroundHint = &hint
		default:
			ev.Fields[key] = value
		}
	}

	if ev.Type == "" {
		return models.Event{}, fmt.Errorf("missing or invalid type")
	}

	receivedAt, err := entryTime(message.ID)
	if err != nil {
		return models.Event{}, err
	}
	ev.ReceivedAt = receivedAt

	return ev, nil
}

func entryTime(id string) (time.Time, error) {
	ms, _, _ := strings.Cut(id, "-")
	millis, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stream entry id %q: %w", id, err)
	}
	return time.UnixMilli(millis), nil
}
