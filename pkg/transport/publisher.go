package transport

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Publisher appends inbound events to the device's event stream. The push
// gateway endpoint uses it so every event, whatever its origin, is handled by
// the single lease-holding consumer.
type Publisher struct {
	rdb    *redis.Client
	stream string
	logger *logrus.Logger
}

func NewPublisher(rdb *redis.Client, stream string, logger *logrus.Logger) *Publisher {
	return &Publisher{rdb: rdb, stream: stream, logger: logger}
}

// Publish adds an event and returns its stream entry id.
func (p *Publisher) Publish(ctx context.Context, eventType string, fields map[string]string, foregroundHint *bool) (string, error) {
	values := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		values[k] = v
	}
	values[typeField] = eventType
	if foregroundHint != nil {
		values[foregroundField] = strconv.FormatBool(*foregroundHint)
	}

	messageID, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add event to stream: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_type": eventType,
		"message_id": messageID,
	}).Debug("Published alert event to stream")

	return messageID, nil
}
