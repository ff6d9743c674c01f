package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"urgent-alert-relay/pkg/constants"
)

type Config struct {
	RedisURL          string
	DeviceID          string
	Port              string
	LogLevel          string
	StoreBackend      string
	StoreDir          string
	EventsStream      string
	UIStream          string
	ConsumerGroupName string
	LeaseTTL          int
	HostCallbackURL   string

	DecisionWindowMS   int64
	ChatWindowMS       int64
	WakeMaxMS          int64
	ChatWakeMaxMS      int64
	TickIntervalMS     int64
	ChatAutoOpenMS     int64
	ResumeRetryDelayMS int64
	ResumeMaxAttempts  int
	CancelGraceMS      int64
}

func Load() *Config {
	config := &Config{
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379"),
		DeviceID:          getEnv("DEVICE_ID", generateDeviceID()),
		Port:              getEnv("PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		StoreBackend:      getEnv("STORE_BACKEND", "redis"),
		StoreDir:          getEnv("STORE_DIR", ""),
		EventsStream:      getEnv("EVENTS_STREAM", constants.EventsStream),
		UIStream:          getEnv("UI_STREAM", constants.UIStream),
		ConsumerGroupName: getEnv("CONSUMER_GROUP_NAME", constants.DefaultConsumerGroup),
		LeaseTTL:          getEnvInt("LEASE_TTL", constants.DefaultLeaseTTLSeconds),
		HostCallbackURL:   getEnv("HOST_CALLBACK_URL", ""),

		DecisionWindowMS:   getEnvInt64("DECISION_WINDOW_MS", constants.SecondsToMilliseconds(constants.DefaultDecisionWindowSeconds)),
		ChatWindowMS:       getEnvInt64("CHAT_WINDOW_MS", constants.SecondsToMilliseconds(constants.DefaultDecisionWindowSeconds)),
		WakeMaxMS:          getEnvInt64("WAKE_MAX_MS", constants.SecondsToMilliseconds(constants.DefaultWakeMaxSeconds)),
		ChatWakeMaxMS:      getEnvInt64("CHAT_WAKE_MAX_MS", constants.SecondsToMilliseconds(constants.DefaultChatWakeMaxSeconds)),
		TickIntervalMS:     getEnvInt64("TICK_INTERVAL_MS", 1000),
		ChatAutoOpenMS:     getEnvInt64("CHAT_AUTO_OPEN_MS", constants.DefaultChatAutoOpenMS),
		ResumeRetryDelayMS: getEnvInt64("RESUME_RETRY_DELAY_MS", 1000),
		ResumeMaxAttempts:  getEnvInt("RESUME_MAX_ATTEMPTS", constants.DefaultResumeMaxAttempts),
		CancelGraceMS:      getEnvInt64("CANCEL_GRACE_MS", 0),
	}

	return config
}

func (c *Config) DecisionWindow() time.Duration {
	return time.Duration(c.DecisionWindowMS) * time.Millisecond
}

func (c *Config) ChatWindow() time.Duration {
	return time.Duration(c.ChatWindowMS) * time.Millisecond
}

func (c *Config) WakeMax() time.Duration {
	return time.Duration(c.WakeMaxMS) * time.Millisecond
}

func (c *Config) ChatWakeMax() time.Duration {
	return time.Duration(c.ChatWakeMaxMS) * time.Millisecond
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

func (c *Config) ChatAutoOpen() time.Duration {
	return time.Duration(c.ChatAutoOpenMS) * time.Millisecond
}

func (c *Config) ResumeRetryDelay() time.Duration {
	return time.Duration(c.ResumeRetryDelayMS) * time.Millisecond
}

func (c *Config) CancelGrace() time.Duration {
	return time.Duration(c.CancelGraceMS) * time.Millisecond
}

func (c *Config) LeaseTTLDuration() time.Duration {
	return time.Duration(c.LeaseTTL) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func generateDeviceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return uuid.New().String()
	}
	return hostname + "-" + uuid.New().String()[:8]
}
