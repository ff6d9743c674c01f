package constants

import "time"

// Default decision and resource bounds
const (
	// DefaultDecisionWindowSeconds - Time a user has to answer an alert, measured from receipt
	DefaultDecisionWindowSeconds = 20

	// DefaultWakeMaxSeconds - Hard upper bound on a trip wake assertion
	DefaultWakeMaxSeconds = 60

	// DefaultChatWakeMaxSeconds - Hard upper bound on a chat wake assertion
	DefaultChatWakeMaxSeconds = 30

	// DefaultChatAutoOpenMS - Delay before a chat alert opens the conversation on its own
	DefaultChatAutoOpenMS = 1500

	// DefaultResumeMaxAttempts - Initial push plus one retry
	DefaultResumeMaxAttempts = 2

	// DefaultLeaseTTLSeconds - Device lease TTL
	DefaultLeaseTTLSeconds = 10

	// DefaultLeaseRenewIntervalSeconds - Device lease renew interval
	DefaultLeaseRenewIntervalSeconds = 3

	// DuplicateMemoryFactor - Terminal payload ids are remembered for this many decision windows
	DuplicateMemoryFactor = 2
)

// Redis key prefixes and stream names
const (
	PayloadKeyPrefix     = "alert:payload:"
	HandoffKeyPrefix     = "alert:handoff:"
	LeaseKeyPrefix       = "alert:lease:"
	EventsStream         = "alert_events"
	UIStream             = "alert_ui"
	DefaultConsumerGroup = "alert-processors"
)

// Inbound transport event types, normalized to lower-case with dashes
const (
	EventNewTripRequest = "new-trip-request"
	EventChatMessage    = "chat-message"
	EventNewChatMessage = "new-chat-message"
	EventTripCancelled  = "trip-cancelled"
	EventAlertDismissed = "alert-dismissed"
)

// Cancellation reasons
const (
	ReasonSuperseded = "superseded"
	ReasonTransport  = "trip_cancelled"
	ReasonDismissed  = "dismissed"
	ReasonShutdown   = "shutdown"
)

func SecondsToMilliseconds(seconds int) int64 {
	return int64(seconds * 1000)
}

func SecondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
