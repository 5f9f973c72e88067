package constants

import "time"

// Retry defaults applied when no options are configured
const (
	DefaultRetryMaxAttempts       = 3
	DefaultRetryDelayMS           = 1000
	DefaultRetryBackoffMultiplier = 2
	DefaultRetryMaxDelayMS        = 10000
)

// Messaging platform message kinds
const (
	MessageKindIncoming = 0
	MessageKindOutgoing = 1
)

// Redis key prefixes and stream names
const (
	IdempotencyKeyPrefix = "automation:idempotency:"
	EmittedEventsStream  = "automation_events"
	EmittedEventsTopic   = "automation-events"
)

// Backend selectors read from configuration
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendKafka  = "kafka"
	BackendLog    = "log"
	BackendSQLite = "sqlite"
)

// Configuration environment variable names
const (
	EnvRedisURL             = "REDIS_URL"
	EnvPort                 = "PORT"
	EnvLogLevel             = "LOG_LEVEL"
	EnvPodID                = "POD_ID"
	EnvTenantsFile          = "TENANTS_FILE"
	EnvEventStore           = "EVENT_STORE"
	EnvEventStorePath       = "EVENT_STORE_PATH"
	EnvIdempotencyBackend   = "IDEMPOTENCY_BACKEND"
	EnvEmitBackend          = "EMIT_BACKEND"
	EnvKafkaBrokers         = "KAFKA_BROKERS"
	EnvEmitTopic            = "EMIT_TOPIC"
	EnvRetryMaxAttempts     = "RETRY_MAX_ATTEMPTS"
	EnvRetryDelayMS         = "RETRY_DELAY_MS"
	EnvRetryBackoff         = "RETRY_BACKOFF_MULTIPLIER"
	EnvRetryMaxDelayMS      = "RETRY_MAX_DELAY_MS"
	EnvPolicyTimeoutMS      = "POLICY_TIMEOUT_MS"
	EnvDeadLetterSize       = "DEAD_LETTER_SIZE"
	EnvMessagingTimeoutMS   = "MESSAGING_TIMEOUT_MS"
	EnvPendingReservationMS = "IDEMPOTENCY_PENDING_TTL_MS"
)

// DefaultMessagingTimeout bounds a single request to the messaging platform
const DefaultMessagingTimeout = 30 * time.Second

// MillisecondsToDuration converts a millisecond count to a time.Duration
func MillisecondsToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
