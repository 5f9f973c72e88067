package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"conversation-automation/pkg/constants"
)

type Config struct {
	RedisURL             string
	Port                 string
	LogLevel             string
	PodID                string
	TenantsFile          string
	EventStore           string
	EventStorePath       string
	IdempotencyBackend   string
	EmitBackend          string
	KafkaBrokers         []string
	EmitTopic            string
	RetryMaxAttempts     int
	RetryDelayMS         int64
	RetryBackoff         float64
	RetryMaxDelayMS      int64
	PolicyTimeoutMS      int64
	DeadLetterSize       int
	MessagingTimeoutMS   int64
	PendingReservationMS int64
}

func Load() *Config {
	config := &Config{
		RedisURL:             getEnv(constants.EnvRedisURL, "redis://localhost:6379"),
		Port:                 getEnv(constants.EnvPort, "8080"),
		LogLevel:             getEnv(constants.EnvLogLevel, "info"),
		PodID:                getEnv(constants.EnvPodID, generatePodID()),
		TenantsFile:          getEnv(constants.EnvTenantsFile, ""),
		EventStore:           getEnv(constants.EnvEventStore, constants.BackendSQLite),
		EventStorePath:       getEnv(constants.EnvEventStorePath, "events.db"),
		IdempotencyBackend:   getEnv(constants.EnvIdempotencyBackend, constants.BackendMemory),
		EmitBackend:          getEnv(constants.EnvEmitBackend, constants.BackendLog),
		KafkaBrokers:         getEnvList(constants.EnvKafkaBrokers, []string{"localhost:9092"}),
		EmitTopic:            getEnv(constants.EnvEmitTopic, ""),
		RetryMaxAttempts:     getEnvInt(constants.EnvRetryMaxAttempts, constants.DefaultRetryMaxAttempts),
		RetryDelayMS:         getEnvInt64(constants.EnvRetryDelayMS, constants.DefaultRetryDelayMS),
		RetryBackoff:         getEnvFloat(constants.EnvRetryBackoff, constants.DefaultRetryBackoffMultiplier),
		RetryMaxDelayMS:      getEnvInt64(constants.EnvRetryMaxDelayMS, constants.DefaultRetryMaxDelayMS),
		PolicyTimeoutMS:      getEnvInt64(constants.EnvPolicyTimeoutMS, 120000),
		DeadLetterSize:       getEnvInt(constants.EnvDeadLetterSize, 256),
		MessagingTimeoutMS:   getEnvInt64(constants.EnvMessagingTimeoutMS, constants.DefaultMessagingTimeout.Milliseconds()),
		PendingReservationMS: getEnvInt64(constants.EnvPendingReservationMS, 300000),
	}

	return config
}

func (c *Config) RetryDelay() time.Duration {
	return constants.MillisecondsToDuration(c.RetryDelayMS)
}

func (c *Config) RetryMaxDelay() time.Duration {
	return constants.MillisecondsToDuration(c.RetryMaxDelayMS)
}

func (c *Config) PolicyTimeout() time.Duration {
	return constants.MillisecondsToDuration(c.PolicyTimeoutMS)
}

func (c *Config) MessagingTimeout() time.Duration {
	return constants.MillisecondsToDuration(c.MessagingTimeoutMS)
}

func (c *Config) PendingReservationTTL() time.Duration {
	return constants.MillisecondsToDuration(c.PendingReservationMS)
}

// NeedsRedis reports whether any configured backend talks to Redis
func (c *Config) NeedsRedis() bool {
	return c.IdempotencyBackend == constants.BackendRedis || c.EmitBackend == constants.BackendRedis
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func generatePodID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return uuid.New().String()
	}
	return hostname + "-" + uuid.New().String()[:8]
}
