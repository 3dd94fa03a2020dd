package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BusKind selects which messaging adapter the relay publishes through.
// Exactly one is live per process.
type BusKind string

const (
	BusKafka    BusKind = "kafka"
	BusRabbitMQ BusKind = "rabbitmq"
)

// RelayConfig holds configuration for the outbox relay service. Required
// fields panic when missing; optional fields fall back to sensible
// defaults.
type RelayConfig struct {
	DatabaseURL string

	Bus         BusKind
	KafkaBrokers []string
	RabbitMQURL string

	Enabled            bool
	BatchSize          int
	PollingInterval    time.Duration
	WorkerID           string
	TopicPrefix        string
	DeadLetterTopic    string
	CleanupCron        string
	RetentionDays      int

	RedisAddress string
}

func LoadRelayConfig() *RelayConfig {
	dbURL := os.Getenv("DB_CONNECTION_STRING")
	if dbURL == "" {
		panic("DB_CONNECTION_STRING environment variable is required")
	}

	bus := BusKind(envOr("OUTBOX_RELAY_BUS", string(BusKafka)))

	var kafkaBrokers []string
	rabbitURL := os.Getenv("RABBITMQ_URL")
	if bus == BusKafka {
		brokers := os.Getenv("KAFKA_BROKERS")
		if brokers == "" {
			panic("KAFKA_BROKERS environment variable is required when OUTBOX_RELAY_BUS=kafka")
		}
		kafkaBrokers = strings.Split(brokers, ",")
	} else if bus == BusRabbitMQ && rabbitURL == "" {
		panic("RABBITMQ_URL environment variable is required when OUTBOX_RELAY_BUS=rabbitmq")
	}

	workerID := os.Getenv("OUTBOX_RELAY_WORKER_ID")
	if workerID == "" {
		if host := os.Getenv("HOSTNAME"); host != "" {
			workerID = host
		} else {
			workerID = uuid.NewString()
		}
	}

	return &RelayConfig{
		DatabaseURL: dbURL,

		Bus:          bus,
		KafkaBrokers: kafkaBrokers,
		RabbitMQURL:  rabbitURL,

		Enabled:         envBool("OUTBOX_RELAY_ENABLED", true),
		BatchSize:       envInt("OUTBOX_RELAY_BATCH_SIZE", 100),
		PollingInterval: envDuration("OUTBOX_RELAY_POLLING_INTERVAL_MS", 5000*time.Millisecond),
		WorkerID:        workerID,
		TopicPrefix:     envOr("OUTBOX_RELAY_KAFKA_TOPIC_PREFIX", "outbox.events"),
		DeadLetterTopic: envOr("OUTBOX_RELAY_KAFKA_DEAD_LETTER_TOPIC", "outbox.dead-letter"),
		CleanupCron:     envOr("OUTBOX_RELAY_CLEANUP_CRON", "0 2 * * *"),
		RetentionDays:   envInt("OUTBOX_RELAY_CLEANUP_RETENTION_DAYS", 30),

		RedisAddress: os.Getenv("REDIS_ADDRESS"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
