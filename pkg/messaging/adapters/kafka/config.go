package kafka

import "time"

// Config holds configuration for the Kafka broker adapter.
type Config struct {
	// Brokers is the list of seed broker addresses.
	Brokers []string `env:"KAFKA_BROKERS" env-separator:"," validate:"required,min=1"`

	// ClientID identifies this client to the Kafka cluster.
	ClientID string `env:"KAFKA_CLIENT_ID" env-default:"flowforge-ingestion"`

	// Version is the Kafka protocol version string understood by sarama.
	Version string `env:"KAFKA_VERSION" env-default:"2.8.0"`

	// DialTimeout bounds the initial broker connection.
	DialTimeout time.Duration `env:"KAFKA_DIAL_TIMEOUT" env-default:"10s"`

	// RequiredAcks controls producer durability: 0 (none), 1 (leader), -1 (all ISR).
	RequiredAcks int16 `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
}
