// Package messaging publishes committed matches to Kafka for downstream
// consumers (dashboards, reporting). Publishing is best-effort; the matching
// and settlement pipeline does not depend on it.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/enercoop/gridmatch/internal/market"
)

// KafkaConfig holds producer settings.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// DefaultKafkaConfig returns settings tuned for low publish latency.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Topic:        "gridmatch.matches",
		BatchSize:    100,
		BatchTimeout: 5 * time.Millisecond,
		WriteTimeout: time.Second,
	}
}

// KafkaPublisher writes match events to a Kafka topic, keyed by energy
// source so per-source ordering is preserved within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(logger *zap.Logger, cfg KafkaConfig) *KafkaPublisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultKafkaConfig().Topic
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultKafkaConfig().BatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultKafkaConfig().BatchTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultKafkaConfig().WriteTimeout
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.CRC32Balancer{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger.Named("messaging"),
	}
}

// PublishMatch writes one match event.
func (p *KafkaPublisher) PublishMatch(ctx context.Context, match *market.Match) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("kafka publisher closed")
	}
	p.mu.Unlock()

	payload, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("failed to encode match event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(match.EnergySourceID.String()),
		Value: payload,
		Time:  match.MatchedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish match event: %w", err)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}
