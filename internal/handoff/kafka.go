package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"sol-beast/internal/domain"
)

// KafkaExecutor publishes accepted tokens for the trade executor, keyed by
// mint so every message about one token lands on the same partition.
type KafkaExecutor struct {
	topic string
	sp    sarama.SyncProducer
}

// ProducerConfig returns the sarama config used by NewKafkaExecutor.
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	// SyncProducer requires Return.Successes
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = false
	cfg.Version = sarama.V2_1_0_0
	return cfg
}

// NewKafkaExecutor connects a sync producer to brokersCSV.
func NewKafkaExecutor(brokersCSV, topic string) (*KafkaExecutor, error) {
	brokers := splitCSV(brokersCSV)
	if len(brokers) == 0 {
		return nil, errors.New("no brokers")
	}
	sp, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaExecutorWithProducer(sp, topic)
}

// NewKafkaExecutorWithProducer wraps an existing producer.
func NewKafkaExecutorWithProducer(sp sarama.SyncProducer, topic string) (*KafkaExecutor, error) {
	if topic == "" {
		return nil, errors.New("topic empty")
	}
	return &KafkaExecutor{topic: topic, sp: sp}, nil
}

var _ Executor = (*KafkaExecutor)(nil)

// buyIntent is the message consumed by the trade executor.
type buyIntent struct {
	Token       domain.DetectedToken `json:"token"`
	SubmittedAt time.Time            `json:"submitted_at"`
}

// Submit sends the token and waits for the broker ack.
func (e *KafkaExecutor) Submit(ctx context.Context, token domain.DetectedToken) error {
	payload, err := json.Marshal(buyIntent{Token: token, SubmittedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal buy intent: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(token.Mint),
		Value: sarama.ByteEncoder(payload),
	}

	// SendMessage takes no context; check before sending.
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := e.sp.SendMessage(msg); err != nil {
		return fmt.Errorf("publish %s: %w", token.Mint, err)
	}
	return nil
}

// Close closes the producer.
func (e *KafkaExecutor) Close() error {
	if e.sp != nil {
		return e.sp.Close()
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, x := range parts {
		x = strings.TrimSpace(x)
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}
