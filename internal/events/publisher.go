// Package events publishes credit lifecycle events to Kafka for downstream
// consumers (registries, reporting, reconciliation).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	id "karbon/pkg/domain"
)

// Event types emitted over the lifecycle topic.
const (
	TypeCreditIssued      = "credit.issued"
	TypeCreditTransferred = "credit.transferred"
	TypeCreditRetired     = "credit.retired"
)

const defaultTopic = "karbon.credit.lifecycle"

// LifecycleEvent is the wire shape of a lifecycle notification. Records are
// keyed by credit id so per-credit ordering is preserved.
type LifecycleEvent struct {
	Type       string    `json:"type"`
	CreditID   string    `json:"credit_id"`
	Serial     string    `json:"serial"`
	OwnerID    string    `json:"owner_id,omitempty"`
	Quantity   string    `json:"quantity,omitempty"`
	TxHash     string    `json:"tx_hash,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits lifecycle events. A nil Publisher is a no-op, so callers
// need no branching when brokers are not configured.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTopic overrides the lifecycle topic.
func WithTopic(topic string) Option {
	return func(p *Publisher) {
		if topic != "" {
			p.topic = topic
		}
	}
}

// NewPublisher connects a producer to the given brokers. An empty broker
// list yields a nil no-op publisher.
func NewPublisher(brokers []string, opts ...Option) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	p := &Publisher{
		topic:  defaultTopic,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(p.topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}
	p.client = client
	return p, nil
}

// Publish emits one lifecycle event. Delivery is asynchronous and
// best-effort: failures are logged, never surfaced to the ledger operation.
func (p *Publisher) Publish(ctx context.Context, event LifecycleEvent) {
	if p == nil || p.client == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("encode lifecycle event", "type", event.Type, "error", err)
		return
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.CreditID),
		Value: payload,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Warn("publish lifecycle event failed",
				"type", event.Type, "credit_id", event.CreditID, "error", err)
		}
	})
}

// Issued emits a credit.issued event.
func (p *Publisher) Issued(ctx context.Context, creditID id.CreditID, serial, owner, quantity, txHash string) {
	p.Publish(ctx, LifecycleEvent{
		Type: TypeCreditIssued, CreditID: creditID.String(), Serial: serial,
		OwnerID: owner, Quantity: quantity, TxHash: txHash,
	})
}

// Transferred emits a credit.transferred event.
func (p *Publisher) Transferred(ctx context.Context, creditID id.CreditID, serial, newOwner, quantity, txHash string) {
	p.Publish(ctx, LifecycleEvent{
		Type: TypeCreditTransferred, CreditID: creditID.String(), Serial: serial,
		OwnerID: newOwner, Quantity: quantity, TxHash: txHash,
	})
}

// Retired emits a credit.retired event.
func (p *Publisher) Retired(ctx context.Context, creditID id.CreditID, serial, owner, txHash string) {
	p.Publish(ctx, LifecycleEvent{
		Type: TypeCreditRetired, CreditID: creditID.String(), Serial: serial,
		OwnerID: owner, TxHash: txHash,
	})
}

// Close flushes outstanding records and releases the producer.
func (p *Publisher) Close(ctx context.Context) error {
	if p == nil || p.client == nil {
		return nil
	}
	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush kafka producer: %w", err)
	}
	p.client.Close()
	return nil
}
