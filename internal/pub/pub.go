package pub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"ledger-service/internal/domain"
)

const (
	TransactionEventsChannel = "transaction_events"
	OperatorAlertsChannel    = "operator_alerts"
)

// EventPublisher fans terminal ledger writes out to the Redis channel
// (live consumers) and the Kafka topic (durable stream). Publishing is
// fire-and-forget: a broker failure is logged and never propagated into
// a transaction result.
type EventPublisher struct {
	rdb    *redis.Client
	writer *kafka.Writer
	logger *zap.Logger
}

func NewEventPublisher(rdb *redis.Client, brokers []string, topic string, logger *zap.Logger) *EventPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	return &EventPublisher{rdb: rdb, writer: writer, logger: logger}
}

func (p *EventPublisher) PublishTransactionEvent(ctx context.Context, event *domain.TransactionEvent) {
	event.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("marshal transaction event", zap.Error(err))
		return
	}

	if err := p.rdb.Publish(ctx, TransactionEventsChannel, payload).Err(); err != nil {
		p.logger.Warn("redis publish failed",
			zap.Error(err),
			zap.String("event_type", event.EventType),
			zap.String("reference", event.Reference))
	}

	msg := kafka.Message{
		Key:   []byte(event.UserID),
		Value: payload,
		Time:  event.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("kafka publish failed",
			zap.Error(err),
			zap.String("event_type", event.EventType),
			zap.String("reference", event.Reference))
	}
}

// PublishOperatorAlert surfaces money-stuck states (failed withdrawal
// compensation, reconciliation drift) on a dedicated channel.
func (p *EventPublisher) PublishOperatorAlert(ctx context.Context, alert *domain.OperatorAlert) {
	alert.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(alert)
	if err != nil {
		p.logger.Error("marshal operator alert", zap.Error(err))
		return
	}
	if err := p.rdb.Publish(ctx, OperatorAlertsChannel, payload).Err(); err != nil {
		p.logger.Error("operator alert publish failed",
			zap.Error(err),
			zap.String("kind", alert.Kind),
			zap.String("reference", alert.Reference))
	}
}

func (p *EventPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
