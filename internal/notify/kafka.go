package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/logging"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(broker, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// KafkaSink forwards events to a topic keyed by order id so one order's events stay ordered.
type KafkaSink struct {
	w MessageWriter
}

func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

type envelope struct {
	Type    string       `json:"type"`
	Payload domain.Event `json:"payload"`
}

func (s *KafkaSink) Handle(ctx context.Context, e domain.Event) error {
	value, err := json.Marshal(envelope{Type: e.EventName(), Payload: e})
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.EventName(), err)
	}
	msg := kafka.Message{
		Key:     []byte(eventKey(e)),
		Value:   value,
		Headers: []kafka.Header{{Key: "event", Value: []byte(e.EventName())}},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.EventName(), err)
	}
	logging.FromContext(ctx).Debug("event_published", zap.String("event", e.EventName()))
	return nil
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}

func eventKey(e domain.Event) string {
	switch ev := e.(type) {
	case domain.OrderStatusChanged:
		return ev.OrderID.String()
	case domain.OrderConfirmedEvent:
		return ev.OrderID.String()
	case domain.RefundProcessed:
		return ev.OrderID.String()
	}
	return e.EventName()
}

// LogSink writes events to the log. It is the sink used when no broker is configured.
func LogSink(ctx context.Context, e domain.Event) error {
	logging.FromContext(ctx).Info("notification", zap.String("event", e.EventName()), zap.Any("payload", e))
	return nil
}

// SubscribeAll registers h for every event the core emits.
func SubscribeAll(b *Bus, h domain.EventHandler) {
	for _, name := range []string{
		domain.EventOrderStatusChanged,
		domain.EventOrderConfirmed,
		domain.EventRefundProcessed,
	} {
		b.Subscribe(name, h)
	}
}
