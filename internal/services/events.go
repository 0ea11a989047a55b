package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"golang-pos-backend/internal/realtime"
	"golang-pos-backend/pkg/messaging"
	"golang-pos-backend/pkg/metrics"
)

// EventPublisher delivers domain events to connected clients and mirrors
// them onto Kafka for downstream consumers (analytics, receipt printing).
// The in-process hub is the source of truth for real-time delivery; a Kafka
// outage is logged and counted but never fails the request that emitted the
// event.
type EventPublisher struct {
	hub      *realtime.Hub
	producer *messaging.KafkaProducer
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewEventPublisher(hub *realtime.Hub, producer *messaging.KafkaProducer, m *metrics.Metrics, logger zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		hub:      hub,
		producer: producer,
		metrics:  m,
		logger:   logger.With().Str("component", "events").Logger(),
	}
}

// Publish fans the event out to its restaurant room and mirrors it to the
// topic matching its family. Callers invoke this only after their
// transaction has committed.
func (p *EventPublisher) Publish(e realtime.Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	p.hub.Publish(e)
	p.mirror(e)
}

// PublishToUser targets one user's room, for events that are not
// restaurant-wide.
func (p *EventPublisher) PublishToUser(userID uuid.UUID, e realtime.Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	p.hub.PublishToUser(userID, e)
	p.mirror(e)
}

func (p *EventPublisher) mirror(e realtime.Event) {
	if p.producer == nil {
		return
	}

	topic := kafkaTopicFor(e.Topic)
	key := e.OrderID
	if key == "" {
		key = e.RestaurantID.String()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.producer.SendMessage(ctx, topic, key, e); err != nil {
			p.metrics.KafkaErrors.Inc()
			p.logger.Warn().Err(err).Str("topic", topic).Str("event", e.Topic).Msg("kafka mirror failed")
		}
	}()
}

func kafkaTopicFor(eventTopic string) string {
	switch {
	case strings.HasPrefix(eventTopic, "payment."):
		return messaging.TopicPaymentEvents
	case strings.HasPrefix(eventTopic, "kitchen."):
		return messaging.TopicKitchenEvents
	case strings.HasPrefix(eventTopic, "inventory."):
		return messaging.TopicInventoryEvents
	default:
		return messaging.TopicOrderEvents
	}
}
