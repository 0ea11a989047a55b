package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/segmentio/kafka-go"
)

// Topics mirrored to downstream consumers (analytics, notification fan-out).
const (
	TopicOrderEvents     = "pos.order.events"
	TopicPaymentEvents   = "pos.payment.events"
	TopicKitchenEvents   = "pos.kitchen.events"
	TopicInventoryEvents = "pos.inventory.events"
)

type KafkaProducer struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

func (kp *KafkaProducer) getWriter(topic string) *kafka.Writer {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	if writer, exists := kp.writers[topic]; exists {
		return writer
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(kp.brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	kp.writers[topic] = writer
	return writer
}

// SendMessage produces one keyed message. Messages with the same key land on
// the same partition, which preserves per-order ordering downstream.
func (kp *KafkaProducer) SendMessage(ctx context.Context, topic, key string, value interface{}) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}

	message := kafka.Message{
		Key:   []byte(key),
		Value: jsonData,
	}

	return kp.getWriter(topic).WriteMessages(ctx, message)
}

// Health dials the first broker. Writers connect lazily, so this is the only
// eager check the producer gets.
func (kp *KafkaProducer) Health(ctx context.Context) error {
	if len(kp.brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", kp.brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

func (kp *KafkaProducer) Close() {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	for _, writer := range kp.writers {
		writer.Close()
	}
}
