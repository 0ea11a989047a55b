package realtime

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Connection types. Each type subscribes to a fixed topic set.
const (
	ConnTypePOS        = "pos"
	ConnTypeKitchen    = "kitchen"
	ConnTypeManagement = "management"
)

// Topics emitted by the engine and orchestrator.
const (
	TopicOrderCreated       = "order.created"
	TopicOrderConfirmed     = "order.confirmed"
	TopicOrderStatusChanged = "order.status_changed"
	TopicOrderCancelled     = "order.cancelled"
	TopicPaymentCaptured    = "payment.captured"
	TopicPaymentFailed      = "payment.failed"
	TopicPaymentRefunded    = "payment.refunded"
	TopicKitchenTicket      = "kitchen.ticket"
	TopicInventoryAdjusted  = "inventory.adjusted"
	TopicInventoryStockLow  = "inventory.stock_low"
)

// Event is a single frame fanned out to a room. Seq is the order-scoped
// sequence number stamped by the engine; frames for one order are delivered
// in Seq order or not at all.
type Event struct {
	Topic        string                 `json:"topic"`
	RestaurantID uuid.UUID              `json:"restaurant_id"`
	OrderID      string                 `json:"order_id,omitempty"`
	Seq          int64                  `json:"seq,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	At           time.Time              `json:"at"`
}

// subscriptions maps a connection type to the topics it receives. Entries
// ending in ".*" match the whole topic family.
var subscriptions = map[string][]string{
	ConnTypePOS: {
		"order.*",
		"payment.*",
		"inventory.*",
	},
	ConnTypeKitchen: {
		TopicOrderConfirmed,
		TopicOrderStatusChanged,
		TopicOrderCancelled,
		"kitchen.*",
	},
	ConnTypeManagement: {
		"order.*",
		"payment.*",
		"kitchen.*",
		"inventory.*",
	},
}

func ValidConnType(connType string) bool {
	_, ok := subscriptions[connType]
	return ok
}

func topicAllowed(connType, topic string) bool {
	for _, pattern := range subscriptions[connType] {
		if pattern == topic {
			return true
		}
		if strings.HasSuffix(pattern, ".*") && strings.HasPrefix(topic, strings.TrimSuffix(pattern, "*")) {
			return true
		}
	}
	return false
}

func RestaurantRoom(id uuid.UUID) string { return "restaurant:" + id.String() }
func UserRoom(id uuid.UUID) string       { return "user:" + id.String() }
