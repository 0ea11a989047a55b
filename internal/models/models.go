package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(bytes, j)
}

// StringArray type for PostgreSQL arrays
type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(bytes, s)
}

// User roles. platform_owner has no restaurant; every other role belongs to
// exactly one restaurant.
const (
	RolePlatformOwner   = "platform_owner"
	RoleRestaurantOwner = "restaurant_owner"
	RoleManager         = "manager"
	RoleCashier         = "cashier"
	RoleServer          = "server"
	RoleCook            = "cook"
)

// Subscription tiers
const (
	TierBasic      = "basic"
	TierPremium    = "premium"
	TierEnterprise = "enterprise"
)

// Order statuses
const (
	OrderStatusDraft     = "draft"
	OrderStatusConfirmed = "confirmed"
	OrderStatusPreparing = "preparing"
	OrderStatusReady     = "ready"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
	OrderStatusRefunded  = "refunded"
)

// Order types
const (
	OrderTypeDineIn   = "dine_in"
	OrderTypeTakeaway = "takeaway"
	OrderTypeDelivery = "delivery"
)

// Payment statuses
const (
	PaymentStatusPending  = "pending"
	PaymentStatusCaptured = "captured"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

// Intent-only terminal statuses
const (
	IntentStatusExpired   = "expired"
	IntentStatusCancelled = "cancelled"
)

// Payment providers and customer-facing methods
const (
	ProviderQRPay    = "qrpay"
	ProviderSumUp    = "sumup"
	ProviderStripe   = "stripe"
	ProviderApplePay = "applepay"

	MethodQR       = "qr"
	MethodCard     = "card"
	MethodApplePay = "apple_pay"
)

// Platform model - top-level tenant container
type Platform struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Restaurant model - a tenant. Every tenant-owned row carries its id.
type Restaurant struct {
	ID                uuid.UUID   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PlatformID        uuid.UUID   `gorm:"type:uuid;not null" json:"platform_id"`
	Platform          Platform    `gorm:"foreignKey:PlatformID" json:"platform,omitempty"`
	Name              string      `gorm:"not null" json:"name"`
	Description       string      `json:"description"`
	Address           string      `json:"address"`
	Phone             string      `json:"phone"`
	OwnerID           uuid.UUID   `gorm:"type:uuid;not null" json:"owner_id"`
	SubscriptionTier  string      `gorm:"default:basic" json:"subscription_tier"` // basic, premium, enterprise
	Status            string      `gorm:"default:active" json:"status"`           // active, suspended
	Currency          string      `gorm:"default:GBP" json:"currency"`
	TaxRateBps        int64       `gorm:"default:2000" json:"tax_rate_bps"`
	ServiceChargeBps  int64       `gorm:"default:0" json:"service_charge_bps"`
	IsOpen            bool        `gorm:"default:true" json:"is_open"`
	OpeningHours      JSONB       `gorm:"type:jsonb" json:"opening_hours"`
	AutoOpenClose     bool        `gorm:"default:false" json:"auto_open_close"`
	TimeZone          string      `gorm:"default:'Europe/London'" json:"timezone"`
	DisabledProviders StringArray `gorm:"type:jsonb" json:"disabled_providers"`
	// NextOrderNumber is the last allocated number; allocation increments it
	// under the order-create transaction, so the first order gets 1001.
	NextOrderNumber int64     `gorm:"default:1000" json:"-"`
	CatalogVersion  int64     `gorm:"default:0" json:"catalog_version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// User model - provisioned on first successful token verification
type User struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ExternalID    string     `gorm:"uniqueIndex;not null" json:"external_id"` // identity-provider subject
	Email         string     `gorm:"not null" json:"email"`
	EmailVerified bool       `gorm:"default:false" json:"email_verified"`
	Name          string     `json:"name"`
	Role          string     `gorm:"default:restaurant_owner" json:"role"` // platform_owner, restaurant_owner, manager, cashier, server, cook
	RestaurantID  *uuid.UUID `gorm:"type:uuid" json:"restaurant_id"`       // nil for platform_owner and pending onboarding
	IsActive      bool       `gorm:"default:true" json:"is_active"`
	LastLoginAt   *time.Time `json:"last_login_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Category model - menu grouping per restaurant
type Category struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RestaurantID uuid.UUID  `gorm:"type:uuid;not null;index" json:"restaurant_id"`
	Restaurant   Restaurant `gorm:"foreignKey:RestaurantID" json:"restaurant,omitempty"`
	Name         string     `gorm:"not null" json:"name"`
	Description  string     `json:"description"`
	SortOrder    int        `gorm:"default:0" json:"sort_order"`
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Product model - deletion is soft (IsActive=false); Available gates
// add-to-cart and never rewrites historical order lines.
type Product struct {
	ID           uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RestaurantID uuid.UUID        `gorm:"type:uuid;not null;index:idx_products_restaurant_active" json:"restaurant_id"`
	CategoryID   uuid.UUID        `gorm:"type:uuid;not null" json:"category_id"`
	Category     Category         `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	Name         string           `gorm:"not null" json:"name"`
	Description  string           `json:"description"`
	Price        decimal.Decimal  `gorm:"type:numeric(12,2);not null" json:"price"`
	Cost         *decimal.Decimal `gorm:"type:numeric(12,2)" json:"cost,omitempty"`
	SKU          *string          `gorm:"uniqueIndex:idx_products_restaurant_sku" json:"sku,omitempty"`
	Available    bool             `gorm:"default:true" json:"available"`
	Emoji        string           `json:"emoji"`
	IsActive     bool             `gorm:"default:true;index:idx_products_restaurant_active" json:"is_active"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Order model - the state machine's persistence. EventSeq increments inside
// every mutating transaction and stamps the emitted events.
type Order struct {
	ID              uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RestaurantID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_orders_restaurant_number;index:idx_orders_restaurant_status" json:"restaurant_id"`
	OrderNumber     int64           `gorm:"not null;uniqueIndex:idx_orders_restaurant_number" json:"order_number"`
	Type            string          `gorm:"not null" json:"type"`                                        // dine_in, takeaway, delivery
	Status          string          `gorm:"default:draft;index:idx_orders_restaurant_status" json:"status"` // draft, confirmed, preparing, ready, completed, cancelled, refunded
	Lines           []OrderLine     `gorm:"foreignKey:OrderID" json:"lines,omitempty"`
	Subtotal        decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	Tax             decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"tax"`
	ServiceCharge   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"service_charge"`
	Discount        decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"discount"`
	Total           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total"`
	CustomerName    string          `json:"customer_name"`
	CustomerContact string          `json:"customer_contact"`
	ServerID        *uuid.UUID      `gorm:"type:uuid" json:"server_id"`
	CreatedByID     uuid.UUID       `gorm:"type:uuid;not null" json:"created_by_id"`
	EventSeq        int64           `gorm:"default:0" json:"event_seq"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	ArchivedAt      *time.Time      `json:"archived_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `gorm:"index:idx_orders_restaurant_status,sort:desc" json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderLine model - prices are captured at add time and never rewritten
type OrderLine struct {
	ID           uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"order_id"`
	RestaurantID uuid.UUID       `gorm:"type:uuid;not null" json:"restaurant_id"`
	ProductID    uuid.UUID       `gorm:"type:uuid;not null" json:"product_id"`
	ProductName  string          `gorm:"not null" json:"product_name"`
	UnitPrice    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	Quantity     int             `gorm:"not null" json:"quantity"`
	Subtotal     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	Notes        string          `json:"notes,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// OrderStatusLog model - append-only transition trail
type OrderStatusLog struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID      uuid.UUID `gorm:"type:uuid;not null;index" json:"order_id"`
	RestaurantID uuid.UUID `gorm:"type:uuid;not null" json:"restaurant_id"`
	Status       string    `gorm:"not null" json:"status"`
	ActorID      uuid.UUID `gorm:"type:uuid" json:"actor_id"`
	Note         string    `json:"note"`
	CreatedAt    time.Time `gorm:"default:now()" json:"created_at"`
}

// PaymentIntent model - a provider-side reservation created before capture
type PaymentIntent struct {
	ID             uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RestaurantID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"restaurant_id"`
	OrderID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_intents_order_key" json:"order_id"`
	Provider       string          `gorm:"not null" json:"provider"`
	Method         string          `gorm:"not null" json:"method"`
	Amount         decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	FeeAmount      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"fee_amount"`
	ProviderFeeBps int64           `gorm:"not null" json:"provider_fee_bps"`
	PlatformFeeBps int64           `gorm:"not null" json:"platform_fee_bps"`
	IntentRef      string          `gorm:"index" json:"intent_ref"` // provider-side reference
	ClientPayload  JSONB           `gorm:"type:jsonb" json:"client_payload"`
	IdempotencyKey string          `gorm:"not null;uniqueIndex:idx_intents_order_key" json:"-"`
	Status         string          `gorm:"default:pending;index" json:"status"` // pending, captured, failed, expired, cancelled
	ExpiresAt      time.Time       `gorm:"not null" json:"expires_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Payment model - refunds are rows with negative amounts linked to the
// captured original. At most one captured payment per order.
type Payment struct {
	ID                uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RestaurantID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"restaurant_id"`
	OrderID           uuid.UUID       `gorm:"type:uuid;not null;index" json:"order_id"`
	IntentID          *uuid.UUID      `gorm:"type:uuid" json:"intent_id,omitempty"`
	ParentPaymentID   *uuid.UUID      `gorm:"type:uuid" json:"parent_payment_id,omitempty"`
	Provider          string          `gorm:"not null" json:"provider"`
	Method            string          `gorm:"not null" json:"method"`
	Amount            decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency          string          `gorm:"default:GBP" json:"currency"`
	Status            string          `gorm:"default:pending" json:"status"` // pending, captured, failed, refunded
	ProviderRef       string          `gorm:"index" json:"provider_ref"`
	CommissionRateBps int64           `json:"commission_rate_bps"`
	CommissionAmount  decimal.Decimal `gorm:"type:numeric(12,2)" json:"commission_amount"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	CapturedAt        *time.Time      `json:"captured_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// CommissionRecord model - immutable once written
type CommissionRecord struct {
	ID           uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RestaurantID uuid.UUID       `gorm:"type:uuid;not null;index" json:"restaurant_id"`
	OrderID      uuid.UUID       `gorm:"type:uuid;not null" json:"order_id"`
	PaymentID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"payment_id"`
	RateBps      int64           `gorm:"not null" json:"rate_bps"`
	Amount       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
}

// InventoryItem model - one row per (restaurant, product)
type InventoryItem struct {
	ID           uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RestaurantID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_inventory_restaurant_product" json:"restaurant_id"`
	ProductID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_inventory_restaurant_product" json:"product_id"`
	StockLevel   float64         `gorm:"default:0" json:"stock_level"`
	MinLevel     float64         `gorm:"default:0" json:"min_level"`
	MaxLevel     float64         `gorm:"default:0" json:"max_level"`
	Unit         string          `gorm:"default:unit" json:"unit"`
	UnitCost     decimal.Decimal `gorm:"type:numeric(12,2)" json:"unit_cost"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

// StockMovement model - append-only; stock level is the running sum
type StockMovement struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RestaurantID    uuid.UUID `gorm:"type:uuid;not null;index" json:"restaurant_id"`
	InventoryItemID uuid.UUID `gorm:"type:uuid;not null;index" json:"inventory_item_id"`
	Delta           float64   `gorm:"not null" json:"delta"`
	Reason          string    `gorm:"not null" json:"reason"` // sale, restock, adjustment, waste
	PerformedBy     uuid.UUID `gorm:"type:uuid" json:"performed_by"`
	Note            string    `json:"note,omitempty"`
	CreatedAt       time.Time `gorm:"default:now()" json:"created_at"`
}
