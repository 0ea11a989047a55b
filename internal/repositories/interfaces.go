package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"golang-pos-backend/internal/models"
)

// Repositories resolve their DB handle per call via the tenant-bound
// transaction in ctx, so row-level security applies to every query.

// UserRepository interface for user operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	GetByRestaurantID(ctx context.Context, restaurantID uuid.UUID) ([]models.User, error)
}

// PlatformRepository interface for the top-level tenant container
type PlatformRepository interface {
	GetDefault(ctx context.Context) (*models.Platform, error)
}

// RestaurantRepository interface for restaurant operations
type RestaurantRepository interface {
	Create(ctx context.Context, restaurant *models.Restaurant) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Restaurant, error)
	Update(ctx context.Context, restaurant *models.Restaurant) error
	List(ctx context.Context, limit, offset int) ([]models.Restaurant, int64, error)
	// NextOrderNumber atomically allocates the next restaurant-scoped order
	// number; must run inside the order-create transaction.
	NextOrderNumber(ctx context.Context, id uuid.UUID) (int64, error)
	// BumpCatalogVersion increments the restaurant's catalog version in the
	// same transaction as the menu mutation and returns the new value.
	BumpCatalogVersion(ctx context.Context, id uuid.UUID) (int64, error)
	GetCatalogVersion(ctx context.Context, id uuid.UUID) (int64, error)
	ListAutoOpenClose(ctx context.Context) ([]models.Restaurant, error)
}

// CategoryRepository interface for menu category operations
type CategoryRepository interface {
	Create(ctx context.Context, category *models.Category) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Category, error)
	Update(ctx context.Context, category *models.Category) error
	GetByRestaurantID(ctx context.Context, restaurantID uuid.UUID, includeInactive bool) ([]models.Category, error)
}

// ProductRepository interface for menu product operations
type ProductRepository interface {
	Create(ctx context.Context, product *models.Product) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	Update(ctx context.Context, product *models.Product) error
	GetByRestaurantID(ctx context.Context, restaurantID uuid.UUID, filter ProductFilter) ([]models.Product, int64, error)
	SKUTaken(ctx context.Context, restaurantID uuid.UUID, sku string, excludeID *uuid.UUID) (bool, error)
}

// ProductFilter narrows menu reads; zero value returns every active product.
type ProductFilter struct {
	CategoryID      *uuid.UUID
	AvailableOnly   bool
	IncludeInactive bool
	Limit           int
	Offset          int
}

// OrderRepository interface for order lifecycle persistence
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// GetByIDForUpdate locks the order row for the rest of the transaction;
	// concurrent mutations of the same order serialize on it.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Update(ctx context.Context, order *models.Order) error
	ReplaceLines(ctx context.Context, orderID uuid.UUID, lines []models.OrderLine) error
	GetByRestaurantID(ctx context.Context, restaurantID uuid.UUID, status string, limit, offset int) ([]models.Order, int64, error)
	AppendStatusLog(ctx context.Context, log *models.OrderStatusLog) error
	GetStatusLogs(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusLog, error)
	ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PaymentIntentRepository interface for provider-side intent bookkeeping
type PaymentIntentRepository interface {
	Create(ctx context.Context, intent *models.PaymentIntent) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	GetByOrderAndKey(ctx context.Context, orderID uuid.UUID, idempotencyKey string) (*models.PaymentIntent, error)
	GetByIntentRef(ctx context.Context, provider, intentRef string) (*models.PaymentIntent, error)
	Update(ctx context.Context, intent *models.PaymentIntent) error
	GetPending(ctx context.Context, limit int) ([]models.PaymentIntent, error)
	GetPendingByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.PaymentIntent, error)
}

// PaymentRepository interface for payment and refund rows
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	Update(ctx context.Context, payment *models.Payment) error
	GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	GetCapturedByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	// RefundedTotal sums the refund rows linked to a captured payment as a
	// positive amount.
	RefundedTotal(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error)
	FailPendingByOrderID(ctx context.Context, orderID uuid.UUID, exceptID uuid.UUID) error
}

// CommissionRepository interface for immutable commission records
type CommissionRepository interface {
	Create(ctx context.Context, record *models.CommissionRecord) error
	List(ctx context.Context, restaurantID *uuid.UUID, limit, offset int) ([]models.CommissionRecord, int64, error)
}

// InventoryRepository interface for stock levels and append-only movements
type InventoryRepository interface {
	Upsert(ctx context.Context, item *models.InventoryItem) error
	GetByProductID(ctx context.Context, restaurantID, productID uuid.UUID) (*models.InventoryItem, error)
	GetByRestaurantID(ctx context.Context, restaurantID uuid.UUID) ([]models.InventoryItem, error)
	// AdjustStock applies delta atomically and returns the updated item.
	AdjustStock(ctx context.Context, itemID uuid.UUID, delta float64) (*models.InventoryItem, error)
	CreateMovement(ctx context.Context, movement *models.StockMovement) error
	GetMovements(ctx context.Context, restaurantID, productID uuid.UUID, limit, offset int) ([]models.StockMovement, int64, error)
	GetLowStock(ctx context.Context, restaurantID uuid.UUID) ([]models.InventoryItem, error)
}
