package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"golang-pos-backend/internal/models"
	"golang-pos-backend/pkg/database"
)

// IsNotFound lets services branch on missing rows without importing gorm.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

type userRepository struct {
	db *database.Database
}

func NewUserRepository(db *database.Database) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.Conn(ctx).Create(user).Error
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.Conn(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	var user models.User
	err := r.db.Conn(ctx).Where("external_id = ?", externalID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.Conn(ctx).Where("lower(email) = lower(?)", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	return r.db.Conn(ctx).Save(user).Error
}

func (r *userRepository) GetByRestaurantID(ctx context.Context, restaurantID uuid.UUID) ([]models.User, error) {
	var users []models.User
	err := r.db.Conn(ctx).Where("restaurant_id = ?", restaurantID).Find(&users).Error
	return users, err
}

// Platform Repository
type platformRepository struct {
	db *database.Database
}

func NewPlatformRepository(db *database.Database) PlatformRepository {
	return &platformRepository{db: db}
}

func (r *platformRepository) GetDefault(ctx context.Context) (*models.Platform, error) {
	var platform models.Platform
	err := r.db.Conn(ctx).Order("created_at ASC").First(&platform).Error
	if err != nil {
		return nil, err
	}
	return &platform, nil
}

// Restaurant Repository
type restaurantRepository struct {
	db *database.Database
}

func NewRestaurantRepository(db *database.Database) RestaurantRepository {
	return &restaurantRepository{db: db}
}

func (r *restaurantRepository) Create(ctx context.Context, restaurant *models.Restaurant) error {
	return r.db.Conn(ctx).Create(restaurant).Error
}

func (r *restaurantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Restaurant, error) {
	var restaurant models.Restaurant
	err := r.db.Conn(ctx).Where("id = ?", id).First(&restaurant).Error
	if err != nil {
		return nil, err
	}
	return &restaurant, nil
}

func (r *restaurantRepository) Update(ctx context.Context, restaurant *models.Restaurant) error {
	return r.db.Conn(ctx).Save(restaurant).Error
}

func (r *restaurantRepository) List(ctx context.Context, limit, offset int) ([]models.Restaurant, int64, error) {
	var restaurants []models.Restaurant
	var total int64

	query := r.db.Conn(ctx).Model(&models.Restaurant{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&restaurants).Error
	return restaurants, total, err
}

func (r *restaurantRepository) NextOrderNumber(ctx context.Context, id uuid.UUID) (int64, error) {
	var number int64
	err := r.db.Conn(ctx).Raw(
		"UPDATE restaurants SET next_order_number = next_order_number + 1 WHERE id = ? RETURNING next_order_number",
		id,
	).Scan(&number).Error
	return number, err
}

func (r *restaurantRepository) BumpCatalogVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	var version int64
	err := r.db.Conn(ctx).Raw(
		"UPDATE restaurants SET catalog_version = catalog_version + 1, updated_at = now() WHERE id = ? RETURNING catalog_version",
		id,
	).Scan(&version).Error
	return version, err
}

func (r *restaurantRepository) GetCatalogVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	var version int64
	err := r.db.Conn(ctx).Model(&models.Restaurant{}).
		Where("id = ?", id).
		Pluck("catalog_version", &version).Error
	return version, err
}

func (r *restaurantRepository) ListAutoOpenClose(ctx context.Context) ([]models.Restaurant, error) {
	var restaurants []models.Restaurant
	err := r.db.Conn(ctx).
		Where("auto_open_close = ? AND status = ?", true, "active").
		Find(&restaurants).Error
	return restaurants, err
}

// Category Repository
type categoryRepository struct {
	db *database.Database
}

func NewCategoryRepository(db *database.Database) CategoryRepository {
	return &categoryRepository{db: db}
}

func (r *categoryRepository) Create(ctx context.Context, category *models.Category) error {
	return r.db.Conn(ctx).Create(category).Error
}

func (r *categoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Category, error) {
	var category models.Category
	err := r.db.Conn(ctx).Where("id = ?", id).First(&category).Error
	if err != nil {
		return nil, err
	}
	return &category, nil
}

func (r *categoryRepository) Update(ctx context.Context, category *models.Category) error {
	return r.db.Conn(ctx).Save(category).Error
}

func (r *categoryRepository) GetByRestaurantID(ctx context.Context, restaurantID uuid.UUID, includeInactive bool) ([]models.Category, error) {
	var categories []models.Category
	query := r.db.Conn(ctx).Where("restaurant_id = ?", restaurantID)
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}
	err := query.Order("sort_order ASC, name ASC").Find(&categories).Error
	return categories, err
}

// Product Repository
type productRepository struct {
	db *database.Database
}

func NewProductRepository(db *database.Database) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) Create(ctx context.Context, product *models.Product) error {
	return r.db.Conn(ctx).Create(product).Error
}

func (r *productRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.Conn(ctx).Where("id = ?", id).First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	var products []models.Product
	err := r.db.Conn(ctx).Where("id IN ?", ids).Find(&products).Error
	return products, err
}

func (r *productRepository) Update(ctx context.Context, product *models.Product) error {
	return r.db.Conn(ctx).Save(product).Error
}

func (r *productRepository) GetByRestaurantID(ctx context.Context, restaurantID uuid.UUID, filter ProductFilter) ([]models.Product, int64, error) {
	var products []models.Product
	var total int64

	query := r.db.Conn(ctx).Model(&models.Product{}).Where("restaurant_id = ?", restaurantID)
	if !filter.IncludeInactive {
		query = query.Where("is_active = ?", true)
	}
	if filter.AvailableOnly {
		query = query.Where("available = ?", true)
	}
	if filter.CategoryID != nil {
		query = query.Where("category_id = ?", *filter.CategoryID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}
	err := query.Order("name ASC").Find(&products).Error
	return products, total, err
}

func (r *productRepository) SKUTaken(ctx context.Context, restaurantID uuid.UUID, sku string, excludeID *uuid.UUID) (bool, error) {
	var count int64
	query := r.db.Conn(ctx).Model(&models.Product{}).
		Where("restaurant_id = ? AND sku = ?", restaurantID, sku)
	if excludeID != nil {
		query = query.Where("id <> ?", *excludeID)
	}
	err := query.Count(&count).Error
	return count > 0, err
}

// Order Repository
type orderRepository struct {
	db *database.Database
}

func NewOrderRepository(db *database.Database) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *models.Order) error {
	return r.db.Conn(ctx).Create(order).Error
}

func (r *orderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.Conn(ctx).Preload("Lines").Where("id = ?", id).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.Conn(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	var lines []models.OrderLine
	if err := r.db.Conn(ctx).Where("order_id = ?", id).Order("created_at ASC").Find(&lines).Error; err != nil {
		return nil, err
	}
	order.Lines = lines
	return &order, nil
}

func (r *orderRepository) Update(ctx context.Context, order *models.Order) error {
	return r.db.Conn(ctx).Omit("Lines").Save(order).Error
}

func (r *orderRepository) ReplaceLines(ctx context.Context, orderID uuid.UUID, lines []models.OrderLine) error {
	conn := r.db.Conn(ctx)
	if err := conn.Where("order_id = ?", orderID).Delete(&models.OrderLine{}).Error; err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	return conn.Create(&lines).Error
}

func (r *orderRepository) GetByRestaurantID(ctx context.Context, restaurantID uuid.UUID, status string, limit, offset int) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	query := r.db.Conn(ctx).Model(&models.Order{}).
		Where("restaurant_id = ? AND archived_at IS NULL", restaurantID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Preload("Lines").Order("created_at DESC").Limit(limit).Offset(offset).Find(&orders).Error
	return orders, total, err
}

func (r *orderRepository) AppendStatusLog(ctx context.Context, log *models.OrderStatusLog) error {
	return r.db.Conn(ctx).Create(log).Error
}

func (r *orderRepository) GetStatusLogs(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusLog, error) {
	var logs []models.OrderStatusLog
	err := r.db.Conn(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&logs).Error
	return logs, err
}

func (r *orderRepository) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.Conn(ctx).Model(&models.Order{}).
		Where("archived_at IS NULL AND created_at < ?", cutoff).
		Update("archived_at", time.Now())
	return result.RowsAffected, result.Error
}

// PaymentIntent Repository
type paymentIntentRepository struct {
	db *database.Database
}

func NewPaymentIntentRepository(db *database.Database) PaymentIntentRepository {
	return &paymentIntentRepository{db: db}
}

func (r *paymentIntentRepository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.Conn(ctx).Create(intent).Error
}

func (r *paymentIntentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.Conn(ctx).Where("id = ?", id).First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *paymentIntentRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.Conn(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *paymentIntentRepository) GetByOrderAndKey(ctx context.Context, orderID uuid.UUID, idempotencyKey string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.Conn(ctx).
		Where("order_id = ? AND idempotency_key = ?", orderID, idempotencyKey).
		First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *paymentIntentRepository) GetByIntentRef(ctx context.Context, provider, intentRef string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.Conn(ctx).
		Where("provider = ? AND intent_ref = ?", provider, intentRef).
		First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *paymentIntentRepository) Update(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.Conn(ctx).Save(intent).Error
}

func (r *paymentIntentRepository) GetPending(ctx context.Context, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.Conn(ctx).
		Where("status = ?", "pending").
		Order("created_at ASC").
		Limit(limit).
		Find(&intents).Error
	return intents, err
}

func (r *paymentIntentRepository) GetPendingByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.Conn(ctx).
		Where("order_id = ? AND status = ?", orderID, "pending").
		Find(&intents).Error
	return intents, err
}

// Payment Repository
type paymentRepository struct {
	db *database.Database
}

func NewPaymentRepository(db *database.Database) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.Conn(ctx).Create(payment).Error
}

func (r *paymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Conn(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) Update(ctx context.Context, payment *models.Payment) error {
	return r.db.Conn(ctx).Save(payment).Error
}

func (r *paymentRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Conn(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&payments).Error
	return payments, err
}

func (r *paymentRepository) GetCapturedByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Conn(ctx).
		Where("order_id = ? AND status = ?", orderID, models.PaymentStatusCaptured).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) RefundedTotal(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	row := r.db.Conn(ctx).Raw(
		"SELECT COALESCE(SUM(amount * -1), 0) FROM payments WHERE parent_payment_id = ? AND amount < 0",
		paymentID,
	).Row()
	var total decimal.Decimal
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (r *paymentRepository) FailPendingByOrderID(ctx context.Context, orderID uuid.UUID, exceptID uuid.UUID) error {
	return r.db.Conn(ctx).Model(&models.Payment{}).
		Where("order_id = ? AND status = ? AND id <> ?", orderID, models.PaymentStatusPending, exceptID).
		Update("status", models.PaymentStatusFailed).Error
}

// Commission Repository
type commissionRepository struct {
	db *database.Database
}

func NewCommissionRepository(db *database.Database) CommissionRepository {
	return &commissionRepository{db: db}
}

func (r *commissionRepository) Create(ctx context.Context, record *models.CommissionRecord) error {
	return r.db.Conn(ctx).Create(record).Error
}

func (r *commissionRepository) List(ctx context.Context, restaurantID *uuid.UUID, limit, offset int) ([]models.CommissionRecord, int64, error) {
	var records []models.CommissionRecord
	var total int64

	query := r.db.Conn(ctx).Model(&models.CommissionRecord{})
	if restaurantID != nil {
		query = query.Where("restaurant_id = ?", *restaurantID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&records).Error
	return records, total, err
}

// Inventory Repository
type inventoryRepository struct {
	db *database.Database
}

func NewInventoryRepository(db *database.Database) InventoryRepository {
	return &inventoryRepository{db: db}
}

func (r *inventoryRepository) Upsert(ctx context.Context, item *models.InventoryItem) error {
	return r.db.Conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "restaurant_id"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"min_level", "max_level", "unit", "unit_cost", "updated_at",
		}),
	}).Create(item).Error
}

func (r *inventoryRepository) GetByProductID(ctx context.Context, restaurantID, productID uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := r.db.Conn(ctx).
		Where("restaurant_id = ? AND product_id = ?", restaurantID, productID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *inventoryRepository) GetByRestaurantID(ctx context.Context, restaurantID uuid.UUID) ([]models.InventoryItem, error) {
	var items []models.InventoryItem
	err := r.db.Conn(ctx).Where("restaurant_id = ?", restaurantID).Find(&items).Error
	return items, err
}

func (r *inventoryRepository) AdjustStock(ctx context.Context, itemID uuid.UUID, delta float64) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := r.db.Conn(ctx).Raw(
		"UPDATE inventory_items SET stock_level = stock_level + ?, updated_at = now() WHERE id = ? RETURNING *",
		delta, itemID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *inventoryRepository) CreateMovement(ctx context.Context, movement *models.StockMovement) error {
	return r.db.Conn(ctx).Create(movement).Error
}

func (r *inventoryRepository) GetMovements(ctx context.Context, restaurantID, productID uuid.UUID, limit, offset int) ([]models.StockMovement, int64, error) {
	var movements []models.StockMovement
	var total int64

	query := r.db.Conn(ctx).Model(&models.StockMovement{}).
		Joins("JOIN inventory_items ON inventory_items.id = stock_movements.inventory_item_id").
		Where("stock_movements.restaurant_id = ? AND inventory_items.product_id = ?", restaurantID, productID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("stock_movements.created_at DESC").Limit(limit).Offset(offset).Find(&movements).Error
	return movements, total, err
}

func (r *inventoryRepository) GetLowStock(ctx context.Context, restaurantID uuid.UUID) ([]models.InventoryItem, error) {
	var items []models.InventoryItem
	err := r.db.Conn(ctx).
		Where("restaurant_id = ? AND stock_level <= min_level", restaurantID).
		Find(&items).Error
	return items, err
}
