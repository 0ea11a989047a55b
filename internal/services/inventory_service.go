package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/models"
	"golang-pos-backend/internal/realtime"
	"golang-pos-backend/internal/repositories"
	"golang-pos-backend/internal/tenant"
)

// Movement reasons accepted from clients. Sales come only from the order
// engine.
var movementReasons = map[string]bool{
	"restock":    true,
	"adjustment": true,
	"waste":      true,
}

type InventoryService struct {
	db            TxRunner
	inventoryRepo repositories.InventoryRepository
	productRepo   repositories.ProductRepository
	events        Publisher
	logger        zerolog.Logger
}

func NewInventoryService(
	db TxRunner,
	inventoryRepo repositories.InventoryRepository,
	productRepo repositories.ProductRepository,
	events Publisher,
	logger zerolog.Logger,
) *InventoryService {
	return &InventoryService{
		db:            db,
		inventoryRepo: inventoryRepo,
		productRepo:   productRepo,
		events:        events,
		logger:        logger.With().Str("component", "inventory").Logger(),
	}
}

type UpsertInventoryRequest struct {
	ProductID string  `json:"product_id" binding:"required"`
	MinLevel  float64 `json:"min_level"`
	MaxLevel  float64 `json:"max_level"`
	Unit      string  `json:"unit"`
	UnitCost  *string `json:"unit_cost,omitempty"`
}

type AdjustStockRequest struct {
	ProductID string  `json:"product_id" binding:"required"`
	Delta     float64 `json:"delta" binding:"required"`
	Reason    string  `json:"reason" binding:"required"`
	Note      string  `json:"note"`
}

func (s *InventoryService) UpsertItem(ctx context.Context, restaurantID uuid.UUID, req *UpsertInventoryRequest) (*models.InventoryItem, error) {
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		return nil, apperrors.InvalidPayload("malformed product_id")
	}
	if req.MinLevel < 0 || req.MaxLevel < 0 {
		return nil, apperrors.InvalidPayload("levels cannot be negative")
	}

	item := &models.InventoryItem{
		RestaurantID: restaurantID,
		ProductID:    productID,
		MinLevel:     req.MinLevel,
		MaxLevel:     req.MaxLevel,
		Unit:         defaultString(req.Unit, "unit"),
	}
	if req.UnitCost != nil {
		cost, err := parsePrice(*req.UnitCost)
		if err != nil {
			return nil, err
		}
		item.UnitCost = cost
	} else {
		item.UnitCost = decimal.Zero
	}

	err = s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		product, err := s.productRepo.GetByID(txCtx, productID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.ProductNotFound()
			}
			return apperrors.Internal(err)
		}
		if product.RestaurantID != restaurantID {
			return apperrors.ProductNotFound()
		}
		if err := s.inventoryRepo.Upsert(txCtx, item); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// AdjustStock applies a manual movement. Sales never come through here; the
// order engine consumes stock inside the confirm transaction.
func (s *InventoryService) AdjustStock(ctx context.Context, restaurantID uuid.UUID, req *AdjustStockRequest) (*models.InventoryItem, error) {
	if !movementReasons[req.Reason] {
		return nil, apperrors.InvalidPayload("reason must be restock, adjustment or waste")
	}
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		return nil, apperrors.InvalidPayload("malformed product_id")
	}

	tc, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	var item *models.InventoryItem
	var lowEvent *realtime.Event
	err = s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		existing, err := s.inventoryRepo.GetByProductID(txCtx, restaurantID, productID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.ProductNotFound()
			}
			return apperrors.Internal(err)
		}
		if existing.StockLevel+req.Delta < 0 {
			return apperrors.InvalidPayload("stock level cannot go negative")
		}

		item, err = s.inventoryRepo.AdjustStock(txCtx, existing.ID, req.Delta)
		if err != nil {
			return apperrors.Internal(err)
		}
		movement := &models.StockMovement{
			RestaurantID:    restaurantID,
			InventoryItemID: existing.ID,
			Delta:           req.Delta,
			Reason:          req.Reason,
			PerformedBy:     tc.UserID,
			Note:            req.Note,
		}
		if err := s.inventoryRepo.CreateMovement(txCtx, movement); err != nil {
			return apperrors.Internal(err)
		}

		lowEvent = s.maybeLowStockEvent(restaurantID, item)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(realtime.Event{
		Topic:        realtime.TopicInventoryAdjusted,
		RestaurantID: restaurantID,
		Data: map[string]interface{}{
			"product_id":  productID.String(),
			"delta":       req.Delta,
			"stock_level": item.StockLevel,
			"reason":      req.Reason,
		},
		At: time.Now().UTC(),
	})
	if lowEvent != nil {
		s.events.Publish(*lowEvent)
	}
	return item, nil
}

// ConsumeForOrder decrements stock for each tracked line inside the caller's
// transaction. Untracked products pass through; tracked products may go to
// zero but a confirm never drives stock negative silently, it floors at zero
// and flags low stock. Returned events are emitted by the caller after
// commit.
func (s *InventoryService) ConsumeForOrder(ctx context.Context, order *models.Order, actorID uuid.UUID) ([]realtime.Event, error) {
	var events []realtime.Event
	for _, line := range order.Lines {
		item, err := s.inventoryRepo.GetByProductID(ctx, order.RestaurantID, line.ProductID)
		if err != nil {
			if repositories.IsNotFound(err) {
				continue
			}
			return nil, apperrors.Internal(err)
		}

		delta := -float64(line.Quantity)
		if item.StockLevel+delta < 0 {
			delta = -item.StockLevel
		}
		updated, err := s.inventoryRepo.AdjustStock(ctx, item.ID, delta)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		movement := &models.StockMovement{
			RestaurantID:    order.RestaurantID,
			InventoryItemID: item.ID,
			Delta:           delta,
			Reason:          "sale",
			PerformedBy:     actorID,
			Note:            "order " + order.ID.String(),
		}
		if err := s.inventoryRepo.CreateMovement(ctx, movement); err != nil {
			return nil, apperrors.Internal(err)
		}

		if e := s.maybeLowStockEvent(order.RestaurantID, updated); e != nil {
			events = append(events, *e)
		}
	}
	return events, nil
}

func (s *InventoryService) maybeLowStockEvent(restaurantID uuid.UUID, item *models.InventoryItem) *realtime.Event {
	if item.MinLevel <= 0 || item.StockLevel > item.MinLevel {
		return nil
	}
	return &realtime.Event{
		Topic:        realtime.TopicInventoryStockLow,
		RestaurantID: restaurantID,
		Data: map[string]interface{}{
			"product_id":  item.ProductID.String(),
			"stock_level": item.StockLevel,
			"min_level":   item.MinLevel,
		},
		At: time.Now().UTC(),
	}
}

func (s *InventoryService) ListItems(ctx context.Context, restaurantID uuid.UUID) ([]models.InventoryItem, error) {
	var items []models.InventoryItem
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		items, err = s.inventoryRepo.GetByRestaurantID(txCtx, restaurantID)
		if err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	return items, err
}

func (s *InventoryService) ListMovements(ctx context.Context, restaurantID uuid.UUID, productID *uuid.UUID, limit, offset int) ([]models.StockMovement, int64, error) {
	var movements []models.StockMovement
	var total int64
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var pid uuid.UUID
		if productID != nil {
			pid = *productID
		}
		var err error
		movements, total, err = s.inventoryRepo.GetMovements(txCtx, restaurantID, pid, limit, offset)
		if err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	return movements, total, err
}

func (s *InventoryService) LowStock(ctx context.Context, restaurantID uuid.UUID) ([]models.InventoryItem, error) {
	var items []models.InventoryItem
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		items, err = s.inventoryRepo.GetLowStock(txCtx, restaurantID)
		if err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	return items, err
}
