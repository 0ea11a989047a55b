package services

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/models"
	"golang-pos-backend/internal/realtime"
	"golang-pos-backend/internal/repositories"
	"golang-pos-backend/pkg/metrics"
)

// orderTransitions lists which targets AdvanceStatus accepts per current
// status. Confirm, Cancel and the refund path run through their own
// operations with extra checks.
var orderTransitions = map[string]string{
	models.OrderStatusConfirmed: models.OrderStatusPreparing,
	models.OrderStatusPreparing: models.OrderStatusReady,
	models.OrderStatusReady:     models.OrderStatusCompleted,
}

type OrderService struct {
	db             TxRunner
	orderRepo      repositories.OrderRepository
	productRepo    repositories.ProductRepository
	restaurantRepo repositories.RestaurantRepository
	intentRepo     repositories.PaymentIntentRepository
	inventory      *InventoryService
	events         Publisher
	metrics        *metrics.Metrics
	logger         zerolog.Logger
}

func NewOrderService(
	db TxRunner,
	orderRepo repositories.OrderRepository,
	productRepo repositories.ProductRepository,
	restaurantRepo repositories.RestaurantRepository,
	intentRepo repositories.PaymentIntentRepository,
	inventory *InventoryService,
	events Publisher,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *OrderService {
	return &OrderService{
		db:             db,
		orderRepo:      orderRepo,
		productRepo:    productRepo,
		restaurantRepo: restaurantRepo,
		intentRepo:     intentRepo,
		inventory:      inventory,
		events:         events,
		metrics:        m,
		logger:         logger.With().Str("component", "orders").Logger(),
	}
}

type OrderLineInput struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
	Notes     string `json:"notes"`
}

type CreateOrderRequest struct {
	Type            string           `json:"type" binding:"required"`
	Lines           []OrderLineInput `json:"lines"`
	CustomerName    string           `json:"customer_name"`
	CustomerContact string           `json:"customer_contact"`
	ServerID        *string          `json:"server_id,omitempty"`
	Discount        *string          `json:"discount,omitempty"`
}

type LinePatch struct {
	Add    []OrderLineInput `json:"add,omitempty"`
	Remove []string         `json:"remove,omitempty"`
	Modify []ModifyLine     `json:"modify,omitempty"`
}

type ModifyLine struct {
	LineID   string  `json:"line_id" binding:"required"`
	Quantity int     `json:"quantity" binding:"required"`
	Notes    *string `json:"notes,omitempty"`
}

type UpdateLinesRequest struct {
	Patch         LinePatch `json:"patch"`
	ExpectedTotal *string   `json:"expected_total,omitempty"`
}

type ConfirmOrderRequest struct {
	ExpectedTotal *string `json:"expected_total,omitempty"`
}

type AdvanceStatusRequest struct {
	Target string `json:"target" binding:"required"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// CreateOrder opens a draft and allocates the restaurant-scoped order
// number. Drafts may start empty or carry unavailable products; Confirm is
// the gate that enforces sellability.
func (s *OrderService) CreateOrder(ctx context.Context, restaurantID uuid.UUID, req *CreateOrderRequest) (*models.Order, error) {
	switch req.Type {
	case models.OrderTypeDineIn, models.OrderTypeTakeaway, models.OrderTypeDelivery:
	default:
		return nil, apperrors.InvalidPayload("type must be dine_in, takeaway or delivery")
	}

	tc, err := RequireSameRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	discount := decimal.Zero
	if req.Discount != nil {
		discount, err = parsePrice(*req.Discount)
		if err != nil {
			return nil, err
		}
	}

	var serverID *uuid.UUID
	if req.ServerID != nil {
		id, err := uuid.Parse(*req.ServerID)
		if err != nil {
			return nil, apperrors.InvalidPayload("malformed server_id")
		}
		serverID = &id
	}

	var order *models.Order
	var created realtime.Event
	err = s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		restaurant, err := s.restaurantRepo.GetByID(txCtx, restaurantID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.RestaurantNotFound()
			}
			return apperrors.Internal(err)
		}

		lines, err := s.buildLines(txCtx, restaurantID, req.Lines)
		if err != nil {
			return err
		}

		number, err := s.restaurantRepo.NextOrderNumber(txCtx, restaurantID)
		if err != nil {
			return apperrors.Internal(err)
		}

		order = &models.Order{
			RestaurantID:    restaurantID,
			OrderNumber:     number,
			Type:            req.Type,
			Status:          models.OrderStatusDraft,
			Lines:           lines,
			CustomerName:    req.CustomerName,
			CustomerContact: req.CustomerContact,
			ServerID:        serverID,
			CreatedByID:     tc.UserID,
			Discount:        discount,
			EventSeq:        1,
		}
		applyTotals(order, restaurant)

		if err := s.orderRepo.Create(txCtx, order); err != nil {
			return apperrors.Internal(err)
		}
		if err := s.orderRepo.AppendStatusLog(txCtx, &models.OrderStatusLog{
			OrderID:      order.ID,
			RestaurantID: restaurantID,
			Status:       models.OrderStatusDraft,
			ActorID:      tc.UserID,
		}); err != nil {
			return apperrors.Internal(err)
		}

		created = orderEvent(realtime.TopicOrderCreated, order, map[string]interface{}{
			"order_number": order.OrderNumber,
			"status":       order.Status,
			"total":        order.Total.StringFixed(2),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.OrdersCreated.Inc()
	s.events.Publish(created)
	return order, nil
}

// UpdateLines patches a draft's lines and recomputes totals. The optional
// expected_total is the client's last-seen total; a mismatch means the order
// changed underneath them.
func (s *OrderService) UpdateLines(ctx context.Context, restaurantID, orderID uuid.UUID, req *UpdateLinesRequest) (*models.Order, error) {
	if _, err := RequireSameRestaurant(ctx, restaurantID); err != nil {
		return nil, err
	}

	var order *models.Order
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.lockOrder(txCtx, restaurantID, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusDraft {
			return apperrors.New(apperrors.CodeInvalidTransition,
				"lines can only change while the order is draft", http.StatusConflict)
		}
		if err := checkExpectedTotal(order, req.ExpectedTotal); err != nil {
			return err
		}

		lines, err := s.applyPatch(txCtx, order, &req.Patch)
		if err != nil {
			return err
		}

		restaurant, err := s.restaurantRepo.GetByID(txCtx, restaurantID)
		if err != nil {
			return apperrors.Internal(err)
		}

		order.Lines = lines
		applyTotals(order, restaurant)

		if err := s.orderRepo.ReplaceLines(txCtx, order.ID, lines); err != nil {
			return apperrors.Internal(err)
		}
		if err := s.orderRepo.Update(txCtx, order); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Confirm moves a draft into the kitchen. Every product must be sellable
// right now and the restaurant must be open; stock for tracked products is
// consumed in the same transaction.
func (s *OrderService) Confirm(ctx context.Context, restaurantID, orderID uuid.UUID, req *ConfirmOrderRequest) (*models.Order, error) {
	tc, err := RequireSameRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	var events []realtime.Event
	err = s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.lockOrder(txCtx, restaurantID, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusDraft {
			return apperrors.InvalidTransition(order.Status, models.OrderStatusConfirmed)
		}
		if len(order.Lines) == 0 {
			return apperrors.InvalidPayload("order has no lines")
		}
		if err := checkExpectedTotal(order, req.ExpectedTotal); err != nil {
			return err
		}

		restaurant, err := s.restaurantRepo.GetByID(txCtx, restaurantID)
		if err != nil {
			return apperrors.Internal(err)
		}
		if !IsOpenAt(restaurant, time.Now()) {
			return apperrors.RestaurantClosed()
		}

		if err := s.checkAvailability(txCtx, order); err != nil {
			return err
		}

		lowEvents, err := s.inventory.ConsumeForOrder(txCtx, order, tc.UserID)
		if err != nil {
			return err
		}

		order.Status = models.OrderStatusConfirmed
		order.EventSeq++
		confirmed := orderEvent(realtime.TopicOrderConfirmed, order, map[string]interface{}{
			"order_number": order.OrderNumber,
			"total":        order.Total.StringFixed(2),
		})
		order.EventSeq++
		ticket := orderEvent(realtime.TopicKitchenTicket, order, map[string]interface{}{
			"order_number": order.OrderNumber,
			"type":         order.Type,
			"lines":        ticketLines(order.Lines),
		})

		if err := s.orderRepo.Update(txCtx, order); err != nil {
			return apperrors.Internal(err)
		}
		if err := s.orderRepo.AppendStatusLog(txCtx, &models.OrderStatusLog{
			OrderID:      order.ID,
			RestaurantID: restaurantID,
			Status:       models.OrderStatusConfirmed,
			ActorID:      tc.UserID,
		}); err != nil {
			return apperrors.Internal(err)
		}

		events = append([]realtime.Event{confirmed, ticket}, lowEvents...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, e := range events {
		s.events.Publish(e)
	}
	return order, nil
}

// AdvanceStatus moves the order one step along the kitchen flow.
func (s *OrderService) AdvanceStatus(ctx context.Context, restaurantID, orderID uuid.UUID, target string) (*models.Order, error) {
	tc, err := RequireSameRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	var changed realtime.Event
	err = s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.lockOrder(txCtx, restaurantID, orderID)
		if err != nil {
			return err
		}

		if orderTransitions[order.Status] != target {
			return apperrors.InvalidTransition(order.Status, target)
		}

		from := order.Status
		order.Status = target
		if target == models.OrderStatusCompleted {
			now := time.Now()
			order.CompletedAt = &now
		}
		order.EventSeq++
		changed = orderEvent(realtime.TopicOrderStatusChanged, order, map[string]interface{}{
			"from": from,
			"to":   target,
		})

		if err := s.orderRepo.Update(txCtx, order); err != nil {
			return apperrors.Internal(err)
		}
		if err := s.orderRepo.AppendStatusLog(txCtx, &models.OrderStatusLog{
			OrderID:      order.ID,
			RestaurantID: restaurantID,
			Status:       target,
			ActorID:      tc.UserID,
		}); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(changed)
	return order, nil
}

// Cancel aborts a draft or confirmed order and releases its pending payment
// intents so the sweeper stops polling them.
func (s *OrderService) Cancel(ctx context.Context, restaurantID, orderID uuid.UUID, reason string) (*models.Order, error) {
	tc, err := RequireSameRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	var cancelled realtime.Event
	err = s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.lockOrder(txCtx, restaurantID, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusDraft && order.Status != models.OrderStatusConfirmed {
			return apperrors.InvalidTransition(order.Status, models.OrderStatusCancelled)
		}

		pending, err := s.intentRepo.GetPendingByOrderID(txCtx, order.ID)
		if err != nil {
			return apperrors.Internal(err)
		}
		for i := range pending {
			pending[i].Status = models.IntentStatusCancelled
			if err := s.intentRepo.Update(txCtx, &pending[i]); err != nil {
				return apperrors.Internal(err)
			}
		}

		order.Status = models.OrderStatusCancelled
		order.CancelReason = reason
		order.EventSeq++
		cancelled = orderEvent(realtime.TopicOrderCancelled, order, map[string]interface{}{
			"reason": reason,
		})

		if err := s.orderRepo.Update(txCtx, order); err != nil {
			return apperrors.Internal(err)
		}
		if err := s.orderRepo.AppendStatusLog(txCtx, &models.OrderStatusLog{
			OrderID:      order.ID,
			RestaurantID: restaurantID,
			Status:       models.OrderStatusCancelled,
			ActorID:      tc.UserID,
			Note:         reason,
		}); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(cancelled)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, restaurantID, orderID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orderRepo.GetByID(txCtx, orderID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.OrderNotFound()
			}
			return apperrors.Internal(err)
		}
		if order.RestaurantID != restaurantID {
			return apperrors.OrderNotFound()
		}
		return nil
	})
	return order, err
}

func (s *OrderService) ListOrders(ctx context.Context, restaurantID uuid.UUID, status string, limit, offset int) ([]models.Order, int64, error) {
	if status != "" {
		switch status {
		case models.OrderStatusDraft, models.OrderStatusConfirmed, models.OrderStatusPreparing,
			models.OrderStatusReady, models.OrderStatusCompleted, models.OrderStatusCancelled,
			models.OrderStatusRefunded:
		default:
			return nil, 0, apperrors.InvalidPayload("unknown status filter")
		}
	}

	var orders []models.Order
	var total int64
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		orders, total, err = s.orderRepo.GetByRestaurantID(txCtx, restaurantID, status, limit, offset)
		if err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	return orders, total, err
}

func (s *OrderService) GetStatusLogs(ctx context.Context, restaurantID, orderID uuid.UUID) ([]models.OrderStatusLog, error) {
	var logs []models.OrderStatusLog
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		order, err := s.orderRepo.GetByID(txCtx, orderID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.OrderNotFound()
			}
			return apperrors.Internal(err)
		}
		if order.RestaurantID != restaurantID {
			return apperrors.OrderNotFound()
		}
		logs, err = s.orderRepo.GetStatusLogs(txCtx, orderID)
		if err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	return logs, err
}

func (s *OrderService) lockOrder(ctx context.Context, restaurantID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orderRepo.GetByIDForUpdate(ctx, orderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, apperrors.OrderNotFound()
		}
		return nil, apperrors.Internal(err)
	}
	if order.RestaurantID != restaurantID {
		return nil, apperrors.OrderNotFound()
	}
	return order, nil
}

// buildLines resolves product ids and captures name and price at add time.
func (s *OrderService) buildLines(ctx context.Context, restaurantID uuid.UUID, inputs []OrderLineInput) ([]models.OrderLine, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(inputs))
	for _, in := range inputs {
		id, err := uuid.Parse(in.ProductID)
		if err != nil {
			return nil, apperrors.InvalidPayload("malformed product_id")
		}
		if in.Quantity < 1 {
			return nil, apperrors.InvalidPayload("quantity must be at least 1")
		}
		ids = append(ids, id)
	}

	products, err := s.productRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	byID := make(map[uuid.UUID]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	lines := make([]models.OrderLine, 0, len(inputs))
	for i, in := range inputs {
		product, ok := byID[ids[i]]
		if !ok || product.RestaurantID != restaurantID || !product.IsActive {
			return nil, apperrors.ProductNotFound()
		}
		qty := in.Quantity
		lines = append(lines, models.OrderLine{
			RestaurantID: restaurantID,
			ProductID:    product.ID,
			ProductName:  product.Name,
			UnitPrice:    product.Price,
			Quantity:     qty,
			Subtotal:     product.Price.Mul(decimal.NewFromInt(int64(qty))),
			Notes:        in.Notes,
		})
	}
	return lines, nil
}

func (s *OrderService) applyPatch(ctx context.Context, order *models.Order, patch *LinePatch) ([]models.OrderLine, error) {
	lines := make([]models.OrderLine, len(order.Lines))
	copy(lines, order.Lines)

	for _, raw := range patch.Remove {
		lineID, err := uuid.Parse(raw)
		if err != nil {
			return nil, apperrors.InvalidPayload("malformed line id in remove")
		}
		idx := findLine(lines, lineID)
		if idx < 0 {
			return nil, apperrors.InvalidPayload("line to remove does not exist")
		}
		lines = append(lines[:idx], lines[idx+1:]...)
	}

	for _, mod := range patch.Modify {
		lineID, err := uuid.Parse(mod.LineID)
		if err != nil {
			return nil, apperrors.InvalidPayload("malformed line id in modify")
		}
		idx := findLine(lines, lineID)
		if idx < 0 {
			return nil, apperrors.InvalidPayload("line to modify does not exist")
		}
		if mod.Quantity < 1 {
			return nil, apperrors.InvalidPayload("quantity must be at least 1")
		}
		lines[idx].Quantity = mod.Quantity
		lines[idx].Subtotal = lines[idx].UnitPrice.Mul(decimal.NewFromInt(int64(mod.Quantity)))
		if mod.Notes != nil {
			lines[idx].Notes = *mod.Notes
		}
	}

	added, err := s.buildLines(ctx, order.RestaurantID, patch.Add)
	if err != nil {
		return nil, err
	}
	for i := range added {
		added[i].OrderID = order.ID
	}
	return append(lines, added...), nil
}

func (s *OrderService) checkAvailability(ctx context.Context, order *models.Order) error {
	ids := make([]uuid.UUID, 0, len(order.Lines))
	for _, line := range order.Lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.productRepo.GetByIDs(ctx, ids)
	if err != nil {
		return apperrors.Internal(err)
	}

	sellable := make(map[uuid.UUID]bool, len(products))
	for _, p := range products {
		sellable[p.ID] = p.Available && p.IsActive
	}

	var unavailable []string
	for _, line := range order.Lines {
		if !sellable[line.ProductID] {
			unavailable = append(unavailable, line.ProductName)
		}
	}
	if len(unavailable) > 0 {
		return apperrors.ProductUnavailable(unavailable)
	}
	return nil
}

// findLine returns the index of the line with the given id, or -1 when the
// order has no such line.
func findLine(lines []models.OrderLine, lineID uuid.UUID) int {
	for i := range lines {
		if lines[i].ID == lineID {
			return i
		}
	}
	return -1
}

func checkExpectedTotal(order *models.Order, expected *string) error {
	if expected == nil {
		return nil
	}
	want, err := decimal.NewFromString(*expected)
	if err != nil {
		return apperrors.InvalidPayload("malformed expected_total")
	}
	if !want.Equal(order.Total) {
		return apperrors.StaleOrderState(*expected, order.Total.StringFixed(2))
	}
	return nil
}

// applyTotals recomputes the monetary columns from the lines and the
// restaurant's configured rates.
func applyTotals(order *models.Order, restaurant *models.Restaurant) {
	subtotal := decimal.Zero
	for _, line := range order.Lines {
		subtotal = subtotal.Add(line.Subtotal)
	}
	tax := subtotal.Mul(decimal.NewFromInt(restaurant.TaxRateBps)).Div(decimal.NewFromInt(10000)).Round(2)
	service := subtotal.Mul(decimal.NewFromInt(restaurant.ServiceChargeBps)).Div(decimal.NewFromInt(10000)).Round(2)

	total := subtotal.Add(tax).Add(service).Sub(order.Discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	order.Subtotal = subtotal
	order.Tax = tax
	order.ServiceCharge = service
	order.Total = total
}

func orderEvent(topic string, order *models.Order, data map[string]interface{}) realtime.Event {
	return realtime.Event{
		Topic:        topic,
		RestaurantID: order.RestaurantID,
		OrderID:      order.ID.String(),
		Seq:          order.EventSeq,
		Data:         data,
		At:           time.Now().UTC(),
	}
}

func ticketLines(lines []models.OrderLine) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(lines))
	for _, line := range lines {
		out = append(out, map[string]interface{}{
			"product_name": line.ProductName,
			"quantity":     line.Quantity,
			"notes":        line.Notes,
		})
	}
	return out
}
