package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"golang-pos-backend/configs"
	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/models"
	"golang-pos-backend/internal/providers"
	"golang-pos-backend/internal/realtime"
	"golang-pos-backend/internal/repositories"
	"golang-pos-backend/internal/tenant"
	"golang-pos-backend/pkg/metrics"
)

const (
	webhookDedupTTL = 48 * time.Hour
	sweepBatch      = 50
)

// feeTolerance is the largest allowed gap between the fee the client showed
// the customer and the fee computed here.
var feeTolerance = decimal.New(1, -2)

type PaymentService struct {
	db              TxRunner
	orderRepo       repositories.OrderRepository
	intentRepo      repositories.PaymentIntentRepository
	paymentRepo     repositories.PaymentRepository
	commissionRepo  repositories.CommissionRepository
	restaurantRepo  repositories.RestaurantRepository
	registry        *providers.Registry
	commission      configs.CommissionConfig
	cache           Cache
	events          Publisher
	metrics         *metrics.Metrics
	providerTimeout time.Duration
	logger          zerolog.Logger
}

func NewPaymentService(
	db TxRunner,
	orderRepo repositories.OrderRepository,
	intentRepo repositories.PaymentIntentRepository,
	paymentRepo repositories.PaymentRepository,
	commissionRepo repositories.CommissionRepository,
	restaurantRepo repositories.RestaurantRepository,
	registry *providers.Registry,
	commission configs.CommissionConfig,
	redisCache Cache,
	events Publisher,
	m *metrics.Metrics,
	providerTimeout time.Duration,
	logger zerolog.Logger,
) *PaymentService {
	return &PaymentService{
		db:              db,
		orderRepo:       orderRepo,
		intentRepo:      intentRepo,
		paymentRepo:     paymentRepo,
		commissionRepo:  commissionRepo,
		restaurantRepo:  restaurantRepo,
		registry:        registry,
		commission:      commission,
		cache:           redisCache,
		events:          events,
		metrics:         m,
		providerTimeout: providerTimeout,
		logger:          logger.With().Str("component", "payments").Logger(),
	}
}

type CreateIntentRequest struct {
	OrderID       string  `json:"order_id" binding:"required"`
	ExpectedTotal string  `json:"expected_total" binding:"required"`
	DisplayedFee  *string `json:"displayed_fee,omitempty"`
}

type RefundRequest struct {
	Amount *string `json:"amount,omitempty"`
	Reason string  `json:"reason"`
}

// CreateIntent reserves a payment at the cheapest provider that accepts the
// method. The order row stays locked for the provider round trip so two
// cashiers cannot open intents against diverging totals.
func (s *PaymentService) CreateIntent(ctx context.Context, method, idempotencyKey string, req *CreateIntentRequest) (*models.PaymentIntent, error) {
	switch method {
	case models.MethodQR, models.MethodCard, models.MethodApplePay:
	default:
		return nil, apperrors.InvalidPayload("method must be qr, card or apple_pay")
	}
	if idempotencyKey == "" {
		return nil, apperrors.InvalidPayload("Idempotency-Key header is required")
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		return nil, apperrors.InvalidPayload("malformed order_id")
	}
	expectedTotal, err := decimal.NewFromString(req.ExpectedTotal)
	if err != nil {
		return nil, apperrors.InvalidPayload("malformed expected_total")
	}

	tc, err := tenant.Require(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	var intent *models.PaymentIntent
	err = s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		order, err := s.orderRepo.GetByIDForUpdate(txCtx, orderID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.OrderNotFound()
			}
			return apperrors.Internal(err)
		}
		if !tc.CanAccessRestaurant(order.RestaurantID) {
			return apperrors.OrderNotFound()
		}

		// Replays with the same key return the stored intent untouched.
		if existing, err := s.intentRepo.GetByOrderAndKey(txCtx, order.ID, idempotencyKey); err == nil {
			intent = existing
			return nil
		} else if !repositories.IsNotFound(err) {
			return apperrors.Internal(err)
		}

		if order.Status != models.OrderStatusConfirmed {
			return apperrors.New(apperrors.CodeInvalidTransition,
				"order must be confirmed before taking payment", http.StatusConflict)
		}
		if !expectedTotal.Equal(order.Total) {
			return apperrors.StaleOrderState(req.ExpectedTotal, order.Total.StringFixed(2))
		}

		restaurant, err := s.restaurantRepo.GetByID(txCtx, order.RestaurantID)
		if err != nil {
			return apperrors.Internal(err)
		}

		candidates := s.candidatesFor(restaurant, method)
		if len(candidates) == 0 {
			return apperrors.ProviderUnavailable(method, fmt.Errorf("no provider configured for method %s", method))
		}

		platformBps := s.commissionBps(restaurant.SubscriptionTier)

		// When the client sends the fee it displayed, only providers whose
		// fee agrees within tolerance stay in the failover list; the check
		// happens before any provider call so a mismatch leaves nothing
		// reserved upstream.
		if req.DisplayedFee != nil {
			displayed, err := decimal.NewFromString(*req.DisplayedFee)
			if err != nil {
				return apperrors.InvalidPayload("malformed displayed_fee")
			}
			cheapest := feeAmount(order.Total, candidates[0].FeeBps()+platformBps)
			matching := candidates[:0]
			for _, p := range candidates {
				fee := feeAmount(order.Total, p.FeeBps()+platformBps)
				if displayed.Sub(fee).Abs().LessThanOrEqual(feeTolerance) {
					matching = append(matching, p)
				}
			}
			if len(matching) == 0 {
				return apperrors.FeeMismatch(cheapest.StringFixed(2), *req.DisplayedFee)
			}
			candidates = matching
		}

		provider, providerIntent, err := s.createAtProvider(txCtx, candidates, providers.IntentRequest{
			Amount:   order.Total,
			Currency: restaurant.Currency,
			OrderRef: order.ID.String(),
			Method:   method,
		}, order.ID, idempotencyKey)
		if err != nil {
			return err
		}

		fee := feeAmount(order.Total, provider.FeeBps()+platformBps)

		intent = &models.PaymentIntent{
			RestaurantID:   order.RestaurantID,
			OrderID:        order.ID,
			Provider:       provider.Name(),
			Method:         method,
			Amount:         order.Total,
			FeeAmount:      fee,
			ProviderFeeBps: provider.FeeBps(),
			PlatformFeeBps: platformBps,
			IntentRef:      providerIntent.Ref,
			ClientPayload:  models.JSONB(providerIntent.ClientPayload),
			IdempotencyKey: idempotencyKey,
			Status:         models.PaymentStatusPending,
			ExpiresAt:      providerIntent.ExpiresAt,
		}
		if err := s.intentRepo.Create(txCtx, intent); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// createAtProvider walks the fee-ordered candidates. An unreachable provider
// gets one more attempt under a fresh key, then the next candidate takes
// over; any other failure stops the walk.
func (s *PaymentService) createAtProvider(ctx context.Context, candidates []providers.Provider, req providers.IntentRequest, orderID uuid.UUID, clientKey string) (providers.Provider, *providers.Intent, error) {
	var lastErr error
	for _, p := range candidates {
		for attempt := 0; attempt < 2; attempt++ {
			req.IdempotencyKey = providerKey(orderID, clientKey, p.Name(), attempt)

			callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
			intent, err := p.CreateIntent(callCtx, req)
			cancel()

			if err == nil {
				return p, intent, nil
			}
			if !apperrors.Is(err, apperrors.CodeProviderUnavailable) {
				return nil, nil, apperrors.Internal(err)
			}
			lastErr = err
			s.logger.Warn().Err(err).
				Str("provider", p.Name()).
				Int("attempt", attempt+1).
				Msg("intent creation failed, provider unreachable")
		}
	}
	return nil, nil, lastErr
}

// ConfirmIntent polls the provider for the intent's outcome and finalizes it.
// Safe to call repeatedly; the capture path is idempotent per intent.
func (s *PaymentService) ConfirmIntent(ctx context.Context, intentID uuid.UUID) (*models.PaymentIntent, *models.Payment, error) {
	tc, err := tenant.Require(ctx)
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}

	var intent *models.PaymentIntent
	err = s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		intent, err = s.intentRepo.GetByID(txCtx, intentID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.PaymentNotFound()
			}
			return apperrors.Internal(err)
		}
		if !tc.CanAccessRestaurant(intent.RestaurantID) {
			return apperrors.PaymentNotFound()
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	switch intent.Status {
	case models.PaymentStatusPending:
	case models.PaymentStatusCaptured:
		payment, err := s.capturedPayment(ctx, intent.OrderID)
		return intent, payment, err
	default:
		return intent, nil, nil
	}

	if time.Now().After(intent.ExpiresAt) {
		if err := s.expireIntent(ctx, intent); err != nil {
			return nil, nil, err
		}
		return nil, nil, apperrors.IntentExpired()
	}

	provider, ok := s.registry.Get(intent.Provider)
	if !ok {
		return nil, nil, apperrors.Internal(fmt.Errorf("intent %s references unknown provider %s", intent.ID, intent.Provider))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	status, err := provider.Confirm(callCtx, intent.IntentRef)
	cancel()
	if err != nil {
		return nil, nil, err
	}

	switch status {
	case providers.StatusCaptured:
		payment, err := s.settleCapture(ctx, intent, intent.IntentRef, tc.UserID, false)
		if err != nil {
			return nil, nil, err
		}
		intent.Status = models.PaymentStatusCaptured
		return intent, payment, nil
	case providers.StatusFailed:
		if err := s.failIntent(ctx, intent, "provider reported failure", false); err != nil {
			return nil, nil, err
		}
		return intent, nil, nil
	default:
		return intent, nil, nil
	}
}

// HandleWebhook verifies, deduplicates and applies a provider notification.
// Signature failures return before any side effect.
func (s *PaymentService) HandleWebhook(ctx context.Context, providerName string, headers http.Header, body []byte) error {
	provider, ok := s.registry.Get(providerName)
	if !ok {
		return apperrors.InvalidPayload("unknown payment provider")
	}

	event, err := provider.VerifyWebhook(headers, body)
	if err != nil {
		s.metrics.WebhookEvents.WithLabelValues(providerName, "rejected").Inc()
		s.logger.Warn().Err(err).Str("provider", providerName).Msg("webhook rejected")
		return apperrors.SignatureInvalid()
	}

	dedupKey := fmt.Sprintf("webhook:%s:%s", providerName, event.EventID)
	claimed, err := s.cache.SetNX(ctx, dedupKey, 1, webhookDedupTTL)
	if err != nil {
		// Dedup store down: keep processing, the capture path is
		// idempotent per intent.
		s.logger.Warn().Err(err).Msg("webhook dedup store unavailable")
		claimed = true
	}
	if !claimed {
		s.metrics.WebhookEvents.WithLabelValues(providerName, "duplicate").Inc()
		return nil
	}

	if err := s.applyWebhook(ctx, provider, event); err != nil {
		// Release the claim so the provider's retry is not swallowed.
		if delErr := s.cache.Delete(ctx, dedupKey); delErr != nil {
			s.logger.Warn().Err(delErr).Str("key", dedupKey).Msg("failed to release webhook claim")
		}
		s.metrics.WebhookEvents.WithLabelValues(providerName, "error").Inc()
		return err
	}

	s.metrics.WebhookEvents.WithLabelValues(providerName, "processed").Inc()
	return nil
}

func (s *PaymentService) applyWebhook(ctx context.Context, provider providers.Provider, event *providers.WebhookEvent) error {
	var intent *models.PaymentIntent
	err := s.db.RunAsSystem(ctx, func(txCtx context.Context) error {
		var err error
		intent, err = s.intentRepo.GetByIntentRef(txCtx, provider.Name(), event.IntentRef)
		if err != nil {
			if repositories.IsNotFound(err) {
				return nil
			}
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if intent == nil {
		s.logger.Warn().
			Str("provider", provider.Name()).
			Str("intent_ref", event.IntentRef).
			Str("event_id", event.EventID).
			Msg("webhook references unknown intent")
		return nil
	}

	switch event.Type {
	case "payment.captured":
		_, err := s.settleCapture(ctx, intent, event.IntentRef, uuid.Nil, true)
		if apperrors.Is(err, apperrors.CodeDoubleCapture) {
			// The conflict is resolved (later capture refunded); the
			// provider should not redeliver.
			return nil
		}
		return err
	case "payment.failed":
		return s.failIntent(ctx, intent, "provider reported failure", true)
	default:
		s.logger.Info().
			Str("provider", provider.Name()).
			Str("type", event.Type).
			Msg("ignoring unhandled webhook type")
		return nil
	}
}

// settleCapture records a provider-side capture. Exactly one payment per
// order may end up captured; a second capture is rolled back and refunded at
// its provider.
func (s *PaymentService) settleCapture(ctx context.Context, intent *models.PaymentIntent, providerRef string, actorID uuid.UUID, asSystem bool) (*models.Payment, error) {
	var payment *models.Payment
	var pending []realtime.Event

	run := s.db.RunInTenantTx
	if asSystem {
		run = s.db.RunAsSystem
	}

	err := run(ctx, func(txCtx context.Context) error {
		order, err := s.orderRepo.GetByIDForUpdate(txCtx, intent.OrderID)
		if err != nil {
			return apperrors.Internal(err)
		}

		fresh, err := s.intentRepo.GetByIDForUpdate(txCtx, intent.ID)
		if err != nil {
			return apperrors.Internal(err)
		}
		switch fresh.Status {
		case models.PaymentStatusCaptured:
			payment, err = s.paymentRepo.GetCapturedByOrderID(txCtx, order.ID)
			if err != nil && !repositories.IsNotFound(err) {
				return apperrors.Internal(err)
			}
			return nil
		case models.PaymentStatusPending:
		default:
			return apperrors.IntentExpired()
		}

		if _, err := s.paymentRepo.GetCapturedByOrderID(txCtx, order.ID); err == nil {
			return apperrors.DoubleCapture()
		} else if !repositories.IsNotFound(err) {
			return apperrors.Internal(err)
		}

		restaurant, err := s.restaurantRepo.GetByID(txCtx, order.RestaurantID)
		if err != nil {
			return apperrors.Internal(err)
		}

		if err := s.paymentRepo.FailPendingByOrderID(txCtx, order.ID, uuid.Nil); err != nil {
			return apperrors.Internal(err)
		}
		stale, err := s.intentRepo.GetPendingByOrderID(txCtx, order.ID)
		if err != nil {
			return apperrors.Internal(err)
		}
		for i := range stale {
			if stale[i].ID == fresh.ID {
				continue
			}
			stale[i].Status = models.PaymentStatusFailed
			if err := s.intentRepo.Update(txCtx, &stale[i]); err != nil {
				return apperrors.Internal(err)
			}
		}

		now := time.Now()
		commission := feeAmount(fresh.Amount, fresh.PlatformFeeBps)
		payment = &models.Payment{
			RestaurantID:      order.RestaurantID,
			OrderID:           order.ID,
			IntentID:          &fresh.ID,
			Provider:          fresh.Provider,
			Method:            fresh.Method,
			Amount:            fresh.Amount,
			Currency:          restaurant.Currency,
			Status:            models.PaymentStatusCaptured,
			ProviderRef:       providerRef,
			CommissionRateBps: fresh.PlatformFeeBps,
			CommissionAmount:  commission,
			CapturedAt:        &now,
		}
		if err := s.paymentRepo.Create(txCtx, payment); err != nil {
			return apperrors.Internal(err)
		}
		if err := s.commissionRepo.Create(txCtx, &models.CommissionRecord{
			RestaurantID: order.RestaurantID,
			OrderID:      order.ID,
			PaymentID:    payment.ID,
			RateBps:      fresh.PlatformFeeBps,
			Amount:       commission,
		}); err != nil {
			return apperrors.Internal(err)
		}

		fresh.Status = models.PaymentStatusCaptured
		if err := s.intentRepo.Update(txCtx, fresh); err != nil {
			return apperrors.Internal(err)
		}

		order.EventSeq++
		pending = append(pending, orderEvent(realtime.TopicPaymentCaptured, order, map[string]interface{}{
			"payment_id": payment.ID.String(),
			"provider":   payment.Provider,
			"amount":     payment.Amount.StringFixed(2),
		}))

		if payment.Amount.GreaterThanOrEqual(order.Total) && canComplete(order.Status) {
			from := order.Status
			order.Status = models.OrderStatusCompleted
			order.CompletedAt = &now
			order.EventSeq++
			pending = append(pending, orderEvent(realtime.TopicOrderStatusChanged, order, map[string]interface{}{
				"from": from,
				"to":   models.OrderStatusCompleted,
			}))
			if err := s.orderRepo.AppendStatusLog(txCtx, &models.OrderStatusLog{
				OrderID:      order.ID,
				RestaurantID: order.RestaurantID,
				Status:       models.OrderStatusCompleted,
				ActorID:      actorID,
				Note:         "payment captured",
			}); err != nil {
				return apperrors.Internal(err)
			}
		}

		if err := s.orderRepo.Update(txCtx, order); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})

	if apperrors.Is(err, apperrors.CodeDoubleCapture) {
		s.refundLateCapture(ctx, intent, providerRef)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if len(pending) > 0 {
		s.metrics.PaymentsCaptured.WithLabelValues(intent.Provider).Inc()
		for _, e := range pending {
			s.events.Publish(e)
		}
	}
	return payment, nil
}

// refundLateCapture undoes the losing side of a capture race: the provider
// took the money but another payment already holds captured.
func (s *PaymentService) refundLateCapture(ctx context.Context, intent *models.PaymentIntent, providerRef string) {
	if err := s.db.RunAsSystem(ctx, func(txCtx context.Context) error {
		fresh, err := s.intentRepo.GetByIDForUpdate(txCtx, intent.ID)
		if err != nil {
			return err
		}
		if fresh.Status == models.PaymentStatusPending {
			fresh.Status = models.PaymentStatusFailed
			return s.intentRepo.Update(txCtx, fresh)
		}
		return nil
	}); err != nil {
		s.logger.Error().Err(err).Str("intent_id", intent.ID.String()).Msg("failed to mark late capture intent")
	}

	provider, ok := s.registry.Get(intent.Provider)
	if !ok {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()
	if err := provider.Refund(callCtx, providerRef, intent.Amount); err != nil {
		s.logger.Error().Err(err).
			Str("provider", intent.Provider).
			Str("intent_id", intent.ID.String()).
			Msg("failed to refund late capture, needs manual reconciliation")
		return
	}
	s.logger.Info().
		Str("provider", intent.Provider).
		Str("intent_id", intent.ID.String()).
		Msg("late capture refunded at provider")
}

func (s *PaymentService) failIntent(ctx context.Context, intent *models.PaymentIntent, reason string, asSystem bool) error {
	var failed realtime.Event
	var emit bool

	run := s.db.RunInTenantTx
	if asSystem {
		run = s.db.RunAsSystem
	}

	err := run(ctx, func(txCtx context.Context) error {
		order, err := s.orderRepo.GetByIDForUpdate(txCtx, intent.OrderID)
		if err != nil {
			return apperrors.Internal(err)
		}
		fresh, err := s.intentRepo.GetByIDForUpdate(txCtx, intent.ID)
		if err != nil {
			return apperrors.Internal(err)
		}
		if fresh.Status != models.PaymentStatusPending {
			return nil
		}

		fresh.Status = models.PaymentStatusFailed
		if err := s.intentRepo.Update(txCtx, fresh); err != nil {
			return apperrors.Internal(err)
		}

		order.EventSeq++
		failed = orderEvent(realtime.TopicPaymentFailed, order, map[string]interface{}{
			"intent_id": fresh.ID.String(),
			"provider":  fresh.Provider,
			"reason":    reason,
		})
		emit = true
		return s.orderRepo.Update(txCtx, order)
	})
	if err != nil {
		return err
	}
	if emit {
		intent.Status = models.PaymentStatusFailed
		s.events.Publish(failed)
	}
	return nil
}

func (s *PaymentService) expireIntent(ctx context.Context, intent *models.PaymentIntent) error {
	var expired realtime.Event
	var emit bool
	err := s.db.RunAsSystem(ctx, func(txCtx context.Context) error {
		order, err := s.orderRepo.GetByIDForUpdate(txCtx, intent.OrderID)
		if err != nil {
			return apperrors.Internal(err)
		}
		fresh, err := s.intentRepo.GetByIDForUpdate(txCtx, intent.ID)
		if err != nil {
			return apperrors.Internal(err)
		}
		if fresh.Status != models.PaymentStatusPending {
			return nil
		}

		fresh.Status = models.IntentStatusExpired
		if err := s.intentRepo.Update(txCtx, fresh); err != nil {
			return apperrors.Internal(err)
		}

		order.EventSeq++
		expired = orderEvent(realtime.TopicPaymentFailed, order, map[string]interface{}{
			"intent_id": fresh.ID.String(),
			"provider":  fresh.Provider,
			"reason":    "expired",
		})
		emit = true
		return s.orderRepo.Update(txCtx, order)
	})
	if err != nil {
		return err
	}
	if emit {
		intent.Status = models.IntentStatusExpired
		s.events.Publish(expired)
	}
	return nil
}

// Refund sends money back at the provider and records it as a negative
// payment row linked to the capture. The order row lock serializes
// concurrent refunds so the running total cannot overshoot.
func (s *PaymentService) Refund(ctx context.Context, paymentID uuid.UUID, req *RefundRequest) (*models.Payment, error) {
	tc, err := tenant.Require(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	var refund *models.Payment
	var pending []realtime.Event
	err = s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		original, err := s.paymentRepo.GetByID(txCtx, paymentID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.PaymentNotFound()
			}
			return apperrors.Internal(err)
		}
		if !tc.CanAccessRestaurant(original.RestaurantID) {
			return apperrors.PaymentNotFound()
		}
		if original.ParentPaymentID != nil || original.Amount.Sign() <= 0 {
			return apperrors.InvalidPayload("refunds must reference the captured payment")
		}
		if original.Status != models.PaymentStatusCaptured && original.Status != models.PaymentStatusRefunded {
			return apperrors.InvalidPayload("payment is not captured")
		}

		order, err := s.orderRepo.GetByIDForUpdate(txCtx, original.OrderID)
		if err != nil {
			return apperrors.Internal(err)
		}

		refunded, err := s.paymentRepo.RefundedTotal(txCtx, original.ID)
		if err != nil {
			return apperrors.Internal(err)
		}

		amount := original.Amount.Sub(refunded)
		if req.Amount != nil {
			amount, err = decimal.NewFromString(*req.Amount)
			if err != nil {
				return apperrors.InvalidPayload("malformed amount")
			}
		}
		if amount.Sign() <= 0 {
			return apperrors.InvalidPayload("refund amount must be positive")
		}
		if refunded.Add(amount).GreaterThan(original.Amount) {
			return apperrors.RefundExceedsCapture()
		}

		provider, ok := s.registry.Get(original.Provider)
		if !ok {
			return apperrors.Internal(fmt.Errorf("payment %s references unknown provider %s", original.ID, original.Provider))
		}
		callCtx, cancel := context.WithTimeout(txCtx, s.providerTimeout)
		err = provider.Refund(callCtx, original.ProviderRef, amount)
		cancel()
		if err != nil {
			return err
		}

		refund = &models.Payment{
			RestaurantID:    original.RestaurantID,
			OrderID:         original.OrderID,
			IntentID:        original.IntentID,
			ParentPaymentID: &original.ID,
			Provider:        original.Provider,
			Method:          original.Method,
			Amount:          amount.Neg(),
			Currency:        original.Currency,
			Status:          models.PaymentStatusRefunded,
			ProviderRef:     original.ProviderRef,
		}
		if err := s.paymentRepo.Create(txCtx, refund); err != nil {
			return apperrors.Internal(err)
		}

		total := refunded.Add(amount)
		fullyRefunded := total.Equal(original.Amount)

		order.EventSeq++
		pending = append(pending, orderEvent(realtime.TopicPaymentRefunded, order, map[string]interface{}{
			"payment_id": original.ID.String(),
			"refund_id":  refund.ID.String(),
			"amount":     amount.StringFixed(2),
			"remaining":  original.Amount.Sub(total).StringFixed(2),
		}))

		if fullyRefunded {
			original.Status = models.PaymentStatusRefunded
			if err := s.paymentRepo.Update(txCtx, original); err != nil {
				return apperrors.Internal(err)
			}

			from := order.Status
			order.Status = models.OrderStatusRefunded
			order.EventSeq++
			pending = append(pending, orderEvent(realtime.TopicOrderStatusChanged, order, map[string]interface{}{
				"from": from,
				"to":   models.OrderStatusRefunded,
			}))
			if err := s.orderRepo.AppendStatusLog(txCtx, &models.OrderStatusLog{
				OrderID:      order.ID,
				RestaurantID: order.RestaurantID,
				Status:       models.OrderStatusRefunded,
				ActorID:      tc.UserID,
				Note:         req.Reason,
			}); err != nil {
				return apperrors.Internal(err)
			}
		}

		return s.orderRepo.Update(txCtx, order)
	})
	if err != nil {
		return nil, err
	}

	for _, e := range pending {
		s.events.Publish(e)
	}
	return refund, nil
}

// SweepPendingIntents finalizes intents the webhooks missed: expired ones
// are closed out, live ones are polled at their provider. Runs on a short
// timer; errors are logged per intent so one bad provider cannot stall the
// rest.
func (s *PaymentService) SweepPendingIntents(ctx context.Context) int {
	var intents []models.PaymentIntent
	err := s.db.RunAsSystem(ctx, func(txCtx context.Context) error {
		var err error
		intents, err = s.intentRepo.GetPending(txCtx, sweepBatch)
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list pending intents")
		return 0
	}

	finalized := 0
	for i := range intents {
		intent := intents[i]

		if time.Now().After(intent.ExpiresAt) {
			if err := s.expireIntent(ctx, &intent); err != nil {
				s.logger.Error().Err(err).Str("intent_id", intent.ID.String()).Msg("failed to expire intent")
				continue
			}
			finalized++
			continue
		}

		provider, ok := s.registry.Get(intent.Provider)
		if !ok {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
		status, err := provider.Confirm(callCtx, intent.IntentRef)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("intent_id", intent.ID.String()).Msg("intent poll failed")
			continue
		}

		switch status {
		case providers.StatusCaptured:
			if _, err := s.settleCapture(ctx, &intent, intent.IntentRef, uuid.Nil, true); err != nil {
				s.logger.Error().Err(err).Str("intent_id", intent.ID.String()).Msg("failed to settle polled capture")
				continue
			}
			finalized++
		case providers.StatusFailed:
			if err := s.failIntent(ctx, &intent, "provider reported failure", true); err != nil {
				s.logger.Error().Err(err).Str("intent_id", intent.ID.String()).Msg("failed to fail polled intent")
				continue
			}
			finalized++
		}
	}
	return finalized
}

func (s *PaymentService) GetIntent(ctx context.Context, intentID uuid.UUID) (*models.PaymentIntent, error) {
	tc, err := tenant.Require(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	var intent *models.PaymentIntent
	err = s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		intent, err = s.intentRepo.GetByID(txCtx, intentID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.PaymentNotFound()
			}
			return apperrors.Internal(err)
		}
		if !tc.CanAccessRestaurant(intent.RestaurantID) {
			return apperrors.PaymentNotFound()
		}
		return nil
	})
	return intent, err
}

func (s *PaymentService) ListPayments(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	tc, err := tenant.Require(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	var payments []models.Payment
	err = s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		order, err := s.orderRepo.GetByID(txCtx, orderID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.OrderNotFound()
			}
			return apperrors.Internal(err)
		}
		if !tc.CanAccessRestaurant(order.RestaurantID) {
			return apperrors.OrderNotFound()
		}
		payments, err = s.paymentRepo.GetByOrderID(txCtx, orderID)
		if err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	return payments, err
}

func (s *PaymentService) capturedPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment *models.Payment
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		payment, err = s.paymentRepo.GetCapturedByOrderID(txCtx, orderID)
		if err != nil && !repositories.IsNotFound(err) {
			return apperrors.Internal(err)
		}
		return nil
	})
	return payment, err
}

// candidatesFor filters the registry by method, per-restaurant disablement
// and subscription tier, cheapest first.
func (s *PaymentService) candidatesFor(restaurant *models.Restaurant, method string) []providers.Provider {
	disabled := make(map[string]struct{}, len(restaurant.DisabledProviders))
	for _, name := range restaurant.DisabledProviders {
		disabled[name] = struct{}{}
	}

	var out []providers.Provider
	for _, p := range s.registry.ForMethod(method) {
		if _, off := disabled[p.Name()]; off {
			continue
		}
		if !tierAllowed(p.RequiredTiers(), restaurant.SubscriptionTier) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FeeBps() < out[j].FeeBps() })
	return out
}

func (s *PaymentService) commissionBps(tier string) int64 {
	switch tier {
	case models.TierPremium:
		return s.commission.PremiumBps
	case models.TierEnterprise:
		return s.commission.EnterpriseBps
	default:
		return s.commission.BasicBps
	}
}

func tierAllowed(required []string, tier string) bool {
	if len(required) == 0 {
		return true
	}
	for _, t := range required {
		if t == tier {
			return true
		}
	}
	return false
}

func canComplete(status string) bool {
	switch status {
	case models.OrderStatusConfirmed, models.OrderStatusPreparing, models.OrderStatusReady:
		return true
	}
	return false
}

func feeAmount(total decimal.Decimal, bps int64) decimal.Decimal {
	return total.Mul(decimal.NewFromInt(bps)).Div(decimal.NewFromInt(10000)).Round(2)
}

// providerKey derives the key sent upstream. Each retry attempt gets a fresh
// one so a provider that half-processed the first call does not echo a dead
// reservation back.
func providerKey(orderID uuid.UUID, clientKey, provider string, attempt int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", orderID, clientKey, provider, attempt)))
	return hex.EncodeToString(sum[:])[:32]
}
