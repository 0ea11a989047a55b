package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/models"
	"golang-pos-backend/internal/providers"
	"golang-pos-backend/internal/repositories"
)

// PlatformService covers the cross-tenant operator actions. Route-level
// middleware restricts every caller to platform owners; the RLS context of a
// platform owner sees all rows.
type PlatformService struct {
	db             TxRunner
	restaurantRepo repositories.RestaurantRepository
	commissionRepo repositories.CommissionRepository
	registry       *providers.Registry
	logger         zerolog.Logger
}

func NewPlatformService(
	db TxRunner,
	restaurantRepo repositories.RestaurantRepository,
	commissionRepo repositories.CommissionRepository,
	registry *providers.Registry,
	logger zerolog.Logger,
) *PlatformService {
	return &PlatformService{
		db:             db,
		restaurantRepo: restaurantRepo,
		commissionRepo: commissionRepo,
		registry:       registry,
		logger:         logger.With().Str("component", "platform").Logger(),
	}
}

type SetTierRequest struct {
	Tier string `json:"tier" binding:"required"`
}

type SetProviderRequest struct {
	Disabled bool `json:"disabled"`
}

type SetStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *PlatformService) ListRestaurants(ctx context.Context, limit, offset int) ([]models.Restaurant, int64, error) {
	var restaurants []models.Restaurant
	var total int64
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		restaurants, total, err = s.restaurantRepo.List(txCtx, limit, offset)
		if err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	return restaurants, total, err
}

func (s *PlatformService) SetTier(ctx context.Context, restaurantID uuid.UUID, tier string) (*models.Restaurant, error) {
	switch tier {
	case models.TierBasic, models.TierPremium, models.TierEnterprise:
	default:
		return nil, apperrors.InvalidPayload("tier must be basic, premium or enterprise")
	}

	var restaurant *models.Restaurant
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		restaurant, err = s.restaurantRepo.GetByID(txCtx, restaurantID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.RestaurantNotFound()
			}
			return apperrors.Internal(err)
		}
		restaurant.SubscriptionTier = tier
		if err := s.restaurantRepo.Update(txCtx, restaurant); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("restaurant_id", restaurantID.String()).
		Str("tier", tier).
		Msg("subscription tier changed")
	return restaurant, nil
}

// SetProviderDisabled toggles one provider for one restaurant. Existing
// pending intents at that provider are untouched; the flag only gates new
// intent creation.
func (s *PlatformService) SetProviderDisabled(ctx context.Context, restaurantID uuid.UUID, providerName string, disabled bool) (*models.Restaurant, error) {
	if _, ok := s.registry.Get(providerName); !ok {
		return nil, apperrors.InvalidPayload("unknown payment provider")
	}

	var restaurant *models.Restaurant
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		restaurant, err = s.restaurantRepo.GetByID(txCtx, restaurantID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.RestaurantNotFound()
			}
			return apperrors.Internal(err)
		}

		next := make(models.StringArray, 0, len(restaurant.DisabledProviders)+1)
		for _, name := range restaurant.DisabledProviders {
			if name != providerName {
				next = append(next, name)
			}
		}
		if disabled {
			next = append(next, providerName)
		}
		restaurant.DisabledProviders = next

		if err := s.restaurantRepo.Update(txCtx, restaurant); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("restaurant_id", restaurantID.String()).
		Str("provider", providerName).
		Bool("disabled", disabled).
		Msg("provider availability changed")
	return restaurant, nil
}

func (s *PlatformService) SetStatus(ctx context.Context, restaurantID uuid.UUID, status string) (*models.Restaurant, error) {
	if status != "active" && status != "suspended" {
		return nil, apperrors.InvalidPayload("status must be active or suspended")
	}

	var restaurant *models.Restaurant
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		restaurant, err = s.restaurantRepo.GetByID(txCtx, restaurantID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.RestaurantNotFound()
			}
			return apperrors.Internal(err)
		}
		restaurant.Status = status
		if err := s.restaurantRepo.Update(txCtx, restaurant); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("restaurant_id", restaurantID.String()).
		Str("status", status).
		Msg("restaurant status changed")
	return restaurant, nil
}

func (s *PlatformService) ListCommissions(ctx context.Context, restaurantID *uuid.UUID, limit, offset int) ([]models.CommissionRecord, int64, error) {
	var records []models.CommissionRecord
	var total int64
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		records, total, err = s.commissionRepo.List(txCtx, restaurantID, limit, offset)
		if err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	return records, total, err
}
