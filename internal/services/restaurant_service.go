package services

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/models"
	"golang-pos-backend/internal/repositories"
	"golang-pos-backend/internal/tenant"
)

type RestaurantService struct {
	db             TxRunner
	restaurantRepo repositories.RestaurantRepository
	userRepo       repositories.UserRepository
	platformRepo   repositories.PlatformRepository
	logger         zerolog.Logger
}

func NewRestaurantService(
	db TxRunner,
	restaurantRepo repositories.RestaurantRepository,
	userRepo repositories.UserRepository,
	platformRepo repositories.PlatformRepository,
	logger zerolog.Logger,
) *RestaurantService {
	return &RestaurantService{
		db:             db,
		restaurantRepo: restaurantRepo,
		userRepo:       userRepo,
		platformRepo:   platformRepo,
		logger:         logger.With().Str("component", "restaurant").Logger(),
	}
}

type CreateRestaurantRequest struct {
	Name             string `json:"name" binding:"required"`
	Description      string `json:"description"`
	Address          string `json:"address"`
	Phone            string `json:"phone"`
	OwnerEmail       string `json:"owner_email" binding:"omitempty,email"`
	SubscriptionTier string `json:"subscription_tier"`
	Currency         string `json:"currency"`
	TimeZone         string `json:"timezone"`
}

type UpdateRestaurantRequest struct {
	Name             *string `json:"name,omitempty"`
	Description      *string `json:"description,omitempty"`
	Address          *string `json:"address,omitempty"`
	Phone            *string `json:"phone,omitempty"`
	TaxRateBps       *int64  `json:"tax_rate_bps,omitempty"`
	ServiceChargeBps *int64  `json:"service_charge_bps,omitempty"`
	IsOpen           *bool   `json:"is_open,omitempty"`
	AutoOpenClose    *bool   `json:"auto_open_close,omitempty"`
	TimeZone         *string `json:"timezone,omitempty"`
}

// DayHours is one weekday's entry in the opening-hours document.
type DayHours struct {
	IsOpen    bool   `json:"is_open"`
	OpenTime  string `json:"open_time"`
	CloseTime string `json:"close_time"`
}

var timeOfDay = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

var weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// CreateRestaurant onboards a tenant: the restaurant row plus the owner's
// binding to it. A signed-in user with no restaurant creates their own; a
// platform owner names the owner via owner_email (that user must already
// exist, provisioned by a first login).
func (s *RestaurantService) CreateRestaurant(ctx context.Context, req *CreateRestaurantRequest) (*models.Restaurant, error) {
	tc, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	ownerEmail := req.OwnerEmail
	if ownerEmail == "" {
		ownerEmail = tc.Email
	}
	if !tc.IsPlatformOwner {
		if !strings.EqualFold(ownerEmail, tc.Email) {
			return nil, apperrors.RoleInsufficient("only platform owners create restaurants for other users")
		}
		if tc.RestaurantID != nil {
			return nil, apperrors.InvalidPayload("you already belong to a restaurant")
		}
	}

	var restaurant *models.Restaurant
	err = s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		platform, err := s.platformRepo.GetDefault(txCtx)
		if err != nil {
			return apperrors.Internal(err)
		}

		owner, err := s.userRepo.GetByEmail(txCtx, ownerEmail)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.InvalidPayload("owner has not signed in yet")
			}
			return apperrors.Internal(err)
		}
		if owner.RestaurantID != nil {
			return apperrors.InvalidPayload("owner already belongs to a restaurant")
		}

		tier := req.SubscriptionTier
		if tier == "" {
			tier = models.TierBasic
		}
		switch tier {
		case models.TierBasic, models.TierPremium, models.TierEnterprise:
		default:
			return apperrors.InvalidPayload("unknown subscription tier")
		}

		restaurant = &models.Restaurant{
			PlatformID:       platform.ID,
			Name:             req.Name,
			Description:      req.Description,
			Address:          req.Address,
			Phone:            req.Phone,
			OwnerID:          owner.ID,
			SubscriptionTier: tier,
			Status:           "active",
			Currency:         defaultString(req.Currency, "GBP"),
			TimeZone:         defaultString(req.TimeZone, "Europe/London"),
			IsOpen:           true,
			NextOrderNumber:  1000,
		}
		if err := s.restaurantRepo.Create(txCtx, restaurant); err != nil {
			return apperrors.Internal(err)
		}

		if owner.Role != models.RolePlatformOwner {
			owner.RestaurantID = &restaurant.ID
			owner.Role = models.RoleRestaurantOwner
			if err := s.userRepo.Update(txCtx, owner); err != nil {
				return apperrors.Internal(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("restaurant_id", restaurant.ID.String()).Str("name", restaurant.Name).Msg("restaurant created")
	return restaurant, nil
}

func (s *RestaurantService) GetRestaurant(ctx context.Context, id uuid.UUID) (*models.Restaurant, error) {
	var restaurant *models.Restaurant
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		restaurant, err = s.restaurantRepo.GetByID(txCtx, id)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.RestaurantNotFound()
			}
			return apperrors.Internal(err)
		}
		return nil
	})
	return restaurant, err
}

func (s *RestaurantService) UpdateRestaurant(ctx context.Context, id uuid.UUID, req *UpdateRestaurantRequest) (*models.Restaurant, error) {
	var restaurant *models.Restaurant
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		restaurant, err = s.restaurantRepo.GetByID(txCtx, id)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.RestaurantNotFound()
			}
			return apperrors.Internal(err)
		}

		if req.Name != nil {
			restaurant.Name = *req.Name
		}
		if req.Description != nil {
			restaurant.Description = *req.Description
		}
		if req.Address != nil {
			restaurant.Address = *req.Address
		}
		if req.Phone != nil {
			restaurant.Phone = *req.Phone
		}
		if req.TaxRateBps != nil {
			if *req.TaxRateBps < 0 || *req.TaxRateBps > 10000 {
				return apperrors.InvalidPayload("tax_rate_bps out of range")
			}
			restaurant.TaxRateBps = *req.TaxRateBps
		}
		if req.ServiceChargeBps != nil {
			if *req.ServiceChargeBps < 0 || *req.ServiceChargeBps > 10000 {
				return apperrors.InvalidPayload("service_charge_bps out of range")
			}
			restaurant.ServiceChargeBps = *req.ServiceChargeBps
		}
		if req.TimeZone != nil {
			if _, err := time.LoadLocation(*req.TimeZone); err != nil {
				return apperrors.InvalidPayload("unknown timezone")
			}
			restaurant.TimeZone = *req.TimeZone
		}
		if req.AutoOpenClose != nil {
			restaurant.AutoOpenClose = *req.AutoOpenClose
		}
		if req.IsOpen != nil {
			if restaurant.AutoOpenClose {
				return apperrors.InvalidPayload("is_open is managed automatically while auto_open_close is on")
			}
			restaurant.IsOpen = *req.IsOpen
		}

		if err := s.restaurantRepo.Update(txCtx, restaurant); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	return restaurant, err
}

// UpdateHours replaces the weekly opening-hours document. Times are HH:MM in
// the restaurant's own timezone; a close before an open means the restaurant
// runs past midnight.
func (s *RestaurantService) UpdateHours(ctx context.Context, id uuid.UUID, hours map[string]DayHours) (*models.Restaurant, error) {
	doc := models.JSONB{}
	for day, dh := range hours {
		if !validWeekday(day) {
			return nil, apperrors.InvalidPayload("unknown weekday " + day)
		}
		if dh.IsOpen {
			if !timeOfDay.MatchString(dh.OpenTime) || !timeOfDay.MatchString(dh.CloseTime) {
				return nil, apperrors.InvalidPayload("opening hours must be HH:MM")
			}
		}
		doc[day] = map[string]interface{}{
			"is_open":    dh.IsOpen,
			"open_time":  dh.OpenTime,
			"close_time": dh.CloseTime,
		}
	}

	var restaurant *models.Restaurant
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		restaurant, err = s.restaurantRepo.GetByID(txCtx, id)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.RestaurantNotFound()
			}
			return apperrors.Internal(err)
		}
		restaurant.OpeningHours = doc
		if err := s.restaurantRepo.Update(txCtx, restaurant); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	return restaurant, err
}

var staffRoles = map[string]bool{
	models.RoleManager: true,
	models.RoleCashier: true,
	models.RoleServer:  true,
	models.RoleCook:    true,
}

// AssignStaff binds a signed-in user to the restaurant under the given role,
// or changes the role of an existing member. Granting manager takes the
// owner; managers grant the rest.
func (s *RestaurantService) AssignStaff(ctx context.Context, restaurantID uuid.UUID, email, role string) (*models.User, error) {
	tc, err := RequireSameRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	if !staffRoles[role] {
		return nil, apperrors.InvalidPayload("unknown staff role")
	}
	if role == models.RoleManager && tc.Role != models.RoleRestaurantOwner && !tc.IsPlatformOwner {
		return nil, apperrors.RoleInsufficient("granting manager takes the restaurant owner")
	}

	var member *models.User
	err = s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		member, err = s.userRepo.GetByEmail(txCtx, email)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.UserNotFound()
			}
			return apperrors.Internal(err)
		}
		// Fresh sign-ups carry the restaurant_owner default until they are
		// bound somewhere; only a bound owner is off limits.
		if member.Role == models.RolePlatformOwner ||
			(member.Role == models.RoleRestaurantOwner && member.RestaurantID != nil) {
			return apperrors.InvalidPayload("cannot reassign an owner")
		}
		if member.RestaurantID != nil && *member.RestaurantID != restaurantID {
			return apperrors.InvalidPayload("user belongs to another restaurant")
		}
		member.RestaurantID = &restaurantID
		member.Role = role
		if err := s.userRepo.Update(txCtx, member); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("restaurant_id", restaurantID.String()).Str("user_id", member.ID.String()).Str("role", role).Msg("staff assigned")
	return member, nil
}

// ListStaff returns the restaurant's users.
func (s *RestaurantService) ListStaff(ctx context.Context, restaurantID uuid.UUID) ([]models.User, error) {
	var users []models.User
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		users, err = s.userRepo.GetByRestaurantID(txCtx, restaurantID)
		if err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	return users, err
}

// IsOpenAt evaluates whether the restaurant accepts orders at the given
// instant. Manual mode trusts the stored flag; automatic mode reads the
// hours document in the restaurant's timezone, handling overnight spans
// (open 22:00, close 04:00).
func IsOpenAt(restaurant *models.Restaurant, at time.Time) bool {
	if !restaurant.AutoOpenClose {
		return restaurant.IsOpen
	}
	if restaurant.OpeningHours == nil {
		return restaurant.IsOpen
	}

	loc, err := time.LoadLocation(restaurant.TimeZone)
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)

	if openWithin(restaurant.OpeningHours, local.Weekday().String(), local.Format("15:04"), false) {
		return true
	}
	// An overnight span from the previous day can still be holding the
	// restaurant open in the small hours.
	prev := local.AddDate(0, 0, -1)
	return openWithin(restaurant.OpeningHours, prev.Weekday().String(), local.Format("15:04"), true)
}

func openWithin(hours models.JSONB, day, hhmm string, overnightTail bool) bool {
	raw, ok := hours[day]
	if !ok {
		return false
	}
	entry, ok := raw.(map[string]interface{})
	if !ok {
		return false
	}
	isOpen, _ := entry["is_open"].(bool)
	if !isOpen {
		return false
	}
	openTime, _ := entry["open_time"].(string)
	closeTime, _ := entry["close_time"].(string)
	if openTime == "" || closeTime == "" {
		return false
	}

	if closeTime < openTime {
		if overnightTail {
			return hhmm <= closeTime
		}
		return hhmm >= openTime
	}
	if overnightTail {
		return false
	}
	return hhmm >= openTime && hhmm <= closeTime
}

func validWeekday(day string) bool {
	for _, d := range weekdays {
		if d == day {
			return true
		}
	}
	return false
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// RequireSameRestaurant is a convenience for services that take an explicit
// restaurant id alongside the bound context.
func RequireSameRestaurant(ctx context.Context, restaurantID uuid.UUID) (*tenant.Context, error) {
	tc, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	if !tc.CanAccessRestaurant(restaurantID) {
		return nil, apperrors.ContextMismatch("")
	}
	return tc, nil
}
