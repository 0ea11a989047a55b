package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/models"
	"golang-pos-backend/internal/repositories"
	"golang-pos-backend/internal/tenant"
	"golang-pos-backend/pkg/identity"
)

// AuthService runs token verification and local user provisioning. The
// identity provider owns credentials; this service owns the local account
// row and its restaurant binding.
type AuthService struct {
	verifier       *identity.Verifier
	db             TxRunner
	userRepo       repositories.UserRepository
	platformOwners map[string]struct{}
	logger         zerolog.Logger
}

func NewAuthService(
	verifier *identity.Verifier,
	db TxRunner,
	userRepo repositories.UserRepository,
	platformOwnerEmails []string,
	logger zerolog.Logger,
) *AuthService {
	owners := make(map[string]struct{}, len(platformOwnerEmails))
	for _, email := range platformOwnerEmails {
		owners[strings.ToLower(strings.TrimSpace(email))] = struct{}{}
	}
	return &AuthService{
		verifier:       verifier,
		db:             db,
		userRepo:       userRepo,
		platformOwners: owners,
		logger:         logger.With().Str("component", "auth").Logger(),
	}
}

// Authenticate verifies the token against the identity provider, provisions
// the local user on first sight, and returns the tenant context for the
// request. Disabled accounts fail even when the token itself is good.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*tenant.Context, error) {
	intro, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	var user *models.User
	// The user row is loaded before any tenant context exists, so this runs
	// under the system binding the bootstrap RLS policies allow.
	err = s.db.RunAsSystem(ctx, func(txCtx context.Context) error {
		user, err = s.provision(txCtx, intro)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !user.IsActive {
		return nil, apperrors.UserDisabled()
	}

	return &tenant.Context{
		UserID:          user.ID,
		Email:           user.Email,
		Role:            user.Role,
		RestaurantID:    user.RestaurantID,
		IsPlatformOwner: user.Role == models.RolePlatformOwner,
	}, nil
}

// AuthenticateWS resolves a WebSocket auth frame. The returned context is
// already bound to the target restaurant; callers need no further checks.
func (s *AuthService) AuthenticateWS(ctx context.Context, token string, restaurantID uuid.UUID) (*tenant.Context, error) {
	tc, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}

	if restaurantID == uuid.Nil {
		if tc.RestaurantID == nil {
			return nil, apperrors.ContextMismatch("no restaurant binding")
		}
		return tc, nil
	}

	if !tc.CanAccessRestaurant(restaurantID) {
		return nil, apperrors.ContextMismatch("")
	}
	bound := *tc
	bound.RestaurantID = &restaurantID
	return &bound, nil
}

// CurrentUser returns the caller's own account row.
func (s *AuthService) CurrentUser(ctx context.Context) (*models.User, error) {
	tc, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	var user *models.User
	err = s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		user, err = s.userRepo.GetByID(txCtx, tc.UserID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.UserNotFound()
			}
			return apperrors.Internal(err)
		}
		return nil
	})
	return user, err
}

func (s *AuthService) provision(ctx context.Context, intro *identity.Introspection) (*models.User, error) {
	user, err := s.userRepo.GetByExternalID(ctx, intro.ExternalUserID)
	if err == nil {
		return s.refresh(ctx, user, intro)
	}
	if !repositories.IsNotFound(err) {
		return nil, apperrors.Internal(err)
	}

	user = &models.User{
		ExternalID:    intro.ExternalUserID,
		Email:         intro.Email,
		EmailVerified: intro.EmailVerified,
		Role:          models.RoleRestaurantOwner,
		IsActive:      true,
	}
	if s.isPlatformOwner(intro) {
		user.Role = models.RolePlatformOwner
	}
	now := time.Now()
	user.LastLoginAt = &now

	if err := s.userRepo.Create(ctx, user); err != nil {
		// Two first-logins racing: the unique index on external_id lets one
		// insert win; the loser re-reads.
		existing, readErr := s.userRepo.GetByExternalID(ctx, intro.ExternalUserID)
		if readErr != nil {
			return nil, apperrors.Internal(err)
		}
		return s.refresh(ctx, existing, intro)
	}

	s.logger.Info().Str("external_id", intro.ExternalUserID).Str("user_id", user.ID.String()).Msg("user provisioned")
	return user, nil
}

func (s *AuthService) refresh(ctx context.Context, user *models.User, intro *identity.Introspection) (*models.User, error) {
	now := time.Now()
	user.LastLoginAt = &now
	user.Email = intro.Email
	user.EmailVerified = intro.EmailVerified
	if s.isPlatformOwner(intro) && user.Role != models.RolePlatformOwner {
		user.Role = models.RolePlatformOwner
		user.RestaurantID = nil
		s.logger.Info().Str("user_id", user.ID.String()).Msg("user promoted to platform owner")
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, apperrors.Internal(err)
	}
	return user, nil
}

// isPlatformOwner checks the configured allow list; the grant requires a
// verified email so an unverified signup cannot squat an owner address.
func (s *AuthService) isPlatformOwner(intro *identity.Introspection) bool {
	if !intro.EmailVerified {
		return false
	}
	_, ok := s.platformOwners[strings.ToLower(intro.Email)]
	return ok
}
