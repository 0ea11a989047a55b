package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/models"
	"golang-pos-backend/internal/repositories"
	"golang-pos-backend/internal/tenant"
	"golang-pos-backend/pkg/cache"
	"golang-pos-backend/pkg/metrics"
)

// Cache outcomes surfaced to the HTTP layer via the X-Cache header.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheBypass = "bypass"
)

const menuCacheTTL = 5 * time.Minute

// MenuService owns categories, products and the versioned read cache. Every
// menu mutation bumps the restaurant's catalog version inside the same
// transaction, which retires all cached reads at once.
type MenuService struct {
	db             TxRunner
	restaurantRepo repositories.RestaurantRepository
	categoryRepo   repositories.CategoryRepository
	productRepo    repositories.ProductRepository
	cache          Cache
	metrics        *metrics.Metrics
	logger         zerolog.Logger
}

func NewMenuService(
	db TxRunner,
	restaurantRepo repositories.RestaurantRepository,
	categoryRepo repositories.CategoryRepository,
	productRepo repositories.ProductRepository,
	redis Cache,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *MenuService {
	return &MenuService{
		db:             db,
		restaurantRepo: restaurantRepo,
		categoryRepo:   categoryRepo,
		productRepo:    productRepo,
		cache:          redis,
		metrics:        m,
		logger:         logger.With().Str("component", "menu").Logger(),
	}
}

type MenuFilter struct {
	CategoryID      *uuid.UUID
	AvailableOnly   bool
	IncludeInactive bool
}

// MenuView is the cached read model. Prices travel as fixed two-decimal
// strings so clients parse them identically in every locale.
type MenuView struct {
	RestaurantID   string         `json:"restaurant_id"`
	CatalogVersion int64          `json:"catalog_version"`
	Categories     []CategoryView `json:"categories"`
}

type CategoryView struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	SortOrder int           `json:"sort_order"`
	Products  []ProductView `json:"products"`
}

type ProductView struct {
	ID          string  `json:"id"`
	CategoryID  string  `json:"category_id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       string  `json:"price"`
	Available   bool    `json:"available"`
	Emoji       string  `json:"emoji,omitempty"`
	SKU         *string `json:"sku,omitempty"`
	IsActive    bool    `json:"is_active"`
}

// GetMenu serves the read path. The cache key embeds the catalog version, so
// entries written before a mutation are simply never looked up again. The
// second return value is the cache outcome for the X-Cache header.
func (s *MenuService) GetMenu(ctx context.Context, restaurantID uuid.UUID, filter MenuFilter) (*MenuView, string, error) {
	if filter.IncludeInactive {
		if err := requireManager(ctx); err != nil {
			return nil, CacheBypass, err
		}
	}

	var view *MenuView
	status := CacheBypass

	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		version, err := s.restaurantRepo.GetCatalogVersion(txCtx, restaurantID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.RestaurantNotFound()
			}
			return apperrors.Internal(err)
		}

		key := menuCacheKey(restaurantID, version, filter)

		var cached MenuView
		cacheErr := s.cache.Get(ctx, key, &cached)
		switch {
		case cacheErr == nil:
			s.metrics.CacheHits.Inc()
			view, status = &cached, CacheHit
			return nil
		case cache.IsMiss(cacheErr):
			s.metrics.CacheMisses.Inc()
			status = CacheMiss
		default:
			// Redis down: degrade to a direct read, tell the client.
			s.logger.Warn().Err(cacheErr).Msg("menu cache unavailable")
			status = CacheBypass
		}

		view, err = s.buildMenu(txCtx, restaurantID, version, filter)
		if err != nil {
			return err
		}

		if status == CacheMiss {
			if err := s.cache.Set(ctx, key, view, menuCacheTTL); err != nil {
				s.logger.Warn().Err(err).Msg("menu cache write failed")
			}
		}
		return nil
	})
	if err != nil {
		return nil, CacheBypass, err
	}
	return view, status, nil
}

func (s *MenuService) buildMenu(ctx context.Context, restaurantID uuid.UUID, version int64, filter MenuFilter) (*MenuView, error) {
	categories, err := s.categoryRepo.GetByRestaurantID(ctx, restaurantID, filter.IncludeInactive)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	products, _, err := s.productRepo.GetByRestaurantID(ctx, restaurantID, repositories.ProductFilter{
		CategoryID:      filter.CategoryID,
		AvailableOnly:   filter.AvailableOnly,
		IncludeInactive: filter.IncludeInactive,
	})
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	byCategory := make(map[uuid.UUID][]ProductView)
	for _, p := range products {
		byCategory[p.CategoryID] = append(byCategory[p.CategoryID], productView(&p))
	}

	view := &MenuView{
		RestaurantID:   restaurantID.String(),
		CatalogVersion: version,
		Categories:     make([]CategoryView, 0, len(categories)),
	}
	for _, c := range categories {
		if filter.CategoryID != nil && c.ID != *filter.CategoryID {
			continue
		}
		view.Categories = append(view.Categories, CategoryView{
			ID:        c.ID.String(),
			Name:      c.Name,
			SortOrder: c.SortOrder,
			Products:  byCategory[c.ID],
		})
	}
	return view, nil
}

func productView(p *models.Product) ProductView {
	return ProductView{
		ID:          p.ID.String(),
		CategoryID:  p.CategoryID.String(),
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.StringFixed(2),
		Available:   p.Available,
		Emoji:       p.Emoji,
		SKU:         p.SKU,
		IsActive:    p.IsActive,
	}
}

func menuCacheKey(restaurantID uuid.UUID, version int64, filter MenuFilter) string {
	category := ""
	if filter.CategoryID != nil {
		category = filter.CategoryID.String()
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%t|%t", category, filter.AvailableOnly, filter.IncludeInactive)))
	return fmt.Sprintf("menu:%s:v%d:%s", restaurantID, version, hex.EncodeToString(sum[:8]))
}

type CreateCategoryRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	SortOrder   int    `json:"sort_order"`
}

type UpdateCategoryRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	SortOrder   *int    `json:"sort_order,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

func (s *MenuService) CreateCategory(ctx context.Context, restaurantID uuid.UUID, req *CreateCategoryRequest) (*models.Category, error) {
	category := &models.Category{
		RestaurantID: restaurantID,
		Name:         req.Name,
		Description:  req.Description,
		SortOrder:    req.SortOrder,
		IsActive:     true,
	}
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		if err := s.categoryRepo.Create(txCtx, category); err != nil {
			return apperrors.Internal(err)
		}
		if _, err := s.restaurantRepo.BumpCatalogVersion(txCtx, restaurantID); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return category, nil
}

func (s *MenuService) UpdateCategory(ctx context.Context, restaurantID, categoryID uuid.UUID, req *UpdateCategoryRequest) (*models.Category, error) {
	var category *models.Category
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		category, err = s.categoryRepo.GetByID(txCtx, categoryID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.ProductNotFound()
			}
			return apperrors.Internal(err)
		}
		if category.RestaurantID != restaurantID {
			return apperrors.ContextMismatch("")
		}

		if req.Name != nil {
			category.Name = *req.Name
		}
		if req.Description != nil {
			category.Description = *req.Description
		}
		if req.SortOrder != nil {
			category.SortOrder = *req.SortOrder
		}
		if req.IsActive != nil {
			category.IsActive = *req.IsActive
		}

		if err := s.categoryRepo.Update(txCtx, category); err != nil {
			return apperrors.Internal(err)
		}
		if _, err := s.restaurantRepo.BumpCatalogVersion(txCtx, restaurantID); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return category, nil
}

func (s *MenuService) ListCategories(ctx context.Context, restaurantID uuid.UUID, includeInactive bool) ([]models.Category, error) {
	if includeInactive {
		if err := requireManager(ctx); err != nil {
			return nil, err
		}
	}
	var categories []models.Category
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		categories, err = s.categoryRepo.GetByRestaurantID(txCtx, restaurantID, includeInactive)
		if err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	return categories, err
}

type CreateProductRequest struct {
	CategoryID  string  `json:"category_id" binding:"required"`
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	Price       string  `json:"price" binding:"required"`
	Cost        *string `json:"cost,omitempty"`
	SKU         *string `json:"sku,omitempty"`
	Emoji       string  `json:"emoji"`
	Available   *bool   `json:"available,omitempty"`
}

type UpdateProductRequest struct {
	CategoryID  *string `json:"category_id,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Price       *string `json:"price,omitempty"`
	Cost        *string `json:"cost,omitempty"`
	SKU         *string `json:"sku,omitempty"`
	Emoji       *string `json:"emoji,omitempty"`
	Available   *bool   `json:"available,omitempty"`
}

func (s *MenuService) CreateProduct(ctx context.Context, restaurantID uuid.UUID, req *CreateProductRequest) (*models.Product, error) {
	categoryID, err := uuid.Parse(req.CategoryID)
	if err != nil {
		return nil, apperrors.InvalidPayload("malformed category_id")
	}
	price, err := parsePrice(req.Price)
	if err != nil {
		return nil, err
	}
	var cost *decimal.Decimal
	if req.Cost != nil {
		c, err := parsePrice(*req.Cost)
		if err != nil {
			return nil, err
		}
		cost = &c
	}

	product := &models.Product{
		RestaurantID: restaurantID,
		CategoryID:   categoryID,
		Name:         req.Name,
		Description:  req.Description,
		Price:        price,
		Cost:         cost,
		SKU:          req.SKU,
		Emoji:        req.Emoji,
		Available:    true,
		IsActive:     true,
	}
	if req.Available != nil {
		product.Available = *req.Available
	}

	err = s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		category, err := s.categoryRepo.GetByID(txCtx, categoryID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.InvalidPayload("category does not exist")
			}
			return apperrors.Internal(err)
		}
		if category.RestaurantID != restaurantID {
			return apperrors.ContextMismatch("")
		}

		if req.SKU != nil && *req.SKU != "" {
			taken, err := s.productRepo.SKUTaken(txCtx, restaurantID, *req.SKU, nil)
			if err != nil {
				return apperrors.Internal(err)
			}
			if taken {
				return apperrors.InvalidPayload("sku already in use")
			}
		}

		if err := s.productRepo.Create(txCtx, product); err != nil {
			return apperrors.Internal(err)
		}
		if _, err := s.restaurantRepo.BumpCatalogVersion(txCtx, restaurantID); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *MenuService) UpdateProduct(ctx context.Context, restaurantID, productID uuid.UUID, req *UpdateProductRequest) (*models.Product, error) {
	var product *models.Product
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		product, err = s.productRepo.GetByID(txCtx, productID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.ProductNotFound()
			}
			return apperrors.Internal(err)
		}
		if product.RestaurantID != restaurantID {
			return apperrors.ContextMismatch("")
		}

		if req.CategoryID != nil {
			categoryID, err := uuid.Parse(*req.CategoryID)
			if err != nil {
				return apperrors.InvalidPayload("malformed category_id")
			}
			category, err := s.categoryRepo.GetByID(txCtx, categoryID)
			if err != nil || category.RestaurantID != restaurantID {
				return apperrors.InvalidPayload("category does not exist")
			}
			product.CategoryID = categoryID
		}
		if req.Name != nil {
			product.Name = *req.Name
		}
		if req.Description != nil {
			product.Description = *req.Description
		}
		if req.Price != nil {
			price, err := parsePrice(*req.Price)
			if err != nil {
				return err
			}
			product.Price = price
		}
		if req.Cost != nil {
			cost, err := parsePrice(*req.Cost)
			if err != nil {
				return err
			}
			product.Cost = &cost
		}
		if req.SKU != nil {
			if *req.SKU != "" {
				taken, err := s.productRepo.SKUTaken(txCtx, restaurantID, *req.SKU, &product.ID)
				if err != nil {
					return apperrors.Internal(err)
				}
				if taken {
					return apperrors.InvalidPayload("sku already in use")
				}
			}
			product.SKU = req.SKU
		}
		if req.Emoji != nil {
			product.Emoji = *req.Emoji
		}
		if req.Available != nil {
			product.Available = *req.Available
		}

		if err := s.productRepo.Update(txCtx, product); err != nil {
			return apperrors.Internal(err)
		}
		if _, err := s.restaurantRepo.BumpCatalogVersion(txCtx, restaurantID); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// DeleteProduct is soft: the row stays for historical order lines and
// reporting; it just stops being orderable or visible.
func (s *MenuService) DeleteProduct(ctx context.Context, restaurantID, productID uuid.UUID) error {
	return s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		product, err := s.productRepo.GetByID(txCtx, productID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.ProductNotFound()
			}
			return apperrors.Internal(err)
		}
		if product.RestaurantID != restaurantID {
			return apperrors.ContextMismatch("")
		}

		product.IsActive = false
		product.Available = false
		if err := s.productRepo.Update(txCtx, product); err != nil {
			return apperrors.Internal(err)
		}
		if _, err := s.restaurantRepo.BumpCatalogVersion(txCtx, restaurantID); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
}

func (s *MenuService) GetProduct(ctx context.Context, restaurantID, productID uuid.UUID) (*models.Product, error) {
	var product *models.Product
	err := s.db.RunInTenantTx(ctx, func(txCtx context.Context) error {
		var err error
		product, err = s.productRepo.GetByID(txCtx, productID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return apperrors.ProductNotFound()
			}
			return apperrors.Internal(err)
		}
		if product.RestaurantID != restaurantID {
			return apperrors.ProductNotFound()
		}
		return nil
	})
	return product, err
}

func parsePrice(raw string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperrors.InvalidPayload("malformed price")
	}
	if price.IsNegative() {
		return decimal.Zero, apperrors.InvalidPayload("price cannot be negative")
	}
	if price.Exponent() < -2 {
		return decimal.Zero, apperrors.InvalidPayload("price has more than two decimal places")
	}
	return price, nil
}

func requireManager(ctx context.Context) error {
	tc, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	if tc.IsPlatformOwner || tc.Role == models.RoleRestaurantOwner || tc.Role == models.RoleManager {
		return nil
	}
	return apperrors.RoleInsufficient(tc.Role)
}
