package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"golang-pos-backend/internal/models"
	"golang-pos-backend/internal/providers"
	"golang-pos-backend/internal/realtime"
	"golang-pos-backend/internal/repositories"
	"golang-pos-backend/internal/tenant"
	"golang-pos-backend/pkg/metrics"
)

// Shared in-memory stand-ins for the database, cache, event hub and
// repositories. They mirror the real implementations' contracts closely
// enough that the services cannot tell the difference: not-found is
// gorm.ErrRecordNotFound, cache misses are redis.Nil, Get methods hand out
// copies so only Update persists changes.

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testMetrics() *metrics.Metrics {
	return metrics.New()
}

func tenantCtx(tc *tenant.Context) context.Context {
	return tenant.NewContext(context.Background(), tc)
}

func staffContext(role string, restaurantID uuid.UUID) (context.Context, *tenant.Context) {
	tc := &tenant.Context{
		UserID:       uuid.New(),
		Email:        role + "@example.com",
		Role:         role,
		RestaurantID: &restaurantID,
	}
	return tenantCtx(tc), tc
}

func platformContext() (context.Context, *tenant.Context) {
	tc := &tenant.Context{
		UserID:          uuid.New(),
		Email:           "admin@example.com",
		Role:            models.RolePlatformOwner,
		IsPlatformOwner: true,
	}
	return tenantCtx(tc), tc
}

// stubTx runs the function inline. Tenant transactions demand a bound
// context, matching the real runner's tenant.Require guard.
type stubTx struct{}

func (s *stubTx) RunInTenantTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, err := tenant.Require(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

func (s *stubTx) RunAsSystem(ctx context.Context, fn func(ctx context.Context) error) error {
	system := &tenant.Context{UserID: uuid.Nil, Email: "system", Role: "system", IsPlatformOwner: true}
	return fn(tenant.NewContext(ctx, system))
}

// memCache is a map-backed Cache. down simulates a Redis outage.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	down bool
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

var errCacheDown = errors.New("cache unavailable")

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errCacheDown
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

func (c *memCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errCacheDown
	}
	raw, ok := c.data[key]
	if !ok {
		return redis.Nil
	}
	return json.Unmarshal(raw, dest)
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errCacheDown
	}
	delete(c.data, key)
	return nil
}

func (c *memCache) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return false, errCacheDown
	}
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	c.data[key] = raw
	return true, nil
}

func (c *memCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// capturePublisher records everything published.
type capturePublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *capturePublisher) Publish(e realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePublisher) PublishToUser(_ uuid.UUID, e realtime.Event) {
	p.Publish(e)
}

func (p *capturePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Topic)
	}
	return out
}

func (p *capturePublisher) find(topic string) *realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.events {
		if p.events[i].Topic == topic {
			return &p.events[i]
		}
	}
	return nil
}

// ---- repositories ----

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]models.User)}
}

func (r *fakeUserRepo) add(u models.User) models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	r.users[u.ID] = u
	return u
}

func (r *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ExternalID == user.ExternalID {
			return errors.New("duplicate key value violates unique constraint")
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	r.users[user.ID] = *user
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := u
	return &out, nil
}

func (r *fakeUserRepo) GetByExternalID(_ context.Context, externalID string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ExternalID == externalID {
			out := u
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) Update(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.users[user.ID] = *user
	return nil
}

func (r *fakeUserRepo) GetByRestaurantID(_ context.Context, restaurantID uuid.UUID) ([]models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.User
	for _, u := range r.users {
		if u.RestaurantID != nil && *u.RestaurantID == restaurantID {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakePlatformRepo struct {
	platform models.Platform
}

func newFakePlatformRepo() *fakePlatformRepo {
	return &fakePlatformRepo{platform: models.Platform{ID: uuid.New(), Name: "default"}}
}

func (r *fakePlatformRepo) GetDefault(context.Context) (*models.Platform, error) {
	out := r.platform
	return &out, nil
}

type fakeRestaurantRepo struct {
	mu          sync.Mutex
	restaurants map[uuid.UUID]models.Restaurant
}

func newFakeRestaurantRepo() *fakeRestaurantRepo {
	return &fakeRestaurantRepo{restaurants: make(map[uuid.UUID]models.Restaurant)}
}

func (r *fakeRestaurantRepo) add(rest models.Restaurant) models.Restaurant {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rest.ID == uuid.Nil {
		rest.ID = uuid.New()
	}
	r.restaurants[rest.ID] = rest
	return rest
}

func (r *fakeRestaurantRepo) Create(_ context.Context, restaurant *models.Restaurant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if restaurant.ID == uuid.Nil {
		restaurant.ID = uuid.New()
	}
	r.restaurants[restaurant.ID] = *restaurant
	return nil
}

func (r *fakeRestaurantRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Restaurant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rest, ok := r.restaurants[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := rest
	return &out, nil
}

func (r *fakeRestaurantRepo) Update(_ context.Context, restaurant *models.Restaurant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.restaurants[restaurant.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.restaurants[restaurant.ID] = *restaurant
	return nil
}

func (r *fakeRestaurantRepo) List(_ context.Context, limit, offset int) ([]models.Restaurant, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]models.Restaurant, 0, len(r.restaurants))
	for _, rest := range r.restaurants {
		all = append(all, rest)
	}
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *fakeRestaurantRepo) NextOrderNumber(_ context.Context, id uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rest, ok := r.restaurants[id]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	rest.NextOrderNumber++
	r.restaurants[id] = rest
	return rest.NextOrderNumber, nil
}

func (r *fakeRestaurantRepo) BumpCatalogVersion(_ context.Context, id uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rest, ok := r.restaurants[id]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	rest.CatalogVersion++
	r.restaurants[id] = rest
	return rest.CatalogVersion, nil
}

func (r *fakeRestaurantRepo) GetCatalogVersion(_ context.Context, id uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rest, ok := r.restaurants[id]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	return rest.CatalogVersion, nil
}

func (r *fakeRestaurantRepo) ListAutoOpenClose(context.Context) ([]models.Restaurant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Restaurant
	for _, rest := range r.restaurants {
		if rest.AutoOpenClose && rest.Status == "active" {
			out = append(out, rest)
		}
	}
	return out, nil
}

type fakeCategoryRepo struct {
	mu         sync.Mutex
	categories map[uuid.UUID]models.Category
}

func newFakeCategoryRepo() *fakeCategoryRepo {
	return &fakeCategoryRepo{categories: make(map[uuid.UUID]models.Category)}
}

func (r *fakeCategoryRepo) add(c models.Category) models.Category {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	r.categories[c.ID] = c
	return c
}

func (r *fakeCategoryRepo) Create(_ context.Context, category *models.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if category.ID == uuid.Nil {
		category.ID = uuid.New()
	}
	r.categories[category.ID] = *category
	return nil
}

func (r *fakeCategoryRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.categories[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := c
	return &out, nil
}

func (r *fakeCategoryRepo) Update(_ context.Context, category *models.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.categories[category.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.categories[category.ID] = *category
	return nil
}

func (r *fakeCategoryRepo) GetByRestaurantID(_ context.Context, restaurantID uuid.UUID, includeInactive bool) ([]models.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Category
	for _, c := range r.categories {
		if c.RestaurantID != restaurantID {
			continue
		}
		if !includeInactive && !c.IsActive {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

type fakeProductRepo struct {
	mu       sync.Mutex
	products map[uuid.UUID]models.Product
}

func newFakeProductRepo() *fakeProductRepo {
	return &fakeProductRepo{products: make(map[uuid.UUID]models.Product)}
}

func (r *fakeProductRepo) add(p models.Product) models.Product {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.products[p.ID] = p
	return p
}

func (r *fakeProductRepo) Create(_ context.Context, product *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	r.products[product.ID] = *product
	return nil
}

func (r *fakeProductRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := p
	return &out, nil
}

func (r *fakeProductRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Product
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeProductRepo) Update(_ context.Context, product *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[product.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.products[product.ID] = *product
	return nil
}

func (r *fakeProductRepo) GetByRestaurantID(_ context.Context, restaurantID uuid.UUID, filter repositories.ProductFilter) ([]models.Product, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Product
	for _, p := range r.products {
		if p.RestaurantID != restaurantID {
			continue
		}
		if !filter.IncludeInactive && !p.IsActive {
			continue
		}
		if filter.AvailableOnly && !p.Available {
			continue
		}
		if filter.CategoryID != nil && p.CategoryID != *filter.CategoryID {
			continue
		}
		out = append(out, p)
	}
	total := int64(len(out))
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, total, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func (r *fakeProductRepo) SKUTaken(_ context.Context, restaurantID uuid.UUID, sku string, excludeID *uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.products {
		if p.RestaurantID != restaurantID || p.SKU == nil || *p.SKU != sku {
			continue
		}
		if excludeID != nil && p.ID == *excludeID {
			continue
		}
		return true, nil
	}
	return false, nil
}

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]models.Order
	logs   []models.OrderStatusLog
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[uuid.UUID]models.Order)}
}

func (r *fakeOrderRepo) add(o models.Order) models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	for i := range o.Lines {
		if o.Lines[i].ID == uuid.Nil {
			o.Lines[i].ID = uuid.New()
		}
		o.Lines[i].OrderID = o.ID
	}
	r.orders[o.ID] = o
	return o
}

func (r *fakeOrderRepo) Create(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.CreatedAt = time.Now()
	for i := range order.Lines {
		if order.Lines[i].ID == uuid.Nil {
			order.Lines[i].ID = uuid.New()
		}
		order.Lines[i].OrderID = order.ID
	}
	r.orders[order.ID] = *order
	return nil
}

func (r *fakeOrderRepo) get(id uuid.UUID) (*models.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := o
	out.Lines = append([]models.OrderLine(nil), o.Lines...)
	return &out, nil
}

func (r *fakeOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

func (r *fakeOrderRepo) GetByIDForUpdate(_ context.Context, id uuid.UUID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

func (r *fakeOrderRepo) Update(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.orders[order.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	lines := existing.Lines
	stored := *order
	stored.Lines = lines
	r.orders[order.ID] = stored
	return nil
}

func (r *fakeOrderRepo) ReplaceLines(_ context.Context, orderID uuid.UUID, lines []models.OrderLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for i := range lines {
		if lines[i].ID == uuid.Nil {
			lines[i].ID = uuid.New()
		}
		lines[i].OrderID = orderID
	}
	o.Lines = append([]models.OrderLine(nil), lines...)
	r.orders[orderID] = o
	return nil
}

func (r *fakeOrderRepo) GetByRestaurantID(_ context.Context, restaurantID uuid.UUID, status string, limit, offset int) ([]models.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if o.RestaurantID != restaurantID {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, o)
	}
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (r *fakeOrderRepo) AppendStatusLog(_ context.Context, log *models.OrderStatusLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.CreatedAt = time.Now()
	r.logs = append(r.logs, *log)
	return nil
}

func (r *fakeOrderRepo) GetStatusLogs(_ context.Context, orderID uuid.UUID) ([]models.OrderStatusLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.OrderStatusLog
	for _, l := range r.logs {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *fakeOrderRepo) ArchiveOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now()
	for id, o := range r.orders {
		if o.ArchivedAt == nil && o.CreatedAt.Before(cutoff) {
			o.ArchivedAt = &now
			r.orders[id] = o
			n++
		}
	}
	return n, nil
}

func (r *fakeOrderRepo) statusTrail(orderID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, l := range r.logs {
		if l.OrderID == orderID {
			out = append(out, l.Status)
		}
	}
	return out
}

type fakeIntentRepo struct {
	mu      sync.Mutex
	intents map[uuid.UUID]models.PaymentIntent
}

func newFakeIntentRepo() *fakeIntentRepo {
	return &fakeIntentRepo{intents: make(map[uuid.UUID]models.PaymentIntent)}
}

func (r *fakeIntentRepo) add(i models.PaymentIntent) models.PaymentIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	r.intents[i.ID] = i
	return i
}

func (r *fakeIntentRepo) Create(_ context.Context, intent *models.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.intents {
		if existing.OrderID == intent.OrderID && existing.IdempotencyKey == intent.IdempotencyKey {
			return errors.New("duplicate key value violates unique constraint")
		}
	}
	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	intent.CreatedAt = time.Now()
	r.intents[intent.ID] = *intent
	return nil
}

func (r *fakeIntentRepo) get(id uuid.UUID) (*models.PaymentIntent, error) {
	i, ok := r.intents[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := i
	return &out, nil
}

func (r *fakeIntentRepo) GetByID(_ context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

func (r *fakeIntentRepo) GetByIDForUpdate(_ context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

func (r *fakeIntentRepo) GetByOrderAndKey(_ context.Context, orderID uuid.UUID, idempotencyKey string) (*models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.intents {
		if i.OrderID == orderID && i.IdempotencyKey == idempotencyKey {
			out := i
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeIntentRepo) GetByIntentRef(_ context.Context, provider, intentRef string) (*models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.intents {
		if i.Provider == provider && i.IntentRef == intentRef {
			out := i
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeIntentRepo) Update(_ context.Context, intent *models.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.intents[intent.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.intents[intent.ID] = *intent
	return nil
}

func (r *fakeIntentRepo) GetPending(_ context.Context, limit int) ([]models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentIntent
	for _, i := range r.intents {
		if i.Status == models.PaymentStatusPending {
			out = append(out, i)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeIntentRepo) GetPendingByOrderID(_ context.Context, orderID uuid.UUID) ([]models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentIntent
	for _, i := range r.intents {
		if i.OrderID == orderID && i.Status == models.PaymentStatusPending {
			out = append(out, i)
		}
	}
	return out, nil
}

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]models.Payment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: make(map[uuid.UUID]models.Payment)}
}

func (r *fakePaymentRepo) add(p models.Payment) models.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.payments[p.ID] = p
	return p
}

func (r *fakePaymentRepo) Create(_ context.Context, payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	payment.CreatedAt = time.Now()
	r.payments[payment.ID] = *payment
	return nil
}

func (r *fakePaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := p
	return &out, nil
}

func (r *fakePaymentRepo) Update(_ context.Context, payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[payment.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.payments[payment.ID] = *payment
	return nil
}

func (r *fakePaymentRepo) GetByOrderID(_ context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Payment
	for _, p := range r.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakePaymentRepo) GetCapturedByOrderID(_ context.Context, orderID uuid.UUID) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.OrderID == orderID && p.Status == models.PaymentStatusCaptured {
			out := p
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakePaymentRepo) RefundedTotal(_ context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, p := range r.payments {
		if p.ParentPaymentID != nil && *p.ParentPaymentID == paymentID && p.Amount.Sign() < 0 {
			total = total.Add(p.Amount.Neg())
		}
	}
	return total, nil
}

func (r *fakePaymentRepo) FailPendingByOrderID(_ context.Context, orderID uuid.UUID, exceptID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.payments {
		if p.OrderID == orderID && p.Status == models.PaymentStatusPending && id != exceptID {
			p.Status = models.PaymentStatusFailed
			r.payments[id] = p
		}
	}
	return nil
}

type fakeCommissionRepo struct {
	mu      sync.Mutex
	records []models.CommissionRecord
}

func (r *fakeCommissionRepo) Create(_ context.Context, record *models.CommissionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	for _, existing := range r.records {
		if existing.PaymentID == record.PaymentID {
			return errors.New("duplicate key value violates unique constraint")
		}
	}
	r.records = append(r.records, *record)
	return nil
}

func (r *fakeCommissionRepo) List(_ context.Context, restaurantID *uuid.UUID, limit, offset int) ([]models.CommissionRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.CommissionRecord
	for _, rec := range r.records {
		if restaurantID != nil && rec.RestaurantID != *restaurantID {
			continue
		}
		out = append(out, rec)
	}
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

type fakeInventoryRepo struct {
	mu        sync.Mutex
	items     map[uuid.UUID]models.InventoryItem
	movements []models.StockMovement
}

func newFakeInventoryRepo() *fakeInventoryRepo {
	return &fakeInventoryRepo{items: make(map[uuid.UUID]models.InventoryItem)}
}

func (r *fakeInventoryRepo) add(item models.InventoryItem) models.InventoryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	r.items[item.ID] = item
	return item
}

func (r *fakeInventoryRepo) Upsert(_ context.Context, item *models.InventoryItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.items {
		if existing.RestaurantID == item.RestaurantID && existing.ProductID == item.ProductID {
			item.ID = id
			item.StockLevel = existing.StockLevel
			r.items[id] = *item
			return nil
		}
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	r.items[item.ID] = *item
	return nil
}

func (r *fakeInventoryRepo) GetByProductID(_ context.Context, restaurantID, productID uuid.UUID) (*models.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.RestaurantID == restaurantID && item.ProductID == productID {
			out := item
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeInventoryRepo) GetByRestaurantID(_ context.Context, restaurantID uuid.UUID) ([]models.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.InventoryItem
	for _, item := range r.items {
		if item.RestaurantID == restaurantID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *fakeInventoryRepo) AdjustStock(_ context.Context, itemID uuid.UUID, delta float64) (*models.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	item.StockLevel += delta
	r.items[itemID] = item
	out := item
	return &out, nil
}

func (r *fakeInventoryRepo) CreateMovement(_ context.Context, movement *models.StockMovement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if movement.ID == uuid.Nil {
		movement.ID = uuid.New()
	}
	r.movements = append(r.movements, *movement)
	return nil
}

func (r *fakeInventoryRepo) GetMovements(_ context.Context, restaurantID, productID uuid.UUID, limit, offset int) ([]models.StockMovement, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	itemIDs := make(map[uuid.UUID]bool)
	for _, item := range r.items {
		if item.RestaurantID == restaurantID && (productID == uuid.Nil || item.ProductID == productID) {
			itemIDs[item.ID] = true
		}
	}
	var out []models.StockMovement
	for _, m := range r.movements {
		if m.RestaurantID == restaurantID && itemIDs[m.InventoryItemID] {
			out = append(out, m)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeInventoryRepo) GetLowStock(_ context.Context, restaurantID uuid.UUID) ([]models.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.InventoryItem
	for _, item := range r.items {
		if item.RestaurantID == restaurantID && item.MinLevel > 0 && item.StockLevel <= item.MinLevel {
			out = append(out, item)
		}
	}
	return out, nil
}

// stubProvider is a scriptable payment provider.
type stubProvider struct {
	mu          sync.Mutex
	name        string
	methods     []string
	feeBps      int64
	tiers       []string
	createFn    func(ctx context.Context, req providers.IntentRequest) (*providers.Intent, error)
	confirmFn   func(ctx context.Context, intentRef string) (string, error)
	refundFn    func(ctx context.Context, paymentRef string, amount decimal.Decimal) error
	verifyFn    func(headers http.Header, body []byte) (*providers.WebhookEvent, error)
	createCalls int
	refunds     []decimal.Decimal
}

func (p *stubProvider) Name() string            { return p.name }
func (p *stubProvider) Methods() []string       { return p.methods }
func (p *stubProvider) FeeBps() int64           { return p.feeBps }
func (p *stubProvider) RequiredTiers() []string { return p.tiers }

func (p *stubProvider) CreateIntent(ctx context.Context, req providers.IntentRequest) (*providers.Intent, error) {
	p.mu.Lock()
	p.createCalls++
	p.mu.Unlock()
	if p.createFn != nil {
		return p.createFn(ctx, req)
	}
	return &providers.Intent{
		Ref:           p.name + "-ref-" + uuid.NewString()[:8],
		ClientPayload: map[string]interface{}{"provider": p.name},
		ExpiresAt:     time.Now().Add(5 * time.Minute),
	}, nil
}

func (p *stubProvider) Confirm(ctx context.Context, intentRef string) (string, error) {
	if p.confirmFn != nil {
		return p.confirmFn(ctx, intentRef)
	}
	return providers.StatusPending, nil
}

func (p *stubProvider) Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) error {
	p.mu.Lock()
	p.refunds = append(p.refunds, amount)
	p.mu.Unlock()
	if p.refundFn != nil {
		return p.refundFn(ctx, paymentRef, amount)
	}
	return nil
}

func (p *stubProvider) VerifyWebhook(headers http.Header, body []byte) (*providers.WebhookEvent, error) {
	if p.verifyFn != nil {
		return p.verifyFn(headers, body)
	}
	var payload struct {
		EventID   string `json:"event_id"`
		Type      string `json:"type"`
		IntentRef string `json:"intent_ref"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return &providers.WebhookEvent{
		EventID:   payload.EventID,
		Type:      payload.Type,
		IntentRef: payload.IntentRef,
		Timestamp: time.Now(),
	}, nil
}

func (p *stubProvider) refundCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.refunds)
}
