package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"golang-pos-backend/internal/realtime"
)

// TxRunner opens database sessions bound to the caller's tenant context.
// *database.Database satisfies it; tests substitute an in-memory runner.
type TxRunner interface {
	RunInTenantTx(ctx context.Context, fn func(ctx context.Context) error) error
	RunAsSystem(ctx context.Context, fn func(ctx context.Context) error) error
}

// Cache is the subset of the Redis client the services need.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

// Publisher fans events out to connected clients and the event mirror.
type Publisher interface {
	Publish(e realtime.Event)
	PublishToUser(userID uuid.UUID, e realtime.Event)
}
