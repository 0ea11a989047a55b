package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"golang-pos-backend/internal/apperrors"
)

const idempotencyTTL = 24 * time.Hour

// StoredResponse is what a replayed request gets back. Status 0 marks an
// entry whose original request is still executing.
type StoredResponse struct {
	Fingerprint string          `json:"fingerprint"`
	Status      int             `json:"status"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// IdempotencyStore keys client retries by (restaurant, Idempotency-Key) and
// pins each key to the fingerprint of the request that first used it.
type IdempotencyStore struct {
	cache  Cache
	logger zerolog.Logger
}

func NewIdempotencyStore(redis Cache, logger zerolog.Logger) *IdempotencyStore {
	return &IdempotencyStore{cache: redis, logger: logger.With().Str("component", "idempotency").Logger()}
}

// Fingerprint hashes the parts of the request that must not differ between
// retries carrying the same key.
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin claims the key for this request. A nil, nil return means the caller
// should execute and then call Complete. A non-nil StoredResponse is a
// finished original to replay verbatim. Redis being down disables replay
// protection rather than blocking all mutations.
func (s *IdempotencyStore) Begin(ctx context.Context, restaurantID uuid.UUID, key, fingerprint string) (*StoredResponse, error) {
	redisKey := idempotencyKey(restaurantID, key)

	claimed, err := s.cache.SetNX(ctx, redisKey, StoredResponse{Fingerprint: fingerprint}, idempotencyTTL)
	if err != nil {
		s.logger.Warn().Err(err).Msg("idempotency store unavailable")
		return nil, nil
	}
	if claimed {
		return nil, nil
	}

	var existing StoredResponse
	if err := s.cache.Get(ctx, redisKey, &existing); err != nil {
		s.logger.Warn().Err(err).Msg("idempotency read failed")
		return nil, nil
	}
	if existing.Fingerprint != fingerprint {
		return nil, apperrors.IdempotencyConflict()
	}
	if existing.Status == 0 {
		return nil, apperrors.IdempotencyConflict().WithDetails(map[string]interface{}{
			"reason": "original request still in progress",
		})
	}
	return &existing, nil
}

// Complete records the response for later replays.
func (s *IdempotencyStore) Complete(ctx context.Context, restaurantID uuid.UUID, key, fingerprint string, status int, body []byte) {
	record := StoredResponse{Fingerprint: fingerprint, Status: status, Body: body}
	if err := s.cache.Set(ctx, idempotencyKey(restaurantID, key), record, idempotencyTTL); err != nil {
		s.logger.Warn().Err(err).Msg("idempotency write failed")
	}
}

// Release drops the claim after a failed execution so the client can retry
// with the same key.
func (s *IdempotencyStore) Release(ctx context.Context, restaurantID uuid.UUID, key string) {
	if err := s.cache.Delete(ctx, idempotencyKey(restaurantID, key)); err != nil {
		s.logger.Warn().Err(err).Msg("idempotency release failed")
	}
}

func idempotencyKey(restaurantID uuid.UUID, key string) string {
	return fmt.Sprintf("idem:%s:%s", restaurantID, key)
}
