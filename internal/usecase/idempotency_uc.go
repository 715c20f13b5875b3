package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ledger-service/internal/domain"
	"ledger-service/internal/pkg/xerrors"
	"ledger-service/internal/repository"
)

type BeginState int

const (
	// BeginFresh means no prior attempt exists; the caller proceeds.
	BeginFresh BeginState = iota
	// BeginCompleted means a prior attempt succeeded; Response holds
	// the stored payload to replay verbatim.
	BeginCompleted
)

type BeginResult struct {
	State    BeginState
	Response []byte
}

// Guard is the engine-facing idempotency contract. Engines call Begin
// before touching money, Complete after a committed write and Fail on
// any rejected or ambiguous attempt.
type Guard interface {
	Begin(ctx context.Context, userID, operation, key, requestHash string) (*BeginResult, error)
	Complete(ctx context.Context, key string, response []byte)
	Fail(ctx context.Context, key string)
}

// ResponseCache is the completed-response fast path. Backed by Redis in
// production.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type redisResponseCache struct {
	rdb *redis.Client
}

func NewRedisResponseCache(rdb *redis.Client) ResponseCache {
	return &redisResponseCache{rdb: rdb}
}

func (c *redisResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (c *redisResponseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// IdempotencyGuard deduplicates retried mutating requests. Postgres is
// the record of truth; Redis caches completed responses so replays skip
// the database on the hot path.
type IdempotencyGuard struct {
	repo   repository.IdempotencyRepository
	cache  ResponseCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewIdempotencyGuard(repo repository.IdempotencyRepository, cache ResponseCache, ttl time.Duration, logger *zap.Logger) *IdempotencyGuard {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyGuard{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

// cachedResponse is the redis fast-path record: the stored response
// plus the hash of the request that produced it, so a warm cache can
// still reject a key reused with a different payload.
type cachedResponse struct {
	RequestHash string `json:"request_hash"`
	Response    []byte `json:"response"`
}

// Begin claims the key for this attempt. A PENDING record belonging to
// another in-flight attempt is a conflict; a COMPLETED one replays the
// stored response; a FAILED one is retaken so the caller may retry the
// same logical operation.
func (g *IdempotencyGuard) Begin(ctx context.Context, userID, operation, key, requestHash string) (*BeginResult, error) {
	// Fast path: completed response cached in redis. The hash check
	// applies here exactly as on the database path.
	if raw, ok := g.cache.Get(ctx, cacheKey(key)); ok {
		var cached cachedResponse
		if err := json.Unmarshal(raw, &cached); err == nil && cached.RequestHash != "" {
			if cached.RequestHash != requestHash {
				return nil, xerrors.ErrIdempotencyKeyReused
			}
			return &BeginResult{State: BeginCompleted, Response: cached.Response}, nil
		}
		// Unrecognized cache payload: fall through to the database.
	}

	now := time.Now().UTC()
	rec := &domain.IdempotencyRecord{
		Key:         key,
		UserID:      userID,
		Operation:   operation,
		RequestHash: requestHash,
		Status:      domain.IdempotencyPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
	}

	err := g.repo.Create(ctx, rec)
	if err == nil {
		return &BeginResult{State: BeginFresh}, nil
	}
	if !errors.Is(err, xerrors.ErrDuplicateIdempotencyKey) {
		return nil, err
	}

	existing, err := g.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing.RequestHash != requestHash {
		return nil, xerrors.ErrIdempotencyKeyReused
	}

	switch existing.Status {
	case domain.IdempotencyCompleted:
		g.cacheResponse(ctx, key, existing.RequestHash, existing.Response)
		return &BeginResult{State: BeginCompleted, Response: existing.Response}, nil
	case domain.IdempotencyFailed:
		retaken, err := g.repo.RetakeFailed(ctx, key, now.Add(g.ttl))
		if err != nil {
			return nil, err
		}
		if !retaken {
			// Lost the race to another retry.
			return nil, xerrors.ErrIdempotencyConflict
		}
		return &BeginResult{State: BeginFresh}, nil
	default:
		return nil, xerrors.ErrIdempotencyConflict
	}
}

// Complete persists the response. The cache is backfilled on the first
// database replay, where the stored request hash is at hand.
func (g *IdempotencyGuard) Complete(ctx context.Context, key string, response []byte) {
	if err := g.repo.MarkCompleted(ctx, key, response); err != nil {
		g.logger.Error("mark idempotency completed failed",
			zap.Error(err), zap.String("key", key))
	}
}

func (g *IdempotencyGuard) Fail(ctx context.Context, key string) {
	if err := g.repo.MarkFailed(ctx, key); err != nil {
		g.logger.Error("mark idempotency failed failed",
			zap.Error(err), zap.String("key", key))
	}
}

// PurgeExpired reclaims expired records in bounded batches. Called by
// the cleanup worker.
func (g *IdempotencyGuard) PurgeExpired(ctx context.Context, batchSize int) (int64, error) {
	return g.repo.DeleteExpired(ctx, time.Now().UTC(), batchSize)
}

func (g *IdempotencyGuard) cacheResponse(ctx context.Context, key, requestHash string, response []byte) {
	if len(response) == 0 {
		return
	}
	raw, err := json.Marshal(cachedResponse{RequestHash: requestHash, Response: response})
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, cacheKey(key), raw, g.ttl); err != nil {
		g.logger.Warn("cache idempotent response failed",
			zap.Error(err), zap.String("key", key))
	}
}
