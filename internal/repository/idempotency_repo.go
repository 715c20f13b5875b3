package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledger-service/internal/domain"
	"ledger-service/internal/pkg/xerrors"
)

type IdempotencyRepository interface {
	// Create inserts a fresh PENDING record. A unique-key violation maps
	// to ErrDuplicateIdempotencyKey so the caller can fall back to Get.
	Create(ctx context.Context, rec *domain.IdempotencyRecord) error
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	MarkCompleted(ctx context.Context, key string, response []byte) error
	MarkFailed(ctx context.Context, key string) error
	// RetakeFailed flips a FAILED record back to PENDING for a retry of
	// the same logical attempt. Returns false if the record was not FAILED.
	RetakeFailed(ctx context.Context, key string, expiresAt time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error)
}

type idempotencyRepo struct {
	db *pgxpool.Pool
}

func NewIdempotencyRepo(db *pgxpool.Pool) IdempotencyRepository {
	return &idempotencyRepo{db: db}
}

func (r *idempotencyRepo) Create(ctx context.Context, rec *domain.IdempotencyRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO idempotency_records
			(key, user_id, operation, request_hash, status, response, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.Key, rec.UserID, rec.Operation, rec.RequestHash, rec.Status,
		rec.Response, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return xerrors.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}

func (r *idempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := r.db.QueryRow(ctx, `
		SELECT key, user_id, operation, request_hash, status, response, created_at, expires_at
		FROM idempotency_records WHERE key = $1`, key).Scan(
		&rec.Key, &rec.UserID, &rec.Operation, &rec.RequestHash, &rec.Status,
		&rec.Response, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return &rec, nil
}

func (r *idempotencyRepo) MarkCompleted(ctx context.Context, key string, response []byte) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE idempotency_records SET status = 'COMPLETED', response = $1
		WHERE key = $2 AND status = 'PENDING'`, response, key)
	if err != nil {
		return fmt.Errorf("mark idempotency completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *idempotencyRepo) MarkFailed(ctx context.Context, key string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE idempotency_records SET status = 'FAILED'
		WHERE key = $1 AND status = 'PENDING'`, key)
	if err != nil {
		return fmt.Errorf("mark idempotency failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *idempotencyRepo) RetakeFailed(ctx context.Context, key string, expiresAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE idempotency_records SET status = 'PENDING', expires_at = $1
		WHERE key = $2 AND status = 'FAILED'`, expiresAt, key)
	if err != nil {
		return false, fmt.Errorf("retake idempotency record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpired purges in bounded batches so a large backlog never holds
// long locks on the table.
func (r *idempotencyRepo) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM idempotency_records
		WHERE ctid IN (
			SELECT ctid FROM idempotency_records
			WHERE expires_at < $1
			LIMIT $2
		)`, now, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}
