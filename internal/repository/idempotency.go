package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyRow mirrors one record of the idempotency_keys table.
type IdempotencyRow struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
}

// IdempotencyQueries runs the idempotency key queries outside of the
// deal transaction scope.
type IdempotencyQueries struct {
	db *pgxpool.Pool
}

func NewIdempotency(db *pgxpool.Pool) *IdempotencyQueries {
	return &IdempotencyQueries{db: db}
}

func (q *IdempotencyQueries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyRow, error) {
	var row IdempotencyRow
	err := q.db.QueryRow(ctx, `
		SELECT idempotency_key, request_hash, method, path,
		       response_status, response_body, content_type, in_progress
		FROM idempotency_keys
		WHERE idempotency_key = $1`, key).Scan(
		&row.IdempotencyKey, &row.RequestHash, &row.Method, &row.Path,
		&row.ResponseStatus, &row.ResponseBody, &row.ContentType, &row.InProgress,
	)
	return row, err
}

// ReserveIdempotencyKey claims a key for the request now in flight.
// It returns pgx.ErrNoRows when another request already holds the key.
func (q *IdempotencyQueries) ReserveIdempotencyKey(ctx context.Context, key, requestHash, method, path string) (IdempotencyRow, error) {
	var row IdempotencyRow
	err := q.db.QueryRow(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING idempotency_key, request_hash, method, path,
		          response_status, response_body, content_type, in_progress`,
		key, requestHash, method, path).Scan(
		&row.IdempotencyKey, &row.RequestHash, &row.Method, &row.Path,
		&row.ResponseStatus, &row.ResponseBody, &row.ContentType, &row.InProgress,
	)
	return row, err
}

func (q *IdempotencyQueries) FinalizeIdempotencyKey(ctx context.Context, key, requestHash string, status int32, body []byte, contentType string) (IdempotencyRow, error) {
	var row IdempotencyRow
	err := q.db.QueryRow(ctx, `
		UPDATE idempotency_keys
		SET response_status = $1, response_body = $2, content_type = $3, in_progress = FALSE
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING idempotency_key, request_hash, method, path,
		          response_status, response_body, content_type, in_progress`,
		status, body, contentType, key, requestHash).Scan(
		&row.IdempotencyKey, &row.RequestHash, &row.Method, &row.Path,
		&row.ResponseStatus, &row.ResponseBody, &row.ContentType, &row.InProgress,
	)
	return row, err
}
