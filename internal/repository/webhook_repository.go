package repository

import (
	"context"
	"encoding/json"
	"log/slog"

	"vaultpay/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WebhookPGRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewWebhookPGRepository(pool *pgxpool.Pool, logger *slog.Logger) *WebhookPGRepository {
	return &WebhookPGRepository{
		pool:   pool,
		logger: logger,
	}
}

// Insert persists a freshly received event. The unique index on
// (provider, event_id) is the idempotency boundary: a second delivery of
// the same event fails with ErrDuplicateEvent before any business logic.
func (r *WebhookPGRepository) Insert(ctx context.Context, e *models.WebhookEvent) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO webhook_events (id, provider, event_id, event_type, payload, signature_valid, status)
		 VALUES ($1, $2, $3, $4, $5, $6, 'received')
		 RETURNING created_at, updated_at`,
		e.ID, e.Provider, e.EventID, e.EventType, []byte(e.Payload), e.SignatureValid).
		Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		r.logger.Error("Failed to insert webhook event",
			slog.String("provider", e.Provider),
			slog.String("event_id", e.EventID),
			slog.Any("err", err),
		)
		return err
	}
	e.Status = models.WebhookStatusReceived
	return nil
}

func (r *WebhookPGRepository) Get(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var e models.WebhookEvent
	var payload []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, provider, event_id, event_type, payload, signature_valid, status,
		        retry_count, payment_id, last_error, created_at, updated_at
		 FROM webhook_events WHERE id = $1`, id).
		Scan(&e.ID, &e.Provider, &e.EventID, &e.EventType, &payload, &e.SignatureValid,
			&e.Status, &e.RetryCount, &e.PaymentID, &e.LastError, &e.CreatedAt, &e.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	return &e, nil
}

// SetStatus records the processing outcome and, when known, the payment
// the event resolved.
func (r *WebhookPGRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.WebhookStatus, paymentID *uuid.UUID, lastError *string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE webhook_events
		 SET status = $2, payment_id = COALESCE($3, payment_id), last_error = $4, updated_at = NOW()
		 WHERE id = $1`,
		id, status, paymentID, lastError)
	if err != nil {
		r.logger.Error("Failed to update webhook status",
			slog.String("webhook_id", id.String()),
			slog.String("status", string(status)),
			slog.Any("err", err),
		)
	}
	return err
}

func (r *WebhookPGRepository) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`UPDATE webhook_events SET retry_count = retry_count + 1, updated_at = NOW()
		 WHERE id = $1 RETURNING retry_count`, id).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to increment webhook retry count",
			slog.String("webhook_id", id.String()),
			slog.Any("err", err),
		)
		return 0, err
	}
	return count, nil
}
