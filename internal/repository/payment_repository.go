package repository

import (
	"context"
	"log/slog"

	"vaultpay/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentPGRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPaymentPGRepository(pool *pgxpool.Pool, logger *slog.Logger) *PaymentPGRepository {
	return &PaymentPGRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *PaymentPGRepository) Create(ctx context.Context, p *models.ExternalPayment) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO external_payments
		   (id, owner_id, wallet_id, amount, currency, commission, recipient_wallet_id,
		    provider, status, idempotency_key, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at, updated_at`,
		p.ID, p.OwnerID, p.WalletID, p.Amount, p.Currency, p.Commission,
		p.RecipientWalletID, p.Provider, p.Status, p.IdempotencyKey, p.ExpiresAt).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrIdempotentReplay
		}
		r.logger.Error("Failed to create payment",
			slog.String("payment_id", p.ID.String()),
			slog.Any("err", err),
		)
		return err
	}
	return nil
}

const paymentColumns = `id, owner_id, wallet_id, amount, currency, commission,
	converted_amount, converted_currency, lock_id, recipient_wallet_id,
	provider, provider_order_id, provider_pay_url, provider_status, status,
	idempotency_key, error_reason, expires_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*models.ExternalPayment, error) {
	var p models.ExternalPayment
	err := row.Scan(&p.ID, &p.OwnerID, &p.WalletID, &p.Amount, &p.Currency, &p.Commission,
		&p.ConvertedAmount, &p.ConvertedCurrency, &p.LockID, &p.RecipientWalletID,
		&p.Provider, &p.ProviderOrderID, &p.ProviderPayURL, &p.ProviderStatus, &p.Status,
		&p.IdempotencyKey, &p.ErrorReason, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentPGRepository) Get(ctx context.Context, paymentID uuid.UUID) (*models.ExternalPayment, error) {
	return scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM external_payments WHERE id = $1`, paymentID))
}

func (r *PaymentPGRepository) GetByIdempotencyKey(ctx context.Context, ownerID uuid.UUID, key string) (*models.ExternalPayment, error) {
	return scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM external_payments WHERE owner_id = $1 AND idempotency_key = $2`,
		ownerID, key))
}

func (r *PaymentPGRepository) GetByProviderOrderID(ctx context.Context, provider, orderID string) (*models.ExternalPayment, error) {
	return scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM external_payments WHERE provider = $1 AND provider_order_id = $2`,
		provider, orderID))
}

// MarkLocked attaches the reservation and moves created -> locked.
func (r *PaymentPGRepository) MarkLocked(ctx context.Context, paymentID, lockID uuid.UUID) error {
	return r.transition(ctx, paymentID,
		`UPDATE external_payments SET status = 'locked', lock_id = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'created'`, lockID)
}

// MarkPendingExternal stores the provider order and moves locked -> pending_external.
func (r *PaymentPGRepository) MarkPendingExternal(ctx context.Context, paymentID uuid.UUID, orderID, payURL string) error {
	return r.transition(ctx, paymentID,
		`UPDATE external_payments
		 SET status = 'pending_external', provider_order_id = $2, provider_pay_url = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'locked'`, orderID, payURL)
}

// MarkTerminal moves a payment to failed, cancelled or expired and releases
// its lock, in one transaction. The conditional update is the per-payment
// serialization point: a concurrent winner makes this an ErrInvalidTransition.
func (r *PaymentPGRepository) MarkTerminal(ctx context.Context, paymentID uuid.UUID, to models.PaymentStatus, reason string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		r.logger.Error("Failed to begin transaction",
			slog.String("payment_id", paymentID.String()),
			slog.Any("err", err),
		)
		return err
	}
	defer rollback(ctx, tx, r.logger)

	from := make([]string, 0, 3)
	for _, s := range models.SourcesOf(to) {
		from = append(from, string(s))
	}
	var lockID *uuid.UUID
	err = tx.QueryRow(ctx,
		`UPDATE external_payments
		 SET status = $2, error_reason = $3, updated_at = NOW()
		 WHERE id = $1 AND status = ANY($4)
		 RETURNING lock_id`,
		paymentID, to, reason, from).Scan(&lockID)
	if err == pgx.ErrNoRows {
		if _, getErr := r.Get(ctx, paymentID); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}
	if err != nil {
		return err
	}

	if lockID != nil {
		_, err = tx.Exec(ctx,
			`UPDATE balance_locks SET status = 'released', reason = $2 WHERE id = $1 AND status = 'active'`,
			*lockID, reason)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

type SettlementResult struct {
	Payment        *models.ExternalPayment
	Execution      *ExecuteResult
	AlreadySettled bool
}

// ConfirmSettlement executes the payment's lock, posts the paired credit
// when an internal recipient exists, and moves pending_external -> settled.
// The whole sequence is one transaction guarded by the payment row lock, so
// it runs at most once no matter how many webhooks race for it.
func (r *PaymentPGRepository) ConfirmSettlement(ctx context.Context, paymentID uuid.UUID, providerStatus string) (*SettlementResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		r.logger.Error("Failed to begin transaction",
			slog.String("payment_id", paymentID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}
	defer rollback(ctx, tx, r.logger)

	p, err := scanPayment(tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM external_payments WHERE id = $1 FOR UPDATE`, paymentID))
	if err != nil {
		return nil, err
	}

	if p.Status == models.PaymentStatusSettled {
		return &SettlementResult{Payment: p, AlreadySettled: true}, nil
	}
	if p.Status != models.PaymentStatusPendingExternal {
		return nil, ErrInvalidTransition
	}
	if p.LockID == nil {
		return nil, ErrLockNotFound
	}

	correlationKey := p.ID.String()
	execRes, err := executeLockTx(ctx, tx, *p.LockID, correlationKey)
	if err != nil {
		return nil, err
	}
	if p.RecipientWalletID != nil {
		if _, err := postTx(ctx, tx, *p.RecipientWalletID, p.Amount, correlationKey); err != nil {
			return nil, err
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE external_payments SET status = 'settled', provider_status = $2, updated_at = NOW()
		 WHERE id = $1`, paymentID, providerStatus)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("Failed to commit settlement",
			slog.String("payment_id", paymentID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}

	p.Status = models.PaymentStatusSettled
	p.ProviderStatus = &providerStatus
	return &SettlementResult{Payment: p, Execution: execRes}, nil
}

// SweepExpired moves every overdue locked/pending_external payment to
// expired and releases its lock. Returns the expired payment ids.
func (r *PaymentPGRepository) SweepExpired(ctx context.Context) ([]uuid.UUID, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		r.logger.Error("Failed to begin transaction", slog.Any("err", err))
		return nil, err
	}
	defer rollback(ctx, tx, r.logger)

	rows, err := tx.Query(ctx,
		`UPDATE external_payments
		 SET status = 'expired', error_reason = 'payment expired', updated_at = NOW()
		 WHERE status IN ('locked', 'pending_external') AND expires_at < NOW()
		 RETURNING id, lock_id`)
	if err != nil {
		return nil, err
	}
	var expired []uuid.UUID
	var lockIDs []string
	for rows.Next() {
		var id uuid.UUID
		var lockID *uuid.UUID
		if err := rows.Scan(&id, &lockID); err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, id)
		if lockID != nil {
			lockIDs = append(lockIDs, lockID.String())
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(lockIDs) > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE balance_locks SET status = 'released', reason = 'payment expired'
			 WHERE id = ANY($1::uuid[]) AND status = 'active'`, lockIDs)
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return expired, nil
}

func (r *PaymentPGRepository) transition(ctx context.Context, paymentID uuid.UUID, query string, args ...any) error {
	all := append([]any{paymentID}, args...)
	tag, err := r.pool.Exec(ctx, query, all...)
	if err != nil {
		r.logger.Error("Failed to transition payment",
			slog.String("payment_id", paymentID.String()),
			slog.Any("err", err),
		)
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, paymentID); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}
	return nil
}
