package repository

import (
	"context"
	"log/slog"
	"time"

	"vaultpay/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type LockPGRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewLockPGRepository(pool *pgxpool.Pool, logger *slog.Logger) *LockPGRepository {
	return &LockPGRepository{
		pool:   pool,
		logger: logger,
	}
}

// Reserve inserts an active lock after checking available balance. The
// check and the insert run under the wallet row lock, so two concurrent
// reservations cannot both pass the check and overdraw the wallet.
func (r *LockPGRepository) Reserve(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, ttl time.Duration) (*models.BalanceLock, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		r.logger.Error("Failed to begin transaction",
			slog.String("wallet_id", walletID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}
	defer rollback(ctx, tx, r.logger)

	var balance decimal.Decimal
	var currency string
	var active bool
	err = tx.QueryRow(ctx,
		`SELECT balance, currency, active FROM wallets WHERE id = $1 FOR UPDATE`, walletID).
		Scan(&balance, &currency, &active)
	if err == pgx.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrWalletInactive
	}

	var reserved decimal.Decimal
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM balance_locks WHERE wallet_id = $1 AND status = 'active'`,
		walletID).Scan(&reserved)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(balance.Sub(reserved)) {
		return nil, ErrInsufficientAvailable
	}

	lock := &models.BalanceLock{
		ID:        uuid.New(),
		WalletID:  walletID,
		Amount:    amount,
		Currency:  currency,
		Status:    models.LockStatusActive,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO balance_locks (id, wallet_id, amount, currency, status, expires_at)
		 VALUES ($1, $2, $3, $4, 'active', $5) RETURNING created_at`,
		lock.ID, lock.WalletID, lock.Amount, lock.Currency, lock.ExpiresAt).
		Scan(&lock.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("Failed to commit transaction",
			slog.String("wallet_id", walletID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}
	return lock, nil
}

type ExecuteResult struct {
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
}

// Execute turns an active reservation into a real debit. The second and
// every later call on the same lock returns the balances recorded by the
// first, without touching the wallet.
func (r *LockPGRepository) Execute(ctx context.Context, lockID uuid.UUID, correlationKey string) (*ExecuteResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		r.logger.Error("Failed to begin transaction",
			slog.String("lock_id", lockID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}
	defer rollback(ctx, tx, r.logger)

	res, err := executeLockTx(ctx, tx, lockID, correlationKey)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("Failed to commit transaction",
			slog.String("lock_id", lockID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}
	return res, nil
}

// executeLockTx is shared with the payment confirmation path, which needs
// the lock execution and the payment transition in one transaction.
func executeLockTx(ctx context.Context, tx pgx.Tx, lockID uuid.UUID, correlationKey string) (*ExecuteResult, error) {
	var (
		walletID      uuid.UUID
		amount        decimal.Decimal
		status        models.LockStatus
		expiresAt     time.Time
		balanceBefore decimal.NullDecimal
		balanceAfter  decimal.NullDecimal
	)
	err := tx.QueryRow(ctx,
		`SELECT wallet_id, amount, status, expires_at, balance_before, balance_after
		 FROM balance_locks WHERE id = $1 FOR UPDATE`, lockID).
		Scan(&walletID, &amount, &status, &expiresAt, &balanceBefore, &balanceAfter)
	if err == pgx.ErrNoRows {
		return nil, ErrLockNotFound
	}
	if err != nil {
		return nil, err
	}

	if status == models.LockStatusExecuted {
		return &ExecuteResult{
			BalanceBefore: balanceBefore.Decimal,
			BalanceAfter:  balanceAfter.Decimal,
		}, nil
	}
	if status != models.LockStatusActive {
		return nil, ErrLockNotActive
	}
	if time.Now().UTC().After(expiresAt) {
		return nil, ErrLockExpired
	}

	mv, err := postTx(ctx, tx, walletID, amount.Neg(), correlationKey)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE balance_locks SET status = 'executed', balance_before = $1, balance_after = $2 WHERE id = $3`,
		mv.BalanceBefore, mv.BalanceAfter, lockID)
	if err != nil {
		return nil, err
	}
	return &ExecuteResult{BalanceBefore: mv.BalanceBefore, BalanceAfter: mv.BalanceAfter}, nil
}

// Release marks an active lock released without touching the balance.
// Releasing a non-active lock is a no-op.
func (r *LockPGRepository) Release(ctx context.Context, lockID uuid.UUID, reason string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE balance_locks SET status = 'released', reason = $2 WHERE id = $1 AND status = 'active'`,
		lockID, reason)
	if err != nil {
		r.logger.Error("Failed to release lock",
			slog.String("lock_id", lockID.String()),
			slog.Any("err", err),
		)
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM balance_locks WHERE id = $1)`, lockID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrLockNotFound
		}
		r.logger.Info("Release skipped: lock not active",
			slog.String("lock_id", lockID.String()),
			slog.String("reason", reason),
		)
	}
	return nil
}

func (r *LockPGRepository) Get(ctx context.Context, lockID uuid.UUID) (*models.BalanceLock, error) {
	var l models.BalanceLock
	err := r.pool.QueryRow(ctx,
		`SELECT id, wallet_id, amount, currency, status, reason, expires_at, balance_before, balance_after, created_at
		 FROM balance_locks WHERE id = $1`, lockID).
		Scan(&l.ID, &l.WalletID, &l.Amount, &l.Currency, &l.Status, &l.Reason,
			&l.ExpiresAt, &l.BalanceBefore, &l.BalanceAfter, &l.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrLockNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get lock",
			slog.String("lock_id", lockID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}
	return &l, nil
}

// SweepExpired expires every active lock past its deadline and returns how
// many were expired.
func (r *LockPGRepository) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE balance_locks SET status = 'expired', reason = 'ttl elapsed'
		 WHERE status = 'active' AND expires_at < NOW()`)
	if err != nil {
		r.logger.Error("Failed to sweep expired locks", slog.Any("err", err))
		return 0, err
	}
	return tag.RowsAffected(), nil
}
