package repository

import (
	"context"
	"errors"
	"log/slog"

	"vaultpay/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type WalletPGRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewWalletPGRepository(pool *pgxpool.Pool, logger *slog.Logger) *WalletPGRepository {
	return &WalletPGRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *WalletPGRepository) CreateWallet(ctx context.Context, ownerID uuid.UUID, currency string) (*models.Wallet, error) {
	w := &models.Wallet{
		ID:       uuid.New(),
		OwnerID:  ownerID,
		Currency: currency,
		Balance:  decimal.Zero,
		Active:   true,
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO wallets (id, owner_id, currency, balance, active) VALUES ($1, $2, $3, 0, true)`,
		w.ID, w.OwnerID, w.Currency)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrWalletAlreadyExist
		}
		r.logger.Error("Failed to create wallet",
			slog.String("owner_id", ownerID.String()),
			slog.String("currency", currency),
			slog.Any("err", err),
		)
		return nil, err
	}
	return w, nil
}

func (r *WalletPGRepository) GetWallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := r.pool.QueryRow(ctx,
		`SELECT id, owner_id, currency, balance, active FROM wallets WHERE id = $1`, walletID).
		Scan(&w.ID, &w.OwnerID, &w.Currency, &w.Balance, &w.Active)
	if err == pgx.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get wallet",
			slog.String("wallet_id", walletID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}
	return &w, nil
}

func (r *WalletPGRepository) GetBalance(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT balance FROM wallets WHERE id = $1`, walletID).Scan(&balance)
	if err == pgx.ErrNoRows {
		return decimal.Zero, ErrWalletNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get balance",
			slog.String("wallet_id", walletID.String()),
			slog.Any("err", err),
		)
		return decimal.Zero, err
	}
	return balance, nil
}

// AvailableBalance returns the wallet balance and the sum of active locks.
// Available funds are balance minus reserved.
func (r *WalletPGRepository) AvailableBalance(ctx context.Context, walletID uuid.UUID) (balance, reserved decimal.Decimal, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT w.balance,
		       COALESCE((SELECT SUM(l.amount) FROM balance_locks l
		                 WHERE l.wallet_id = w.id AND l.status = 'active'), 0)
		FROM wallets w WHERE w.id = $1`, walletID).
		Scan(&balance, &reserved)
	if err == pgx.ErrNoRows {
		return decimal.Zero, decimal.Zero, ErrWalletNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get available balance",
			slog.String("wallet_id", walletID.String()),
			slog.Any("err", err),
		)
		return decimal.Zero, decimal.Zero, err
	}
	return balance, reserved, nil
}

// Post applies one signed ledger movement to a wallet. The balance read,
// the arithmetic and the write happen under a row lock in one transaction.
func (r *WalletPGRepository) Post(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, correlationKey string) (*models.WalletMovement, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		r.logger.Error("Failed to begin transaction",
			slog.String("wallet_id", walletID.String()),
			slog.Any("err", err),
		)
		return nil, err
	}
	defer rollback(ctx, tx, r.logger)

	mv, err := postTx(ctx, tx, walletID, amount, correlationKey)
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
	return mv, nil
}

// PostPair applies a debit and a credit sharing one correlation key in a
// single transaction: either both legs commit or neither does. Wallet rows
// are locked in id order so concurrent pairs cannot deadlock.
func (r *WalletPGRepository) PostPair(ctx context.Context, debitWalletID, creditWalletID uuid.UUID, debitAmount, creditAmount decimal.Decimal, correlationKey string) (*models.WalletMovement, *models.WalletMovement, error) {
	if debitWalletID == creditWalletID {
		return nil, nil, errors.New("postpair: debit and credit wallet must differ")
	}
	if !debitAmount.IsNegative() || !creditAmount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		r.logger.Error("Failed to begin transaction", slog.Any("err", err))
		return nil, nil, err
	}
	defer rollback(ctx, tx, r.logger)

	var debitMv, creditMv *models.WalletMovement
	if debitWalletID.String() < creditWalletID.String() {
		debitMv, err = postTx(ctx, tx, debitWalletID, debitAmount, correlationKey)
		if err == nil {
			creditMv, err = postTx(ctx, tx, creditWalletID, creditAmount, correlationKey)
		}
	} else {
		creditMv, err = postTx(ctx, tx, creditWalletID, creditAmount, correlationKey)
		if err == nil {
			debitMv, err = postTx(ctx, tx, debitWalletID, debitAmount, correlationKey)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("Failed to commit transaction", slog.Any("err", err))
		return nil, nil, err
	}
	return debitMv, creditMv, nil
}

// postTx is the shared read-modify-write used by every ledger write in
// this package. Callers own the surrounding transaction.
func postTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amount decimal.Decimal, correlationKey string) (*models.WalletMovement, error) {
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	var balance decimal.Decimal
	var active bool
	err := tx.QueryRow(ctx,
		`SELECT balance, active FROM wallets WHERE id = $1 FOR UPDATE`, walletID).
		Scan(&balance, &active)
	if err == pgx.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrWalletInactive
	}

	newBalance := balance.Add(amount)
	if newBalance.IsNegative() {
		return nil, ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = $1 WHERE id = $2`, newBalance, walletID); err != nil {
		return nil, err
	}

	mv := &models.WalletMovement{
		WalletID:      walletID,
		Amount:        amount,
		BalanceBefore: balance,
		BalanceAfter:  newBalance,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO ledger_transactions (wallet_id, amount, correlation_key)
		 VALUES ($1, $2, $3) RETURNING id, created_at`,
		walletID, amount, correlationKey).
		Scan(&mv.TransactionID, &mv.CreatedAt)
	if err != nil {
		return nil, err
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO wallet_movements (transaction_id, wallet_id, amount, balance_before, balance_after)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		mv.TransactionID, walletID, amount, balance, newBalance).
		Scan(&mv.ID)
	if err != nil {
		return nil, err
	}
	return mv, nil
}

func rollback(ctx context.Context, tx pgx.Tx, logger *slog.Logger) {
	if err := tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		logger.Error("Failed to rollback transaction", slog.Any("err", err))
	}
}
