package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"vaultpay/internal/models"
	"vaultpay/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LedgerRepository interface {
	CreateWallet(ctx context.Context, ownerID uuid.UUID, currency string) (*models.Wallet, error)
	GetWallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error)
	GetBalance(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error)
	AvailableBalance(ctx context.Context, walletID uuid.UUID) (balance, reserved decimal.Decimal, err error)
	Post(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, correlationKey string) (*models.WalletMovement, error)
	PostPair(ctx context.Context, debitWalletID, creditWalletID uuid.UUID, debitAmount, creditAmount decimal.Decimal, correlationKey string) (*models.WalletMovement, *models.WalletMovement, error)
}

// Engine is the only component that writes wallet balances. Posts to one
// wallet are serialized by the repository row lock; the engine itself only
// adds validation and a retry on transient serialization failures.
type Engine struct {
	repo       LedgerRepository
	logger     *slog.Logger
	maxRetries int
}

func NewEngine(repo LedgerRepository, logger *slog.Logger) *Engine {
	return &Engine{
		repo:       repo,
		logger:     logger,
		maxRetries: 3,
	}
}

func (e *Engine) CreateWallet(ctx context.Context, ownerID uuid.UUID, currency string) (*models.Wallet, error) {
	if len(currency) != 3 {
		return nil, repository.ErrCurrencyMismatch
	}
	return e.repo.CreateWallet(ctx, ownerID, currency)
}

func (e *Engine) GetWallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	return e.repo.GetWallet(ctx, walletID)
}

func (e *Engine) GetBalance(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	return e.repo.GetBalance(ctx, walletID)
}

func (e *Engine) AvailableBalance(ctx context.Context, walletID uuid.UUID) (*models.AvailableBalanceResponse, error) {
	balance, reserved, err := e.repo.AvailableBalance(ctx, walletID)
	if err != nil {
		if !errors.Is(err, repository.ErrWalletNotFound) {
			e.logger.Error("AvailableBalance failed",
				slog.String("wallet_id", walletID.String()),
				slog.Any("err", err),
			)
		}
		return nil, err
	}
	return &models.AvailableBalanceResponse{
		WalletID:         walletID,
		Balance:          balance,
		Reserved:         reserved,
		AvailableBalance: balance.Sub(reserved),
	}, nil
}

// Post applies one signed movement. Negative amounts that would take the
// balance below zero fail with ErrInsufficientFunds; no retries for
// business errors, bounded retries for serialization failures.
func (e *Engine) Post(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, correlationKey string) (*models.WalletMovement, error) {
	if amount.IsZero() {
		return nil, repository.ErrInvalidAmount
	}
	var lastErr error
	for i := 0; i < e.maxRetries; i++ {
		mv, err := e.repo.Post(ctx, walletID, amount, correlationKey)
		if err == nil {
			return mv, nil
		}
		if repository.IsRetryable(err) {
			e.logger.Warn("Retrying ledger post",
				slog.String("wallet_id", walletID.String()),
				slog.Int("attempt", i+1),
				slog.Any("err", err),
			)
			time.Sleep(time.Duration(1<<i) * 10 * time.Millisecond)
			lastErr = err
			continue
		}
		return nil, err
	}
	e.logger.Error("Ledger post failed after retries",
		slog.String("wallet_id", walletID.String()),
		slog.Any("amount", amount),
		slog.Any("err", lastErr),
	)
	return nil, lastErr
}

// PostPair writes the debit and credit legs of one transfer atomically.
func (e *Engine) PostPair(ctx context.Context, debitWalletID, creditWalletID uuid.UUID, debitAmount, creditAmount decimal.Decimal, correlationKey string) (*models.WalletMovement, *models.WalletMovement, error) {
	var lastErr error
	for i := 0; i < e.maxRetries; i++ {
		debitMv, creditMv, err := e.repo.PostPair(ctx, debitWalletID, creditWalletID, debitAmount, creditAmount, correlationKey)
		if err == nil {
			return debitMv, creditMv, nil
		}
		if repository.IsRetryable(err) {
			e.logger.Warn("Retrying ledger post pair",
				slog.String("correlation_key", correlationKey),
				slog.Int("attempt", i+1),
				slog.Any("err", err),
			)
			time.Sleep(time.Duration(1<<i) * 10 * time.Millisecond)
			lastErr = err
			continue
		}
		return nil, nil, err
	}
	e.logger.Error("Ledger post pair failed after retries",
		slog.String("correlation_key", correlationKey),
		slog.Any("err", lastErr),
	)
	return nil, nil, lastErr
}
