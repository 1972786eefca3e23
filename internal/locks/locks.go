package locks

import (
	"context"
	"log/slog"
	"time"

	"vaultpay/internal/models"
	"vaultpay/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LockRepository interface {
	Reserve(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, ttl time.Duration) (*models.BalanceLock, error)
	Execute(ctx context.Context, lockID uuid.UUID, correlationKey string) (*repository.ExecuteResult, error)
	Release(ctx context.Context, lockID uuid.UUID, reason string) error
	Get(ctx context.Context, lockID uuid.UUID) (*models.BalanceLock, error)
	SweepExpired(ctx context.Context) (int64, error)
}

// Manager reserves and releases funds against wallets without moving
// money. Reservations expire after the configured TTL unless executed.
type Manager struct {
	repo       LockRepository
	logger     *slog.Logger
	ttl        time.Duration
	maxRetries int
}

func NewManager(repo LockRepository, logger *slog.Logger, ttl time.Duration) *Manager {
	return &Manager{
		repo:       repo,
		logger:     logger,
		ttl:        ttl,
		maxRetries: 3,
	}
}

func (m *Manager) Reserve(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (*models.BalanceLock, error) {
	if !amount.IsPositive() {
		return nil, repository.ErrInvalidAmount
	}
	var lastErr error
	for i := 0; i < m.maxRetries; i++ {
		lock, err := m.repo.Reserve(ctx, walletID, amount, m.ttl)
		if err == nil {
			m.logger.Info("Funds reserved",
				slog.String("wallet_id", walletID.String()),
				slog.String("lock_id", lock.ID.String()),
				slog.Any("amount", amount),
			)
			return lock, nil
		}
		if repository.IsRetryable(err) {
			m.logger.Warn("Retrying reserve",
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
	m.logger.Error("Reserve failed after retries",
		slog.String("wallet_id", walletID.String()),
		slog.Any("amount", amount),
		slog.Any("err", lastErr),
	)
	return nil, lastErr
}

// Execute converts a reservation into a real debit. Repeated calls return
// the balances recorded by the first execution.
func (m *Manager) Execute(ctx context.Context, lockID uuid.UUID, correlationKey string) (*repository.ExecuteResult, error) {
	var lastErr error
	for i := 0; i < m.maxRetries; i++ {
		res, err := m.repo.Execute(ctx, lockID, correlationKey)
		if err == nil {
			return res, nil
		}
		if repository.IsRetryable(err) {
			m.logger.Warn("Retrying lock execute",
				slog.String("lock_id", lockID.String()),
				slog.Int("attempt", i+1),
				slog.Any("err", err),
			)
			time.Sleep(time.Duration(1<<i) * 10 * time.Millisecond)
			lastErr = err
			continue
		}
		return nil, err
	}
	m.logger.Error("Lock execute failed after retries",
		slog.String("lock_id", lockID.String()),
		slog.Any("err", lastErr),
	)
	return nil, lastErr
}

func (m *Manager) Release(ctx context.Context, lockID uuid.UUID, reason string) error {
	return m.repo.Release(ctx, lockID, reason)
}

func (m *Manager) Get(ctx context.Context, lockID uuid.UUID) (*models.BalanceLock, error) {
	return m.repo.Get(ctx, lockID)
}

func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	n, err := m.repo.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("Expired locks released", slog.Int64("count", n))
	}
	return n, nil
}
