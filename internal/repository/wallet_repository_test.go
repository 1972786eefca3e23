package repository_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"vaultpay/internal/repository"
	"vaultpay/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestPost_EdgeCases(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewWalletPGRepository(pool, testLogger)

	// Unknown wallet
	_, err := repo.Post(context.Background(), uuid.New(), decimal.NewFromInt(10), "tx-1")
	assert.ErrorIs(t, err, repository.ErrWalletNotFound)

	walletID := testutil.SeedWallet(t, pool, decimal.NewFromInt(100))

	// Zero amount
	_, err = repo.Post(context.Background(), walletID, decimal.Zero, "tx-2")
	assert.ErrorIs(t, err, repository.ErrInvalidAmount)

	// Debit past zero
	_, err = repo.Post(context.Background(), walletID, decimal.NewFromInt(-101), "tx-3")
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)

	// Valid debit writes a movement with consistent before/after
	mv, err := repo.Post(context.Background(), walletID, decimal.NewFromInt(-40), "tx-4")
	assert.NoError(t, err)
	assert.True(t, mv.BalanceBefore.Equal(decimal.NewFromInt(100)))
	assert.True(t, mv.BalanceAfter.Equal(decimal.NewFromInt(60)))
	assert.True(t, mv.BalanceAfter.Equal(mv.BalanceBefore.Add(mv.Amount)))

	balance, err := repo.GetBalance(context.Background(), walletID)
	assert.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(60)))
}

func TestPost_InactiveWallet(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewWalletPGRepository(pool, testLogger)

	walletID := testutil.SeedWallet(t, pool, decimal.NewFromInt(100))
	_, err := pool.Exec(context.Background(), `UPDATE wallets SET active = false WHERE id = $1`, walletID)
	assert.NoError(t, err)

	_, err = repo.Post(context.Background(), walletID, decimal.NewFromInt(10), "tx-1")
	assert.ErrorIs(t, err, repository.ErrWalletInactive)
}

func TestPost_ConcurrentCredits(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewWalletPGRepository(pool, testLogger)
	walletID := testutil.SeedWallet(t, pool, decimal.Zero)

	var wg sync.WaitGroup
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Post(context.Background(), walletID, decimal.NewFromInt(1), "credit")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	balance, err := repo.GetBalance(context.Background(), walletID)
	assert.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(500)))

	// Every movement pairs with exactly one ledger transaction
	var txCount, mvCount int
	assert.NoError(t, pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM ledger_transactions WHERE wallet_id = $1`, walletID).Scan(&txCount))
	assert.NoError(t, pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM wallet_movements WHERE wallet_id = $1`, walletID).Scan(&mvCount))
	assert.Equal(t, 500, txCount)
	assert.Equal(t, 500, mvCount)
}

func TestPostPair_Atomic(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewWalletPGRepository(pool, testLogger)

	from := testutil.SeedWallet(t, pool, decimal.NewFromInt(100))
	to := testutil.SeedWallet(t, pool, decimal.NewFromInt(5))

	debitMv, creditMv, err := repo.PostPair(context.Background(),
		from, to, decimal.NewFromInt(-30), decimal.NewFromInt(30), "transfer-1")
	assert.NoError(t, err)
	assert.True(t, debitMv.BalanceAfter.Equal(decimal.NewFromInt(70)))
	assert.True(t, creditMv.BalanceAfter.Equal(decimal.NewFromInt(35)))

	// Conservation: the two legs of a pure transfer sum to zero
	var sum decimal.Decimal
	assert.NoError(t, pool.QueryRow(context.Background(),
		`SELECT SUM(amount) FROM ledger_transactions WHERE correlation_key = 'transfer-1'`).Scan(&sum))
	assert.True(t, sum.IsZero())
}

func TestPostPair_FailsBothLegs(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewWalletPGRepository(pool, testLogger)

	from := testutil.SeedWallet(t, pool, decimal.NewFromInt(10))
	to := testutil.SeedWallet(t, pool, decimal.NewFromInt(0))

	_, _, err := repo.PostPair(context.Background(),
		from, to, decimal.NewFromInt(-50), decimal.NewFromInt(50), "transfer-2")
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)

	// Neither leg applied
	fromBalance, _ := repo.GetBalance(context.Background(), from)
	toBalance, _ := repo.GetBalance(context.Background(), to)
	assert.True(t, fromBalance.Equal(decimal.NewFromInt(10)))
	assert.True(t, toBalance.Equal(decimal.NewFromInt(0)))

	var count int
	assert.NoError(t, pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM ledger_transactions WHERE correlation_key = 'transfer-2'`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestCreateWallet_DuplicateOwnerCurrency(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewWalletPGRepository(pool, testLogger)

	ownerID := uuid.New()
	_, err := repo.CreateWallet(context.Background(), ownerID, "USD")
	assert.NoError(t, err)
	_, err = repo.CreateWallet(context.Background(), ownerID, "USD")
	assert.ErrorIs(t, err, repository.ErrWalletAlreadyExist)
	_, err = repo.CreateWallet(context.Background(), ownerID, "EUR")
	assert.NoError(t, err)
}

func TestAvailableBalance(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	walletRepo := repository.NewWalletPGRepository(pool, testLogger)
	lockRepo := repository.NewLockPGRepository(pool, testLogger)

	walletID := testutil.SeedWallet(t, pool, decimal.NewFromInt(150))

	_, err := lockRepo.Reserve(context.Background(), walletID, decimal.NewFromInt(100), testTTL)
	assert.NoError(t, err)

	balance, reserved, err := walletRepo.AvailableBalance(context.Background(), walletID)
	assert.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(150)))
	assert.True(t, reserved.Equal(decimal.NewFromInt(100)))
}
