package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"vaultpay/internal/models"
	"vaultpay/internal/repository"
	"vaultpay/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const testTTL = 30 * time.Minute

func TestReserve_AvailabilityCheck(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewLockPGRepository(pool, testLogger)

	walletID := testutil.SeedWallet(t, pool, decimal.NewFromInt(150))

	// Reserve 100 out of 150
	lock, err := repo.Reserve(context.Background(), walletID, decimal.NewFromInt(100), testTTL)
	assert.NoError(t, err)
	assert.Equal(t, models.LockStatusActive, lock.Status)

	// 50 remains available, 60 must be rejected
	_, err = repo.Reserve(context.Background(), walletID, decimal.NewFromInt(60), testTTL)
	assert.ErrorIs(t, err, repository.ErrInsufficientAvailable)

	// 50 fits exactly
	_, err = repo.Reserve(context.Background(), walletID, decimal.NewFromInt(50), testTTL)
	assert.NoError(t, err)

	_, err = repo.Reserve(context.Background(), uuid.New(), decimal.NewFromInt(1), testTTL)
	assert.ErrorIs(t, err, repository.ErrWalletNotFound)
}

func TestReserve_ConcurrentOverdraw(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	repo := repository.NewLockPGRepository(pool, testLogger)

	walletID := testutil.SeedWallet(t, pool, decimal.NewFromInt(100))

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Reserve(context.Background(), walletID, decimal.NewFromInt(80), testTTL)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, insufficient int
	for err := range results {
		switch {
		case err == nil:
			ok++
		default:
			assert.ErrorIs(t, err, repository.ErrInsufficientAvailable)
			insufficient++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
}

func TestExecute_DebitsOnce(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	lockRepo := repository.NewLockPGRepository(pool, testLogger)
	walletRepo := repository.NewWalletPGRepository(pool, testLogger)

	walletID := testutil.SeedWallet(t, pool, decimal.NewFromInt(150))
	lock, err := lockRepo.Reserve(context.Background(), walletID, decimal.NewFromInt(100), testTTL)
	assert.NoError(t, err)

	res, err := lockRepo.Execute(context.Background(), lock.ID, "settle-1")
	assert.NoError(t, err)
	assert.True(t, res.BalanceBefore.Equal(decimal.NewFromInt(150)))
	assert.True(t, res.BalanceAfter.Equal(decimal.NewFromInt(50)))

	// Second execute is a no-op returning the original balances
	again, err := lockRepo.Execute(context.Background(), lock.ID, "settle-1")
	assert.NoError(t, err)
	assert.True(t, again.BalanceBefore.Equal(res.BalanceBefore))
	assert.True(t, again.BalanceAfter.Equal(res.BalanceAfter))

	balance, err := walletRepo.GetBalance(context.Background(), walletID)
	assert.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(50)))

	got, err := lockRepo.Get(context.Background(), lock.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.LockStatusExecuted, got.Status)
}

func TestExecute_ConcurrentSingleDebit(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	lockRepo := repository.NewLockPGRepository(pool, testLogger)
	walletRepo := repository.NewWalletPGRepository(pool, testLogger)

	walletID := testutil.SeedWallet(t, pool, decimal.NewFromInt(100))
	lock, err := lockRepo.Reserve(context.Background(), walletID, decimal.NewFromInt(100), testTTL)
	assert.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := lockRepo.Execute(context.Background(), lock.ID, "settle-race")
			assert.NoError(t, err)
			assert.True(t, res.BalanceAfter.IsZero())
		}()
	}
	wg.Wait()

	balance, err := walletRepo.GetBalance(context.Background(), walletID)
	assert.NoError(t, err)
	assert.True(t, balance.IsZero())

	var mvCount int
	assert.NoError(t, pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM wallet_movements WHERE wallet_id = $1`, walletID).Scan(&mvCount))
	assert.Equal(t, 1, mvCount)
}

func TestRelease(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	lockRepo := repository.NewLockPGRepository(pool, testLogger)
	walletRepo := repository.NewWalletPGRepository(pool, testLogger)

	walletID := testutil.SeedWallet(t, pool, decimal.NewFromInt(100))
	lock, err := lockRepo.Reserve(context.Background(), walletID, decimal.NewFromInt(100), testTTL)
	assert.NoError(t, err)

	assert.NoError(t, lockRepo.Release(context.Background(), lock.ID, "user cancelled"))

	got, err := lockRepo.Get(context.Background(), lock.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.LockStatusReleased, got.Status)

	// Balance untouched, availability restored
	balance, reserved, err := walletRepo.AvailableBalance(context.Background(), walletID)
	assert.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)))
	assert.True(t, reserved.IsZero())

	// Releasing again is a no-op, executing afterwards is rejected
	assert.NoError(t, lockRepo.Release(context.Background(), lock.ID, "again"))
	_, err = lockRepo.Execute(context.Background(), lock.ID, "settle-x")
	assert.ErrorIs(t, err, repository.ErrLockNotActive)

	assert.ErrorIs(t, lockRepo.Release(context.Background(), uuid.New(), "missing"), repository.ErrLockNotFound)
}

func TestSweepExpired(t *testing.T) {
	pool, teardown := testutil.SetupTestDB(t)
	defer teardown()
	lockRepo := repository.NewLockPGRepository(pool, testLogger)

	walletID := testutil.SeedWallet(t, pool, decimal.NewFromInt(100))
	lock, err := lockRepo.Reserve(context.Background(), walletID, decimal.NewFromInt(100), -time.Minute)
	assert.NoError(t, err)

	n, err := lockRepo.SweepExpired(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := lockRepo.Get(context.Background(), lock.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.LockStatusExpired, got.Status)

	// An expired lock cannot be executed
	_, err = lockRepo.Execute(context.Background(), lock.ID, "late")
	assert.ErrorIs(t, err, repository.ErrLockNotActive)
}
