package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// SeedWallet inserts a funded wallet directly, bypassing the ledger. Only
// for test setup; production balances move through movements exclusively.
func SeedWallet(t *testing.T, pool *pgxpool.Pool, balance decimal.Decimal) uuid.UUID {
	t.Helper()
	walletID := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO wallets (id, owner_id, currency, balance, active) VALUES ($1, $2, 'USD', $3, true)`,
		walletID, uuid.New(), balance)
	require.NoError(t, err)
	return walletID
}

// SeedWalletFor is SeedWallet with a fixed owner and currency.
func SeedWalletFor(t *testing.T, pool *pgxpool.Pool, ownerID uuid.UUID, currency string, balance decimal.Decimal) uuid.UUID {
	t.Helper()
	walletID := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO wallets (id, owner_id, currency, balance, active) VALUES ($1, $2, $3, $4, true)`,
		walletID, ownerID, currency, balance)
	require.NoError(t, err)
	return walletID
}
