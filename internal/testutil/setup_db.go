package testutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// SetupTestDB starts a Postgres container, waits for readiness, applies
// the schema and returns the pool with a teardown func.
func SetupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	ctx := context.Background()
	postgresC, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("vaultpay"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("secret"),
	)
	assert.NoError(t, err)

	dbURL, err := postgresC.ConnectionString(ctx, "sslmode=disable")
	assert.NoError(t, err)

	var pool *pgxpool.Pool
	for i := 0; i < 20; i++ {
		pool, err = pgxpool.New(ctx, dbURL)
		if err == nil {
			err = pool.Ping(ctx)
			if err == nil {
				break
			}
			pool.Close()
		}
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "[testutil] Postgres did not become ready in time. Container logs:")
		logs, logErr := postgresC.Logs(ctx)
		if logErr == nil {
			io.Copy(os.Stderr, logs)
		} else {
			fmt.Fprintln(os.Stderr, "[testutil] Failed to get container logs:", logErr)
		}
	}
	assert.NoError(t, err, "Postgres did not become ready in time")

	_, err = pool.Exec(ctx, Schema)
	assert.NoError(t, err)

	return pool, func() {
		pool.Close()
		postgresC.Terminate(ctx)
	}
}

// Schema is the full persisted state layout. Only wallets.balance and the
// lock/payment/webhook status columns are ever updated in place.
const Schema = `
CREATE TABLE IF NOT EXISTS wallets (
	id UUID PRIMARY KEY,
	owner_id UUID NOT NULL,
	currency CHAR(3) NOT NULL,
	balance DECIMAL(20, 2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	active BOOLEAN NOT NULL DEFAULT TRUE,
	UNIQUE (owner_id, currency)
);

CREATE TABLE IF NOT EXISTS ledger_transactions (
	id BIGSERIAL PRIMARY KEY,
	wallet_id UUID NOT NULL REFERENCES wallets(id),
	amount DECIMAL(20, 2) NOT NULL CHECK (amount <> 0),
	correlation_key TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ledger_transactions_wallet ON ledger_transactions(wallet_id);
CREATE INDEX IF NOT EXISTS idx_ledger_transactions_correlation ON ledger_transactions(correlation_key);

CREATE TABLE IF NOT EXISTS wallet_movements (
	id BIGSERIAL PRIMARY KEY,
	transaction_id BIGINT NOT NULL REFERENCES ledger_transactions(id),
	wallet_id UUID NOT NULL REFERENCES wallets(id),
	amount DECIMAL(20, 2) NOT NULL,
	balance_before DECIMAL(20, 2) NOT NULL,
	balance_after DECIMAL(20, 2) NOT NULL CHECK (balance_after = balance_before + amount),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_wallet_movements_wallet ON wallet_movements(wallet_id);

CREATE TABLE IF NOT EXISTS balance_locks (
	id UUID PRIMARY KEY,
	wallet_id UUID NOT NULL REFERENCES wallets(id),
	amount DECIMAL(20, 2) NOT NULL CHECK (amount > 0),
	currency CHAR(3) NOT NULL,
	status VARCHAR(16) NOT NULL CHECK (status IN ('active', 'executed', 'released', 'expired')),
	reason TEXT,
	expires_at TIMESTAMPTZ NOT NULL,
	balance_before DECIMAL(20, 2),
	balance_after DECIMAL(20, 2),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_balance_locks_wallet_active ON balance_locks(wallet_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS external_payments (
	id UUID PRIMARY KEY,
	owner_id UUID NOT NULL,
	wallet_id UUID NOT NULL REFERENCES wallets(id),
	amount DECIMAL(20, 2) NOT NULL CHECK (amount > 0),
	currency CHAR(3) NOT NULL,
	commission DECIMAL(20, 2) NOT NULL DEFAULT 0,
	converted_amount DECIMAL(20, 2),
	converted_currency CHAR(3),
	lock_id UUID REFERENCES balance_locks(id),
	recipient_wallet_id UUID REFERENCES wallets(id),
	provider VARCHAR(64) NOT NULL,
	provider_order_id TEXT,
	provider_pay_url TEXT,
	provider_status TEXT,
	status VARCHAR(32) NOT NULL CHECK (status IN
		('created', 'locked', 'pending_external', 'settled', 'failed', 'cancelled', 'expired')),
	idempotency_key TEXT,
	error_reason TEXT,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_external_payments_idempotency
	ON external_payments(owner_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_external_payments_provider_order
	ON external_payments(provider, provider_order_id) WHERE provider_order_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_external_payments_expiry
	ON external_payments(expires_at) WHERE status IN ('locked', 'pending_external');

CREATE TABLE IF NOT EXISTS webhook_events (
	id UUID PRIMARY KEY,
	provider VARCHAR(64) NOT NULL,
	event_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload JSONB NOT NULL,
	signature_valid BOOLEAN,
	status VARCHAR(16) NOT NULL DEFAULT 'received' CHECK (status IN
		('received', 'processing', 'processed', 'failed', 'ignored')),
	retry_count INT NOT NULL DEFAULT 0,
	payment_id UUID REFERENCES external_payments(id),
	last_error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (provider, event_id)
);
`
