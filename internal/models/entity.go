package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Wallet struct {
	ID       uuid.UUID       `db:"id" json:"walletId"`
	OwnerID  uuid.UUID       `db:"owner_id" json:"ownerId"`
	Currency string          `db:"currency" json:"currency"`
	Balance  decimal.Decimal `db:"balance" json:"balance"`
	Active   bool            `db:"active" json:"active"`
}

// LedgerTransaction is a signed monetary event against one wallet.
// Transactions belonging to one logical transfer share a correlation key.
type LedgerTransaction struct {
	ID             int64           `db:"id"`
	WalletID       uuid.UUID       `db:"wallet_id"`
	Amount         decimal.Decimal `db:"amount"`
	CorrelationKey string          `db:"correlation_key"`
	CreatedAt      time.Time       `db:"created_at"`
}

// WalletMovement is the immutable audit row written alongside every
// LedgerTransaction. balance_after = balance_before + amount always holds.
type WalletMovement struct {
	ID            int64           `db:"id"`
	TransactionID int64           `db:"transaction_id"`
	WalletID      uuid.UUID       `db:"wallet_id"`
	Amount        decimal.Decimal `db:"amount"`
	BalanceBefore decimal.Decimal `db:"balance_before"`
	BalanceAfter  decimal.Decimal `db:"balance_after"`
	CreatedAt     time.Time       `db:"created_at"`
}

// BalanceLock reserves funds against a wallet without moving money.
// The before/after balances are filled in when the lock is executed so a
// repeated execute can return the original result.
type BalanceLock struct {
	ID            uuid.UUID           `db:"id" json:"lockId"`
	WalletID      uuid.UUID           `db:"wallet_id" json:"walletId"`
	Amount        decimal.Decimal     `db:"amount" json:"amount"`
	Currency      string              `db:"currency" json:"currency"`
	Status        LockStatus          `db:"status" json:"status"`
	Reason        *string             `db:"reason" json:"reason,omitempty"`
	ExpiresAt     time.Time           `db:"expires_at" json:"expiresAt"`
	BalanceBefore decimal.NullDecimal `db:"balance_before" json:"-"`
	BalanceAfter  decimal.NullDecimal `db:"balance_after" json:"-"`
	CreatedAt     time.Time           `db:"created_at" json:"createdAt"`
}

type ExternalPayment struct {
	ID                uuid.UUID           `db:"id" json:"paymentId"`
	OwnerID           uuid.UUID           `db:"owner_id" json:"ownerId"`
	WalletID          uuid.UUID           `db:"wallet_id" json:"walletId"`
	Amount            decimal.Decimal     `db:"amount" json:"amount"`
	Currency          string              `db:"currency" json:"currency"`
	Commission        decimal.Decimal     `db:"commission" json:"commission"`
	ConvertedAmount   decimal.NullDecimal `db:"converted_amount" json:"convertedAmount,omitempty"`
	ConvertedCurrency *string             `db:"converted_currency" json:"convertedCurrency,omitempty"`
	LockID            *uuid.UUID          `db:"lock_id" json:"lockId,omitempty"`
	RecipientWalletID *uuid.UUID          `db:"recipient_wallet_id" json:"recipientWalletId,omitempty"`
	Provider          string              `db:"provider" json:"provider"`
	ProviderOrderID   *string             `db:"provider_order_id" json:"providerOrderId,omitempty"`
	ProviderPayURL    *string             `db:"provider_pay_url" json:"providerPayUrl,omitempty"`
	ProviderStatus    *string             `db:"provider_status" json:"providerStatus,omitempty"`
	Status            PaymentStatus       `db:"status" json:"status"`
	IdempotencyKey    *string             `db:"idempotency_key" json:"-"`
	ErrorReason       *string             `db:"error_reason" json:"errorReason,omitempty"`
	ExpiresAt         time.Time           `db:"expires_at" json:"expiresAt"`
	CreatedAt         time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time           `db:"updated_at" json:"updatedAt"`
}

type WebhookEvent struct {
	ID             uuid.UUID       `db:"id" json:"webhookRecordId"`
	Provider       string          `db:"provider" json:"provider"`
	EventID        string          `db:"event_id" json:"eventId"`
	EventType      string          `db:"event_type" json:"eventType"`
	Payload        json.RawMessage `db:"payload" json:"-"`
	SignatureValid *bool           `db:"signature_valid" json:"signatureValid,omitempty"`
	Status         WebhookStatus   `db:"status" json:"status"`
	RetryCount     int             `db:"retry_count" json:"retryCount"`
	PaymentID      *uuid.UUID      `db:"payment_id" json:"paymentId,omitempty"`
	LastError      *string         `db:"last_error" json:"lastError,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updatedAt"`
}
