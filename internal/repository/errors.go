package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrWalletNotFound        = errors.New("wallet not found")
	ErrWalletInactive        = errors.New("wallet is inactive")
	ErrWalletAlreadyExist    = errors.New("wallet already exists")
	ErrInvalidAmount         = errors.New("amount must not be zero")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAvailable = errors.New("insufficient available balance")
	ErrCurrencyMismatch      = errors.New("wallet currency mismatch")

	ErrLockNotFound  = errors.New("balance lock not found")
	ErrLockNotActive = errors.New("balance lock is not active")
	ErrLockExpired   = errors.New("balance lock has expired")

	ErrPaymentNotFound   = errors.New("payment not found")
	ErrInvalidTransition = errors.New("invalid payment state transition")
	ErrIdempotentReplay  = errors.New("payment already created for idempotency key")

	ErrDuplicateEvent = errors.New("webhook event already admitted")
	ErrEventNotFound  = errors.New("webhook event not found")
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsRetryable reports whether the error is a transient Postgres failure
// (serialization failure or deadlock) that the caller may retry.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
