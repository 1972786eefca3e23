package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreatePaymentRequest struct {
	WalletID          uuid.UUID       `json:"walletId" binding:"required"`
	Amount            decimal.Decimal `json:"amount" binding:"required"`
	Currency          string          `json:"currency" binding:"required,len=3"`
	Provider          string          `json:"provider" binding:"required"`
	RecipientWalletID *uuid.UUID      `json:"recipientWalletId,omitempty"`
	Description       string          `json:"description,omitempty"`
}

type InitiatePaymentRequest struct {
	ReturnURL   string `json:"returnUrl,omitempty"`
	Description string `json:"description,omitempty"`
}

type CancelPaymentRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type CreateWalletRequest struct {
	OwnerID  uuid.UUID `json:"ownerId" binding:"required"`
	Currency string    `json:"currency" binding:"required,len=3"`
}

type AvailableBalanceResponse struct {
	WalletID         uuid.UUID       `json:"walletId"`
	Balance          decimal.Decimal `json:"balance"`
	Reserved         decimal.Decimal `json:"reserved"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
}
