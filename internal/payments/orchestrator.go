package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vaultpay/internal/events"
	"vaultpay/internal/ledger"
	"vaultpay/internal/models"
	"vaultpay/internal/provider"
	"vaultpay/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrConsistencyAlert is returned when an external confirmation contradicts
// a terminal local state. The funds were already released; nothing is
// auto-corrected, an operator has to reconcile with the provider.
var ErrConsistencyAlert = errors.New("provider result contradicts terminal payment state")

type PaymentRepository interface {
	Create(ctx context.Context, p *models.ExternalPayment) error
	Get(ctx context.Context, paymentID uuid.UUID) (*models.ExternalPayment, error)
	GetByIdempotencyKey(ctx context.Context, ownerID uuid.UUID, key string) (*models.ExternalPayment, error)
	GetByProviderOrderID(ctx context.Context, providerName, orderID string) (*models.ExternalPayment, error)
	MarkLocked(ctx context.Context, paymentID, lockID uuid.UUID) error
	MarkPendingExternal(ctx context.Context, paymentID uuid.UUID, orderID, payURL string) error
	MarkTerminal(ctx context.Context, paymentID uuid.UUID, to models.PaymentStatus, reason string) error
	ConfirmSettlement(ctx context.Context, paymentID uuid.UUID, providerStatus string) (*repository.SettlementResult, error)
	SweepExpired(ctx context.Context) ([]uuid.UUID, error)
}

type LockManager interface {
	Reserve(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (*models.BalanceLock, error)
	Release(ctx context.Context, lockID uuid.UUID, reason string) error
}

type Config struct {
	CommissionRate decimal.Decimal // fraction of amount, e.g. 0.015
	PaymentTTL     time.Duration
}

// Orchestrator owns the payment state machine. It is the only component
// that triggers settlement writes against the ledger, and every transition
// goes through a conditional update so concurrent calls for the same
// payment resolve to exactly one winner.
type Orchestrator struct {
	repo     PaymentRepository
	locks    LockManager
	wallets  *ledger.Engine
	provider provider.Client
	emitter  events.Emitter
	cfg      Config
	logger   *slog.Logger
}

func NewOrchestrator(repo PaymentRepository, locks LockManager, wallets *ledger.Engine, pc provider.Client, emitter events.Emitter, cfg Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		repo:     repo,
		locks:    locks,
		wallets:  wallets,
		provider: pc,
		emitter:  emitter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Create persists the payment and reserves amount + commission. A failed
// reservation leaves the payment in a terminal failed state with no lock.
// An idempotency key replay returns the original payment untouched.
func (o *Orchestrator) Create(ctx context.Context, ownerID uuid.UUID, req models.CreatePaymentRequest, idempotencyKey string) (*models.ExternalPayment, bool, error) {
	if !req.Amount.IsPositive() {
		return nil, false, repository.ErrInvalidAmount
	}

	wallet, err := o.wallets.GetWallet(ctx, req.WalletID)
	if err != nil {
		return nil, false, err
	}
	if !wallet.Active {
		return nil, false, repository.ErrWalletInactive
	}
	if wallet.OwnerID != ownerID {
		return nil, false, repository.ErrWalletNotFound
	}
	if wallet.Currency != req.Currency {
		return nil, false, repository.ErrCurrencyMismatch
	}
	if req.RecipientWalletID != nil {
		recipient, err := o.wallets.GetWallet(ctx, *req.RecipientWalletID)
		if err != nil {
			return nil, false, fmt.Errorf("recipient: %w", err)
		}
		if recipient.Currency != req.Currency {
			return nil, false, repository.ErrCurrencyMismatch
		}
	}

	p := &models.ExternalPayment{
		ID:                uuid.New(),
		OwnerID:           ownerID,
		WalletID:          req.WalletID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Commission:        req.Amount.Mul(o.cfg.CommissionRate).Round(2),
		RecipientWalletID: req.RecipientWalletID,
		Provider:          req.Provider,
		Status:            models.PaymentStatusCreated,
		ExpiresAt:         time.Now().UTC().Add(o.cfg.PaymentTTL),
	}
	if idempotencyKey != "" {
		p.IdempotencyKey = &idempotencyKey
	}

	if err := o.repo.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrIdempotentReplay) && idempotencyKey != "" {
			existing, getErr := o.repo.GetByIdempotencyKey(ctx, ownerID, idempotencyKey)
			if getErr != nil {
				return nil, false, getErr
			}
			o.logger.Info("Create replayed from idempotency key",
				slog.String("payment_id", existing.ID.String()),
				slog.String("idempotency_key", idempotencyKey),
			)
			return existing, false, nil
		}
		return nil, false, err
	}

	lock, err := o.locks.Reserve(ctx, p.WalletID, p.Amount.Add(p.Commission))
	if err != nil {
		reason := err.Error()
		if markErr := o.repo.MarkTerminal(ctx, p.ID, models.PaymentStatusFailed, reason); markErr != nil {
			o.logger.Error("Failed to mark payment failed after reservation failure",
				slog.String("payment_id", p.ID.String()),
				slog.Any("err", markErr),
			)
		}
		p.Status = models.PaymentStatusFailed
		p.ErrorReason = &reason
		o.emit(events.TypePaymentFailed, p, reason)
		return p, true, err
	}

	if err := o.repo.MarkLocked(ctx, p.ID, lock.ID); err != nil {
		// The lock exists but the payment never reached locked; give the
		// funds back rather than strand them until lock expiry.
		if relErr := o.locks.Release(ctx, lock.ID, "mark locked failed"); relErr != nil {
			o.logger.Error("Failed to release orphaned lock",
				slog.String("lock_id", lock.ID.String()),
				slog.Any("err", relErr),
			)
		}
		return nil, false, err
	}
	p.Status = models.PaymentStatusLocked
	p.LockID = &lock.ID

	o.logger.Info("Payment created and funds locked",
		slog.String("payment_id", p.ID.String()),
		slog.String("lock_id", lock.ID.String()),
		slog.Any("amount", p.Amount),
		slog.Any("commission", p.Commission),
	)
	o.emit(events.TypePaymentLocked, p, "")
	return p, true, nil
}

// Initiate asks the provider for a payable order. Calling it on a payment
// that is already pending_external returns the cached order.
func (o *Orchestrator) Initiate(ctx context.Context, paymentID uuid.UUID, req models.InitiatePaymentRequest) (*models.ExternalPayment, error) {
	p, err := o.repo.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status == models.PaymentStatusPendingExternal {
		return p, nil
	}
	if p.Status != models.PaymentStatusLocked {
		return nil, repository.ErrInvalidTransition
	}

	order, err := o.provider.CreateOrder(ctx, provider.CreateOrderRequest{
		Amount:      p.Amount,
		Currency:    p.Currency,
		Reference:   p.ID.String(),
		Description: req.Description,
		ReturnURL:   req.ReturnURL,
	})
	if err != nil {
		if errors.Is(err, provider.ErrTimeout) {
			// Indeterminate: the order may exist. Leave the payment in
			// locked for the sweep or a manual retry to resolve.
			o.logger.Warn("Provider create order timed out",
				slog.String("payment_id", p.ID.String()),
			)
			return nil, err
		}
		reason := err.Error()
		if markErr := o.repo.MarkTerminal(ctx, p.ID, models.PaymentStatusFailed, reason); markErr != nil {
			o.logger.Error("Failed to mark payment failed after provider error",
				slog.String("payment_id", p.ID.String()),
				slog.Any("err", markErr),
			)
			return nil, markErr
		}
		p.Status = models.PaymentStatusFailed
		p.ErrorReason = &reason
		o.emit(events.TypePaymentFailed, p, reason)
		return nil, err
	}

	if err := o.repo.MarkPendingExternal(ctx, p.ID, order.OrderID, order.PayURL); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			// Lost the race against cancel/expire. The local state won;
			// undo the provider side best-effort.
			if cancelErr := o.provider.CancelOrder(ctx, order.OrderID); cancelErr != nil {
				o.logger.Error("Failed to cancel provider order after losing transition race",
					slog.String("payment_id", p.ID.String()),
					slog.String("order_id", order.OrderID),
					slog.Any("err", cancelErr),
				)
			}
		}
		return nil, err
	}
	p.Status = models.PaymentStatusPendingExternal
	p.ProviderOrderID = &order.OrderID
	p.ProviderPayURL = &order.PayURL

	o.logger.Info("Payment initiated with provider",
		slog.String("payment_id", p.ID.String()),
		slog.String("order_id", order.OrderID),
	)
	o.emit(events.TypePaymentInitiated, p, "")
	return p, nil
}

// Confirm settles a payment after a successful provider confirmation:
// the lock is executed, the paired credit posted when an internal
// recipient exists, and the payment moves to settled, all at most once.
func (o *Orchestrator) Confirm(ctx context.Context, paymentID uuid.UUID, providerStatus string) (*models.ExternalPayment, error) {
	res, err := o.repo.ConfirmSettlement(ctx, paymentID, providerStatus)
	if err == nil {
		if res.AlreadySettled {
			o.logger.Info("Confirm skipped: already settled",
				slog.String("payment_id", paymentID.String()),
			)
			return res.Payment, nil
		}
		o.logger.Info("Payment settled",
			slog.String("payment_id", paymentID.String()),
			slog.Any("balance_after", res.Execution.BalanceAfter),
		)
		o.emit(events.TypePaymentSettled, res.Payment, "")
		return res.Payment, nil
	}

	if errors.Is(err, repository.ErrInvalidTransition) {
		p, getErr := o.repo.Get(ctx, paymentID)
		if getErr != nil {
			return nil, getErr
		}
		if p.Status.Terminal() {
			// The provider says paid, our side already gave the funds
			// back. Escalate, never silently re-settle.
			o.emit(events.TypeConsistencyAlert, p,
				fmt.Sprintf("provider reported success but payment is %s", p.Status))
			return p, ErrConsistencyAlert
		}
		return p, repository.ErrInvalidTransition
	}
	return nil, err
}

// Fail resolves a payment after a provider failure report. A failure
// arriving for an already settled payment is ignored: settled wins.
func (o *Orchestrator) Fail(ctx context.Context, paymentID uuid.UUID, reason string) error {
	err := o.repo.MarkTerminal(ctx, paymentID, models.PaymentStatusFailed, reason)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			p, getErr := o.repo.Get(ctx, paymentID)
			if getErr != nil {
				return getErr
			}
			if p.Status == models.PaymentStatusSettled {
				o.logger.Warn("Ignoring failure report for settled payment",
					slog.String("payment_id", paymentID.String()),
					slog.String("reason", reason),
				)
				return nil
			}
			// Already failed/cancelled/expired: nothing left to do.
			return nil
		}
		return err
	}

	p, getErr := o.repo.Get(ctx, paymentID)
	if getErr == nil {
		o.emit(events.TypePaymentFailed, p, reason)
	}
	o.logger.Info("Payment failed",
		slog.String("payment_id", paymentID.String()),
		slog.String("reason", reason),
	)
	return nil
}

// Cancel is user or admin initiated. The provider order is cancelled best
// effort; the authoritative transition is local.
func (o *Orchestrator) Cancel(ctx context.Context, paymentID uuid.UUID, reason string) (*models.ExternalPayment, error) {
	p, err := o.repo.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PaymentStatusLocked && p.Status != models.PaymentStatusPendingExternal {
		return p, repository.ErrInvalidTransition
	}

	if p.ProviderOrderID != nil {
		if err := o.provider.CancelOrder(ctx, *p.ProviderOrderID); err != nil {
			o.logger.Warn("Best-effort provider cancel failed",
				slog.String("payment_id", p.ID.String()),
				slog.String("order_id", *p.ProviderOrderID),
				slog.Any("err", err),
			)
		}
	}

	if err := o.repo.MarkTerminal(ctx, paymentID, models.PaymentStatusCancelled, reason); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			// Lost the race, most likely against a confirming webhook.
			current, getErr := o.repo.Get(ctx, paymentID)
			if getErr != nil {
				return nil, getErr
			}
			return current, repository.ErrInvalidTransition
		}
		return nil, err
	}
	p.Status = models.PaymentStatusCancelled
	p.ErrorReason = &reason

	o.logger.Info("Payment cancelled",
		slog.String("payment_id", paymentID.String()),
		slog.String("reason", reason),
	)
	o.emit(events.TypePaymentCancelled, p, reason)
	return p, nil
}

func (o *Orchestrator) Get(ctx context.Context, paymentID uuid.UUID) (*models.ExternalPayment, error) {
	return o.repo.Get(ctx, paymentID)
}

func (o *Orchestrator) GetByProviderOrderID(ctx context.Context, providerName, orderID string) (*models.ExternalPayment, error) {
	return o.repo.GetByProviderOrderID(ctx, providerName, orderID)
}

// SweepExpired expires overdue payments and releases their locks.
func (o *Orchestrator) SweepExpired(ctx context.Context) (int, error) {
	expired, err := o.repo.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range expired {
		o.logger.Info("Payment expired", slog.String("payment_id", id.String()))
		if p, getErr := o.repo.Get(ctx, id); getErr == nil {
			o.emit(events.TypePaymentExpired, p, "payment expired")
		}
	}
	return len(expired), nil
}

func (o *Orchestrator) emit(t events.Type, p *models.ExternalPayment, detail string) {
	o.emitter.Emit(events.Event{
		Type:      t,
		PaymentID: p.ID,
		OwnerID:   p.OwnerID,
		Detail:    detail,
	})
}
