package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"vaultpay/internal/models"
	"vaultpay/internal/payments"
	"vaultpay/internal/repository"

	"github.com/google/uuid"
)

var ErrInvalidSignature = errors.New("webhook signature verification failed")

type WebhookRepository interface {
	Insert(ctx context.Context, e *models.WebhookEvent) error
	SetStatus(ctx context.Context, id uuid.UUID, status models.WebhookStatus, paymentID *uuid.UUID, lastError *string) error
	IncrementRetry(ctx context.Context, id uuid.UUID) (int, error)
}

// PaymentResolver is the slice of the orchestrator that webhook dispatch
// needs: find the payment behind an order reference and resolve it.
type PaymentResolver interface {
	GetByProviderOrderID(ctx context.Context, providerName, orderID string) (*models.ExternalPayment, error)
	Confirm(ctx context.Context, paymentID uuid.UUID, providerStatus string) (*models.ExternalPayment, error)
	Fail(ctx context.Context, paymentID uuid.UUID, reason string) error
}

type AdmitResult struct {
	Accepted  bool      `json:"accepted"`
	Duplicate bool      `json:"duplicate"`
	RecordID  uuid.UUID `json:"webhookRecordId"`
}

// Ingestor admits provider callbacks exactly once. Everything behind the
// duplicate check assumes the event is being seen for the first time.
type Ingestor struct {
	repo       WebhookRepository
	resolver   PaymentResolver
	secret     string
	maxRetries int
	logger     *slog.Logger
}

func NewIngestor(repo WebhookRepository, resolver PaymentResolver, secret string, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		repo:       repo,
		resolver:   resolver,
		secret:     secret,
		maxRetries: 3,
		logger:     logger,
	}
}

// Admit verifies, deduplicates and persists the event, then dispatches it
// to the payment it resolves. The unique (provider, event_id) constraint
// is the idempotency boundary: a duplicate never reaches business logic.
func (i *Ingestor) Admit(ctx context.Context, providerName string, event *NormalizedEvent, rawPayload []byte, signature string) (*AdmitResult, error) {
	var signatureValid *bool
	if i.secret != "" {
		valid := VerifySignature(i.secret, signature, rawPayload)
		if !valid {
			i.logger.Warn("Rejected webhook with bad signature",
				slog.String("provider", providerName),
				slog.String("event_id", event.EventID),
			)
			return nil, ErrInvalidSignature
		}
		signatureValid = &valid
	}

	record := &models.WebhookEvent{
		ID:             uuid.New(),
		Provider:       providerName,
		EventID:        event.EventID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(rawPayload),
		SignatureValid: signatureValid,
	}
	if err := i.repo.Insert(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicateEvent) {
			i.logger.Info("Duplicate webhook absorbed",
				slog.String("provider", providerName),
				slog.String("event_id", event.EventID),
			)
			return &AdmitResult{Accepted: false, Duplicate: true}, nil
		}
		return nil, err
	}

	i.process(ctx, record, event)
	return &AdmitResult{Accepted: true, RecordID: record.ID}, nil
}

func (i *Ingestor) process(ctx context.Context, record *models.WebhookEvent, event *NormalizedEvent) {
	var lastErr error
	for attempt := 0; attempt <= i.maxRetries; attempt++ {
		status, paymentID, err := i.dispatch(ctx, record, event)
		if err == nil {
			if setErr := i.repo.SetStatus(ctx, record.ID, status, paymentID, nil); setErr != nil {
				i.logger.Error("Failed to record webhook outcome",
					slog.String("webhook_id", record.ID.String()),
					slog.Any("err", setErr),
				)
			}
			return
		}
		lastErr = err
		i.logger.Warn("Webhook dispatch failed",
			slog.String("webhook_id", record.ID.String()),
			slog.Int("attempt", attempt+1),
			slog.Any("err", err),
		)
		if _, retryErr := i.repo.IncrementRetry(ctx, record.ID); retryErr != nil {
			break
		}
	}

	msg := lastErr.Error()
	if err := i.repo.SetStatus(ctx, record.ID, models.WebhookStatusFailed, nil, &msg); err != nil {
		i.logger.Error("Failed to mark webhook failed",
			slog.String("webhook_id", record.ID.String()),
			slog.Any("err", err),
		)
	}
}

// dispatch routes the event to the orchestrator. Provider-reported
// inconsistencies resolve to processed: the alert is the orchestrator's
// side effect, not a reason to retry the event.
func (i *Ingestor) dispatch(ctx context.Context, record *models.WebhookEvent, event *NormalizedEvent) (models.WebhookStatus, *uuid.UUID, error) {
	payment, err := i.resolver.GetByProviderOrderID(ctx, record.Provider, event.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			i.logger.Info("Webhook ignored: no matching payment",
				slog.String("provider", record.Provider),
				slog.String("order_id", event.OrderID),
			)
			return models.WebhookStatusIgnored, nil, nil
		}
		return "", nil, err
	}

	switch {
	case event.Success():
		_, err := i.resolver.Confirm(ctx, payment.ID, event.Status)
		if err != nil {
			if errors.Is(err, payments.ErrConsistencyAlert) {
				return models.WebhookStatusProcessed, &payment.ID, nil
			}
			return "", &payment.ID, err
		}
		return models.WebhookStatusProcessed, &payment.ID, nil
	case event.Failure():
		reason := event.Reason
		if reason == "" {
			reason = "provider reported " + event.Status
		}
		if err := i.resolver.Fail(ctx, payment.ID, reason); err != nil {
			return "", &payment.ID, err
		}
		return models.WebhookStatusProcessed, &payment.ID, nil
	default:
		i.logger.Info("Webhook ignored: unhandled status",
			slog.String("provider", record.Provider),
			slog.String("status", event.Status),
		)
		return models.WebhookStatusIgnored, &payment.ID, nil
	}
}
