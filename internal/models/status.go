package models

type LockStatus string

const (
	LockStatusActive   LockStatus = "active"
	LockStatusExecuted LockStatus = "executed"
	LockStatusReleased LockStatus = "released"
	LockStatusExpired  LockStatus = "expired"
)

func (s LockStatus) Terminal() bool {
	return s != LockStatusActive
}

type PaymentStatus string

const (
	PaymentStatusCreated         PaymentStatus = "created"
	PaymentStatusLocked          PaymentStatus = "locked"
	PaymentStatusPendingExternal PaymentStatus = "pending_external"
	PaymentStatusSettled         PaymentStatus = "settled"
	PaymentStatusFailed          PaymentStatus = "failed"
	PaymentStatusCancelled       PaymentStatus = "cancelled"
	PaymentStatusExpired         PaymentStatus = "expired"
)

// paymentTransitions is the single source of truth for the payment state
// machine. A transition missing here is invalid everywhere.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusCreated:         {PaymentStatusLocked, PaymentStatusFailed},
	PaymentStatusLocked:          {PaymentStatusPendingExternal, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired},
	PaymentStatusPendingExternal: {PaymentStatusSettled, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired},
}

func (s PaymentStatus) CanTransitionTo(to PaymentStatus) bool {
	for _, next := range paymentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s PaymentStatus) Terminal() bool {
	return len(paymentTransitions[s]) == 0
}

// SourcesOf returns every status from which `to` is reachable, for use in
// conditional UPDATE ... WHERE status = ANY(...) guards.
func SourcesOf(to PaymentStatus) []PaymentStatus {
	var from []PaymentStatus
	for s, nexts := range paymentTransitions {
		for _, next := range nexts {
			if next == to {
				from = append(from, s)
			}
		}
	}
	return from
}

type WebhookStatus string

const (
	WebhookStatusReceived   WebhookStatus = "received"
	WebhookStatusProcessing WebhookStatus = "processing"
	WebhookStatusProcessed  WebhookStatus = "processed"
	WebhookStatusFailed     WebhookStatus = "failed"
	WebhookStatusIgnored    WebhookStatus = "ignored"
)
