// Package events carries the outbound side effects of settlement: after a
// successful state transition the orchestrator emits an event here instead
// of calling the notification collaborator directly, so a slow or broken
// notifier can never affect money movement.
package events

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypePaymentLocked    Type = "payment.locked"
	TypePaymentInitiated Type = "payment.initiated"
	TypePaymentSettled   Type = "payment.settled"
	TypePaymentFailed    Type = "payment.failed"
	TypePaymentCancelled Type = "payment.cancelled"
	TypePaymentExpired   Type = "payment.expired"

	// TypeConsistencyAlert flags a webhook that contradicts a terminal
	// local state. Never auto-corrected; an operator has to look.
	TypeConsistencyAlert Type = "payment.consistency_alert"
)

type Event struct {
	Type      Type
	PaymentID uuid.UUID
	OwnerID   uuid.UUID
	Detail    string
	At        time.Time
}

type Emitter interface {
	Emit(e Event)
}

// AsyncEmitter hands events to subscribers over a buffered channel and
// never blocks the caller: when the buffer is full the event is dropped
// and counted, which is acceptable for notifications but logged loudly.
type AsyncEmitter struct {
	ch     chan Event
	logger *slog.Logger
}

func NewAsyncEmitter(buffer int, logger *slog.Logger) *AsyncEmitter {
	return &AsyncEmitter{
		ch:     make(chan Event, buffer),
		logger: logger,
	}
}

func (a *AsyncEmitter) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if e.Type == TypeConsistencyAlert {
		a.logger.Error("CONSISTENCY ALERT",
			slog.String("payment_id", e.PaymentID.String()),
			slog.String("detail", e.Detail),
		)
	}
	select {
	case a.ch <- e:
	default:
		a.logger.Error("Event buffer full, dropping event",
			slog.String("type", string(e.Type)),
			slog.String("payment_id", e.PaymentID.String()),
		)
	}
}

// Events exposes the stream for the notification collaborator.
func (a *AsyncEmitter) Events() <-chan Event {
	return a.ch
}
