package webhooks

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrMalformedPayload = errors.New("webhook payload is not valid JSON")
var ErrMissingEventID = errors.New("webhook payload has no event id")
var ErrMissingOrderRef = errors.New("webhook payload has no order reference")

// NormalizedEvent is the provider-independent shape handed to ingestion.
type NormalizedEvent struct {
	EventID   string
	EventType string
	OrderID   string
	Status    string
	Reason    string
}

// Success reports whether the provider considers the order paid.
func (e *NormalizedEvent) Success() bool {
	switch strings.ToLower(e.Status) {
	case "success", "succeeded", "completed", "paid", "settled":
		return true
	}
	return false
}

func (e *NormalizedEvent) Failure() bool {
	switch strings.ToLower(e.Status) {
	case "failed", "failure", "declined", "rejected", "error", "cancelled", "canceled", "expired":
		return true
	}
	return false
}

type rawEvent struct {
	EventID       string `json:"event_id"`
	ID            string `json:"id"`
	EventType     string `json:"event_type"`
	Type          string `json:"type"`
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
	ErrorMessage  string `json:"error_message"`
	Data          struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	} `json:"data"`
}

// Normalize maps a provider callback body onto NormalizedEvent. Field
// names vary between providers, so each field is resolved through a
// fallback chain: order_id, then data.order_id, then transaction_id.
func Normalize(payload []byte) (*NormalizedEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, ErrMalformedPayload
	}

	e := &NormalizedEvent{
		EventID:   firstNonEmpty(raw.EventID, raw.ID),
		EventType: firstNonEmpty(raw.EventType, raw.Type),
		OrderID:   firstNonEmpty(raw.OrderID, raw.Data.OrderID, raw.TransactionID),
		Status:    firstNonEmpty(raw.Status, raw.Data.Status),
		Reason:    firstNonEmpty(raw.Reason, raw.ErrorMessage),
	}
	if e.EventID == "" {
		return nil, ErrMissingEventID
	}
	if e.OrderID == "" {
		return nil, ErrMissingOrderRef
	}
	if e.EventType == "" {
		e.EventType = "order." + strings.ToLower(firstNonEmpty(e.Status, "unknown"))
	}
	return e, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
