// Package provider implements the client side of the external settlement
// provider contract: create a payable order, cancel an order. The provider
// API itself is out of scope; this is only what the orchestrator consumes.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ErrTimeout marks an indeterminate outcome: the order may or may not
// exist on the provider side. Callers must leave the payment state alone
// and let the expiry sweep or manual reconciliation resolve it.
var ErrTimeout = errors.New("provider request timed out")

// APIError is a definitive HTTP-level rejection from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

type CreateOrderRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Reference   string          `json:"reference"`
	Description string          `json:"description,omitempty"`
	ReturnURL   string          `json:"return_url,omitempty"`
}

type Order struct {
	OrderID string `json:"order_id"`
	PayURL  string `json:"pay_url"`
}

type Client interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *HTTPClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders", req, &order); err != nil {
		return nil, err
	}
	if order.OrderID == "" {
		return nil, &APIError{StatusCode: http.StatusOK, Body: "response missing order_id"}
	}
	return &order, nil
}

func (c *HTTPClient) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/orders/"+orderID, nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			c.logger.Warn("Provider request timed out",
				slog.String("method", method),
				slog.String("endpoint", endpoint),
			)
			return ErrTimeout
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("Provider request rejected",
			slog.String("method", method),
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
		)
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode provider response: %w", err)
		}
	}
	return nil
}

func isClientTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
