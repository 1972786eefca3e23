package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"vaultpay/internal/models"
	"vaultpay/internal/payments"
	"vaultpay/internal/provider"
	"vaultpay/internal/repository"
	"vaultpay/internal/webhooks"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

//go:generate mockgen -source=http_handlers.go -destination=../../test/mock_services.go -package=test PaymentService,WalletService,WebhookService

type PaymentService interface {
	Create(ctx context.Context, ownerID uuid.UUID, req models.CreatePaymentRequest, idempotencyKey string) (*models.ExternalPayment, bool, error)
	Initiate(ctx context.Context, paymentID uuid.UUID, req models.InitiatePaymentRequest) (*models.ExternalPayment, error)
	Cancel(ctx context.Context, paymentID uuid.UUID, reason string) (*models.ExternalPayment, error)
	Get(ctx context.Context, paymentID uuid.UUID) (*models.ExternalPayment, error)
}

type WalletService interface {
	CreateWallet(ctx context.Context, ownerID uuid.UUID, currency string) (*models.Wallet, error)
	GetWallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error)
	AvailableBalance(ctx context.Context, walletID uuid.UUID) (*models.AvailableBalanceResponse, error)
}

type WebhookService interface {
	Admit(ctx context.Context, providerName string, event *webhooks.NormalizedEvent, rawPayload []byte, signature string) (*webhooks.AdmitResult, error)
}

type HTTPHandler struct {
	paymentSvc PaymentService
	walletSvc  WalletService
	webhookSvc WebhookService
}

func NewHTTPHandler(paymentSvc PaymentService, walletSvc WalletService, webhookSvc WebhookService) *HTTPHandler {
	return &HTTPHandler{
		paymentSvc: paymentSvc,
		walletSvc:  walletSvc,
		webhookSvc: webhookSvc,
	}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	{
		v1.POST("/wallets", h.HandleCreateWallet)
		v1.GET("/wallets/:wallet_id", h.HandleGetWallet)
		v1.GET("/wallets/:wallet_id/available-balance", h.HandleAvailableBalance)

		v1.POST("/payments", h.HandleCreatePayment)
		v1.GET("/payments/:payment_id", h.HandleGetPayment)
		v1.POST("/payments/:payment_id/initiate", h.HandleInitiatePayment)
		v1.POST("/payments/:payment_id/cancel", h.HandleCancelPayment)

		v1.POST("/webhooks/:provider", h.HandleWebhook)
	}
}

// ownerID reads the authenticated user set by the identity collaborator.
func ownerID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader("X-User-ID"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid user id"})
		return uuid.Nil, false
	}
	return id, true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrWalletNotFound),
		errors.Is(err, repository.ErrPaymentNotFound),
		errors.Is(err, repository.ErrLockNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidAmount),
		errors.Is(err, repository.ErrCurrencyMismatch):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrInsufficientFunds),
		errors.Is(err, repository.ErrInsufficientAvailable),
		errors.Is(err, repository.ErrWalletInactive),
		errors.Is(err, repository.ErrInvalidTransition),
		errors.Is(err, repository.ErrWalletAlreadyExist),
		errors.Is(err, payments.ErrConsistencyAlert):
		return http.StatusConflict
	case errors.Is(err, provider.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) {
			return http.StatusBadGateway
		}
		return http.StatusServiceUnavailable
	}
}

func (h *HTTPHandler) HandleCreateWallet(c *gin.Context) {
	var req models.CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	wallet, err := h.walletSvc.CreateWallet(c.Request.Context(), req.OwnerID, req.Currency)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, wallet)
}

func (h *HTTPHandler) HandleGetWallet(c *gin.Context) {
	walletID, ok := pathUUID(c, "wallet_id")
	if !ok {
		return
	}
	wallet, err := h.walletSvc.GetWallet(c.Request.Context(), walletID)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, wallet)
}

func (h *HTTPHandler) HandleAvailableBalance(c *gin.Context) {
	walletID, ok := pathUUID(c, "wallet_id")
	if !ok {
		return
	}
	resp, err := h.walletSvc.AvailableBalance(c.Request.Context(), walletID)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCreatePayment reserves funds for an outbound settlement. Clients
// retrying over a flaky network send an Idempotency-Key header so the
// reservation happens once.
func (h *HTTPHandler) HandleCreatePayment(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	var req models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	payment, created, err := h.paymentSvc.Create(c.Request.Context(), owner, req, c.GetHeader("Idempotency-Key"))
	if err != nil {
		// A failed reservation still produced a terminal payment row;
		// return it so the client can see that nothing was reserved.
		if payment != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error(), "payment": payment})
			return
		}
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, payment)
}

func (h *HTTPHandler) HandleGetPayment(c *gin.Context) {
	paymentID, ok := pathUUID(c, "payment_id")
	if !ok {
		return
	}
	payment, err := h.paymentSvc.Get(c.Request.Context(), paymentID)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *HTTPHandler) HandleInitiatePayment(c *gin.Context) {
	paymentID, ok := pathUUID(c, "payment_id")
	if !ok {
		return
	}
	var req models.InitiatePaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
			return
		}
	}
	payment, err := h.paymentSvc.Initiate(c.Request.Context(), paymentID, req)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *HTTPHandler) HandleCancelPayment(c *gin.Context) {
	paymentID, ok := pathUUID(c, "payment_id")
	if !ok {
		return
	}
	var req models.CancelPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	payment, err := h.paymentSvc.Cancel(c.Request.Context(), paymentID, req.Reason)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error(), "payment": payment})
		return
	}
	c.JSON(http.StatusOK, payment)
}

// HandleWebhook is the sole inbound path for provider callbacks.
func (h *HTTPHandler) HandleWebhook(c *gin.Context) {
	providerName := c.Param("provider")
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	event, err := webhooks.Normalize(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.webhookSvc.Admit(c.Request.Context(), providerName, event, body, c.GetHeader("X-Signature"))
	if err != nil {
		if errors.Is(err, webhooks.ErrInvalidSignature) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
