package test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"vaultpay/internal/handlers"
	"vaultpay/internal/models"
	"vaultpay/internal/provider"
	"vaultpay/internal/repository"
	"vaultpay/internal/webhooks"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func newRouter(ctrl *gomock.Controller) (*gin.Engine, *MockPaymentService, *MockWalletService, *MockWebhookService) {
	paymentSvc := NewMockPaymentService(ctrl)
	walletSvc := NewMockWalletService(ctrl)
	webhookSvc := NewMockWebhookService(ctrl)
	handler := handlers.NewHTTPHandler(paymentSvc, walletSvc, webhookSvc)
	r := gin.Default()
	handler.RegisterRoutes(r)
	return r, paymentSvc, walletSvc, webhookSvc
}

func TestHandleCreatePayment_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	r, paymentSvc, _, _ := newRouter(ctrl)

	ownerID := uuid.New()
	walletID := uuid.New()
	paymentID := uuid.New()

	paymentSvc.EXPECT().
		Create(gomock.Any(), ownerID, gomock.Any(), "key-1").
		Return(&models.ExternalPayment{
			ID:       paymentID,
			OwnerID:  ownerID,
			WalletID: walletID,
			Amount:   decimal.NewFromInt(100),
			Currency: "USD",
			Status:   models.PaymentStatusLocked,
		}, true, nil)

	body, _ := json.Marshal(map[string]interface{}{
		"walletId": walletID,
		"amount":   "100",
		"currency": "USD",
		"provider": "acme",
	})

	req, _ := http.NewRequest("POST", "/api/v1/payments", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", ownerID.String())
	req.Header.Set("Idempotency-Key", "key-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), paymentID.String())
	assert.Contains(t, w.Body.String(), "locked")
}

func TestHandleCreatePayment_IdempotentReplay(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	r, paymentSvc, _, _ := newRouter(ctrl)

	ownerID := uuid.New()
	walletID := uuid.New()
	paymentID := uuid.New()

	paymentSvc.EXPECT().
		Create(gomock.Any(), ownerID, gomock.Any(), "key-1").
		Return(&models.ExternalPayment{ID: paymentID, Status: models.PaymentStatusLocked}, false, nil)

	body, _ := json.Marshal(map[string]interface{}{
		"walletId": walletID,
		"amount":   "100",
		"currency": "USD",
		"provider": "acme",
	})

	req, _ := http.NewRequest("POST", "/api/v1/payments", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", ownerID.String())
	req.Header.Set("Idempotency-Key", "key-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), paymentID.String())
}

func TestHandleCreatePayment_InsufficientAvailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	r, paymentSvc, _, _ := newRouter(ctrl)

	ownerID := uuid.New()
	walletID := uuid.New()

	paymentSvc.EXPECT().
		Create(gomock.Any(), ownerID, gomock.Any(), "").
		Return(&models.ExternalPayment{Status: models.PaymentStatusFailed}, true, repository.ErrInsufficientAvailable)

	body, _ := json.Marshal(map[string]interface{}{
		"walletId": walletID,
		"amount":   "100",
		"currency": "USD",
		"provider": "acme",
	})

	req, _ := http.NewRequest("POST", "/api/v1/payments", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", ownerID.String())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient available balance")
	assert.Contains(t, w.Body.String(), "failed")
}

func TestHandleCreatePayment_MissingUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	r, _, _, _ := newRouter(ctrl)

	body := []byte(`{"walletId": "` + uuid.NewString() + `", "amount": "100", "currency": "USD", "provider": "acme"}`)
	req, _ := http.NewRequest("POST", "/api/v1/payments", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleCreatePayment_InvalidRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	r, _, _, _ := newRouter(ctrl)

	body := []byte(`{"walletId": "not-a-uuid", "amount": "100", "currency": "USD", "provider": "acme"}`)
	req, _ := http.NewRequest("POST", "/api/v1/payments", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", uuid.NewString())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request")
}

func TestHandleInitiatePayment_ProviderTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	r, paymentSvc, _, _ := newRouter(ctrl)

	paymentID := uuid.New()
	paymentSvc.EXPECT().
		Initiate(gomock.Any(), paymentID, gomock.Any()).
		Return(nil, provider.ErrTimeout)

	req, _ := http.NewRequest("POST", "/api/v1/payments/"+paymentID.String()+"/initiate", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestHandleCancelPayment_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	r, paymentSvc, _, _ := newRouter(ctrl)

	paymentID := uuid.New()
	paymentSvc.EXPECT().
		Cancel(gomock.Any(), paymentID, "user changed mind").
		Return(&models.ExternalPayment{ID: paymentID, Status: models.PaymentStatusCancelled}, nil)

	body := []byte(`{"reason": "user changed mind"}`)
	req, _ := http.NewRequest("POST", "/api/v1/payments/"+paymentID.String()+"/cancel", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cancelled")
}

func TestHandleGetPayment_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	r, paymentSvc, _, _ := newRouter(ctrl)

	paymentID := uuid.New()
	paymentSvc.EXPECT().
		Get(gomock.Any(), paymentID).
		Return(nil, repository.ErrPaymentNotFound)

	req, _ := http.NewRequest("GET", "/api/v1/payments/"+paymentID.String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "payment not found")
}

func TestHandleGetPayment_InvalidUUID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	r, _, _, _ := newRouter(ctrl)

	req, _ := http.NewRequest("GET", "/api/v1/payments/not-a-uuid", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid payment_id")
}

func TestHandleAvailableBalance_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	r, _, walletSvc, _ := newRouter(ctrl)

	walletID := uuid.New()
	walletSvc.EXPECT().
		AvailableBalance(gomock.Any(), walletID).
		Return(&models.AvailableBalanceResponse{
			WalletID:         walletID,
			Balance:          decimal.NewFromInt(500),
			Reserved:         decimal.NewFromInt(120),
			AvailableBalance: decimal.NewFromInt(380),
		}, nil)

	req, _ := http.NewRequest("GET", "/api/v1/wallets/"+walletID.String()+"/available-balance", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "380")
	assert.Contains(t, w.Body.String(), "120")
}

func TestHandleCreateWallet_AlreadyExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	r, _, walletSvc, _ := newRouter(ctrl)

	ownerID := uuid.New()
	walletSvc.EXPECT().
		CreateWallet(gomock.Any(), ownerID, "USD").
		Return(nil, repository.ErrWalletAlreadyExist)

	body, _ := json.Marshal(map[string]interface{}{
		"ownerId":  ownerID,
		"currency": "USD",
	})
	req, _ := http.NewRequest("POST", "/api/v1/wallets", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "wallet already exists")
}

func TestHandleWebhook_Accepted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	r, _, _, webhookSvc := newRouter(ctrl)

	recordID := uuid.New()
	webhookSvc.EXPECT().
		Admit(gomock.Any(), "acme", gomock.Any(), gomock.Any(), "sig").
		Return(&webhooks.AdmitResult{Accepted: true, RecordID: recordID}, nil)

	body := []byte(`{"event_id": "evt-1", "event_type": "order.paid", "order_id": "ord-1", "status": "paid"}`)
	req, _ := http.NewRequest("POST", "/api/v1/webhooks/acme", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", "sig")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), recordID.String())
}

func TestHandleWebhook_Duplicate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	r, _, _, webhookSvc := newRouter(ctrl)

	webhookSvc.EXPECT().
		Admit(gomock.Any(), "acme", gomock.Any(), gomock.Any(), "sig").
		Return(&webhooks.AdmitResult{Accepted: false, Duplicate: true}, nil)

	body := []byte(`{"event_id": "evt-1", "event_type": "order.paid", "order_id": "ord-1", "status": "paid"}`)
	req, _ := http.NewRequest("POST", "/api/v1/webhooks/acme", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", "sig")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"duplicate":true`)
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	r, _, _, webhookSvc := newRouter(ctrl)

	webhookSvc.EXPECT().
		Admit(gomock.Any(), "acme", gomock.Any(), gomock.Any(), "bad").
		Return(nil, webhooks.ErrInvalidSignature)

	body := []byte(`{"event_id": "evt-1", "event_type": "order.paid", "order_id": "ord-1", "status": "paid"}`)
	req, _ := http.NewRequest("POST", "/api/v1/webhooks/acme", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", "bad")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "webhook signature verification failed")
}

func TestHandleWebhook_MalformedPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	r, _, _, _ := newRouter(ctrl)

	req, _ := http.NewRequest("POST", "/api/v1/webhooks/acme", bytes.NewBuffer([]byte(`{not json`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
