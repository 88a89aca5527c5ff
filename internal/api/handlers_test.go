package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fanlipa/payments-service/internal/app"
	"github.com/fanlipa/payments-service/internal/domain"
	"github.com/fanlipa/payments-service/internal/store"
	"github.com/fanlipa/payments-service/pkg/daraja"
)

type apiRepoStub struct {
	store.Repository

	creatorExists bool
	record        *domain.PendingTransaction
	ref           *domain.CorrelationRef

	created         *domain.PendingTransaction
	completeCalled  bool
	ledgerAppended  bool
	totalsIncreased bool
}

func (s *apiRepoStub) FindActiveGatewayConfig(ctx context.Context) (*domain.GatewayConfig, error) {
	return &domain.GatewayConfig{ShortCode: "174379", ConsumerKey: "k", ConsumerSecret: "s", Passkey: "p"}, nil
}

func (s *apiRepoStub) CreatorExists(ctx context.Context, creatorID uuid.UUID) (bool, error) {
	return s.creatorExists, nil
}

func (s *apiRepoStub) CreatePendingTransaction(ctx context.Context, tx *domain.PendingTransaction) error {
	s.created = tx
	return nil
}

func (s *apiRepoStub) AttachCheckoutRequestID(ctx context.Context, kind domain.PaymentKind, id uuid.UUID, checkoutRequestID string) error {
	return nil
}

func (s *apiRepoStub) FindPendingTransaction(ctx context.Context, kind domain.PaymentKind, id uuid.UUID) (*domain.PendingTransaction, error) {
	if s.record == nil {
		return nil, store.ErrRecordNotFound
	}
	return s.record, nil
}

func (s *apiRepoStub) FindCorrelationRef(ctx context.Context, checkoutRequestID string) (*domain.CorrelationRef, error) {
	if s.ref == nil || s.ref.CheckoutRequestID != checkoutRequestID {
		return nil, store.ErrCorrelationNotFound
	}
	return s.ref, nil
}

func (s *apiRepoStub) MarkCompletedIfPending(ctx context.Context, kind domain.PaymentKind, id uuid.UUID, receipt string) (bool, error) {
	s.completeCalled = true
	return true, nil
}

func (s *apiRepoStub) AppendLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	s.ledgerAppended = true
	return nil
}

func (s *apiRepoStub) IncrementCreatorTotals(ctx context.Context, creatorID uuid.UUID, netAmount int64, payerPhone string) error {
	s.totalsIncreased = true
	return nil
}

type apiGatewayStub struct{}

func (apiGatewayStub) STKPush(ctx context.Context, cfg *domain.GatewayConfig, phone string, amount int64, accountRef, description string) (*daraja.STKPushResponse, error) {
	return &daraja.STKPushResponse{
		CheckoutRequestID: "ws_CO_handler_test",
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

type limiterStub struct {
	count      int64
	retryAfter int64
}

func (l limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int64, int64, error) {
	return l.count, l.retryAfter, nil
}

func newTestRouter(repo *apiRepoStub, limiter app.RateLimiter) http.Handler {
	svc := app.NewService(repo, apiGatewayStub{}, time.Second, 1000)
	reconciler := app.NewReconciler(repo, nil, "fanlipa.events", 1000)
	handler := NewHandler(svc, reconciler, limiter, "hook-secret", 120)
	return NewRouter(handler)
}

func TestInitiatePaymentEndpoint(t *testing.T) {
	repo := &apiRepoStub{creatorExists: true}
	router := newTestRouter(repo, nil)

	creatorID := uuid.New()
	body, _ := json.Marshal(map[string]interface{}{
		"kind":        "gift",
		"amount":      200,
		"payer_phone": "0712345678",
		"creator_id":  creatorID,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/payments/initiate", bytes.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success  bool      `json:"success"`
		RecordID uuid.UUID `json:"record_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success || resp.RecordID == uuid.Nil {
		t.Errorf("response = %+v, want success with a record id", resp)
	}
	if repo.created == nil || repo.created.PlatformFee != 10 {
		t.Error("expected a provisional gift record with the 5% fee")
	}
}

func TestInitiatePaymentEndpoint_ValidationErrors(t *testing.T) {
	repo := &apiRepoStub{creatorExists: true}
	router := newTestRouter(repo, nil)

	cases := map[string]string{
		"invalid body":    `{"kind": `,
		"missing creator": `{"kind":"donation","amount":100,"payer_phone":"0712345678"}`,
		"unknown kind":    `{"kind":"subscription","amount":100,"payer_phone":"0712345678"}`,
		"bad phone":       `{"kind":"donation","amount":100,"payer_phone":"12","creator_id":"` + uuid.NewString() + `"}`,
	}

	for name, body := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("POST", "/payments/initiate", bytes.NewReader([]byte(body))))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
}

func callbackBody(token string) []byte {
	return []byte(`{
		"Body": {
			"stkCallback": {
				"CheckoutRequestID": "` + token + `",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 200},
						{"Name": "MpesaReceiptNumber", "Value": "ABC123"}
					]
				}
			}
		}
	}`)
}

func TestGatewayCallback_ProcessesAndAcks(t *testing.T) {
	creatorID := uuid.New()
	recordID := uuid.New()
	repo := &apiRepoStub{
		ref: &domain.CorrelationRef{CheckoutRequestID: "ws_CO_777", Kind: domain.KindGift, RecordID: recordID},
		record: &domain.PendingTransaction{
			ID: recordID, Kind: domain.KindGift,
			GrossAmount: 200, PlatformFee: 10, NetAmount: 190,
			Status: domain.StatusCompleted,
			Refs:   domain.KindRefs{CreatorID: &creatorID},
		},
	}
	router := newTestRouter(repo, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/payments/callback/hook-secret", bytes.NewReader(callbackBody("ws_CO_777"))))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var ack struct {
		ResultCode int    `json:"ResultCode"`
		ResultDesc string `json:"ResultDesc"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if ack.ResultCode != 0 || ack.ResultDesc != "Accepted" {
		t.Errorf("ack = %+v, want ResultCode 0 / Accepted", ack)
	}
	if !repo.completeCalled || !repo.ledgerAppended || !repo.totalsIncreased {
		t.Error("expected the callback to settle the payment and run side effects")
	}
}

func TestGatewayCallback_SecretMismatchStillAcks(t *testing.T) {
	repo := &apiRepoStub{
		ref: &domain.CorrelationRef{CheckoutRequestID: "ws_CO_777", Kind: domain.KindGift, RecordID: uuid.New()},
	}
	router := newTestRouter(repo, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/payments/callback/wrong-secret", bytes.NewReader(callbackBody("ws_CO_777"))))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even on secret mismatch", rec.Code)
	}
	if repo.completeCalled {
		t.Error("an unverified callback must not be processed")
	}
}

func TestGatewayCallback_MalformedStillAcks(t *testing.T) {
	repo := &apiRepoStub{}
	router := newTestRouter(repo, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/payments/callback/hook-secret", bytes.NewReader([]byte(`not json`))))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a malformed envelope", rec.Code)
	}
}

func TestPaymentStatusEndpoint(t *testing.T) {
	receipt := "ABC123"
	recordID := uuid.New()
	repo := &apiRepoStub{record: &domain.PendingTransaction{
		ID: recordID, Kind: domain.KindGift, Status: domain.StatusCompleted, Receipt: &receipt,
	}}
	router := newTestRouter(repo, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/payments/gift/"+recordID.String()+"/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool   `json:"success"`
		Status  string `json:"status"`
		Receipt string `json:"receipt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != domain.StatusCompleted || resp.Receipt != receipt {
		t.Errorf("response = %+v, want completed with receipt ABC123", resp)
	}
}

func TestPaymentStatusEndpoint_NotFound(t *testing.T) {
	router := newTestRouter(&apiRepoStub{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/payments/gift/"+uuid.NewString()+"/status", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestPaymentStatusEndpoint_InvalidID(t *testing.T) {
	router := newTestRouter(&apiRepoStub{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/payments/gift/not-a-uuid/status", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPaymentStatusEndpoint_RateLimited(t *testing.T) {
	recordID := uuid.New()
	repo := &apiRepoStub{record: &domain.PendingTransaction{ID: recordID, Kind: domain.KindGift, Status: domain.StatusPending}}
	router := newTestRouter(repo, limiterStub{count: 121, retryAfter: 17})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/payments/gift/"+recordID.String()+"/status", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "17" {
		t.Errorf("Retry-After = %q, want 17", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(&apiRepoStub{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
