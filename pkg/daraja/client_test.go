package daraja

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fanlipa/payments-service/internal/domain"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"254712345678", "254712345678", false},
		{"+254712345678", "254712345678", false},
		{"0712345678", "254712345678", false},
		{"0112345678", "254112345678", false},
		{"712345678", "254712345678", false},
		{"112345678", "254112345678", false},
		{"0712 345 678", "254712345678", false},
		{"0712-345-678", "254712345678", false},
		{" +254 712 345 678 ", "254712345678", false},
		{"", "", true},
		{"12345", "", true},
		{"07123456789", "", true}, // too long
		{"071234567", "", true},   // too short
		{"07123A5678", "", true},
		{"441234567890", "", true}, // wrong country
	}

	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidPhone) {
				t.Errorf("NormalizePhone(%q) error = %v, want ErrInvalidPhone", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizePhone(%q) unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPassword(t *testing.T) {
	at := time.Date(2026, 8, 28, 14, 30, 22, 0, time.UTC)
	password, timestamp := Password("174379", "passkey123", at)

	if timestamp != "20260828143022" {
		t.Errorf("timestamp = %q, want 20260828143022", timestamp)
	}
	want := base64.StdEncoding.EncodeToString([]byte("174379passkey12320260828143022"))
	if password != want {
		t.Errorf("password = %q, want %q", password, want)
	}
}

func testGatewayConfig() *domain.GatewayConfig {
	return &domain.GatewayConfig{
		ShortCode:      "174379",
		ConsumerKey:    "consumer-key",
		ConsumerSecret: "consumer-secret",
		Passkey:        "passkey123",
		Environment:    "sandbox",
		IsActive:       true,
		IsPrimary:      true,
	}
}

func TestSTKPush_Success(t *testing.T) {
	var tokenRequests, pushRequests int
	var pushPayload STKPushRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			tokenRequests++
			user, pass, ok := r.BasicAuth()
			if !ok || user != "consumer-key" || pass != "consumer-secret" {
				t.Errorf("token request basic auth = %q/%q", user, pass)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"token-1","expires_in":"3599"}`))
		case "/mpesa/stkpush/v1/processrequest":
			pushRequests++
			if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
				t.Errorf("push authorization = %q, want Bearer token-1", got)
			}
			if err := json.NewDecoder(r.Body).Decode(&pushPayload); err != nil {
				t.Errorf("failed to decode push payload: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"MerchantRequestID":"29115-34620561-1",
				"CheckoutRequestID":"ws_CO_191220191020363925",
				"ResponseCode":"0",
				"ResponseDescription":"Success. Request accepted for processing",
				"CustomerMessage":"Success. Request accepted for processing"
			}`))
		default:
			t.Errorf("unexpected request path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "https://api.fanlipa.example/payments/callback/secret")
	resp, err := client.STKPush(context.Background(), testGatewayConfig(), "254712345678", 200, "FL-ABCD1234", "Fanlipa gift")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if resp.CheckoutRequestID != "ws_CO_191220191020363925" {
		t.Errorf("checkout request id = %q", resp.CheckoutRequestID)
	}
	if tokenRequests != 1 || pushRequests != 1 {
		t.Errorf("requests = %d token / %d push, want 1/1", tokenRequests, pushRequests)
	}

	if pushPayload.BusinessShortCode != "174379" || pushPayload.PartyB != "174379" {
		t.Errorf("shortcode fields = %q/%q, want 174379", pushPayload.BusinessShortCode, pushPayload.PartyB)
	}
	if pushPayload.PhoneNumber != "254712345678" || pushPayload.PartyA != "254712345678" {
		t.Errorf("phone fields = %q/%q", pushPayload.PhoneNumber, pushPayload.PartyA)
	}
	if pushPayload.Amount != 200 {
		t.Errorf("amount = %d, want 200", pushPayload.Amount)
	}
	if pushPayload.TransactionType != "CustomerPayBillOnline" {
		t.Errorf("transaction type = %q", pushPayload.TransactionType)
	}
	if pushPayload.CallBackURL != "https://api.fanlipa.example/payments/callback/secret" {
		t.Errorf("callback url = %q", pushPayload.CallBackURL)
	}

	wantPassword := base64.StdEncoding.EncodeToString([]byte("174379" + "passkey123" + pushPayload.Timestamp))
	if pushPayload.Password != wantPassword {
		t.Errorf("password does not match base64(shortcode+passkey+timestamp)")
	}

	// A second push reuses the cached token.
	if _, err := client.STKPush(context.Background(), testGatewayConfig(), "254712345678", 300, "FL-ABCD1234", "Fanlipa gift"); err != nil {
		t.Fatalf("second push failed: %v", err)
	}
	if tokenRequests != 1 {
		t.Errorf("token requests after second push = %d, want the cached token to be reused", tokenRequests)
	}
}

func TestSTKPush_GatewayRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			w.Write([]byte(`{"access_token":"token-1","expires_in":"3599"}`))
			return
		}
		w.Write([]byte(`{"ResponseCode":"1","ResponseDescription":"Unable to lock subscriber"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "https://api.fanlipa.example/cb")
	_, err := client.STKPush(context.Background(), testGatewayConfig(), "254712345678", 200, "FL-1", "Fanlipa gift")

	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("error = %v, want *RejectionError", err)
	}
	if rejection.Code != "1" {
		t.Errorf("rejection code = %q, want 1", rejection.Code)
	}
}

func TestSTKPush_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			w.Write([]byte(`{"access_token":"token-1","expires_in":"3599"}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"requestId":"req-1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid Timestamp"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "https://api.fanlipa.example/cb")
	_, err := client.STKPush(context.Background(), testGatewayConfig(), "254712345678", 200, "FL-1", "Fanlipa gift")

	var gatewayErr *ErrorResponse
	if !errors.As(err, &gatewayErr) {
		t.Fatalf("error = %v, want *ErrorResponse", err)
	}
	if gatewayErr.ErrorCode != "400.002.02" {
		t.Errorf("error code = %q", gatewayErr.ErrorCode)
	}
}

func TestSTKPush_TokenExchangeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errorMessage":"invalid credentials"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "https://api.fanlipa.example/cb")
	if _, err := client.STKPush(context.Background(), testGatewayConfig(), "254712345678", 200, "FL-1", "Fanlipa gift"); err == nil {
		t.Fatal("expected an error when the token exchange fails")
	}
}
