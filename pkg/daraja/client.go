/**
 * @description
 * This package provides a client for the M-PESA Daraja API. It encapsulates the
 * OAuth client-credentials exchange (with token caching), payer phone number
 * normalization, the timestamp-derived request password, and the STK push
 * request itself.
 *
 * @notes
 * - One STK push attempt per call; the client never retries. A rejected or
 *   failed push surfaces as a structured error for the initiator to compensate.
 * - Access tokens are cached per consumer key until shortly before expiry, so
 *   gateway credential rotation through a new active config takes effect
 *   without restarting the service.
 */
package daraja

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fanlipa/payments-service/internal/domain"
)

const (
	countryPrefix   = "254"
	timestampLayout = "20060102150405"

	// Daraja online checkout transaction type for paybill shortcodes.
	transactionTypePayBill = "CustomerPayBillOnline"

	// Tokens are refreshed this long before their reported expiry.
	tokenExpirySlack = 30 * time.Second
)

var ErrInvalidPhone = errors.New("payer phone is not a valid Kenyan mobile number")

// Client is a client for the Daraja API. Credentials are supplied per call
// from the active gateway configuration rather than fixed at construction.
type Client struct {
	BaseURL     string
	CallbackURL string
	HTTPClient  *http.Client

	mu     sync.Mutex
	tokens map[string]cachedToken
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// NewClient creates a new Daraja API client. callbackURL is the absolute URL
// the gateway will POST the asynchronous STK result to.
func NewClient(baseURL, callbackURL string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		CallbackURL: callbackURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokens: make(map[string]cachedToken),
	}
}

// STKPushRequest is the provider payload for an online checkout push.
type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPushResponse is the synchronous acceptance response from the gateway.
// The asynchronous result arrives later on the callback URL.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// ErrorResponse represents a transport-level error from the Daraja API.
type ErrorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (e *ErrorResponse) Error() string {
	if e.ErrorMessage != "" {
		return fmt.Sprintf("daraja api error: %s - %s", e.ErrorCode, e.ErrorMessage)
	}
	return "unknown daraja api error"
}

// RejectionError is returned when the gateway answered the push request but
// declined it (non-zero response code).
type RejectionError struct {
	Code        string
	Description string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("stk push rejected: code=%s desc=%q", e.Code, e.Description)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// NormalizePhone converts a payer-supplied phone number to the canonical
// international format 2547XXXXXXXX / 2541XXXXXXXX.
// Accepted inputs: "+2547...", "2547...", "07...", "01...", "7...", "1...".
func NormalizePhone(msisdn string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(msisdn))

	cleaned = strings.TrimPrefix(cleaned, "+")
	switch {
	case strings.HasPrefix(cleaned, countryPrefix):
		// already international
	case strings.HasPrefix(cleaned, "0"):
		cleaned = countryPrefix + cleaned[1:]
	case strings.HasPrefix(cleaned, "7") || strings.HasPrefix(cleaned, "1"):
		cleaned = countryPrefix + cleaned
	default:
		return "", ErrInvalidPhone
	}

	if len(cleaned) != 12 {
		return "", ErrInvalidPhone
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", ErrInvalidPhone
		}
	}
	return cleaned, nil
}

// Password derives the push-request password for a shortcode at a timestamp:
// base64(shortcode + passkey + yyyymmddhhmmss).
func Password(shortCode, passkey string, at time.Time) (password, timestamp string) {
	timestamp = at.Format(timestampLayout)
	password = base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
	return password, timestamp
}

// STKPush issues a single push-payment request using the supplied gateway
// configuration. On acceptance the CheckoutRequestID in the response is the
// correlation token the asynchronous callback will echo back.
func (c *Client) STKPush(ctx context.Context, cfg *domain.GatewayConfig, phone string, amount int64, accountRef, description string) (*STKPushResponse, error) {
	token, err := c.accessToken(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("acquire access token: %w", err)
	}

	password, timestamp := Password(cfg.ShortCode, cfg.Passkey, time.Now())
	payload := STKPushRequest{
		BusinessShortCode: cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   transactionTypePayBill,
		Amount:            amount,
		PartyA:            phone,
		PartyB:            cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.CallbackURL,
		AccountReference:  accountRef,
		TransactionDesc:   description,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stk push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/mpesa/stkpush/v1/processrequest", strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create stk push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute stk push request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read stk push response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=daraja_client op=stk_push status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=daraja_client op=stk_push status=%d error_code=%q error_message=%q", resp.StatusCode, errResp.ErrorCode, errResp.ErrorMessage)
		return nil, &errResp
	}

	var pushResp STKPushResponse
	if err := json.Unmarshal(bodyBytes, &pushResp); err != nil {
		return nil, fmt.Errorf("failed to decode stk push response: %w", err)
	}

	if pushResp.ResponseCode != "0" {
		log.Printf("level=warn component=daraja_client op=stk_push outcome=rejected code=%s desc=%q", pushResp.ResponseCode, pushResp.ResponseDescription)
		return nil, &RejectionError{Code: pushResp.ResponseCode, Description: pushResp.ResponseDescription}
	}
	if pushResp.CheckoutRequestID == "" {
		return nil, fmt.Errorf("gateway accepted push but returned no checkout request id")
	}

	return &pushResp, nil
}

// accessToken returns a cached bearer token for the config's consumer key,
// fetching a fresh one via client-credentials exchange when needed.
func (c *Client) accessToken(ctx context.Context, cfg *domain.GatewayConfig) (string, error) {
	c.mu.Lock()
	cached, ok := c.tokens[cfg.ConsumerKey]
	c.mu.Unlock()
	if ok && time.Now().Before(cached.expiresAt) {
		return cached.value, nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(cfg.ConsumerKey, cfg.ConsumerSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=daraja_client op=token status=%d msg=\"token exchange failed\"", resp.StatusCode)
		return "", fmt.Errorf("token exchange failed (status %d)", resp.StatusCode)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(bodyBytes, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access token")
	}

	// Daraja reports expiry as a string of seconds, e.g. "3599".
	ttl := 3600 * time.Second
	if secs, parseErr := strconv.Atoi(strings.TrimSpace(tokenResp.ExpiresIn)); parseErr == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}

	c.mu.Lock()
	c.tokens[cfg.ConsumerKey] = cachedToken{
		value:     tokenResp.AccessToken,
		expiresAt: time.Now().Add(ttl - tokenExpirySlack),
	}
	c.mu.Unlock()

	return tokenResp.AccessToken, nil
}
