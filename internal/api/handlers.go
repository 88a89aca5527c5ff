/**
 * @description
 * HTTP handlers for the payments-service API. Three routes do the real work:
 * payment initiation, the gateway callback webhook, and client-side status
 * polling. Handlers translate between HTTP and the app layer and own nothing
 * else.
 *
 * @notes
 * - The callback webhook always answers 200 with the gateway's expected ack
 *   body, whatever happened inside. Non-2xx responses make the gateway retry,
 *   and retries of a malformed or already-settled envelope are pure noise.
 * - The webhook path carries a shared secret segment; a mismatch is logged,
 *   counted, and acked without processing.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fanlipa/payments-service/internal/app"
	"github.com/fanlipa/payments-service/internal/domain"
	"github.com/fanlipa/payments-service/internal/metrics"
	"github.com/fanlipa/payments-service/internal/store"
	"github.com/fanlipa/payments-service/pkg/daraja"
)

const maxCallbackBodyBytes = 1 << 20

// Handler holds the dependencies of the API layer.
type Handler struct {
	service            *app.Service
	reconciler         *app.Reconciler
	limiter            app.RateLimiter
	callbackSecret     string
	pollLimitPerMinute int
}

// NewHandler creates a new API handler.
func NewHandler(service *app.Service, reconciler *app.Reconciler, limiter app.RateLimiter, callbackSecret string, pollLimitPerMinute int) *Handler {
	if limiter == nil {
		limiter = app.NoopRateLimiter{}
	}
	return &Handler{
		service:            service,
		reconciler:         reconciler,
		limiter:            limiter,
		callbackSecret:     callbackSecret,
		pollLimitPerMinute: pollLimitPerMinute,
	}
}

// InitiatePayment handles POST /payments/initiate.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req domain.InitiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.InitiatePayment(r.Context(), req)
	if err != nil {
		status := initiateErrorStatus(err)
		if status >= http.StatusInternalServerError {
			log.Printf("level=error component=api op=initiate kind=%s err=%v", req.Kind, err)
			respondWithError(w, status, "failed to initiate payment")
			return
		}
		respondWithError(w, status, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"record_id":        result.RecordID,
		"provider_message": result.ProviderMessage,
	})
}

func initiateErrorStatus(err error) int {
	switch {
	case errors.Is(err, app.ErrUnknownKind),
		errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrMissingCreatorRef),
		errors.Is(err, app.ErrMissingNomineeRef),
		errors.Is(err, app.ErrMissingCampaignRef),
		errors.Is(err, app.ErrMissingOrderRef),
		errors.Is(err, app.ErrMissingTicketTypeRef),
		errors.Is(err, app.ErrUnknownReference),
		errors.Is(err, app.ErrInsufficientTickets),
		errors.Is(err, store.ErrOrderNotPayable),
		errors.Is(err, daraja.ErrInvalidPhone),
		errors.Is(err, app.ErrGatewayRejected):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNoActiveGatewayConfig):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GatewayCallback handles POST /payments/callback/{secret}. The response is
// the fixed ack the gateway expects; processing outcome never changes it.
func (h *Handler) GatewayCallback(w http.ResponseWriter, r *http.Request) {
	secret := chi.URLParam(r, "secret")
	if h.callbackSecret == "" || secret != h.callbackSecret {
		log.Printf("level=warn component=api op=callback outcome=unverified msg=\"callback secret mismatch\" remote=%s", r.RemoteAddr)
		metrics.CallbackEvents.WithLabelValues("unverified").Inc()
		h.ackCallback(w)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBodyBytes))
	if err != nil {
		log.Printf("level=warn component=api op=callback msg=\"failed to read callback body\" err=%v", err)
		metrics.CallbackEvents.WithLabelValues(app.OutcomeMalformed).Inc()
		h.ackCallback(w)
		return
	}

	h.reconciler.HandleCallback(r.Context(), body)
	h.ackCallback(w)
}

func (h *Handler) ackCallback(w http.ResponseWriter) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
	})
}

// PaymentStatus handles GET /payments/{kind}/{id}/status.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	kind := domain.PaymentKind(chi.URLParam(r, "kind"))
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid record id")
		return
	}

	count, retryAfter, limitErr := h.limiter.ConsumeRateLimit(r.Context(), "status_poll", pollSubject(r), h.pollLimitPerMinute, time.Minute)
	if limitErr != nil {
		// The limiter failing open is preferable to blocking status reads.
		log.Printf("level=warn component=api op=status msg=\"rate limiter unavailable\" err=%v", limitErr)
	} else if h.pollLimitPerMinute > 0 && count > int64(h.pollLimitPerMinute) {
		if retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
		respondWithError(w, http.StatusTooManyRequests, "too many status requests")
		return
	}

	result, err := h.service.PaymentStatus(r.Context(), kind, id)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUnknownKind):
			respondWithError(w, http.StatusBadRequest, "unknown payment kind")
		case errors.Is(err, store.ErrRecordNotFound):
			respondWithError(w, http.StatusNotFound, "record not found")
		default:
			log.Printf("level=error component=api op=status kind=%s record_id=%s err=%v", kind, id, err)
			respondWithError(w, http.StatusInternalServerError, "failed to resolve payment status")
		}
		return
	}

	payload := map[string]interface{}{
		"success": true,
		"status":  result.Status,
	}
	if result.Receipt != nil {
		payload["receipt"] = *result.Receipt
	}
	respondWithJSON(w, http.StatusOK, payload)
}

// pollSubject buckets status polls per client address so one aggressive
// client cannot exhaust the shared budget.
func pollSubject(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]interface{}{"success": false, "error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Printf("level=error component=api msg=\"failed to marshal response\" err=%v", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"error":"internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
