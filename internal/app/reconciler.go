/**
 * @description
 * The reconciler consumes asynchronous STK push results delivered to the
 * callback webhook and settles the corresponding provisional record. It is
 * the only component that moves payments to a terminal state.
 *
 * Key features:
 * - The correlation token in the callback resolves to (kind, record id) with
 *   a single index lookup; the reconciler never scans the pending stores.
 * - Completion is a conditional write: only the delivery that actually flips
 *   the record from pending runs the side effects (ledger append, aggregate
 *   update, event publish). Duplicate deliveries become logged no-ops.
 * - Every envelope is acknowledged upstream regardless of what happens here;
 *   the gateway retries on non-2xx and a retry storm helps nobody.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fanlipa/payments-service/internal/domain"
	"github.com/fanlipa/payments-service/internal/metrics"
	"github.com/fanlipa/payments-service/internal/store"
	"github.com/fanlipa/payments-service/pkg/rabbitmq"
)

// Callback outcomes, as logged and counted. The webhook response does not
// vary with these; they exist for observability.
const (
	OutcomeCompleted    = "completed"
	OutcomeFailed       = "failed"
	OutcomeDuplicate    = "duplicate"
	OutcomeUnknownToken = "unknown_token"
	OutcomeMalformed    = "malformed"
)

// Reconciler settles provisional payments from gateway callback envelopes.
type Reconciler struct {
	repo           store.Repository
	producer       rabbitmq.Publisher
	eventExchange  string
	votePriceCents int64
}

func NewReconciler(repo store.Repository, producer rabbitmq.Publisher, eventExchange string, votePriceCents int64) *Reconciler {
	return &Reconciler{
		repo:           repo,
		producer:       producer,
		eventExchange:  eventExchange,
		votePriceCents: votePriceCents,
	}
}

// HandleCallback processes one raw callback body and returns the outcome it
// was counted under. Errors never propagate to the webhook response.
func (r *Reconciler) HandleCallback(ctx context.Context, body []byte) string {
	result, err := flattenCallback(body)
	if err != nil {
		log.Printf("level=warn component=reconciler outcome=malformed msg=\"unparsable callback envelope\" err=%v", err)
		metrics.CallbackEvents.WithLabelValues(OutcomeMalformed).Inc()
		return OutcomeMalformed
	}

	ref, err := r.repo.FindCorrelationRef(ctx, result.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, store.ErrCorrelationNotFound) {
			log.Printf("level=warn component=reconciler outcome=unknown_token checkout_request_id=%s result_code=%d", result.CheckoutRequestID, result.ResultCode)
			metrics.CallbackEvents.WithLabelValues(OutcomeUnknownToken).Inc()
			return OutcomeUnknownToken
		}
		log.Printf("level=error component=reconciler msg=\"correlation lookup failed\" checkout_request_id=%s err=%v", result.CheckoutRequestID, err)
		metrics.CallbackEvents.WithLabelValues(OutcomeMalformed).Inc()
		return OutcomeMalformed
	}

	if result.Success() {
		return r.settleCompleted(ctx, ref, result)
	}
	return r.settleFailed(ctx, ref, result)
}

func (r *Reconciler) settleCompleted(ctx context.Context, ref *domain.CorrelationRef, result *domain.CallbackResult) string {
	changed, err := r.repo.MarkCompletedIfPending(ctx, ref.Kind, ref.RecordID, result.Receipt)
	if err != nil {
		log.Printf("level=error component=reconciler msg=\"completion transition failed\" kind=%s record_id=%s err=%v", ref.Kind, ref.RecordID, err)
		metrics.CallbackEvents.WithLabelValues(OutcomeMalformed).Inc()
		return OutcomeMalformed
	}
	if !changed {
		log.Printf("level=info component=reconciler outcome=duplicate kind=%s record_id=%s checkout_request_id=%s", ref.Kind, ref.RecordID, result.CheckoutRequestID)
		metrics.CallbackEvents.WithLabelValues(OutcomeDuplicate).Inc()
		return OutcomeDuplicate
	}

	record, err := r.repo.FindPendingTransaction(ctx, ref.Kind, ref.RecordID)
	if err != nil {
		// The transition committed; the record exists. A read failure here
		// only blocks the side effects, which operators replay from the log.
		log.Printf("level=error component=reconciler msg=\"settled record read-back failed; side effects skipped\" kind=%s record_id=%s err=%v", ref.Kind, ref.RecordID, err)
		metrics.CallbackEvents.WithLabelValues(OutcomeCompleted).Inc()
		return OutcomeCompleted
	}

	r.appendLedger(ctx, record, result.Receipt)
	r.applyAggregate(ctx, record)
	r.publishEvent(ctx, record, domain.StatusCompleted, result.Receipt)

	metrics.PaymentsCompleted.WithLabelValues(string(ref.Kind)).Inc()
	metrics.CallbackEvents.WithLabelValues(OutcomeCompleted).Inc()
	log.Printf("level=info component=reconciler outcome=completed kind=%s record_id=%s receipt=%s amount=%d",
		ref.Kind, ref.RecordID, result.Receipt, record.GrossAmount)
	return OutcomeCompleted
}

func (r *Reconciler) settleFailed(ctx context.Context, ref *domain.CorrelationRef, result *domain.CallbackResult) string {
	changed, err := r.repo.MarkFailedIfPending(ctx, ref.Kind, ref.RecordID)
	if err != nil {
		log.Printf("level=error component=reconciler msg=\"failure transition failed\" kind=%s record_id=%s err=%v", ref.Kind, ref.RecordID, err)
		metrics.CallbackEvents.WithLabelValues(OutcomeMalformed).Inc()
		return OutcomeMalformed
	}
	if !changed {
		log.Printf("level=info component=reconciler outcome=duplicate kind=%s record_id=%s checkout_request_id=%s", ref.Kind, ref.RecordID, result.CheckoutRequestID)
		metrics.CallbackEvents.WithLabelValues(OutcomeDuplicate).Inc()
		return OutcomeDuplicate
	}

	if record, readErr := r.repo.FindPendingTransaction(ctx, ref.Kind, ref.RecordID); readErr == nil {
		r.publishEvent(ctx, record, domain.StatusFailed, "")
	}

	metrics.PaymentsFailed.WithLabelValues(string(ref.Kind)).Inc()
	metrics.CallbackEvents.WithLabelValues(OutcomeFailed).Inc()
	log.Printf("level=info component=reconciler outcome=failed kind=%s record_id=%s result_code=%d result_desc=%q",
		ref.Kind, ref.RecordID, result.ResultCode, result.ResultDesc)
	return OutcomeFailed
}

func (r *Reconciler) appendLedger(ctx context.Context, record *domain.PendingTransaction, receipt string) {
	entry := &domain.LedgerEntry{
		ID:          uuid.New(),
		Kind:        record.Kind,
		RecordID:    record.ID,
		GrossAmount: record.GrossAmount,
		PlatformFee: record.PlatformFee,
		NetAmount:   record.NetAmount,
		Receipt:     receipt,
	}
	if err := r.repo.AppendLedgerEntry(ctx, entry); err != nil {
		log.Printf("level=error component=reconciler msg=\"ledger append failed\" kind=%s record_id=%s receipt=%s err=%v",
			record.Kind, record.ID, receipt, err)
	}
}

func (r *Reconciler) applyAggregate(ctx context.Context, record *domain.PendingTransaction) {
	updater, ok := aggregateUpdaters[record.Kind]
	if !ok {
		log.Printf("level=error component=reconciler msg=\"no aggregate updater for kind\" kind=%s record_id=%s", record.Kind, record.ID)
		return
	}
	if err := updater(ctx, r.repo, record, r.votePriceCents); err != nil {
		log.Printf("level=error component=reconciler msg=\"aggregate update failed\" kind=%s record_id=%s err=%v", record.Kind, record.ID, err)
	}
}

func (r *Reconciler) publishEvent(ctx context.Context, record *domain.PendingTransaction, status, receipt string) {
	if r.producer == nil {
		return
	}
	event := rabbitmq.PaymentEvent{
		Kind:        string(record.Kind),
		RecordID:    record.ID,
		GrossAmount: record.GrossAmount,
		PlatformFee: record.PlatformFee,
		NetAmount:   record.NetAmount,
		Receipt:     receipt,
		Status:      status,
		Timestamp:   time.Now().UTC(),
	}
	if err := r.producer.PublishPaymentEvent(ctx, r.eventExchange, event); err != nil {
		log.Printf("level=warn component=reconciler msg=\"payment event publish failed\" kind=%s record_id=%s status=%s err=%v",
			record.Kind, record.ID, status, err)
	}
}

// flattenCallback parses the raw envelope into the view the reconciler works
// with. An envelope without a correlation token is malformed; a successful
// result without a receipt is accepted (the receipt is then empty).
func flattenCallback(body []byte) (*domain.CallbackResult, error) {
	var envelope domain.STKCallbackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}

	callback := envelope.Body.StkCallback
	if strings.TrimSpace(callback.CheckoutRequestID) == "" {
		return nil, errors.New("envelope carries no checkout request id")
	}

	result := &domain.CallbackResult{
		CheckoutRequestID: strings.TrimSpace(callback.CheckoutRequestID),
		ResultCode:        callback.ResultCode,
		ResultDesc:        callback.ResultDesc,
	}
	if callback.CallbackMetadata != nil {
		for _, item := range callback.CallbackMetadata.Item {
			switch item.Name {
			case "MpesaReceiptNumber":
				var receipt string
				if err := json.Unmarshal(item.Value, &receipt); err == nil {
					result.Receipt = receipt
				}
			case "Amount":
				result.Amount = parseCallbackAmount(item.Value)
			}
		}
	}
	return result, nil
}

// parseCallbackAmount tolerates the gateway sending the amount as a JSON
// number or a quoted string.
func parseCallbackAmount(raw json.RawMessage) int64 {
	var numeric float64
	if err := json.Unmarshal(raw, &numeric); err == nil {
		return int64(math.Round(numeric))
	}
	var quoted string
	if err := json.Unmarshal(raw, &quoted); err == nil {
		if parsed, parseErr := strconv.ParseFloat(strings.TrimSpace(quoted), 64); parseErr == nil {
			return int64(math.Round(parsed))
		}
	}
	return 0
}
