/**
 * @description
 * This file defines the core domain models for the payments-service. These structs
 * represent the main entities and data transfer objects (DTOs) used throughout the
 * service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in cents (the smallest currency unit) to avoid
 *   floating-point inaccuracies with financial data.
 * - Every payment kind shares the same provisional shape; kind-specific foreign
 *   references live on the concrete records.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentKind is the closed set of payment purposes the platform accepts.
// Each kind has its own fee rate, pending store, and post-completion side effects.
type PaymentKind string

const (
	KindDonation             PaymentKind = "donation"
	KindVote                 PaymentKind = "vote"
	KindGift                 PaymentKind = "gift"
	KindCampaignContribution PaymentKind = "campaign_contribution"
	KindMerchOrder           PaymentKind = "merch_order"
	KindTicketPurchase       PaymentKind = "ticket_purchase"
)

// AllKinds lists every payment kind. Dispatch tables are checked against this
// set so that adding a kind without wiring its handlers is caught early.
var AllKinds = []PaymentKind{
	KindDonation,
	KindVote,
	KindGift,
	KindCampaignContribution,
	KindMerchOrder,
	KindTicketPurchase,
}

// Valid reports whether k is one of the closed enumeration values.
func (k PaymentKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Payment statuses. Terminal states are final: a record only ever moves
// pending -> completed or pending -> failed.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Merch order fulfillment statuses. These live on the order's own lifecycle
// track, separate from the payment status the client polls.
const (
	OrderStatusDraft      = "draft"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
)

// PendingTransaction is the provisional record created before payment
// confirmation. One exists per kind-specific store, but they all carry this
// shape; KindRefs holds the foreign references that vary by kind.
type PendingTransaction struct {
	ID                uuid.UUID   `json:"id"`
	Kind              PaymentKind `json:"kind"`
	GrossAmount       int64       `json:"gross_amount"` // in cents
	PlatformFee       int64       `json:"platform_fee"` // in cents
	NetAmount         int64       `json:"net_amount"`   // in cents
	PayerPhone        string      `json:"payer_phone"`  // normalized 2547XXXXXXXX
	PayerName         string      `json:"payer_name,omitempty"`
	Message           string      `json:"message,omitempty"`
	CheckoutRequestID *string     `json:"checkout_request_id,omitempty"`
	Receipt           *string     `json:"receipt,omitempty"`
	Status            string      `json:"status"`
	Refs              KindRefs    `json:"refs"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// KindRefs carries the kind-specific foreign references of a pending record.
// Only the fields relevant to the record's kind are set.
type KindRefs struct {
	CreatorID    *uuid.UUID `json:"creator_id,omitempty"`
	NomineeID    *uuid.UUID `json:"nominee_id,omitempty"`
	CampaignID   *uuid.UUID `json:"campaign_id,omitempty"`
	TicketTypeID *uuid.UUID `json:"ticket_type_id,omitempty"`
	Quantity     int        `json:"quantity,omitempty"`
}

// LedgerEntry is the immutable append-only record created when a payment
// settles. It is the source of truth for financial reporting.
type LedgerEntry struct {
	ID          uuid.UUID   `json:"id"`
	Kind        PaymentKind `json:"kind"`
	RecordID    uuid.UUID   `json:"record_id"`
	GrossAmount int64       `json:"gross_amount"`
	PlatformFee int64       `json:"platform_fee"`
	NetAmount   int64       `json:"net_amount"`
	Receipt     string      `json:"receipt"`
	CreatedAt   time.Time   `json:"created_at"`
}

// CorrelationRef resolves a gateway correlation token back to the owning
// record without knowing its kind in advance. One row is written atomically
// with the token attach, so reconciliation is a single point lookup.
type CorrelationRef struct {
	CheckoutRequestID string      `json:"checkout_request_id"`
	Kind              PaymentKind `json:"kind"`
	RecordID          uuid.UUID   `json:"record_id"`
}

// GatewayConfig holds the credentials for the M-PESA Daraja gateway. Exactly
// one row may be flagged active+primary at a time; initiation fails with a
// configuration error when none is.
type GatewayConfig struct {
	ID             uuid.UUID `json:"id"`
	ShortCode      string    `json:"short_code"`
	ConsumerKey    string    `json:"-"`
	ConsumerSecret string    `json:"-"`
	Passkey        string    `json:"-"`
	Environment    string    `json:"environment"` // sandbox | production
	IsActive       bool      `json:"is_active"`
	IsPrimary      bool      `json:"is_primary"`
}

// InitiatePaymentRequest is the DTO for the initiate endpoint. Reference
// fields are validated per kind by the service layer.
type InitiatePaymentRequest struct {
	Kind         PaymentKind `json:"kind"`
	Amount       int64       `json:"amount"` // in cents
	PayerPhone   string      `json:"payer_phone"`
	PayerName    string      `json:"payer_name,omitempty"`
	Message      string      `json:"message,omitempty"`
	CreatorID    *uuid.UUID  `json:"creator_id,omitempty"`
	NomineeID    *uuid.UUID  `json:"nominee_id,omitempty"`
	CampaignID   *uuid.UUID  `json:"campaign_id,omitempty"`
	OrderID      *uuid.UUID  `json:"order_id,omitempty"`
	TicketTypeID *uuid.UUID  `json:"ticket_type_id,omitempty"`
	Quantity     int         `json:"quantity,omitempty"`
}

// InitiatePaymentResult is returned to the caller once the gateway has
// accepted the push request. The client polls the status endpoint with
// RecordID until a terminal state is observed.
type InitiatePaymentResult struct {
	RecordID        uuid.UUID `json:"record_id"`
	ProviderMessage string    `json:"provider_message"`
}

// PaymentStatusResult is the normalized answer to "what is the current
// status of transaction T of kind K".
type PaymentStatusResult struct {
	Status  string  `json:"status"` // pending | completed | failed
	Receipt *string `json:"receipt,omitempty"`
}

// MerchOrder is the merchandise order a ticket-of-inventory payment settles.
// Orders predate their payment and survive gateway rejection; their
// fulfillment lifecycle is independent of the payment's own status.
type MerchOrder struct {
	ID          uuid.UUID `json:"id"`
	OrderNumber string    `json:"order_number"`
	CreatorID   uuid.UUID `json:"creator_id"`
	Status      string    `json:"status"`
	GrossAmount int64     `json:"gross_amount"`
	CreatedAt   time.Time `json:"created_at"`
}

// TicketType carries the remaining inventory for an event ticket tier.
type TicketType struct {
	ID                uuid.UUID `json:"id"`
	EventID           uuid.UUID `json:"event_id"`
	Name              string    `json:"name"`
	PriceCents        int64     `json:"price_cents"`
	QuantityAvailable int       `json:"quantity_available"`
}
