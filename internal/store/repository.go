/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * the payments-service needs. The interface decouples the orchestration logic in
 * internal/app from PostgreSQL, which keeps the initiator, reconciler, and
 * aggregate updater testable against hand-rolled stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For record identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/fanlipa/payments-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Gateway configuration
	FindActiveGatewayConfig(ctx context.Context) (*domain.GatewayConfig, error)

	// Pending transaction stores (one per payment kind; merch orders are
	// backed by the orders table and cannot be created here)
	CreatePendingTransaction(ctx context.Context, tx *domain.PendingTransaction) error
	FindPendingTransaction(ctx context.Context, kind domain.PaymentKind, id uuid.UUID) (*domain.PendingTransaction, error)
	DeletePendingTransaction(ctx context.Context, kind domain.PaymentKind, id uuid.UUID) error

	// AttachCheckoutRequestID stamps the gateway correlation token on the
	// record and writes the correlation index row in the same transaction.
	AttachCheckoutRequestID(ctx context.Context, kind domain.PaymentKind, id uuid.UUID, checkoutRequestID string) error
	FindCorrelationRef(ctx context.Context, checkoutRequestID string) (*domain.CorrelationRef, error)

	// Conditional status transitions. The boolean reports whether the row
	// actually changed; duplicate callback deliveries observe false and all
	// side effects are gated on true.
	MarkCompletedIfPending(ctx context.Context, kind domain.PaymentKind, id uuid.UUID, receipt string) (bool, error)
	MarkFailedIfPending(ctx context.Context, kind domain.PaymentKind, id uuid.UUID) (bool, error)

	// Ledger
	AppendLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error

	// Reference validation reads used by the initiator
	CreatorExists(ctx context.Context, creatorID uuid.UUID) (bool, error)
	NomineeExists(ctx context.Context, nomineeID uuid.UUID) (bool, error)
	CampaignExists(ctx context.Context, campaignID uuid.UUID) (bool, error)
	FindTicketTypeByID(ctx context.Context, ticketTypeID uuid.UUID) (*domain.TicketType, error)
	FindMerchOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.MerchOrder, error)

	// MarkOrderPendingPayment moves an existing order onto the payment track
	// and stamps the computed fee split on it. Orders predate their payment,
	// so initiation never creates them.
	MarkOrderPendingPayment(ctx context.Context, orderID uuid.UUID, fee, net int64, payerPhone string) error

	// Aggregate updates, each applied at most once per completed transaction
	IncrementCreatorTotals(ctx context.Context, creatorID uuid.UUID, netAmount int64, payerPhone string) error
	RecomputeNomineeVotes(ctx context.Context, nomineeID uuid.UUID, votePriceCents int64) error
	IncrementCampaignProgress(ctx context.Context, campaignID uuid.UUID, amount int64) error
	MarkOrderProcessing(ctx context.Context, orderID uuid.UUID) (bool, error)
	DecrementTicketInventory(ctx context.Context, ticketTypeID uuid.UUID, quantity int) (bool, error)
}
