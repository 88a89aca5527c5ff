/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Each payment kind has its own pending store table; the tables share a common
 * column core, so the generic operations (find, delete, token attach, status
 * transitions) are built from a per-kind table map while kind-specific inserts
 * handle the differing foreign-reference columns.
 *
 * @dependencies
 * - context, errors, fmt: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fanlipa/payments-service/internal/domain"
)

var (
	ErrNoActiveGatewayConfig = errors.New("no active gateway configuration")
	ErrRecordNotFound        = errors.New("pending transaction not found")
	ErrCorrelationNotFound   = errors.New("correlation token not found")
	ErrOrderNotFound         = errors.New("merch order not found")
	ErrOrderNotPayable       = errors.New("merch order is not payable")
	ErrTicketTypeNotFound    = errors.New("ticket type not found")
	ErrTokenAlreadyAttached  = errors.New("checkout request id already attached")
)

// pendingTable describes how one payment kind maps onto its store table.
// The set of tables is closed over the PaymentKind enum; names never come
// from user input.
type pendingTable struct {
	name        string
	refColumn   string
	hasQuantity bool
	setRef      func(refs *domain.KindRefs, id *uuid.UUID)
	getRef      func(refs domain.KindRefs) *uuid.UUID
}

var pendingTables = map[domain.PaymentKind]pendingTable{
	domain.KindDonation: {
		name: "donations", refColumn: "creator_id",
		setRef: func(r *domain.KindRefs, id *uuid.UUID) { r.CreatorID = id },
		getRef: func(r domain.KindRefs) *uuid.UUID { return r.CreatorID },
	},
	domain.KindVote: {
		name: "vote_payments", refColumn: "nominee_id",
		setRef: func(r *domain.KindRefs, id *uuid.UUID) { r.NomineeID = id },
		getRef: func(r domain.KindRefs) *uuid.UUID { return r.NomineeID },
	},
	domain.KindGift: {
		name: "gifts", refColumn: "creator_id",
		setRef: func(r *domain.KindRefs, id *uuid.UUID) { r.CreatorID = id },
		getRef: func(r domain.KindRefs) *uuid.UUID { return r.CreatorID },
	},
	domain.KindCampaignContribution: {
		name: "campaign_contributions", refColumn: "campaign_id",
		setRef: func(r *domain.KindRefs, id *uuid.UUID) { r.CampaignID = id },
		getRef: func(r domain.KindRefs) *uuid.UUID { return r.CampaignID },
	},
	domain.KindMerchOrder: {
		name: "merch_orders", refColumn: "creator_id",
		setRef: func(r *domain.KindRefs, id *uuid.UUID) { r.CreatorID = id },
		getRef: func(r domain.KindRefs) *uuid.UUID { return r.CreatorID },
	},
	domain.KindTicketPurchase: {
		name: "ticket_purchases", refColumn: "ticket_type_id", hasQuantity: true,
		setRef: func(r *domain.KindRefs, id *uuid.UUID) { r.TicketTypeID = id },
		getRef: func(r domain.KindRefs) *uuid.UUID { return r.TicketTypeID },
	},
}

func tableFor(kind domain.PaymentKind) (pendingTable, error) {
	t, ok := pendingTables[kind]
	if !ok {
		return pendingTable{}, fmt.Errorf("unknown payment kind %q", kind)
	}
	return t, nil
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindActiveGatewayConfig loads the single active+primary gateway configuration.
func (r *PostgresRepository) FindActiveGatewayConfig(ctx context.Context) (*domain.GatewayConfig, error) {
	var cfg domain.GatewayConfig
	query := `
		SELECT id, short_code, consumer_key, consumer_secret, passkey, environment, is_active, is_primary
		FROM gateway_configs
		WHERE is_active = TRUE AND is_primary = TRUE
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query).Scan(
		&cfg.ID, &cfg.ShortCode, &cfg.ConsumerKey, &cfg.ConsumerSecret,
		&cfg.Passkey, &cfg.Environment, &cfg.IsActive, &cfg.IsPrimary,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNoActiveGatewayConfig
		}
		return nil, err
	}
	return &cfg, nil
}

// CreatePendingTransaction inserts a provisional record into the kind's store.
// Merch orders predate their payment and are transitioned, never created here.
func (r *PostgresRepository) CreatePendingTransaction(ctx context.Context, tx *domain.PendingTransaction) error {
	if tx.Kind == domain.KindMerchOrder {
		return fmt.Errorf("merch orders are created by the order flow, not by payment initiation")
	}
	t, err := tableFor(tx.Kind)
	if err != nil {
		return err
	}
	ref := t.getRef(tx.Refs)
	if ref == nil {
		return fmt.Errorf("missing %s reference for kind %q", t.refColumn, tx.Kind)
	}

	if t.hasQuantity {
		query := fmt.Sprintf(`
			INSERT INTO %s (id, %s, quantity, gross_amount, platform_fee, net_amount, payer_phone, payer_name, message, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		`, t.name, t.refColumn)
		_, err = r.db.Exec(ctx, query,
			tx.ID, ref, tx.Refs.Quantity, tx.GrossAmount, tx.PlatformFee, tx.NetAmount,
			tx.PayerPhone, tx.PayerName, tx.Message, tx.Status,
		)
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, %s, gross_amount, platform_fee, net_amount, payer_phone, payer_name, message, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, t.name, t.refColumn)
	_, err = r.db.Exec(ctx, query,
		tx.ID, ref, tx.GrossAmount, tx.PlatformFee, tx.NetAmount,
		tx.PayerPhone, tx.PayerName, tx.Message, tx.Status,
	)
	return err
}

// FindPendingTransaction loads one record from the kind's store.
func (r *PostgresRepository) FindPendingTransaction(ctx context.Context, kind domain.PaymentKind, id uuid.UUID) (*domain.PendingTransaction, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	quantitySelect := "0"
	if t.hasQuantity {
		quantitySelect = "quantity"
	}
	query := fmt.Sprintf(`
		SELECT id, %s, %s, gross_amount, platform_fee, net_amount, payer_phone,
		       COALESCE(payer_name, ''), COALESCE(message, ''),
		       checkout_request_id, receipt, status, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, t.refColumn, quantitySelect, t.name)

	tx := domain.PendingTransaction{Kind: kind}
	var ref *uuid.UUID
	err = r.db.QueryRow(ctx, query, id).Scan(
		&tx.ID, &ref, &tx.Refs.Quantity, &tx.GrossAmount, &tx.PlatformFee, &tx.NetAmount,
		&tx.PayerPhone, &tx.PayerName, &tx.Message,
		&tx.CheckoutRequestID, &tx.Receipt, &tx.Status, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	t.setRef(&tx.Refs, ref)
	return &tx, nil
}

// DeletePendingTransaction removes a provisional record after the gateway
// rejected the push request. The initiator never calls this for merch orders.
func (r *PostgresRepository) DeletePendingTransaction(ctx context.Context, kind domain.PaymentKind, id uuid.UUID) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	result, err := r.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t.name), id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// AttachCheckoutRequestID stamps the correlation token on the record and
// writes the correlation index row in the same database transaction, so the
// reconciler's kind-agnostic lookup can never observe a half-indexed token.
func (r *PostgresRepository) AttachCheckoutRequestID(ctx context.Context, kind domain.PaymentKind, id uuid.UUID, checkoutRequestID string) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}

	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin attach tx: %w", err)
	}
	defer dbTx.Rollback(ctx)

	update := fmt.Sprintf(`
		UPDATE %s SET checkout_request_id = $2, updated_at = NOW()
		WHERE id = $1 AND checkout_request_id IS NULL
	`, t.name)
	result, err := dbTx.Exec(ctx, update, id, checkoutRequestID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTokenAlreadyAttached
	}

	index := `
		INSERT INTO correlation_index (checkout_request_id, kind, record_id, created_at)
		VALUES ($1, $2, $3, NOW())
	`
	if _, err := dbTx.Exec(ctx, index, checkoutRequestID, string(kind), id); err != nil {
		return fmt.Errorf("insert correlation index: %w", err)
	}

	return dbTx.Commit(ctx)
}

// FindCorrelationRef resolves a correlation token to its owning kind and
// record id with a single point lookup.
func (r *PostgresRepository) FindCorrelationRef(ctx context.Context, checkoutRequestID string) (*domain.CorrelationRef, error) {
	var ref domain.CorrelationRef
	var kind string
	query := `SELECT checkout_request_id, kind, record_id FROM correlation_index WHERE checkout_request_id = $1`
	err := r.db.QueryRow(ctx, query, checkoutRequestID).Scan(&ref.CheckoutRequestID, &kind, &ref.RecordID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCorrelationNotFound
		}
		return nil, err
	}
	ref.Kind = domain.PaymentKind(kind)
	return &ref, nil
}

// MarkCompletedIfPending performs the atomic conditional completion. The
// returned boolean reports whether this call won the transition; callers gate
// every side effect on it so duplicate deliveries naturally no-op.
func (r *PostgresRepository) MarkCompletedIfPending(ctx context.Context, kind domain.PaymentKind, id uuid.UUID, receipt string) (bool, error) {
	t, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, receipt = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, t.name)
	result, err := r.db.Exec(ctx, query, id, domain.StatusCompleted, receipt, domain.StatusPending)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// MarkFailedIfPending performs the atomic conditional failure transition.
func (r *PostgresRepository) MarkFailedIfPending(ctx context.Context, kind domain.PaymentKind, id uuid.UUID) (bool, error) {
	t, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, t.name)
	result, err := r.db.Exec(ctx, query, id, domain.StatusFailed, domain.StatusPending)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// AppendLedgerEntry inserts an immutable settlement record. There is no
// update or delete path for ledger entries.
func (r *PostgresRepository) AppendLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (id, kind, record_id, gross_amount, platform_fee, net_amount, receipt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err := r.db.Exec(ctx, query,
		entry.ID, string(entry.Kind), entry.RecordID,
		entry.GrossAmount, entry.PlatformFee, entry.NetAmount, entry.Receipt,
	)
	return err
}

// CreatorExists reports whether a creator profile exists.
func (r *PostgresRepository) CreatorExists(ctx context.Context, creatorID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM creators WHERE id = $1)`, creatorID).Scan(&exists)
	return exists, err
}

// NomineeExists reports whether an award nominee exists.
func (r *PostgresRepository) NomineeExists(ctx context.Context, nomineeID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM award_nominees WHERE id = $1)`, nomineeID).Scan(&exists)
	return exists, err
}

// CampaignExists reports whether a crowdfunding campaign exists.
func (r *PostgresRepository) CampaignExists(ctx context.Context, campaignID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM campaigns WHERE id = $1)`, campaignID).Scan(&exists)
	return exists, err
}

// FindTicketTypeByID loads a ticket tier with its remaining inventory.
func (r *PostgresRepository) FindTicketTypeByID(ctx context.Context, ticketTypeID uuid.UUID) (*domain.TicketType, error) {
	var tt domain.TicketType
	query := `SELECT id, event_id, name, price_cents, quantity_available FROM ticket_types WHERE id = $1`
	err := r.db.QueryRow(ctx, query, ticketTypeID).Scan(&tt.ID, &tt.EventID, &tt.Name, &tt.PriceCents, &tt.QuantityAvailable)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTicketTypeNotFound
		}
		return nil, err
	}
	return &tt, nil
}

// FindMerchOrderByID loads an existing merchandise order.
func (r *PostgresRepository) FindMerchOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.MerchOrder, error) {
	var order domain.MerchOrder
	query := `SELECT id, order_number, creator_id, status, gross_amount, created_at FROM merch_orders WHERE id = $1`
	err := r.db.QueryRow(ctx, query, orderID).Scan(
		&order.ID, &order.OrderNumber, &order.CreatorID, &order.Status, &order.GrossAmount, &order.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// MarkOrderPendingPayment transitions an order onto the payment track. Draft
// and pending orders are both eligible so a rejected push can be retried; any
// other status means the order already settled or left the payment path.
func (r *PostgresRepository) MarkOrderPendingPayment(ctx context.Context, orderID uuid.UUID, fee, net int64, payerPhone string) error {
	query := `
		UPDATE merch_orders
		SET status = $2, platform_fee = $3, net_amount = $4, payer_phone = $5, updated_at = NOW()
		WHERE id = $1 AND status IN ($6, $2)
	`
	result, err := r.db.Exec(ctx, query, orderID, domain.StatusPending, fee, net, payerPhone, domain.OrderStatusDraft)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrOrderNotPayable
	}
	return nil
}

// IncrementCreatorTotals bumps a creator's running totals. The supporter
// count only moves when this payer phone has not supported the creator
// before; the dedupe insert and the totals update run as one statement.
func (r *PostgresRepository) IncrementCreatorTotals(ctx context.Context, creatorID uuid.UUID, netAmount int64, payerPhone string) error {
	query := `
		WITH new_supporter AS (
			INSERT INTO creator_supporters (creator_id, payer_phone, first_seen_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (creator_id, payer_phone) DO NOTHING
			RETURNING 1
		)
		UPDATE creators
		SET total_raised = total_raised + $3,
		    supporter_count = supporter_count + (SELECT COUNT(*) FROM new_supporter),
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, creatorID, payerPhone, netAmount)
	return err
}

// RecomputeNomineeVotes recomputes the nominee tally from completed vote
// payments. Votes derive from the gross amount, independent of the fee;
// integer division floors each payment's vote count.
func (r *PostgresRepository) RecomputeNomineeVotes(ctx context.Context, nomineeID uuid.UUID, votePriceCents int64) error {
	if votePriceCents <= 0 {
		return fmt.Errorf("vote price must be positive, got %d", votePriceCents)
	}
	query := `
		UPDATE award_nominees
		SET vote_count = (
			SELECT COALESCE(SUM(gross_amount / $2), 0)
			FROM vote_payments
			WHERE nominee_id = $1 AND status = $3
		), updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, nomineeID, votePriceCents, domain.StatusCompleted)
	return err
}

// IncrementCampaignProgress bumps a campaign's current amount and supporter count.
func (r *PostgresRepository) IncrementCampaignProgress(ctx context.Context, campaignID uuid.UUID, amount int64) error {
	query := `
		UPDATE campaigns
		SET current_amount = current_amount + $2,
		    supporter_count = supporter_count + 1,
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, campaignID, amount)
	return err
}

// MarkOrderProcessing moves a paid order onto the fulfillment track. The
// transition only fires from the completed payment state, so replays no-op.
func (r *PostgresRepository) MarkOrderProcessing(ctx context.Context, orderID uuid.UUID) (bool, error) {
	query := `
		UPDATE merch_orders SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`
	result, err := r.db.Exec(ctx, query, orderID, domain.OrderStatusProcessing, domain.StatusCompleted)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// DecrementTicketInventory reduces remaining inventory, refusing to go below
// zero. Returns false when the tier no longer has enough tickets.
func (r *PostgresRepository) DecrementTicketInventory(ctx context.Context, ticketTypeID uuid.UUID, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, fmt.Errorf("quantity must be positive, got %d", quantity)
	}
	query := `
		UPDATE ticket_types
		SET quantity_available = quantity_available - $2
		WHERE id = $1 AND quantity_available >= $2
	`
	result, err := r.db.Exec(ctx, query, ticketTypeID, quantity)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}
