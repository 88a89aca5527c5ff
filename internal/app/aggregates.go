/**
 * @description
 * Per-kind aggregate updates applied exactly once when a payment completes.
 * Each updater is idempotent at the store level where possible (supporter
 * dedupe, conditional order transition), but the primary at-most-once guard
 * is the reconciler's conditional completion: updaters only run on the one
 * delivery that actually flipped the record to completed.
 */

package app

import (
	"context"
	"fmt"

	"github.com/fanlipa/payments-service/internal/domain"
	"github.com/fanlipa/payments-service/internal/store"
)

type aggregateUpdater func(ctx context.Context, repo store.Repository, record *domain.PendingTransaction, votePriceCents int64) error

// aggregateUpdaters dispatches the post-completion side effect for each kind.
var aggregateUpdaters = map[domain.PaymentKind]aggregateUpdater{
	domain.KindDonation: creatorTotalsUpdater,
	domain.KindGift:     creatorTotalsUpdater,

	domain.KindVote: func(ctx context.Context, repo store.Repository, record *domain.PendingTransaction, votePriceCents int64) error {
		if record.Refs.NomineeID == nil {
			return fmt.Errorf("completed vote %s has no nominee reference", record.ID)
		}
		// The tally is recomputed from completed vote payments rather than
		// incremented, so a drifted count self-corrects on the next vote.
		return repo.RecomputeNomineeVotes(ctx, *record.Refs.NomineeID, votePriceCents)
	},

	domain.KindCampaignContribution: func(ctx context.Context, repo store.Repository, record *domain.PendingTransaction, _ int64) error {
		if record.Refs.CampaignID == nil {
			return fmt.Errorf("completed contribution %s has no campaign reference", record.ID)
		}
		return repo.IncrementCampaignProgress(ctx, *record.Refs.CampaignID, record.GrossAmount)
	},

	domain.KindMerchOrder: func(ctx context.Context, repo store.Repository, record *domain.PendingTransaction, _ int64) error {
		// Move the paid order onto the fulfillment track. The transition is
		// conditional on the order still reading completed, so a repeat
		// reports no change instead of clobbering later fulfillment states.
		changed, err := repo.MarkOrderProcessing(ctx, record.ID)
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("order %s was not in a transitionable state", record.ID)
		}
		return nil
	},

	domain.KindTicketPurchase: func(ctx context.Context, repo store.Repository, record *domain.PendingTransaction, _ int64) error {
		if record.Refs.TicketTypeID == nil {
			return fmt.Errorf("completed ticket purchase %s has no ticket type reference", record.ID)
		}
		quantity := record.Refs.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		decremented, err := repo.DecrementTicketInventory(ctx, *record.Refs.TicketTypeID, quantity)
		if err != nil {
			return err
		}
		if !decremented {
			// Inventory was oversold between initiation and completion. The
			// payment itself stands; the discrepancy is flagged for support.
			return fmt.Errorf("ticket type %s had insufficient inventory for quantity %d at settlement", *record.Refs.TicketTypeID, quantity)
		}
		return nil
	},
}

func creatorTotalsUpdater(ctx context.Context, repo store.Repository, record *domain.PendingTransaction, _ int64) error {
	if record.Refs.CreatorID == nil {
		return fmt.Errorf("completed %s %s has no creator reference", record.Kind, record.ID)
	}
	return repo.IncrementCreatorTotals(ctx, *record.Refs.CreatorID, record.NetAmount, record.PayerPhone)
}
