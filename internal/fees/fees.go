/**
 * @description
 * This package computes the platform/creator fee split for a payment. It is a
 * pure function of the payment kind and the gross amount: no I/O, no state.
 *
 * @notes
 * - Rates are a static table over the closed PaymentKind enum, so adding a
 *   kind without a rate is caught by the exhaustiveness test rather than by a
 *   missed branch at runtime.
 * - The invariant PlatformFee + NetAmount == GrossAmount holds for every
 *   positive gross amount.
 */

package fees

import (
	"errors"
	"fmt"

	"github.com/fanlipa/payments-service/internal/domain"
)

// ErrNonPositiveAmount is returned when the gross amount is zero or negative.
var ErrNonPositiveAmount = errors.New("gross amount must be positive")

// Fee rates in basis points per payment kind.
const (
	voteFeeBps    = 2000 // 20%
	merchFeeBps   = 1000 // 10%
	defaultFeeBps = 500  // 5% for donations, gifts, campaigns, tickets
)

var rateBpsByKind = map[domain.PaymentKind]int64{
	domain.KindDonation:             defaultFeeBps,
	domain.KindVote:                 voteFeeBps,
	domain.KindGift:                 defaultFeeBps,
	domain.KindCampaignContribution: defaultFeeBps,
	domain.KindMerchOrder:           merchFeeBps,
	domain.KindTicketPurchase:       defaultFeeBps,
}

// Breakdown is the result of splitting a gross amount between the platform
// and the creator.
type Breakdown struct {
	PlatformFee int64
	NetAmount   int64
}

// Split computes the platform fee and creator net for a gross amount in
// cents. It rejects non-positive amounts and unknown kinds.
func Split(kind domain.PaymentKind, gross int64) (Breakdown, error) {
	if gross <= 0 {
		return Breakdown{}, ErrNonPositiveAmount
	}
	rate, ok := rateBpsByKind[kind]
	if !ok {
		return Breakdown{}, fmt.Errorf("no fee rate for payment kind %q", kind)
	}
	fee := gross * rate / 10000
	return Breakdown{PlatformFee: fee, NetAmount: gross - fee}, nil
}

// RateBps exposes the configured rate for a kind, mainly for reporting.
func RateBps(kind domain.PaymentKind) (int64, bool) {
	rate, ok := rateBpsByKind[kind]
	return rate, ok
}
