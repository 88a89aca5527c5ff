package fees

import (
	"errors"
	"testing"

	"github.com/fanlipa/payments-service/internal/domain"
)

func TestSplit_KnownRates(t *testing.T) {
	cases := []struct {
		name    string
		kind    domain.PaymentKind
		gross   int64
		wantFee int64
		wantNet int64
	}{
		{"gift of 200 at 5%", domain.KindGift, 200, 10, 190},
		{"donation of 200 at 5%", domain.KindDonation, 200, 10, 190},
		{"vote of 150 at 20%", domain.KindVote, 150, 30, 120},
		{"merch order at 10%", domain.KindMerchOrder, 1000, 100, 900},
		{"campaign contribution at 5%", domain.KindCampaignContribution, 10000, 500, 9500},
		{"ticket purchase at 5%", domain.KindTicketPurchase, 2500, 125, 2375},
		{"fee floors on odd amounts", domain.KindDonation, 199, 9, 190},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Split(tc.kind, tc.gross)
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if got.PlatformFee != tc.wantFee {
				t.Errorf("platform fee = %d, want %d", got.PlatformFee, tc.wantFee)
			}
			if got.NetAmount != tc.wantNet {
				t.Errorf("net amount = %d, want %d", got.NetAmount, tc.wantNet)
			}
		})
	}
}

func TestSplit_FeePlusNetEqualsGross(t *testing.T) {
	amounts := []int64{1, 7, 99, 100, 101, 150, 199, 200, 12345, 1_000_000_001}
	for _, kind := range domain.AllKinds {
		for _, gross := range amounts {
			got, err := Split(kind, gross)
			if err != nil {
				t.Fatalf("Split(%s, %d): %v", kind, gross, err)
			}
			if got.PlatformFee+got.NetAmount != gross {
				t.Errorf("Split(%s, %d): fee %d + net %d != gross", kind, gross, got.PlatformFee, got.NetAmount)
			}
			if got.PlatformFee < 0 || got.NetAmount < 0 {
				t.Errorf("Split(%s, %d): negative component fee=%d net=%d", kind, gross, got.PlatformFee, got.NetAmount)
			}
		}
	}
}

func TestSplit_RejectsNonPositiveAmounts(t *testing.T) {
	for _, gross := range []int64{0, -1, -200} {
		if _, err := Split(domain.KindDonation, gross); !errors.Is(err, ErrNonPositiveAmount) {
			t.Errorf("Split(donation, %d) error = %v, want ErrNonPositiveAmount", gross, err)
		}
	}
}

func TestSplit_UnknownKind(t *testing.T) {
	if _, err := Split(domain.PaymentKind("subscription"), 100); err == nil {
		t.Fatal("expected an error for an unknown kind")
	}
}

func TestRateTableCoversEveryKind(t *testing.T) {
	for _, kind := range domain.AllKinds {
		if _, ok := RateBps(kind); !ok {
			t.Errorf("no fee rate configured for kind %q", kind)
		}
	}
}
