package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/fanlipa/payments-service/internal/domain"
	"github.com/fanlipa/payments-service/internal/store"
)

type statusRepoStub struct {
	store.Repository

	record *domain.PendingTransaction
}

func (s *statusRepoStub) FindPendingTransaction(ctx context.Context, kind domain.PaymentKind, id uuid.UUID) (*domain.PendingTransaction, error) {
	if s.record == nil {
		return nil, store.ErrRecordNotFound
	}
	return s.record, nil
}

func TestPaymentStatus_PassthroughForSimpleKinds(t *testing.T) {
	receipt := "ABC123"
	for _, status := range []string{domain.StatusPending, domain.StatusCompleted, domain.StatusFailed} {
		repo := &statusRepoStub{record: &domain.PendingTransaction{
			ID:      uuid.New(),
			Kind:    domain.KindDonation,
			Status:  status,
			Receipt: &receipt,
		}}
		svc := newTestService(repo, &gatewayStub{})

		result, err := svc.PaymentStatus(context.Background(), domain.KindDonation, repo.record.ID)
		if err != nil {
			t.Fatalf("status %q: expected nil error, got %v", status, err)
		}
		if result.Status != status {
			t.Errorf("status = %q, want %q", result.Status, status)
		}
		if result.Receipt == nil || *result.Receipt != receipt {
			t.Errorf("receipt not passed through for status %q", status)
		}
	}
}

func TestPaymentStatus_MerchFulfillmentReadsAsCompleted(t *testing.T) {
	cases := map[string]string{
		domain.OrderStatusDraft:      domain.StatusPending,
		domain.StatusPending:         domain.StatusPending,
		domain.StatusCompleted:       domain.StatusCompleted,
		domain.StatusFailed:          domain.StatusFailed,
		domain.OrderStatusProcessing: domain.StatusCompleted,
		domain.OrderStatusShipped:    domain.StatusCompleted,
		domain.OrderStatusDelivered:  domain.StatusCompleted,
	}

	for orderStatus, want := range cases {
		repo := &statusRepoStub{record: &domain.PendingTransaction{
			ID:     uuid.New(),
			Kind:   domain.KindMerchOrder,
			Status: orderStatus,
		}}
		svc := newTestService(repo, &gatewayStub{})

		result, err := svc.PaymentStatus(context.Background(), domain.KindMerchOrder, repo.record.ID)
		if err != nil {
			t.Fatalf("order status %q: expected nil error, got %v", orderStatus, err)
		}
		if result.Status != want {
			t.Errorf("order status %q reads as %q, want %q", orderStatus, result.Status, want)
		}
	}
}

func TestPaymentStatus_UnknownKind(t *testing.T) {
	svc := newTestService(&statusRepoStub{}, &gatewayStub{})
	if _, err := svc.PaymentStatus(context.Background(), "subscription", uuid.New()); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("error = %v, want ErrUnknownKind", err)
	}
}

func TestPaymentStatus_RecordNotFound(t *testing.T) {
	svc := newTestService(&statusRepoStub{}, &gatewayStub{})
	if _, err := svc.PaymentStatus(context.Background(), domain.KindGift, uuid.New()); !errors.Is(err, store.ErrRecordNotFound) {
		t.Fatalf("error = %v, want ErrRecordNotFound", err)
	}
}
