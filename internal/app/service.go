/**
 * @description
 * This file contains the payment initiation and status resolution logic for the
 * payments-service. The `Service` struct orchestrates the synchronous half of a
 * payment's life: validate the request for its kind, compute the fee split,
 * create the provisional record, push the payment request to the gateway, and
 * either attach the returned correlation token or compensate.
 *
 * Key features:
 * - The six payment kinds are dispatched through one handler table; adding a
 *   kind is a table entry, not a new branch chain.
 * - A rejected gateway call never leaves an orphaned provisional record, with
 *   the single exception of merchandise orders, which predate their payment
 *   and carry real inventory commitments.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/fees, internal/store: Domain models, fee split, data access.
 * - pkg/daraja: The M-PESA gateway client.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fanlipa/payments-service/internal/domain"
	"github.com/fanlipa/payments-service/internal/fees"
	"github.com/fanlipa/payments-service/internal/metrics"
	"github.com/fanlipa/payments-service/internal/store"
	"github.com/fanlipa/payments-service/pkg/daraja"
)

var (
	ErrUnknownKind          = errors.New("unknown payment kind")
	ErrInvalidAmount        = errors.New("amount must be a positive number of cents")
	ErrMissingCreatorRef    = errors.New("a creator reference is required for this payment kind")
	ErrMissingNomineeRef    = errors.New("a nominee reference is required for votes")
	ErrMissingCampaignRef   = errors.New("a campaign reference is required for contributions")
	ErrMissingOrderRef      = errors.New("an order reference is required for merchandise payments")
	ErrMissingTicketTypeRef = errors.New("a ticket type reference is required for ticket purchases")
	ErrUnknownReference     = errors.New("referenced record does not exist")
	ErrInsufficientTickets  = errors.New("not enough tickets remaining for this quantity")
	ErrGatewayRejected      = errors.New("payment gateway rejected the push request")
)

// GatewayClient is the slice of the Daraja client the service depends on,
// kept as an interface so tests can run without HTTP.
type GatewayClient interface {
	STKPush(ctx context.Context, cfg *domain.GatewayConfig, phone string, amount int64, accountRef, description string) (*daraja.STKPushResponse, error)
}

// Service provides payment initiation and status resolution.
type Service struct {
	repo           store.Repository
	gateway        GatewayClient
	gatewayTimeout time.Duration
	votePriceCents int64
}

// NewService creates a new payments service instance.
func NewService(repo store.Repository, gateway GatewayClient, gatewayTimeout time.Duration, votePriceCents int64) *Service {
	if gatewayTimeout <= 0 {
		gatewayTimeout = 30 * time.Second
	}
	return &Service{
		repo:           repo,
		gateway:        gateway,
		gatewayTimeout: gatewayTimeout,
		votePriceCents: votePriceCents,
	}
}

// kindSpec describes how one payment kind plugs into the shared initiation
// flow: how its references are validated and captured, and how the gateway
// transaction description is built.
type kindSpec struct {
	validate func(ctx context.Context, s *Service, req *domain.InitiatePaymentRequest) error
	refs     func(req *domain.InitiatePaymentRequest) domain.KindRefs
	describe func(req *domain.InitiatePaymentRequest) string
}

var kindSpecs = map[domain.PaymentKind]kindSpec{
	domain.KindDonation: {
		validate: requireCreator,
		refs:     creatorRefs,
		describe: func(*domain.InitiatePaymentRequest) string { return "Fanlipa donation" },
	},
	domain.KindGift: {
		validate: requireCreator,
		refs:     creatorRefs,
		describe: func(*domain.InitiatePaymentRequest) string { return "Fanlipa gift" },
	},
	domain.KindVote: {
		validate: func(ctx context.Context, s *Service, req *domain.InitiatePaymentRequest) error {
			if req.NomineeID == nil {
				return ErrMissingNomineeRef
			}
			exists, err := s.repo.NomineeExists(ctx, *req.NomineeID)
			if err != nil {
				return fmt.Errorf("check nominee: %w", err)
			}
			if !exists {
				return ErrUnknownReference
			}
			return nil
		},
		refs: func(req *domain.InitiatePaymentRequest) domain.KindRefs {
			return domain.KindRefs{NomineeID: req.NomineeID}
		},
		describe: func(*domain.InitiatePaymentRequest) string { return "Fanlipa award vote" },
	},
	domain.KindCampaignContribution: {
		validate: func(ctx context.Context, s *Service, req *domain.InitiatePaymentRequest) error {
			if req.CampaignID == nil {
				return ErrMissingCampaignRef
			}
			exists, err := s.repo.CampaignExists(ctx, *req.CampaignID)
			if err != nil {
				return fmt.Errorf("check campaign: %w", err)
			}
			if !exists {
				return ErrUnknownReference
			}
			return nil
		},
		refs: func(req *domain.InitiatePaymentRequest) domain.KindRefs {
			return domain.KindRefs{CampaignID: req.CampaignID}
		},
		describe: func(*domain.InitiatePaymentRequest) string { return "Fanlipa campaign contribution" },
	},
	domain.KindMerchOrder: {
		validate: func(ctx context.Context, s *Service, req *domain.InitiatePaymentRequest) error {
			if req.OrderID == nil {
				return ErrMissingOrderRef
			}
			return nil
		},
		refs: func(req *domain.InitiatePaymentRequest) domain.KindRefs {
			return domain.KindRefs{}
		},
		describe: func(*domain.InitiatePaymentRequest) string { return "Fanlipa merch order" },
	},
	domain.KindTicketPurchase: {
		validate: func(ctx context.Context, s *Service, req *domain.InitiatePaymentRequest) error {
			if req.TicketTypeID == nil {
				return ErrMissingTicketTypeRef
			}
			quantity := req.Quantity
			if quantity <= 0 {
				quantity = 1
			}
			tt, err := s.repo.FindTicketTypeByID(ctx, *req.TicketTypeID)
			if err != nil {
				if errors.Is(err, store.ErrTicketTypeNotFound) {
					return ErrUnknownReference
				}
				return fmt.Errorf("check ticket type: %w", err)
			}
			if tt.QuantityAvailable < quantity {
				return ErrInsufficientTickets
			}
			return nil
		},
		refs: func(req *domain.InitiatePaymentRequest) domain.KindRefs {
			quantity := req.Quantity
			if quantity <= 0 {
				quantity = 1
			}
			return domain.KindRefs{TicketTypeID: req.TicketTypeID, Quantity: quantity}
		},
		describe: func(*domain.InitiatePaymentRequest) string { return "Fanlipa event ticket" },
	},
}

func requireCreator(ctx context.Context, s *Service, req *domain.InitiatePaymentRequest) error {
	if req.CreatorID == nil {
		return ErrMissingCreatorRef
	}
	exists, err := s.repo.CreatorExists(ctx, *req.CreatorID)
	if err != nil {
		return fmt.Errorf("check creator: %w", err)
	}
	if !exists {
		return ErrUnknownReference
	}
	return nil
}

func creatorRefs(req *domain.InitiatePaymentRequest) domain.KindRefs {
	return domain.KindRefs{CreatorID: req.CreatorID}
}

// InitiatePayment runs the synchronous half of a payment: validation, fee
// split, provisional record, gateway push, token attach. The returned record
// id is what the client polls until the asynchronous callback resolves it.
func (s *Service) InitiatePayment(ctx context.Context, req domain.InitiatePaymentRequest) (*domain.InitiatePaymentResult, error) {
	spec, ok := kindSpecs[req.Kind]
	if !ok {
		return nil, ErrUnknownKind
	}

	phone, err := daraja.NormalizePhone(req.PayerPhone)
	if err != nil {
		return nil, err
	}

	if err := spec.validate(ctx, s, &req); err != nil {
		return nil, err
	}

	// Merch orders already exist and carry their own gross amount; every
	// other kind takes the amount from the request.
	gross := req.Amount
	var order *domain.MerchOrder
	if req.Kind == domain.KindMerchOrder {
		order, err = s.repo.FindMerchOrderByID(ctx, *req.OrderID)
		if err != nil {
			if errors.Is(err, store.ErrOrderNotFound) {
				return nil, ErrUnknownReference
			}
			return nil, fmt.Errorf("load order: %w", err)
		}
		gross = order.GrossAmount
	}

	split, err := fees.Split(req.Kind, gross)
	if err != nil {
		if errors.Is(err, fees.ErrNonPositiveAmount) {
			return nil, ErrInvalidAmount
		}
		return nil, err
	}

	// Resolve the gateway configuration before touching any store, so a
	// configuration error leaves nothing to compensate.
	gatewayCfg, err := s.repo.FindActiveGatewayConfig(ctx)
	if err != nil {
		return nil, err
	}

	var recordID uuid.UUID
	if req.Kind == domain.KindMerchOrder {
		if err := s.repo.MarkOrderPendingPayment(ctx, order.ID, split.PlatformFee, split.NetAmount, phone); err != nil {
			return nil, err
		}
		recordID = order.ID
	} else {
		record := &domain.PendingTransaction{
			ID:          uuid.New(),
			Kind:        req.Kind,
			GrossAmount: gross,
			PlatformFee: split.PlatformFee,
			NetAmount:   split.NetAmount,
			PayerPhone:  phone,
			PayerName:   strings.TrimSpace(req.PayerName),
			Message:     strings.TrimSpace(req.Message),
			Status:      domain.StatusPending,
			Refs:        spec.refs(&req),
		}
		if err := s.repo.CreatePendingTransaction(ctx, record); err != nil {
			return nil, fmt.Errorf("create provisional record: %w", err)
		}
		recordID = record.ID
	}
	metrics.PaymentsInitiated.WithLabelValues(string(req.Kind)).Inc()

	pushCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	pushResp, err := s.gateway.STKPush(pushCtx, gatewayCfg, phone, gross, accountReference(recordID), spec.describe(&req))
	if err != nil {
		s.compensateRejectedPush(ctx, req.Kind, recordID, err)
		var rejection *daraja.RejectionError
		var gatewayErr *daraja.ErrorResponse
		if errors.As(err, &rejection) || errors.As(err, &gatewayErr) {
			metrics.StkPushRequests.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
		}
		metrics.StkPushRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("gateway push failed: %w", err)
	}
	metrics.StkPushRequests.WithLabelValues("accepted").Inc()

	if err := s.repo.AttachCheckoutRequestID(ctx, req.Kind, recordID, pushResp.CheckoutRequestID); err != nil {
		// The push is in flight but we cannot correlate its result; the
		// callback will land as an unknown token and be dropped.
		log.Printf("level=error component=payments msg=\"failed to attach checkout request id\" kind=%s record_id=%s checkout_request_id=%s err=%v",
			req.Kind, recordID, pushResp.CheckoutRequestID, err)
		return nil, fmt.Errorf("attach correlation token: %w", err)
	}

	log.Printf("level=info component=payments outcome=initiated kind=%s record_id=%s amount=%d fee=%d checkout_request_id=%s",
		req.Kind, recordID, gross, split.PlatformFee, pushResp.CheckoutRequestID)

	message := pushResp.CustomerMessage
	if message == "" {
		message = pushResp.ResponseDescription
	}
	return &domain.InitiatePaymentResult{RecordID: recordID, ProviderMessage: message}, nil
}

// compensateRejectedPush removes the provisional record a rejected push left
// behind. Orders are exempt: they predate the payment and their lifecycle is
// reconciled by order-status logic, not by payment initiation.
func (s *Service) compensateRejectedPush(ctx context.Context, kind domain.PaymentKind, recordID uuid.UUID, pushErr error) {
	if kind == domain.KindMerchOrder {
		log.Printf("level=warn component=payments msg=\"gateway rejected order payment; order left intact\" record_id=%s err=%v", recordID, pushErr)
		return
	}
	if err := s.repo.DeletePendingTransaction(ctx, kind, recordID); err != nil {
		log.Printf("level=error component=payments msg=\"failed to compensate provisional record after gateway rejection\" kind=%s record_id=%s err=%v",
			kind, recordID, err)
	}
}

// PaymentStatus answers "what is the current status of transaction T of kind
// K" for client-side polling. A merchandise order that has moved onto the
// fulfillment track reads as completed: the payment succeeded even though
// fulfillment continues. That mapping lives here and only here.
func (s *Service) PaymentStatus(ctx context.Context, kind domain.PaymentKind, id uuid.UUID) (*domain.PaymentStatusResult, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	record, err := s.repo.FindPendingTransaction(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	status := record.Status
	if kind == domain.KindMerchOrder {
		switch status {
		case domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered:
			status = domain.StatusCompleted
		case domain.OrderStatusDraft:
			status = domain.StatusPending
		}
	}

	return &domain.PaymentStatusResult{Status: status, Receipt: record.Receipt}, nil
}

// accountReference derives the gateway account reference from the record id.
// Daraja caps the field at 12 characters, so the first uuid group is used.
func accountReference(id uuid.UUID) string {
	return "FL-" + strings.ToUpper(id.String()[:8])
}
