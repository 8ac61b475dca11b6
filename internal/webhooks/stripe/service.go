package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v84"

	"github.com/harborline/marketfleet-backend/internal/orders"
	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
	"github.com/harborline/marketfleet-backend/pkg/logger"
	"github.com/harborline/marketfleet-backend/pkg/metrics"
	"github.com/harborline/marketfleet-backend/pkg/redis"
	stripegw "github.com/harborline/marketfleet-backend/pkg/stripe"
)

// GuardScope namespaces Stripe event ids in the idempotency store.
const GuardScope = "stripe"

// Outcome reports what Process did with a delivery.
type Outcome string

const (
	OutcomeHandled   Outcome = "handled"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// paymentProcessor is the slice of the payments service webhooks drive.
type paymentProcessor interface {
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentIntentID string) error
	OrderIDForSession(ctx context.Context, sessionID string) (uuid.UUID, error)
	OrderIDForPaymentIntent(ctx context.Context, intentID string) (uuid.UUID, error)
	ApplyRefundSucceeded(ctx context.Context, paymentIntentID string) error
	ApplyRefundFailed(ctx context.Context, paymentIntentID string) error
	ReleaseByTransferID(ctx context.Context, transferID string) error
}

// orderCanceller is satisfied by the orders service.
type orderCanceller interface {
	CancelOrder(ctx context.Context, input orders.CancelOrderInput) error
}

// accountSyncer is satisfied by the sellers service.
type accountSyncer interface {
	SyncFromAccount(ctx context.Context, account *stripe.Account) error
}

type sessionFetcher interface {
	RetrieveSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
	VerifyWebhook(payload []byte, sigHeader string) (stripe.Event, error)
	SigningSecretConfigured() bool
}

type handlerFunc func(ctx context.Context, event *stripe.Event) (Outcome, error)

// ServiceParams wires the webhook processor.
type ServiceParams struct {
	Payments paymentProcessor
	Orders   orderCanceller
	Sellers  accountSyncer
	Gateway  sessionFetcher
	Guard    redis.IdempotencyStore
	GuardTTL time.Duration
	Metrics  *metrics.PaymentMetrics
	Logger   *logger.Logger
}

// Service verifies, deduplicates, and dispatches Stripe webhook deliveries.
type Service struct {
	payments paymentProcessor
	orders   orderCanceller
	sellers  accountSyncer
	gateway  sessionFetcher
	guard    redis.IdempotencyStore
	guardTTL time.Duration
	metrics  *metrics.PaymentMetrics
	logg     *logger.Logger
	handlers map[stripe.EventType]handlerFunc
}

// NewService builds the processor. Metrics may be nil.
func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Sellers == nil {
		return nil, fmt.Errorf("sellers service required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("idempotency store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}

	s := &Service{
		payments: params.Payments,
		orders:   params.Orders,
		sellers:  params.Sellers,
		gateway:  params.Gateway,
		guard:    params.Guard,
		guardTTL: params.GuardTTL,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}
	s.handlers = map[stripe.EventType]handlerFunc{
		stripe.EventTypeCheckoutSessionCompleted:   s.handleCheckoutCompleted,
		stripe.EventTypePaymentIntentPaymentFailed: s.handlePaymentFailed,
		stripe.EventTypeChargeRefunded:             s.handleChargeRefunded,
		stripe.EventTypeRefundUpdated:              s.handleRefundUpdated,
		stripe.EventTypeRefundFailed:               s.handleRefundFailed,
		stripe.EventTypeTransferCreated:            s.handleTransferCreated,
		stripe.EventTypeAccountUpdated:             s.handleAccountUpdated,
	}
	return s, nil
}

// SigningSecretConfigured exposes whether deliveries can be verified at all.
func (s *Service) SigningSecretConfigured() bool {
	return s.gateway.SigningSecretConfigured()
}

// Process verifies one delivery end to end. A delivery already claimed by an
// earlier attempt is acknowledged without side effects. When a handler fails
// the claim is released so Stripe's retry can be processed.
func (s *Service) Process(ctx context.Context, payload []byte, sigHeader string) (Outcome, error) {
	event, err := s.gateway.VerifyWebhook(payload, sigHeader)
	if err != nil {
		s.metrics.IncWebhookEvent("unverified", string(OutcomeFailed))
		return OutcomeFailed, err
	}

	ctx = s.logg.WithEventID(ctx, event.ID)
	eventType := string(event.Type)
	started := time.Now()
	defer func() {
		s.metrics.ObserveWebhookDuration(eventType, time.Since(started))
	}()

	handler, ok := s.handlers[event.Type]
	if !ok {
		s.metrics.IncWebhookEvent(eventType, string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}

	first, err := s.guard.CheckAndMark(ctx, GuardScope, event.ID, s.guardTTL)
	if err != nil {
		s.metrics.IncWebhookEvent(eventType, string(OutcomeFailed))
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim webhook event")
	}
	if !first {
		s.logg.Info(ctx, "duplicate webhook delivery acknowledged")
		s.metrics.IncWebhookEvent(eventType, string(OutcomeDuplicate))
		return OutcomeDuplicate, nil
	}

	outcome, err := handler(ctx, &event)
	if err != nil {
		if unmarkErr := s.guard.Unmark(ctx, GuardScope, event.ID); unmarkErr != nil {
			s.logg.Error(ctx, "release webhook claim", unmarkErr)
		}
		s.metrics.IncWebhookEvent(eventType, string(OutcomeFailed))
		return OutcomeFailed, err
	}

	s.metrics.IncWebhookEvent(eventType, string(outcome))
	return outcome, nil
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) (Outcome, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
	}

	orderID, err := s.orderIDForSession(ctx, &session)
	if err != nil {
		return OutcomeFailed, err
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}
	if err := s.payments.ConfirmPayment(ctx, orderID, intentID); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeHandled, nil
}

// orderIDForSession resolves the order from session metadata, re-fetching the
// session once when the payload arrived without metadata, and falling back to
// the stored session id.
func (s *Service) orderIDForSession(ctx context.Context, session *stripe.CheckoutSession) (uuid.UUID, error) {
	if raw, ok := session.Metadata[stripegw.MetadataOrderID]; ok {
		orderID, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse order id metadata")
		}
		return orderID, nil
	}

	fetched, err := s.gateway.RetrieveSession(ctx, session.ID)
	if err == nil {
		if raw, ok := fetched.Metadata[stripegw.MetadataOrderID]; ok {
			if orderID, parseErr := uuid.Parse(raw); parseErr == nil {
				return orderID, nil
			}
		}
	}

	return s.payments.OrderIDForSession(ctx, session.ID)
}

func (s *Service) handlePaymentFailed(ctx context.Context, event *stripe.Event) (Outcome, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}

	orderID, err := s.orderIDForIntent(ctx, &intent)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			// The intent never attached to one of our orders; nothing to cancel.
			s.logg.Warn(ctx, "payment failure for unknown intent acknowledged")
			return OutcomeIgnored, nil
		}
		return OutcomeFailed, err
	}

	err = s.orders.CancelOrder(ctx, orders.CancelOrderInput{
		OrderID: orderID,
		Reason:  "payment failed",
	})
	if err != nil {
		return OutcomeFailed, err
	}
	return OutcomeHandled, nil
}

func (s *Service) orderIDForIntent(ctx context.Context, intent *stripe.PaymentIntent) (uuid.UUID, error) {
	if raw, ok := intent.Metadata[stripegw.MetadataOrderID]; ok {
		if orderID, err := uuid.Parse(raw); err == nil {
			return orderID, nil
		}
	}
	return s.payments.OrderIDForPaymentIntent(ctx, intent.ID)
}

func (s *Service) handleChargeRefunded(ctx context.Context, event *stripe.Event) (Outcome, error) {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge")
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		return OutcomeIgnored, nil
	}
	if err := s.payments.ApplyRefundSucceeded(ctx, charge.PaymentIntent.ID); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeHandled, nil
}

func (s *Service) handleRefundUpdated(ctx context.Context, event *stripe.Event) (Outcome, error) {
	var refund stripe.Refund
	if err := json.Unmarshal(event.Data.Raw, &refund); err != nil {
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode refund")
	}
	if refund.PaymentIntent == nil || refund.PaymentIntent.ID == "" {
		return OutcomeIgnored, nil
	}

	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		if err := s.payments.ApplyRefundSucceeded(ctx, refund.PaymentIntent.ID); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeHandled, nil
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		if err := s.payments.ApplyRefundFailed(ctx, refund.PaymentIntent.ID); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeHandled, nil
	default:
		return OutcomeIgnored, nil
	}
}

func (s *Service) handleRefundFailed(ctx context.Context, event *stripe.Event) (Outcome, error) {
	var refund stripe.Refund
	if err := json.Unmarshal(event.Data.Raw, &refund); err != nil {
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode refund")
	}
	if refund.PaymentIntent == nil || refund.PaymentIntent.ID == "" {
		return OutcomeIgnored, nil
	}
	if err := s.payments.ApplyRefundFailed(ctx, refund.PaymentIntent.ID); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeHandled, nil
}

func (s *Service) handleTransferCreated(ctx context.Context, event *stripe.Event) (Outcome, error) {
	var transfer stripe.Transfer
	if err := json.Unmarshal(event.Data.Raw, &transfer); err != nil {
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode transfer")
	}
	if transfer.ID == "" {
		return OutcomeIgnored, nil
	}
	if err := s.payments.ReleaseByTransferID(ctx, transfer.ID); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeHandled, nil
}

func (s *Service) handleAccountUpdated(ctx context.Context, event *stripe.Event) (Outcome, error) {
	var account stripe.Account
	if err := json.Unmarshal(event.Data.Raw, &account); err != nil {
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode account")
	}
	if err := s.sellers.SyncFromAccount(ctx, &account); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeHandled, nil
}
