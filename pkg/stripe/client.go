package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/harborline/marketfleet-backend/pkg/config"
	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
	"github.com/harborline/marketfleet-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	// MetadataOrderID is the correlation key set on every outbound checkout
	// session and transfer. Webhook handlers join back through it.
	MetadataOrderID = "order_id"

	// MetadataPayoutID marks transfers created by the payout engine.
	MetadataPayoutID = "payout_id"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// CheckoutLine is one display line on the hosted checkout page.
type CheckoutLine struct {
	Name      string
	UnitPrice decimal.Decimal
	Qty       int
}

// CheckoutSessionInput carries everything needed to open a hosted session.
type CheckoutSessionInput struct {
	OrderID    uuid.UUID
	Lines      []CheckoutLine
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the handle returned to the caller; the buyer finishes
// payment at URL.
type CheckoutSession struct {
	ID  string
	URL string
}

// RefundInput requests a (partial) refund against a payment intent.
type RefundInput struct {
	PaymentIntentID string
	// Amount nil means full refund.
	Amount *decimal.Decimal
	Reason string
}

// TransferInput moves settled funds to a seller's connected account.
type TransferInput struct {
	AccountID string
	Amount    decimal.Decimal
	PayoutID  uuid.UUID
	OrderIDs  []uuid.UUID
}

// Gateway is the substitutable boundary to the payment provider. Everything
// the order/payment core needs from Stripe goes through here.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, input CheckoutSessionInput) (*CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
	RetrievePaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, input RefundInput) (*stripe.Refund, error)
	CreateTransfer(ctx context.Context, input TransferInput) (*stripe.Transfer, error)
	VerifyWebhook(payload []byte, sigHeader string) (stripe.Event, error)
	SigningSecretConfigured() bool
}

// Client wraps Stripe's API client plus env-specific metadata.
type Client struct {
	api           *stripe.Client
	environment   string
	signingSecret string
	currency      stripe.Currency
	maxAttempts   int
	baseDelay     time.Duration
}

var _ Gateway = (*Client)(nil)

// NewClient initializes Stripe once with the configured secrets and env.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	signingSecret := strings.TrimSpace(cfg.Secret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}

	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	api := stripe.NewClient(apiKey)

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}

	currency := strings.TrimSpace(strings.ToLower(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe client initialized (%s)", env))
	}

	return &Client{
		api:           api,
		environment:   env,
		signingSecret: signingSecret,
		currency:      stripe.Currency(currency),
		maxAttempts:   maxAttempts,
		baseDelay:     baseDelay,
	}, nil
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecretConfigured reports whether webhook verification can run.
func (c *Client) SigningSecretConfigured() bool {
	return c != nil && c.signingSecret != ""
}

// VerifyWebhook checks the signature header against the raw payload.
func (c *Client) VerifyWebhook(payload []byte, sigHeader string) (stripe.Event, error) {
	if !c.SigningSecretConfigured() {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeInternal, "stripe signing secret not configured")
	}
	event, err := webhook.ConstructEvent(payload, sigHeader, c.signingSecret)
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeForbidden, err, "webhook signature verification failed")
	}
	return event, nil
}

// CreateCheckoutSession opens a hosted checkout session with the order id
// embedded in both session and payment-intent metadata.
func (c *Client) CreateCheckoutSession(ctx context.Context, input CheckoutSessionInput) (*CheckoutSession, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session requires at least one line")
	}

	metadata := map[string]string{MetadataOrderID: input.OrderID.String()}
	lineItems := make([]*stripe.CheckoutSessionCreateLineItemParams, 0, len(input.Lines))
	for _, line := range input.Lines {
		lineItems = append(lineItems, &stripe.CheckoutSessionCreateLineItemParams{
			Quantity: stripe.Int64(int64(line.Qty)),
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(string(c.currency)),
				UnitAmount: stripe.Int64(toCents(line.UnitPrice)),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(line.Name),
				},
			},
		})
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(input.SuccessURL),
		CancelURL:  stripe.String(input.CancelURL),
		LineItems:  lineItems,
		Metadata:   metadata,
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: metadata,
		},
	}

	var session *stripe.CheckoutSession
	err := c.withRetry(ctx, "create checkout session", func() error {
		var callErr error
		session, callErr = c.api.V1CheckoutSessions.Create(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// RetrieveSession fetches the full checkout session resource.
func (c *Client) RetrieveSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	var session *stripe.CheckoutSession
	err := c.withRetry(ctx, "retrieve checkout session", func() error {
		var callErr error
		session, callErr = c.api.V1CheckoutSessions.Retrieve(ctx, sessionID, &stripe.CheckoutSessionRetrieveParams{})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// RetrievePaymentIntent fetches the payment intent resource.
func (c *Client) RetrievePaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntent, error) {
	if intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	var intent *stripe.PaymentIntent
	err := c.withRetry(ctx, "retrieve payment intent", func() error {
		var callErr error
		intent, callErr = c.api.V1PaymentIntents.Retrieve(ctx, intentID, &stripe.PaymentIntentRetrieveParams{})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// CreateRefund refunds a payment intent, fully when Amount is nil.
func (c *Client) CreateRefund(ctx context.Context, input RefundInput) (*stripe.Refund, error) {
	if input.PaymentIntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}

	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(input.PaymentIntentID),
	}
	if input.Amount != nil {
		params.Amount = stripe.Int64(toCents(*input.Amount))
	}
	if input.Reason != "" {
		params.Metadata = map[string]string{"reason": input.Reason}
	}

	var refund *stripe.Refund
	err := c.withRetry(ctx, "create refund", func() error {
		var callErr error
		refund, callErr = c.api.V1Refunds.Create(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return refund, nil
}

// CreateTransfer moves funds to a seller's connected account with the payout
// and order ids recorded in metadata.
func (c *Client) CreateTransfer(ctx context.Context, input TransferInput) (*stripe.Transfer, error) {
	if input.AccountID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination account id required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer amount must be positive")
	}

	metadata := map[string]string{MetadataPayoutID: input.PayoutID.String()}
	if len(input.OrderIDs) > 0 {
		ids := make([]string, 0, len(input.OrderIDs))
		for _, id := range input.OrderIDs {
			ids = append(ids, id.String())
		}
		metadata[MetadataOrderID] = strings.Join(ids, ",")
	}

	params := &stripe.TransferCreateParams{
		Amount:      stripe.Int64(toCents(input.Amount)),
		Currency:    stripe.String(string(c.currency)),
		Destination: stripe.String(input.AccountID),
		Metadata:    metadata,
	}

	var transfer *stripe.Transfer
	err := c.withRetry(ctx, "create transfer", func() error {
		var callErr error
		transfer, callErr = c.api.V1Transfers.Create(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// withRetry runs op with bounded exponential backoff. Only transient provider
// faults are retried; bad requests fail immediately.
func (c *Client) withRetry(ctx context.Context, opName string, op func() error) error {
	var lastErr error
	delay := c.baseDelay
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !transient(lastErr) {
			return pkgerrors.Wrap(pkgerrors.CodeProvider, lastErr, opName)
		}
		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return pkgerrors.Wrap(pkgerrors.CodeProvider, ctx.Err(), opName)
		case <-time.After(delay):
		}
		delay *= 2
	}
	return pkgerrors.Wrap(pkgerrors.CodeProvider, lastErr, fmt.Sprintf("%s: retries exhausted", opName))
}

func transient(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == 429 || stripeErr.HTTPStatusCode >= 500 {
			return true
		}
		return stripeErr.Type == stripe.ErrorTypeAPI
	}
	// Non-stripe errors at this boundary are connection-level faults.
	return true
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
