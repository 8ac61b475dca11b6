package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/harborline/marketfleet-backend/pkg/config"
	"github.com/harborline/marketfleet-backend/pkg/db/models"
	"github.com/harborline/marketfleet-backend/pkg/enums"
	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
	"github.com/harborline/marketfleet-backend/pkg/logger"
)

// Sender delivers a rendered notification out of band, email today.
type Sender interface {
	Send(ctx context.Context, storeID uuid.UUID, subject, body string) error
}

// Service records buyer notifications and hands them to the sender.
// Delivery is fire-and-forget; failures are logged, never propagated, so a
// flaky mail provider cannot fail an order or refund flow.
type Service interface {
	OrderCancelled(ctx context.Context, buyerStoreID, orderID uuid.UUID, reason string)
	RefundSucceeded(ctx context.Context, buyerStoreID, orderID uuid.UUID)
	RefundFailed(ctx context.Context, buyerStoreID, orderID uuid.UUID)
	List(ctx context.Context, storeID uuid.UUID, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, storeID, notificationID uuid.UUID) error
}

type service struct {
	repo   Repository
	sender Sender
	cfg    config.NotificationsConfig
	logg   *logger.Logger
}

// NewService builds the notifications service. sender may be nil, in which
// case rows are persisted but nothing is delivered.
func NewService(repo Repository, sender Sender, cfg config.NotificationsConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, sender: sender, cfg: cfg, logg: logg}, nil
}

func (s *service) OrderCancelled(ctx context.Context, buyerStoreID, orderID uuid.UUID, reason string) {
	body := "Your order was cancelled."
	if reason != "" {
		body = fmt.Sprintf("Your order was cancelled: %s.", reason)
	}
	s.record(ctx, buyerStoreID, orderID, enums.NotificationKindOrderCancelled, "Order cancelled", body)
}

func (s *service) RefundSucceeded(ctx context.Context, buyerStoreID, orderID uuid.UUID) {
	s.record(ctx, buyerStoreID, orderID, enums.NotificationKindRefundSucceeded,
		"Refund issued", "Your refund has been issued and is on its way back to your payment method.")
}

func (s *service) RefundFailed(ctx context.Context, buyerStoreID, orderID uuid.UUID) {
	s.record(ctx, buyerStoreID, orderID, enums.NotificationKindRefundFailed,
		"Refund failed", "We could not process your refund. Support has been notified and will follow up.")
}

func (s *service) record(ctx context.Context, storeID, orderID uuid.UUID, kind enums.NotificationKind, title, body string) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	notification := &models.Notification{
		ID:      uuid.New(),
		StoreID: storeID,
		OrderID: &orderID,
		Kind:    kind,
		Title:   title,
		Body:    body,
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		s.logg.Error(ctx, "persist notification", err)
		return
	}

	if s.sender == nil || s.cfg.Disabled {
		return
	}
	if err := s.sender.Send(ctx, storeID, title, body); err != nil {
		s.logg.Error(ctx, "deliver notification", err)
	}
}

func (s *service) List(ctx context.Context, storeID uuid.UUID, limit int) ([]models.Notification, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id required")
	}
	out, err := s.repo.ListByStore(ctx, storeID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}
	return out, nil
}

func (s *service) MarkRead(ctx context.Context, storeID, notificationID uuid.UUID) error {
	rows, err := s.repo.MarkRead(ctx, storeID, notificationID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if rows == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found or already read")
	}
	return nil
}

// LogSender is the default development sender. It writes the notification to
// the structured log instead of sending mail.
type LogSender struct {
	From string
	Logg *logger.Logger
}

// Send implements Sender.
func (l LogSender) Send(ctx context.Context, storeID uuid.UUID, subject, body string) error {
	if l.Logg == nil {
		return nil
	}
	ctx = l.Logg.WithFields(ctx, map[string]any{
		"from":     l.From,
		"store_id": storeID.String(),
		"subject":  subject,
	})
	l.Logg.Info(ctx, "notification delivered to log sink")
	return nil
}
