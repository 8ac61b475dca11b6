package sellers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/harborline/marketfleet-backend/pkg/db/models"
	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
	"github.com/harborline/marketfleet-backend/pkg/logger"
)

// Service keeps the seller connected-account read model in sync with the
// payment provider.
type Service interface {
	Account(ctx context.Context, storeID uuid.UUID) (*models.SellerAccount, error)
	RegisterAccount(ctx context.Context, storeID uuid.UUID, stripeAccountID string) (*models.SellerAccount, error)
	SyncFromAccount(ctx context.Context, account *stripe.Account) error
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService builds the sellers service.
func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("sellers repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, logg: logg}, nil
}

func (s *service) Account(ctx context.Context, storeID uuid.UUID) (*models.SellerAccount, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id required")
	}
	account, err := s.repo.FindByStoreID(ctx, storeID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "seller has no connected account")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller account")
	}
	return account, nil
}

// RegisterAccount links a store to its payment provider connected account.
// Onboarding flags start false and flip when account.updated arrives.
func (s *service) RegisterAccount(ctx context.Context, storeID uuid.UUID, stripeAccountID string) (*models.SellerAccount, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id required")
	}
	if stripeAccountID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe account id required")
	}

	account := &models.SellerAccount{
		StoreID:         storeID,
		StripeAccountID: stripeAccountID,
	}
	if err := s.repo.Upsert(ctx, account); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "register seller account")
	}
	return s.Account(ctx, storeID)
}

// SyncFromAccount applies an account.updated event. Accounts we have no row
// for are logged and acknowledged; onboarding happens out of band.
func (s *service) SyncFromAccount(ctx context.Context, account *stripe.Account) error {
	if account == nil || account.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "account payload missing id")
	}

	rows, err := s.repo.UpdateOnboarding(ctx, account.ID, account.ChargesEnabled, account.PayoutsEnabled)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sync seller onboarding")
	}
	if rows == 0 {
		s.logg.Warn(s.logg.WithField(ctx, "stripe_account_id", account.ID), "account update for unknown seller account")
	}
	return nil
}
