package payouts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/harborline/marketfleet-backend/pkg/db/models"
	"github.com/harborline/marketfleet-backend/pkg/enums"
	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
	"github.com/harborline/marketfleet-backend/pkg/logger"
	"github.com/harborline/marketfleet-backend/pkg/metrics"
	stripegw "github.com/harborline/marketfleet-backend/pkg/stripe"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// accountSource is satisfied by the sellers service.
type accountSource interface {
	Account(ctx context.Context, storeID uuid.UUID) (*models.SellerAccount, error)
}

// Period optionally bounds a payout preview by settlement creation time.
// From is inclusive, To exclusive; either side may be open.
type Period struct {
	From *time.Time
	To   *time.Time
}

// Preview describes what a payout run would move without moving it.
type Preview struct {
	SellerStoreID uuid.UUID       `json:"seller_store_id"`
	Amount        decimal.Decimal `json:"amount"`
	Transactions  int             `json:"transactions"`
	Orders        []uuid.UUID     `json:"orders"`
}

// Service runs seller payouts against settled funds.
type Service interface {
	CalculatePayout(ctx context.Context, sellerStoreID uuid.UUID, period *Period) (*Preview, error)
	CreatePayout(ctx context.Context, sellerStoreID uuid.UUID) (*models.Payout, error)
	GetPayout(ctx context.Context, sellerStoreID, payoutID uuid.UUID) (*models.Payout, error)
	ListPayouts(ctx context.Context, sellerStoreID uuid.UUID) ([]models.Payout, error)
}

type service struct {
	repo     Repository
	accounts accountSource
	gateway  stripegw.Gateway
	tx       txRunner
	metrics  *metrics.PaymentMetrics
	logg     *logger.Logger
}

// NewService builds the payout service. metrics may be nil.
func NewService(repo Repository, accounts accountSource, gateway stripegw.Gateway, tx txRunner, paymentMetrics *metrics.PaymentMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payouts repository required")
	}
	if accounts == nil {
		return nil, fmt.Errorf("seller account source required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		accounts: accounts,
		gateway:  gateway,
		tx:       tx,
		metrics:  paymentMetrics,
		logg:     logg,
	}, nil
}

// CalculatePayout previews the seller's next payout. It takes no locks, so
// the number can drift before CreatePayout recomputes it.
func (s *service) CalculatePayout(ctx context.Context, sellerStoreID uuid.UUID, period *Period) (*Preview, error) {
	if sellerStoreID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller store id required")
	}
	if period != nil && period.From != nil && period.To != nil && !period.From.Before(*period.To) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "period start must precede period end")
	}
	transactions, err := s.repo.ListEligible(ctx, sellerStoreID, period)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list eligible settlements")
	}
	return buildPreview(sellerStoreID, transactions), nil
}

// CreatePayout moves every settled, not yet paid-out transaction for the
// seller in one batch. The eligible rows are locked and the amount recomputed
// inside the transaction, so the transfer always matches what gets flipped.
// A transfer failure aborts the whole batch.
func (s *service) CreatePayout(ctx context.Context, sellerStoreID uuid.UUID) (*models.Payout, error) {
	if sellerStoreID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller store id required")
	}

	account, err := s.accounts.Account(ctx, sellerStoreID)
	if err != nil {
		return nil, err
	}
	if !account.PayoutsEnabled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "seller account is not enabled for payouts")
	}

	ctx = s.logg.WithSellerID(ctx, sellerStoreID.String())

	var created *models.Payout
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		transactions, err := repo.ListEligibleForUpdate(ctx, sellerStoreID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock eligible settlements")
		}
		if len(transactions) == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "no settled funds to pay out")
		}

		payout := buildPayout(sellerStoreID, transactions)
		if err := repo.CreatePayout(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout")
		}

		transfer, err := s.gateway.CreateTransfer(ctx, stripegw.TransferInput{
			AccountID: account.StripeAccountID,
			Amount:    payout.Amount,
			PayoutID:  payout.ID,
			OrderIDs:  orderIDs(transactions),
		})
		if err != nil {
			return err
		}

		ids := transactionIDs(transactions)
		rows, err := repo.MarkTransactionsPaidOut(ctx, ids, transfer.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark settlements paid out")
		}
		if rows != int64(len(ids)) {
			return pkgerrors.New(pkgerrors.CodeConflict, "settlement claimed by a concurrent payout")
		}

		if err := repo.CompletePayout(ctx, payout.ID, transfer.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete payout")
		}

		payout.Status = enums.PayoutStatusCompleted
		payout.StripeTransferID = &transfer.ID
		created = payout
		return nil
	})
	if err != nil {
		s.metrics.IncPayout("failed")
		return nil, err
	}

	s.metrics.IncPayout("completed")
	s.logg.Info(s.logg.WithField(ctx, "payout_id", created.ID.String()), "payout completed")
	return created, nil
}

func (s *service) GetPayout(ctx context.Context, sellerStoreID, payoutID uuid.UUID) (*models.Payout, error) {
	payout, err := s.repo.FindPayout(ctx, payoutID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
	}
	if payout.SellerStoreID != sellerStoreID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payout belongs to another seller")
	}
	return payout, nil
}

func (s *service) ListPayouts(ctx context.Context, sellerStoreID uuid.UUID) ([]models.Payout, error) {
	if sellerStoreID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller store id required")
	}
	payouts, err := s.repo.ListBySeller(ctx, sellerStoreID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payouts")
	}
	return payouts, nil
}

func buildPreview(sellerStoreID uuid.UUID, transactions []models.PaymentTransaction) *Preview {
	preview := &Preview{
		SellerStoreID: sellerStoreID,
		Amount:        decimal.Zero,
		Transactions:  len(transactions),
		Orders:        orderIDs(transactions),
	}
	for _, txn := range transactions {
		preview.Amount = preview.Amount.Add(txn.NetAmount)
	}
	return preview
}

func buildPayout(sellerStoreID uuid.UUID, transactions []models.PaymentTransaction) *models.Payout {
	payout := &models.Payout{
		ID:            uuid.New(),
		SellerStoreID: sellerStoreID,
		Amount:        decimal.Zero,
		Status:        enums.PayoutStatusProcessing,
	}
	for _, txn := range transactions {
		payout.Amount = payout.Amount.Add(txn.NetAmount)
		payout.Items = append(payout.Items, models.PayoutItem{
			ID:             uuid.New(),
			PayoutID:       payout.ID,
			TransactionID:  txn.ID,
			OrderID:        txn.OrderID,
			TransferAmount: txn.NetAmount,
		})
	}
	return payout
}

func transactionIDs(transactions []models.PaymentTransaction) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(transactions))
	for _, txn := range transactions {
		out = append(out, txn.ID)
	}
	return out
}

// orderIDs dedupes while preserving first-seen order; one order can settle
// across several transactions only after partial refund edge cases, but the
// transfer metadata should still list it once.
func orderIDs(transactions []models.PaymentTransaction) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(transactions))
	out := make([]uuid.UUID, 0, len(transactions))
	for _, txn := range transactions {
		if _, ok := seen[txn.OrderID]; ok {
			continue
		}
		seen[txn.OrderID] = struct{}{}
		out = append(out, txn.OrderID)
	}
	return out
}
