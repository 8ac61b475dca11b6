package controllers

import (
	"net/http"

	"github.com/harborline/marketfleet-backend/api/middleware"
	"github.com/harborline/marketfleet-backend/api/responses"
	"github.com/harborline/marketfleet-backend/api/validators"
	"github.com/harborline/marketfleet-backend/internal/sellers"
	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
	"github.com/harborline/marketfleet-backend/pkg/logger"
)

type registerAccountRequest struct {
	StripeAccountID string `json:"stripe_account_id" validate:"required,max=255"`
}

// SellerAccount returns the caller's connected-account state.
func SellerAccount(svc sellers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storeID, ok := middleware.StoreIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing"))
			return
		}

		account, err := svc.Account(r.Context(), storeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, account)
	}
}

// RegisterSellerAccount links the caller's store to a provider account.
func RegisterSellerAccount(svc sellers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storeID, ok := middleware.StoreIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing"))
			return
		}

		var req registerAccountRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.RegisterAccount(r.Context(), storeID, req.StripeAccountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, account)
	}
}
