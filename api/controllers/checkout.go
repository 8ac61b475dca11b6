package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/harborline/marketfleet-backend/api/middleware"
	"github.com/harborline/marketfleet-backend/api/responses"
	"github.com/harborline/marketfleet-backend/api/validators"
	"github.com/harborline/marketfleet-backend/internal/payments"
	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
	"github.com/harborline/marketfleet-backend/pkg/logger"
)

type checkoutRequest struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
}

type refundRequest struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
	Reason  string    `json:"reason" validate:"max=500"`
}

// Checkout opens a hosted payment session for a pending order and returns
// the redirect URL.
func Checkout(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storeID, ok := middleware.StoreIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing"))
			return
		}

		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.InitiatePayment(r.Context(), payments.InitiatePaymentInput{
			OrderID:      req.OrderID,
			ActorStoreID: storeID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{
			"session_id":   session.ID,
			"checkout_url": session.URL,
		})
	}
}

// Refund requests a full refund for a paid order.
func Refund(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storeID, ok := middleware.StoreIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing"))
			return
		}

		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		err := svc.RefundPayment(r.Context(), payments.RefundPaymentInput{
			OrderID:      req.OrderID,
			ActorStoreID: &storeID,
			Reason:       req.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "refund_requested"})
	}
}
