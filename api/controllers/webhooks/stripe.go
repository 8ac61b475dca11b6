package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/harborline/marketfleet-backend/api/responses"
	stripewebhook "github.com/harborline/marketfleet-backend/internal/webhooks/stripe"
	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
	"github.com/harborline/marketfleet-backend/pkg/logger"
)

type stripeProcessor interface {
	Process(ctx context.Context, payload []byte, sigHeader string) (stripewebhook.Outcome, error)
	SigningSecretConfigured() bool
}

// StripeWebhook receives payment provider deliveries. Duplicates and unknown
// event kinds are acknowledged with 200 so the provider stops retrying;
// verification failures get 400 so a misconfigured sender notices.
func StripeWebhook(svc stripeProcessor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if !svc.SigningSecretConfigured() {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook signing secret not configured"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		outcome, err := svc.Process(ctx, payload, sigHeader)
		if err != nil {
			// Signature and payload problems are the sender's fault; report
			// them as 400 rather than 403/5xx.
			if pkgerrors.IsCode(err, pkgerrors.CodeForbidden) || pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook delivery"))
				return
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"outcome": string(outcome)})
	}
}
