package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/harborline/marketfleet-backend/api/responses"
	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
	"github.com/harborline/marketfleet-backend/pkg/logger"
)

// The acting store arrives on X-Store-Id, set by the edge proxy after it has
// authenticated the caller. This service trusts the header; auth itself lives
// upstream.
const storeIDHeader = "X-Store-Id"

type storeIDKey struct{}

// StoreContext requires a valid store id header and stashes it in the context.
func StoreContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(storeIDHeader))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing"))
				return
			}
			storeID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid store id"))
				return
			}

			ctx := context.WithValue(r.Context(), storeIDKey{}, storeID)
			if logg != nil {
				ctx = logg.WithField(ctx, "store_id", storeID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StoreIDFromContext returns the acting store id set by StoreContext.
func StoreIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(storeIDKey{}).(uuid.UUID)
	return id, ok
}
