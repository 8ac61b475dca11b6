package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
)

// ParseQueryInt reads an integer query parameter with a default and bounds.
func ParseQueryInt(r *http.Request, name string, def, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, name+" out of range")
	}
	return value, nil
}
