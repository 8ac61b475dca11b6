package types

import "strings"

// Address is the shipping destination snapshotted onto an order. Stored as
// jsonb so the snapshot survives later edits to the buyer's address book.
type Address struct {
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      string  `json:"state"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
}

// Validate reports the first missing required field, empty string if complete.
func (a Address) Validate() string {
	switch {
	case strings.TrimSpace(a.Line1) == "":
		return "line1"
	case strings.TrimSpace(a.City) == "":
		return "city"
	case strings.TrimSpace(a.State) == "":
		return "state"
	case strings.TrimSpace(a.PostalCode) == "":
		return "postal_code"
	}
	return ""
}

// Normalized returns a copy with the country defaulted to US.
func (a Address) Normalized() Address {
	out := a
	if strings.TrimSpace(out.Country) == "" {
		out.Country = "US"
	}
	return out
}
