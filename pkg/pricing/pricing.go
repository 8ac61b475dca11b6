package pricing

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
)

// Line is one priced quantity. Callers build these from cart items or order
// line snapshots.
type Line struct {
	UnitPrice decimal.Decimal
	Qty       int
}

// CartTotals is the preview breakdown shown before checkout. Shipping is
// always zero at this stage.
type CartTotals struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	Tax        decimal.Decimal `json:"tax"`
	Shipping   decimal.Decimal `json:"shipping"`
	Total      decimal.Decimal `json:"total"`
	ItemsCount int             `json:"items_count"`
}

// OrderTotals is the final breakdown persisted onto an order.
type OrderTotals struct {
	Subtotal              decimal.Decimal `json:"subtotal"`
	SubtotalAfterDiscount decimal.Decimal `json:"subtotal_after_discount"`
	Discount              decimal.Decimal `json:"discount"`
	Tax                   decimal.Decimal `json:"tax"`
	Shipping              decimal.Decimal `json:"shipping"`
	Total                 decimal.Decimal `json:"total"`
}

// CartTotal computes the pre-checkout preview for the given lines.
func CartTotal(lines []Line, taxRate decimal.Decimal) (CartTotals, error) {
	subtotal, count, err := sumLines(lines)
	if err != nil {
		return CartTotals{}, err
	}

	tax := subtotal.Mul(taxRate).Round(2)
	return CartTotals{
		Subtotal:   subtotal,
		Tax:        tax,
		Shipping:   decimal.Zero,
		Total:      subtotal.Add(tax).Round(2),
		ItemsCount: count,
	}, nil
}

// OrderTotal computes the persisted order breakdown. Tax applies to the
// discounted subtotal, not the raw one. A discount exceeding the subtotal is
// rejected rather than clamped: a coupon worth more than the goods is an
// upstream bug we refuse to hide.
func OrderTotal(lines []Line, shipping, discount, taxRate decimal.Decimal) (OrderTotals, error) {
	subtotal, _, err := sumLines(lines)
	if err != nil {
		return OrderTotals{}, err
	}
	if discount.IsNegative() {
		return OrderTotals{}, pkgerrors.New(pkgerrors.CodeValidation, "discount must not be negative")
	}
	if discount.GreaterThan(subtotal) {
		return OrderTotals{}, pkgerrors.New(pkgerrors.CodeValidation, "discount exceeds subtotal")
	}
	if shipping.IsNegative() {
		return OrderTotals{}, pkgerrors.New(pkgerrors.CodeValidation, "shipping cost must not be negative")
	}

	afterDiscount := subtotal.Sub(discount)
	tax := afterDiscount.Mul(taxRate).Round(2)
	shipping = shipping.Round(2)

	return OrderTotals{
		Subtotal:              subtotal,
		SubtotalAfterDiscount: afterDiscount,
		Discount:              discount.Round(2),
		Tax:                   tax,
		Shipping:              shipping,
		Total:                 afterDiscount.Add(tax).Add(shipping).Round(2),
	}, nil
}

func sumLines(lines []Line) (decimal.Decimal, int, error) {
	subtotal := decimal.Zero
	count := 0
	for _, line := range lines {
		if line.Qty <= 0 {
			return decimal.Zero, 0, pkgerrors.New(pkgerrors.CodeValidation, "line quantity must be positive")
		}
		if line.UnitPrice.IsNegative() {
			return decimal.Zero, 0, pkgerrors.New(pkgerrors.CodeValidation, "unit price must not be negative")
		}
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Qty))))
		count += line.Qty
	}
	return subtotal.Round(2), count, nil
}
