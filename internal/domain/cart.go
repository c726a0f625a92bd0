package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in a single currency. The amount is kept as the
// decimal string the storefront API returns; arithmetic goes through
// shopspring/decimal so repeated additions never drift.
type Money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

func (m Money) Decimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(m.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid money amount %q: %w", m.Amount, err)
	}
	return d, nil
}

// SelectedOption is one chosen product option (e.g. Size / L). Options
// are display data only; variant identity is the variant ID.
type SelectedOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ProductSnapshot is the display data captured when an item is added.
// It is deliberately a copy, not a reference: the cart never re-reads
// the catalog, so a stale title or image is acceptable.
type ProductSnapshot struct {
	ProductID string `json:"productId"`
	Title     string `json:"title"`
	Handle    string `json:"handle,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
	ImageAlt  string `json:"imageAlt,omitempty"`
}

// LineItem is one variant-and-quantity entry in the cart. Quantity is
// always >= 1; a line that would drop below 1 is removed instead.
type LineItem struct {
	VariantID       string           `json:"variantId"`
	VariantTitle    string           `json:"variantTitle,omitempty"`
	Quantity        int              `json:"quantity"`
	Price           Money            `json:"price"`
	Product         ProductSnapshot  `json:"product"`
	SelectedOptions []SelectedOption `json:"selectedOptions,omitempty"`
}

// Subtotal is quantity times the unit price captured at add time. The
// line is not re-priced locally when the quantity changes.
func (li LineItem) Subtotal() (decimal.Decimal, error) {
	unit, err := li.Price.Decimal()
	if err != nil {
		return decimal.Zero, err
	}
	return unit.Mul(decimal.NewFromInt(int64(li.Quantity))), nil
}
