// Package catalog is the read-only product source. The cart core only
// ever consumes snapshots of these records at add time; it never holds
// a live reference back into the catalog.
package catalog

import (
	"context"

	"github.com/solemart/storefront/internal/cart"
	"github.com/solemart/storefront/internal/domain"
)

type Image struct {
	URL     string `json:"url"`
	AltText string `json:"altText,omitempty"`
}

type Variant struct {
	ID               string                  `json:"id"`
	Title            string                  `json:"title"`
	Price            domain.Money            `json:"price"`
	AvailableForSale bool                    `json:"availableForSale"`
	SelectedOptions  []domain.SelectedOption `json:"selectedOptions,omitempty"`
}

type Product struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Handle      string       `json:"handle"`
	Description string       `json:"description,omitempty"`
	Images      []Image      `json:"images,omitempty"`
	MinPrice    domain.Money `json:"minPrice"`
	Variants    []Variant    `json:"variants,omitempty"`
}

// Source supplies product records for display and for building cart
// entries.
type Source interface {
	Products(ctx context.Context, first int, query string) ([]Product, error)
	ProductByHandle(ctx context.Context, handle string) (*Product, error)
}

// Snapshot captures the denormalized display data the cart keeps for a
// line item. The copy is deliberate: it may go stale relative to the
// catalog and the cart does not re-fetch it.
func (p Product) Snapshot() domain.ProductSnapshot {
	snap := domain.ProductSnapshot{
		ProductID: p.ID,
		Title:     p.Title,
		Handle:    p.Handle,
	}
	if len(p.Images) > 0 {
		snap.ImageURL = p.Images[0].URL
		snap.ImageAlt = p.Images[0].AltText
	}
	return snap
}

// CartEntry builds the AddItem input for one of the product's variants.
func (p Product) CartEntry(v Variant, quantity int) cart.Entry {
	return cart.Entry{
		Product:         p.Snapshot(),
		VariantID:       v.ID,
		VariantTitle:    v.Title,
		Price:           v.Price,
		Quantity:        quantity,
		SelectedOptions: v.SelectedOptions,
	}
}

// VariantByID returns the matching variant, or nil.
func (p Product) VariantByID(id string) *Variant {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i]
		}
	}
	return nil
}
