package persist

import (
	"context"
	"errors"

	"github.com/solemart/storefront/internal/domain"
)

// State is the durable shape of a cart: the ordered line items plus the
// last-known remote identifiers. Busy flags are runtime-only and are
// never persisted.
type State struct {
	Handle      string            `json:"handle,omitempty"`
	CheckoutURL string            `json:"checkoutUrl,omitempty"`
	Items       []domain.LineItem `json:"items"`
}

// Snapshots stores cart state keyed by session ID so a cart survives a
// process restart. Implementations are best-effort: the store logs and
// continues when a snapshot operation fails.
type Snapshots interface {
	Get(ctx context.Context, sessionID string) (*State, error)
	Set(ctx context.Context, sessionID string, state *State) error
	Delete(ctx context.Context, sessionID string) error
}

var ErrNotFound = errors.New("cart snapshot not found")
