package gateway

import (
	"context"
	"errors"

	"github.com/solemart/storefront/internal/domain"
)

var (
	// ErrUnavailable covers network and backend failures. The cart
	// treats these as recoverable: optimistic state is kept and the
	// error is surfaced to the caller.
	ErrUnavailable = errors.New("cart gateway unavailable")

	// ErrInvalidVariant is returned when the backend rejects a
	// variant, e.g. it went out of stock or was deleted.
	ErrInvalidVariant = errors.New("variant rejected by gateway")

	// ErrCartNotFound is returned when the remote cart handle no
	// longer resolves to a cart.
	ErrCartNotFound = errors.New("remote cart not found")
)

// RemoteLine is one authoritative line as reported by the backend.
type RemoteLine struct {
	VariantID       string
	VariantTitle    string
	Quantity        int
	Price           domain.Money
	ProductID       string
	ProductTitle    string
	ProductHandle   string
	ImageURL        string
	SelectedOptions []domain.SelectedOption

	// backendLineID is the platform-specific line identifier needed
	// for update and remove calls. Not exposed: consumers key lines
	// by variant ID.
	backendLineID string
}

// RemoteCart is the backend's view of a cart after an operation.
type RemoteCart struct {
	Handle      string
	CheckoutURL string
	Lines       []RemoteLine
}

// CartGateway is the remote cart contract the store consumes. The
// interface is defined here, on the consumer side; implementations
// live wherever the transport does.
type CartGateway interface {
	// CreateCart creates a new remote cart and returns its handle.
	// Idempotency is not assumed; the store guards against duplicate
	// creation itself.
	CreateCart(ctx context.Context) (string, error)

	// AddOrUpdateLine upserts a line to the given absolute quantity
	// and returns the authoritative line list.
	AddOrUpdateLine(ctx context.Context, handle, variantID string, quantity int) (RemoteCart, error)

	// RemoveLine removes the line for a variant. Removing a variant
	// that has no remote line is a no-op, not an error.
	RemoveLine(ctx context.Context, handle, variantID string) (RemoteCart, error)

	// FetchCart returns the backend's current view of the cart.
	FetchCart(ctx context.Context, handle string) (RemoteCart, error)
}
