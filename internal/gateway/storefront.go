package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/solemart/storefront/internal/domain"
	"github.com/solemart/storefront/internal/shopify"
)

const cartFields = `
id
checkoutUrl
lines(first: 100) {
  edges {
    node {
      id
      quantity
      merchandise {
        ... on ProductVariant {
          id
          title
          price { amount currencyCode }
          selectedOptions { name value }
          product {
            id
            title
            handle
            featuredImage { url }
          }
        }
      }
    }
  }
}`

var (
	cartCreateMutation = fmt.Sprintf(`
mutation cartCreate {
  cartCreate(input: {}) {
    cart { %s }
    userErrors { field message code }
  }
}`, cartFields)

	cartQuery = fmt.Sprintf(`
query cart($id: ID!) {
  cart(id: $id) { %s }
}`, cartFields)

	cartLinesAddMutation = fmt.Sprintf(`
mutation cartLinesAdd($cartId: ID!, $lines: [CartLineInput!]!) {
  cartLinesAdd(cartId: $cartId, lines: $lines) {
    cart { %s }
    userErrors { field message code }
  }
}`, cartFields)

	cartLinesUpdateMutation = fmt.Sprintf(`
mutation cartLinesUpdate($cartId: ID!, $lines: [CartLineUpdateInput!]!) {
  cartLinesUpdate(cartId: $cartId, lines: $lines) {
    cart { %s }
    userErrors { field message code }
  }
}`, cartFields)

	cartLinesRemoveMutation = fmt.Sprintf(`
mutation cartLinesRemove($cartId: ID!, $lineIds: [ID!]!) {
  cartLinesRemove(cartId: $cartId, lineIds: $lineIds) {
    cart { %s }
    userErrors { field message code }
  }
}`, cartFields)
)

// wire types for the Storefront cart payloads

type wireMoney struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

type wireCart struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkoutUrl"`
	Lines       struct {
		Edges []struct {
			Node wireLine `json:"node"`
		} `json:"edges"`
	} `json:"lines"`
}

type wireLine struct {
	ID          string `json:"id"`
	Quantity    int    `json:"quantity"`
	Merchandise struct {
		ID              string    `json:"id"`
		Title           string    `json:"title"`
		Price           wireMoney `json:"price"`
		SelectedOptions []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"selectedOptions"`
		Product struct {
			ID            string `json:"id"`
			Title         string `json:"title"`
			Handle        string `json:"handle"`
			FeaturedImage *struct {
				URL string `json:"url"`
			} `json:"featuredImage"`
		} `json:"product"`
	} `json:"merchandise"`
}

type wireUserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code"`
}

// StorefrontGateway implements CartGateway against the Shopify
// Storefront API. Line upserts and removals resolve the variant ID to
// the backend's cart line ID by reading the current lines first, so
// the gateway itself holds no state between calls.
type StorefrontGateway struct {
	client *shopify.Client
	log    logrus.FieldLogger
}

func NewStorefrontGateway(client *shopify.Client, log logrus.FieldLogger) *StorefrontGateway {
	return &StorefrontGateway{client: client, log: log}
}

func (g *StorefrontGateway) CreateCart(ctx context.Context) (string, error) {
	var out struct {
		CartCreate struct {
			Cart       *wireCart       `json:"cart"`
			UserErrors []wireUserError `json:"userErrors"`
		} `json:"cartCreate"`
	}
	if err := g.client.Query(ctx, cartCreateMutation, nil, &out); err != nil {
		return "", mapTransportErr("cartCreate", err)
	}
	if err := mapUserErrors(out.CartCreate.UserErrors); err != nil {
		return "", err
	}
	if out.CartCreate.Cart == nil {
		return "", fmt.Errorf("%w: cartCreate returned no cart", ErrUnavailable)
	}
	g.log.WithField("handle", out.CartCreate.Cart.ID).Debug("remote cart created")
	return out.CartCreate.Cart.ID, nil
}

func (g *StorefrontGateway) FetchCart(ctx context.Context, handle string) (RemoteCart, error) {
	var out struct {
		Cart *wireCart `json:"cart"`
	}
	if err := g.client.Query(ctx, cartQuery, map[string]any{"id": handle}, &out); err != nil {
		return RemoteCart{}, mapTransportErr("cart", err)
	}
	if out.Cart == nil {
		return RemoteCart{}, fmt.Errorf("%w: %s", ErrCartNotFound, handle)
	}
	return convertCart(out.Cart), nil
}

func (g *StorefrontGateway) AddOrUpdateLine(ctx context.Context, handle, variantID string, quantity int) (RemoteCart, error) {
	current, err := g.FetchCart(ctx, handle)
	if err != nil {
		return RemoteCart{}, err
	}

	if lineID := current.lineID(variantID); lineID != "" {
		return g.mutateLines(ctx, cartLinesUpdateMutation, "cartLinesUpdate", map[string]any{
			"cartId": handle,
			"lines":  []map[string]any{{"id": lineID, "quantity": quantity}},
		})
	}
	return g.mutateLines(ctx, cartLinesAddMutation, "cartLinesAdd", map[string]any{
		"cartId": handle,
		"lines":  []map[string]any{{"merchandiseId": variantID, "quantity": quantity}},
	})
}

func (g *StorefrontGateway) RemoveLine(ctx context.Context, handle, variantID string) (RemoteCart, error) {
	current, err := g.FetchCart(ctx, handle)
	if err != nil {
		return RemoteCart{}, err
	}

	lineID := current.lineID(variantID)
	if lineID == "" {
		// Nothing to remove remotely; report the current view.
		return current, nil
	}
	return g.mutateLines(ctx, cartLinesRemoveMutation, "cartLinesRemove", map[string]any{
		"cartId":  handle,
		"lineIds": []string{lineID},
	})
}

func (g *StorefrontGateway) mutateLines(ctx context.Context, mutation, field string, vars map[string]any) (RemoteCart, error) {
	var out map[string]struct {
		Cart       *wireCart       `json:"cart"`
		UserErrors []wireUserError `json:"userErrors"`
	}
	if err := g.client.Query(ctx, mutation, vars, &out); err != nil {
		return RemoteCart{}, mapTransportErr(field, err)
	}
	payload := out[field]
	if err := mapUserErrors(payload.UserErrors); err != nil {
		return RemoteCart{}, err
	}
	if payload.Cart == nil {
		return RemoteCart{}, fmt.Errorf("%w: %s returned no cart", ErrUnavailable, field)
	}
	return convertCart(payload.Cart), nil
}

func (rc RemoteCart) lineID(variantID string) string {
	for _, ln := range rc.Lines {
		if ln.VariantID == variantID {
			return ln.backendLineID
		}
	}
	return ""
}

func convertCart(c *wireCart) RemoteCart {
	out := RemoteCart{
		Handle:      c.ID,
		CheckoutURL: c.CheckoutURL,
		Lines:       make([]RemoteLine, 0, len(c.Lines.Edges)),
	}
	for _, edge := range c.Lines.Edges {
		n := edge.Node
		line := RemoteLine{
			VariantID:     n.Merchandise.ID,
			VariantTitle:  n.Merchandise.Title,
			Quantity:      n.Quantity,
			Price:         domain.Money{Amount: n.Merchandise.Price.Amount, CurrencyCode: n.Merchandise.Price.CurrencyCode},
			ProductID:     n.Merchandise.Product.ID,
			ProductTitle:  n.Merchandise.Product.Title,
			ProductHandle: n.Merchandise.Product.Handle,
			backendLineID: n.ID,
		}
		if n.Merchandise.Product.FeaturedImage != nil {
			line.ImageURL = n.Merchandise.Product.FeaturedImage.URL
		}
		for _, opt := range n.Merchandise.SelectedOptions {
			line.SelectedOptions = append(line.SelectedOptions, domain.SelectedOption{Name: opt.Name, Value: opt.Value})
		}
		out.Lines = append(out.Lines, line)
	}
	return out
}

func mapUserErrors(errs []wireUserError) error {
	if len(errs) == 0 {
		return nil
	}
	first := errs[0]
	code := strings.ToUpper(first.Code)
	if strings.Contains(code, "MERCHANDISE") || code == "INVALID" || strings.Contains(code, "VARIANT") {
		return fmt.Errorf("%w: %s", ErrInvalidVariant, first.Message)
	}
	return fmt.Errorf("cart gateway rejected request: %s (%s)", first.Message, first.Code)
}

func mapTransportErr(op string, err error) error {
	if errors.Is(err, shopify.ErrUnavailable) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
