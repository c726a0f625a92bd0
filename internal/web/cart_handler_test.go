package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solemart/storefront/internal/cart"
	"github.com/solemart/storefront/internal/catalog"
	"github.com/solemart/storefront/internal/domain"
	"github.com/solemart/storefront/internal/gateway"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// stubGateway is an in-memory CartGateway for handler tests.
type stubGateway struct {
	m         sync.Mutex
	creates   int
	upsertErr error
	lines     map[string]gateway.RemoteLine
	order     []string
	handle    string
}

func newStubGateway() *stubGateway {
	return &stubGateway{lines: make(map[string]gateway.RemoteLine)}
}

func (g *stubGateway) CreateCart(context.Context) (string, error) {
	g.m.Lock()
	defer g.m.Unlock()
	g.creates++
	g.handle = fmt.Sprintf("cart-%d", g.creates)
	return g.handle, nil
}

func (g *stubGateway) AddOrUpdateLine(_ context.Context, _, variantID string, quantity int) (gateway.RemoteCart, error) {
	g.m.Lock()
	defer g.m.Unlock()
	if g.upsertErr != nil {
		return gateway.RemoteCart{}, g.upsertErr
	}
	if _, ok := g.lines[variantID]; !ok {
		g.order = append(g.order, variantID)
	}
	g.lines[variantID] = gateway.RemoteLine{VariantID: variantID, Quantity: quantity}
	return g.snapshotLocked(), nil
}

func (g *stubGateway) RemoveLine(_ context.Context, _, variantID string) (gateway.RemoteCart, error) {
	g.m.Lock()
	defer g.m.Unlock()
	delete(g.lines, variantID)
	for i, v := range g.order {
		if v == variantID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return g.snapshotLocked(), nil
}

func (g *stubGateway) FetchCart(context.Context, string) (gateway.RemoteCart, error) {
	g.m.Lock()
	defer g.m.Unlock()
	return g.snapshotLocked(), nil
}

func (g *stubGateway) snapshotLocked() gateway.RemoteCart {
	out := gateway.RemoteCart{
		Handle:      g.handle,
		CheckoutURL: "https://shop.example/checkout/" + g.handle,
	}
	for _, v := range g.order {
		out.Lines = append(out.Lines, g.lines[v])
	}
	return out
}

type stubCatalog struct{}

func (stubCatalog) Products(context.Context, int, string) ([]catalog.Product, error) {
	return []catalog.Product{{ID: "p1", Title: "Tee", Handle: "tee"}}, nil
}

func (stubCatalog) ProductByHandle(_ context.Context, handle string) (*catalog.Product, error) {
	if handle != "tee" {
		return nil, nil
	}
	return &catalog.Product{ID: "p1", Title: "Tee", Handle: "tee"}, nil
}

func newTestServer(t *testing.T, gw gateway.CartGateway) *httptest.Server {
	sessions := NewSessions(func(sessionID string) *cart.Store {
		return cart.New(gw, cart.WithDebounce(0), cart.WithLogger(testLogger()))
	}, testLogger())
	t.Cleanup(sessions.Close)

	carts := NewCartHandler(sessions, 5*time.Second, testLogger())
	products := NewCatalogHandler(stubCatalog{}, 5*time.Second, testLogger())
	srv := httptest.NewServer(NewRouter(carts, products, 10*time.Second))
	t.Cleanup(srv.Close)
	return srv
}

// client with a cookie jar so the session cookie persists across calls
func newClient(t *testing.T) *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func addItemBody(variantID string, quantity int) AddItemRequestDTO {
	return AddItemRequestDTO{
		VariantID: variantID,
		Quantity:  quantity,
		Price:     domain.Money{Amount: "10.00", CurrencyCode: "USD"},
		Product:   domain.ProductSnapshot{ProductID: "p1", Title: "Tee"},
	}
}

func TestCartFlow(t *testing.T) {
	srv := newTestServer(t, newStubGateway())
	client := newClient(t)

	// Add an item.
	resp, body := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/cart/items", addItemBody("v1", 1))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var cartResp CartResponseDTO
	require.NoError(t, json.Unmarshal(body, &cartResp))
	require.Len(t, cartResp.Items, 1)
	assert.Equal(t, 1, cartResp.Items[0].Quantity)
	assert.NotEmpty(t, cartResp.CheckoutURL)

	// Update its quantity.
	resp, body = doJSON(t, client, http.MethodPatch, srv.URL+"/api/v1/cart/items/v1", UpdateQuantityRequestDTO{Quantity: 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &cartResp))
	assert.Equal(t, 3, cartResp.Items[0].Quantity)
	assert.Equal(t, "30.00", cartResp.Subtotal.Amount)

	// The same session sees the same cart on a plain GET.
	resp, body = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/cart", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &cartResp))
	require.Len(t, cartResp.Items, 1)

	// Checkout URL endpoint.
	resp, body = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/cart/checkout-url", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var urlResp map[string]string
	require.NoError(t, json.Unmarshal(body, &urlResp))
	assert.Contains(t, urlResp["checkout_url"], "https://shop.example/checkout/")

	// Remove the item; cart is empty and checkout-url goes away.
	resp, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/api/v1/cart/items/v1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/cart/checkout-url", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDifferentSessionsGetDifferentCarts(t *testing.T) {
	srv := newTestServer(t, newStubGateway())

	first := newClient(t)
	resp, _ := doJSON(t, first, http.MethodPost, srv.URL+"/api/v1/cart/items", addItemBody("v1", 1))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	second := newClient(t)
	resp, body := doJSON(t, second, http.MethodGet, srv.URL+"/api/v1/cart", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cartResp CartResponseDTO
	require.NoError(t, json.Unmarshal(body, &cartResp))
	assert.Empty(t, cartResp.Items)
}

func TestAddItem_GatewayFailureKeepsOptimisticCartInResponse(t *testing.T) {
	gw := newStubGateway()
	gw.upsertErr = gateway.ErrUnavailable
	srv := newTestServer(t, gw)
	client := newClient(t)

	resp, body := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/cart/items", addItemBody("v1", 1))
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "gateway_unavailable", errResp.Code)
	// The optimistic line is still in the cart the UI renders.
	require.NotNil(t, errResp.Cart)
	require.Len(t, errResp.Cart.Items, 1)
}

func TestAddItem_InvalidVariantMapsTo422(t *testing.T) {
	gw := newStubGateway()
	gw.upsertErr = gateway.ErrInvalidVariant
	srv := newTestServer(t, gw)
	client := newClient(t)

	resp, body := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/cart/items", addItemBody("v1", 1))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "invalid_variant", errResp.Code)
}

func TestAddItem_Validation(t *testing.T) {
	srv := newTestServer(t, newStubGateway())
	client := newClient(t)

	resp, _ := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/cart/items", addItemBody("", 1))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/cart/items", addItemBody("v1", 100))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/cart/items", addItemBody("v1", -1))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAddItem_OmittedQuantityDefaultsToOne(t *testing.T) {
	srv := newTestServer(t, newStubGateway())
	client := newClient(t)

	resp, body := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/cart/items", addItemBody("v1", 0))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var cartResp CartResponseDTO
	require.NoError(t, json.Unmarshal(body, &cartResp))
	require.Len(t, cartResp.Items, 1)
	assert.Equal(t, 1, cartResp.Items[0].Quantity)
}

func TestSyncEndpoint(t *testing.T) {
	srv := newTestServer(t, newStubGateway())
	client := newClient(t)

	resp, _ := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/cart/items", addItemBody("v1", 2))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/cart/sync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cartResp CartResponseDTO
	require.NoError(t, json.Unmarshal(body, &cartResp))
	require.Len(t, cartResp.Items, 1)
	assert.Equal(t, 2, cartResp.Items[0].Quantity)
	assert.False(t, cartResp.IsSyncing)
}

func TestClearEndpoint(t *testing.T) {
	srv := newTestServer(t, newStubGateway())
	client := newClient(t)

	resp, _ := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/cart/items", addItemBody("v1", 2))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/cart/clear", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cartResp CartResponseDTO
	require.NoError(t, json.Unmarshal(body, &cartResp))
	assert.Empty(t, cartResp.Items)
}

func TestProductsEndpoints(t *testing.T) {
	srv := newTestServer(t, newStubGateway())
	client := newClient(t)

	resp, body := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/products", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Tee")

	resp, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/products/tee", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/products/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
