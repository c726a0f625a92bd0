package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/solemart/storefront/internal/cart"
	"github.com/solemart/storefront/internal/domain"
	"github.com/solemart/storefront/internal/gateway"
)

type CartHandler struct {
	sessions *Sessions
	timeout  time.Duration
	log      logrus.FieldLogger
}

func NewCartHandler(sessions *Sessions, timeout time.Duration, log logrus.FieldLogger) *CartHandler {
	return &CartHandler{
		sessions: sessions,
		timeout:  timeout,
		log:      log,
	}
}

type AddItemRequestDTO struct {
	VariantID       string                  `json:"variant_id"`
	VariantTitle    string                  `json:"variant_title"`
	Quantity        int                     `json:"quantity"`
	Price           domain.Money            `json:"price"`
	Product         domain.ProductSnapshot  `json:"product"`
	SelectedOptions []domain.SelectedOption `json:"selected_options"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type CartResponseDTO struct {
	Items         []domain.LineItem `json:"items"`
	TotalQuantity int               `json:"total_quantity"`
	Subtotal      domain.Money      `json:"subtotal"`
	IsLoading     bool              `json:"is_loading"`
	IsSyncing     bool              `json:"is_syncing"`
	CheckoutURL   string            `json:"checkout_url,omitempty"`
}

type ErrorResponse struct {
	Error string           `json:"error"`
	Code  string           `json:"code,omitempty"`
	Cart  *CartResponseDTO `json:"cart,omitempty"`
}

func cartResponse(store *cart.Store) *CartResponseDTO {
	resp := &CartResponseDTO{
		Items:         store.Items(),
		TotalQuantity: store.TotalQuantity(),
		Subtotal:      store.Subtotal(),
		IsLoading:     store.Loading(),
		IsSyncing:     store.Syncing(),
	}
	if url, ok := store.CheckoutURL(); ok {
		resp.CheckoutURL = url
	}
	return resp
}

func (h *CartHandler) store(w http.ResponseWriter, r *http.Request) (*cart.Store, bool) {
	sessionID := sessionIDFromContext(r.Context())
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "no_session", "missing session", nil)
		return nil, false
	}
	return h.sessions.Cart(r.Context(), sessionID), true
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(store))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
		return
	}
	if req.VariantID == "" {
		respondError(w, http.StatusBadRequest, "invalid_variant_id", "variant_id is required", nil)
		return
	}
	// Zero means "not specified"; the store defaults it to 1.
	if req.Quantity < 0 || req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 0 and 99", nil)
		return
	}

	err := store.AddItem(ctx, cart.Entry{
		Product:         req.Product,
		VariantID:       req.VariantID,
		VariantTitle:    req.VariantTitle,
		Price:           req.Price,
		Quantity:        req.Quantity,
		SelectedOptions: req.SelectedOptions,
	})
	if err != nil {
		h.respondCartError(w, store, err)
		return
	}
	respondJSON(w, http.StatusCreated, cartResponse(store))
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	variantID := chi.URLParam(r, "variant_id")
	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
		return
	}
	if req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at most 99", nil)
		return
	}

	if err := store.UpdateQuantity(ctx, variantID, req.Quantity); err != nil {
		h.respondCartError(w, store, err)
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(store))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	if err := store.RemoveItem(ctx, chi.URLParam(r, "variant_id")); err != nil {
		h.respondCartError(w, store, err)
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(store))
}

func (h *CartHandler) SyncCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	if err := store.Sync(ctx); err != nil {
		h.respondCartError(w, store, err)
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(store))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	if err := store.Clear(ctx); err != nil {
		h.respondCartError(w, store, err)
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(store))
}

// CheckoutURL flushes pending debounced pushes first so the checkout
// the user opens matches what they see.
func (h *CartHandler) CheckoutURL(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	if err := store.Flush(ctx); err != nil {
		h.respondCartError(w, store, err)
		return
	}
	url, ok := store.CheckoutURL()
	if !ok {
		respondError(w, http.StatusNotFound, "no_checkout_url", "cart has no checkout url yet", cartResponse(store))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"checkout_url": url})
}

// respondCartError maps store errors to HTTP statuses. The current
// (optimistic) cart rides along so the UI can keep rendering it next
// to the error notification.
func (h *CartHandler) respondCartError(w http.ResponseWriter, store *cart.Store, err error) {
	h.log.WithError(err).Warn("cart operation failed")
	body := cartResponse(store)
	switch {
	case errors.Is(err, gateway.ErrInvalidVariant):
		respondError(w, http.StatusUnprocessableEntity, "invalid_variant", err.Error(), body)
	case errors.Is(err, gateway.ErrUnavailable):
		respondError(w, http.StatusBadGateway, "gateway_unavailable", err.Error(), body)
	case errors.Is(err, cart.ErrClosed):
		respondError(w, http.StatusConflict, "session_closed", err.Error(), body)
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error(), body)
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Error("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string, cart *CartResponseDTO) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code, Cart: cart})
}
