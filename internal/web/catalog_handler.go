package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/solemart/storefront/internal/catalog"
)

type CatalogHandler struct {
	source  catalog.Source
	timeout time.Duration
	log     logrus.FieldLogger
}

func NewCatalogHandler(source catalog.Source, timeout time.Duration, log logrus.FieldLogger) *CatalogHandler {
	return &CatalogHandler{
		source:  source,
		timeout: timeout,
		log:     log,
	}
}

func (h *CatalogHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	first := 20
	if raw := r.URL.Query().Get("first"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			respondError(w, http.StatusBadRequest, "invalid_first", "first must be between 1 and 100", nil)
			return
		}
		first = n
	}

	products, err := h.source.Products(ctx, first, r.URL.Query().Get("query"))
	if err != nil {
		h.log.WithError(err).Warn("product listing failed")
		respondError(w, http.StatusBadGateway, "catalog_unavailable", err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *CatalogHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	handle := chi.URLParam(r, "handle")
	product, err := h.source.ProductByHandle(ctx, handle)
	if err != nil {
		h.log.WithError(err).Warn("product lookup failed")
		respondError(w, http.StatusBadGateway, "catalog_unavailable", err.Error(), nil)
		return
	}
	if product == nil {
		respondError(w, http.StatusNotFound, "not_found", "product not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, product)
}
