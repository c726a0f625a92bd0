package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the storefront API surface. The cart routes are a
// thin presentation layer over the store operations; they never mutate
// cart state directly.
func NewRouter(carts *CartHandler, products *CatalogHandler, requestTimeout time.Duration) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.Compress(5))
	r.Use(SessionMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", carts.GetCart)
			r.Post("/items", carts.AddItem)
			r.Patch("/items/{variant_id}", carts.UpdateQuantity)
			r.Delete("/items/{variant_id}", carts.RemoveItem)
			r.Post("/sync", carts.SyncCart)
			r.Post("/clear", carts.ClearCart)
			r.Get("/checkout-url", carts.CheckoutURL)
		})
		r.Route("/products", func(r chi.Router) {
			r.Get("/", products.ListProducts)
			r.Get("/{handle}", products.GetProduct)
		})
	})

	return r
}
