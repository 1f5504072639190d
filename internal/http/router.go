package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(cartHandler *CartHandler, productHandler *ProductHandler, requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(MetricsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", productHandler.Get)

		r.Group(func(r chi.Router) {
			r.Use(SessionMiddleware)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Post("/", cartHandler.SubmitCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Get("/nonce", cartHandler.IssueNonce)
				r.Post("/items", cartHandler.AddItem)
				r.Put("/items/{key}", cartHandler.UpdateQuantity)
				r.Delete("/items/{key}", cartHandler.RemoveItem)
			})
			r.Post("/ajax/{action}", cartHandler.Ajax)
		})
	})

	return r
}
