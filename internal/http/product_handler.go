package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/cartsubs/internal/domain"
)

type Catalog interface {
	ListProducts(ctx context.Context) ([]*domain.Product, error)
	CartSchemes(ctx context.Context) (domain.CartSchemes, error)
}

type ProductHandler struct {
	catalog Catalog
	timeout time.Duration
	logger  *slog.Logger
}

func NewProductHandler(catalog Catalog, timeout time.Duration, logger *slog.Logger) *ProductHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductHandler{
		catalog: catalog,
		timeout: timeout,
		logger:  logger.With("component", "http"),
	}
}

type ProductResponse struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	PriceCents     int64           `json:"price_cents"`
	IsSubscription bool            `json:"is_subscription"`
	Billing        *domain.Billing `json:"billing,omitempty"`
}

// ProductsResponse lists the catalog along with the schemes any one-time
// product can be converted to.
type ProductsResponse struct {
	Products      []ProductResponse `json:"products"`
	Schemes       []domain.Scheme   `json:"subscription_schemes"`
	DefaultScheme domain.SchemeID   `json:"default_scheme"`
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	list, err := h.catalog.ListProducts(ctx)
	if err != nil {
		h.logger.Error("list products", "err", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	set, err := h.catalog.CartSchemes(ctx)
	if err != nil {
		h.logger.Error("list schemes", "err", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	products := make([]ProductResponse, len(list))
	for i, p := range list {
		products[i] = ProductResponse{
			ID:             p.ID,
			Name:           p.Name,
			Type:           p.Type,
			PriceCents:     p.PriceCents,
			IsSubscription: p.Type == domain.SubscriptionProductType,
			Billing:        p.Billing,
		}
	}
	schemes := set.Schemes
	if schemes == nil {
		schemes = []domain.Scheme{}
	}

	respondJSON(w, http.StatusOK, &ProductsResponse{Products: products, Schemes: schemes, DefaultScheme: set.Default})
}
