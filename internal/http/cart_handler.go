package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/fjod/cartsubs/internal/catalog"
	"github.com/fjod/cartsubs/internal/domain"
	"github.com/fjod/cartsubs/internal/hooks"
	"github.com/fjod/cartsubs/internal/nonce"
	"github.com/fjod/cartsubs/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/sony/gobreaker/v2"
)

// UpdateCartAction is the anti-forgery action of the cart form.
const UpdateCartAction = "cartsubs_update_cart"

const (
	nonceField    = "_nonce"
	securityField = "security"
)

type CartService interface {
	LoadCart(ctx context.Context, sessionID string) (*domain.Cart, *domain.Session, error)
	AddItem(ctx context.Context, sessionID string, productID int64, quantity int) (*domain.Cart, error)
	UpdateQuantity(ctx context.Context, sessionID, key string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, sessionID, key string) (*domain.Cart, error)
	ClearCart(ctx context.Context, sessionID string) (*domain.Cart, error)
	SubmitCart(ctx context.Context, sessionID string, form hooks.CartForm) (*domain.Cart, bool, error)
	DispatchAjax(ctx context.Context, sessionID, action string, form url.Values, out io.Writer) error
	IsSubscription(ctx context.Context, product *domain.Product) (bool, error)
}

type Nonces interface {
	Issue(sessionID, action string) (string, error)
	Verify(token, sessionID, action string) error
}

type CartHandler struct {
	carts   CartService
	nonces  Nonces
	timeout time.Duration
	logger  *slog.Logger
}

func NewCartHandler(carts CartService, nonces Nonces, timeout time.Duration, logger *slog.Logger) *CartHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CartHandler{
		carts:   carts,
		nonces:  nonces,
		timeout: timeout,
		logger:  logger.With("component", "http"),
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type LineItemDTO struct {
	Key            string                   `json:"key"`
	ProductID      int64                    `json:"product_id"`
	Quantity       int                      `json:"quantity"`
	Product        *domain.Product          `json:"product"`
	Conversion     *domain.ConversionRecord `json:"conversion_record,omitempty"`
	IsSubscription bool                     `json:"is_subscription"`
	LineTotalCents int64                    `json:"line_total_cents"`
}

type CartResponseDTO struct {
	SessionID string        `json:"session_id"`
	Items     []LineItemDTO `json:"items"`
	Totals    domain.Totals `json:"totals"`
	Updated   *bool         `json:"updated,omitempty"`
}

type NonceResponseDTO struct {
	Action string `json:"action"`
	Nonce  string `json:"nonce"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, _, err := h.carts.LoadCart(ctx, SessionID(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.respondCart(ctx, w, http.StatusOK, cart, nil)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}
	if req.Quantity <= 0 || req.Quantity > service.MaxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	cart, err := h.carts.AddItem(ctx, SessionID(r.Context()), req.ProductID, req.Quantity)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.respondCart(ctx, w, http.StatusCreated, cart, nil)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	cart, err := h.carts.UpdateQuantity(ctx, SessionID(r.Context()), chi.URLParam(r, "key"), req.Quantity)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.respondCart(ctx, w, http.StatusOK, cart, nil)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.RemoveItem(ctx, SessionID(r.Context()), chi.URLParam(r, "key"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.respondCart(ctx, w, http.StatusOK, cart, nil)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.ClearCart(ctx, SessionID(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.respondCart(ctx, w, http.StatusOK, cart, nil)
}

// IssueNonce hands out an anti-forgery token for one action of the caller's
// session.
func (h *CartHandler) IssueNonce(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	if action == "" {
		respondError(w, http.StatusBadRequest, "invalid_action", "action is required")
		return
	}

	token, err := h.nonces.Issue(SessionID(r.Context()), action)
	if err != nil {
		h.logger.Error("issue nonce", "err", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, NonceResponseDTO{Action: action, Nonce: token})
}

// SubmitCart handles the cart page form post.
func (h *CartHandler) SubmitCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid form body")
		return
	}
	sessionID := SessionID(r.Context())
	if err := h.nonces.Verify(r.PostForm.Get(nonceField), sessionID, UpdateCartAction); err != nil {
		h.logger.Warn("cart form rejected", "session", sessionID, "err", err)
		respondError(w, http.StatusForbidden, "invalid_nonce", "invalid or expired security token")
		return
	}

	form, err := parseCartForm(r.PostForm)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
		return
	}

	cart, updated, err := h.carts.SubmitCart(ctx, sessionID, form)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.respondCart(ctx, w, http.StatusOK, cart, &updated)
}

// Ajax dispatches a registered ajax action. The token is checked before the
// cart is touched; the action's output becomes the response body.
func (h *CartHandler) Ajax(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid form body")
		return
	}
	action := chi.URLParam(r, "action")
	sessionID := SessionID(r.Context())
	if err := h.nonces.Verify(r.PostForm.Get(securityField), sessionID, action); err != nil {
		h.logger.Warn("ajax request rejected", "session", sessionID, "action", action, "err", err)
		respondError(w, http.StatusForbidden, "invalid_nonce", "invalid or expired security token")
		return
	}

	var out bytes.Buffer
	if err := h.carts.DispatchAjax(ctx, sessionID, action, r.PostForm, &out); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := out.WriteTo(w); err != nil {
		h.logger.Error("failed to write ajax response", "err", err)
	}
}

func (h *CartHandler) respondCart(ctx context.Context, w http.ResponseWriter, status int, cart *domain.Cart, updated *bool) {
	resp := CartResponseDTO{
		SessionID: cart.SessionID,
		Items:     make([]LineItemDTO, 0, len(cart.Items)),
		Totals:    cart.Totals,
		Updated:   updated,
	}
	for _, item := range cart.Items {
		isSub, err := h.carts.IsSubscription(ctx, item.Data)
		if err != nil {
			h.handleServiceError(w, err)
			return
		}
		dto := LineItemDTO{
			Key:            item.Key,
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			Product:        item.Data,
			Conversion:     item.Conversion,
			IsSubscription: isSub,
		}
		if item.Data != nil {
			dto.LineTotalCents = item.Data.PriceCents * int64(item.Quantity)
		}
		resp.Items = append(resp.Items, dto)
	}
	respondJSON(w, status, resp)
}

func (h *CartHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, service.ErrItemNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, catalog.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", err.Error())
	case errors.Is(err, service.ErrUnknownAction):
		respondError(w, http.StatusBadRequest, "unknown_action", err.Error())
	case errors.Is(err, nonce.ErrInvalidToken):
		respondError(w, http.StatusForbidden, "invalid_nonce", "invalid or expired security token")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "session store unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		h.logger.Error("request failed", "err", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
