package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/fjod/cartsubs/internal/cache"
	"github.com/fjod/cartsubs/internal/catalog"
	"github.com/fjod/cartsubs/internal/domain"
	"github.com/fjod/cartsubs/internal/hooks"
	"github.com/fjod/cartsubs/internal/repository"
	"github.com/fjod/cartsubs/internal/totals"
	"golang.org/x/sync/singleflight"
)

const MaxQuantity = 99

var (
	ErrItemNotFound    = errors.New("item not found in cart")
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 99")
	ErrUnknownAction   = errors.New("unknown ajax action")
)

// Catalog looks up products. Missing products are reported with
// catalog.ErrProductNotFound.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
}

// CartService hosts the cart: it rebuilds carts from the session store and
// dispatches the lifecycle hooks in a fixed order.
type CartService struct {
	repo    repository.SessionRepository
	cache   cache.SessionCache
	catalog Catalog
	hooks   *hooks.Registry
	logger  *slog.Logger
	sfg     singleflight.Group // Prevents cache stampede
}

func NewCartService(repo repository.SessionRepository, cache cache.SessionCache, catalog Catalog, registry *hooks.Registry, logger *slog.Logger) *CartService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CartService{
		repo:    repo,
		cache:   cache,
		catalog: catalog,
		hooks:   registry,
		logger:  logger.With("component", "cart"),
	}
}

// GetSession returns a private copy of the session, reading through the cache.
// Unknown sessions start empty and are persisted on first save.
func (s *CartService) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	v, err, _ := s.sfg.Do(sessionID, func() (interface{}, error) {
		sess, err := s.cache.Get(ctx, sessionID)
		if err == nil {
			return sess, nil
		}

		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cache get error", "session", sessionID, "err", err)
		}

		sess, errGet := s.repo.GetSession(ctx, sessionID)
		if errors.Is(errGet, repository.ErrSessionNotFound) {
			return domain.NewSession(sessionID), nil
		}
		if errGet != nil {
			return nil, errGet
		}

		// Synchronous: must not land after a later save's invalidation.
		if errSet := s.cache.Set(ctx, sessionID, sess); errSet != nil {
			s.logger.Warn("cache set error", "session", sessionID, "err", errSet)
		}

		return sess, nil
	})

	if err != nil {
		return nil, err
	}

	return cloneSession(v.(*domain.Session)), nil
}

// LoadCart rebuilds the cart from the session. Every item is restored before
// the cart-loaded hook runs.
func (s *CartService) LoadCart(ctx context.Context, sessionID string) (*domain.Cart, *domain.Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	cart := &domain.Cart{SessionID: sessionID, Items: make([]*domain.LineItem, 0, len(sess.Items))}
	for _, stored := range sess.Items {
		product, err := s.catalog.GetProduct(ctx, stored.ProductID)
		if errors.Is(err, catalog.ErrProductNotFound) {
			s.logger.Info("dropping cart item for missing product", "session", sessionID, "product", stored.ProductID)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load product %d: %w", stored.ProductID, err)
		}

		restored, err := s.hooks.ItemRestored.Apply(ctx, hooks.Restore{
			Item: &domain.LineItem{
				Key:       stored.Key,
				ProductID: stored.ProductID,
				Quantity:  stored.Quantity,
				Data:      product,
			},
			Stored: stored,
		})
		if err != nil {
			return nil, nil, err
		}
		cart.Items = append(cart.Items, restored.Item)
	}

	if _, err := s.hooks.CartLoaded.Apply(ctx, hooks.Loaded{Cart: cart, Session: sess}); err != nil {
		return nil, nil, err
	}
	if err := s.CalculateTotals(ctx, cart); err != nil {
		return nil, nil, err
	}
	return cart, sess, nil
}

func (s *CartService) AddItem(ctx context.Context, sessionID string, productID int64, quantity int) (*domain.Cart, error) {
	if quantity <= 0 || quantity > MaxQuantity {
		return nil, ErrInvalidQuantity
	}

	cart, sess, err := s.LoadCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	key := domain.ItemKey(productID)
	if existing, ok := cart.Item(key); ok {
		existing.Quantity = min(existing.Quantity+quantity, MaxQuantity)
	} else {
		product, err := s.catalog.GetProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		item, err := s.hooks.ItemAdded.Apply(ctx, &domain.LineItem{
			Key:       key,
			ProductID: productID,
			Quantity:  quantity,
			Data:      product,
		})
		if err != nil {
			return nil, err
		}
		cart.Items = append(cart.Items, item)
	}

	return s.saveAndReload(ctx, sess, cart)
}

func (s *CartService) UpdateQuantity(ctx context.Context, sessionID, key string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 || quantity > MaxQuantity {
		return nil, ErrInvalidQuantity
	}

	cart, sess, err := s.LoadCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	item, ok := cart.Item(key)
	if !ok {
		return nil, ErrItemNotFound
	}
	item.Quantity = quantity

	return s.saveAndReload(ctx, sess, cart)
}

// RemoveItem drops the line and its conversion record with it.
func (s *CartService) RemoveItem(ctx context.Context, sessionID, key string) (*domain.Cart, error) {
	cart, sess, err := s.LoadCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !cart.Remove(key) {
		return nil, ErrItemNotFound
	}

	return s.saveAndReload(ctx, sess, cart)
}

// ClearCart empties the cart. Session-level values such as the cart-wide
// scheme selection are kept.
func (s *CartService) ClearCart(ctx context.Context, sessionID string) (*domain.Cart, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return s.saveAndReload(ctx, sess, &domain.Cart{SessionID: sessionID})
}

// DropItems empties a stored cart without loading it, for carts that were
// checked out elsewhere.
func (s *CartService) DropItems(ctx context.Context, sessionID string) error {
	err := s.repo.ClearItems(ctx, sessionID)
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return err
	}

	s.invalidateCache(sessionID)
	return nil
}

// SubmitCart applies a cart form: quantities first, then the cart-submitted
// hook. The cart is saved only when something changed.
func (s *CartService) SubmitCart(ctx context.Context, sessionID string, form hooks.CartForm) (*domain.Cart, bool, error) {
	cart, sess, err := s.LoadCart(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}

	updated := false
	for key, field := range form {
		if field.Quantity == nil {
			continue
		}
		item, ok := cart.Item(key)
		if !ok || item.Quantity == *field.Quantity {
			continue
		}
		if *field.Quantity <= 0 {
			cart.Remove(key)
		} else {
			item.Quantity = min(*field.Quantity, MaxQuantity)
		}
		updated = true
	}

	sub, err := s.hooks.CartSubmitted.Apply(ctx, hooks.Submission{Cart: cart, Form: form, Updated: updated})
	if err != nil {
		return nil, false, err
	}
	if !sub.Updated {
		return cart, false, nil
	}

	cart, err = s.saveAndReload(ctx, sess, cart)
	if err != nil {
		return nil, false, err
	}
	return cart, true, nil
}

// DispatchAjax runs a registered ajax action against the session's cart. The
// action owns the response body.
func (s *CartService) DispatchAjax(ctx context.Context, sessionID, action string, form url.Values, out io.Writer) error {
	fn, ok := s.hooks.Ajax(action)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	cart, sess, err := s.LoadCart(ctx, sessionID)
	if err != nil {
		return err
	}

	return fn(ctx, &hooks.AjaxRequest{
		Cart:    cart,
		Session: sess,
		Form:    form,
		Host:    s,
		Out:     out,
	})
}

func (s *CartService) CalculateTotals(ctx context.Context, cart *domain.Cart) error {
	t, err := totals.Calculate(ctx, cart, func(ctx context.Context, item *domain.LineItem) (bool, error) {
		return s.IsSubscription(ctx, item.Data)
	})
	if err != nil {
		return fmt.Errorf("calculate totals: %w", err)
	}
	cart.Totals = t
	return nil
}

func (s *CartService) RenderTotals(w io.Writer, cart *domain.Cart) error {
	return totals.Render(w, cart.Totals)
}

// IsSubscription asks the is-subscription hook, starting from the product's
// native type.
func (s *CartService) IsSubscription(ctx context.Context, product *domain.Product) (bool, error) {
	q := hooks.SubscriptionQuery{Is: product != nil && product.Type == domain.SubscriptionProductType, Product: product}
	if product != nil {
		q.ProductID = product.ID
	}

	q, err := s.hooks.IsSubscription.Apply(ctx, q)
	if err != nil {
		return false, err
	}
	return q.Is, nil
}

func (s *CartService) SaveCart(ctx context.Context, sess *domain.Session, cart *domain.Cart) error {
	sess.Items = cart.Stored(sess.Items)

	if err := s.repo.UpsertSession(ctx, sess); err != nil {
		s.logger.Error("repo upsert session error", "session", sess.ID, "err", err)
		return err
	}

	s.invalidateCache(sess.ID)
	return nil
}

func (s *CartService) saveAndReload(ctx context.Context, sess *domain.Session, cart *domain.Cart) (*domain.Cart, error) {
	if err := s.SaveCart(ctx, sess, cart); err != nil {
		return nil, err
	}
	reloaded, _, err := s.LoadCart(ctx, sess.ID)
	return reloaded, err
}

func (s *CartService) invalidateCache(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("cache invalidate error", "session", sessionID, "err", err)
	}
}

func cloneSession(in *domain.Session) *domain.Session {
	out := *in
	out.Items = make([]domain.StoredItem, len(in.Items))
	for i, item := range in.Items {
		out.Items[i] = item
		if item.Conversion != nil {
			record := *item.Conversion
			out.Items[i].Conversion = &record
		}
	}
	out.Values = make(map[string]string, len(in.Values))
	for k, v := range in.Values {
		out.Values[k] = v
	}
	return &out
}
