// Package hooks is the host's lifecycle dispatch. Each named event owns an
// ordered filter chain; callbacks run synchronously by ascending priority and,
// within a priority, in registration order.
package hooks

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"sync"

	"github.com/fjod/cartsubs/internal/domain"
)

// Event names.
const (
	ItemAdded      = "cart.item_added"
	ItemRestored   = "cart.item_restored"
	CartLoaded     = "cart.loaded"
	CartSubmitted  = "cart.submitted"
	IsSubscription = "product.is_subscription"
)

const DefaultPriority = 10

type Func[T any] func(ctx context.Context, v T) (T, error)

type entry[T any] struct {
	name     string
	priority int
	seq      int
	fn       Func[T]
}

// Filter is a chain of callbacks that each receive the previous callback's
// result.
type Filter[T any] struct {
	event   string
	mu      sync.RWMutex
	entries []entry[T]
	seq     int
}

func NewFilter[T any](event string) *Filter[T] {
	return &Filter[T]{event: event}
}

func (f *Filter[T]) Event() string {
	return f.event
}

func (f *Filter[T]) Add(name string, priority int, fn Func[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.entries = append(f.entries, entry[T]{name: name, priority: priority, seq: f.seq, fn: fn})
	sort.SliceStable(f.entries, func(i, j int) bool {
		if f.entries[i].priority != f.entries[j].priority {
			return f.entries[i].priority < f.entries[j].priority
		}
		return f.entries[i].seq < f.entries[j].seq
	})
}

func (f *Filter[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Names lists the registered callbacks in dispatch order.
func (f *Filter[T]) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, len(f.entries))
	for i, e := range f.entries {
		names[i] = e.name
	}
	return names
}

// Apply runs the chain. The first error stops dispatch.
func (f *Filter[T]) Apply(ctx context.Context, v T) (T, error) {
	f.mu.RLock()
	entries := make([]entry[T], len(f.entries))
	copy(entries, f.entries)
	f.mu.RUnlock()

	for _, e := range entries {
		next, err := e.fn(ctx, v)
		if err != nil {
			return v, fmt.Errorf("%s/%s: %w", f.event, e.name, err)
		}
		v = next
	}
	return v, nil
}

// Restore is dispatched once per item rebuilt from the session.
type Restore struct {
	Item   *domain.LineItem
	Stored domain.StoredItem
}

// Loaded is dispatched once the whole cart has been restored.
type Loaded struct {
	Cart    *domain.Cart
	Session *domain.Session
}

// CartForm holds the per-item fields of a cart form submission.
type CartForm map[string]ItemForm

type ItemForm struct {
	ConvertToSub *string
	Quantity     *int
}

type Submission struct {
	Cart    *domain.Cart
	Form    CartForm
	Updated bool
}

type SubscriptionQuery struct {
	Is        bool
	ProductID int64
	Product   *domain.Product
}

// Host is what ajax actions may ask of the cart host.
type Host interface {
	CalculateTotals(ctx context.Context, cart *domain.Cart) error
	RenderTotals(w io.Writer, cart *domain.Cart) error
	SaveCart(ctx context.Context, sess *domain.Session, cart *domain.Cart) error
}

type AjaxRequest struct {
	Cart    *domain.Cart
	Session *domain.Session
	Form    url.Values
	Host    Host
	Out     io.Writer
}

type AjaxFunc func(ctx context.Context, req *AjaxRequest) error

type Registry struct {
	ItemAdded      *Filter[*domain.LineItem]
	ItemRestored   *Filter[Restore]
	CartLoaded     *Filter[Loaded]
	CartSubmitted  *Filter[Submission]
	IsSubscription *Filter[SubscriptionQuery]

	mu   sync.RWMutex
	ajax map[string]AjaxFunc
}

func NewRegistry() *Registry {
	return &Registry{
		ItemAdded:      NewFilter[*domain.LineItem](ItemAdded),
		ItemRestored:   NewFilter[Restore](ItemRestored),
		CartLoaded:     NewFilter[Loaded](CartLoaded),
		CartSubmitted:  NewFilter[Submission](CartSubmitted),
		IsSubscription: NewFilter[SubscriptionQuery](IsSubscription),
		ajax:           make(map[string]AjaxFunc),
	}
}

// HandleAjax registers an ajax action. Registering the same name twice
// replaces the earlier handler.
func (r *Registry) HandleAjax(action string, fn AjaxFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ajax[action] = fn
}

func (r *Registry) Ajax(action string) (AjaxFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.ajax[action]
	return fn, ok
}
