// Package convert lets any eligible cart line item be switched between a
// one-time purchase and a subscription. It keeps a conversion record on each
// eligible item and derives the product-level subscription flags from the
// record's active scheme.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/fjod/cartsubs/internal/domain"
	"github.com/fjod/cartsubs/internal/hooks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UpdateCartOptionAction is the ajax action saving the cart-wide selection.
const UpdateCartOptionAction = "cartsubs_update_cart_option"

// SelectedSchemeField is the form field carrying the cart-wide selection.
const SelectedSchemeField = "selected_scheme"

var conversionsApplied = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cartsubs_conversions_applied_total",
		Help: "Conversion transitions applied to cart line items.",
	},
	[]string{"converted"},
)

type SchemeResolver interface {
	CartSchemes(ctx context.Context) (domain.CartSchemes, error)
	DefaultSchemeID(ctx context.Context, item *domain.LineItem, set domain.CartSchemes) (domain.SchemeID, error)
	ActiveScheme(ctx context.Context, item *domain.LineItem) (domain.Scheme, bool, error)
}

type Classifier interface {
	IsNativeSubscription(ctx context.Context, productID int64) (bool, error)
}

type Controller struct {
	schemes    SchemeResolver
	classifier Classifier
	logger     *slog.Logger
}

func NewController(schemes SchemeResolver, classifier Classifier, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		schemes:    schemes,
		classifier: classifier,
		logger:     logger.With("component", "convert"),
	}
}

// Register subscribes the controller to the host's lifecycle events. Restore
// and finalize run at priority 5 so later callbacks see converted items.
func (c *Controller) Register(r *hooks.Registry) {
	r.IsSubscription.Add("convert.is_subscription", hooks.DefaultPriority, c.IsSubscription)
	r.ItemAdded.Add("convert.attach_record", hooks.DefaultPriority, c.AttachRecord)
	r.ItemRestored.Add("convert.restore_record", 5, c.RestoreRecord)
	r.CartLoaded.Add("convert.finalize_cart", 5, c.FinalizeCart)
	r.CartSubmitted.Add("convert.update_item_options", hooks.DefaultPriority, c.UpdateItemOptions)
	r.HandleAjax(UpdateCartOptionAction, c.UpdateCartOption)
}

// IsConvertible reports whether item may be toggled. Native subscription
// products can never become one-time purchases.
func (c *Controller) IsConvertible(ctx context.Context, item *domain.LineItem) (bool, error) {
	native, err := c.classifier.IsNativeSubscription(ctx, item.ProductID)
	if err != nil {
		return false, fmt.Errorf("classify product %d: %w", item.ProductID, err)
	}
	return !native, nil
}

func (c *Controller) AttachRecord(ctx context.Context, item *domain.LineItem) (*domain.LineItem, error) {
	ok, err := c.IsConvertible(ctx, item)
	if err != nil {
		return item, err
	}
	if ok {
		item.Conversion = &domain.ConversionRecord{ActiveSchemeID: domain.NoScheme}
	}
	return item, nil
}

func (c *Controller) RestoreRecord(_ context.Context, r hooks.Restore) (hooks.Restore, error) {
	if r.Stored.Conversion != nil {
		record := *r.Stored.Conversion
		r.Item.Conversion = &record
	}
	return r, nil
}

// FinalizeCart resolves the scheme of every record-bearing item and derives
// its product flags. The session's last cart-wide selection becomes the
// default for records that have no scheme yet.
func (c *Controller) FinalizeCart(ctx context.Context, l hooks.Loaded) (hooks.Loaded, error) {
	set, err := c.schemes.CartSchemes(ctx)
	if err != nil {
		return l, fmt.Errorf("load cart schemes: %w", err)
	}
	if l.Session != nil {
		if last, ok := l.Session.Get(domain.ActiveSchemeSessionKey); ok && last != "" {
			set.Default = domain.SchemeID(last)
		}
	}

	for _, item := range l.Cart.Items {
		if item.Conversion == nil {
			continue
		}
		id, err := c.schemes.DefaultSchemeID(ctx, item, set)
		if err != nil {
			return l, fmt.Errorf("resolve scheme for item %s: %w", item.Key, err)
		}
		item.Conversion.ActiveSchemeID = id
		if _, err := c.ApplyConversion(ctx, item); err != nil {
			return l, err
		}
	}
	return l, nil
}

// ApplyConversion derives the product flags from the record's active scheme.
// When no scheme is active the billing fields keep their previous values; the
// converted flag alone gates their use.
func (c *Controller) ApplyConversion(ctx context.Context, item *domain.LineItem) (*domain.LineItem, error) {
	if item.Data == nil {
		item.Data = &domain.Product{ID: item.ProductID}
	}
	flags := item.Data.Conversion
	if flags == nil {
		flags = &domain.DerivedFlags{}
		item.Data.Conversion = flags
	}

	scheme, ok, err := c.schemes.ActiveScheme(ctx, item)
	if err != nil {
		return item, fmt.Errorf("active scheme for item %s: %w", item.Key, err)
	}
	if !ok {
		flags.Converted = domain.ConvertedNo
		conversionsApplied.WithLabelValues(string(domain.ConvertedNo)).Inc()
		return item, nil
	}

	flags.Converted = domain.ConvertedYes
	flags.Period = scheme.Period
	flags.Interval = scheme.Interval
	flags.Length = scheme.Length
	conversionsApplied.WithLabelValues(string(domain.ConvertedYes)).Inc()
	c.logger.Debug("item converted to subscription", "item", item.Key, "scheme", scheme.ID)
	return item, nil
}

// UpdateItemOptions stores the per-item selections of a cart form submission.
// Values are stored as submitted; ids that do not resolve are downgraded to
// one-time purchases when the cart is next finalized.
func (c *Controller) UpdateItemOptions(_ context.Context, s hooks.Submission) (hooks.Submission, error) {
	for _, item := range s.Cart.Items {
		if item.Conversion == nil {
			continue
		}
		field, ok := s.Form[item.Key]
		if !ok || field.ConvertToSub == nil {
			continue
		}
		item.Conversion.ActiveSchemeID = domain.SchemeID(*field.ConvertToSub)
		s.Updated = true
	}
	return s, nil
}

// UpdateCartOption applies one scheme to every convertible item, remembers it
// in the session and writes the recalculated totals fragment.
func (c *Controller) UpdateCartOption(ctx context.Context, req *hooks.AjaxRequest) error {
	selected := domain.OneTimeScheme
	if v := sanitize(req.Form.Get(SelectedSchemeField)); v != "" {
		selected = domain.SchemeID(v)
	}

	for _, item := range req.Cart.Items {
		if item.Conversion == nil {
			continue
		}
		item.Conversion.ActiveSchemeID = selected
		if _, err := c.ApplyConversion(ctx, item); err != nil {
			return err
		}
	}

	req.Session.Set(domain.ActiveSchemeSessionKey, string(selected))

	if err := req.Host.CalculateTotals(ctx, req.Cart); err != nil {
		return fmt.Errorf("calculate totals: %w", err)
	}
	if err := req.Host.SaveCart(ctx, req.Session, req.Cart); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	c.logger.Info("cart-wide scheme selected", "session", req.Session.ID, "scheme", selected)
	return req.Host.RenderTotals(req.Out, req.Cart)
}

// IsSubscription turns a converted product into a subscription in the host's
// eyes. A native yes is never overridden.
func (c *Controller) IsSubscription(_ context.Context, q hooks.SubscriptionQuery) (hooks.SubscriptionQuery, error) {
	if q.Is || q.Product == nil {
		return q, nil
	}
	if q.Product.IsConverted() {
		q.Is = true
	}
	return q, nil
}

// sanitize trims the value and drops markup and control characters.
func sanitize(v string) string {
	var b strings.Builder
	inTag := false
	for _, r := range v {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case inTag:
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
