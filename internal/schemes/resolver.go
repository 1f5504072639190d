// Package schemes resolves which subscription scheme applies to a cart line
// item.
package schemes

import (
	"context"

	"github.com/fjod/cartsubs/internal/domain"
)

type Source interface {
	CartSchemes(ctx context.Context) (domain.CartSchemes, error)
}

type Resolver struct {
	source Source
}

func NewResolver(source Source) *Resolver {
	return &Resolver{source: source}
}

func (r *Resolver) CartSchemes(ctx context.Context) (domain.CartSchemes, error) {
	return r.source.CartSchemes(ctx)
}

// DefaultSchemeID keeps an explicit one-time choice or a current id that is
// still offered, and otherwise falls back to the set's default.
func (r *Resolver) DefaultSchemeID(_ context.Context, item *domain.LineItem, set domain.CartSchemes) (domain.SchemeID, error) {
	current := domain.NoScheme
	if item.Conversion != nil {
		current = item.Conversion.ActiveSchemeID
	}

	if current == domain.OneTimeScheme || set.Contains(current) {
		return current, nil
	}
	if set.Default == domain.OneTimeScheme || set.Contains(set.Default) {
		return set.Default, nil
	}
	return domain.NoScheme, nil
}

func (r *Resolver) ActiveScheme(ctx context.Context, item *domain.LineItem) (domain.Scheme, bool, error) {
	if item.Conversion == nil || !item.Conversion.ActiveSchemeID.IsSet() {
		return domain.Scheme{}, false, nil
	}
	set, err := r.source.CartSchemes(ctx)
	if err != nil {
		return domain.Scheme{}, false, err
	}
	scheme, ok := set.Find(item.Conversion.ActiveSchemeID)
	return scheme, ok, nil
}
