package http

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/fjod/cartsubs/internal/hooks"
)

const (
	convertToSubField = "convert_to_sub"
	quantityField     = "qty"
)

// parseCartForm reads the cart[<key>][<field>] fields of a cart form post.
// Unknown fields are ignored.
func parseCartForm(values url.Values) (hooks.CartForm, error) {
	form := hooks.CartForm{}
	for name, vs := range values {
		key, field, ok := splitCartField(name)
		if !ok || len(vs) == 0 {
			continue
		}
		v := vs[len(vs)-1]
		entry := form[key]

		switch field {
		case convertToSubField:
			entry.ConvertToSub = &v
		case quantityField:
			qty, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil || qty < 0 {
				return nil, fmt.Errorf("invalid quantity for %s", key)
			}
			entry.Quantity = &qty
		default:
			continue
		}
		form[key] = entry
	}
	return form, nil
}

func splitCartField(name string) (key, field string, ok bool) {
	rest, found := strings.CutPrefix(name, "cart[")
	if !found {
		return "", "", false
	}
	key, rest, found = strings.Cut(rest, "][")
	if !found || key == "" {
		return "", "", false
	}
	field, found = strings.CutSuffix(rest, "]")
	if !found || field == "" {
		return "", "", false
	}
	return key, field, true
}
