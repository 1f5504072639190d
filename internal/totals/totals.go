// Package totals computes cart totals, splitting one-time charges from
// recurring ones, and renders the totals fragment returned to the cart page.
package totals

import (
	"context"
	"fmt"
	"html/template"
	"io"

	"github.com/fjod/cartsubs/internal/domain"
)

// SubscriptionCheck answers whether a line item bills as a subscription.
type SubscriptionCheck func(ctx context.Context, item *domain.LineItem) (bool, error)

func Calculate(ctx context.Context, cart *domain.Cart, isSubscription SubscriptionCheck) (domain.Totals, error) {
	var t domain.Totals
	index := map[domain.Billing]int{}

	for _, item := range cart.Items {
		if item.Data == nil {
			continue
		}
		line := item.Data.PriceCents * int64(item.Quantity)
		t.SubtotalCents += line
		t.ItemCount += item.Quantity

		sub, err := isSubscription(ctx, item)
		if err != nil {
			return domain.Totals{}, fmt.Errorf("item %s: %w", item.Key, err)
		}
		if !sub {
			t.OneTimeCents += line
			continue
		}

		terms, _ := item.Data.Terms()
		i, ok := index[terms]
		if !ok {
			i = len(t.Recurring)
			index[terms] = i
			t.Recurring = append(t.Recurring, domain.RecurringTotal{
				Period:   terms.Period,
				Interval: terms.Interval,
				Length:   terms.Length,
			})
		}
		t.Recurring[i].AmountCents += line
	}
	return t, nil
}

// Subscriptions bill their first period at checkout: due today is the subtotal.
var fragment = template.Must(template.New("totals").Funcs(template.FuncMap{
	"money":    Money,
	"schedule": Schedule,
}).Parse(`<div class="cart_totals" id="cartsubs-totals">
<table>
<tr class="cart-subtotal"><th>Subtotal</th><td>{{money .SubtotalCents}}</td></tr>
{{- if .Recurring}}
<tr class="order-total"><th>Due today</th><td>{{money .SubtotalCents}}</td></tr>
{{- range .Recurring}}
<tr class="recurring-total"><th>Recurring total</th><td>{{money .AmountCents}} {{schedule .}}</td></tr>
{{- end}}
{{- else}}
<tr class="order-total"><th>Total</th><td>{{money .SubtotalCents}}</td></tr>
{{- end}}
</table>
</div>
`))

func Render(w io.Writer, t domain.Totals) error {
	return fragment.Execute(w, t)
}

func Money(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// Schedule describes a recurring total, e.g. "every 2 weeks for 8 weeks".
func Schedule(r domain.RecurringTotal) string {
	if r.Period == "" {
		return "per period"
	}
	s := "every " + unit(r.Period, r.Interval)
	if r.Length > 0 {
		s += " for " + unit(r.Period, r.Length)
	}
	return s
}

func unit(p domain.BillingPeriod, n int) string {
	if n <= 1 {
		return string(p)
	}
	return fmt.Sprintf("%d %ss", n, p)
}
