package totals

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/fjod/cartsubs/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func convertedItem(key string, price int64, qty int, period domain.BillingPeriod, interval int) *domain.LineItem {
	return &domain.LineItem{
		Key:      key,
		Quantity: qty,
		Data: &domain.Product{PriceCents: price, Conversion: &domain.DerivedFlags{
			Converted: domain.ConvertedYes, Period: period, Interval: interval,
		}},
	}
}

func byFlag(_ context.Context, item *domain.LineItem) (bool, error) {
	return item.Data.IsConverted() || item.Data.Billing != nil, nil
}

func TestCalculate(t *testing.T) {
	cart := &domain.Cart{Items: []*domain.LineItem{
		{Key: "one-time", Quantity: 2, Data: &domain.Product{PriceCents: 500}},
		convertedItem("monthly-a", 1000, 1, domain.PeriodMonth, 1),
		convertedItem("weekly", 250, 4, domain.PeriodWeek, 2),
		convertedItem("monthly-b", 300, 1, domain.PeriodMonth, 1),
		{Key: "native", Quantity: 1, Data: &domain.Product{PriceCents: 990, Billing: &domain.Billing{Period: domain.PeriodMonth, Interval: 1}}},
		{Key: "no-data", Quantity: 3},
	}}

	got, err := Calculate(context.Background(), cart, byFlag)
	require.NoError(t, err)
	assert.Equal(t, int64(1000+1000+1000+300+990), got.SubtotalCents)
	assert.Equal(t, int64(1000), got.OneTimeCents)
	assert.Equal(t, 9, got.ItemCount)
	require.Len(t, got.Recurring, 2)
	assert.Equal(t, domain.PeriodMonth, got.Recurring[0].Period)
	assert.Equal(t, int64(1000+300+990), got.Recurring[0].AmountCents)
	assert.Equal(t, domain.PeriodWeek, got.Recurring[1].Period)
	assert.Equal(t, 2, got.Recurring[1].Interval)
	assert.Equal(t, int64(1000), got.Recurring[1].AmountCents)
}

func TestCalculate_CheckError(t *testing.T) {
	cart := &domain.Cart{Items: []*domain.LineItem{{Key: "a", Quantity: 1, Data: &domain.Product{}}}}
	_, err := Calculate(context.Background(), cart, func(context.Context, *domain.LineItem) (bool, error) {
		return false, errors.New("boom")
	})
	require.ErrorContains(t, err, "item a: boom")
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, domain.Totals{
		SubtotalCents: 3490,
		OneTimeCents:  2490,
		Recurring: []domain.RecurringTotal{
			{Period: domain.PeriodWeek, Interval: 2, Length: 8, AmountCents: 1000},
		},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, `id="cartsubs-totals"`)
	assert.Contains(t, out, "Subtotal</th><td>34.90")
	assert.Contains(t, out, "Due today</th><td>34.90")
	assert.NotContains(t, out, "24.90")
	assert.NotContains(t, out, ">Total<")
	assert.Contains(t, out, "10.00 every 2 weeks for 8 weeks")
}

func TestRender_DueTodayIncludesFirstPeriod(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, domain.Totals{
		SubtotalCents: 1200,
		Recurring:     []domain.RecurringTotal{{Period: domain.PeriodMonth, Interval: 1, AmountCents: 1200}},
	}))
	out := buf.String()
	assert.Contains(t, out, "Due today</th><td>12.00")
	assert.NotContains(t, out, "0.00</td>")
}

func TestRender_NoRecurring(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, domain.Totals{SubtotalCents: 590}))
	assert.NotContains(t, buf.String(), "recurring-total")
	assert.NotContains(t, buf.String(), "Due today")
	assert.Contains(t, buf.String(), "Total</th><td>5.90")
}

func TestSchedule(t *testing.T) {
	assert.Equal(t, "every month", Schedule(domain.RecurringTotal{Period: domain.PeriodMonth, Interval: 1}))
	assert.Equal(t, "every 3 months for 12 months", Schedule(domain.RecurringTotal{Period: domain.PeriodMonth, Interval: 3, Length: 12}))
	assert.Equal(t, "per period", Schedule(domain.RecurringTotal{}))
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "0.05", Money(5))
	assert.Equal(t, "12.34", Money(1234))
	assert.Equal(t, "-1.50", Money(-150))
}
