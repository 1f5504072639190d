package domain

type RecurringTotal struct {
	Period      BillingPeriod `json:"period"`
	Interval    int           `json:"interval"`
	Length      int           `json:"length"`
	AmountCents int64         `json:"amount_cents"`
}

type Totals struct {
	SubtotalCents int64            `json:"subtotal_cents"`
	OneTimeCents  int64            `json:"one_time_cents"`
	Recurring     []RecurringTotal `json:"recurring"`
	ItemCount     int              `json:"item_count"`
}
