package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ActiveSchemeSessionKey holds the last cart-wide scheme selection. It is kept
// apart from the items so it outlives an emptied cart.
const ActiveSchemeSessionKey = "cartsubs-active-scheme-id"

// SessionTTL is how long an untouched session is kept.
const SessionTTL = 90 * 24 * time.Hour

type ConvertedFlag string

const (
	ConvertedYes ConvertedFlag = "yes"
	ConvertedNo  ConvertedFlag = "no"
)

// DerivedFlags mirror the active scheme of a line item onto its product data.
// They are recomputed on every conversion change and never persisted.
type DerivedFlags struct {
	Converted ConvertedFlag `json:"is_converted_to_sub"`
	Period    BillingPeriod `json:"subscription_period,omitempty"`
	Interval  int           `json:"subscription_period_interval,omitempty"`
	Length    int           `json:"subscription_length,omitempty"`
}

// SubscriptionProductType marks products that are subscriptions on their own.
const SubscriptionProductType = "subscription"

// Billing holds the native terms of a subscription-type product.
type Billing struct {
	Period   BillingPeriod `json:"subscription_period"`
	Interval int           `json:"subscription_period_interval"`
	Length   int           `json:"subscription_length"`
}

type Product struct {
	ID         int64         `json:"id"`
	Name       string        `json:"name"`
	Type       string        `json:"type"`
	PriceCents int64         `json:"price_cents"`
	Billing    *Billing      `json:"billing,omitempty"`
	Conversion *DerivedFlags `json:"conversion,omitempty"`
}

func (p *Product) IsConverted() bool {
	return p != nil && p.Conversion != nil && p.Conversion.Converted == ConvertedYes
}

// Terms returns the billing terms in effect: the converted scheme's when the
// product is converted, its native terms otherwise.
func (p *Product) Terms() (Billing, bool) {
	switch {
	case p == nil:
		return Billing{}, false
	case p.IsConverted():
		return Billing{Period: p.Conversion.Period, Interval: p.Conversion.Interval, Length: p.Conversion.Length}, true
	case p.Billing != nil:
		return *p.Billing, true
	}
	return Billing{}, false
}

type ConversionRecord struct {
	ActiveSchemeID SchemeID `json:"active_subscription_scheme_id" bson:"active_subscription_scheme_id"`
}

type LineItem struct {
	Key        string            `json:"key"`
	ProductID  int64             `json:"product_id"`
	Quantity   int               `json:"quantity"`
	Data       *Product          `json:"data"`
	Conversion *ConversionRecord `json:"conversion_record,omitempty"`
}

// StoredItem is the session representation of a line item.
type StoredItem struct {
	Key        string            `json:"key" bson:"key"`
	ProductID  int64             `json:"product_id" bson:"product_id"`
	Quantity   int               `json:"quantity" bson:"quantity"`
	Conversion *ConversionRecord `json:"conversion_record,omitempty" bson:"conversion_record,omitempty"`
	AddedAt    time.Time         `json:"added_at" bson:"added_at"`
}

type Session struct {
	ID        string            `json:"id" bson:"_id"`
	Items     []StoredItem      `json:"items" bson:"items"`
	Values    map[string]string `json:"values" bson:"values"`
	CreatedAt time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" bson:"updated_at"`
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		Items:     []StoredItem{},
		Values:    map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) Get(key string) (string, bool) {
	v, ok := s.Values[key]
	return v, ok
}

func (s *Session) Set(key, value string) {
	if s.Values == nil {
		s.Values = map[string]string{}
	}
	s.Values[key] = value
}

type Cart struct {
	SessionID string      `json:"session_id"`
	Items     []*LineItem `json:"items"`
	Totals    Totals      `json:"totals"`
}

func (c *Cart) Item(key string) (*LineItem, bool) {
	for _, item := range c.Items {
		if item.Key == key {
			return item, true
		}
	}
	return nil, false
}

func (c *Cart) Remove(key string) bool {
	for i, item := range c.Items {
		if item.Key == key {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

// Stored converts the runtime items back into their session shape.
func (c *Cart) Stored(previous []StoredItem) []StoredItem {
	added := make(map[string]time.Time, len(previous))
	for _, p := range previous {
		added[p.Key] = p.AddedAt
	}

	items := make([]StoredItem, 0, len(c.Items))
	for _, item := range c.Items {
		stored := StoredItem{
			Key:       item.Key,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			AddedAt:   added[item.Key],
		}
		if item.Conversion != nil {
			record := *item.Conversion
			stored.Conversion = &record
		}
		if stored.AddedAt.IsZero() {
			stored.AddedAt = time.Now()
		}
		items = append(items, stored)
	}
	return items
}

var itemKeyNamespace = uuid.MustParse("6f1c9a52-3f0e-4d8b-9a57-0c2d4e6b8a11")

// ItemKey is stable per product so re-adding a product merges into one line.
func ItemKey(productID int64) string {
	return uuid.NewSHA1(itemKeyNamespace, []byte(strconv.FormatInt(productID, 10))).String()
}
