package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SchemeID names a subscription scheme. The zero value means no scheme has been
// chosen yet and is written to JSON as false.
type SchemeID string

const (
	NoScheme      SchemeID = ""
	OneTimeScheme SchemeID = "0"
)

func (id SchemeID) IsSet() bool {
	return id != NoScheme
}

func (id SchemeID) MarshalJSON() ([]byte, error) {
	if id == NoScheme {
		return []byte("false"), nil
	}
	return json.Marshal(string(id))
}

func (id *SchemeID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("false")), bytes.Equal(data, []byte("null")):
		*id = NoScheme
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = SchemeID(s)
		return nil
	default:
		// numeric ids are accepted and kept in their textual form
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid scheme id %s", data)
		}
		*id = SchemeID(n.String())
		return nil
	}
}

type BillingPeriod string

const (
	PeriodDay   BillingPeriod = "day"
	PeriodWeek  BillingPeriod = "week"
	PeriodMonth BillingPeriod = "month"
	PeriodYear  BillingPeriod = "year"
)

func (p BillingPeriod) Valid() bool {
	switch p {
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodYear:
		return true
	}
	return false
}

// Scheme is a billing plan a line item can be converted to. Length 0 renews
// until cancelled.
type Scheme struct {
	ID       SchemeID      `json:"id" bson:"id"`
	Period   BillingPeriod `json:"subscription_period" bson:"subscription_period"`
	Interval int           `json:"subscription_period_interval" bson:"subscription_period_interval"`
	Length   int           `json:"subscription_length" bson:"subscription_length"`
}

// CartSchemes is the set of cart-level schemes together with the id new
// conversion records fall back to.
type CartSchemes struct {
	Schemes []Scheme
	Default SchemeID
}

func (s CartSchemes) Find(id SchemeID) (Scheme, bool) {
	if !id.IsSet() {
		return Scheme{}, false
	}
	for _, scheme := range s.Schemes {
		if scheme.ID == id {
			return scheme, true
		}
	}
	return Scheme{}, false
}

func (s CartSchemes) Contains(id SchemeID) bool {
	_, ok := s.Find(id)
	return ok
}
