package model

// Lot represents a raffle prize that tickets are sold for.  Lots are
// owned by the catalog (lots.json) and never modified by this service.
//
// Fields:
//  ID             – stable identifier referenced by tickets and intents.
//  Name           – display name, also used as the payment description.
//  Image          – optional image URL shown to buyers.
//  UnitPriceCents – price of one ticket in minor units of the currency.
//                   Admission rejects lots whose price is not positive.
//  Capacity       – maximum number of tickets; nil means unlimited.
type Lot struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Image          string `json:"image,omitempty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Capacity       *int   `json:"capacity"`
}

// Remaining describes how many tickets of a lot may still be sold.
// When Unbounded is true the lot has no capacity and Count is zero.
type Remaining struct {
	Unbounded bool `json:"unbounded"`
	Count     int  `json:"count"`
}

// Allows reports whether quantity tickets fit into the remaining capacity.
func (r Remaining) Allows(quantity int) bool {
	return r.Unbounded || quantity <= r.Count
}

// RemainingFor computes the remaining capacity of lot given the number of
// tickets already committed for it.  A negative result is clamped to zero.
func RemainingFor(lot Lot, committed int) Remaining {
	if lot.Capacity == nil {
		return Remaining{Unbounded: true}
	}
	left := *lot.Capacity - committed
	if left < 0 {
		left = 0
	}
	return Remaining{Count: left}
}
