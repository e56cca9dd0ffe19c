package checkout

import "time"

type FlowType string

const (
	// FlowImmediateSettlement captures an existing authorization hold in
	// full; no deferred balance.
	FlowImmediateSettlement FlowType = "immediate-settlement"
	// FlowDeferredSettlement charges a deposit off-session against a saved
	// payment method and bills the remainder later.
	FlowDeferredSettlement FlowType = "deferred-settlement"
)

// DateLayout is the calendar-date form used everywhere an order carries a
// date. Dates are local calendar dates in the business timezone, never
// UTC instants.
const DateLayout = "2006-01-02"

type CustomerContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Order is created at intake and immutable once an authorization exists.
// Amounts are integer minor currency units.
type Order struct {
	OrderRef         string          `json:"order_ref"`
	Total            int64           `json:"total"`
	Flow             FlowType        `json:"flow"`
	DropoffDate      string          `json:"dropoff_date"`
	Urgent           bool            `json:"urgent,omitempty"`
	Contact          CustomerContact `json:"contact"`
	CustomerRef      string          `json:"customer_ref"`
	PaymentMethodRef string          `json:"payment_method_ref,omitempty"`
	HoldRef          string          `json:"hold_ref,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// DropoffDay parses the drop-off date as a calendar date in loc.
func (o *Order) DropoffDay(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, o.DropoffDate, loc)
}
