package engine

import (
	"math"
	"time"

	"github.com/pkg/errors"

	checkout "github.com/jkantiques8-sys/stripe-checkout-poc-sub000"
)

const (
	// DepositFraction is the charge-now share for non-urgent deferred
	// orders; the remainder is billed one day before drop-off.
	DepositFraction = 0.30

	// DueHourLocal is the local business hour the deferred invoice goes
	// out, the day before drop-off.
	DueHourLocal = 10

	// InvoiceDueDays is how long the customer has to pay a sent invoice.
	InvoiceDueDays = 3
)

type Decision struct {
	Urgent    bool
	Fraction  float64
	ChargeNow int64
	Remaining int64
	// DueAt is the deferred billing instant, zero when nothing is owed
	// later. Resolved in the business timezone per-date, so the UTC
	// equivalent of "10:00 local" shifts across DST transitions.
	DueAt time.Time
}

// Decide computes the charge-now/charge-later split. Urgency is the
// order's flag or a drop-off within one local calendar day; urgent and
// immediate-settlement orders are charged in full up front.
func Decide(ord *checkout.Order, now time.Time, loc *time.Location) (Decision, error) {
	dropoff, err := ord.DropoffDay(loc)
	if err != nil {
		return Decision{}, errors.Wrap(err, "failed parse dropoff date")
	}

	d := Decision{Fraction: DepositFraction}
	d.Urgent = ord.Urgent || DaysUntil(dropoff, now, loc) <= 1
	if d.Urgent || ord.Flow == checkout.FlowImmediateSettlement {
		d.Fraction = 1.0
	}
	d.ChargeNow = int64(math.Round(float64(ord.Total) * d.Fraction))
	d.Remaining = ord.Total - d.ChargeNow

	if d.Remaining > 0 && ord.Flow == checkout.FlowDeferredSettlement {
		d.DueAt = DueAt(dropoff, loc)
	}
	return d, nil
}

// DaysUntil is the difference in local calendar days between now and the
// target date. Calendar days, not 24h periods: a drop-off "tomorrow"
// stays tomorrow however close to midnight we are, and DST days of 23 or
// 25 hours still count as one day.
func DaysUntil(target, now time.Time, loc *time.Location) int {
	ty, tm, td := target.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	a := time.Date(ty, tm, td, 0, 0, 0, 0, loc)
	b := time.Date(ny, nm, nd, 0, 0, 0, 0, loc)
	return int(math.Round(a.Sub(b).Hours() / 24))
}

// DueAt is one calendar day before drop-off at DueHourLocal in the
// business timezone. time.Date resolves the UTC offset for that specific
// date, which is what makes the result DST-correct.
func DueAt(dropoff time.Time, loc *time.Location) time.Time {
	y, m, d := dropoff.In(loc).Date()
	return time.Date(y, m, d-1, DueHourLocal, 0, 0, 0, loc)
}

// LocalDate truncates an instant to its calendar date in loc. The
// scheduler compares dates, never timestamps.
func LocalDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
