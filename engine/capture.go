package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	checkout "github.com/jkantiques8-sys/stripe-checkout-poc-sub000"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/provider"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/services/notify"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/token"
)

type ApproveResult struct {
	OrderRef      string    `json:"order_ref"`
	ChargedNow    int64     `json:"charged_now"`
	Remaining     int64     `json:"remaining"`
	ChargeRef     string    `json:"charge_ref"`
	ObligationDue time.Time `json:"obligation_due,omitempty"`
}

// Approve executes the owner's approval: decides the charge-now split,
// moves the immediate money, and persists the deferred obligation. Token
// claims identify the order; every amount is re-derived from the stored
// order snapshot, never trusted from the token.
func (e *Engine) Approve(ctx context.Context, claims *token.Claims) (*ApproveResult, error) {
	rec, err := e.store.Get(claims.CustomerRef)
	if err != nil {
		return nil, errors.Wrap(err, "failed load order record")
	}
	if rec == nil || rec.Snapshot == nil || rec.OrderRef != claims.OrderRef {
		return nil, checkout.ErrOrderNotFound
	}
	ord := rec.Snapshot

	switch rec.Status {
	case provider.StatusApproved:
		// duplicate approval, the first one already charged
		return nil, checkout.ErrAlreadyCaptured
	case provider.StatusDeclined:
		return nil, checkout.ErrAlreadyCanceled
	}

	if claims.Total != ord.Total {
		e.l.Warn(
			"Token total differs from order, using order",
			zap.String("order_id", ord.OrderRef),
			zap.Int64("token_total", claims.Total),
			zap.Int64("order_total", ord.Total),
		)
	}

	dec, err := Decide(ord, e.now(), e.loc)
	if err != nil {
		return nil, err
	}

	var res *provider.ChargeResult
	switch ord.Flow {
	case checkout.FlowImmediateSettlement:
		res, err = e.captureHold(ord, dec.ChargeNow)
	case checkout.FlowDeferredSettlement:
		res, err = e.chargeOffSession(ord, dec.ChargeNow)
	default:
		return nil, errors.Errorf("unknown flow type %q", ord.Flow)
	}
	if err != nil {
		// no obligation is persisted after a failed charge; a human
		// re-approves once the customer fixes payment details
		return nil, err
	}

	rec.Status = provider.StatusApproved
	rec.Balance = dec.Remaining
	rec.DropoffDate = ord.DropoffDate
	if !dec.DueAt.IsZero() {
		rec.InvoiceSendAt = dec.DueAt
		rec.InvoiceDueDays = InvoiceDueDays
	}
	if err := e.store.Put(ord.CustomerRef, rec); err != nil {
		// the charge went through; a retried approval is safe because
		// the charge key dedupes at the gateway and this write runs again
		return nil, errors.Wrap(err, "failed persist approved record")
	}

	e.l.Info(
		"Order approved",
		zap.String("order_id", ord.OrderRef),
		zap.Bool("urgent", dec.Urgent),
		zap.Int64("charged_now", dec.ChargeNow),
		zap.Int64("remaining", dec.Remaining),
	)
	e.dispatch(notify.Message{
		Kind:     notify.KindOrderApproved,
		OrderRef: ord.OrderRef,
		To:       ord.Contact,
		Amount:   dec.ChargeNow,
		Balance:  dec.Remaining,
		DueAt:    unixOrZero(dec.DueAt),
	})

	return &ApproveResult{
		OrderRef:      ord.OrderRef,
		ChargedNow:    dec.ChargeNow,
		Remaining:     dec.Remaining,
		ChargeRef:     res.ChargeRef,
		ObligationDue: dec.DueAt,
	}, nil
}

// captureHold settles the immediate-settlement flow by capturing the
// authorization placed at intake.
func (e *Engine) captureHold(ord *checkout.Order, amount int64) (*provider.ChargeResult, error) {
	state, err := e.gw.HoldState(ord.HoldRef)
	if err != nil {
		return nil, errors.Wrap(err, "failed get hold state")
	}
	switch state {
	case provider.HoldCaptured:
		return nil, checkout.ErrAlreadyCaptured
	case provider.HoldCanceled:
		return nil, checkout.ErrNotCapturable
	}
	return e.gw.CaptureHold(ord.HoldRef, amount, ImmediateKey(ord.OrderRef))
}

// chargeOffSession settles the deferred-settlement deposit with a new
// confirmed off-session charge against the saved payment method.
func (e *Engine) chargeOffSession(ord *checkout.Order, amount int64) (*provider.ChargeResult, error) {
	if err := e.gw.AttachDefaultPaymentMethod(ord.CustomerRef, ord.PaymentMethodRef); err != nil {
		return nil, err
	}
	return e.gw.CreateCharge(provider.ChargeInput{
		CustomerRef:      ord.CustomerRef,
		PaymentMethodRef: ord.PaymentMethodRef,
		Amount:           amount,
		Currency:         e.currency,
		Description:      fmt.Sprintf("Deposit for order %s", ord.OrderRef),
		IdempotencyKey:   ImmediateKey(ord.OrderRef),
	})
}

// dispatch is fire-and-forget: Dispatch never blocks and never errors,
// notification outcome cannot affect money movement.
func (e *Engine) dispatch(m notify.Message) {
	e.disp.Dispatch(context.Background(), m)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
