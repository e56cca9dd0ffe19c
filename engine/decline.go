package engine

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	checkout "github.com/jkantiques8-sys/stripe-checkout-poc-sub000"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/provider"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/services/notify"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/token"
)

// Decline releases the pending authorization. Declining a paid order is
// refused with ErrAlreadyCaptured; declining an already-declined order
// succeeds with no further side effects and no duplicate notification.
func (e *Engine) Decline(ctx context.Context, claims *token.Claims) error {
	rec, err := e.store.Get(claims.CustomerRef)
	if err != nil {
		return errors.Wrap(err, "failed load order record")
	}
	if rec == nil || rec.Snapshot == nil || rec.OrderRef != claims.OrderRef {
		return checkout.ErrOrderNotFound
	}
	ord := rec.Snapshot

	switch rec.Status {
	case provider.StatusApproved:
		return checkout.ErrAlreadyCaptured
	case provider.StatusDeclined:
		return nil
	}

	if ord.HoldRef != "" {
		state, err := e.gw.HoldState(ord.HoldRef)
		if err != nil {
			return errors.Wrap(err, "failed get hold state")
		}
		switch state {
		case provider.HoldCaptured:
			return checkout.ErrAlreadyCaptured
		case provider.HoldCanceled:
			// gateway already canceled, record was lagging; the customer
			// was told the first time
			return e.markDeclined(ord.CustomerRef, rec)
		}
		if err := e.gw.CancelHold(ord.HoldRef, DeclineKey(ord.OrderRef)); err != nil {
			return err
		}
	}

	if err := e.markDeclined(ord.CustomerRef, rec); err != nil {
		return err
	}
	e.l.Info("Order declined", zap.String("order_id", ord.OrderRef))
	e.dispatch(notify.Message{
		Kind:     notify.KindOrderDeclined,
		OrderRef: ord.OrderRef,
		To:       ord.Contact,
	})
	return nil
}

func (e *Engine) markDeclined(customerRef string, rec *provider.Record) error {
	rec.Status = provider.StatusDeclined
	return errors.Wrap(e.store.Put(customerRef, rec), "failed persist declined record")
}
