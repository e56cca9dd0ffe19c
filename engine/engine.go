package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/provider"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/services/notify"
)

// Idempotency keys are derived deterministically from the order
// reference, one per money-moving step, so any client-side retry path
// (double click, webhook redelivery, re-run after crash) collapses at
// the gateway.

func ImmediateKey(orderRef string) string { return orderRef + "-immediate" }
func DeferredKey(orderRef string) string  { return orderRef + "-deferred" }
func DeclineKey(orderRef string) string   { return orderRef + "-decline" }

type Config struct {
	Location *time.Location
	Currency string
}

func New(cfg Config, gw provider.Gateway, store provider.Store, disp notify.Dispatcher) *Engine {
	return &Engine{
		gw:       gw,
		store:    store,
		disp:     disp,
		loc:      cfg.Location,
		currency: cfg.Currency,
		l:        zap.L().Named("engine"),
		now:      time.Now,
	}
}

// Engine is the capture orchestrator and decline handler. It holds no
// lock: at-most-once on money movement comes from the gateway's
// idempotency keys.
type Engine struct {
	gw       provider.Gateway
	store    provider.Store
	disp     notify.Dispatcher
	loc      *time.Location
	currency string
	l        *zap.Logger
	now      func() time.Time
}
