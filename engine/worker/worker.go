package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/engine"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/provider"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/services/notify"
)

var sweepRecords = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "deferred_sweep_records_total",
		Help: "Records seen by the deferred balance sweep, by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(sweepRecords)
}

type Config struct {
	Period   time.Duration
	ClaimTTL time.Duration
	Location *time.Location
	Currency string
}

func New(cfg Config, store provider.Store, gw provider.Gateway, disp notify.Dispatcher) *Worker {
	if cfg.Period == 0 {
		cfg.Period = time.Hour
	}
	if cfg.ClaimTTL == 0 {
		cfg.ClaimTTL = 5 * time.Minute
	}
	return &Worker{
		id:       uuid.NewString(),
		store:    store,
		gw:       gw,
		disp:     disp,
		loc:      cfg.Location,
		currency: cfg.Currency,
		period:   cfg.Period,
		claimTTL: cfg.ClaimTTL,
		l:        zap.L().Named("deferred_sweeper"),
		now:      time.Now,
	}
}

// Worker periodically re-discovers outstanding balances by enumerating
// the whole pseudo-store and settles the ones that have come due. Runs
// may overlap; the claim lease on each record keeps two sweeps from both
// invoicing it.
type Worker struct {
	id       string
	store    provider.Store
	gw       provider.Gateway
	disp     notify.Dispatcher
	loc      *time.Location
	currency string
	period   time.Duration
	claimTTL time.Duration
	l        *zap.Logger
	now      func() time.Time
}

type Summary struct {
	Checked int `json:"checked"`
	Due     int `json:"due"`
	Settled int `json:"settled"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

func (w *Worker) Run(ctx context.Context) {
	w.l.Info("Started", zap.Duration("period", w.period))
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()
	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-ticker.C:
			sum := w.Sweep(ctx)
			w.l.Info("Sweep done",
				zap.Int("checked", sum.Checked),
				zap.Int("due", sum.Due),
				zap.Int("settled", sum.Settled),
				zap.Int("skipped", sum.Skipped),
				zap.Int("errors", sum.Errors),
			)
		}
	}
	w.l.Info("Stopped")
}

// Sweep walks every record once. Failures are per-record: one bad record
// never aborts the rest of the enumeration.
func (w *Worker) Sweep(ctx context.Context) Summary {
	var sum Summary
	today := engine.LocalDate(w.now(), w.loc)

	err := w.store.Scan(ctx, func(customerRef string, rec *provider.Record, decodeErr error) error {
		sum.Checked++
		if decodeErr != nil {
			// corrupt blob in the pseudo-store; skip it, loudly
			sum.Errors++
			sweepRecords.WithLabelValues("corrupt").Inc()
			w.l.Error("Corrupt order record",
				zap.String("customer_id", customerRef),
				zap.Error(decodeErr),
			)
			return nil
		}
		if w.settle(ctx, customerRef, rec, today, &sum) {
			sweepRecords.WithLabelValues("settled").Inc()
		}
		return nil
	})
	if err != nil {
		sum.Errors++
		w.l.Error("Sweep aborted", zap.Error(err))
	}
	return sum
}

// settle decides and, for due unsettled balances, invoices one record.
// Reports whether the record was settled this pass.
func (w *Worker) settle(ctx context.Context, customerRef string, rec *provider.Record, today time.Time, sum *Summary) bool {
	if rec.Status != provider.StatusApproved || rec.InvoiceSent || rec.InvoiceSendAt.IsZero() {
		sum.Skipped++
		sweepRecords.WithLabelValues("skipped").Inc()
		return false
	}
	// business-timezone date comparison, not timestamp comparison
	if engine.LocalDate(rec.InvoiceSendAt, w.loc).After(today) {
		sum.Skipped++
		sweepRecords.WithLabelValues("not_due").Inc()
		return false
	}
	sum.Due++

	now := w.now()
	if rec.ClaimedBy != "" && rec.ClaimedBy != w.id && now.Sub(rec.ClaimedAt) < w.claimTTL {
		// a concurrent sweep holds the lease
		sum.Skipped++
		sweepRecords.WithLabelValues("claimed").Inc()
		return false
	}

	rec.ClaimedBy = w.id
	rec.ClaimedAt = now
	if err := w.store.Put(customerRef, rec); err != nil {
		sum.Errors++
		w.l.Warn("Failed claim record", zap.String("customer_id", customerRef), zap.Error(err))
		return false
	}

	// re-check before settling: another run may have won the claim or
	// already invoiced between our read and our claim write
	cur, err := w.store.Get(customerRef)
	if err != nil {
		sum.Errors++
		w.l.Warn("Failed re-read record", zap.String("customer_id", customerRef), zap.Error(err))
		return false
	}
	if cur == nil || cur.InvoiceSent || cur.ClaimedBy != w.id {
		sum.Skipped++
		sweepRecords.WithLabelValues("lost_claim").Inc()
		return false
	}

	if cur.Balance <= 0 {
		// nothing to bill; mark settled so the sweep stops visiting it
		if err := w.markSettled(customerRef, cur, ""); err != nil {
			sum.Errors++
			return false
		}
		sum.Settled++
		return true
	}

	invRef, err := w.gw.SendInvoice(provider.InvoiceInput{
		CustomerRef:    customerRef,
		Amount:         cur.Balance,
		Currency:       w.currency,
		Description:    fmt.Sprintf("Remaining balance for order %s", cur.OrderRef),
		DueAt:          cur.InvoiceSendAt,
		DueDays:        cur.InvoiceDueDays,
		IdempotencyKey: engine.DeferredKey(cur.OrderRef),
	})
	if err != nil {
		sum.Errors++
		w.l.Error("Failed send deferred invoice",
			zap.String("customer_id", customerRef),
			zap.String("order_id", cur.OrderRef),
			zap.Int64("balance", cur.Balance),
			zap.Error(err),
		)
		return false
	}

	// mark settled only after the invoice durably exists; if this write
	// fails the next run re-sends under the same idempotency key and the
	// gateway dedupes
	if err := w.markSettled(customerRef, cur, invRef); err != nil {
		sum.Errors++
		return false
	}
	sum.Settled++

	if cur.Snapshot != nil {
		w.disp.Dispatch(ctx, notify.Message{
			Kind:     notify.KindInvoiceSent,
			OrderRef: cur.OrderRef,
			To:       cur.Snapshot.Contact,
			Balance:  cur.Balance,
			DueAt:    cur.InvoiceSendAt.Unix(),
		})
	}
	return true
}

func (w *Worker) markSettled(customerRef string, rec *provider.Record, invRef string) error {
	rec.InvoiceSent = true
	rec.InvoiceRef = invRef
	rec.ClaimedBy = ""
	rec.ClaimedAt = time.Time{}
	if err := w.store.Put(customerRef, rec); err != nil {
		w.l.Error("Failed mark record settled",
			zap.String("customer_id", customerRef),
			zap.String("order_id", rec.OrderRef),
			zap.String("invoice_id", invRef),
			zap.Error(err),
		)
		return err
	}
	return nil
}
