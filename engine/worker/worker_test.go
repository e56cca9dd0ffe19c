package worker

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	checkout "github.com/jkantiques8-sys/stripe-checkout-poc-sub000"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/provider"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/services/notify"
)

type memStore struct {
	recs    map[string]*provider.Record
	badRecs map[string]error
}

func newMemStore() *memStore {
	return &memStore{recs: map[string]*provider.Record{}}
}

func clone(r *provider.Record) *provider.Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Snapshot != nil {
		snap := *r.Snapshot
		c.Snapshot = &snap
	}
	return &c
}

func (s *memStore) Get(customerRef string) (*provider.Record, error) {
	return clone(s.recs[customerRef]), nil
}

func (s *memStore) Put(customerRef string, rec *provider.Record) error {
	s.recs[customerRef] = clone(rec)
	return nil
}

func (s *memStore) Scan(ctx context.Context, fn func(string, *provider.Record, error) error) error {
	var refs []string
	for ref := range s.recs {
		refs = append(refs, ref)
	}
	for ref := range s.badRecs {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		if err, ok := s.badRecs[ref]; ok {
			if err := fn(ref, nil, err); err != nil {
				return err
			}
			continue
		}
		if err := fn(ref, clone(s.recs[ref]), nil); err != nil {
			return err
		}
	}
	return nil
}

type invoiceGateway struct {
	provider.Gateway // unused methods panic

	err      error
	invoices []provider.InvoiceInput
}

func (g *invoiceGateway) SendInvoice(in provider.InvoiceInput) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.invoices = append(g.invoices, in)
	return "in_1", nil
}

type recordingDispatcher struct {
	msgs []notify.Message
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, m notify.Message) {
	d.msgs = append(d.msgs, m)
}

func testWorker(t *testing.T, store provider.Store, gw provider.Gateway) (*Worker, *recordingDispatcher) {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	disp := &recordingDispatcher{}
	w := New(Config{Location: loc, Currency: "usd", ClaimTTL: 5 * time.Minute}, store, gw, disp)
	w.now = func() time.Time {
		return time.Date(2025, 6, 9, 11, 0, 0, 0, loc)
	}
	return w, disp
}

func dueRecord(sendAt time.Time) *provider.Record {
	return &provider.Record{
		OrderRef:       "ord-42",
		Status:         provider.StatusApproved,
		Balance:        21000,
		InvoiceSendAt:  sendAt,
		InvoiceDueDays: 3,
		DropoffDate:    "2025-06-10",
		Snapshot: &checkout.Order{
			OrderRef:    "ord-42",
			Total:       30000,
			Flow:        checkout.FlowDeferredSettlement,
			DropoffDate: "2025-06-10",
			CustomerRef: "cus_1",
			Contact:     checkout.CustomerContact{Email: "b@example.com"},
		},
	}
}

func TestSweepSettlesDueRecord(t *testing.T) {
	store := newMemStore()
	gw := &invoiceGateway{}
	w, disp := testWorker(t, store, gw)

	store.recs["cus_1"] = dueRecord(time.Date(2025, 6, 9, 10, 0, 0, 0, w.loc))

	sum := w.Sweep(context.Background())
	require.Equal(t, Summary{Checked: 1, Due: 1, Settled: 1}, sum)

	require.Len(t, gw.invoices, 1)
	require.Equal(t, int64(21000), gw.invoices[0].Amount)
	require.Equal(t, "ord-42-deferred", gw.invoices[0].IdempotencyKey)

	rec := store.recs["cus_1"]
	require.True(t, rec.InvoiceSent)
	require.Equal(t, "in_1", rec.InvoiceRef)
	require.Empty(t, rec.ClaimedBy)

	require.Len(t, disp.msgs, 1)
	require.Equal(t, notify.KindInvoiceSent, disp.msgs[0].Kind)
}

func TestSweepLeavesFutureRecordPending(t *testing.T) {
	store := newMemStore()
	gw := &invoiceGateway{}
	w, _ := testWorker(t, store, gw)

	store.recs["cus_1"] = dueRecord(time.Date(2025, 6, 10, 10, 0, 0, 0, w.loc))

	sum := w.Sweep(context.Background())
	require.Equal(t, Summary{Checked: 1, Skipped: 1}, sum)
	require.Empty(t, gw.invoices)
	require.False(t, store.recs["cus_1"].InvoiceSent)
}

// A due timestamp earlier today is due even though "now" is past it only
// by clock time: the comparison is on business-timezone dates.
func TestSweepDueDateNotTimestamp(t *testing.T) {
	store := newMemStore()
	gw := &invoiceGateway{}
	w, _ := testWorker(t, store, gw)

	// later today local, but today: due
	store.recs["cus_1"] = dueRecord(time.Date(2025, 6, 9, 23, 0, 0, 0, w.loc))

	sum := w.Sweep(context.Background())
	require.Equal(t, 1, sum.Settled)
}

func TestSweepIgnoresSettledRecord(t *testing.T) {
	store := newMemStore()
	gw := &invoiceGateway{}
	w, _ := testWorker(t, store, gw)

	rec := dueRecord(time.Date(2025, 6, 9, 10, 0, 0, 0, w.loc))
	rec.InvoiceSent = true
	rec.InvoiceRef = "in_0"
	store.recs["cus_1"] = rec

	sum := w.Sweep(context.Background())
	require.Equal(t, Summary{Checked: 1, Skipped: 1}, sum)
	require.Empty(t, gw.invoices)
}

func TestSweepZeroBalanceSettlesWithoutBilling(t *testing.T) {
	store := newMemStore()
	gw := &invoiceGateway{}
	w, _ := testWorker(t, store, gw)

	rec := dueRecord(time.Date(2025, 6, 9, 10, 0, 0, 0, w.loc))
	rec.Balance = 0
	store.recs["cus_1"] = rec

	sum := w.Sweep(context.Background())
	require.Equal(t, 1, sum.Settled)
	require.Empty(t, gw.invoices)
	require.True(t, store.recs["cus_1"].InvoiceSent)
	require.Empty(t, store.recs["cus_1"].InvoiceRef)
}

func TestSweepInvoiceFailureLeavesRecordPending(t *testing.T) {
	store := newMemStore()
	gw := &invoiceGateway{err: errors.New("gateway down")}
	w, disp := testWorker(t, store, gw)

	store.recs["cus_1"] = dueRecord(time.Date(2025, 6, 9, 10, 0, 0, 0, w.loc))

	sum := w.Sweep(context.Background())
	require.Equal(t, 1, sum.Errors)
	require.Equal(t, 0, sum.Settled)
	require.False(t, store.recs["cus_1"].InvoiceSent)
	require.Empty(t, disp.msgs)
}

// One corrupt record must not abort the rest of the enumeration.
func TestSweepSkipsCorruptRecordAndContinues(t *testing.T) {
	store := newMemStore()
	gw := &invoiceGateway{}
	w, _ := testWorker(t, store, gw)

	store.badRecs = map[string]error{"cus_0": errors.Wrap(checkout.ErrCorruptRecord, "bad blob")}
	store.recs["cus_1"] = dueRecord(time.Date(2025, 6, 9, 10, 0, 0, 0, w.loc))

	sum := w.Sweep(context.Background())
	require.Equal(t, 2, sum.Checked)
	require.Equal(t, 1, sum.Errors)
	require.Equal(t, 1, sum.Settled)
}

func TestSweepRespectsLiveClaim(t *testing.T) {
	store := newMemStore()
	gw := &invoiceGateway{}
	w, _ := testWorker(t, store, gw)

	rec := dueRecord(time.Date(2025, 6, 9, 10, 0, 0, 0, w.loc))
	rec.ClaimedBy = "other-sweep"
	rec.ClaimedAt = w.now().Add(-time.Minute)
	store.recs["cus_1"] = rec

	sum := w.Sweep(context.Background())
	require.Equal(t, Summary{Checked: 1, Due: 1, Skipped: 1}, sum)
	require.Empty(t, gw.invoices)
}

func TestSweepTakesOverExpiredClaim(t *testing.T) {
	store := newMemStore()
	gw := &invoiceGateway{}
	w, _ := testWorker(t, store, gw)

	rec := dueRecord(time.Date(2025, 6, 9, 10, 0, 0, 0, w.loc))
	rec.ClaimedBy = "crashed-sweep"
	rec.ClaimedAt = w.now().Add(-time.Hour)
	store.recs["cus_1"] = rec

	sum := w.Sweep(context.Background())
	require.Equal(t, 1, sum.Settled)
	require.Len(t, gw.invoices, 1)
}
