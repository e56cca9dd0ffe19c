package engine

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	checkout "github.com/jkantiques8-sys/stripe-checkout-poc-sub000"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/provider"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/services/notify"
)

type fakeStore struct {
	recs    map[string]*provider.Record
	badRecs map[string]error // customerRef -> decode error surfaced by Scan
	getErr  error
	putErr  error
	puts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: map[string]*provider.Record{}}
}

func cloneRecord(r *provider.Record) *provider.Record {
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

func (s *fakeStore) Get(customerRef string) (*provider.Record, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return cloneRecord(s.recs[customerRef]), nil
}

func (s *fakeStore) Put(customerRef string, rec *provider.Record) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	s.recs[customerRef] = cloneRecord(rec)
	return nil
}

func (s *fakeStore) Scan(ctx context.Context, fn func(string, *provider.Record, error) error) error {
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
		if err := fn(ref, cloneRecord(s.recs[ref]), nil); err != nil {
			return err
		}
	}
	return nil
}

type captureCall struct {
	holdRef string
	amount  int64
	idemKey string
}

type fakeGateway struct {
	holdState  provider.HoldState
	holdErr    error
	chargeErr  error
	captureErr error
	cancelErr  error
	invoiceErr error

	attached   [][2]string
	charges    []provider.ChargeInput
	captures   []captureCall
	cancels    []string
	invoices   []provider.InvoiceInput
	invoiceRef string
}

func (g *fakeGateway) CreateCustomer(contact checkout.CustomerContact, idemKey string) (string, error) {
	return "cus_fake", nil
}

func (g *fakeGateway) AttachDefaultPaymentMethod(customerRef, paymentMethodRef string) error {
	g.attached = append(g.attached, [2]string{customerRef, paymentMethodRef})
	return nil
}

func (g *fakeGateway) CreateCharge(in provider.ChargeInput) (*provider.ChargeResult, error) {
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	g.charges = append(g.charges, in)
	return &provider.ChargeResult{ChargeRef: "pi_charge", Amount: in.Amount, State: provider.HoldCaptured}, nil
}

func (g *fakeGateway) CaptureHold(holdRef string, amount int64, idemKey string) (*provider.ChargeResult, error) {
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	g.captures = append(g.captures, captureCall{holdRef, amount, idemKey})
	return &provider.ChargeResult{ChargeRef: holdRef, Amount: amount, State: provider.HoldCaptured}, nil
}

func (g *fakeGateway) CancelHold(holdRef, idemKey string) error {
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.cancels = append(g.cancels, holdRef)
	return nil
}

func (g *fakeGateway) HoldState(holdRef string) (provider.HoldState, error) {
	if g.holdErr != nil {
		return provider.HoldPending, g.holdErr
	}
	if g.holdState == "" {
		return provider.HoldRequiresCapture, nil
	}
	return g.holdState, nil
}

func (g *fakeGateway) SendInvoice(in provider.InvoiceInput) (string, error) {
	if g.invoiceErr != nil {
		return "", g.invoiceErr
	}
	g.invoices = append(g.invoices, in)
	if g.invoiceRef == "" {
		return "in_fake", nil
	}
	return g.invoiceRef, nil
}

type recordingDispatcher struct {
	msgs []notify.Message
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, m notify.Message) {
	d.msgs = append(d.msgs, m)
}

var errBoom = errors.New("boom")
