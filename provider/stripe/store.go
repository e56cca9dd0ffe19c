package stripe

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/customer"

	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/provider"
)

const defaultPageSize = 100

func NewStore() *Store {
	return &Store{
		l:        zap.L().Named("stripe_store"),
		pageSize: defaultPageSize,
	}
}

// Store keeps order records in Stripe customer metadata. There is no
// server-side filtering: Scan walks the whole customer list page by page.
type Store struct {
	l        *zap.Logger
	pageSize int64
}

var _ provider.Store = (*Store)(nil)

func (s *Store) Get(customerRef string) (*provider.Record, error) {
	cs, err := customer.Get(customerRef, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed get customer")
	}
	return provider.UnmarshalMetadata(cs.Metadata)
}

func (s *Store) Put(customerRef string, rec *provider.Record) error {
	md, err := rec.MarshalMetadata()
	if err != nil {
		return err
	}
	params := &stripe.CustomerParams{}
	for k, v := range md {
		params.AddMetadata(k, v)
	}
	if _, err := customer.Update(customerRef, params); err != nil {
		return errors.Wrap(err, "failed update customer metadata")
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, fn func(customerRef string, rec *provider.Record, decodeErr error) error) error {
	params := &stripe.CustomerListParams{}
	params.Limit = stripe.Int64(s.pageSize)
	iter := customer.List(params)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		cs := iter.Customer()
		rec, err := provider.UnmarshalMetadata(cs.Metadata)
		if rec == nil && err == nil {
			// customer without an order record
			continue
		}
		if err := fn(cs.ID, rec, err); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "failed list customers")
	}
	return nil
}
