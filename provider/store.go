package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"

	checkout "github.com/jkantiques8-sys/stripe-checkout-poc-sub000"
)

// Store is the pseudo-store: order state kept in the metadata fields of
// the gateway customer record. Point reads and writes only, plus full
// enumeration — the gateway offers no server-side filtering. No
// compare-and-swap either; the claim lease fields are the scheduler's
// substitute.
type Store interface {
	Get(customerRef string) (*Record, error)
	Put(customerRef string, rec *Record) error
	// Scan enumerates every record page by page until exhaustion.
	// Records that fail to decode are passed with decodeErr set; fn
	// returning an error aborts the scan.
	Scan(ctx context.Context, fn func(customerRef string, rec *Record, decodeErr error) error) error
}

type OrderStatus string

const (
	StatusPending  OrderStatus = "pending"
	StatusApproved OrderStatus = "approved"
	StatusDeclined OrderStatus = "declined"
)

// Record is one order's persisted state. The deferred obligation lives in
// Balance/InvoiceSendAt/InvoiceSent: created at approval, marked settled
// by the scheduler, never deleted.
type Record struct {
	OrderRef       string
	Status         OrderStatus
	Balance        int64
	InvoiceSendAt  time.Time // zero when no deferred billing is owed
	InvoiceDueDays int64
	InvoiceSent    bool
	InvoiceRef     string
	DropoffDate    string
	ClaimedBy      string
	ClaimedAt      time.Time
	Snapshot       *checkout.Order // full order snapshot, audit and re-validation
}

const (
	keyOrderRef       = "order-ref"
	keyOrderStatus    = "order-status"
	keyBalance        = "balance-amount"
	keyInvoiceSendAt  = "invoice-send-at"
	keyInvoiceDueDays = "invoice-due-days"
	keyInvoiceSent    = "invoice-sent"
	keyInvoiceRef     = "invoice-ref"
	keyDropoffDate    = "dropoff-date"
	keyClaimedBy      = "claimed-by"
	keyClaimedAt      = "claimed-at"
	keyOrderBlob      = "order-blob"
)

// MaxFieldLen is the gateway's limit for a single metadata value.
const MaxFieldLen = 500

// MarshalMetadata encodes the record into the flat string fields the
// gateway accepts. The encoding must round-trip losslessly and no value
// may exceed MaxFieldLen.
func (r *Record) MarshalMetadata() (map[string]string, error) {
	md := map[string]string{
		keyOrderRef:       r.OrderRef,
		keyOrderStatus:    string(r.Status),
		keyBalance:        strconv.FormatInt(r.Balance, 10),
		keyInvoiceDueDays: strconv.FormatInt(r.InvoiceDueDays, 10),
		keyInvoiceSent:    strconv.FormatBool(r.InvoiceSent),
		keyInvoiceRef:     r.InvoiceRef,
		keyDropoffDate:    r.DropoffDate,
		keyClaimedBy:      r.ClaimedBy,
	}
	if !r.InvoiceSendAt.IsZero() {
		md[keyInvoiceSendAt] = strconv.FormatInt(r.InvoiceSendAt.Unix(), 10)
	} else {
		md[keyInvoiceSendAt] = ""
	}
	if !r.ClaimedAt.IsZero() {
		md[keyClaimedAt] = strconv.FormatInt(r.ClaimedAt.Unix(), 10)
	} else {
		md[keyClaimedAt] = ""
	}
	if r.Snapshot != nil {
		raw, err := json.Marshal(r.Snapshot)
		if err != nil {
			return nil, errors.Wrap(err, "failed marshal order snapshot")
		}
		md[keyOrderBlob] = base64.RawURLEncoding.EncodeToString(raw)
	}
	for k, v := range md {
		if len(v) > MaxFieldLen {
			return nil, errors.Wrapf(checkout.ErrRecordTooLarge, "field %s is %d bytes", k, len(v))
		}
	}
	return md, nil
}

// UnmarshalMetadata decodes a record from gateway metadata. Returns
// (nil, nil) when the metadata carries no record at all, and wraps
// checkout.ErrCorruptRecord when it carries one that does not decode.
func UnmarshalMetadata(md map[string]string) (*Record, error) {
	if md[keyOrderRef] == "" {
		return nil, nil
	}
	r := &Record{
		OrderRef:    md[keyOrderRef],
		Status:      OrderStatus(md[keyOrderStatus]),
		InvoiceRef:  md[keyInvoiceRef],
		DropoffDate: md[keyDropoffDate],
		ClaimedBy:   md[keyClaimedBy],
	}
	var err error
	if r.Balance, err = parseInt(md[keyBalance]); err != nil {
		return nil, errors.Wrapf(checkout.ErrCorruptRecord, "bad %s: %v", keyBalance, err)
	}
	if r.InvoiceDueDays, err = parseInt(md[keyInvoiceDueDays]); err != nil {
		return nil, errors.Wrapf(checkout.ErrCorruptRecord, "bad %s: %v", keyInvoiceDueDays, err)
	}
	if md[keyInvoiceSent] != "" {
		if r.InvoiceSent, err = strconv.ParseBool(md[keyInvoiceSent]); err != nil {
			return nil, errors.Wrapf(checkout.ErrCorruptRecord, "bad %s: %v", keyInvoiceSent, err)
		}
	}
	if r.InvoiceSendAt, err = parseUnix(md[keyInvoiceSendAt]); err != nil {
		return nil, errors.Wrapf(checkout.ErrCorruptRecord, "bad %s: %v", keyInvoiceSendAt, err)
	}
	if r.ClaimedAt, err = parseUnix(md[keyClaimedAt]); err != nil {
		return nil, errors.Wrapf(checkout.ErrCorruptRecord, "bad %s: %v", keyClaimedAt, err)
	}
	if blob := md[keyOrderBlob]; blob != "" {
		raw, err := base64.RawURLEncoding.DecodeString(blob)
		if err != nil {
			return nil, errors.Wrapf(checkout.ErrCorruptRecord, "bad %s: %v", keyOrderBlob, err)
		}
		var ord checkout.Order
		if err := json.Unmarshal(raw, &ord); err != nil {
			return nil, errors.Wrapf(checkout.ErrCorruptRecord, "bad %s: %v", keyOrderBlob, err)
		}
		r.Snapshot = &ord
	}
	return r, nil
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseUnix(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
