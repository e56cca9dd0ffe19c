package provider

import (
	"time"

	checkout "github.com/jkantiques8-sys/stripe-checkout-poc-sub000"
)

type Provider string

func (p Provider) Match(in Provider) bool {
	return p == in
}

const (
	UNKNOWN_PROVIDER Provider = ""
)

type HoldState string

const (
	HoldPending         HoldState = "pending"
	HoldRequiresCapture HoldState = "requires-capture"
	HoldCaptured        HoldState = "captured"
	HoldCanceled        HoldState = "canceled"
)

type ChargeInput struct {
	CustomerRef      string
	PaymentMethodRef string
	Amount           int64
	Currency         string
	Description      string
	// IdempotencyKey is derived deterministically from the order reference
	// so duplicate approval clicks and webhook redeliveries collapse into
	// one charge at the gateway.
	IdempotencyKey string
}

type ChargeResult struct {
	ChargeRef string
	Amount    int64
	State     HoldState
}

type InvoiceInput struct {
	CustomerRef    string
	Amount         int64
	Currency       string
	Description    string
	DueAt          time.Time
	DueDays        int64
	IdempotencyKey string
}

// Gateway wraps the payment processor primitives. Every money-moving call
// takes a caller-supplied idempotency key; the gateway, not this system,
// provides the at-most-once guarantee.
type Gateway interface {
	CreateCustomer(contact checkout.CustomerContact, idemKey string) (customerRef string, err error)
	AttachDefaultPaymentMethod(customerRef, paymentMethodRef string) error
	CreateCharge(in ChargeInput) (*ChargeResult, error)
	CaptureHold(holdRef string, amount int64, idemKey string) (*ChargeResult, error)
	CancelHold(holdRef, idemKey string) error
	HoldState(holdRef string) (HoldState, error)
	SendInvoice(in InvoiceInput) (invoiceRef string, err error)
}
