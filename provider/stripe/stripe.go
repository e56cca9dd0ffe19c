package stripe

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/customer"
	"github.com/stripe/stripe-go/invoice"
	"github.com/stripe/stripe-go/invoiceitem"
	"github.com/stripe/stripe-go/paymentintent"
	"github.com/stripe/stripe-go/paymentmethod"

	checkout "github.com/jkantiques8-sys/stripe-checkout-poc-sub000"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/provider"
)

const STRIPE provider.Provider = "stripe"

func NewProvider() *Provider {
	return &Provider{
		l: zap.L().Named("stripe_provider"),
	}
}

// Provider implements provider.Gateway on Stripe.
type Provider struct {
	l *zap.Logger
}

var _ provider.Gateway = (*Provider)(nil)

func (p *Provider) CreateCustomer(contact checkout.CustomerContact, idemKey string) (string, error) {
	params := &stripe.CustomerParams{
		Name:  stripe.String(contact.Name),
		Email: stripe.String(contact.Email),
		Phone: stripe.String(contact.Phone),
	}
	params.IdempotencyKey = stripe.String(idemKey)
	cs, err := customer.New(params)
	if err != nil {
		p.l.Warn(
			"Failed create customer",
			zap.String("email", contact.Email),
			zap.Error(err),
		)
		return "", errors.Wrap(err, "failed create customer")
	}
	return cs.ID, nil
}

// AttachDefaultPaymentMethod attaches the payment method to the customer
// and makes it the default for off-session charges. Attaching a method
// that is already attached to this customer is not an error.
func (p *Provider) AttachDefaultPaymentMethod(customerRef, paymentMethodRef string) error {
	_, err := paymentmethod.Attach(paymentMethodRef, &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerRef),
	})
	if err != nil && !alreadyAttached(err) {
		p.l.Warn(
			"Failed attach payment method",
			zap.String("customer_id", customerRef),
			zap.String("payment_method", paymentMethodRef),
			zap.Error(err),
		)
		return errors.Wrap(err, "failed attach payment method")
	}
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodRef),
		},
	}
	if _, err := customer.Update(customerRef, params); err != nil {
		p.l.Warn(
			"Failed set default payment method",
			zap.String("customer_id", customerRef),
			zap.String("payment_method", paymentMethodRef),
			zap.Error(err),
		)
		return errors.Wrap(err, "failed set default payment method")
	}
	return nil
}

func (p *Provider) CreateCharge(in provider.ChargeInput) (*provider.ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.Amount),
		Currency: stripe.String(in.Currency),
		PaymentMethodTypes: []*string{
			stripe.String("card"),
		},
		Customer:      stripe.String(in.CustomerRef),
		PaymentMethod: stripe.String(in.PaymentMethodRef),
		Description:   stripe.String(in.Description),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	params.IdempotencyKey = stripe.String(in.IdempotencyKey)
	pi, err := paymentintent.New(params)
	if err != nil {
		p.l.Warn(
			"Failed payment intent",
			zap.String("customer_id", in.CustomerRef),
			zap.String("payment_method", in.PaymentMethodRef),
			zap.Int64("amount", in.Amount),
			zap.Error(err),
		)
		return nil, asChargeError(err)
	}
	return &provider.ChargeResult{
		ChargeRef: pi.ID,
		Amount:    pi.Amount,
		State:     mapIntentStatus(pi.Status),
	}, nil
}

func (p *Provider) CaptureHold(holdRef string, amount int64, idemKey string) (*provider.ChargeResult, error) {
	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(amount),
	}
	params.IdempotencyKey = stripe.String(idemKey)
	pi, err := paymentintent.Capture(holdRef, params)
	if err != nil {
		p.l.Warn(
			"Failed capture payment intent",
			zap.String("payment_intent_id", holdRef),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
		return nil, asChargeError(err)
	}
	return &provider.ChargeResult{
		ChargeRef: pi.ID,
		Amount:    pi.Amount,
		State:     mapIntentStatus(pi.Status),
	}, nil
}

func (p *Provider) CancelHold(holdRef, idemKey string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.IdempotencyKey = stripe.String(idemKey)
	if _, err := paymentintent.Cancel(holdRef, params); err != nil {
		p.l.Warn(
			"Failed cancel payment intent",
			zap.String("payment_intent_id", holdRef),
			zap.Error(err),
		)
		return errors.Wrap(err, "failed cancel payment intent")
	}
	return nil
}

func (p *Provider) HoldState(holdRef string) (provider.HoldState, error) {
	pi, err := paymentintent.Get(holdRef, nil)
	if err != nil {
		return provider.HoldPending, errors.Wrap(err, "failed get payment intent")
	}
	return mapIntentStatus(pi.Status), nil
}

// SendInvoice creates, finalizes and sends an invoice for the amount.
// Creation is keyed so a sweep interrupted between invoice creation and
// record settlement cannot bill twice on re-run.
func (p *Provider) SendInvoice(in provider.InvoiceInput) (string, error) {
	itemParams := &stripe.InvoiceItemParams{
		Customer:    stripe.String(in.CustomerRef),
		Amount:      stripe.Int64(in.Amount),
		Currency:    stripe.String(in.Currency),
		Description: stripe.String(in.Description),
	}
	itemParams.IdempotencyKey = stripe.String(in.IdempotencyKey + "-item")
	if _, err := invoiceitem.New(itemParams); err != nil {
		return "", errors.Wrap(err, "failed create invoice item")
	}

	params := &stripe.InvoiceParams{
		Customer:         stripe.String(in.CustomerRef),
		CollectionMethod: stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		Description:      stripe.String(in.Description),
	}
	if in.DueDays > 0 {
		params.DaysUntilDue = stripe.Int64(in.DueDays)
	} else {
		params.DueDate = stripe.Int64(in.DueAt.Unix())
	}
	params.IdempotencyKey = stripe.String(in.IdempotencyKey)
	inv, err := invoice.New(params)
	if err != nil {
		return "", errors.Wrap(err, "failed create invoice")
	}
	if _, err := invoice.FinalizeInvoice(inv.ID, nil); err != nil {
		return "", errors.Wrap(err, "failed finalize invoice")
	}
	if _, err := invoice.SendInvoice(inv.ID, nil); err != nil {
		return "", errors.Wrap(err, "failed send invoice")
	}
	p.l.Info(
		"Invoice sent",
		zap.String("customer_id", in.CustomerRef),
		zap.String("invoice_id", inv.ID),
		zap.Int64("amount", in.Amount),
	)
	return inv.ID, nil
}

func mapIntentStatus(s stripe.PaymentIntentStatus) provider.HoldState {
	switch s {
	case stripe.PaymentIntentStatusRequiresCapture:
		return provider.HoldRequiresCapture
	case stripe.PaymentIntentStatusSucceeded:
		return provider.HoldCaptured
	case stripe.PaymentIntentStatusCanceled:
		return provider.HoldCanceled
	default:
		return provider.HoldPending
	}
}

func alreadyAttached(err error) bool {
	se, ok := err.(*stripe.Error)
	return ok && strings.Contains(se.Msg, "already been attached")
}

// asChargeError keeps the gateway's declined/retryable distinction for
// the operator: card errors need a new payment method, everything else is
// safe to retry under the same idempotency key.
func asChargeError(err error) error {
	se, ok := err.(*stripe.Error)
	if !ok {
		return &checkout.ChargeError{Retryable: true, Err: err}
	}
	return &checkout.ChargeError{
		Declined:  se.Type == stripe.ErrorTypeCard,
		Retryable: se.Type == stripe.ErrorTypeAPIConnection || se.Type == stripe.ErrorTypeAPI || se.HTTPStatusCode >= 500,
		Code:      string(se.Code),
		Err:       err,
	}
}
