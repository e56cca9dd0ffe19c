package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	checkout "github.com/jkantiques8-sys/stripe-checkout-poc-sub000"
)

type Kind string

const (
	KindOrderReceived Kind = "order_received"
	KindOrderApproved Kind = "order_approved"
	KindOrderDeclined Kind = "order_declined"
	KindInvoiceSent   Kind = "invoice_sent"
)

const Subject = "notifications"

type Message struct {
	ID       string                   `json:"id"`
	Kind     Kind                     `json:"kind"`
	OrderRef string                   `json:"order_ref"`
	To       checkout.CustomerContact `json:"to"`
	Amount   int64                    `json:"amount,omitempty"`
	Balance  int64                    `json:"balance,omitempty"`
	DueAt    int64                    `json:"due_at,omitempty"`
	Extra    map[string]string        `json:"extra,omitempty"`
}

// Dispatcher delivers customer and owner notifications. Delivery is
// best-effort: failures are logged and never affect payment outcome, so
// Dispatch returns nothing.
type Dispatcher interface {
	Dispatch(ctx context.Context, m Message)
}

func NewNATSDispatcher(nc *nats.Conn) *NATSDispatcher {
	return &NATSDispatcher{
		nc: nc,
		l:  zap.L().Named("notify"),
	}
}

// NATSDispatcher publishes messages for the out-of-process SMS/email
// senders subscribed to the notifications subject.
type NATSDispatcher struct {
	nc *nats.Conn
	l  *zap.Logger
}

func (d *NATSDispatcher) Dispatch(ctx context.Context, m Message) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	raw, err := json.Marshal(&m)
	if err != nil {
		d.l.Error("Failed marshal notification", zap.String("kind", string(m.Kind)), zap.Error(err))
		return
	}
	if err := d.nc.Publish(Subject+"."+string(m.Kind), raw); err != nil {
		d.l.Warn(
			"Failed publish notification",
			zap.String("kind", string(m.Kind)),
			zap.String("order_id", m.OrderRef),
			zap.Error(err),
		)
	}
}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{l: zap.L().Named("notify")}
}

// LogDispatcher is the fallback when no broker is configured.
type LogDispatcher struct {
	l *zap.Logger
}

func (d *LogDispatcher) Dispatch(ctx context.Context, m Message) {
	d.l.Info(
		"Notification",
		zap.String("kind", string(m.Kind)),
		zap.String("order_id", m.OrderRef),
		zap.String("email", m.To.Email),
		zap.Int64("amount", m.Amount),
	)
}
