package intake

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	checkout "github.com/jkantiques8-sys/stripe-checkout-poc-sub000"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/provider"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/services/notify"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/token"
)

const DefaultTokenTTL = 7 * 24 * time.Hour

func NewServer(gw provider.Gateway, store provider.Store, tokens *token.Service, disp notify.Dispatcher, owner checkout.CustomerContact) *Server {
	return &Server{
		gw:       gw,
		store:    store,
		tokens:   tokens,
		disp:     disp,
		owner:    owner,
		tokenTTL: DefaultTokenTTL,
		l:        zap.L().Named("intake"),
		now:      time.Now,
	}
}

// Server handles order intake: it creates the gateway customer record
// that doubles as the order's storage, and mints the approve and decline
// links for the owner.
type Server struct {
	gw       provider.Gateway
	store    provider.Store
	tokens   *token.Service
	disp     notify.Dispatcher
	owner    checkout.CustomerContact
	tokenTTL time.Duration
	l        *zap.Logger
	now      func() time.Time
}

type CreateOrderRequest struct {
	Total            int64                    `json:"total"`
	Flow             checkout.FlowType        `json:"flow"`
	DropoffDate      string                   `json:"dropoff_date"`
	Urgent           bool                     `json:"urgent"`
	Contact          checkout.CustomerContact `json:"contact"`
	PaymentMethodRef string                   `json:"payment_method_ref"`
	HoldRef          string                   `json:"hold_ref"`
}

type CreateOrderResponse struct {
	OrderRef     string `json:"order_ref"`
	CustomerRef  string `json:"customer_ref"`
	ApproveToken string `json:"approve_token"`
	DeclineToken string `json:"decline_token"`
}

func (r *CreateOrderRequest) validate() error {
	if r.Total <= 0 {
		return errors.New("total must be positive")
	}
	if _, err := time.Parse(checkout.DateLayout, r.DropoffDate); err != nil {
		return errors.New("dropoff_date must be YYYY-MM-DD")
	}
	switch r.Flow {
	case checkout.FlowImmediateSettlement:
		if r.HoldRef == "" {
			return errors.New("hold_ref required for immediate settlement")
		}
	case checkout.FlowDeferredSettlement:
		if r.PaymentMethodRef == "" {
			return errors.New("payment_method_ref required for deferred settlement")
		}
	default:
		return errors.New("unknown flow")
	}
	return nil
}

func (s *Server) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	orderRef := "ord-" + uuid.NewString()
	customerRef, err := s.gw.CreateCustomer(req.Contact, orderRef+"-customer")
	if err != nil {
		return nil, err
	}

	ord := &checkout.Order{
		OrderRef:         orderRef,
		Total:            req.Total,
		Flow:             req.Flow,
		DropoffDate:      req.DropoffDate,
		Urgent:           req.Urgent,
		Contact:          req.Contact,
		CustomerRef:      customerRef,
		PaymentMethodRef: req.PaymentMethodRef,
		HoldRef:          req.HoldRef,
		CreatedAt:        s.now().UTC(),
	}
	rec := &provider.Record{
		OrderRef:    orderRef,
		Status:      provider.StatusPending,
		DropoffDate: ord.DropoffDate,
		Snapshot:    ord,
	}
	if err := s.store.Put(customerRef, rec); err != nil {
		return nil, errors.Wrap(err, "failed persist order record")
	}

	claims := token.Claims{
		OrderRef:    ord.OrderRef,
		Total:       ord.Total,
		Flow:        ord.Flow,
		DropoffDate: ord.DropoffDate,
		Urgent:      ord.Urgent,
		CustomerRef: ord.CustomerRef,
		HoldRef:     ord.HoldRef,
		Contact:     ord.Contact,
	}
	claims.Action = token.ActionApprove
	approveTok, err := s.tokens.Issue(claims, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	claims.Action = token.ActionDecline
	declineTok, err := s.tokens.Issue(claims, s.tokenTTL)
	if err != nil {
		return nil, err
	}

	s.l.Info(
		"Order received",
		zap.String("order_id", orderRef),
		zap.String("customer_id", customerRef),
		zap.Int64("total", ord.Total),
		zap.String("flow", string(ord.Flow)),
	)
	s.disp.Dispatch(ctx, notify.Message{
		Kind:     notify.KindOrderReceived,
		OrderRef: orderRef,
		To:       s.owner,
		Amount:   ord.Total,
		Extra: map[string]string{
			"approve_token": approveTok,
			"decline_token": declineTok,
		},
	})

	return &CreateOrderResponse{
		OrderRef:     orderRef,
		CustomerRef:  customerRef,
		ApproveToken: approveTok,
		DeclineToken: declineTok,
	}, nil
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/orders", s.CreateOrderHandler())
}

func (s *Server) CreateOrderHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var req CreateOrderRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed body"})
		}
		res, err := s.CreateOrder(c.Request().Context(), &req)
		if err != nil {
			if vErr := req.validate(); vErr != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": vErr.Error()})
			}
			s.l.Error("Failed create order", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return c.JSON(http.StatusCreated, res)
	}
}
