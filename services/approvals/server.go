package approvals

import (
	"context"
	"net/http"

	"github.com/labstack/echo"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	checkout "github.com/jkantiques8-sys/stripe-checkout-poc-sub000"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/engine"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/token"
)

// Orchestrator is the slice of the engine the action endpoints need.
type Orchestrator interface {
	Approve(ctx context.Context, claims *token.Claims) (*engine.ApproveResult, error)
	Decline(ctx context.Context, claims *token.Claims) error
}

func NewServer(tokens *token.Service, orch Orchestrator) *Server {
	return &Server{
		tokens: tokens,
		orch:   orch,
		l:      zap.L().Named("approvals"),
	}
}

// Server exposes the owner's approve and decline actions. Each action
// takes a capability token via query parameter or form body.
type Server struct {
	tokens *token.Service
	orch   Orchestrator
	l      *zap.Logger
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/actions/approve", s.ApproveHandler())
	e.POST("/actions/approve", s.ApproveHandler())
	e.GET("/actions/decline", s.DeclineHandler())
	e.POST("/actions/decline", s.DeclineHandler())
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Declined  bool   `json:"declined,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (s *Server) ApproveHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := s.verified(c, token.ActionApprove)
		if !ok {
			return nil
		}
		res, err := s.orch.Approve(c.Request().Context(), claims)
		if err != nil {
			return s.writeError(c, claims.OrderRef, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func (s *Server) DeclineHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := s.verified(c, token.ActionDecline)
		if !ok {
			return nil
		}
		if err := s.orch.Decline(c.Request().Context(), claims); err != nil {
			return s.writeError(c, claims.OrderRef, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"order_ref": claims.OrderRef, "status": "declined"})
	}
}

func (s *Server) verified(c echo.Context, action token.Action) (*token.Claims, bool) {
	raw := c.QueryParam("token")
	if raw == "" {
		raw = c.FormValue("token")
	}
	if raw == "" {
		c.JSON(http.StatusBadRequest, errorBody{Error: "missing token"})
		return nil, false
	}
	claims, err := s.tokens.Verify(raw, action)
	if err != nil {
		// terminal for the link; the human restarts the flow
		c.JSON(http.StatusUnauthorized, errorBody{Error: "expired or invalid link"})
		return nil, false
	}
	return claims, true
}

func (s *Server) writeError(c echo.Context, orderRef string, err error) error {
	var ce *checkout.ChargeError
	if errors.As(err, &ce) {
		return c.JSON(http.StatusPaymentRequired, errorBody{
			Error:     "charge failed",
			Code:      ce.Code,
			Declined:  ce.Declined,
			Retryable: ce.Retryable,
		})
	}
	switch errors.Cause(err) {
	case checkout.ErrAlreadyCaptured, checkout.ErrAlreadyCanceled, checkout.ErrNotCapturable:
		return c.JSON(http.StatusConflict, errorBody{Error: errors.Cause(err).Error()})
	case checkout.ErrOrderNotFound:
		return c.JSON(http.StatusNotFound, errorBody{Error: "order not found"})
	}
	s.l.Error("Action failed", zap.String("order_id", orderRef), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
}
