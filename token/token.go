package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	checkout "github.com/jkantiques8-sys/stripe-checkout-poc-sub000"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionDecline Action = "decline"
)

// Claims snapshot the order facts an approval link needs to act without a
// separate lookup. Amounts here are a hint only; the engine re-validates
// them against the stored order before any money moves.
type Claims struct {
	jwt.RegisteredClaims
	Action      Action                   `json:"act"`
	OrderRef    string                   `json:"ord"`
	Total       int64                    `json:"total"`
	Flow        checkout.FlowType        `json:"flow"`
	DropoffDate string                   `json:"dropoff"`
	Urgent      bool                     `json:"urgent,omitempty"`
	CustomerRef string                   `json:"cus"`
	HoldRef     string                   `json:"hold,omitempty"`
	Contact     checkout.CustomerContact `json:"contact"`
}

// Service mints and verifies capability tokens. Verification is a pure
// function of (token, secret, clock); tokens are replayable until expiry.
type Service struct {
	secret []byte
	now    func() time.Time
}

func NewService(secret []byte) *Service {
	return &Service{secret: secret, now: time.Now}
}

func (s *Service) Issue(c Claims, ttl time.Duration) (string, error) {
	now := s.now().UTC()
	c.Subject = c.OrderRef
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed sign token")
	}
	return signed, nil
}

// Verify rejects tokens that are expired, tampered, or bound to a
// different action than the endpoint invoked.
func (s *Service) Verify(raw string, expected Action) (*Claims, error) {
	t, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !t.Valid {
		return nil, checkout.ErrInvalidToken
	}
	claims, ok := t.Claims.(*Claims)
	if !ok || claims.Action != expected {
		return nil, checkout.ErrInvalidToken
	}
	return claims, nil
}
