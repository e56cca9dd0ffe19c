package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	checkout "github.com/jkantiques8-sys/stripe-checkout-poc-sub000"
)

func testClaims() Claims {
	return Claims{
		Action:      ActionApprove,
		OrderRef:    "ord-42",
		Total:       30000,
		Flow:        checkout.FlowDeferredSettlement,
		DropoffDate: "2025-06-10",
		CustomerRef: "cus_123",
		Contact:     checkout.CustomerContact{Name: "A", Email: "a@example.com"},
	}
}

func TestServiceIssueVerify(t *testing.T) {
	s := NewService([]byte("secret"))
	raw, err := s.Issue(testClaims(), time.Hour)
	require.NoError(t, err)

	got, err := s.Verify(raw, ActionApprove)
	require.NoError(t, err)
	require.Equal(t, "ord-42", got.OrderRef)
	require.Equal(t, int64(30000), got.Total)
	require.Equal(t, checkout.FlowDeferredSettlement, got.Flow)
	require.Equal(t, "cus_123", got.CustomerRef)
}

func TestServiceVerifyRejects(t *testing.T) {
	s := NewService([]byte("secret"))

	t.Run("WrongAction", func(t *testing.T) {
		raw, err := s.Issue(testClaims(), time.Hour)
		require.NoError(t, err)
		_, err = s.Verify(raw, ActionDecline)
		require.Equal(t, checkout.ErrInvalidToken, err)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other := NewService([]byte("other"))
		raw, err := other.Issue(testClaims(), time.Hour)
		require.NoError(t, err)
		_, err = s.Verify(raw, ActionApprove)
		require.Equal(t, checkout.ErrInvalidToken, err)
	})

	t.Run("Tampered", func(t *testing.T) {
		raw, err := s.Issue(testClaims(), time.Hour)
		require.NoError(t, err)
		_, err = s.Verify(raw[:len(raw)-2]+"xx", ActionApprove)
		require.Equal(t, checkout.ErrInvalidToken, err)
	})

	t.Run("Expired", func(t *testing.T) {
		raw, err := s.Issue(testClaims(), time.Hour)
		require.NoError(t, err)
		late := NewService([]byte("secret"))
		late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err = late.Verify(raw, ActionApprove)
		require.Equal(t, checkout.ErrInvalidToken, err)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := s.Verify("not-a-token", ActionApprove)
		require.Equal(t, checkout.ErrInvalidToken, err)
	})
}

// Verification has no side effects: the same token verifies any number of
// times within its lifetime.
func TestServiceVerifyIsStateless(t *testing.T) {
	s := NewService([]byte("secret"))
	raw, err := s.Issue(testClaims(), time.Hour)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.Verify(raw, ActionApprove)
		require.NoError(t, err)
	}
}
