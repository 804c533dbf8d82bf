package payment

import (
	"crypto/sha512"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	n := Notification{
		OrderRef:    "renew-123",
		StatusCode:  "200",
		GrossAmount: "150000.00",
	}
	serverKey := "SB-Mid-server-test"
	n.SignatureKey = fmt.Sprintf("%x", sha512.Sum512([]byte(n.OrderRef+n.StatusCode+n.GrossAmount+serverKey)))

	require.True(t, VerifySignature(n, serverKey))

	n.SignatureKey = "tampered"
	require.False(t, VerifySignature(n, serverKey))
}

func TestClassifyOutcome(t *testing.T) {
	cases := map[string]Outcome{
		"capture":    OutcomeSuccess,
		"settlement": OutcomeSuccess,
		"deny":       OutcomeFailure,
		"cancel":     OutcomeFailure,
		"expire":     OutcomeFailure,
		"pending":    OutcomeIndeterminate,
		"authorize":  OutcomeIndeterminate,
	}
	for status, want := range cases {
		require.Equal(t, want, ClassifyOutcome(status), "status %s", status)
	}
}
