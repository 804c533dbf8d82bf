package payment

import (
	"crypto/sha512"
	"crypto/subtle"
	"fmt"
)

// Outcome classifies a gateway notification.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeFailure       Outcome = "failure"
	OutcomeIndeterminate Outcome = "indeterminate"
)

// Notification is the subset of a Midtrans webhook the engine acts on.
type Notification struct {
	OrderRef          string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
}

// VerifySignature checks the Midtrans webhook signature:
// SHA512(order_id + status_code + gross_amount + server_key).
func VerifySignature(n Notification, serverKey string) bool {
	input := n.OrderRef + n.StatusCode + n.GrossAmount + serverKey
	expected := fmt.Sprintf("%x", sha512.Sum512([]byte(input)))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(n.SignatureKey)) == 1
}

// ClassifyOutcome maps a transaction status onto the engine's
// confirmed-success / confirmed-failure / wait-longer decision.
func ClassifyOutcome(transactionStatus string) Outcome {
	switch transactionStatus {
	case "capture", "settlement":
		return OutcomeSuccess
	case "deny", "cancel", "expire", "failure":
		return OutcomeFailure
	default:
		return OutcomeIndeterminate
	}
}
