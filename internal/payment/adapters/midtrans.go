package adapters

import (
	"context"
	"fmt"
	"strconv"

	"github.com/coursekit/enroll/internal/config"
	paymentdomain "github.com/coursekit/enroll/internal/payment/domain"
	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"
)

// VendorMidtrans is the vendor string routed to this adapter.
const VendorMidtrans = "MIDTRANS"

type midtransBoundary struct {
	client snap.Client
}

// NewMidtransBoundary builds a Snap hosted-checkout adapter.
func NewMidtransBoundary(cfg config.Config) paymentdomain.Boundary {
	env := midtrans.Sandbox
	if cfg.MidtransEnv == "production" {
		env = midtrans.Production
	}

	var client snap.Client
	client.New(cfg.MidtransServerKey, env)
	return &midtransBoundary{client: client}
}

func (b *midtransBoundary) Initiate(_ context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.SubmissionAck, error) {
	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.OrderRef,
			GrossAmt: req.Amount,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: req.CustomerName,
			Email: req.CustomerEmail,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    strconv.FormatInt(req.PlanID.Int64(), 10),
				Price: req.Amount,
				Qty:   1,
				Name:  req.Description,
			},
		},
		EnabledPayments: snap.AllSnapPaymentType,
	}

	resp, snapErr := b.client.CreateTransaction(snapReq)
	if snapErr != nil {
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrBoundaryFailure, snapErr.GetMessage())
	}

	return &paymentdomain.SubmissionAck{
		OrderRef:    req.OrderRef,
		RedirectURL: resp.RedirectURL,
	}, nil
}
