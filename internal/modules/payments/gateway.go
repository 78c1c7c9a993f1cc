package payments

import (
	"context"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/mpesa"
)

// Gateway is the slice of the mobile-money API the engine needs.
// *mpesa.Client satisfies it.
type Gateway interface {
	Push(ctx context.Context, req mpesa.PushRequest) (mpesa.PushResponse, error)
	Payout(ctx context.Context, req mpesa.PayoutRequest) (mpesa.PayoutResponse, error)
}

var _ Gateway = (*mpesa.Client)(nil)
