package handlers

import (
	"errors"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/modules/payments"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/shared/apperr"
)

// toAppErr maps settlement errors onto public API errors.
func toAppErr(err error) error {
	var ve *payments.ValidationError
	switch {
	case errors.As(err, &ve):
		fields := map[string]string{}
		if ve.Field != "" {
			fields[ve.Field] = ve.Msg
		}
		return apperr.InvalidErr("Invalid request.", fields).WithCause(err)
	case errors.Is(err, payments.ErrValidationFailed):
		return apperr.InvalidErr("Invalid request.", nil).WithCause(err)
	case errors.Is(err, payments.ErrRateLimited):
		return apperr.TooManyRequestsErr("Too many payment attempts. Try again in a minute.").WithCause(err)
	case errors.Is(err, payments.ErrAlreadyPending):
		return apperr.ConflictErr("A payment for this item is already in progress.").WithCause(err)
	case errors.Is(err, payments.ErrGatewayRejected):
		return apperr.InvalidErr("The payment provider rejected the request.", nil).WithCause(err)
	case errors.Is(err, payments.ErrGatewayUnavailable):
		return apperr.UnavailableErr("The payment provider is unavailable.", err)
	case errors.Is(err, payments.ErrForbidden):
		return apperr.ForbiddenErr("Forbidden.").WithCause(err)
	case errors.Is(err, payments.ErrNotFound):
		return apperr.NotFoundErr("Not found.").WithCause(err)
	default:
		return apperr.Wrap(err)
	}
}
