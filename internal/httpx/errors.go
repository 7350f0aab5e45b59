package httpx

import (
	"errors"
	"net/http"

	"github.com/cataloghq/fulfillment/internal/fulfillment"
)

// statusFor maps domain errors to HTTP codes. The core returns typed errors
// and stays out of the wire format; this is the only place that knows both.
func statusFor(err error) int {
	var (
		unknownSKU    *fulfillment.UnknownSKUError
		emptyOrder    *fulfillment.EmptyOrderError
		insufficient  *fulfillment.InsufficientStockError
		badTransition *fulfillment.InvalidTransitionError
		badDelete     *fulfillment.IllegalDeleteError
		timeout       *fulfillment.ConcurrencyTimeoutError
		referenced    *fulfillment.SKUReferencedError
	)
	switch {
	case errors.Is(err, fulfillment.ErrOrderNotFound),
		errors.Is(err, fulfillment.ErrSKUNotFound):
		return http.StatusNotFound
	case errors.As(err, &unknownSKU):
		return http.StatusUnprocessableEntity
	case errors.As(err, &emptyOrder),
		errors.Is(err, fulfillment.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.As(err, &insufficient),
		errors.As(err, &badTransition),
		errors.As(err, &badDelete),
		errors.As(err, &referenced),
		errors.Is(err, fulfillment.ErrExternalIDTaken):
		return http.StatusConflict
	case errors.As(err, &timeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
