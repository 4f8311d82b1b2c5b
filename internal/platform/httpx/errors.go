// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		Problem(w, http.StatusConflict, "Duplicate Request", "a request with this idempotency key is already recorded")
		return
	}
	switch shared.KindOf(err) {
	case shared.KindInvalidAmount, shared.KindInvalidEntry:
		Problem(w, http.StatusBadRequest, "Validation Failed", shared.UserSafeMessage(err))
	case shared.KindInvalidTarget:
		Problem(w, http.StatusUnprocessableEntity, "Invalid Target", shared.UserSafeMessage(err))
	case shared.KindCustomerMismatch:
		Problem(w, http.StatusConflict, "Customer Mismatch", shared.UserSafeMessage(err))
	case shared.KindNotFound:
		Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(err))
	case shared.KindStoreUnavailable:
		w.Header().Set("Retry-After", "1")
		Problem(w, http.StatusServiceUnavailable, "Store Unavailable", shared.UserSafeMessage(err))
	case shared.KindInternalConsistency:
		Problem(w, http.StatusInternalServerError, "Internal Error", shared.UserSafeMessage(err))
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
