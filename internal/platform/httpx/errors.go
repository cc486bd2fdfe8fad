package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RespondError maps engine errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInvalidTransition):
		Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrOverAllocation):
		Problem(w, http.StatusConflict, "Over Allocation", err.Error())
	case errors.Is(err, shared.ErrDuplicateNumber):
		Problem(w, http.StatusInternalServerError, "Sequence Integrity Violation", err.Error())
	case errors.Is(err, shared.ErrConcurrencyConflict):
		JSON(w, http.StatusConflict, ProblemDetail{
			Title:  "Concurrency Conflict",
			Status: http.StatusConflict,
			Detail: err.Error(),
			Retry:  true,
		})
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
