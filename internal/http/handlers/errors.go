package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unified-inbox/internal/services"
)

// Error codes returned in ErrorResponse.Code. Clients branch on these,
// not on messages.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "not_owned",
//	  "message": "identity not owned by contact"
//	}
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeTimeout          = "timeout"

	// Domain-specific:
	ErrCodeNotOwned        = "not_owned"
	ErrCodeVersionConflict = "version_conflict"
	ErrCodeThreadClosed    = "thread_closed"
	ErrCodeContactMismatch = "contact_mismatch"
	ErrCodeDuplicateFeed   = "duplicate_feed"
	ErrCodeInvalidFilter   = "invalid_filter"
)

// failErr maps a service error to a status and code. Unknown errors are
// 500s and their text is not echoed to the client.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInbound), errors.Is(err, services.ErrInvalidOrder):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidFilter):
		fail(c, http.StatusBadRequest, ErrCodeInvalidFilter, err.Error())
	case errors.Is(err, services.ErrContactNotFound),
		errors.Is(err, services.ErrIdentityNotFound),
		errors.Is(err, services.ErrThreadNotFound),
		errors.Is(err, services.ErrFeedNotFound),
		errors.Is(err, services.ErrSuggestionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrNotOwned):
		fail(c, http.StatusConflict, ErrCodeNotOwned, err.Error())
	case errors.Is(err, services.ErrConflictingVersion):
		fail(c, http.StatusConflict, ErrCodeVersionConflict, "resource changed concurrently; reload and retry")
	case errors.Is(err, services.ErrThreadClosed):
		fail(c, http.StatusConflict, ErrCodeThreadClosed, err.Error())
	case errors.Is(err, services.ErrThreadContactMismatch):
		fail(c, http.StatusUnprocessableEntity, ErrCodeContactMismatch, err.Error())
	case errors.Is(err, services.ErrDuplicateFeed):
		fail(c, http.StatusConflict, ErrCodeDuplicateFeed, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusGatewayTimeout, ErrCodeTimeout, "operation timed out")
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads the body.
		c.AbortWithStatus(499)
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}
