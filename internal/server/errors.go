package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fiscalia/internal/authorization"
	certdomain "github.com/smallbiznis/fiscalia/internal/certvault/domain"
	ledgerdomain "github.com/smallbiznis/fiscalia/internal/ledger/domain"
)

// APIError is the wire shape of every non-2xx response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *APIError) Error() string { return e.Code }

var (
	ErrUnauthorized = &APIError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "authentication required"}
	ErrForbidden    = &APIError{Status: http.StatusForbidden, Code: "forbidden", Message: "insufficient permissions"}
	ErrNotFound     = &APIError{Status: http.StatusNotFound, Code: "not_found", Message: "resource not found"}
	ErrRateLimited  = &APIError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "too many requests"}
)

func invalidRequestError() *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "request body could not be parsed"}
}

func newValidationError(field, code, message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: code, Message: message, Field: field}
}

// AbortWithError translates domain errors into HTTP responses. Unknown
// errors become an opaque 500.
func AbortWithError(c *gin.Context, err error) {
	apiErr := toAPIError(err)
	c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr})
}

func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, ledgerdomain.ErrInvalidOrganization),
		errors.Is(err, certdomain.ErrInvalidOrganization):
		return ErrUnauthorized

	case errors.Is(err, authorization.ErrForbidden):
		return ErrForbidden

	case errors.Is(err, ledgerdomain.ErrDraftNotFound),
		errors.Is(err, ledgerdomain.ErrEntryNotFound),
		errors.Is(err, ledgerdomain.ErrSeriesNotFound):
		return &APIError{Status: http.StatusNotFound, Code: err.Error(), Message: "resource not found"}

	case errors.Is(err, ledgerdomain.ErrAlreadyFinalized),
		errors.Is(err, ledgerdomain.ErrAlreadyCancelled),
		errors.Is(err, ledgerdomain.ErrNotIssued),
		errors.Is(err, ledgerdomain.ErrAlreadySent),
		errors.Is(err, ledgerdomain.ErrSeriesExists):
		return &APIError{Status: http.StatusConflict, Code: err.Error(), Message: "state conflict"}

	case errors.Is(err, ledgerdomain.ErrConcurrentConflict),
		errors.Is(err, certdomain.ErrConcurrentRotation):
		return &APIError{Status: http.StatusConflict, Code: err.Error(), Message: "concurrent write lost, retry the request"}

	case errors.Is(err, ledgerdomain.ErrInvalidSeries),
		errors.Is(err, ledgerdomain.ErrInvalidReason),
		errors.Is(err, ledgerdomain.ErrInvalidExportRange),
		errors.Is(err, certdomain.ErrInvalidEnvironment),
		errors.Is(err, certdomain.ErrMissingCertificate),
		errors.Is(err, certdomain.ErrMissingPrivateKey),
		errors.Is(err, certdomain.ErrMissingIssuerTaxID):
		return &APIError{Status: http.StatusBadRequest, Code: err.Error(), Message: "invalid request"}

	default:
		return &APIError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal error"}
	}
}
