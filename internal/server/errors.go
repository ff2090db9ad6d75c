package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fitdesk/internal/apperr"
	"github.com/smallbiznis/fitdesk/internal/billingcycle"
	"github.com/smallbiznis/fitdesk/internal/localstore"
	membershipdomain "github.com/smallbiznis/fitdesk/internal/membership/domain"
	outboxdomain "github.com/smallbiznis/fitdesk/internal/outbox/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound    = errors.New("not_found")
	ErrRateLimited = errors.New("rate_limited")
	ErrInternal    = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var fieldErr *apperr.ValidationError
	if errors.As(err, &fieldErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{{
				Field:   fieldErr.Field,
				Code:    fieldErr.Code,
				Message: fieldErr.Message,
			}},
		}
	}

	var billingErr *billingcycle.BillingInputError
	if errors.As(err, &billingErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{{
				Field:   billingErr.Field,
				Code:    "invalid_" + billingErr.Field,
				Message: billingErr.Reason,
			}},
		}
	}

	if rejected, ok := apperr.AsRemoteRejected(err); ok {
		message := rejected.Message
		if message == "" {
			message = "remote service rejected the change"
		}
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "remote_rejected",
			Message: message,
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, outboxdomain.ErrDrainInProgress):
		return http.StatusConflict, errorPayload{
			Type:    "drain_in_progress",
			Message: "a sync pass is already running",
		}
	case errors.Is(err, outboxdomain.ErrNotFailed):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "entry is not failed",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many sync requests",
		}
	case apperr.IsLocalStorage(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "local_storage_unavailable",
			Message: "local storage unavailable",
		}
	case apperr.IsRemoteUnavailable(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "remote_unavailable",
			Message: "remote service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, membershipdomain.ErrMemberNotFound),
		errors.Is(err, membershipdomain.ErrPlanNotFound),
		errors.Is(err, membershipdomain.ErrPaymentNotFound),
		errors.Is(err, membershipdomain.ErrSettingNotFound),
		errors.Is(err, outboxdomain.ErrNotFound),
		errors.Is(err, localstore.ErrNotFound):
		return true
	default:
		return false
	}
}

// classifyErrorForLog returns the response type and the most specific code
// for the request log.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 && payload.Errors[0].Code != "" {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
