package server

import (
	"errors"
	"net/http"

	grantdomain "github.com/coursekit/enroll/internal/grant/domain"
	offeringdomain "github.com/coursekit/enroll/internal/offering/domain"
	paymentdomain "github.com/coursekit/enroll/internal/payment/domain"
	plandomain "github.com/coursekit/enroll/internal/plan/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
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
	Type       string            `json:"type"`
	Message    string            `json:"message"`
	Errors     []ValidationError `json:"errors,omitempty"`
	RetryAfter string            `json:"retry_after,omitempty"`
	GapDays    int               `json:"gap_days,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
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

	var vErrs *ValidationErrors
	if errors.As(err, &vErrs) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErrs.Errors,
		}
	}

	var blocked *grantdomain.ReenrollmentBlockedError
	if errors.As(err, &blocked) {
		return http.StatusConflict, errorPayload{
			Type:       "reenrollment_blocked",
			Message:    blocked.Error(),
			RetryAfter: blocked.RetryAfter.Format("2006-01-02"),
			GapDays:    blocked.GapDays,
		}
	}

	switch {
	case errors.Is(err, offeringdomain.ErrOfferingNotFound),
		errors.Is(err, grantdomain.ErrGrantNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "resource not found",
		}
	case errors.Is(err, grantdomain.ErrInvalidStatus),
		errors.Is(err, grantdomain.ErrInvalidTransition),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, paymentdomain.ErrVendorUnsupported),
		errors.Is(err, paymentdomain.ErrManualVendor):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "vendor_error",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrBoundaryFailure):
		return http.StatusBadGateway, errorPayload{
			Type:    "payment_gateway_error",
			Message: "payment gateway error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "internal_error", payload.Type
	case status == http.StatusConflict:
		return "business_rule", payload.Type
	case status >= http.StatusBadRequest:
		return "validation_error", payload.Type
	default:
		return "", payload.Type
	}
}
