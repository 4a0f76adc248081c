package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	customerdomain "github.com/smallbiznis/clientbilling/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/clientbilling/internal/invoice/domain"
	plandomain "github.com/smallbiznis/clientbilling/internal/paymentplan/domain"
	paymentdomain "github.com/smallbiznis/clientbilling/internal/providers/payment/domain"
	ratedomain "github.com/smallbiznis/clientbilling/internal/rate/domain"
	reconcilerdomain "github.com/smallbiznis/clientbilling/internal/reconciler/domain"
	workdomain "github.com/smallbiznis/clientbilling/internal/workentry/domain"
	"github.com/smallbiznis/clientbilling/pkg/db/pagination"
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
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
	ErrPayloadTooLarge    = errors.New("payload_too_large")
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

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "payload_too_large",
			Message: "request body too large",
		}
	case isWebhookRejection(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "webhook_rejected",
			Message: "webhook rejected",
			Code:    rootCode(err),
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
			Code:    rootCode(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, plandomain.ErrProvider):
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_error",
			Message: "payment provider error",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, reconcilerdomain.ErrNotConfigured),
		errors.Is(err, paymentdomain.ErrNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the (type, code) pair logged with failed requests.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError {
		return payload.Type, ""
	}
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pagination.ErrInvalidToken):
		return true
	case isCustomerValidationError(err),
		isRateValidationError(err),
		isWorkEntryValidationError(err),
		isInvoiceValidationError(err),
		isPaymentPlanValidationError(err):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, ratedomain.ErrCodeTaken),
		errors.Is(err, ratedomain.ErrRateInUse),
		errors.Is(err, workdomain.ErrRateInactive),
		errors.Is(err, invoicedomain.ErrPaidRegression),
		errors.Is(err, invoicedomain.ErrNotDraft),
		errors.Is(err, invoicedomain.ErrHasBilledWork),
		errors.Is(err, invoicedomain.ErrNumberExhausted),
		errors.Is(err, plandomain.ErrOpenPlanExists),
		errors.Is(err, plandomain.ErrInvoicePaid),
		errors.Is(err, plandomain.ErrNotPending):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, customerdomain.ErrNotFound),
		errors.Is(err, ratedomain.ErrNotFound),
		errors.Is(err, workdomain.ErrNotFound),
		errors.Is(err, invoicedomain.ErrNotFound),
		errors.Is(err, plandomain.ErrNotFound),
		errors.Is(err, plandomain.ErrInvoiceNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isWebhookRejection(err error) bool {
	return errors.Is(err, paymentdomain.ErrInvalidSignature) ||
		errors.Is(err, paymentdomain.ErrInvalidPayload)
}

func rootCode(err error) string {
	for _, sentinel := range []error{
		ratedomain.ErrCodeTaken,
		ratedomain.ErrRateInUse,
		workdomain.ErrRateInactive,
		invoicedomain.ErrPaidRegression,
		invoicedomain.ErrNotDraft,
		invoicedomain.ErrHasBilledWork,
		invoicedomain.ErrNumberExhausted,
		plandomain.ErrOpenPlanExists,
		plandomain.ErrInvoicePaid,
		plandomain.ErrNotPending,
		paymentdomain.ErrInvalidSignature,
		paymentdomain.ErrInvalidPayload,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}

func isCustomerValidationError(err error) bool {
	switch err {
	case customerdomain.ErrInvalidID,
		customerdomain.ErrInvalidName,
		customerdomain.ErrInvalidEmail:
		return true
	default:
		return false
	}
}

func isRateValidationError(err error) bool {
	switch err {
	case ratedomain.ErrInvalidID,
		ratedomain.ErrInvalidName,
		ratedomain.ErrInvalidCode,
		ratedomain.ErrInvalidUnitLabel,
		ratedomain.ErrInvalidUnitPrice,
		ratedomain.ErrInvalidCurrency:
		return true
	default:
		return false
	}
}

func isWorkEntryValidationError(err error) bool {
	switch err {
	case workdomain.ErrInvalidID,
		workdomain.ErrInvalidProject,
		workdomain.ErrInvalidCustomer,
		workdomain.ErrInvalidRate,
		workdomain.ErrInvalidQuantity,
		workdomain.ErrInvalidCost,
		workdomain.ErrInvalidMarkup,
		workdomain.ErrInvalidState:
		return true
	default:
		return false
	}
}

func isInvoiceValidationError(err error) bool {
	switch err {
	case invoicedomain.ErrInvalidID,
		invoicedomain.ErrInvalidProject,
		invoicedomain.ErrInvalidCustomer,
		invoicedomain.ErrInvalidStatus,
		invoicedomain.ErrInvalidTaxRate,
		invoicedomain.ErrInvalidDueDays,
		invoicedomain.ErrInvalidPageToken:
		return true
	default:
		return false
	}
}

func isPaymentPlanValidationError(err error) bool {
	switch err {
	case plandomain.ErrInvalidID,
		plandomain.ErrInvalidInvoice,
		plandomain.ErrInvalidInstallments,
		plandomain.ErrInvalidFrequency,
		plandomain.ErrInvalidAmount,
		plandomain.ErrInvalidEmail:
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, pagination.ErrInvalidToken):
		return "invalid_page_token"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
