package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/tally/internal/billing/domain"
	catalogdomain "github.com/smallbiznis/tally/internal/catalog/domain"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
	orderdomain "github.com/smallbiznis/tally/internal/order/domain"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	taxdomain "github.com/smallbiznis/tally/internal/tax/domain"
	tenantdomain "github.com/smallbiznis/tally/internal/tenant/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

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

func mapError(err error) (int, errorPayload) {
	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}
	case errors.Is(err, billingdomain.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, tenantdomain.ErrNoProcessorConfigured):
		return http.StatusBadRequest, errorPayload{
			Type:    "configuration_error",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrProcessorFailure):
		return http.StatusBadGateway, errorPayload{
			Type:    "external_processor_error",
			Message: "payment processor request failed",
		}
	case isBadRequestError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "bad_request",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, billingdomain.ErrBillingNotFound),
		errors.Is(err, billingdomain.ErrRecipientNotFound),
		errors.Is(err, catalogdomain.ErrProductNotFound),
		errors.Is(err, catalogdomain.ErrVariantNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, subscriptiondomain.ErrPlanNotFound),
		errors.Is(err, tenantdomain.ErrBusinessNotFound),
		errors.Is(err, identitydomain.ErrUserMissing),
		errors.Is(err, paymentdomain.ErrIntentNotFound):
		return true
	}
	return false
}

func isBadRequestError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, billingdomain.ErrInvalidAmount),
		errors.Is(err, billingdomain.ErrInvalidLineItems),
		errors.Is(err, billingdomain.ErrInvalidCurrency),
		errors.Is(err, billingdomain.ErrAlreadyPaid),
		errors.Is(err, billingdomain.ErrPaymentFailed),
		errors.Is(err, billingdomain.ErrNotCashable),
		errors.Is(err, billingdomain.ErrBillingSettled),
		errors.Is(err, billingdomain.ErrInvalidStatus),
		errors.Is(err, catalogdomain.ErrInsufficientQuantity),
		errors.Is(err, catalogdomain.ErrInactiveProduct),
		errors.Is(err, catalogdomain.ErrInvalidQuantity),
		errors.Is(err, catalogdomain.ErrInvalidProduct),
		errors.Is(err, orderdomain.ErrEmptyCheckout),
		errors.Is(err, orderdomain.ErrInvalidBuyer),
		errors.Is(err, orderdomain.ErrInvalidCart),
		errors.Is(err, subscriptiondomain.ErrActiveSubscriptionExists),
		errors.Is(err, subscriptiondomain.ErrInvalidFrequency),
		errors.Is(err, subscriptiondomain.ErrFrequencyNotOffered),
		errors.Is(err, subscriptiondomain.ErrInvalidPlan),
		errors.Is(err, taxdomain.ErrInvalidRate),
		errors.Is(err, paymentdomain.ErrCardUnavailable),
		errors.Is(err, paymentdomain.ErrMissingPaymentRef),
		errors.Is(err, paymentdomain.ErrInvalidConfig),
		errors.Is(err, paymentdomain.ErrProviderNotFound):
		return true
	}
	return false
}
