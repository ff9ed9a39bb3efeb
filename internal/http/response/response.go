// Package response writes the cashier's JSON envelopes: {code:0,data} on
// success and {code:1,message} on failure.
package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cloudpay-cashier/internal/domain"
)

const (
	CodeOK    = 0
	CodeError = 1
)

type envelope struct {
	Code    int    `json:"code"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Code: CodeOK, Data: data})
}

func Fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, envelope{Code: CodeError, Message: message})
}

// Error maps err onto an HTTP status and a caller-safe message.
func Error(c *gin.Context, err error) {
	status, message := StatusFor(err)
	Fail(c, status, message)
}

// StatusFor classifies err. Only validation errors expose their own text;
// everything else gets a fixed message.
func StatusFor(err error) (int, string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrPaymentMethod):
		return http.StatusBadRequest, "payment method not available"
	case errors.Is(err, domain.ErrAuth):
		return http.StatusUnauthorized, "signature verification failed"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, domain.ErrDuplicateOrder):
		return http.StatusConflict, "order already exists"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "order cannot change to the requested state"
	case errors.Is(err, domain.ErrAmountMismatch):
		return http.StatusBadRequest, "amount mismatch"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusBadGateway, "payment gateway unavailable"
	case errors.Is(err, domain.ErrUnsupportedOperation):
		return http.StatusNotImplemented, "operation not supported"
	}
	return http.StatusInternalServerError, "internal error"
}
