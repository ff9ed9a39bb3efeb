package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cloudpay-cashier/internal/domain"
	"cloudpay-cashier/internal/http/middleware"
	"cloudpay-cashier/internal/http/response"
	"cloudpay-cashier/internal/service"
)

// handleAPICreate registers an order for the upstream platform and answers
// with the checkout URL the buyer is sent to.
func (s *Server) handleAPICreate(c *gin.Context) {
	var in service.CreateOrderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	_, checkoutURL, err := s.orders.CreateOrder(c.Request.Context(), in)
	if err != nil {
		s.logFailure(c, "create order failed", in.OrderNo, err)
		response.Error(c, err)
		return
	}
	response.OK(c, checkoutURL)
}

func (s *Server) handleAPIQuery(c *gin.Context) {
	orderNo := c.Query("order_no")
	if orderNo == "" {
		response.Error(c, domain.NewValidationError("order_no", "is required"))
		return
	}
	status, err := s.orders.QueryStatus(c.Request.Context(), orderNo)
	if err != nil {
		s.logFailure(c, "query order failed", orderNo, err)
		response.Error(c, err)
		return
	}
	response.OK(c, status)
}

func (s *Server) logFailure(c *gin.Context, msg, orderNo string, err error) {
	status, _ := response.StatusFor(err)
	attrs := []any{"request_id", middleware.GetRequestID(c), "order_no", orderNo, "error", err.Error()}
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, attrs...)
		return
	}
	s.logger.Warn(msg, attrs...)
}
