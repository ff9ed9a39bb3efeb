package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cloudpay-cashier/internal/http/response"
	"cloudpay-cashier/internal/infrastructure/payment"
)

func (s *Server) handleCheckout(c *gin.Context) {
	view, err := s.orders.Checkout(c.Request.Context(), c.Query("order_no"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.HTML(http.StatusOK, "checkout.html", gin.H{
		"cashier": view.CashierName,
		"order":   view.Order,
		"amount":  view.Amount,
		"methods": view.Methods,
		"paid":    view.Order.IsPaid(),
	})
}

// handlePay records the chosen method and redirects the buyer to the gateway.
func (s *Server) handlePay(c *gin.Context) {
	orderNo := formOrQuery(c, "order_no")
	paymentType := formOrQuery(c, "payment_type")

	target, err := s.orders.SelectPayment(c.Request.Context(), orderNo, paymentType)
	if err != nil {
		s.logFailure(c, "select payment failed", orderNo, err)
		s.renderError(c, err)
		return
	}
	c.Redirect(http.StatusFound, target)
}

// handleNotify answers the gateway's asynchronous notification with the
// plain-text "success" or "fail" the gateway expects.
func (s *Server) handleNotify(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusOK, "fail")
		return
	}
	params := payment.ParamsFromValues(c.Request.URL.Query(), c.Request.PostForm)

	if _, err := s.orders.HandleCallback(c.Request.Context(), params); err != nil {
		s.logFailure(c, "gateway callback failed", params["out_trade_no"], err)
		c.String(http.StatusOK, "fail")
		return
	}
	c.String(http.StatusOK, "success")
}

func (s *Server) handleReturn(c *gin.Context) {
	params := payment.ParamsFromValues(c.Request.URL.Query())
	view, err := s.orders.HandleReturn(c.Request.Context(), params)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.HTML(http.StatusOK, "return.html", gin.H{
		"cashier": s.runtime.Current().Config.CashierName,
		"order":   view.Order,
		"amount":  view.Amount,
		"success": view.Success,
	})
}

// renderError shows a generic page unless debug output is enabled.
func (s *Server) renderError(c *gin.Context, err error) {
	status, message := response.StatusFor(err)
	cfg := s.runtime.Current().Config
	if cfg.DebugShowErrors {
		message = err.Error()
	} else if status >= http.StatusInternalServerError {
		message = "The payment service is temporarily unavailable."
	}
	c.HTML(status, "error.html", gin.H{
		"cashier": cfg.CashierName,
		"message": message,
	})
}

func formOrQuery(c *gin.Context, key string) string {
	if v := c.PostForm(key); v != "" {
		return v
	}
	return c.Query(key)
}
