package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"cloudpay-cashier/internal/domain"
	"cloudpay-cashier/internal/http/response"
	"cloudpay-cashier/internal/repo"
)

type orderDTO struct {
	OrderNo      string     `json:"order_no"`
	Name         string     `json:"name"`
	Amount       int64      `json:"amount"`
	Currency     string     `json:"currency"`
	Status       string     `json:"status"`
	PaymentType  string     `json:"payment_type,omitempty"`
	TradeNo      string     `json:"trade_no,omitempty"`
	NotifyStatus string     `json:"notify_status"`
	NotifyURL    string     `json:"notify_url"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toOrderDTO(o domain.Order) orderDTO {
	return orderDTO{
		OrderNo:      o.OrderNo,
		Name:         o.Name,
		Amount:       o.Amount,
		Currency:     o.Currency,
		Status:       string(o.Status),
		PaymentType:  o.PaymentType,
		TradeNo:      o.TradeNo,
		NotifyStatus: string(o.NotifyStatus),
		NotifyURL:    o.NotifyURL,
		PaidAt:       o.PaidAt,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

type attemptDTO struct {
	ID         string    `json:"id"`
	Attempt    int       `json:"attempt"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Server) handleAdminOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(repo.DefaultPageLimit)))

	result, err := s.admin.ListOrders(c.Request.Context(), repo.ListFilter{
		Page:   page,
		Limit:  limit,
		Status: domain.OrderStatus(c.Query("status")),
		Search: c.Query("search"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	orders := make([]orderDTO, 0, len(result.Orders))
	for _, o := range result.Orders {
		orders = append(orders, toOrderDTO(o))
	}
	response.OK(c, gin.H{
		"orders": orders,
		"total":  result.Total,
		"page":   result.Page,
		"limit":  result.Limit,
	})
}

func (s *Server) handleAdminStats(c *gin.Context) {
	stats, err := s.admin.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"total":       stats.Total,
		"pending":     stats.Pending,
		"processing":  stats.Processing,
		"paid":        stats.Paid,
		"paid_amount": stats.PaidAmount,
	})
}

func (s *Server) handleAdminCleanup(c *gin.Context) {
	n, err := s.admin.CleanupExpired(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"deleted": n})
}

func (s *Server) handleAdminNotifications(c *gin.Context) {
	attempts, err := s.admin.Notifications(c.Request.Context(), c.Query("order_no"))
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]attemptDTO, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, attemptDTO{
			ID:         a.ID.String(),
			Attempt:    a.Attempt,
			HTTPStatus: a.HTTPStatus,
			Outcome:    string(a.Outcome),
			Error:      a.Error,
			CreatedAt:  a.CreatedAt,
		})
	}
	response.OK(c, out)
}

func (s *Server) handleAdminConfig(c *gin.Context) {
	stored, err := s.admin.StoredConfig(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stored)
}

func (s *Server) handleAdminUpdateConfig(c *gin.Context) {
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.admin.UpdateConfig(c.Request.Context(), values); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"updated": len(values)})
}

func (s *Server) handleAdminReload(c *gin.Context) {
	if err := s.admin.ReloadConfig(c.Request.Context()); err != nil {
		s.logger.Error("configuration reload failed", "error", err.Error())
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"reloaded": true})
}
