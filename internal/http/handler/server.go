// Package handler exposes the cashier over HTTP: the signed upstream API, the
// buyer-facing checkout pages, the gateway callbacks and the admin API.
package handler

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"cloudpay-cashier/internal/http/middleware"
	"cloudpay-cashier/internal/service"
)

//go:embed templates/*.html
var templateFS embed.FS

var methodLabels = map[string]string{
	"alipay": "Alipay",
	"wxpay":  "WeChat Pay",
	"qqpay":  "QQ Wallet",
	"bank":   "UnionPay",
}

type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

type Deps struct {
	Orders  service.OrderService
	Admin   service.AdminService
	Runtime service.RuntimeSource
	Health  HealthChecker
	Limiter middleware.Limiter
	Logger  *slog.Logger
}

type Server struct {
	orders  service.OrderService
	admin   service.AdminService
	runtime service.RuntimeSource
	health  HealthChecker
	logger  *slog.Logger
	router  *gin.Engine
}

func NewServer(d Deps) *Server {
	s := &Server{
		orders:  d.Orders,
		admin:   d.Admin,
		runtime: d.Runtime,
		health:  d.Health,
		logger:  d.Logger,
	}
	cfg := d.Runtime.Current().Config

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(d.Logger))
	router.SetHTMLTemplate(template.Must(template.New("").Funcs(template.FuncMap{
		"methodLabel": methodLabel,
	}).ParseFS(templateFS, "templates/*.html")))

	router.GET("/healthz", s.handleHealth)

	limiter := d.Limiter
	if limiter == nil {
		limiter = middleware.NewLocalLimiter()
	}
	api := router.Group("/api",
		cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader, "X-Cr-Site-Id", "X-Cr-Site-Url", "X-Cr-Version"},
			MaxAge:          12 * time.Hour,
		}),
		middleware.RateLimit(limiter, cfg.RateLimitPerHour, time.Hour, d.Logger),
		middleware.UpstreamSignature(d.Runtime, d.Logger),
	)
	{
		api.POST("", s.handleAPICreate)
		api.GET("", s.handleAPIQuery)
		api.OPTIONS("", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	}

	router.GET("/checkout", s.handleCheckout)
	router.GET("/pay", s.handlePay)
	router.POST("/pay", s.handlePay)
	router.GET("/notify", s.handleNotify)
	router.POST("/notify", s.handleNotify)
	router.GET("/return", s.handleReturn)

	admin := router.Group("/admin", middleware.AdminAuth(cfg.AdminUser, cfg.AdminPassword))
	{
		admin.GET("/orders", s.handleAdminOrders)
		admin.POST("/orders/cleanup", s.handleAdminCleanup)
		admin.GET("/stats", s.handleAdminStats)
		admin.GET("/notifications", s.handleAdminNotifications)
		admin.GET("/config", s.handleAdminConfig)
		admin.PUT("/config", s.handleAdminUpdateConfig)
		admin.POST("/config/reload", s.handleAdminReload)
	}

	s.router = router
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "up"})
		return
	}
	stats := s.health.Health(c.Request.Context())
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}

func methodLabel(method string) string {
	if label, ok := methodLabels[method]; ok {
		return label
	}
	return method
}
