package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cloudpay-cashier/internal/http/response"
)

// AdminAuth guards the admin API with HTTP basic auth. With no password set
// the admin API is disabled.
func AdminAuth(user, password string) gin.HandlerFunc {
	if password == "" {
		return func(c *gin.Context) {
			response.Fail(c, http.StatusForbidden, "admin API is disabled")
		}
	}
	return gin.BasicAuth(gin.Accounts{user: password})
}
