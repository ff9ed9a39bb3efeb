package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cloudpay-cashier/internal/http/response"
	"cloudpay-cashier/internal/service"
)

const maxSignedBody = 1 << 20

// UpstreamSignature authenticates requests from the upstream platform. The
// raw body is read once for verification and restored for the handler.
func UpstreamSignature(runtime service.RuntimeSource, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSignedBody+1))
		if err != nil || len(body) > maxSignedBody {
			response.Fail(c, http.StatusBadRequest, "invalid request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		verifier := runtime.Current().Verifier
		if !verifier.Enabled() {
			c.Next()
			return
		}
		if err := verifier.Verify(c.Request, body); err != nil {
			logger.Warn("upstream signature rejected",
				"request_id", GetRequestID(c),
				"ip", c.ClientIP(),
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"order_no", c.Query("order_no"),
				"reason", err.Error(),
			)
			response.Fail(c, http.StatusUnauthorized, "signature verification failed")
			return
		}
		c.Next()
	}
}
