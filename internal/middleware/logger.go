package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"

	"courseguard/internal/pkg/logger"
)

// RequestLogger logs every request with structured fields and recovers
// from panics with a JSON 500 instead of a dropped connection.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if recovered := recover(); recovered != nil {
				log.Error("panic",
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"error", fmt.Sprintf("%v", recovered),
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error": gin.H{
						"code":    "INTERNAL_SERVER_ERROR",
						"message": "Internal Server Error",
					},
				})
				return
			}

			status := c.Writer.Status()
			fields := []any{
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"status", status,
				"client_ip", c.ClientIP(),
				"latency", time.Since(start).String(),
			}
			if uid := c.GetInt64("user_id"); uid != 0 {
				fields = append(fields, "user_id", uid)
			}
			switch {
			case status >= http.StatusInternalServerError:
				log.Error("request", fields...)
			case status >= http.StatusBadRequest:
				log.Warn("request", fields...)
			default:
				log.Info("request", fields...)
			}
		}()

		c.Next()
	}
}
