// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"obd-service/internal/utils"
)

// LoggingMiddleware logs every served request with its request id.
// Requests to quietPaths (health checks polled by orchestrators) go to debug.
// A websocket stream is logged once its handler returns after the upgrade.
func LoggingMiddleware(logger *utils.ServiceLogger, quietPaths ...string) gin.HandlerFunc {
	quiet := make(map[string]bool, len(quietPaths))
	for _, path := range quietPaths {
		quiet[path] = true
	}

	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		duration := time.Since(startTime)

		requestLogger := logger
		if requestID := c.GetString(utils.RequestIDKey); requestID != "" {
			requestLogger = &utils.ServiceLogger{Logger: utils.LoggerWithRequestID(logger.Logger, requestID)}
		}

		path := c.Request.URL.Path
		if quiet[path] && c.Writer.Status() < 400 {
			requestLogger.Debug("Health check served",
				zap.String("path", path),
				zap.Int("status_code", c.Writer.Status()),
				zap.Duration("duration", duration),
			)
			return
		}

		requestLogger.LogAPIRequest(
			c.Request.Method,
			path,
			c.Request.UserAgent(),
			c.ClientIP(),
			c.Writer.Status(),
			duration,
		)
	}
}
