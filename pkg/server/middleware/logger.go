package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openmdoc/mdoc-service/internal/util"
	"github.com/openmdoc/mdoc-service/pkg/server/framework"
)

const RequestIDHeader = "X-Request-ID"

// Logger tags every request with a request id and logs it on completion:
//
//	requestID : (StatusCode) HTTPMethod Path -> IPAddr (latency)
func Logger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := util.SanitizeLog(c.GetHeader(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(framework.RequestIDKey.String(), requestID)
		c.Header(RequestIDHeader, requestID)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"requestID": requestID,
			"method":    c.Request.Method,
			"path":      util.SanitizeLog(c.Request.URL.Path),
			"status":    status,
			"latency":   time.Since(start).String(),
			"clientIP":  c.ClientIP(),
		})
		switch {
		case status >= 500:
			entry.Error("request completed")
		case status >= 400:
			entry.Warn("request completed")
		default:
			entry.Info("request completed")
		}
	}
}
