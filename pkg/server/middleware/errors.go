package middleware

import (
	"os"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/openmdoc/mdoc-service/pkg/server/framework"
)

// Errors handles errors coming out of the call stack. Handlers have already responded, so errors
// are only logged here. A shutdown error signals the server to stop.
func Errors(shutdown chan os.Signal) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		errors := c.Errors.ByType(gin.ErrorTypeAny)
		if len(errors) == 0 {
			return
		}
		for _, e := range errors {
			if framework.IsShutdown(e.Err) {
				logrus.WithError(e.Err).Error("unsafe error, shutting down")
				c.Set(framework.ShutdownErrorKey.String(), e.Err)
				if shutdown != nil {
					shutdown <- syscall.SIGTERM
				}
				return
			}
		}
		logrus.WithFields(logrus.Fields{
			"requestID": c.GetString(framework.RequestIDKey.String()),
			"path":      c.FullPath(),
		}).Warnf("request errors: %s", errors.String())
	}
}
