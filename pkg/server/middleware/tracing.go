package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/openmdoc/mdoc-service/config"
)

// Tracing starts a span per request on the global tracer provider.
func Tracing() gin.HandlerFunc {
	return otelgin.Middleware(config.ServiceName)
}
