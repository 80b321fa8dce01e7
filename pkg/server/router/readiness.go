package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmdoc/mdoc-service/pkg/server/framework"
	svcframework "github.com/openmdoc/mdoc-service/pkg/service/framework"
)

type GetReadinessResponse struct {
	Status          svcframework.Status                       `json:"status"`
	ServiceStatuses map[svcframework.Type]svcframework.Status `json:"serviceStatuses"`
}

// Readiness runs a number of application specific checks to see if all the
// relied upon service are healthy. Responds with a 503 if not ready.
func Readiness(services []svcframework.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		numServices := len(services)
		readyServices := 0
		statuses := make(map[svcframework.Type]svcframework.Status, numServices)
		for _, s := range services {
			status := s.Status()
			statuses[s.Type()] = status
			if status.IsReady() {
				readyServices++
			}
		}

		response := GetReadinessResponse{
			Status: svcframework.Status{
				Status:  svcframework.StatusReady,
				Message: "all service ready",
			},
			ServiceStatuses: statuses,
		}
		statusCode := http.StatusOK
		if readyServices < numServices {
			response.Status = svcframework.Status{
				Status:  svcframework.StatusNotReady,
				Message: fmt.Sprintf("out of [%d] service, [%d] are ready", numServices, readyServices),
			}
			statusCode = http.StatusServiceUnavailable
		}
		framework.Respond(c, response, statusCode)
	}
}
