package middleware

import (
	"expvar"
	"runtime"
	"strconv"

	"github.com/gin-gonic/gin"
)

// m contains global program counters
var m = struct {
	gr     *expvar.Int
	req    *expvar.Int
	err    *expvar.Int
	status *expvar.Map
}{
	gr:     expvar.NewInt("goroutines"),
	req:    expvar.NewInt("requests"),
	err:    expvar.NewInt("errors"),
	status: expvar.NewMap("responses_by_status"),
}

// Metrics publishes request counters through expvar.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// increment request counter
		m.req.Add(1)

		// update the counter for the # of active goroutines every 100 requests.
		// we may want to make the sampling rate a configurable value.
		if m.req.Value()%100 == 0 {
			m.gr.Set(int64(runtime.NumGoroutine()))
		}

		m.status.Add(strconv.Itoa(c.Writer.Status()), 1)

		// if an error occurred, increment the errors counter
		if len(c.Errors) > 0 || c.Writer.Status() >= 500 {
			m.err.Add(1)
		}
	}
}
