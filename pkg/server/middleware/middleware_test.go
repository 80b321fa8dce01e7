package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmdoc/mdoc-service/pkg/server/framework"
)

func newTestEngine(shutdown chan os.Signal, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(Errors(shutdown), Logger(logrus.StandardLogger()), Metrics())
	engine.GET("/test", handler)
	return engine
}

func TestLogger(t *testing.T) {
	engine := newTestEngine(nil, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"requestID": c.GetString(framework.RequestIDKey.String())})
	})

	t.Run("generates a request id", func(tt *testing.T) {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(tt, http.StatusOK, w.Code)
		assert.NotEmpty(tt, w.Header().Get(RequestIDHeader))
		assert.Contains(tt, w.Body.String(), w.Header().Get(RequestIDHeader))
	})

	t.Run("keeps a client request id", func(tt *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, "wallet-request-1")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		assert.Equal(tt, "wallet-request-1", w.Header().Get(RequestIDHeader))
	})
}

func TestErrors(t *testing.T) {
	t.Run("plain errors are only logged", func(tt *testing.T) {
		shutdown := make(chan os.Signal, 1)
		engine := newTestEngine(shutdown, func(c *gin.Context) {
			_ = c.Error(errors.New("boom"))
			c.Status(http.StatusBadRequest)
		})
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(tt, http.StatusBadRequest, w.Code)
		assert.Empty(tt, shutdown)
	})

	t.Run("shutdown errors signal the server", func(tt *testing.T) {
		shutdown := make(chan os.Signal, 1)
		engine := newTestEngine(shutdown, func(c *gin.Context) {
			_ = c.Error(errors.Wrap(framework.NewShutdownError("storage integrity lost"), "issuing"))
			c.Status(http.StatusInternalServerError)
		})
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		require.Len(tt, shutdown, 1)
		assert.Equal(tt, syscall.SIGTERM, <-shutdown)
	})
}

func TestMetrics(t *testing.T) {
	engine := newTestEngine(nil, func(c *gin.Context) {
		c.Status(http.StatusTeapot)
	})
	before := m.req.Value()
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, before+1, m.req.Value())
	assert.NotNil(t, m.status.Get("418"))
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(CORS())
	engine.POST("/credential", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/credential", nil)
	req.Header.Set("Origin", "https://wallet.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
