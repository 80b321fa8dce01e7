package framework

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmdoc/mdoc-service/config"
)

type testRequest struct {
	Credential string `json:"credential" validate:"required"`
}

func TestDecode(t *testing.T) {
	t.Run("valid body", func(tt *testing.T) {
		var request testRequest
		err := Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"credential":"abc"}`)), &request)
		require.NoError(tt, err)
		assert.Equal(tt, "abc", request.Credential)
	})

	t.Run("malformed json", func(tt *testing.T) {
		var request testRequest
		err := Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`)), &request)
		var safeErr *SafeError
		require.ErrorAs(tt, err, &safeErr)
		assert.Equal(tt, http.StatusBadRequest, safeErr.StatusCode)
	})

	t.Run("missing field uses the json name", func(tt *testing.T) {
		var request testRequest
		err := Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)), &request)
		var safeErr *SafeError
		require.ErrorAs(tt, err, &safeErr)
		require.Len(tt, safeErr.Fields, 1)
		assert.Equal(tt, "credential", safeErr.Fields[0].Field)
		assert.Contains(tt, safeErr.Fields[0].Error, "required")
	})
}

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("safe errors keep their message", func(tt *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		RespondError(c, NewRequestError(errors.New("bad input"), http.StatusBadRequest))
		assert.Equal(tt, http.StatusBadRequest, w.Code)
		assert.Contains(tt, w.Body.String(), "bad input")
		assert.Len(tt, c.Errors, 1)
	})

	t.Run("other errors are hidden", func(tt *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		RespondError(c, errors.New("database password is hunter2"))
		assert.Equal(tt, http.StatusInternalServerError, w.Code)
		assert.NotContains(tt, w.Body.String(), "hunter2")
	})
}

func TestShutdown(t *testing.T) {
	assert.True(t, IsShutdown(errors.Wrap(NewShutdownError("integrity"), "wrapped")))
	assert.False(t, IsShutdown(errors.New("plain")))

	shutdown := make(chan os.Signal, 1)
	server := NewHTTPServer(config.ServerConfig{APIHost: "localhost:0"}, gin.New(), shutdown)
	assert.NotNil(t, server.Router())
	server.SignalShutdown()
	assert.Equal(t, syscall.SIGTERM, <-shutdown)
}
