package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakeTransport struct {
	connected bool
}

func (f fakeTransport) IsConnected() bool { return f.connected }

func TestHealthRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)

	serve := func(connected bool) *httptest.ResponseRecorder {
		r := gin.New()
		RegisterHealthRoutes(r, fakeTransport{connected: connected})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		return w
	}

	w := serve(true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mqtt_connected":true`)

	w = serve(false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
