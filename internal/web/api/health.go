package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Transport reports broker connectivity for the health probe.
type Transport interface {
	IsConnected() bool
}

func RegisterHealthRoutes(r *gin.Engine, transport Transport) {
	r.GET("/health", func(c *gin.Context) {
		connected := transport.IsConnected()
		status := http.StatusOK
		if !connected {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"mqtt_connected": connected})
	})
}
