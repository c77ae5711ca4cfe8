package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"smartfarm/internal/db"
)

func RegisterReadingRoutes(r *gin.Engine, dbConn *db.DB) {
	r.GET("/devices/:id/readings", func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
		if err != nil || limit < 1 || limit > 1000 {
			limit = 100
		}
		readings, err := dbConn.ReadingsForDevice(c, c.Param("id"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch readings"})
			return
		}
		c.JSON(http.StatusOK, readings)
	})

	r.GET("/devices/:id/commands", func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit < 1 || limit > 1000 {
			limit = 50
		}
		commands, err := dbConn.CommandsForDevice(c, c.Param("id"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch commands"})
			return
		}
		c.JSON(http.StatusOK, commands)
	})
}
