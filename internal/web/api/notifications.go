package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"smartfarm/internal/db"
)

func RegisterNotificationRoutes(r *gin.Engine, dbConn *db.DB) {
	r.GET("/notifications", func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit < 1 || limit > 500 {
			limit = 50
		}
		notifications, err := dbConn.Notifications(c, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch notifications"})
			return
		}
		c.JSON(http.StatusOK, notifications)
	})
}
