package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"smartfarm/internal/db"
	"smartfarm/internal/models"
	webModels "smartfarm/internal/web/models"
)

func RegisterThresholdRoutes(r *gin.Engine, dbConn *db.DB, engine EngineController) {
	thresholds := r.Group("/devices/:id/thresholds")
	{
		thresholds.GET("", func(c *gin.Context) {
			cfg, err := dbConn.GetThresholds(c, c.Param("id"))
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch thresholds"})
				return
			}
			if cfg == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "no thresholds configured"})
				return
			}
			c.JSON(http.StatusOK, cfg)
		})

		thresholds.PUT("", func(c *gin.Context) {
			var req webModels.ThresholdRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if err := req.Validate(); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			cfg := models.ThresholdConfig{
				DeviceID:     c.Param("id"),
				SoilMoisture: req.SoilMoisture,
				Temperature:  req.Temperature,
				AirHumidity:  req.AirHumidity,
			}
			if err := dbConn.SaveThresholds(c, &cfg); err != nil {
				if errors.Is(err, db.ErrConfigWriteFailed) {
					c.JSON(http.StatusConflict, gin.H{"error": "threshold save rolled back"})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save thresholds"})
				return
			}
			engine.Invalidate(cfg.DeviceID)
			c.JSON(http.StatusOK, cfg)
		})

		thresholds.GET("/history", func(c *gin.Context) {
			limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
			history, err := dbConn.ThresholdHistory(c, c.Param("id"), limit)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch history"})
				return
			}
			c.JSON(http.StatusOK, history)
		})
	}
}
