package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"smartfarm/internal/db"
	"smartfarm/internal/models"
	webModels "smartfarm/internal/web/models"
)

// scheduleView renders the weekday bitmask as names, matching the
// shape the create/update requests accept.
type scheduleView struct {
	models.ScheduleRule
	Days []string `json:"days"`
}

func newScheduleView(r models.ScheduleRule) scheduleView {
	names := make([]string, 0, 7)
	for _, w := range r.Days.Weekdays() {
		names = append(names, strings.ToLower(w.String()))
	}
	return scheduleView{ScheduleRule: r, Days: names}
}

func RegisterScheduleRoutes(r *gin.Engine, dbConn *db.DB, engine EngineController) {
	r.GET("/devices/:id/schedules", func(c *gin.Context) {
		rules, err := dbConn.SchedulesForDevice(c, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch schedules"})
			return
		}
		out := make([]scheduleView, 0, len(rules))
		for _, rule := range rules {
			out = append(out, newScheduleView(rule))
		}
		c.JSON(http.StatusOK, out)
	})

	r.POST("/devices/:id/schedules", func(c *gin.Context) {
		var req webModels.AddScheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		days, err := webModels.ParseDays(req.Days)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rule := models.ScheduleRule{
			DeviceID:    c.Param("id"),
			Type:        models.ScheduleType(req.ScheduleType),
			Enabled:     req.Enabled,
			StartTime:   req.StartTime,
			DurationMin: req.Duration,
			Speed:       req.Speed,
			OnTime:      req.OnTime,
			OffTime:     req.OffTime,
			Days:        days,
		}
		if err := webModels.ValidateRule(&rule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := dbConn.CreateScheduleRule(c, &rule); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create schedule"})
			return
		}
		engine.Invalidate(rule.DeviceID)
		c.JSON(http.StatusCreated, newScheduleView(rule))
	})

	r.PATCH("/schedules/:id", func(c *gin.Context) {
		var req webModels.UpdateScheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rule, err := dbConn.ScheduleRuleByID(c, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		if req.Enabled != nil {
			rule.Enabled = *req.Enabled
		}
		if req.StartTime != nil {
			rule.StartTime = *req.StartTime
		}
		if req.Duration != nil {
			rule.DurationMin = *req.Duration
		}
		if req.Speed != nil {
			rule.Speed = *req.Speed
		}
		if req.OnTime != nil {
			rule.OnTime = *req.OnTime
		}
		if req.OffTime != nil {
			rule.OffTime = *req.OffTime
		}
		if req.Days != nil {
			days, err := webModels.ParseDays(*req.Days)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			rule.Days = days
		}
		if err := webModels.ValidateRule(rule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := dbConn.UpdateScheduleRule(c, rule); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update schedule"})
			return
		}
		// disabling mid-window must cancel the window now, not at its
		// natural end
		engine.Invalidate(rule.DeviceID)
		c.JSON(http.StatusOK, newScheduleView(*rule))
	})

	r.DELETE("/schedules/:id", func(c *gin.Context) {
		rule, err := dbConn.ScheduleRuleByID(c, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		if err := dbConn.DeleteScheduleRule(c, rule.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete schedule"})
			return
		}
		engine.Invalidate(rule.DeviceID)
		c.JSON(http.StatusOK, gin.H{"status": "schedule deleted"})
	})
}
