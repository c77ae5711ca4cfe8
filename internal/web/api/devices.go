package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"smartfarm/internal/db"
	"smartfarm/internal/dispatch"
	"smartfarm/internal/models"
	"smartfarm/internal/reconcile"
	"smartfarm/internal/schedule"
	webModels "smartfarm/internal/web/models"
)

// EngineController is what the routes need from the schedule engine.
type EngineController interface {
	ManualCommand(ctx context.Context, deviceID string, value float64) error
	Invalidate(deviceID string)
	RegisterDevice(dev models.Device)
	RemoveDevice(deviceID string)
	State(deviceID string) (models.ModeState, bool)
}

// StatusProvider reads the reconciler's view of a device.
type StatusProvider interface {
	Status(deviceID string) reconcile.DeviceStatus
}

type deviceView struct {
	models.Device
	Status reconcile.DeviceStatus `json:"status"`
	State  models.ModeState       `json:"engine_state,omitempty"`
}

func RegisterDeviceRoutes(r *gin.Engine, dbConn *db.DB, engine EngineController, status StatusProvider) {
	devices := r.Group("/devices")
	{
		devices.GET("", func(c *gin.Context) {
			all, err := dbConn.Devices(c)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch devices"})
				return
			}
			out := make([]deviceView, 0, len(all))
			for _, dev := range all {
				view := deviceView{Device: dev, Status: status.Status(dev.ID)}
				if state, ok := engine.State(dev.ID); ok {
					view.State = state
				}
				out = append(out, view)
			}
			c.JSON(http.StatusOK, out)
		})

		devices.GET("/:id", func(c *gin.Context) {
			dev, err := dbConn.DeviceByID(c, c.Param("id"))
			if errors.Is(err, pgx.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
				return
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch device"})
				return
			}
			view := deviceView{Device: *dev, Status: status.Status(dev.ID)}
			if state, ok := engine.State(dev.ID); ok {
				view.State = state
			}
			c.JSON(http.StatusOK, view)
		})

		devices.POST("", func(c *gin.Context) {
			var req webModels.AddDeviceRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			dev := models.Device{
				Code: req.Code,
				Name: req.Name,
				Type: models.DeviceType(req.Type),
			}
			switch dev.Type {
			case models.DeviceTempHumidity, models.DeviceSoilMoisture, models.DevicePump, models.DeviceLight:
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown device type"})
				return
			}
			if err := dbConn.InsertDevice(c, &dev, req.FeedKeys); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create device"})
				return
			}
			engine.RegisterDevice(dev)
			c.JSON(http.StatusCreated, dev)
		})

		devices.DELETE("/:id", func(c *gin.Context) {
			id := c.Param("id")
			engine.RemoveDevice(id)
			if err := dbConn.DeleteDevice(c, id); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete device"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "device deleted"})
		})

		devices.PUT("/:id/auto", func(c *gin.Context) {
			var req webModels.AutoModeRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			id := c.Param("id")
			if err := dbConn.SetAutoMode(c, id, *req.Enabled); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update auto mode"})
				return
			}
			// transitions MANUAL <-> AUTO on the next actor message
			engine.Invalidate(id)
			c.JSON(http.StatusOK, gin.H{"auto_mode": *req.Enabled})
		})

		devices.POST("/:id/command", func(c *gin.Context) {
			var req webModels.CommandRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			err := engine.ManualCommand(c, c.Param("id"), req.Value())
			switch {
			case errors.Is(err, schedule.ErrScheduleConflict):
				c.JSON(http.StatusConflict, gin.H{"error": "automatic mode controls this device, disable it first"})
			case errors.Is(err, dispatch.ErrDeviceBusy):
				c.JSON(http.StatusConflict, gin.H{"error": "a command is already in flight for this device"})
			case errors.Is(err, dispatch.ErrDispatchFailed):
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			case errors.Is(err, schedule.ErrUnknownDevice):
				c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			case err != nil:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusAccepted, gin.H{"status": "command dispatched"})
			}
		})

		devices.POST("/:id/link", func(c *gin.Context) {
			var req webModels.LinkRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if err := dbConn.LinkActuator(c, c.Param("id"), req.ActuatorID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to link actuator"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "linked"})
		})
	}
}
