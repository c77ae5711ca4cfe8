package models

import (
	"fmt"
	"strings"
	"time"

	core "smartfarm/internal/models"
)

// CommandRequest is the device-command payload the dispatcher forwards
// to the transport.
type CommandRequest struct {
	Type   string `json:"type" binding:"required,oneof=pumpWater light"`
	Status string `json:"status" binding:"required,oneof=On Off"`
	Speed  *int   `json:"speed" binding:"omitempty,min=0,max=100"`
}

// Value resolves the scalar published to the device's feed.
func (r CommandRequest) Value() float64 {
	if r.Status == "Off" {
		return 0
	}
	if r.Type == "light" {
		return 1
	}
	if r.Speed != nil {
		return float64(*r.Speed)
	}
	return 100
}

// AddDeviceRequest creates a device with its feeds.
type AddDeviceRequest struct {
	Code     string   `json:"code" binding:"required"`
	Name     string   `json:"name" binding:"required"`
	Type     string   `json:"type" binding:"required"`
	FeedKeys []string `json:"feed_keys" binding:"required,min=1"`
}

// AutoModeRequest flips automatic control.
type AutoModeRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// LinkRequest pairs a sensor with an actuator for threshold control.
type LinkRequest struct {
	ActuatorID string `json:"actuator_id" binding:"required"`
}

// ThresholdRequest replaces all three bounds at once.
type ThresholdRequest struct {
	SoilMoisture core.Bounds `json:"soilMoisture"`
	Temperature  core.Bounds `json:"temperature"`
	AirHumidity  core.Bounds `json:"airHumidity"`
}

// Validate checks every pair sits in 0-100 with min not above max.
func (r ThresholdRequest) Validate() error {
	for name, b := range map[string]core.Bounds{
		"soilMoisture": r.SoilMoisture,
		"temperature":  r.Temperature,
		"airHumidity":  r.AirHumidity,
	} {
		if b.Min < 0 || b.Max > 100 || b.Min > b.Max {
			return fmt.Errorf("%s bounds {%d, %d} invalid", name, b.Min, b.Max)
		}
	}
	return nil
}

// AddScheduleRequest creates a schedule rule.
type AddScheduleRequest struct {
	ScheduleType string   `json:"scheduleType" binding:"required,oneof=watering lighting"`
	Enabled      bool     `json:"enabled"`
	StartTime    string   `json:"startTime"`
	Duration     int      `json:"duration"`
	Speed        int      `json:"speed"`
	OnTime       string   `json:"onTime"`
	OffTime      string   `json:"offTime"`
	Days         []string `json:"days"`
}

// UpdateScheduleRequest patches a rule; nil fields keep their value.
type UpdateScheduleRequest struct {
	Enabled   *bool     `json:"enabled"`
	StartTime *string   `json:"startTime"`
	Duration  *int      `json:"duration"`
	Speed     *int      `json:"speed"`
	OnTime    *string   `json:"onTime"`
	OffTime   *string   `json:"offTime"`
	Days      *[]string `json:"days"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseDays converts weekday names to the persisted bitmask.
func ParseDays(names []string) (core.DaySet, error) {
	var set core.DaySet
	for _, name := range names {
		w, ok := weekdays[strings.ToLower(name)]
		if !ok {
			return 0, fmt.Errorf("unknown weekday %q", name)
		}
		set = set.Add(w)
	}
	return set, nil
}

// ValidateClock checks "HH:MM".
func ValidateClock(s string) error {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return fmt.Errorf("time %q is not HH:MM", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return fmt.Errorf("time %q out of range", s)
	}
	return nil
}

// ValidateRule enforces the type-specific shape invariants.
func ValidateRule(r *core.ScheduleRule) error {
	if r.Enabled && r.Days == 0 {
		return fmt.Errorf("enabled rule needs at least one weekday")
	}
	switch r.Type {
	case core.ScheduleWatering:
		if err := ValidateClock(r.StartTime); err != nil {
			return err
		}
		if r.DurationMin < 1 || r.DurationMin > 60 {
			return fmt.Errorf("duration %d outside 1-60 minutes", r.DurationMin)
		}
		if r.Speed < 0 || r.Speed > 100 {
			return fmt.Errorf("speed %d outside 0-100", r.Speed)
		}
	case core.ScheduleLighting:
		if err := ValidateClock(r.OnTime); err != nil {
			return err
		}
		if err := ValidateClock(r.OffTime); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown schedule type %q", r.Type)
	}
	return nil
}
