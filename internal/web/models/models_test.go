package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "smartfarm/internal/models"
)

func intPtr(v int) *int { return &v }

func TestCommandRequestValue(t *testing.T) {
	assert.Equal(t, 0.0, CommandRequest{Type: "pumpWater", Status: "Off", Speed: intPtr(80)}.Value())
	assert.Equal(t, 80.0, CommandRequest{Type: "pumpWater", Status: "On", Speed: intPtr(80)}.Value())
	assert.Equal(t, 100.0, CommandRequest{Type: "pumpWater", Status: "On"}.Value())
	assert.Equal(t, 1.0, CommandRequest{Type: "light", Status: "On"}.Value())
}

func TestThresholdRequestValidate(t *testing.T) {
	ok := ThresholdRequest{
		SoilMoisture: core.Bounds{Min: 30, Max: 70},
		Temperature:  core.Bounds{Min: 18, Max: 30},
		AirHumidity:  core.Bounds{Min: 40, Max: 80},
	}
	assert.NoError(t, ok.Validate())

	inverted := ok
	inverted.Temperature = core.Bounds{Min: 50, Max: 20}
	assert.Error(t, inverted.Validate())

	outOfScale := ok
	outOfScale.SoilMoisture = core.Bounds{Min: -5, Max: 70}
	assert.Error(t, outOfScale.Validate())
}

func TestParseDays(t *testing.T) {
	set, err := ParseDays([]string{"Monday", "friday"})
	require.NoError(t, err)
	assert.True(t, set.Has(time.Monday))
	assert.True(t, set.Has(time.Friday))
	assert.False(t, set.Has(time.Sunday))
	assert.Equal(t, []time.Weekday{time.Monday, time.Friday}, set.Weekdays())

	_, err = ParseDays([]string{"someday"})
	assert.Error(t, err)
}

func TestValidateRule(t *testing.T) {
	watering := &core.ScheduleRule{
		Type:        core.ScheduleWatering,
		Enabled:     true,
		StartTime:   "07:00",
		DurationMin: 15,
		Speed:       50,
		Days:        core.DaySet(0).Add(time.Monday),
	}
	assert.NoError(t, ValidateRule(watering))

	noDays := *watering
	noDays.Days = 0
	assert.Error(t, ValidateRule(&noDays))

	longRun := *watering
	longRun.DurationMin = 90
	assert.Error(t, ValidateRule(&longRun))

	badClock := *watering
	badClock.StartTime = "25:00"
	assert.Error(t, ValidateRule(&badClock))

	lighting := &core.ScheduleRule{
		Type:    core.ScheduleLighting,
		Enabled: true,
		OnTime:  "18:00",
		OffTime: "23:00",
		Days:    core.DaySet(0).Add(time.Saturday),
	}
	assert.NoError(t, ValidateRule(lighting))

	lighting.OffTime = "midnight"
	assert.Error(t, ValidateRule(lighting))
}
