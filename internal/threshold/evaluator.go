// Package threshold compares fresh readings against the device's live
// bounds and emits actuation intents plus notification events.
//
// Policy: low soil moisture or air humidity activates the paired pump;
// high temperature activates the pump; low temperature activates the
// light; high soil moisture or air humidity activates the light.
// Values equal to a bound are in-range: the bounds are inclusive of
// the safe range and never trigger at equality.
package threshold

import (
	"fmt"
	"strings"

	"smartfarm/internal/models"
)

// Quantity is a measured value class with its own threshold pair.
type Quantity string

const (
	QuantitySoilMoisture Quantity = "soil-moisture"
	QuantityTemperature  Quantity = "temperature"
	QuantityAirHumidity  Quantity = "air-humidity"
)

// Verdict classifies one reading against its bounds.
type Verdict int

const (
	InRange Verdict = iota
	BelowMin
	AboveMax
)

// Intent asks for an actuator of the given type, paired to the sensor
// by user configuration, to be activated.
type Intent struct {
	ActuatorType models.DeviceType
	Activate     bool
	Reason       string
}

// QuantityForFeed maps a sensor feed to its measured quantity. A
// temperature-humidity node carries two feeds; the humidity one is
// recognized by key. Actuator feeds carry commands, not measurements.
func QuantityForFeed(devType models.DeviceType, feedKey string) (Quantity, bool) {
	switch devType {
	case models.DeviceSoilMoisture:
		return QuantitySoilMoisture, true
	case models.DeviceTempHumidity:
		if strings.Contains(feedKey, "humid") {
			return QuantityAirHumidity, true
		}
		return QuantityTemperature, true
	}
	return "", false
}

// Classify compares a value against bounds. Equality with either bound
// counts as in-range.
func Classify(value float64, b models.Bounds) Verdict {
	switch {
	case value < float64(b.Min):
		return BelowMin
	case value > float64(b.Max):
		return AboveMax
	default:
		return InRange
	}
}

// Evaluate runs the policy for one reading. Returns the verdict and,
// when out of range, the actuation intent it implies.
func Evaluate(q Quantity, value float64, cfg *models.ThresholdConfig) (Verdict, *Intent) {
	if cfg == nil {
		return InRange, nil
	}

	bounds := boundsFor(q, cfg)
	verdict := Classify(value, bounds)
	if verdict == InRange {
		return InRange, nil
	}

	var target models.DeviceType
	switch q {
	case QuantitySoilMoisture, QuantityAirHumidity:
		if verdict == BelowMin {
			target = models.DevicePump
		} else {
			target = models.DeviceLight
		}
	case QuantityTemperature:
		if verdict == AboveMax {
			target = models.DevicePump
		} else {
			target = models.DeviceLight
		}
	default:
		return verdict, nil
	}

	return verdict, &Intent{
		ActuatorType: target,
		Activate:     true,
		Reason:       Message(q, value, verdict, bounds),
	}
}

// Message renders the user-facing notification text for a trigger.
func Message(q Quantity, value float64, verdict Verdict, b models.Bounds) string {
	if verdict == BelowMin {
		return fmt.Sprintf("%s %.1f below minimum %d", q, value, b.Min)
	}
	return fmt.Sprintf("%s %.1f above maximum %d", q, value, b.Max)
}

func boundsFor(q Quantity, cfg *models.ThresholdConfig) models.Bounds {
	switch q {
	case QuantityTemperature:
		return cfg.Temperature
	case QuantityAirHumidity:
		return cfg.AirHumidity
	default:
		return cfg.SoilMoisture
	}
}
