package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartfarm/internal/models"
)

func testConfig() *models.ThresholdConfig {
	return &models.ThresholdConfig{
		DeviceID:     "dev-1",
		SoilMoisture: models.Bounds{Min: 30, Max: 70},
		Temperature:  models.Bounds{Min: 18, Max: 30},
		AirHumidity:  models.Bounds{Min: 40, Max: 80},
	}
}

func TestClassifyBoundsAreInclusive(t *testing.T) {
	b := models.Bounds{Min: 30, Max: 70}

	assert.Equal(t, InRange, Classify(30, b))
	assert.Equal(t, InRange, Classify(70, b))
	assert.Equal(t, InRange, Classify(50, b))
	assert.Equal(t, BelowMin, Classify(29.9, b))
	assert.Equal(t, AboveMax, Classify(70.1, b))
}

func TestEvaluatePolicy(t *testing.T) {
	cases := []struct {
		name    string
		q       Quantity
		value   float64
		verdict Verdict
		target  models.DeviceType
	}{
		{"dry soil waters", QuantitySoilMoisture, 10, BelowMin, models.DevicePump},
		{"soaked soil lights", QuantitySoilMoisture, 90, AboveMax, models.DeviceLight},
		{"hot air waters", QuantityTemperature, 35, AboveMax, models.DevicePump},
		{"cold air lights", QuantityTemperature, 5, BelowMin, models.DeviceLight},
		{"dry air waters", QuantityAirHumidity, 20, BelowMin, models.DevicePump},
		{"damp air lights", QuantityAirHumidity, 95, AboveMax, models.DeviceLight},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict, intent := Evaluate(tc.q, tc.value, testConfig())
			assert.Equal(t, tc.verdict, verdict)
			require.NotNil(t, intent)
			assert.Equal(t, tc.target, intent.ActuatorType)
			assert.True(t, intent.Activate)
			assert.NotEmpty(t, intent.Reason)
		})
	}
}

func TestEvaluateInRangeProducesNoIntent(t *testing.T) {
	verdict, intent := Evaluate(QuantitySoilMoisture, 50, testConfig())
	assert.Equal(t, InRange, verdict)
	assert.Nil(t, intent)

	// equality with a bound does not trigger
	verdict, intent = Evaluate(QuantityTemperature, 30, testConfig())
	assert.Equal(t, InRange, verdict)
	assert.Nil(t, intent)
}

func TestEvaluateWithoutConfig(t *testing.T) {
	verdict, intent := Evaluate(QuantitySoilMoisture, 0, nil)
	assert.Equal(t, InRange, verdict)
	assert.Nil(t, intent)
}

func TestQuantityForFeed(t *testing.T) {
	q, ok := QuantityForFeed(models.DeviceSoilMoisture, "garden.soil")
	require.True(t, ok)
	assert.Equal(t, QuantitySoilMoisture, q)

	q, ok = QuantityForFeed(models.DeviceTempHumidity, "garden.humidity")
	require.True(t, ok)
	assert.Equal(t, QuantityAirHumidity, q)

	q, ok = QuantityForFeed(models.DeviceTempHumidity, "garden.temperature")
	require.True(t, ok)
	assert.Equal(t, QuantityTemperature, q)

	_, ok = QuantityForFeed(models.DevicePump, "garden.pump")
	assert.False(t, ok)
}
