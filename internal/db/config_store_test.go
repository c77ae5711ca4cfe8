package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartfarm/internal/models"
)

func newMockDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewFromPool(mock, zap.NewNop()), mock
}

func TestSaveThresholdsRoundTrip(t *testing.T) {
	d, mock := newMockDB(t)
	ctx := context.Background()

	cfg := models.ThresholdConfig{
		DeviceID:     "dev-1",
		SoilMoisture: models.Bounds{Min: 20, Max: 80},
		Temperature:  models.Bounds{Min: 18, Max: 30},
		AirHumidity:  models.Bounds{Min: 40, Max: 80},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO thresholds").
		WithArgs("dev-1", 20, 80, 18, 30, 40, 80, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(1))
	mock.ExpectExec("INSERT INTO threshold_history").
		WithArgs(pgxmock.AnyArg(), "dev-1", 20, 80, 18, 30, 40, 80, 1, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, d.SaveThresholds(ctx, &cfg))
	assert.Equal(t, 1, cfg.Version)

	mock.ExpectQuery("SELECT (.+) FROM thresholds").
		WithArgs("dev-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"device_id", "soil_min", "soil_max", "temp_min", "temp_max",
			"humidity_min", "humidity_max", "version", "saved_at",
		}).AddRow("dev-1", 20, 80, 18, 30, 40, 80, 1, cfg.SavedAt))

	got, err := d.GetThresholds(ctx, "dev-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cfg.SoilMoisture, got.SoilMoisture)
	assert.Equal(t, cfg.Temperature, got.Temperature)
	assert.Equal(t, cfg.AirHumidity, got.AirHumidity)
	assert.Equal(t, 1, got.Version)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveThresholdsRollsBackOnHistoryFailure(t *testing.T) {
	d, mock := newMockDB(t)

	cfg := models.ThresholdConfig{
		DeviceID:     "dev-1",
		SoilMoisture: models.Bounds{Min: 20, Max: 80},
		Temperature:  models.Bounds{Min: 18, Max: 30},
		AirHumidity:  models.Bounds{Min: 40, Max: 80},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO thresholds").
		WithArgs("dev-1", 20, 80, 18, 30, 40, 80, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(2))
	mock.ExpectExec("INSERT INTO threshold_history").
		WithArgs(pgxmock.AnyArg(), "dev-1", 20, 80, 18, 30, 40, 80, 2, pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := d.SaveThresholds(context.Background(), &cfg)
	assert.ErrorIs(t, err, ErrConfigWriteFailed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetThresholdsUnset(t *testing.T) {
	d, mock := newMockDB(t)

	mock.ExpectQuery("SELECT (.+) FROM thresholds").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	got, err := d.GetThresholds(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestThresholdHistoryNewestFirst(t *testing.T) {
	d, mock := newMockDB(t)

	saved := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM threshold_history").
		WithArgs("dev-1", 10).
		WillReturnRows(pgxmock.NewRows([]string{
			"device_id", "soil_min", "soil_max", "temp_min", "temp_max",
			"humidity_min", "humidity_max", "version", "saved_at",
		}).
			AddRow("dev-1", 25, 75, 18, 30, 40, 80, 2, saved).
			AddRow("dev-1", 20, 80, 18, 30, 40, 80, 1, saved.Add(-time.Hour)))

	history, err := d.ThresholdHistory(context.Background(), "dev-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
	assert.Equal(t, models.Bounds{Min: 25, Max: 75}, history[0].SoilMoisture)
	assert.Equal(t, 1, history[1].Version)
}
