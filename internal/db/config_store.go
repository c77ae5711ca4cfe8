package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"smartfarm/internal/models"
)

// ErrConfigWriteFailed is returned when a configuration save did not
// commit; the previous configuration stays live.
var ErrConfigWriteFailed = errors.New("configuration write failed")

// SaveThresholds replaces all three bounds for a device in one
// transaction and snapshots the new version to the audit history.
// Partial saves are impossible: either every quantity updates or none.
func (d *DB) SaveThresholds(ctx context.Context, cfg *models.ThresholdConfig) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWriteFailed, err)
	}
	defer tx.Rollback(ctx)

	cfg.SavedAt = time.Now()
	err = tx.QueryRow(ctx,
		`INSERT INTO thresholds (device_id, soil_min, soil_max, temp_min, temp_max, humidity_min, humidity_max, version, saved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8)
		 ON CONFLICT (device_id) DO UPDATE SET
		   soil_min = $2, soil_max = $3, temp_min = $4, temp_max = $5,
		   humidity_min = $6, humidity_max = $7,
		   version = thresholds.version + 1, saved_at = $8
		 RETURNING version`,
		cfg.DeviceID,
		cfg.SoilMoisture.Min, cfg.SoilMoisture.Max,
		cfg.Temperature.Min, cfg.Temperature.Max,
		cfg.AirHumidity.Min, cfg.AirHumidity.Max,
		cfg.SavedAt).Scan(&cfg.Version)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWriteFailed, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO threshold_history (id, device_id, soil_min, soil_max, temp_min, temp_max, humidity_min, humidity_max, version, saved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.NewString(), cfg.DeviceID,
		cfg.SoilMoisture.Min, cfg.SoilMoisture.Max,
		cfg.Temperature.Min, cfg.Temperature.Max,
		cfg.AirHumidity.Min, cfg.AirHumidity.Max,
		cfg.Version, cfg.SavedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWriteFailed, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWriteFailed, err)
	}
	return nil
}

// GetThresholds fetches the live threshold configuration for a device,
// or (nil, nil) when none was saved yet. Always reads committed state;
// this data gates physical actuation, so there is deliberately no
// cache in front of it.
func (d *DB) GetThresholds(ctx context.Context, deviceID string) (*models.ThresholdConfig, error) {
	var cfg models.ThresholdConfig
	err := d.pool.QueryRow(ctx,
		`SELECT device_id, soil_min, soil_max, temp_min, temp_max, humidity_min, humidity_max, version, saved_at
		 FROM thresholds WHERE device_id = $1`, deviceID).
		Scan(&cfg.DeviceID,
			&cfg.SoilMoisture.Min, &cfg.SoilMoisture.Max,
			&cfg.Temperature.Min, &cfg.Temperature.Max,
			&cfg.AirHumidity.Min, &cfg.AirHumidity.Max,
			&cfg.Version, &cfg.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ThresholdHistory fetches audit snapshots, newest first
func (d *DB) ThresholdHistory(ctx context.Context, deviceID string, limit int) ([]models.ThresholdConfig, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT device_id, soil_min, soil_max, temp_min, temp_max, humidity_min, humidity_max, version, saved_at
		 FROM threshold_history WHERE device_id = $1 ORDER BY version DESC LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ThresholdConfig
	for rows.Next() {
		var cfg models.ThresholdConfig
		if err := rows.Scan(&cfg.DeviceID,
			&cfg.SoilMoisture.Min, &cfg.SoilMoisture.Max,
			&cfg.Temperature.Min, &cfg.Temperature.Max,
			&cfg.AirHumidity.Min, &cfg.AirHumidity.Max,
			&cfg.Version, &cfg.SavedAt); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

const scheduleColumns = "id, device_id, type, enabled, start_time, duration_min, speed, on_time, off_time, days, created_at"

func scanScheduleRule(scan func(dest ...any) error) (*models.ScheduleRule, error) {
	var r models.ScheduleRule
	var days int16
	err := scan(&r.ID, &r.DeviceID, &r.Type, &r.Enabled,
		&r.StartTime, &r.DurationMin, &r.Speed, &r.OnTime, &r.OffTime, &days, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Days = models.DaySet(days)
	return &r, nil
}

// CreateScheduleRule inserts a rule and returns it with ID assigned
func (d *DB) CreateScheduleRule(ctx context.Context, r *models.ScheduleRule) error {
	r.ID = uuid.NewString()
	r.CreatedAt = time.Now()
	_, err := d.pool.Exec(ctx,
		`INSERT INTO schedule_rules (`+scheduleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.DeviceID, r.Type, r.Enabled,
		r.StartTime, r.DurationMin, r.Speed, r.OnTime, r.OffTime, int16(r.Days), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWriteFailed, err)
	}
	return nil
}

// UpdateScheduleRule replaces a rule's mutable fields
func (d *DB) UpdateScheduleRule(ctx context.Context, r *models.ScheduleRule) error {
	_, err := d.pool.Exec(ctx,
		`UPDATE schedule_rules SET enabled = $1, start_time = $2, duration_min = $3,
		 speed = $4, on_time = $5, off_time = $6, days = $7 WHERE id = $8`,
		r.Enabled, r.StartTime, r.DurationMin, r.Speed, r.OnTime, r.OffTime, int16(r.Days), r.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWriteFailed, err)
	}
	return nil
}

// DeleteScheduleRule removes a rule
func (d *DB) DeleteScheduleRule(ctx context.Context, id string) error {
	_, err := d.pool.Exec(ctx, "DELETE FROM schedule_rules WHERE id = $1", id)
	return err
}

// ScheduleRuleByID fetches one rule
func (d *DB) ScheduleRuleByID(ctx context.Context, id string) (*models.ScheduleRule, error) {
	row := d.pool.QueryRow(ctx, "SELECT "+scheduleColumns+" FROM schedule_rules WHERE id = $1", id)
	return scanScheduleRule(row.Scan)
}

// SchedulesForDevice fetches all rules stored for a device
func (d *DB) SchedulesForDevice(ctx context.Context, deviceID string) ([]models.ScheduleRule, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT "+scheduleColumns+" FROM schedule_rules WHERE device_id = $1 ORDER BY created_at DESC", deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.ScheduleRule
	for rows.Next() {
		r, err := scanScheduleRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// ActiveRule fetches the rule driving automatic control for a
// device-mode: the most recently created enabled rule of that type.
// Multiple rules may be stored; disabled ones are inert. Returns
// (nil, nil) when no enabled rule exists.
func (d *DB) ActiveRule(ctx context.Context, deviceID string, t models.ScheduleType) (*models.ScheduleRule, error) {
	row := d.pool.QueryRow(ctx,
		"SELECT "+scheduleColumns+" FROM schedule_rules WHERE device_id = $1 AND type = $2 AND enabled ORDER BY created_at DESC LIMIT 1",
		deviceID, t)
	r, err := scanScheduleRule(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}
