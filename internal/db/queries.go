package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"smartfarm/internal/models"
)

// Devices fetches all devices
func (d *DB) Devices(ctx context.Context) ([]models.Device, error) {
	rows, err := d.pool.Query(ctx, "SELECT id, code, name, type, auto_mode FROM devices ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var dev models.Device
		if err := rows.Scan(&dev.ID, &dev.Code, &dev.Name, &dev.Type, &dev.AutoMode); err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, rows.Err()
}

// ActuatorDevices fetches pump and light devices only
func (d *DB) ActuatorDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT id, code, name, type, auto_mode FROM devices WHERE type = $1 OR type = $2",
		models.DevicePump, models.DeviceLight)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var dev models.Device
		if err := rows.Scan(&dev.ID, &dev.Code, &dev.Name, &dev.Type, &dev.AutoMode); err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, rows.Err()
}

// DeviceByID fetches a device by ID
func (d *DB) DeviceByID(ctx context.Context, id string) (*models.Device, error) {
	var dev models.Device
	err := d.pool.QueryRow(ctx, "SELECT id, code, name, type, auto_mode FROM devices WHERE id = $1", id).
		Scan(&dev.ID, &dev.Code, &dev.Name, &dev.Type, &dev.AutoMode)
	if err != nil {
		return nil, err
	}
	return &dev, nil
}

// InsertDevice creates a device together with its feeds
func (d *DB) InsertDevice(ctx context.Context, dev *models.Device, feedKeys []string) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	dev.ID = uuid.NewString()
	_, err = tx.Exec(ctx,
		"INSERT INTO devices (id, code, name, type, auto_mode, created_at) VALUES ($1, $2, $3, $4, $5, NOW())",
		dev.ID, dev.Code, dev.Name, dev.Type, dev.AutoMode)
	if err != nil {
		return err
	}
	for _, key := range feedKeys {
		_, err = tx.Exec(ctx,
			"INSERT INTO feeds (id, device_id, key, last_value, last_seen) VALUES ($1, $2, $3, 0, to_timestamp(0))",
			uuid.NewString(), dev.ID, key)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// DeleteDevice removes a device and all dependent rows
func (d *DB) DeleteDevice(ctx context.Context, id string) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, q := range []string{
		"DELETE FROM notifications WHERE device_id = $1",
		"DELETE FROM commands WHERE device_id = $1",
		"DELETE FROM schedule_rules WHERE device_id = $1",
		"DELETE FROM threshold_history WHERE device_id = $1",
		"DELETE FROM thresholds WHERE device_id = $1",
		"DELETE FROM device_links WHERE sensor_id = $1 OR actuator_id = $1",
		"DELETE FROM readings WHERE device_id = $1",
		"DELETE FROM feeds WHERE device_id = $1",
		"DELETE FROM devices WHERE id = $1",
	} {
		if _, err := tx.Exec(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// SetAutoMode flips automatic control for a device
func (d *DB) SetAutoMode(ctx context.Context, id string, enabled bool) error {
	_, err := d.pool.Exec(ctx, "UPDATE devices SET auto_mode = $1 WHERE id = $2", enabled, id)
	return err
}

// FeedByKey resolves a feed key to its feed, or (nil, nil) when no
// device owns that feed.
func (d *DB) FeedByKey(ctx context.Context, key string) (*models.Feed, error) {
	var f models.Feed
	err := d.pool.QueryRow(ctx,
		"SELECT id, device_id, key, last_value, last_seen FROM feeds WHERE key = $1", key).
		Scan(&f.ID, &f.DeviceID, &f.Key, &f.LastValue, &f.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// FeedsForDevice fetches all feeds bound to a device
func (d *DB) FeedsForDevice(ctx context.Context, deviceID string) ([]models.Feed, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT id, device_id, key, last_value, last_seen FROM feeds WHERE device_id = $1", deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feeds []models.Feed
	for rows.Next() {
		var f models.Feed
		if err := rows.Scan(&f.ID, &f.DeviceID, &f.Key, &f.LastValue, &f.LastSeen); err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// FeedKeyForDevice returns the command feed key of an actuator
func (d *DB) FeedKeyForDevice(ctx context.Context, deviceID string) (string, error) {
	var key string
	err := d.pool.QueryRow(ctx,
		"SELECT key FROM feeds WHERE device_id = $1 ORDER BY key LIMIT 1", deviceID).Scan(&key)
	return key, err
}

// TouchFeed updates a feed's last-known value and timestamp
func (d *DB) TouchFeed(ctx context.Context, feedID string, value float64, at time.Time) error {
	_, err := d.pool.Exec(ctx,
		"UPDATE feeds SET last_value = $1, last_seen = $2 WHERE id = $3", value, at, feedID)
	return err
}

// AppendReading inserts one reading row. Never updates; history is immutable.
func (d *DB) AppendReading(ctx context.Context, r *models.Reading) error {
	return d.pool.QueryRow(ctx,
		"INSERT INTO readings (device_id, feed_id, value, recorded_at) VALUES ($1, $2, $3, $4) RETURNING id",
		r.DeviceID, r.FeedID, r.Value, r.RecordedAt).Scan(&r.ID)
}

// ReadingsForDevice fetches recent readings ordered by time descending
func (d *DB) ReadingsForDevice(ctx context.Context, deviceID string, limit int) ([]models.Reading, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT id, device_id, feed_id, value, recorded_at FROM readings WHERE device_id = $1 ORDER BY recorded_at DESC LIMIT $2",
		deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		var r models.Reading
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.FeedID, &r.Value, &r.RecordedAt); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// InsertCommand records an issued command
func (d *DB) InsertCommand(ctx context.Context, c *models.Command) error {
	_, err := d.pool.Exec(ctx,
		"INSERT INTO commands (id, device_id, feed_key, value, source, issued_at) VALUES ($1, $2, $3, $4, $5, $6)",
		c.ID, c.DeviceID, c.FeedKey, c.Value, c.Source, c.IssuedAt)
	return err
}

// AckCommand marks a command acknowledged
func (d *DB) AckCommand(ctx context.Context, id string, at time.Time) error {
	_, err := d.pool.Exec(ctx, "UPDATE commands SET acked_at = $1 WHERE id = $2", at, id)
	return err
}

// CommandsForDevice fetches recent commands, newest first
func (d *DB) CommandsForDevice(ctx context.Context, deviceID string, limit int) ([]models.Command, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT id, device_id, feed_key, value, source, issued_at, acked_at FROM commands WHERE device_id = $1 ORDER BY issued_at DESC LIMIT $2",
		deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var c models.Command
		if err := rows.Scan(&c.ID, &c.DeviceID, &c.FeedKey, &c.Value, &c.Source, &c.IssuedAt, &c.AckedAt); err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
	}
	return cmds, rows.Err()
}

// InsertNotification persists a notification event
func (d *DB) InsertNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	_, err := d.pool.Exec(ctx,
		"INSERT INTO notifications (id, device_id, type, message, created_at) VALUES ($1, $2, $3, $4, $5)",
		n.ID, n.DeviceID, n.Type, n.Message, n.CreatedAt)
	return err
}

// Notifications fetches recent notifications, newest first
func (d *DB) Notifications(ctx context.Context, limit int) ([]models.Notification, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT id, device_id, type, message, created_at FROM notifications ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.DeviceID, &n.Type, &n.Message, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// LinkActuator pairs a sensor device with an actuator it may trigger
func (d *DB) LinkActuator(ctx context.Context, sensorID, actuatorID string) error {
	_, err := d.pool.Exec(ctx,
		"INSERT INTO device_links (sensor_id, actuator_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		sensorID, actuatorID)
	return err
}

// LinkedActuator resolves the actuator of the given type paired with a
// sensor, or (nil, nil) when the user never configured a pairing.
func (d *DB) LinkedActuator(ctx context.Context, sensorID string, actuatorType models.DeviceType) (*models.Device, error) {
	var dev models.Device
	err := d.pool.QueryRow(ctx,
		`SELECT d.id, d.code, d.name, d.type, d.auto_mode
		 FROM device_links l JOIN devices d ON d.id = l.actuator_id
		 WHERE l.sensor_id = $1 AND d.type = $2 LIMIT 1`,
		sensorID, actuatorType).
		Scan(&dev.ID, &dev.Code, &dev.Name, &dev.Type, &dev.AutoMode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dev, nil
}
