package models

import "time"

// DeviceType determines which feed keys and which schedule/threshold
// shapes are valid for a device. It never changes after creation.
type DeviceType string

const (
	DeviceTempHumidity DeviceType = "temperature-humidity"
	DeviceSoilMoisture DeviceType = "soil-moisture"
	DevicePump         DeviceType = "pump"
	DeviceLight        DeviceType = "light"
)

// IsActuator reports whether the device type is commandable.
func (t DeviceType) IsActuator() bool {
	return t == DevicePump || t == DeviceLight
}

// ScheduleFor returns the schedule type that drives this actuator.
func (t DeviceType) ScheduleFor() ScheduleType {
	if t == DeviceLight {
		return ScheduleLighting
	}
	return ScheduleWatering
}

// Device represents a physical node (sensor or actuator)
type Device struct {
	ID       string     `json:"id"`
	Code     string     `json:"code"`
	Name     string     `json:"name"`
	Type     DeviceType `json:"type"`
	AutoMode bool       `json:"auto_mode"`
}

// Feed is a named data channel bound to exactly one device
type Feed struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Key       string    `json:"key"`
	LastValue float64   `json:"last_value"`
	LastSeen  time.Time `json:"last_seen"`
}

// Reading is an immutable timestamped scalar. Append-only; redelivered
// transport messages produce distinct rows on purpose.
type Reading struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	FeedID     string    `json:"feed_id"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Bounds is a min/max pair for one measured quantity (integer percent
// or degrees, 0-100). Values equal to a bound count as in-range.
type Bounds struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// ThresholdConfig is the live per-device bounds set. Saves replace all
// three quantities atomically; every save also snapshots to history.
type ThresholdConfig struct {
	DeviceID     string    `json:"device_id"`
	SoilMoisture Bounds    `json:"soil_moisture"`
	Temperature  Bounds    `json:"temperature"`
	AirHumidity  Bounds    `json:"air_humidity"`
	Version      int       `json:"version"`
	SavedAt      time.Time `json:"saved_at"`
}

// ScheduleType identifies which actuator a rule drives.
type ScheduleType string

const (
	ScheduleWatering ScheduleType = "watering"
	ScheduleLighting ScheduleType = "lighting"
)

// DaySet is a weekday bitmask, Sunday = bit 0, matching time.Weekday.
type DaySet uint8

// Has reports whether the given weekday is in the set.
func (d DaySet) Has(w time.Weekday) bool {
	return d&(1<<uint(w)) != 0
}

// Add returns the set with the given weekday included.
func (d DaySet) Add(w time.Weekday) DaySet {
	return d | (1 << uint(w))
}

// Weekdays expands the bitmask to a slice for API responses.
func (d DaySet) Weekdays() []time.Weekday {
	var out []time.Weekday
	for w := time.Sunday; w <= time.Saturday; w++ {
		if d.Has(w) {
			out = append(out, w)
		}
	}
	return out
}

// ScheduleRule is a recurring time/day rule for one device.
// Watering rules use StartTime/DurationMin/Speed, lighting rules use
// OnTime/OffTime. Times are "HH:MM" wall-clock strings.
type ScheduleRule struct {
	ID          string       `json:"id"`
	DeviceID    string       `json:"device_id"`
	Type        ScheduleType `json:"schedule_type"`
	Enabled     bool         `json:"enabled"`
	StartTime   string       `json:"start_time,omitempty"`
	DurationMin int          `json:"duration,omitempty"`
	Speed       int          `json:"speed,omitempty"`
	OnTime      string       `json:"on_time,omitempty"`
	OffTime     string       `json:"off_time,omitempty"`
	Days        DaySet       `json:"days"`
	CreatedAt   time.Time    `json:"created_at"`
}

// CommandSource records which control path issued a command.
type CommandSource string

const (
	SourceManual    CommandSource = "manual"
	SourceSchedule  CommandSource = "schedule"
	SourceThreshold CommandSource = "threshold"
)

// Command is an outbound instruction. AckedAt stays nil until the
// reconciler observes matching telemetry.
type Command struct {
	ID       string        `json:"id"`
	DeviceID string        `json:"device_id"`
	FeedKey  string        `json:"feed_key"`
	Value    float64       `json:"value"`
	Source   CommandSource `json:"source"`
	IssuedAt time.Time     `json:"issued_at"`
	AckedAt  *time.Time    `json:"acked_at"`
}

// NotificationThreshold is the event type emitted by the threshold evaluator.
const NotificationThreshold = "THRESHOLD"

// Notification is a persisted user-facing event.
type Notification struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ModeState is the schedule engine state for one device-mode.
type ModeState string

const (
	StateManual     ModeState = "MANUAL"
	StateAutoIdle   ModeState = "AUTO_IDLE"
	StateAutoActive ModeState = "AUTO_ACTIVE"
)
