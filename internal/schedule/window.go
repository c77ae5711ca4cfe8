package schedule

import (
	"fmt"
	"time"

	"smartfarm/internal/models"
)

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	var hour, min int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &min); err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || min < 0 || min > 59 {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	return hour*60 + min, nil
}

const minutesPerDay = 24 * 60

// ruleActive reports whether a rule's time window covers the instant t.
// Disabled rules are never active. Windows that cross midnight belong
// to the day they started on: a Monday 23:50 watering rule with a
// 15-minute duration is still active at 00:04 Tuesday.
func ruleActive(r *models.ScheduleRule, t time.Time) (bool, error) {
	if !r.Enabled {
		return false, nil
	}

	cur := t.Hour()*60 + t.Minute()
	today := t.Weekday()
	yesterday := t.AddDate(0, 0, -1).Weekday()

	switch r.Type {
	case models.ScheduleWatering:
		start, err := parseClock(r.StartTime)
		if err != nil {
			return false, err
		}
		if r.DurationMin <= 0 {
			return false, fmt.Errorf("watering rule %s has duration %d", r.ID, r.DurationMin)
		}
		end := start + r.DurationMin
		if r.Days.Has(today) && cur >= start && cur < end {
			return true, nil
		}
		if end > minutesPerDay && cur < end-minutesPerDay && r.Days.Has(yesterday) {
			return true, nil
		}
		return false, nil

	case models.ScheduleLighting:
		on, err := parseClock(r.OnTime)
		if err != nil {
			return false, err
		}
		off, err := parseClock(r.OffTime)
		if err != nil {
			return false, err
		}
		switch {
		case on < off:
			return r.Days.Has(today) && cur >= on && cur < off, nil
		case on > off:
			// window wraps midnight
			if r.Days.Has(today) && cur >= on {
				return true, nil
			}
			return r.Days.Has(yesterday) && cur < off, nil
		default:
			// onTime == offTime is an empty window
			return false, nil
		}
	}
	return false, fmt.Errorf("unknown schedule type %q", r.Type)
}

// onValue is the scalar published while a rule's window is open.
func onValue(r *models.ScheduleRule) float64 {
	if r.Type == models.ScheduleLighting {
		return 1
	}
	return float64(r.Speed)
}
