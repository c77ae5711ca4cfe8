// Package reconcile is the single source of truth for externally
// visible device state. It tracks last-known state from telemetry
// against last-commanded state from the dispatcher, acknowledges
// commands when matching telemetry arrives, and flags devices offline
// when no data lands inside the freshness window. Displayed state
// always reflects telemetry, never an optimistic assumption.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartfarm/internal/models"
)

// FreshnessWindow is the maximum age of the newest reading before a
// device counts as offline. Mirrors the poller on the frontend side.
const FreshnessWindow = 5 * time.Minute

// divergenceTolerance bounds how far telemetry may sit from the
// commanded value and still confirm it.
const divergenceTolerance = 0.5

const mirrorTTL = time.Hour

// Acker lets the reconciler confirm pending commands. Implemented by
// the dispatcher.
type Acker interface {
	Acknowledge(ctx context.Context, deviceID string, value float64, at time.Time) bool
}

// DeviceStatus is the externally visible device state.
type DeviceStatus struct {
	DeviceID  string    `json:"device_id"`
	Online    bool      `json:"online"`
	LastValue float64   `json:"last_value"`
	LastSeen  time.Time `json:"last_seen"`
	// Pending is true while a command awaits confirmation; the UI
	// surfaces the uncertainty instead of assuming compliance.
	Pending bool `json:"pending_command"`
}

type deviceState struct {
	lastValue     float64
	lastSeen      time.Time
	lastCommanded *models.Command
}

// Reconciler tracks per-device last-known vs last-commanded state.
type Reconciler struct {
	kv    KVStore
	acker Acker
	log   *zap.Logger
	now   func() time.Time

	mu     sync.RWMutex
	states map[string]*deviceState
}

// New creates a reconciler.
func New(kv KVStore, acker Acker, log *zap.Logger) *Reconciler {
	return &Reconciler{
		kv:     kv,
		acker:  acker,
		log:    log,
		now:    time.Now,
		states: make(map[string]*deviceState),
	}
}

// SetClock overrides the clock, for tests.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Hydrate seeds last-known state from the KV mirror so a restart does
// not report every device offline until fresh telemetry lands. Devices
// that already produced telemetry this run keep their in-memory state.
func (r *Reconciler) Hydrate(ctx context.Context, deviceIDs []string) {
	for _, id := range deviceIDs {
		raw, err := r.kv.Get(ctx, "device:"+id+":state")
		if err != nil {
			if !errors.Is(err, ErrCacheMiss) {
				r.log.Warn("failed to read device state mirror",
					zap.String("device_id", id), zap.Error(err))
			}
			continue
		}
		var status DeviceStatus
		if err := json.Unmarshal([]byte(raw), &status); err != nil {
			continue
		}
		r.mu.Lock()
		if _, ok := r.states[id]; !ok {
			r.states[id] = &deviceState{
				lastValue: status.LastValue,
				lastSeen:  status.LastSeen,
			}
		}
		r.mu.Unlock()
	}
}

// ObserveReading records fresh telemetry as the authoritative state.
// If it matches the pending command the command is acknowledged; if it
// diverges with nothing pending it is an out-of-band change (physical
// button) and is accepted as-is, never corrected.
func (r *Reconciler) ObserveReading(deviceID, feedKey string, value float64, at time.Time) {
	r.mu.Lock()
	st, ok := r.states[deviceID]
	if !ok {
		st = &deviceState{}
		r.states[deviceID] = st
	}
	st.lastValue = value
	st.lastSeen = at
	cmd := st.lastCommanded
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if cmd != nil && cmd.AckedAt == nil {
		if r.acker.Acknowledge(ctx, deviceID, value, at) {
			// acking may release a queued command, and CommandIssued
			// replaces lastCommanded with it before Acknowledge returns;
			// only stamp the command that was actually confirmed
			r.mu.Lock()
			if st.lastCommanded != nil && st.lastCommanded.ID == cmd.ID {
				ackAt := at
				st.lastCommanded.AckedAt = &ackAt
			}
			r.mu.Unlock()
		}
	} else if cmd != nil && math.Abs(cmd.Value-value) > divergenceTolerance {
		r.log.Info("out-of-band device state change",
			zap.String("device_id", deviceID),
			zap.Float64("commanded", cmd.Value),
			zap.Float64("observed", value))
	}

	r.mirror(ctx, deviceID)
}

// CommandIssued implements the dispatcher observer: remembers the
// last-commanded state for drift detection.
func (r *Reconciler) CommandIssued(cmd models.Command) {
	r.mu.Lock()
	st, ok := r.states[cmd.DeviceID]
	if !ok {
		st = &deviceState{}
		r.states[cmd.DeviceID] = st
	}
	st.lastCommanded = &cmd
	r.mu.Unlock()
}

// Online reports whether the device produced data inside the window.
func (r *Reconciler) Online(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[deviceID]
	if !ok || st.lastSeen.IsZero() {
		return false
	}
	return r.now().Sub(st.lastSeen) <= FreshnessWindow
}

// Status returns the externally visible state for one device.
func (r *Reconciler) Status(deviceID string) DeviceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := DeviceStatus{DeviceID: deviceID}
	st, ok := r.states[deviceID]
	if !ok {
		return status
	}
	status.LastValue = st.lastValue
	status.LastSeen = st.lastSeen
	status.Online = !st.lastSeen.IsZero() && r.now().Sub(st.lastSeen) <= FreshnessWindow
	status.Pending = st.lastCommanded != nil && st.lastCommanded.AckedAt == nil
	return status
}

// mirror pushes the current status into the KV store so the read path
// (and server push to the frontend cache) sees one source of truth.
func (r *Reconciler) mirror(ctx context.Context, deviceID string) {
	raw, err := json.Marshal(r.Status(deviceID))
	if err != nil {
		return
	}
	if err := r.kv.Set(ctx, "device:"+deviceID+":state", string(raw), mirrorTTL); err != nil {
		r.log.Warn("failed to mirror device state", zap.String("device_id", deviceID), zap.Error(err))
	}
}
