// Package schedule resolves manual control, threshold intents and
// time-based rules into one authoritative desired-state per device.
//
// Each actuator gets its own actor goroutine; telemetry-driven and
// tick-driven evaluations for one device are serialized through its
// mailbox, and unrelated devices never wait on each other. Precedence:
// while a rule's window is open (AUTO_ACTIVE) the schedule owns the
// actuator and threshold intents are advisory; in AUTO_IDLE threshold
// intents actuate; with autoMode off only manual commands do.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartfarm/internal/dispatch"
	"smartfarm/internal/models"
)

// ErrScheduleConflict rejects a manual command while automatic mode
// owns the device. The user must disable autoMode first.
var ErrScheduleConflict = errors.New("automatic mode owns this device")

// ErrUnknownDevice is returned for devices without a running actor.
var ErrUnknownDevice = errors.New("no actor for device")

const dispatchTimeout = 10 * time.Second

// ConfigSource supplies devices and rules. Implementations must return
// (nil, nil) when no enabled rule exists for a device-mode.
type ConfigSource interface {
	ActuatorDevices(ctx context.Context) ([]models.Device, error)
	DeviceByID(ctx context.Context, id string) (*models.Device, error)
	ActiveRule(ctx context.Context, deviceID string, t models.ScheduleType) (*models.ScheduleRule, error)
	FeedKeyForDevice(ctx context.Context, deviceID string) (string, error)
}

// Dispatcher is the outbound command path.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) error
	TryDispatch(ctx context.Context, req dispatch.Request) error
}

// Engine runs one actor per actuator device.
type Engine struct {
	cfg  ConfigSource
	disp Dispatcher
	log  *zap.Logger
	now  func() time.Time

	mu     sync.RWMutex
	actors map[string]*actor
	wg     sync.WaitGroup
}

type msgKind int

const (
	msgTick msgKind = iota
	msgInvalidate
	msgIntent
	msgManual
)

type message struct {
	kind     msgKind
	activate bool
	value    float64
	reply    chan error
}

type actor struct {
	deviceID string
	mode     models.ScheduleType
	mailbox  chan message
	done     chan struct{}

	stateMu sync.RWMutex
	state   models.ModeState

	// last on-value dispatched for the open window, to re-dispatch
	// when a rule edit changes speed mid-window
	lastOn float64
}

// NewEngine creates the engine.
func NewEngine(cfg ConfigSource, disp Dispatcher, log *zap.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		disp:   disp,
		log:    log,
		now:    time.Now,
		actors: make(map[string]*actor),
	}
}

// SetClock overrides the clock, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Start spawns an actor for every known actuator.
func (e *Engine) Start(ctx context.Context) error {
	devices, err := e.cfg.ActuatorDevices(ctx)
	if err != nil {
		return fmt.Errorf("load actuator devices: %w", err)
	}
	for _, dev := range devices {
		e.RegisterDevice(dev)
	}
	e.log.Info("schedule engine started", zap.Int("actuators", len(devices)))
	return nil
}

// Stop shuts down all actors and waits for them to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	for _, a := range e.actors {
		close(a.done)
	}
	e.actors = make(map[string]*actor)
	e.mu.Unlock()
	e.wg.Wait()
	e.log.Info("schedule engine stopped")
}

// RegisterDevice starts an actor for a newly created actuator.
func (e *Engine) RegisterDevice(dev models.Device) {
	if !dev.Type.IsActuator() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.actors[dev.ID]; ok {
		return
	}
	state := models.StateManual
	if dev.AutoMode {
		state = models.StateAutoIdle
	}
	a := &actor{
		deviceID: dev.ID,
		mode:     dev.Type.ScheduleFor(),
		mailbox:  make(chan message, 16),
		done:     make(chan struct{}),
		state:    state,
	}
	e.actors[dev.ID] = a
	e.wg.Add(1)
	go e.run(a)
}

// RemoveDevice stops the actor for a deleted device.
func (e *Engine) RemoveDevice(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.actors[deviceID]; ok {
		close(a.done)
		delete(e.actors, deviceID)
	}
}

// TickAll enqueues a periodic evaluation on every actor. Sends never
// block: a full mailbox already has an evaluation pending, so the tick
// coalesces with it.
func (e *Engine) TickAll() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, a := range e.actors {
		select {
		case a.mailbox <- message{kind: msgTick}:
		default:
		}
	}
}

// Invalidate forces a re-evaluation after a configuration write.
// Disabling a rule mid-window must cancel the window immediately, so
// this send is not allowed to be dropped.
func (e *Engine) Invalidate(deviceID string) {
	e.mu.RLock()
	a, ok := e.actors[deviceID]
	e.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case a.mailbox <- message{kind: msgInvalidate}:
	case <-a.done:
	}
}

// SubmitThresholdIntent feeds a threshold-triggered actuation intent
// into the device's actor.
func (e *Engine) SubmitThresholdIntent(deviceID string, activate bool) {
	e.mu.RLock()
	a, ok := e.actors[deviceID]
	e.mu.RUnlock()
	if !ok {
		e.log.Debug("threshold intent for unknown actuator", zap.String("device_id", deviceID))
		return
	}
	select {
	case a.mailbox <- message{kind: msgIntent, activate: activate}:
	case <-a.done:
	}
}

// ManualCommand routes a user-issued command through the device's
// actor. Rejected with ErrScheduleConflict while autoMode governs.
func (e *Engine) ManualCommand(ctx context.Context, deviceID string, value float64) error {
	e.mu.RLock()
	a, ok := e.actors[deviceID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	reply := make(chan error, 1)
	select {
	case a.mailbox <- message{kind: msgManual, value: value, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State reports the engine state for a device-mode.
func (e *Engine) State(deviceID string) (models.ModeState, bool) {
	e.mu.RLock()
	a, ok := e.actors[deviceID]
	e.mu.RUnlock()
	if !ok {
		return "", false
	}
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state, true
}

func (a *actor) setState(s models.ModeState) {
	a.stateMu.Lock()
	a.state = s
	a.stateMu.Unlock()
}

func (a *actor) getState() models.ModeState {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state
}

// run is the actor loop. All desired-state computation for the device
// happens here, so a tick and a telemetry-driven intent can never tear
// each other's reads.
func (e *Engine) run(a *actor) {
	defer e.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case m := <-a.mailbox:
			switch m.kind {
			case msgTick:
				e.evaluate(a, false)
			case msgInvalidate:
				e.evaluate(a, true)
			case msgIntent:
				e.handleIntent(a, m.activate)
			case msgManual:
				m.reply <- e.handleManual(a, m.value)
			}
		}
	}
}

// evaluate recomputes the schedule state machine for the actor and
// dispatches only on transitions. force re-dispatches the on-value when
// a rule edit changed it mid-window.
func (e *Engine) evaluate(a *actor, force bool) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	dev, err := e.cfg.DeviceByID(ctx, a.deviceID)
	if err != nil {
		// one device's store failure must not poison the tick for others
		e.log.Error("evaluation skipped, device load failed",
			zap.String("device_id", a.deviceID), zap.Error(err))
		return
	}

	if !dev.AutoMode {
		if a.getState() == models.StateAutoActive {
			e.deactivate(ctx, a, models.SourceSchedule)
		}
		a.setState(models.StateManual)
		return
	}

	rule, err := e.cfg.ActiveRule(ctx, a.deviceID, a.mode)
	if err != nil {
		e.log.Error("evaluation skipped, rule load failed",
			zap.String("device_id", a.deviceID), zap.Error(err))
		return
	}

	active := false
	if rule != nil {
		active, err = ruleActive(rule, e.now())
		if err != nil {
			e.log.Error("rule evaluation failed",
				zap.String("rule_id", rule.ID), zap.Error(err))
			return
		}
	}

	switch {
	case active:
		val := onValue(rule)
		if a.getState() != models.StateAutoActive {
			e.log.Info("schedule window opened",
				zap.String("device_id", a.deviceID), zap.String("rule_id", rule.ID))
			a.setState(models.StateAutoActive)
			e.send(ctx, a, val, models.SourceSchedule)
			a.lastOn = val
		} else if force && val != a.lastOn {
			e.send(ctx, a, val, models.SourceSchedule)
			a.lastOn = val
		}
	default:
		if a.getState() == models.StateAutoActive {
			e.log.Info("schedule window closed",
				zap.String("device_id", a.deviceID))
			e.deactivate(ctx, a, models.SourceSchedule)
		}
		a.setState(models.StateAutoIdle)
	}
}

// handleIntent applies a threshold intent. Schedule precedence: while
// AUTO_ACTIVE the intent is advisory and dropped; the notification side
// effect already happened upstream.
func (e *Engine) handleIntent(a *actor, activate bool) {
	// settle schedule state first so precedence reads fresh state
	e.evaluate(a, false)

	switch a.getState() {
	case models.StateManual:
		e.log.Debug("threshold intent ignored, manual mode owns device",
			zap.String("device_id", a.deviceID))
		return
	case models.StateAutoActive:
		e.log.Debug("threshold intent advisory, schedule window open",
			zap.String("device_id", a.deviceID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	val := 0.0
	if activate {
		val = thresholdOnValue(a.mode)
	}
	e.send(ctx, a, val, models.SourceThreshold)
}

// handleManual validates the mutual-exclusion invariant and dispatches.
func (e *Engine) handleManual(a *actor, value float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	dev, err := e.cfg.DeviceByID(ctx, a.deviceID)
	if err != nil {
		return fmt.Errorf("load device %s: %w", a.deviceID, err)
	}
	if dev.AutoMode {
		return fmt.Errorf("%w: disable auto mode on %s first", ErrScheduleConflict, a.deviceID)
	}
	a.setState(models.StateManual)

	feedKey, err := e.cfg.FeedKeyForDevice(ctx, a.deviceID)
	if err != nil {
		return fmt.Errorf("resolve feed for %s: %w", a.deviceID, err)
	}
	return e.disp.TryDispatch(ctx, dispatch.Request{
		DeviceID: a.deviceID,
		FeedKey:  feedKey,
		Value:    value,
		Source:   models.SourceManual,
	})
}

func (e *Engine) deactivate(ctx context.Context, a *actor, source models.CommandSource) {
	e.send(ctx, a, 0, source)
}

func (e *Engine) send(ctx context.Context, a *actor, value float64, source models.CommandSource) {
	feedKey, err := e.cfg.FeedKeyForDevice(ctx, a.deviceID)
	if err != nil {
		e.log.Error("cannot resolve command feed",
			zap.String("device_id", a.deviceID), zap.Error(err))
		return
	}
	err = e.disp.Dispatch(ctx, dispatch.Request{
		DeviceID: a.deviceID,
		FeedKey:  feedKey,
		Value:    value,
		Source:   source,
	})
	if err != nil {
		e.log.Error("dispatch failed",
			zap.String("device_id", a.deviceID),
			zap.Float64("value", value),
			zap.Error(err))
	}
}

// thresholdOnValue is the activation scalar for threshold-triggered
// commands: pumps run full speed, lights switch on.
func thresholdOnValue(mode models.ScheduleType) float64 {
	if mode == models.ScheduleLighting {
		return 1
	}
	return 100
}
