// Package dispatch turns resolved desired-state changes into outbound
// transport publishes. It is the serialization point that keeps two
// control sources from issuing contradictory commands at once: per
// device there is at most one unacknowledged command in flight, plus a
// single queued slot that later submissions overwrite (last-write-wins).
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartfarm/internal/models"
)

var (
	// ErrDeviceBusy is returned to a caller that wants an immediate
	// dispatch while an earlier command is still unacknowledged.
	ErrDeviceBusy = errors.New("device has a command in flight")

	// ErrDispatchFailed is returned after publish retries are exhausted.
	ErrDispatchFailed = errors.New("dispatch failed")
)

// ackTolerance is the maximum value distance between a command and the
// telemetry that confirms it.
const ackTolerance = 0.5

// Publisher is the outbound transport.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// Records persists command history.
type Records interface {
	InsertCommand(ctx context.Context, c *models.Command) error
	AckCommand(ctx context.Context, id string, at time.Time) error
}

// Observer is told about every successfully issued command. The device
// state reconciler uses this to track lastCommandedState.
type Observer interface {
	CommandIssued(cmd models.Command)
}

// Request is one desired-state change for a device.
type Request struct {
	DeviceID string
	FeedKey  string
	Value    float64
	Source   models.CommandSource
}

// Dispatcher publishes commands with bounded retry.
type Dispatcher struct {
	pub      Publisher
	records  Records
	log      *zap.Logger
	account  string
	attempts int
	baseWait time.Duration
	now      func() time.Time

	observer Observer

	mu    sync.Mutex
	lanes map[string]*lane
}

// lane serializes all dispatch work for one device. Unrelated devices
// never share a lock.
type lane struct {
	mu      sync.Mutex
	pending *models.Command
	queued  *Request
}

// New creates a dispatcher publishing to <account>/feeds/<feedKey>.
func New(pub Publisher, records Records, account string, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		pub:      pub,
		records:  records,
		log:      log,
		account:  account,
		attempts: 3,
		baseWait: 500 * time.Millisecond,
		now:      time.Now,
		lanes:    make(map[string]*lane),
	}
}

// SetObserver wires the reconciler in after construction.
func (d *Dispatcher) SetObserver(o Observer) {
	d.observer = o
}

// SetClock overrides the clock, for tests.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// SetRetry overrides retry policy, for tests.
func (d *Dispatcher) SetRetry(attempts int, baseWait time.Duration) {
	d.attempts = attempts
	d.baseWait = baseWait
}

func (d *Dispatcher) lane(deviceID string) *lane {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lanes[deviceID]
	if !ok {
		l = &lane{}
		d.lanes[deviceID] = l
	}
	return l
}

// Dispatch submits a desired-state change from an automatic control
// source. If a command is already in flight the request lands in the
// queued slot, replacing any still-queued earlier request, and goes out
// once the pending command acknowledges.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	l := d.lane(req.DeviceID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending != nil {
		d.log.Debug("command in flight, queueing last-write-wins",
			zap.String("device_id", req.DeviceID), zap.Float64("value", req.Value))
		r := req
		l.queued = &r
		return nil
	}
	return d.publishLocked(ctx, l, req)
}

// TryDispatch submits a command that must go out now or not at all.
// Manual control uses this so the user sees DeviceBusy instead of a
// silently deferred action.
func (d *Dispatcher) TryDispatch(ctx context.Context, req Request) error {
	l := d.lane(req.DeviceID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending != nil {
		return fmt.Errorf("%w: device %s", ErrDeviceBusy, req.DeviceID)
	}
	return d.publishLocked(ctx, l, req)
}

// publishLocked publishes with bounded exponential backoff. The lane
// lock is held throughout so a second caller cannot start a publish for
// the same device until this one resolved.
func (d *Dispatcher) publishLocked(ctx context.Context, l *lane, req Request) error {
	topic := fmt.Sprintf("%s/feeds/%s", d.account, req.FeedKey)
	payload := []byte(formatValue(req.Value))

	var lastErr error
	wait := d.baseWait
	for attempt := 1; attempt <= d.attempts; attempt++ {
		lastErr = d.pub.Publish(topic, 1, payload)
		if lastErr == nil {
			cmd := models.Command{
				ID:       uuid.NewString(),
				DeviceID: req.DeviceID,
				FeedKey:  req.FeedKey,
				Value:    req.Value,
				Source:   req.Source,
				IssuedAt: d.now(),
			}
			if err := d.records.InsertCommand(ctx, &cmd); err != nil {
				d.log.Error("failed to record command", zap.String("device_id", req.DeviceID), zap.Error(err))
			}
			l.pending = &cmd
			if d.observer != nil {
				d.observer.CommandIssued(cmd)
			}
			d.log.Info("command dispatched",
				zap.String("device_id", req.DeviceID),
				zap.String("topic", topic),
				zap.Float64("value", req.Value),
				zap.String("source", string(req.Source)))
			return nil
		}

		d.log.Warn("publish attempt failed",
			zap.String("device_id", req.DeviceID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if attempt == d.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrDispatchFailed, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("%w: %v", ErrDispatchFailed, lastErr)
}

// Acknowledge matches inbound telemetry against the pending command for
// a device. On a match the command record is stamped and, if a request
// is queued, it goes out next. Returns true when a command was acked.
func (d *Dispatcher) Acknowledge(ctx context.Context, deviceID string, value float64, at time.Time) bool {
	l := d.lane(deviceID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending == nil || math.Abs(l.pending.Value-value) > ackTolerance {
		return false
	}

	ackAt := at
	l.pending.AckedAt = &ackAt
	if err := d.records.AckCommand(ctx, l.pending.ID, at); err != nil {
		d.log.Error("failed to ack command record", zap.String("command_id", l.pending.ID), zap.Error(err))
	}
	d.log.Info("command acknowledged",
		zap.String("device_id", deviceID),
		zap.String("command_id", l.pending.ID),
		zap.Float64("value", value))
	l.pending = nil

	if l.queued != nil {
		next := *l.queued
		l.queued = nil
		if err := d.publishLocked(ctx, l, next); err != nil {
			d.log.Error("queued command failed to dispatch",
				zap.String("device_id", deviceID), zap.Error(err))
		}
	}
	return true
}

// Pending returns a copy of the unacknowledged command for a device.
func (d *Dispatcher) Pending(deviceID string) (models.Command, bool) {
	l := d.lane(deviceID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		return models.Command{}, false
	}
	return *l.pending, true
}

// formatValue renders the decimal ASCII payload the devices expect.
func formatValue(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
