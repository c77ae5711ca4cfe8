// Package ingest consumes raw transport messages and turns them into
// persisted readings. One bad message never halts the subscriber loop,
// and redelivered messages intentionally produce duplicate readings:
// the transport is at-least-once and the history keeps every delivery.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"smartfarm/internal/models"
)

var (
	// ErrMalformedTopic rejects topics not shaped <account>/feeds/<feedKey>.
	ErrMalformedTopic = errors.New("malformed topic")

	// ErrInvalidReading rejects non-numeric payloads. Logged, dropped,
	// never retried.
	ErrInvalidReading = errors.New("invalid reading payload")

	// ErrUnknownFeed drops messages for feeds no device owns; the
	// transport may deliver topics not yet provisioned.
	ErrUnknownFeed = errors.New("unknown feed")
)

// Store resolves feeds and persists readings.
type Store interface {
	FeedByKey(ctx context.Context, key string) (*models.Feed, error)
	AppendReading(ctx context.Context, r *models.Reading) error
	TouchFeed(ctx context.Context, feedID string, value float64, at time.Time) error
}

// Observer receives every accepted reading; the reconciler tracks
// last-known device state through this.
type Observer interface {
	ObserveReading(deviceID, feedKey string, value float64, at time.Time)
}

// Evaluations hands accepted readings to the threshold evaluation queue.
type Evaluations interface {
	EnqueueReadingEvaluation(deviceID, feedKey string, value float64, at time.Time) error
}

// Ingestor parses, validates and persists inbound telemetry.
type Ingestor struct {
	store    Store
	observer Observer
	evals    Evaluations
	log      *zap.Logger
	now      func() time.Time
}

// New creates an ingestor.
func New(store Store, observer Observer, evals Evaluations, log *zap.Logger) *Ingestor {
	return &Ingestor{
		store:    store,
		observer: observer,
		evals:    evals,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (i *Ingestor) SetClock(now func() time.Time) {
	i.now = now
}

// ParseTopic extracts the account and feed key from an inbound topic.
func ParseTopic(topic string) (account, feedKey string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] != "feeds" || parts[0] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	return parts[0], parts[2], nil
}

// HandleMessage is the transport callback. Errors are logged and the
// message dropped; subsequent messages for other devices keep flowing.
func (i *Ingestor) HandleMessage(topic string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := i.Ingest(ctx, topic, payload); err != nil {
		switch {
		case errors.Is(err, ErrUnknownFeed):
			i.log.Debug("dropping message for unprovisioned feed", zap.String("topic", topic))
		default:
			i.log.Warn("dropping message", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// Ingest processes one (topic, payload) pair: exactly one reading row
// is appended per valid message.
func (i *Ingestor) Ingest(ctx context.Context, topic string, payload []byte) error {
	_, feedKey, err := ParseTopic(topic)
	if err != nil {
		return err
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidReading, payload)
	}

	feed, err := i.store.FeedByKey(ctx, feedKey)
	if err != nil {
		return fmt.Errorf("resolve feed %s: %w", feedKey, err)
	}
	if feed == nil {
		return fmt.Errorf("%w: %s", ErrUnknownFeed, feedKey)
	}

	at := i.now()
	reading := models.Reading{
		DeviceID:   feed.DeviceID,
		FeedID:     feed.ID,
		Value:      value,
		RecordedAt: at,
	}
	if err := i.store.AppendReading(ctx, &reading); err != nil {
		return fmt.Errorf("append reading: %w", err)
	}
	if err := i.store.TouchFeed(ctx, feed.ID, value, at); err != nil {
		i.log.Error("failed to update feed last-value", zap.String("feed", feedKey), zap.Error(err))
	}

	i.observer.ObserveReading(feed.DeviceID, feedKey, value, at)

	if err := i.evals.EnqueueReadingEvaluation(feed.DeviceID, feedKey, value, at); err != nil {
		i.log.Error("failed to enqueue threshold evaluation",
			zap.String("device_id", feed.DeviceID), zap.Error(err))
	}

	i.log.Debug("reading ingested",
		zap.String("feed", feedKey),
		zap.String("device_id", feed.DeviceID),
		zap.Float64("value", value))
	return nil
}
