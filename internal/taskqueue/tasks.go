package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"smartfarm/internal/db"
	"smartfarm/internal/models"
	"smartfarm/internal/threshold"
)

const (
	TypeEvaluateReading = "reading:evaluate"
	TypeNotify          = "notification:deliver"
)

// IntentSink receives threshold actuation intents; the schedule engine
// implements it.
type IntentSink interface {
	SubmitThresholdIntent(deviceID string, activate bool)
}

// Global instances, initialized by the main application.
var (
	dbConn *db.DB
	engine IntentSink
	log    *zap.Logger
)

// SetGlobalInstances wires the worker dependencies.
func SetGlobalInstances(database *db.DB, sink IntentSink, logger *zap.Logger) {
	dbConn = database
	engine = sink
	log = logger
}

// EvaluateReadingPayload carries one accepted reading to the evaluator.
type EvaluateReadingPayload struct {
	DeviceID   string
	FeedKey    string
	Value      float64
	RecordedAt time.Time
}

// NotifyPayload carries a notification event to be persisted.
type NotifyPayload struct {
	DeviceID string
	Type     string
	Message  string
}

// EnqueueReadingEvaluation enqueues a threshold evaluation for a fresh
// reading.
func EnqueueReadingEvaluation(deviceID, feedKey string, value float64, at time.Time) error {
	payload, _ := json.Marshal(EvaluateReadingPayload{
		DeviceID: deviceID, FeedKey: feedKey, Value: value, RecordedAt: at,
	})
	task := asynq.NewTask(TypeEvaluateReading, payload)
	_, err := asynqClient.Enqueue(task, asynq.MaxRetry(3), asynq.Timeout(10*time.Second))
	if err != nil {
		return fmt.Errorf("enqueue reading evaluation: %w", err)
	}
	return nil
}

// Enqueuer adapts the package-level enqueue functions to the
// ingestor's Evaluations interface.
type Enqueuer struct{}

func (Enqueuer) EnqueueReadingEvaluation(deviceID, feedKey string, value float64, at time.Time) error {
	return EnqueueReadingEvaluation(deviceID, feedKey, value, at)
}

// EnqueueNotification enqueues a notification event.
func EnqueueNotification(deviceID, typ, message string) error {
	payload, _ := json.Marshal(NotifyPayload{DeviceID: deviceID, Type: typ, Message: message})
	task := asynq.NewTask(TypeNotify, payload)
	_, err := asynqClient.Enqueue(task, asynq.MaxRetry(3), asynq.Timeout(10*time.Second))
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// evaluateReadingTask classifies a reading against the sensor's live
// thresholds, emits the notification side effect and feeds the
// actuation intent to the paired actuator's actor.
func evaluateReadingTask(ctx context.Context, t *asynq.Task) error {
	var payload EvaluateReadingPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	dev, err := dbConn.DeviceByID(ctx, payload.DeviceID)
	if err != nil {
		return fmt.Errorf("load device %s: %w", payload.DeviceID, err)
	}

	quantity, ok := threshold.QuantityForFeed(dev.Type, payload.FeedKey)
	if !ok {
		// actuator feeds carry commands, nothing to evaluate
		return nil
	}

	cfg, err := dbConn.GetThresholds(ctx, payload.DeviceID)
	if err != nil {
		return fmt.Errorf("load thresholds for %s: %w", payload.DeviceID, err)
	}

	verdict, intent := threshold.Evaluate(quantity, payload.Value, cfg)
	if intent == nil {
		return nil
	}
	log.Info("threshold trigger",
		zap.String("device_id", payload.DeviceID),
		zap.String("quantity", string(quantity)),
		zap.Float64("value", payload.Value),
		zap.Int("verdict", int(verdict)))

	// notification fires regardless of whether the intent is acted on
	if err := EnqueueNotification(payload.DeviceID, models.NotificationThreshold, intent.Reason); err != nil {
		log.Error("failed to enqueue threshold notification", zap.Error(err))
	}

	actuator, err := dbConn.LinkedActuator(ctx, payload.DeviceID, intent.ActuatorType)
	if err != nil {
		return fmt.Errorf("resolve paired actuator: %w", err)
	}
	if actuator == nil {
		log.Debug("no paired actuator configured",
			zap.String("sensor_id", payload.DeviceID),
			zap.String("actuator_type", string(intent.ActuatorType)))
		return nil
	}

	engine.SubmitThresholdIntent(actuator.ID, intent.Activate)
	return nil
}

// notifyTask persists a notification event.
func notifyTask(ctx context.Context, t *asynq.Task) error {
	var payload NotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	n := models.Notification{
		DeviceID:  payload.DeviceID,
		Type:      payload.Type,
		Message:   payload.Message,
		CreatedAt: time.Now(),
	}
	if err := dbConn.InsertNotification(ctx, &n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	log.Info("notification recorded",
		zap.String("device_id", payload.DeviceID),
		zap.String("type", payload.Type))
	return nil
}
