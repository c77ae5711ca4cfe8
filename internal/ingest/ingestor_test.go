package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartfarm/internal/models"
)

type fakeStore struct {
	feeds    map[string]*models.Feed
	readings []models.Reading
	touches  int
}

func (f *fakeStore) FeedByKey(_ context.Context, key string) (*models.Feed, error) {
	return f.feeds[key], nil
}

func (f *fakeStore) AppendReading(_ context.Context, r *models.Reading) error {
	r.ID = int64(len(f.readings) + 1)
	f.readings = append(f.readings, *r)
	return nil
}

func (f *fakeStore) TouchFeed(_ context.Context, _ string, _ float64, _ time.Time) error {
	f.touches++
	return nil
}

type fakeObserver struct {
	observed []float64
}

func (f *fakeObserver) ObserveReading(_, _ string, value float64, _ time.Time) {
	f.observed = append(f.observed, value)
}

type fakeEvals struct {
	enqueued int
}

func (f *fakeEvals) EnqueueReadingEvaluation(_, _ string, _ float64, _ time.Time) error {
	f.enqueued++
	return nil
}

func setupIngestor() (*Ingestor, *fakeStore, *fakeObserver, *fakeEvals) {
	store := &fakeStore{feeds: map[string]*models.Feed{
		"garden.soil-moisture": {ID: "feed-1", DeviceID: "dev-1", Key: "garden.soil-moisture"},
	}}
	obs := &fakeObserver{}
	evals := &fakeEvals{}
	ing := New(store, obs, evals, zap.NewNop())
	ing.SetClock(func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) })
	return ing, store, obs, evals
}

func TestParseTopic(t *testing.T) {
	account, feedKey, err := ParseTopic("acme/feeds/garden.soil-moisture")
	require.NoError(t, err)
	assert.Equal(t, "acme", account)
	assert.Equal(t, "garden.soil-moisture", feedKey)

	for _, topic := range []string{"", "acme", "acme/feeds", "acme/groups/x", "/feeds/x", "acme/feeds/", "a/feeds/b/c"} {
		_, _, err := ParseTopic(topic)
		assert.ErrorIs(t, err, ErrMalformedTopic, "topic %q", topic)
	}
}

func TestIngestValidMessage(t *testing.T) {
	ing, store, obs, evals := setupIngestor()

	err := ing.Ingest(context.Background(), "acme/feeds/garden.soil-moisture", []byte("42.5"))
	require.NoError(t, err)

	require.Len(t, store.readings, 1)
	assert.Equal(t, 42.5, store.readings[0].Value)
	assert.Equal(t, "dev-1", store.readings[0].DeviceID)
	assert.Equal(t, "feed-1", store.readings[0].FeedID)
	assert.Equal(t, 1, store.touches)
	assert.Equal(t, []float64{42.5}, obs.observed)
	assert.Equal(t, 1, evals.enqueued)
}

func TestIngestInvalidPayload(t *testing.T) {
	ing, store, _, _ := setupIngestor()

	err := ing.Ingest(context.Background(), "acme/feeds/garden.soil-moisture", []byte("not-a-number"))
	assert.ErrorIs(t, err, ErrInvalidReading)
	assert.Empty(t, store.readings)
}

func TestIngestUnknownFeed(t *testing.T) {
	ing, store, _, _ := setupIngestor()

	err := ing.Ingest(context.Background(), "acme/feeds/never-provisioned", []byte("10"))
	assert.ErrorIs(t, err, ErrUnknownFeed)
	assert.Empty(t, store.readings)
}

// Redelivery is intentionally not deduplicated: the transport is
// at-least-once and every delivery becomes a row.
func TestIngestDuplicateProducesTwoReadings(t *testing.T) {
	ing, store, _, evals := setupIngestor()

	for i := 0; i < 2; i++ {
		err := ing.Ingest(context.Background(), "acme/feeds/garden.soil-moisture", []byte("33"))
		require.NoError(t, err)
	}
	assert.Len(t, store.readings, 2)
	assert.Equal(t, store.readings[0].Value, store.readings[1].Value)
	assert.Equal(t, 2, evals.enqueued)
}

func TestHandleMessageNeverPanicsOnBadInput(t *testing.T) {
	ing, store, _, _ := setupIngestor()

	ing.HandleMessage("garbage", []byte("1"))
	ing.HandleMessage("acme/feeds/garden.soil-moisture", []byte("abc"))
	ing.HandleMessage("acme/feeds/garden.soil-moisture", []byte(" 12.25 "))

	// the one good message still landed
	require.Len(t, store.readings, 1)
	assert.Equal(t, 12.25, store.readings[0].Value)
}
