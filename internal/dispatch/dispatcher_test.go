package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartfarm/internal/models"
)

type publishedMsg struct {
	topic   string
	payload string
}

type fakePublisher struct {
	mu       sync.Mutex
	failures int
	sent     []publishedMsg
}

func (f *fakePublisher) Publish(topic string, _ byte, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unreachable")
	}
	f.sent = append(f.sent, publishedMsg{topic: topic, payload: string(payload)})
	return nil
}

func (f *fakePublisher) published() []publishedMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMsg(nil), f.sent...)
}

// fakeRecords tracks how many inserted commands are unacknowledged at
// any moment, to check the one-in-flight invariant.
type fakeRecords struct {
	mu         sync.Mutex
	inserted   []models.Command
	acked      map[string]time.Time
	unacked    int
	maxUnacked int
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{acked: make(map[string]time.Time)}
}

func (f *fakeRecords) InsertCommand(_ context.Context, c *models.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, *c)
	f.unacked++
	if f.unacked > f.maxUnacked {
		f.maxUnacked = f.unacked
	}
	return nil
}

func (f *fakeRecords) AckCommand(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked[id] = at
	f.unacked--
	return nil
}

func (f *fakeRecords) commands() []models.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Command(nil), f.inserted...)
}

type recordedObserver struct {
	mu   sync.Mutex
	cmds []models.Command
}

func (o *recordedObserver) CommandIssued(cmd models.Command) {
	o.mu.Lock()
	o.cmds = append(o.cmds, cmd)
	o.mu.Unlock()
}

func newTestDispatcher(pub *fakePublisher, rec *fakeRecords) *Dispatcher {
	d := New(pub, rec, "acme", zap.NewNop())
	d.SetRetry(3, time.Millisecond)
	return d
}

func TestDispatchPublishesAndRecords(t *testing.T) {
	pub := &fakePublisher{}
	rec := newFakeRecords()
	d := newTestDispatcher(pub, rec)
	obs := &recordedObserver{}
	d.SetObserver(obs)

	err := d.Dispatch(context.Background(), Request{
		DeviceID: "pump-1", FeedKey: "garden.pump", Value: 50, Source: models.SourceSchedule,
	})
	require.NoError(t, err)

	sent := pub.published()
	require.Len(t, sent, 1)
	assert.Equal(t, "acme/feeds/garden.pump", sent[0].topic)
	assert.Equal(t, "50", sent[0].payload)

	cmds := rec.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, models.SourceSchedule, cmds[0].Source)
	assert.Len(t, obs.cmds, 1)

	pending, ok := d.Pending("pump-1")
	require.True(t, ok)
	assert.Equal(t, 50.0, pending.Value)
	assert.Nil(t, pending.AckedAt)
}

func TestPayloadFormat(t *testing.T) {
	assert.Equal(t, "0", formatValue(0))
	assert.Equal(t, "100", formatValue(100))
	assert.Equal(t, "12.5", formatValue(12.5))
}

func TestRetryExhaustionFails(t *testing.T) {
	pub := &fakePublisher{failures: 3}
	rec := newFakeRecords()
	d := newTestDispatcher(pub, rec)

	err := d.Dispatch(context.Background(), Request{
		DeviceID: "pump-1", FeedKey: "garden.pump", Value: 50, Source: models.SourceSchedule,
	})
	assert.ErrorIs(t, err, ErrDispatchFailed)
	assert.Empty(t, rec.commands())
	_, ok := d.Pending("pump-1")
	assert.False(t, ok)
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	pub := &fakePublisher{failures: 2}
	rec := newFakeRecords()
	d := newTestDispatcher(pub, rec)

	err := d.Dispatch(context.Background(), Request{
		DeviceID: "pump-1", FeedKey: "garden.pump", Value: 50, Source: models.SourceSchedule,
	})
	require.NoError(t, err)
	assert.Len(t, pub.published(), 1)
}

func TestTryDispatchBusy(t *testing.T) {
	pub := &fakePublisher{}
	rec := newFakeRecords()
	d := newTestDispatcher(pub, rec)
	ctx := context.Background()

	req := Request{DeviceID: "pump-1", FeedKey: "garden.pump", Value: 50, Source: models.SourceManual}
	require.NoError(t, d.TryDispatch(ctx, req))

	err := d.TryDispatch(ctx, Request{DeviceID: "pump-1", FeedKey: "garden.pump", Value: 0, Source: models.SourceManual})
	assert.ErrorIs(t, err, ErrDeviceBusy)

	// other devices are unaffected
	require.NoError(t, d.TryDispatch(ctx, Request{DeviceID: "light-1", FeedKey: "garden.light", Value: 1, Source: models.SourceManual}))
}

func TestQueuedRequestIsLastWriteWins(t *testing.T) {
	pub := &fakePublisher{}
	rec := newFakeRecords()
	d := newTestDispatcher(pub, rec)
	ctx := context.Background()

	base := Request{DeviceID: "pump-1", FeedKey: "garden.pump", Source: models.SourceSchedule}

	first := base
	first.Value = 50
	require.NoError(t, d.Dispatch(ctx, first))

	// both land while the first command is unacknowledged; only the
	// newest survives
	second := base
	second.Value = 70
	require.NoError(t, d.Dispatch(ctx, second))
	third := base
	third.Value = 0
	require.NoError(t, d.Dispatch(ctx, third))

	assert.Len(t, pub.published(), 1)

	acked := d.Acknowledge(ctx, "pump-1", 50, time.Now())
	assert.True(t, acked)

	sent := pub.published()
	require.Len(t, sent, 2)
	assert.Equal(t, "0", sent[1].payload)

	cmds := rec.commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, 0.0, cmds[1].Value)
}

func TestAcknowledgeTolerance(t *testing.T) {
	pub := &fakePublisher{}
	rec := newFakeRecords()
	d := newTestDispatcher(pub, rec)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, Request{
		DeviceID: "pump-1", FeedKey: "garden.pump", Value: 50, Source: models.SourceSchedule,
	}))

	assert.False(t, d.Acknowledge(ctx, "pump-1", 48, time.Now()), "outside tolerance")
	assert.False(t, d.Acknowledge(ctx, "other", 50, time.Now()), "wrong device")
	assert.True(t, d.Acknowledge(ctx, "pump-1", 50.4, time.Now()), "inside tolerance")

	_, ok := d.Pending("pump-1")
	assert.False(t, ok)
	assert.Len(t, rec.acked, 1)
}

func TestAtMostOneUnackedUnderConcurrency(t *testing.T) {
	pub := &fakePublisher{}
	rec := newFakeRecords()
	d := newTestDispatcher(pub, rec)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			_ = d.Dispatch(ctx, Request{
				DeviceID: "pump-1", FeedKey: "garden.pump", Value: v, Source: models.SourceThreshold,
			})
		}(float64(i))
	}
	wg.Wait()

	// drain: ack whatever is pending until the lane is empty
	for {
		pending, ok := d.Pending("pump-1")
		if !ok {
			break
		}
		require.True(t, d.Acknowledge(ctx, "pump-1", pending.Value, time.Now()))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.maxUnacked, "never more than one unacknowledged command per device")
	assert.Zero(t, rec.unacked)
}
