package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"owl-thermo/internal/models"
	"owl-thermo/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReadings struct {
	mu    sync.Mutex
	temps map[string]float64
}

func newFakeReadings() *fakeReadings {
	return &fakeReadings{temps: make(map[string]float64)}
}

func (f *fakeReadings) set(id string, temp float64) {
	f.mu.Lock()
	f.temps[id] = temp
	f.mu.Unlock()
}

func (f *fakeReadings) Readings() []models.LatestTemp {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LatestTemp
	for _, id := range []string{"dev-1", "dev-2", "dev-3"} {
		if temp, ok := f.temps[id]; ok {
			out = append(out, models.LatestTemp{DeviceID: id, TempC: temp})
		}
	}
	return out
}

type fakeConfigs struct {
	configs map[string]models.DeviceConfig
	err     error
}

func (f *fakeConfigs) GetAll(context.Context) (map[string]models.DeviceConfig, error) {
	return f.configs, f.err
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]models.AlertEvent
	err     error
	panics  bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, events []models.AlertEvent) error {
	if s.panics {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, events)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestEngine(readings ReadingSource, configs ConfigSource, states StateStore, sinks ...Sink) (*Engine, *clock) {
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	e := NewEngine(readings, configs, states, time.Second, zap.NewNop(), sinks...)
	e.now = c.now
	n := 0
	e.newID = func() string {
		n++
		return "evt-" + string(rune('0'+n))
	}
	return e, c
}

func TestEngine_PendingThenAlertingScenario(t *testing.T) {
	readings := newFakeReadings()
	sink := &recordingSink{}
	cfg := &fakeConfigs{configs: map[string]models.DeviceConfig{
		"dev-1": {DeviceID: "dev-1", Alias: "Freezer", Threshold: 50, Duration: 10},
	}}
	e, c := newTestEngine(readings, cfg, NewMemoryStateStore(), sink)
	start := c.t

	samples := []float64{48, 52, 53, 54, 55, 56}
	pendingAt, alertingAt := -1, -1
	for sec := 0; sec <= 30; sec++ {
		c.t = start.Add(time.Duration(sec) * time.Second)
		idx := sec / 2
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		readings.set("dev-1", samples[idx])

		events := e.Tick(context.Background())
		st, ok := e.State("dev-1")
		if ok && pendingAt < 0 {
			pendingAt = sec
			assert.Equal(t, c.t, st.StartTime)
		}
		if len(events) > 0 {
			require.Equal(t, -1, alertingAt, "alert fired twice for one breach")
			alertingAt = sec
			require.Len(t, events, 1)
			assert.Equal(t, "dev-1", events[0].DeviceID)
			assert.Equal(t, "Freezer", events[0].Alias)
			assert.GreaterOrEqual(t, events[0].Temperature, 52.0)
			assert.Equal(t, 50.0, events[0].Threshold)
			assert.Equal(t, 10, events[0].Duration)
			assert.True(t, st.Alerted)
		}
	}
	e.Wait()

	assert.Equal(t, 2, pendingAt)
	assert.Equal(t, 12, alertingAt)
	assert.Equal(t, 1, sink.count())
}

func TestEngine_RecoveryRestartsTimer(t *testing.T) {
	readings := newFakeReadings()
	e, c := newTestEngine(readings, &fakeConfigs{}, NewMemoryStateStore())
	ctx := context.Background()

	readings.set("dev-1", 60)
	e.Tick(ctx)
	c.t = c.t.Add(10 * time.Second)
	require.Len(t, e.Tick(ctx), 1)

	// 等于阈值即恢复
	readings.set("dev-1", 50)
	c.t = c.t.Add(time.Second)
	e.Tick(ctx)
	_, ok := e.State("dev-1")
	assert.False(t, ok)

	readings.set("dev-1", 51)
	c.t = c.t.Add(time.Second)
	e.Tick(ctx)
	st, ok := e.State("dev-1")
	require.True(t, ok)
	assert.False(t, st.Alerted)
	assert.Equal(t, c.t, st.StartTime)

	c.t = c.t.Add(9 * time.Second)
	assert.Empty(t, e.Tick(ctx))
	c.t = c.t.Add(time.Second)
	assert.Len(t, e.Tick(ctx), 1)
}

func TestEngine_BatchesDevicesInSameTick(t *testing.T) {
	readings := newFakeReadings()
	sink := &recordingSink{}
	e, c := newTestEngine(readings, &fakeConfigs{}, NewMemoryStateStore(), sink)
	ctx := context.Background()

	readings.set("dev-1", 70)
	readings.set("dev-2", 80)
	readings.set("dev-3", 20)
	e.Tick(ctx)
	c.t = c.t.Add(10 * time.Second)
	events := e.Tick(ctx)
	e.Wait()

	require.Len(t, events, 2)
	require.Equal(t, 1, sink.count())
	assert.Len(t, sink.batches[0], 2)
	assert.NotEqual(t, events[0].EventID, events[1].EventID)
}

func TestEngine_InvalidateClearsState(t *testing.T) {
	readings := newFakeReadings()
	e, c := newTestEngine(readings, &fakeConfigs{}, NewMemoryStateStore())
	ctx := context.Background()

	readings.set("dev-1", 60)
	e.Tick(ctx)
	c.t = c.t.Add(10 * time.Second)
	require.Len(t, e.Tick(ctx), 1)

	// 配置重新保存（即使值相同）后重新计时
	require.NoError(t, e.Invalidate(ctx, "dev-1"))
	c.t = c.t.Add(time.Second)
	assert.Empty(t, e.Tick(ctx))
	st, ok := e.State("dev-1")
	require.True(t, ok)
	assert.False(t, st.Alerted)
	assert.Equal(t, c.t, st.StartTime)
}

func TestEngine_ConfigErrorUsesDefaults(t *testing.T) {
	readings := newFakeReadings()
	e, c := newTestEngine(readings, &fakeConfigs{err: errors.New("redis down")}, NewMemoryStateStore())
	ctx := context.Background()

	readings.set("dev-1", 50.5)
	e.Tick(ctx)
	c.t = c.t.Add(time.Duration(models.DefaultDuration) * time.Second)
	events := e.Tick(ctx)
	require.Len(t, events, 1)
	assert.Equal(t, models.DefaultThreshold, events[0].Threshold)
}

func TestEngine_SinkFailuresDoNotBreakTick(t *testing.T) {
	readings := newFakeReadings()
	failing := &recordingSink{err: models.ErrNotification}
	panicking := &recordingSink{panics: true}
	e, c := newTestEngine(readings, &fakeConfigs{}, NewMemoryStateStore(), failing, panicking)
	ctx := context.Background()

	readings.set("dev-1", 99)
	e.Tick(ctx)
	c.t = c.t.Add(10 * time.Second)
	assert.Len(t, e.Tick(ctx), 1)
	e.Wait()
	assert.Equal(t, 1, failing.count())
}

func TestEngine_RunEvaluatesOnTicker(t *testing.T) {
	readings := newFakeReadings()
	states := NewMemoryStateStore()
	e := NewEngine(readings, &fakeConfigs{}, states, 10*time.Millisecond, zap.NewNop())

	readings.set("dev-1", 60)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		s, _ := states.Load(context.Background())
		return len(s) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestKVStateStore_SurvivesRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	states := NewKVStateStore(store.NewRedisKV(rdb), "thermo:alert:state:")

	readings := newFakeReadings()
	e1, c := newTestEngine(readings, &fakeConfigs{}, states)
	ctx := context.Background()

	readings.set("dev-1", 70)
	e1.Tick(ctx)
	started := c.t

	// 新进程：从 Redis 恢复计时
	e2, c2 := newTestEngine(readings, &fakeConfigs{}, states)
	c2.t = started.Add(5 * time.Second)
	assert.Empty(t, e2.Tick(ctx))
	st, ok := e2.State("dev-1")
	require.True(t, ok)
	assert.True(t, st.StartTime.Equal(started))

	c2.t = started.Add(10 * time.Second)
	assert.Len(t, e2.Tick(ctx), 1)

	readings.set("dev-1", 40)
	e2.Tick(ctx)
	loaded, err := states.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

type fakeLatest struct {
	temps []models.LatestTemp
	err   error
}

func (f *fakeLatest) LatestTemps(context.Context) ([]models.LatestTemp, error) {
	return f.temps, f.err
}

func TestSnapshot_RefreshKeepsOldDataOnError(t *testing.T) {
	src := &fakeLatest{temps: []models.LatestTemp{{DeviceID: "b", TempC: 2}, {DeviceID: "a", TempC: 1}}}
	s := NewSnapshot(src, time.Second, zap.NewNop())

	require.NoError(t, s.Refresh(context.Background()))
	got := s.Readings()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].DeviceID)
	assert.False(t, s.RefreshedAt().IsZero())

	src.err = errors.New("db down")
	assert.Error(t, s.Refresh(context.Background()))
	assert.Len(t, s.Readings(), 2)
}

type fakeDispatcher struct {
	ok     bool
	alerts []models.AlertDescriptor
}

func (f *fakeDispatcher) Send(_ context.Context, alerts []models.AlertDescriptor) bool {
	f.alerts = alerts
	return f.ok
}

func TestNotifierSink(t *testing.T) {
	d := &fakeDispatcher{ok: false}
	s := NewNotifierSink(d)
	events := []models.AlertEvent{{EventID: "1", AlertDescriptor: models.AlertDescriptor{DeviceID: "dev-1", Temperature: 60}}}

	err := s.Publish(context.Background(), events)
	assert.ErrorIs(t, err, models.ErrNotification)
	require.Len(t, d.alerts, 1)
	assert.Equal(t, "dev-1", d.alerts[0].DeviceID)

	d.ok = true
	assert.NoError(t, s.Publish(context.Background(), events))
}

func TestStreamSink(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := NewStreamSink(rdb, "thermo:alert:stream", 100)
	events := []models.AlertEvent{
		{EventID: "1", AlertDescriptor: models.AlertDescriptor{DeviceID: "dev-1"}},
		{EventID: "2", AlertDescriptor: models.AlertDescriptor{DeviceID: "dev-2"}},
	}
	require.NoError(t, s.Publish(context.Background(), events))

	msgs, err := rdb.XRange(context.Background(), "thermo:alert:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Values["data"], `"event_id":"1"`)
}
