package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/threat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type captureSink struct {
	mu     sync.Mutex
	events []*core.Event
	err    error
}

func (s *captureSink) WriteEvent(event *core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type poolFixture struct {
	pool     *Pool
	queue    *Queue
	buffer   *core.EventBuffer
	store    *threat.Store
	sink     *captureSink
	registry *metrics.Registry
	cancel   context.CancelFunc
}

func newPoolFixture(t *testing.T, workers int) *poolFixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	registry := metrics.NewRegistry()
	queue := NewQueue(64, 20*time.Millisecond, 20*time.Millisecond, registry, logger)
	buffer := core.NewEventBuffer(1000)
	store := threat.NewStore(time.Hour, logger)
	t.Cleanup(store.Close)
	sink := &captureSink{}

	pool := NewPool(queue, NewParserRegistry(), threat.NewEnricher(store, registry, logger), buffer, sink, registry, workers, time.Second, logger)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	f := &poolFixture{pool: pool, queue: queue, buffer: buffer, store: store, sink: sink, registry: registry, cancel: cancel}
	t.Cleanup(func() {
		queue.Close()
		cancel()
		pool.Wait()
	})
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPoolNormalizesAndBuffers(t *testing.T) {
	f := newPoolFixture(t, 2)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.queue.Push(&RawEntry{
			SourceSystem: "fw-01",
			ParserHint:   "json",
			RawText:      `{"event_type":"conn","category":"network_traffic"}`,
		}))
	}

	waitFor(t, func() bool { return f.buffer.Len() == 5 })
	assert.Equal(t, 5, f.sink.count())
	assert.Equal(t, int64(5), f.registry.Snapshot().EventsProcessed)
}

func TestPoolIsolatesParseFailures(t *testing.T) {
	f := newPoolFixture(t, 1)

	require.NoError(t, f.queue.Push(&RawEntry{ParserHint: "json", RawText: "garbage"}))
	require.NoError(t, f.queue.Push(&RawEntry{ParserHint: "unknown-format", RawText: "{}"}))
	require.NoError(t, f.queue.Push(&RawEntry{
		SourceSystem: "fw-01",
		ParserHint:   "json",
		RawText:      `{"event_type":"conn","category":"network_traffic"}`,
	}))

	// The two bad entries are dropped; the good one flows through.
	waitFor(t, func() bool { return f.buffer.Len() == 1 })
	assert.Equal(t, int64(1), f.registry.Snapshot().EventsProcessed)
}

func TestPoolPersistFailureDoesNotBlockBuffering(t *testing.T) {
	f := newPoolFixture(t, 1)
	f.sink.err = errors.New("backend down")

	require.NoError(t, f.queue.Push(&RawEntry{
		SourceSystem: "fw-01",
		ParserHint:   "json",
		RawText:      `{"event_type":"conn","category":"network_traffic"}`,
	}))

	waitFor(t, func() bool { return f.buffer.Len() == 1 })
	assert.Equal(t, int64(1), f.registry.Snapshot().EventsProcessed)
	assert.Equal(t, 0, f.sink.count())
}

func TestPoolEnrichesThroughPipeline(t *testing.T) {
	f := newPoolFixture(t, 1)
	f.store.Upsert(&threat.Indicator{
		Value:      "203.0.113.66",
		Type:       "c2_server",
		Confidence: 0.9,
		Severity:   core.SeverityCritical,
		FirstSeen:  time.Now().UTC(),
		TTL:        time.Hour,
	})

	require.NoError(t, f.queue.Push(&RawEntry{
		SourceSystem: "fw-01",
		ParserHint:   "json",
		RawText:      `{"event_type":"conn","category":"network_traffic","source_ip":"203.0.113.66"}`,
	}))

	waitFor(t, func() bool { return f.buffer.Len() == 1 })
	events := f.buffer.Snapshot(time.Time{})
	require.Len(t, events, 1)
	assert.Equal(t, core.SeverityCritical, events[0].Severity)
	assert.True(t, events[0].HasTag(threat.TagThreatIntelMatch))
}

func TestPoolDrainsOnShutdown(t *testing.T) {
	f := newPoolFixture(t, 2)

	for i := 0; i < 20; i++ {
		require.NoError(t, f.queue.Push(&RawEntry{
			SourceSystem: "fw-01",
			ParserHint:   "json",
			RawText:      `{"event_type":"conn","category":"network_traffic"}`,
		}))
	}

	f.queue.Close()
	f.cancel()
	f.pool.Wait()

	assert.Equal(t, 20, f.buffer.Len(), "queued entries must be drained before workers exit")
}

func TestPoolInjectValidates(t *testing.T) {
	f := newPoolFixture(t, 1)

	good := core.NewEvent()
	good.EventType = "manual_observation"
	good.Category = core.CategoryPolicyViolation
	require.NoError(t, f.pool.Inject(good))
	assert.Equal(t, 1, f.buffer.Len())

	missingType := core.NewEvent()
	missingType.Category = core.CategoryPolicyViolation
	var verr *ValidationError
	err := f.pool.Inject(missingType)
	require.Error(t, err)
	assert.ErrorAs(t, err, &verr)

	badCategory := core.NewEvent()
	badCategory.EventType = "x"
	badCategory.Category = "nope"
	assert.Error(t, f.pool.Inject(badCategory))
}
