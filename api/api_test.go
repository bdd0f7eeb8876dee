package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"argus/core"
	"argus/ingest"
	"argus/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeInjector struct {
	events []*core.Event
	err    error
}

func (f *fakeInjector) Inject(event *core.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type captureAlertWriter struct {
	mu     sync.Mutex
	alerts []*core.Alert
}

func (c *captureAlertWriter) WriteAlert(alert *core.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *captureAlertWriter) all() []*core.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*core.Alert(nil), c.alerts...)
}

type apiFixture struct {
	api      *API
	buffer   *core.EventBuffer
	alerts   *core.AlertStore
	injector *fakeInjector
	writer   *captureAlertWriter
	server   *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	f := &apiFixture{
		buffer:   core.NewEventBuffer(100),
		alerts:   core.NewAlertStore(logger),
		injector: &fakeInjector{},
		writer:   &captureAlertWriter{},
	}
	f.api = NewAPI("127.0.0.1:0", f.buffer, f.alerts, metrics.NewRegistry(), f.injector, f.writer, RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000}, logger)
	f.server = httptest.NewServer(f.api.Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *apiFixture) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(f.server.URL+path, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func (f *apiFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func seedAlert(t *testing.T, f *apiFixture, ruleID string) string {
	t.Helper()
	a := core.NewAlert(ruleID)
	a.Title = "seeded"
	a.Severity = core.SeverityHigh
	a.SourceEventIDs = []string{"e-" + ruleID}
	stored, created := f.alerts.CreateOrSuppress(a, 0)
	require.True(t, created)
	return stored.AlertID
}

func TestCreateEvent(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.post(t, "/api/v1/events", map[string]interface{}{
		"source_system": "manual",
		"category":      "policy_violation",
		"event_type":    "manual_observation",
		"severity":      "medium",
		"description":   "analyst reported",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var event core.Event
	decodeBody(t, resp, &event)
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, core.SeverityMedium, event.Severity)
	require.Len(t, f.injector.events, 1)
}

func TestCreateEventBadInput(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.post(t, "/api/v1/events", map[string]interface{}{
		"category":   "policy_violation",
		"event_type": "x",
		"severity":   "mega",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/api/v1/events", map[string]interface{}{
		"category":   "policy_violation",
		"event_type": "x",
		"timestamp":  "noon",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Injector validation failures map to 400 as well.
	f.injector.err = &ingest.ValidationError{Field: "event_type", Reason: "must not be empty"}
	resp = f.post(t, "/api/v1/events", map[string]interface{}{
		"category": "policy_violation",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateEventInternalError(t *testing.T) {
	f := newAPIFixture(t)
	f.injector.err = errors.New("pipeline unavailable")

	resp := f.post(t, "/api/v1/events", map[string]interface{}{
		"category":   "policy_violation",
		"event_type": "x",
	})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body struct {
		Error         string `json:"error"`
		CorrelationID string `json:"correlation_id"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "internal error", body.Error)
	assert.NotEmpty(t, body.CorrelationID, "the cause stays in the logs, keyed by correlation id")
}

func TestListEvents(t *testing.T) {
	f := newAPIFixture(t)

	for i, sev := range []core.Severity{core.SeverityLow, core.SeverityHigh, core.SeverityCritical} {
		ev := core.NewEvent()
		ev.Timestamp = time.Now().UTC().Add(time.Duration(i) * time.Second)
		ev.EventType = "test"
		ev.Category = core.CategoryNetworkTraffic
		ev.Severity = sev
		f.buffer.Append(ev)
	}

	resp := f.get(t, "/api/v1/events?limit=2")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Events []core.Event `json:"events"`
		Count  int          `json:"count"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, 2, body.Count)

	resp = f.get(t, "/api/v1/events?severity=high")
	var filtered struct {
		Events []core.Event `json:"events"`
	}
	decodeBody(t, resp, &filtered)
	require.Len(t, filtered.Events, 2)
	for _, ev := range filtered.Events {
		assert.True(t, ev.Severity.AtLeast(core.SeverityHigh))
	}

	resp = f.get(t, "/api/v1/events?limit=zero")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestListEventsLimitBounds(t *testing.T) {
	f := newAPIFixture(t)

	for _, raw := range []string{"9000000000000000000", "1001", "0", "-5"} {
		resp := f.get(t, "/api/v1/events?limit="+raw)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "limit=%s must be rejected", raw)
		resp.Body.Close()
	}

	resp := f.get(t, "/api/v1/events?limit=1000")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestActiveAlertsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	seedAlert(t, f, "rule-1")
	seedAlert(t, f, "rule-2")

	resp := f.get(t, "/api/v1/alerts/active")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Alerts []core.Alert `json:"alerts"`
		Count  int          `json:"count"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, 2, body.Count)
}

func TestAlertLifecycleEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	id := seedAlert(t, f, "rule-1")

	resp := f.post(t, "/api/v1/alerts/"+id+"/acknowledge", map[string]string{"analyst": "carol"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var a core.Alert
	decodeBody(t, resp, &a)
	assert.Equal(t, core.AlertStatusInvestigating, a.Status)
	assert.Equal(t, "carol", a.AssignedAnalyst)

	resp = f.post(t, "/api/v1/alerts/"+id+"/confirm", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/api/v1/alerts/"+id+"/resolve", map[string]string{"notes": "contained"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &a)
	assert.Equal(t, core.AlertStatusResolved, a.Status)
	assert.Equal(t, "contained", a.ResolutionNotes)
}

func TestAlertLifecycleWriteThrough(t *testing.T) {
	f := newAPIFixture(t)
	id := seedAlert(t, f, "rule-1")

	resp := f.post(t, "/api/v1/alerts/"+id+"/acknowledge", map[string]string{"analyst": "rivera"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	written := f.writer.all()
	require.Len(t, written, 1)
	assert.Equal(t, id, written[0].AlertID)
	assert.Equal(t, core.AlertStatusInvestigating, written[0].Status)

	// A rejected transition must not reach the sink.
	resp = f.post(t, "/api/v1/alerts/"+id+"/resolve", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
	assert.Len(t, f.writer.all(), 1)
}

func TestAlertLifecycleConflict(t *testing.T) {
	f := newAPIFixture(t)
	id := seedAlert(t, f, "rule-1")

	// NEW -> RESOLVED is not a legal edge.
	resp := f.post(t, "/api/v1/alerts/"+id+"/resolve", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestAlertNotFound(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.post(t, "/api/v1/alerts/unknown/confirm", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = f.get(t, "/api/v1/alerts/unknown")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestSuppressEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	id := seedAlert(t, f, "rule-1")

	resp := f.post(t, "/api/v1/alerts/"+id+"/suppress", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	a, ok := f.alerts.Get(id)
	require.True(t, ok)
	assert.Equal(t, core.AlertStatusSuppressed, a.Status)
}

func TestStopIsIdempotent(t *testing.T) {
	f := newAPIFixture(t)

	require.NoError(t, f.api.Stop(context.Background()))
	assert.NotPanics(t, func() {
		require.NoError(t, f.api.Stop(context.Background()))
	})
}

func TestMetricsSnapshotEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.get(t, "/api/v1/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decodeBody(t, resp, &body)
	assert.Contains(t, body, "events_processed")
	assert.Contains(t, body, "uptime_seconds")
}

func TestPrometheusEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestRateLimiting(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	a := NewAPI("127.0.0.1:0", core.NewEventBuffer(10), core.NewAlertStore(logger), metrics.NewRegistry(), &fakeInjector{}, &captureAlertWriter{}, RateLimitConfig{RequestsPerSecond: 1, Burst: 2}, logger)
	server := httptest.NewServer(a.Handler())
	defer server.Close()

	limited := false
	for i := 0; i < 10; i++ {
		resp, err := http.Get(server.URL + "/api/v1/alerts/active")
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst exhaustion must produce 429")
}
