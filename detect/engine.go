package detect

import (
	"sync"
	"sync/atomic"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/util/goroutine"

	"go.uber.org/zap"
)

const (
	// DefaultInterval is the correlation pass cadence when the
	// configuration names none.
	DefaultInterval = 30 * time.Second

	// DefaultCooldown is the alert deduplication window.
	DefaultCooldown = 5 * time.Minute
)

// AlertSink receives alerts for durable storage. Persistence is best effort
// and never blocks alerting.
type AlertSink interface {
	WriteAlert(alert *core.Alert) error
}

// Engine periodically evaluates every enabled correlation rule against the
// event buffer. Passes are single flight: if a pass is still running when the
// ticker fires, the new pass is skipped rather than stacked.
type Engine struct {
	rules    []*core.CorrelationRule
	buffer   *core.EventBuffer
	alerts   *core.AlertStore
	sink     AlertSink
	metrics  *metrics.Registry
	logger   *zap.SugaredLogger
	interval time.Duration
	cooldown time.Duration

	inFlight atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewEngine creates a correlation engine over the given rule set. Disabled
// rules are filtered out up front. A nil sink disables alert persistence.
func NewEngine(rules []*core.CorrelationRule, buffer *core.EventBuffer, alerts *core.AlertStore, sink AlertSink, registry *metrics.Registry, interval, cooldown time.Duration, logger *zap.SugaredLogger) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	enabled := make([]*core.CorrelationRule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	return &Engine{
		rules:    enabled,
		buffer:   buffer,
		alerts:   alerts,
		sink:     sink,
		metrics:  registry,
		logger:   logger,
		interval: interval,
		cooldown: cooldown,
		done:     make(chan struct{}),
	}
}

// Start launches the periodic correlation loop.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer goroutine.Recover("correlation-engine", e.logger)

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-e.done:
				return
			case <-ticker.C:
				e.RunPass(time.Now().UTC())
			}
		}
	}()
	e.logger.Infow("correlation engine started",
		"rules", len(e.rules),
		"interval", e.interval,
		"cooldown", e.cooldown)
}

// Stop terminates the correlation loop and waits for any in-flight pass.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	close(e.done)
	e.wg.Wait()
	e.started = false
}

// RunPass evaluates every enabled rule once against the buffer. Returns false
// if a previous pass was still running and this one was skipped.
func (e *Engine) RunPass(now time.Time) bool {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.metrics.IncCorrelationPassesSkipped()
		e.logger.Warnw("correlation pass still running, skipping tick")
		return false
	}
	defer e.inFlight.Store(false)

	start := time.Now()
	for _, rule := range e.rules {
		e.evaluateRule(rule, now)
	}
	e.logger.Debugw("correlation pass complete",
		"rules", len(e.rules),
		"duration", time.Since(start))
	return true
}

func (e *Engine) evaluateRule(rule *core.CorrelationRule, now time.Time) {
	windowStart := now.Add(-rule.Window)
	events := e.buffer.Snapshot(windowStart)

	matching := events[:0:0]
	for _, ev := range events {
		if rule.Predicate.Matches(ev) {
			matching = append(matching, ev)
		}
	}
	if len(matching) < rule.Threshold {
		return
	}

	e.metrics.IncCorrelationRulesTriggered()

	alert := e.buildAlert(rule, matching)
	stored, created := e.alerts.CreateOrSuppress(alert, e.cooldown)
	if created {
		e.metrics.IncAlertsGenerated()
		e.logger.Infow("alert generated",
			"alert_id", stored.AlertID,
			"rule_id", rule.ID,
			"severity", stored.Severity,
			"events", len(stored.SourceEventIDs))
	}

	if e.sink != nil {
		if err := e.sink.WriteAlert(stored); err != nil {
			e.logger.Warnw("alert persistence failed", "alert_id", stored.AlertID, "error", err)
		}
	}
}

func (e *Engine) buildAlert(rule *core.CorrelationRule, matching []*core.Event) *core.Alert {
	alert := core.NewAlert(rule.ID)
	alert.Title = expandTemplate(rule.Title, matching)
	alert.Description = expandTemplate(rule.DescriptionTemplate, matching)
	if alert.Description == "" {
		alert.Description = rule.Description
	}
	alert.Severity = rule.Severity
	alert.Category = rule.Category
	alert.RecommendedActions = append([]string(nil), rule.RecommendedActions...)

	assets := make(map[string]struct{})
	iocs := make(map[string]struct{})
	for _, ev := range matching {
		alert.SourceEventIDs = append(alert.SourceEventIDs, ev.EventID)
		if ev.SourceSystem != "" {
			assets[ev.SourceSystem] = struct{}{}
		}
		for _, ioc := range ev.IOCs {
			iocs[ioc] = struct{}{}
		}
	}
	for asset := range assets {
		alert.AffectedAssets = append(alert.AffectedAssets, asset)
	}
	for ioc := range iocs {
		alert.IOCs = append(alert.IOCs, ioc)
	}
	return alert
}
