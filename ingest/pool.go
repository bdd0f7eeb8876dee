package ingest

import (
	"context"
	"sync"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/threat"
	"argus/util/goroutine"

	"go.uber.org/zap"
)

const (
	// DefaultWorkers is the normalization worker count when the
	// configuration names none.
	DefaultWorkers = 3

	// DefaultDrainTimeout bounds how long shutdown waits for workers to
	// finish the entries still queued.
	DefaultDrainTimeout = 5 * time.Second
)

// EventSink receives normalized events for durable storage. Persistence is
// best effort: a sink failure is logged and never stalls the pipeline.
type EventSink interface {
	WriteEvent(event *core.Event) error
}

// Pool runs the normalization workers. Each worker pops raw entries from the
// queue, parses them, enriches them against threat intelligence, appends them
// to the in-memory buffer and hands them to the event sink.
type Pool struct {
	queue        *Queue
	parsers      *ParserRegistry
	enricher     *threat.Enricher
	buffer       *core.EventBuffer
	sink         EventSink
	metrics      *metrics.Registry
	logger       *zap.SugaredLogger
	workers      int
	drainTimeout time.Duration

	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewPool creates a worker pool. A nil sink disables persistence.
func NewPool(queue *Queue, parsers *ParserRegistry, enricher *threat.Enricher, buffer *core.EventBuffer, sink EventSink, registry *metrics.Registry, workers int, drainTimeout time.Duration, logger *zap.SugaredLogger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	return &Pool{
		queue:        queue,
		parsers:      parsers,
		enricher:     enricher,
		buffer:       buffer,
		sink:         sink,
		metrics:      registry,
		logger:       logger,
		workers:      workers,
		drainTimeout: drainTimeout,
	}
}

// Start launches the workers. Cancelling the context begins a bounded drain:
// workers keep consuming queued entries until the queue is empty or the
// drain timeout elapses.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.Infow("normalization workers started", "workers", p.workers)
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	defer goroutine.Recover("normalization-worker", p.logger)

	var deadline time.Time
	for {
		if deadline.IsZero() {
			select {
			case <-ctx.Done():
				deadline = time.Now().Add(p.drainTimeout)
			default:
			}
		}
		if !deadline.IsZero() {
			if time.Now().After(deadline) || p.queue.Len() == 0 {
				p.logger.Debugw("normalization worker drained", "worker", id)
				return
			}
		}

		entry, ok := p.queue.Pop()
		if !ok {
			return
		}
		if entry == nil {
			continue
		}
		p.process(entry)
	}
}

func (p *Pool) process(entry *RawEntry) {
	parser, ok := p.parsers.Get(entry.ParserHint)
	if !ok {
		p.logger.Warnw("no parser for entry", "parser_hint", entry.ParserHint, "source_system", entry.SourceSystem)
		return
	}

	event, err := parser.Parse(entry)
	if err != nil {
		p.logger.Warnw("dropping unparseable entry", "parser", parser.Name(), "source_system", entry.SourceSystem, "error", err)
		return
	}

	p.dispatch(event)
}

// Inject normalizes an already-built event through the enrichment, buffering
// and persistence stages. The management API uses it for manually created
// events so they take the same path as ingested ones.
func (p *Pool) Inject(event *core.Event) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	p.dispatch(event)
	return nil
}

func (p *Pool) dispatch(event *core.Event) {
	p.enricher.Enrich(event)
	p.buffer.Append(event)

	if p.sink != nil {
		if err := p.sink.WriteEvent(event); err != nil {
			p.logger.Warnw("event persistence failed", "event_id", event.EventID, "error", err)
		}
	}
	p.metrics.IncEventsProcessed()
}

func validateEvent(event *core.Event) error {
	if event.EventType == "" {
		return &ValidationError{Field: "event_type", Reason: "must not be empty"}
	}
	if !event.Category.IsValid() {
		return &ValidationError{Field: "category", Reason: "unknown category"}
	}
	if _, err := core.ParseSeverity(string(event.Severity)); err != nil {
		return &ValidationError{Field: "severity", Reason: "unknown severity"}
	}
	return nil
}

// ValidationError reports a rejected manual event.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid event: " + e.Field + " " + e.Reason
}
