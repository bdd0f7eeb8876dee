// Package ingest carries raw entries from external producers through the
// bounded ingestion queue and the normalization worker pool into the event
// buffer.
package ingest

import (
	"errors"
	"sync/atomic"
	"time"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

// Sentinel errors for queue operations. Overflow and shutdown are normal
// operating conditions for producers, never fatal.
var (
	ErrQueueFull   = errors.New("ingestion queue full")
	ErrQueueClosed = errors.New("ingestion queue closed")
)

// RawEntry is a parsed-but-unenriched entry handed over by a collaborator
// that tails files or sockets. The format-specific grammar behind RawText is
// the collaborator's concern; ParserHint selects the boundary parser.
type RawEntry struct {
	SourceSystem string        `json:"source_system"`
	CategoryHint core.Category `json:"category_hint"`
	ParserHint   string        `json:"parser_hint"`
	RawText      string        `json:"raw_text"`
	ArrivalTime  time.Time     `json:"arrival_time"`
}

// Queue is a bounded multi-producer/multi-consumer FIFO of raw entries.
// Push waits at most pushTimeout and then drops the entry, so a producer is
// never blocked indefinitely and never crashed by backpressure. Pop polls
// with a short timeout so workers observe shutdown promptly.
type Queue struct {
	ch          chan *RawEntry
	pushTimeout time.Duration
	popTimeout  time.Duration
	closed      atomic.Bool
	metrics     *metrics.Registry
	logger      *zap.SugaredLogger
}

// NewQueue creates a queue with the given capacity and timeouts.
func NewQueue(capacity int, pushTimeout, popTimeout time.Duration, registry *metrics.Registry, logger *zap.SugaredLogger) *Queue {
	if capacity <= 0 {
		capacity = 4096
	}
	if pushTimeout <= 0 {
		pushTimeout = 100 * time.Millisecond
	}
	if popTimeout <= 0 {
		popTimeout = 200 * time.Millisecond
	}
	return &Queue{
		ch:          make(chan *RawEntry, capacity),
		pushTimeout: pushTimeout,
		popTimeout:  popTimeout,
		metrics:     registry,
		logger:      logger,
	}
}

// Push enqueues an entry, waiting at most the push timeout. On timeout the
// entry is dropped, the dropped_overflow counter incremented and
// ErrQueueFull returned.
func (q *Queue) Push(entry *RawEntry) error {
	if entry == nil {
		return nil
	}
	if q.closed.Load() {
		return ErrQueueClosed
	}
	if entry.ArrivalTime.IsZero() {
		entry.ArrivalTime = time.Now().UTC()
	}

	select {
	case q.ch <- entry:
		return nil
	default:
	}

	timer := time.NewTimer(q.pushTimeout)
	defer timer.Stop()

	select {
	case q.ch <- entry:
		return nil
	case <-timer.C:
		if q.metrics != nil {
			q.metrics.IncDroppedOverflow()
		}
		if q.logger != nil {
			q.logger.Warnw("Dropped raw entry on queue overflow",
				"source_system", entry.SourceSystem,
				"parser_hint", entry.ParserHint)
		}
		return ErrQueueFull
	}
}

// Pop dequeues an entry, waiting at most the poll timeout. It returns
// (nil, true) on a poll timeout while the queue is open, and (nil, false)
// once the queue is closed and drained.
func (q *Queue) Pop() (*RawEntry, bool) {
	select {
	case entry := <-q.ch:
		return entry, true
	default:
	}

	timer := time.NewTimer(q.popTimeout)
	defer timer.Stop()

	select {
	case entry := <-q.ch:
		return entry, true
	case <-timer.C:
		if q.closed.Load() {
			// One last non-blocking read so a close racing with a late Push
			// still drains.
			select {
			case entry := <-q.ch:
				return entry, true
			default:
				return nil, false
			}
		}
		return nil, true
	}
}

// Close stops intake. Entries already queued remain poppable; the underlying
// channel is never closed so a racing Push cannot panic.
func (q *Queue) Close() {
	q.closed.Store(true)
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
