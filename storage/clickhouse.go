package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"argus/core"
	"argus/util/goroutine"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	// DefaultBatchSize is the flush threshold when the configuration
	// names none.
	DefaultBatchSize = 1000

	// DefaultFlushInterval bounds how long a partial batch sits unflushed.
	DefaultFlushInterval = 5 * time.Second

	// DefaultBacklog is the channel capacity between the pipeline and the
	// batch flushers.
	DefaultBacklog = 10000

	finalFlushTimeout = 30 * time.Second
)

// ClickHouseOptions configures the connection and batching behavior.
type ClickHouseOptions struct {
	Addr          string
	Database      string
	Username      string
	Password      string
	BatchSize     int
	FlushInterval time.Duration
	Backlog       int
}

// ClickHouseSink batches events and alerts into ClickHouse. Writes are
// non-blocking: when the backlog is full the write is rejected with
// ErrUnavailable rather than stalling the pipeline.
type ClickHouseSink struct {
	conn          driver.Conn
	logger        *zap.SugaredLogger
	batchSize     int
	flushInterval time.Duration

	eventCh chan *core.Event
	alertCh chan *core.Alert

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClickHouseSink connects to ClickHouse, verifies the connection and
// creates the events and alerts tables.
func NewClickHouseSink(opts ClickHouseOptions, logger *zap.SugaredLogger) (*ClickHouseSink, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Backlog <= 0 {
		opts.Backlog = DefaultBacklog
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 10 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	ctx, cancelWorkers := context.WithCancel(context.Background())
	s := &ClickHouseSink{
		conn:          conn,
		logger:        logger,
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		eventCh:       make(chan *core.Event, opts.Backlog),
		alertCh:       make(chan *core.Alert, opts.Backlog),
		ctx:           ctx,
		cancel:        cancelWorkers,
	}

	if err := s.createTables(pingCtx); err != nil {
		cancelWorkers()
		conn.Close()
		return nil, err
	}

	logger.Infow("connected to clickhouse", "addr", opts.Addr, "database", opts.Database)
	return s, nil
}

func (s *ClickHouseSink) createTables(ctx context.Context) error {
	eventsTable := `
	CREATE TABLE IF NOT EXISTS events (
		event_id String,
		timestamp DateTime64(3, 'UTC'),
		source_system LowCardinality(String),
		source_ip String,
		destination_ip String,
		source_port Int32,
		destination_port Int32,
		protocol LowCardinality(String),
		category LowCardinality(String),
		severity LowCardinality(String),
		event_type LowCardinality(String),
		description String,
		user_id String,
		process_name String,
		file_path String,
		command_line String,
		indicators_of_compromise Array(String),
		risk_score Float64,
		tags Array(String),
		INDEX idx_source_ip source_ip TYPE bloom_filter(0.01) GRANULARITY 1,
		INDEX idx_event_type event_type TYPE set(0) GRANULARITY 1
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (timestamp, category, source_system)
	TTL toDateTime(timestamp) + INTERVAL 30 DAY
	SETTINGS index_granularity = 8192
	`
	if err := s.conn.Exec(ctx, eventsTable); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}

	alertsTable := `
	CREATE TABLE IF NOT EXISTS alerts (
		alert_id String,
		rule_id String,
		title String,
		description String,
		severity LowCardinality(String),
		category LowCardinality(String),
		status LowCardinality(String),
		created_time DateTime64(3, 'UTC'),
		updated_time DateTime64(3, 'UTC'),
		source_event_ids Array(String),
		affected_assets Array(String),
		indicators_of_compromise Array(String),
		recommended_actions Array(String),
		assigned_analyst String,
		resolution_notes String,
		INDEX idx_rule_id rule_id TYPE bloom_filter(0.01) GRANULARITY 1,
		INDEX idx_status status TYPE set(0) GRANULARITY 1
	) ENGINE = ReplacingMergeTree(updated_time)
	ORDER BY alert_id
	SETTINGS index_granularity = 8192
	`
	if err := s.conn.Exec(ctx, alertsTable); err != nil {
		return fmt.Errorf("create alerts table: %w", err)
	}
	return nil
}

// Start launches the batch flusher goroutines.
func (s *ClickHouseSink) Start() {
	s.wg.Add(2)
	go s.eventFlusher()
	go s.alertFlusher()
}

// WriteEvent enqueues an event for batched insertion. Never blocks.
func (s *ClickHouseSink) WriteEvent(event *core.Event) error {
	select {
	case s.eventCh <- event:
		return nil
	default:
		return fmt.Errorf("event backlog full: %w", ErrUnavailable)
	}
}

// WriteAlert enqueues an alert for batched insertion. Never blocks. Repeated
// writes of the same alert ID are collapsed by the ReplacingMergeTree on
// updated_time.
func (s *ClickHouseSink) WriteAlert(alert *core.Alert) error {
	select {
	case s.alertCh <- alert:
		return nil
	default:
		return fmt.Errorf("alert backlog full: %w", ErrUnavailable)
	}
}

func (s *ClickHouseSink) eventFlusher() {
	defer s.wg.Done()
	defer goroutine.Recover("clickhouse-event-flusher", s.logger)

	batch := make([]*core.Event, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := s.insertEvents(ctx, batch); err != nil {
			s.logger.Errorw("event batch insert failed, dropping batch",
				"events", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-s.eventCh:
			batch = append(batch, event)
			if len(batch) >= s.batchSize {
				flush(s.ctx)
				ticker.Reset(s.flushInterval)
			}
		case <-ticker.C:
			flush(s.ctx)
		case <-s.ctx.Done():
			// Drain whatever is already queued, then final flush.
			for {
				select {
				case event := <-s.eventCh:
					batch = append(batch, event)
				default:
					flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
					flush(flushCtx)
					cancel()
					return
				}
			}
		}
	}
}

func (s *ClickHouseSink) alertFlusher() {
	defer s.wg.Done()
	defer goroutine.Recover("clickhouse-alert-flusher", s.logger)

	batch := make([]*core.Alert, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := s.insertAlerts(ctx, batch); err != nil {
			s.logger.Errorw("alert batch insert failed, dropping batch",
				"alerts", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case alert := <-s.alertCh:
			batch = append(batch, alert)
			if len(batch) >= s.batchSize {
				flush(s.ctx)
				ticker.Reset(s.flushInterval)
			}
		case <-ticker.C:
			flush(s.ctx)
		case <-s.ctx.Done():
			for {
				select {
				case alert := <-s.alertCh:
					batch = append(batch, alert)
				default:
					flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
					flush(flushCtx)
					cancel()
					return
				}
			}
		}
	}
}

func (s *ClickHouseSink) insertEvents(ctx context.Context, batch []*core.Event) error {
	prepared, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO events (
			event_id, timestamp, source_system, source_ip, destination_ip,
			source_port, destination_port, protocol, category, severity,
			event_type, description, user_id, process_name, file_path,
			command_line, indicators_of_compromise, risk_score, tags
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare event batch: %w", err)
	}
	for _, ev := range batch {
		if err := prepared.Append(
			ev.EventID,
			ev.Timestamp,
			ev.SourceSystem,
			ev.SourceIP,
			ev.DestinationIP,
			int32(ev.SourcePort),
			int32(ev.DestinationPort),
			ev.Protocol,
			string(ev.Category),
			string(ev.Severity),
			ev.EventType,
			ev.Description,
			ev.UserID,
			ev.ProcessName,
			ev.FilePath,
			ev.CommandLine,
			ev.IOCs,
			ev.RiskScore,
			ev.Tags,
		); err != nil {
			s.logger.Errorw("append event to batch failed", "event_id", ev.EventID, "error", err)
		}
	}
	if err := prepared.Send(); err != nil {
		return fmt.Errorf("send event batch: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) insertAlerts(ctx context.Context, batch []*core.Alert) error {
	prepared, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO alerts (
			alert_id, rule_id, title, description, severity, category,
			status, created_time, updated_time, source_event_ids,
			affected_assets, indicators_of_compromise, recommended_actions,
			assigned_analyst, resolution_notes
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare alert batch: %w", err)
	}
	for _, a := range batch {
		if err := prepared.Append(
			a.AlertID,
			a.RuleID,
			a.Title,
			a.Description,
			string(a.Severity),
			string(a.Category),
			string(a.Status),
			a.CreatedTime,
			a.UpdatedTime,
			a.SourceEventIDs,
			a.AffectedAssets,
			a.IOCs,
			a.RecommendedActions,
			a.AssignedAnalyst,
			a.ResolutionNotes,
		); err != nil {
			s.logger.Errorw("append alert to batch failed", "alert_id", a.AlertID, "error", err)
		}
	}
	if err := prepared.Send(); err != nil {
		return fmt.Errorf("send alert batch: %w", err)
	}
	return nil
}

// HealthCheck pings the ClickHouse server.
func (s *ClickHouseSink) HealthCheck(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Stop flushes pending batches and closes the connection.
func (s *ClickHouseSink) Stop() error {
	s.cancel()
	s.wg.Wait()
	return s.conn.Close()
}
