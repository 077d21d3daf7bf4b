package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// Schema is the DDL for the capability_events table.
const Schema = `
CREATE TABLE IF NOT EXISTS capability_events (
	event_id   String,
	timestamp  DateTime64(3),
	action     LowCardinality(String),
	worker_id  String,
	actor      String,
	reason     String,
	tool_count Int32
) ENGINE = MergeTree
ORDER BY (worker_id, timestamp)
`

// ClickHouseWriter writes capability events to ClickHouse asynchronously.
// Write is non-blocking; events are buffered and batch-inserted by a
// background goroutine.
type ClickHouseWriter struct {
	insert  func(ctx context.Context, events []*CapabilityEvent) error
	conn    io.Closer // closed after the final flush; may be nil
	buffer  chan *CapabilityEvent
	done    chan struct{}
	flushed chan struct{}
	logger  *zap.Logger
}

// NewClickHouseWriter connects, ensures the events table exists and starts
// the flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseWriter: %w", err)
	}

	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseWriter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("NewClickHouseWriter: ping: %w", err)
	}
	if err := conn.Exec(ctx, Schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("NewClickHouseWriter: schema: %w", err)
	}

	return newWriter(func(ctx context.Context, events []*CapabilityEvent) error {
		return insertEvents(ctx, conn, events)
	}, conn, logger), nil
}

func newWriter(insert func(context.Context, []*CapabilityEvent) error, conn io.Closer, logger *zap.Logger) *ClickHouseWriter {
	w := &ClickHouseWriter{
		insert:  insert,
		conn:    conn,
		buffer:  make(chan *CapabilityEvent, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}
	go w.flushLoop()
	return w
}

// Write queues an event. Drops it if the buffer is full.
func (w *ClickHouseWriter) Write(event *CapabilityEvent) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("clickhouse buffer full, dropping event",
			zap.String("event_id", event.EventID),
			zap.String("action", event.Action),
		)
	}
}

// Close drains buffered events, stops the flush loop and closes the
// connection.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
	if w.conn == nil {
		return
	}
	if err := w.conn.Close(); err != nil {
		w.logger.Warn("clickhouse close failed", zap.Error(err))
	}
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*CapabilityEvent, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(events []*CapabilityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.insert(ctx, events); err != nil {
		w.logger.Error("clickhouse batch insert failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

func insertEvents(ctx context.Context, conn driver.Conn, events []*CapabilityEvent) error {
	batch, err := conn.PrepareBatch(ctx, `
		INSERT INTO capability_events (
			event_id, timestamp, action, worker_id, actor, reason, tool_count
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		if err := batch.Append(
			e.EventID,
			e.Timestamp,
			e.Action,
			e.WorkerID,
			e.Actor,
			e.Reason,
			e.ToolCount,
		); err != nil {
			return fmt.Errorf("append %s: %w", e.EventID, err)
		}
	}

	return batch.Send()
}

// LogWriter is a fallback EventWriter for local development.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *CapabilityEvent) {
	w.logger.Info("capability_event",
		zap.String("event_id", event.EventID),
		zap.String("action", event.Action),
		zap.String("worker_id", event.WorkerID),
		zap.String("actor", event.Actor),
		zap.String("reason", event.Reason),
		zap.Int32("tool_count", event.ToolCount),
	)
}

func (w *LogWriter) Close() {}
