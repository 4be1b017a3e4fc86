package audit

import (
	"context"
	"crypto/tls"
	"sync/atomic"
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

// ClickHouseSink writes audit records to ClickHouse asynchronously.
// Writes are non-blocking — records are buffered and batch-inserted in
// a background goroutine. On a full buffer the oldest buffered record
// is evicted in favor of the new one, and the loss counter is bumped.
type ClickHouseSink struct {
	conn      driver.Conn
	scans     chan *ScanEvent
	decisions chan *DecisionEvent
	lost      atomic.Uint64
	done      chan struct{}
	flushed   chan struct{} // closed by flushLoop when it returns
	logger    *zap.Logger
}

// NewClickHouseSink creates a ClickHouseSink and starts the background
// flush loop.
func NewClickHouseSink(dsn string, logger *zap.Logger) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// ParseDSN sets TLS when ?secure=true is in the DSN; enforce it
	// here as a safety net for ClickHouse Cloud deployments.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	s := &ClickHouseSink{
		conn:      conn,
		scans:     make(chan *ScanEvent, bufferSize),
		decisions: make(chan *DecisionEvent, bufferSize),
		done:      make(chan struct{}),
		flushed:   make(chan struct{}),
		logger:    logger,
	}

	go s.flushLoop()
	return s, nil
}

// WriteScan queues a scan event for async insertion. Never blocks.
func (s *ClickHouseSink) WriteScan(event *ScanEvent) {
	if !enqueue(s.scans, event, &s.lost) {
		s.logger.Warn("audit buffer full, scan event dropped",
			zap.String("event_id", event.EventID),
		)
	}
}

// WriteDecision queues a decision event for async insertion. Never blocks.
func (s *ClickHouseSink) WriteDecision(event *DecisionEvent) {
	if !enqueue(s.decisions, event, &s.lost) {
		s.logger.Warn("audit buffer full, decision event dropped",
			zap.String("decision_id", event.DecisionID),
		)
	}
}

// Lost returns the cumulative count of records evicted or dropped.
func (s *ClickHouseSink) Lost() uint64 {
	return s.lost.Load()
}

// enqueue attempts a non-blocking send. If the channel is full it
// evicts the oldest buffered record, counts the loss, and retries once.
// Returns false only when the new record itself had to be dropped.
func enqueue[T any](ch chan T, v T, lost *atomic.Uint64) bool {
	select {
	case ch <- v:
		return true
	default:
	}
	select {
	case <-ch:
		lost.Add(1)
	default:
	}
	select {
	case ch <- v:
		return true
	default:
		lost.Add(1)
		return false
	}
}

// Close signals the flush loop to drain remaining records, waits for it
// to finish (up to drainTimeout), and then returns. Safe to call once.
func (s *ClickHouseSink) Close() {
	close(s.done)
	<-s.flushed
}

func (s *ClickHouseSink) flushLoop() {
	defer close(s.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	scanBatch := make([]*ScanEvent, 0, flushBatch)
	decisionBatch := make([]*DecisionEvent, 0, flushBatch)

	flushAll := func() {
		if len(scanBatch) > 0 {
			s.flushScans(scanBatch)
			scanBatch = scanBatch[:0]
		}
		if len(decisionBatch) > 0 {
			s.flushDecisions(decisionBatch)
			decisionBatch = decisionBatch[:0]
		}
	}

	for {
		select {
		case event := <-s.scans:
			scanBatch = append(scanBatch, event)
			if len(scanBatch) >= flushBatch {
				s.flushScans(scanBatch)
				scanBatch = scanBatch[:0]
			}
		case event := <-s.decisions:
			decisionBatch = append(decisionBatch, event)
			if len(decisionBatch) >= flushBatch {
				s.flushDecisions(decisionBatch)
				decisionBatch = decisionBatch[:0]
			}
		case <-ticker.C:
			flushAll()
		case <-s.done:
			// Drain whatever is still buffered before returning.
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-s.scans:
					scanBatch = append(scanBatch, event)
				case event := <-s.decisions:
					decisionBatch = append(decisionBatch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			flushAll()
			return
		}
	}
}

func (s *ClickHouseSink) flushScans(events []*ScanEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO security_events (
			id, timestamp, input_hash, input_length,
			is_safe, threat_type, confidence, matched_patterns,
			scan_duration_ms, session_id, user_id, agent_id, scanner_version
		)
	`)
	if err != nil {
		s.logger.Error("clickhouse prepare scan batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		var isSafeUint8 uint8
		if e.IsSafe {
			isSafeUint8 = 1
		}
		if err := batch.Append(
			e.EventID,
			e.Timestamp,
			e.InputHash,
			e.InputLength,
			isSafeUint8,
			e.ThreatType,
			e.Confidence,
			e.MatchedPatterns,
			e.ScanDurationMs,
			e.SessionID,
			e.UserID,
			e.AgentID,
			e.ScannerVersion,
		); err != nil {
			s.logger.Error("clickhouse append scan event failed",
				zap.String("event_id", e.EventID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		s.logger.Error("clickhouse scan batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

func (s *ClickHouseSink) flushDecisions(events []*DecisionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO hitl_decisions (
			id, decision_id, timestamp, should_interrupt, reason, tier,
			confidence, amount, dispute_type, action_type, session_id, agent_id
		)
	`)
	if err != nil {
		s.logger.Error("clickhouse prepare decision batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		var interruptUint8 uint8
		if e.ShouldInterrupt {
			interruptUint8 = 1
		}
		if err := batch.Append(
			e.EventID,
			e.DecisionID,
			e.Timestamp,
			interruptUint8,
			e.Reason,
			e.Tier,
			e.Confidence,
			e.Amount,
			e.DisputeType,
			e.ActionType,
			e.SessionID,
			e.AgentID,
		); err != nil {
			s.logger.Error("clickhouse append decision event failed",
				zap.String("decision_id", e.DecisionID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		s.logger.Error("clickhouse decision batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

// LogSink is a fallback Sink for local development. It logs records as
// structured JSON to stdout via zap.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink that outputs records to the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) WriteScan(event *ScanEvent) {
	s.logger.Info("security_event",
		zap.String("event_id", event.EventID),
		zap.String("input_hash", event.InputHash),
		zap.Uint32("input_length", event.InputLength),
		zap.Bool("is_safe", event.IsSafe),
		zap.String("threat_type", event.ThreatType),
		zap.Float64("confidence", event.Confidence),
		zap.Strings("matched_patterns", event.MatchedPatterns),
		zap.Float64("scan_duration_ms", event.ScanDurationMs),
		zap.String("session_id", event.SessionID),
		zap.String("user_id", event.UserID),
		zap.String("agent_id", event.AgentID),
	)
}

func (s *LogSink) WriteDecision(event *DecisionEvent) {
	fields := []zap.Field{
		zap.String("decision_id", event.DecisionID),
		zap.Bool("should_interrupt", event.ShouldInterrupt),
		zap.String("reason", event.Reason),
		zap.String("tier", event.Tier),
		zap.Float64("confidence", event.Confidence),
		zap.String("dispute_type", event.DisputeType),
		zap.String("action_type", event.ActionType),
		zap.String("session_id", event.SessionID),
		zap.String("agent_id", event.AgentID),
	}
	if event.Amount != nil {
		fields = append(fields, zap.Float64("amount", *event.Amount))
	}
	s.logger.Info("hitl_decision", fields...)
}

func (s *LogSink) Lost() uint64 { return 0 }

func (s *LogSink) Close() {}
