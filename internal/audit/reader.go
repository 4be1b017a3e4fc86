package audit

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse audit tables. Stats are
// derived from the durable record, not in-memory counters, so reporting
// survives process restarts.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// TierStats holds per-tier evaluation counts from hitl_decisions.
type TierStats struct {
	Total         uint64  `json:"total"`
	Interrupts    uint64  `json:"interrupts"`
	InterruptRate float64 `json:"interrupt_rate"`
}

// EscalationStats returns per-tier counts and interrupt rates for
// decisions recorded at or after since.
func (r *Reader) EscalationStats(ctx context.Context, since time.Time) (map[string]TierStats, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT tier, count(), countIf(should_interrupt = 1)
		FROM hitl_decisions
		WHERE timestamp >= @since
		GROUP BY tier`,
		clickhouse.Named("since", since),
	)
	if err != nil {
		return nil, fmt.Errorf("EscalationStats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]TierStats)
	for rows.Next() {
		var tier string
		var total, interrupts uint64
		if err := rows.Scan(&tier, &total, &interrupts); err != nil {
			return nil, fmt.Errorf("EscalationStats scan: %w", err)
		}
		ts := TierStats{Total: total, Interrupts: interrupts}
		if total > 0 {
			ts.InterruptRate = float64(interrupts) / float64(total)
		}
		stats[tier] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("EscalationStats rows: %w", err)
	}
	return stats, nil
}

// DecisionRow represents a single row from the hitl_decisions table.
type DecisionRow struct {
	EventID         string
	DecisionID      string
	Timestamp       time.Time
	ShouldInterrupt uint8
	Reason          string
	Tier            string
	Confidence      float64
	Amount          *float64
	DisputeType     string
	ActionType      string
	SessionID       string
	AgentID         string
}

// ListDecisionsParams holds filters and pagination for decision listing.
type ListDecisionsParams struct {
	Tier        *string
	ActionType  *string
	Interrupted *bool
	StartTime   *time.Time
	EndTime     *time.Time
	Page        int
	PageSize    int
}

// ListDecisions returns paginated, filtered decision audit rows and the
// total count matching the filters.
func (r *Reader) ListDecisions(ctx context.Context, params ListDecisionsParams) ([]DecisionRow, int, error) {
	conditions := []string{"1 = 1"}
	args := []any{}

	if params.Tier != nil {
		conditions = append(conditions, "tier = @tier")
		args = append(args, clickhouse.Named("tier", *params.Tier))
	}
	if params.ActionType != nil {
		conditions = append(conditions, "action_type = @action_type")
		args = append(args, clickhouse.Named("action_type", *params.ActionType))
	}
	if params.Interrupted != nil {
		var v uint8
		if *params.Interrupted {
			v = 1
		}
		conditions = append(conditions, "should_interrupt = @should_interrupt")
		args = append(args, clickhouse.Named("should_interrupt", v))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := strings.Join(conditions, " AND ")

	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 500 {
		params.PageSize = 50
	}
	offset := (params.Page - 1) * params.PageSize

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM hitl_decisions WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListDecisions count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT id, decision_id, timestamp, should_interrupt, reason, tier, "+
			"confidence, amount, dispute_type, action_type, session_id, agent_id "+
			"FROM hitl_decisions WHERE %s ORDER BY timestamp DESC LIMIT %d OFFSET %d",
		where, params.PageSize, offset,
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListDecisions query: %w", err)
	}
	defer rows.Close()

	out := make([]DecisionRow, 0, params.PageSize)
	for rows.Next() {
		var d DecisionRow
		if err := rows.Scan(
			&d.EventID, &d.DecisionID, &d.Timestamp, &d.ShouldInterrupt,
			&d.Reason, &d.Tier, &d.Confidence, &d.Amount,
			&d.DisputeType, &d.ActionType, &d.SessionID, &d.AgentID,
		); err != nil {
			return nil, 0, fmt.Errorf("ListDecisions scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListDecisions rows: %w", err)
	}

	return out, int(total), nil
}
