package audit

import "time"

// Sink is the interface for writing audit records.
// WriteScan and WriteDecision must NEVER block the caller.
type Sink interface {
	WriteScan(event *ScanEvent)
	WriteDecision(event *DecisionEvent)
	// Lost returns the number of records dropped due to backpressure.
	Lost() uint64
	Close()
}

// ScanEvent is the audit projection of a single scan, persisted to the
// security_events table. Only the hash of the input is stored, never
// the raw text.
type ScanEvent struct {
	EventID         string
	Timestamp       time.Time
	InputHash       string // hex SHA-256 of the scanned text
	InputLength     uint32
	IsSafe          bool
	ThreatType      string // empty when safe
	Confidence      float64
	MatchedPatterns []string
	ScanDurationMs  float64
	SessionID       string
	UserID          string
	AgentID         string // set for agent-output scans
	ScannerVersion  string
}

// DecisionEvent is the audit projection of a single oversight
// evaluation, persisted to the hitl_decisions table. Every evaluation
// produces exactly one of these regardless of tier.
type DecisionEvent struct {
	EventID         string
	DecisionID      string
	Timestamp       time.Time
	ShouldInterrupt bool
	Reason          string
	Tier            string
	Confidence      float64
	Amount          *float64 // nil when the action carries no amount
	DisputeType     string
	ActionType      string
	SessionID       string
	AgentID         string
}
