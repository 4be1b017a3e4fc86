package api

import (
	"encoding/json"
	"time"
)

// --- POST /v1/scan and /v1/scan/output ---

// IdentityReq carries caller identity forwarded into audit records.
type IdentityReq struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ScanRequest is the JSON body for POST /v1/scan.
type ScanRequest struct {
	Text     string       `json:"text"`
	Identity *IdentityReq `json:"identity,omitempty"`
	// Sanitize asks for a cleaned copy of the text in the response.
	Sanitize bool `json:"sanitize,omitempty"`
}

// ScanOutputRequest is the JSON body for POST /v1/scan/output.
type ScanOutputRequest struct {
	AgentID  string       `json:"agent_id"`
	Output   string       `json:"output"`
	Identity *IdentityReq `json:"identity,omitempty"`
	Sanitize bool         `json:"sanitize,omitempty"`
}

// ScanResponse is the verdict returned to the caller.
type ScanResponse struct {
	IsSafe          bool     `json:"is_safe"`
	ThreatType      *string  `json:"threat_type"`
	Confidence      float64  `json:"confidence"`
	MatchedPatterns []string `json:"matched_patterns"`
	SanitizedInput  *string  `json:"sanitized_input,omitempty"`
	ScanDurationMs  float64  `json:"scan_duration_ms"`
}

// --- POST /v1/oversight/evaluate ---

// EvaluateRequest is the JSON body for POST /v1/oversight/evaluate.
type EvaluateRequest struct {
	Confidence  float64  `json:"confidence"`
	Amount      *float64 `json:"amount,omitempty"`
	DisputeType string   `json:"dispute_type"`
	ActionType  string   `json:"action_type"`
	SessionID   string   `json:"session_id,omitempty"`
	AgentID     string   `json:"agent_id,omitempty"`
}

// EvaluateResponse mirrors the InterruptDecision.
type EvaluateResponse struct {
	DecisionID      string    `json:"decision_id"`
	ShouldInterrupt bool      `json:"should_interrupt"`
	Tier            string    `json:"tier"`
	Reason          string    `json:"reason"`
	Confidence      float64   `json:"confidence"`
	Amount          *float64  `json:"amount,omitempty"`
	DisputeType     string    `json:"dispute_type"`
	ActionType      string    `json:"action_type"`
	Timestamp       time.Time `json:"timestamp"`
}

// TierResponse is the advisory type-based tier lookup result.
type TierResponse struct {
	Tier string `json:"tier"`
}

// --- Reviews ---

// ReviewRequestReq is the JSON body for POST /v1/reviews.
type ReviewRequestReq struct {
	Decision EvaluateResponse `json:"decision"`
	Context  json.RawMessage  `json:"context,omitempty"`
}

// ReviewCreatedResp returns the fresh review id.
type ReviewCreatedResp struct {
	ReviewID string `json:"review_id"`
}

// ReviewDecisionReq is the JSON body for POST /v1/reviews/{id}/decision.
type ReviewDecisionReq struct {
	Approved   *bool  `json:"approved"`
	ReviewerID string `json:"reviewer_id"`
	Notes      string `json:"notes,omitempty"`
}

// ReviewResp mirrors a persisted review request.
type ReviewResp struct {
	ReviewID   string          `json:"review_id"`
	DecisionID string          `json:"decision_id"`
	CreatedAt  time.Time       `json:"created_at"`
	Context    json.RawMessage `json:"context"`
	ReviewedAt *time.Time      `json:"reviewed_at"`
	Approved   *bool           `json:"approved"`
	ReviewerID *string         `json:"reviewer_id"`
	Notes      *string         `json:"notes"`
	Status     string          `json:"status"`
}

// ReviewListResp is the pending review work queue.
type ReviewListResp struct {
	Reviews []ReviewResp `json:"reviews"`
	Total   int          `json:"total"`
}

// --- Patterns ---

// AddPatternReq is the JSON body for POST /api/warden/patterns.
type AddPatternReq struct {
	Expr       string `json:"expr"`
	ThreatType string `json:"threat_type"`
}

// PatternResp mirrors a detection pattern definition.
type PatternResp struct {
	ID         string  `json:"id"`
	ThreatType string  `json:"threat_type"`
	Expr       string  `json:"expr"`
	Confidence float64 `json:"confidence"`
	Enabled    bool    `json:"enabled"`
}

// PatternListResp lists the active pattern set in evaluation order.
type PatternListResp struct {
	Patterns []PatternResp `json:"patterns"`
}

// --- Stats ---

// ThreatStatsResp holds per-threat-type counters for this process.
type ThreatStatsResp struct {
	Counts    map[string]uint64 `json:"counts"`
	AuditLoss uint64            `json:"audit_loss"`
}

// EscalationStatsResp holds per-tier counts derived from the audit log.
type EscalationStatsResp struct {
	Tiers map[string]TierStatsResp `json:"tiers"`
	Since time.Time                `json:"since"`
}

// TierStatsResp holds counts for one tier.
type TierStatsResp struct {
	Total         uint64  `json:"total"`
	Interrupts    uint64  `json:"interrupts"`
	InterruptRate float64 `json:"interrupt_rate"`
}

// DecisionResp mirrors an audited oversight decision row.
type DecisionResp struct {
	DecisionID      string    `json:"decision_id"`
	Timestamp       time.Time `json:"timestamp"`
	ShouldInterrupt bool      `json:"should_interrupt"`
	Reason          string    `json:"reason"`
	Tier            string    `json:"tier"`
	Confidence      float64   `json:"confidence"`
	Amount          *float64  `json:"amount"`
	DisputeType     string    `json:"dispute_type"`
	ActionType      string    `json:"action_type"`
	SessionID       string    `json:"session_id"`
	AgentID         string    `json:"agent_id"`
}

// DecisionListResp is a page of audited decisions.
type DecisionListResp struct {
	Decisions []DecisionResp `json:"decisions"`
	Total     int            `json:"total"`
	Page      int            `json:"page"`
	PageSize  int            `json:"page_size"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
