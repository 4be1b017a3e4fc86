package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clearline-ai/warden/internal/audit"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Version is tagged onto every audit record so stored verdicts can be
// traced back to the rule set generation that produced them.
const Version = "warden-scanner/1"

// ValidationError describes input rejected before any detection ran.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "scan: " + e.Field + ": " + e.Reason
}

// ErrClassifierUnavailable is returned under the fail-closed policy
// when the semantic classifier cannot be reached. Callers must treat
// the text as blocked.
var ErrClassifierUnavailable = errors.New("semantic classifier unavailable")

// ScanResult is the verdict for a single piece of untrusted text.
// Immutable once returned.
type ScanResult struct {
	IsSafe          bool       `json:"is_safe"`
	ThreatType      ThreatType `json:"threat_type,omitempty"` // empty iff IsSafe
	Confidence      float64    `json:"confidence"`
	MatchedPatterns []string   `json:"matched_patterns"`
	SanitizedInput  string     `json:"sanitized_input,omitempty"`
	ScanDurationMs  float64    `json:"scan_duration_ms"`
}

// ScanMeta carries caller identity forwarded into the audit record.
type ScanMeta struct {
	SessionID string
	UserID    string
	AgentID   string
}

// Scanner classifies untrusted text with escalating detection layers:
// pattern matching, structural heuristics, and an optional external
// semantic classifier. Stateless per scan; safe for concurrent use.
type Scanner struct {
	patterns    *PatternStore
	semantic    *SemanticClassifier // nil when Layer 3 disabled
	sink        audit.Sink
	maxInputLen int
	failOpen    bool
	logger      *zap.Logger

	statsMu sync.Mutex
	byType  map[ThreatType]uint64
	scans   uint64
}

// Config holds scanner construction parameters.
type Config struct {
	Patterns    *PatternStore
	Semantic    *SemanticClassifier
	Sink        audit.Sink
	MaxInputLen int
	FailOpen    bool
	Logger      *zap.Logger
}

// New creates a Scanner.
func New(cfg Config) *Scanner {
	maxLen := cfg.MaxInputLen
	if maxLen <= 0 {
		maxLen = 10 * 1024
	}
	return &Scanner{
		patterns:    cfg.Patterns,
		semantic:    cfg.Semantic,
		sink:        cfg.Sink,
		maxInputLen: maxLen,
		failOpen:    cfg.FailOpen,
		logger:      cfg.Logger,
		byType:      make(map[ThreatType]uint64),
	}
}

// ScanInput classifies untrusted user-facing text. The returned result
// is final; the audit record is enqueued without blocking the caller.
func (s *Scanner) ScanInput(ctx context.Context, text string, meta ScanMeta) (*ScanResult, error) {
	return s.scan(ctx, text, meta)
}

// ScanAgentOutput classifies text produced by one agent before it is
// handed to another, so an injected instruction cannot propagate
// transitively through a pipeline. The audit record tags the agent.
func (s *Scanner) ScanAgentOutput(ctx context.Context, agentID, output string, meta ScanMeta) (*ScanResult, error) {
	meta.AgentID = agentID
	return s.scan(ctx, output, meta)
}

func (s *Scanner) scan(ctx context.Context, text string, meta ScanMeta) (*ScanResult, error) {
	if len(text) > s.maxInputLen {
		return nil, &ValidationError{
			Field:  "text",
			Reason: fmt.Sprintf("length %d exceeds maximum %d", len(text), s.maxInputLen),
		}
	}
	// A dead context must never produce a verdict: a skipped detection
	// pass would record a false "safe" in the audit trail.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.detect(ctx, text)
	if err != nil {
		return nil, err
	}
	result.ScanDurationMs = float64(time.Since(start)) / float64(time.Millisecond)

	s.recordStats(result)
	s.emitAudit(text, meta, result)
	return result, nil
}

// detect runs the detection layers in order, short-circuiting on the
// first hit.
func (s *Scanner) detect(ctx context.Context, text string) (*ScanResult, error) {
	// Layer 1: pattern matching over the snapshot taken at scan start.
	// Insertion order, first match wins.
	for _, p := range s.patterns.snapshot() {
		if !p.Enabled {
			continue
		}
		if p.re.MatchString(text) {
			return &ScanResult{
				IsSafe:          false,
				ThreatType:      p.ThreatType,
				Confidence:      p.Confidence,
				MatchedPatterns: []string{p.ID},
			}, nil
		}
	}

	// Layer 2: structural heuristics.
	if hit := structuralScan(text); hit != nil {
		return &ScanResult{
			IsSafe:          false,
			ThreatType:      hit.threatType,
			Confidence:      hit.confidence,
			MatchedPatterns: []string{hit.id},
		}, nil
	}

	// Layer 3: optional semantic classifier. A failure here must never
	// take the scan down: fail-open degrades to the Layer 1/2 verdict,
	// fail-closed surfaces ErrClassifierUnavailable so the caller
	// blocks the text.
	if s.semantic != nil {
		verdict, err := s.semantic.Classify(ctx, text)
		switch {
		case err != nil && s.failOpen:
			s.logger.Warn("semantic classifier unavailable, degrading to pattern verdict",
				zap.Error(err),
			)
		case err != nil:
			s.logger.Warn("semantic classifier unavailable, failing closed",
				zap.Error(err),
			)
			return nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
		case verdict.Malicious:
			// Semantic hits carry no pattern ids: MatchedPatterns is
			// reserved for the pattern-matching layers.
			return &ScanResult{
				IsSafe:          false,
				ThreatType:      verdict.ThreatType,
				Confidence:      verdict.Confidence,
				MatchedPatterns: []string{},
			}, nil
		}
	}

	return &ScanResult{
		IsSafe:          true,
		Confidence:      1.0,
		MatchedPatterns: []string{},
	}, nil
}

// Sanitize removes only the substrings matched by triggered patterns
// and structural heuristics, preserving surrounding text. Removal
// repeats until a fixpoint so the operation is idempotent even when a
// removal exposes a new match. Input whose entire content matches comes
// back empty.
func (s *Scanner) Sanitize(text string) string {
	for {
		next := s.stripMatches(text)
		if next == text {
			return text
		}
		text = next
	}
}

func (s *Scanner) stripMatches(text string) string {
	for _, p := range s.patterns.snapshot() {
		if !p.Enabled {
			continue
		}
		text = p.re.ReplaceAllString(text, "")
	}
	for _, c := range allStructuralChecks() {
		text = c.re.ReplaceAllString(text, "")
	}
	return text
}

// AddPattern appends a new enabled detection pattern at runtime.
func (s *Scanner) AddPattern(expr string, threatType ThreatType) (DetectionPattern, error) {
	return s.patterns.Add(expr, threatType)
}

// Patterns returns the active pattern definitions in evaluation order.
func (s *Scanner) Patterns() []DetectionPattern {
	return s.patterns.Patterns()
}

// ReloadPatterns re-reads the configured patterns file, keeping the
// last known-good set on failure.
func (s *Scanner) ReloadPatterns() error {
	return s.patterns.Reload()
}

// ThreatStats returns cumulative per-threat-type detection counts for
// this process. Reset only on restart.
func (s *Scanner) ThreatStats() map[string]uint64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := make(map[string]uint64, len(s.byType)+1)
	for t, n := range s.byType {
		out[string(t)] = n
	}
	out["total_scans"] = s.scans
	return out
}

func (s *Scanner) recordStats(result *ScanResult) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.scans++
	if !result.IsSafe {
		s.byType[result.ThreatType]++
	}
}

// emitAudit enqueues the audit projection of a scan. Only the SHA-256
// of the input is persisted, never the raw text.
func (s *Scanner) emitAudit(text string, meta ScanMeta, result *ScanResult) {
	hash := sha256.Sum256([]byte(text))
	s.sink.WriteScan(&audit.ScanEvent{
		EventID:         uuid.NewString(),
		Timestamp:       time.Now(),
		InputHash:       hex.EncodeToString(hash[:]),
		InputLength:     uint32(len(text)),
		IsSafe:          result.IsSafe,
		ThreatType:      string(result.ThreatType),
		Confidence:      result.Confidence,
		MatchedPatterns: result.MatchedPatterns,
		ScanDurationMs:  result.ScanDurationMs,
		SessionID:       meta.SessionID,
		UserID:          meta.UserID,
		AgentID:         meta.AgentID,
		ScannerVersion:  Version,
	})
}
