package oversight

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/clearline-ai/warden/internal/audit"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ValidationError describes an evaluation input rejected before any
// classification logic ran.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "oversight: " + e.Field + ": " + e.Reason
}

// ActionInput describes a proposed agent action to be classified.
type ActionInput struct {
	Confidence  float64
	Amount      *float64 // nil when the action carries no monetary amount
	DisputeType string
	ActionType  string
	SessionID   string
	AgentID     string
}

// InterruptDecision is the outcome of one evaluation. Immutable once
// created; DecisionID correlates the decision with its audit row and
// any review it spawns.
type InterruptDecision struct {
	ShouldInterrupt bool      `json:"should_interrupt"`
	Reason          string    `json:"reason"`
	Tier            Tier      `json:"-"`
	Confidence      float64   `json:"confidence"`
	Amount          *float64  `json:"amount,omitempty"`
	DisputeType     string    `json:"dispute_type"`
	ActionType      string    `json:"action_type"`
	Timestamp       time.Time `json:"timestamp"`
	DecisionID      uuid.UUID `json:"decision_id"`
}

// Config holds the classification thresholds and rule sets.
type Config struct {
	ConfidenceThreshold float64
	AmountThreshold     float64
	SampleRateTier2     float64
	Tier1Actions        []string
	HighRiskDisputes    []string
	DefaultTier         Tier
}

// Classifier assigns an oversight tier to every proposed action and
// decides whether execution must pause for human review. Stateless per
// evaluation; safe for concurrent use.
type Classifier struct {
	confidenceThreshold float64
	amountThreshold     float64
	sampleRate          float64
	tier1Actions        map[string]struct{}
	highRiskDisputes    map[string]struct{}
	defaultTier         Tier
	sink                audit.Sink
	logger              *zap.Logger
}

// NewClassifier creates a Classifier from validated configuration.
func NewClassifier(cfg Config, sink audit.Sink, logger *zap.Logger) *Classifier {
	tier1 := make(map[string]struct{}, len(cfg.Tier1Actions))
	for _, a := range cfg.Tier1Actions {
		tier1[a] = struct{}{}
	}
	highRisk := make(map[string]struct{}, len(cfg.HighRiskDisputes))
	for _, d := range cfg.HighRiskDisputes {
		highRisk[d] = struct{}{}
	}
	defaultTier := cfg.DefaultTier
	if defaultTier == 0 {
		defaultTier = Tier3Low
	}
	return &Classifier{
		confidenceThreshold: cfg.ConfidenceThreshold,
		amountThreshold:     cfg.AmountThreshold,
		sampleRate:          cfg.SampleRateTier2,
		tier1Actions:        tier1,
		highRiskDisputes:    highRisk,
		defaultTier:         defaultTier,
		sink:                sink,
		logger:              logger,
	}
}

// ShouldInterrupt classifies one proposed action. Precedence is strict:
//
//  1. Tier-1 action types always interrupt. A regulatory invariant —
//     no confidence or amount can bypass it.
//  2. Low confidence, high amount, or a high-risk dispute type assigns
//     Tier 2; within Tier 2 the interrupt is decided by deterministic
//     sampling keyed on the decision id.
//  3. Everything else is Tier 3: logged, never interrupted.
//
// Every call emits exactly one hitl_decisions audit record.
func (c *Classifier) ShouldInterrupt(ctx context.Context, in ActionInput) (*InterruptDecision, error) {
	if math.IsNaN(in.Confidence) || in.Confidence < 0 || in.Confidence > 1 {
		return nil, &ValidationError{
			Field:  "confidence",
			Reason: fmt.Sprintf("%v not in [0.0, 1.0]", in.Confidence),
		}
	}

	decision := &InterruptDecision{
		Confidence:  in.Confidence,
		Amount:      in.Amount,
		DisputeType: in.DisputeType,
		ActionType:  in.ActionType,
		Timestamp:   time.Now(),
		DecisionID:  uuid.New(),
	}

	if _, ok := c.tier1Actions[in.ActionType]; ok {
		decision.Tier = Tier1High
		decision.ShouldInterrupt = true
		decision.Reason = "tier_1_action:" + in.ActionType
	} else if reasons := c.tier2Reasons(in); len(reasons) > 0 {
		decision.Tier = Tier2Medium
		decision.Reason = strings.Join(reasons, ",")
		decision.ShouldInterrupt = sampledForReview(decision.DecisionID, c.sampleRate)
	} else {
		decision.Tier = Tier3Low
		decision.ShouldInterrupt = false
		decision.Reason = "tier_3_low:within_thresholds"
	}

	c.emitAudit(in, decision)
	return decision, nil
}

// tier2Reasons returns the triggered Tier-2 rules, in precedence order.
func (c *Classifier) tier2Reasons(in ActionInput) []string {
	var reasons []string
	if in.Confidence < c.confidenceThreshold {
		reasons = append(reasons, fmt.Sprintf("low_confidence:%s<%s",
			formatFloat(in.Confidence), formatFloat(c.confidenceThreshold)))
	}
	if in.Amount != nil && *in.Amount > c.amountThreshold {
		reasons = append(reasons, fmt.Sprintf("high_amount:%s>%s",
			formatFloat(*in.Amount), formatFloat(c.amountThreshold)))
	}
	if _, ok := c.highRiskDisputes[in.DisputeType]; ok {
		reasons = append(reasons, "high_risk_dispute:"+in.DisputeType)
	}
	return reasons
}

// GetTier is the advisory, inputs-free classification: the tier implied
// strictly by the type-based rules. Amount/confidence promotion is not
// knowable without those inputs and is therefore not reflected here.
func (c *Classifier) GetTier(disputeType, actionType string) Tier {
	if _, ok := c.tier1Actions[actionType]; ok {
		return Tier1High
	}
	if _, ok := c.highRiskDisputes[disputeType]; ok {
		return Tier2Medium
	}
	return c.defaultTier
}

// sampledForReview decides Tier-2 sampling by hashing the decision id,
// so re-evaluating the same logical decision is stable. rate is the
// fraction of Tier-2 decisions that interrupt.
func sampledForReview(id uuid.UUID, rate float64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	sum := sha256.Sum256(id[:])
	v := binary.BigEndian.Uint64(sum[:8])
	return float64(v)/float64(math.MaxUint64) < rate
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (c *Classifier) emitAudit(in ActionInput, d *InterruptDecision) {
	c.sink.WriteDecision(&audit.DecisionEvent{
		EventID:         uuid.NewString(),
		DecisionID:      d.DecisionID.String(),
		Timestamp:       d.Timestamp,
		ShouldInterrupt: d.ShouldInterrupt,
		Reason:          d.Reason,
		Tier:            d.Tier.String(),
		Confidence:      d.Confidence,
		Amount:          d.Amount,
		DisputeType:     d.DisputeType,
		ActionType:      d.ActionType,
		SessionID:       in.SessionID,
		AgentID:         in.AgentID,
	})
}
