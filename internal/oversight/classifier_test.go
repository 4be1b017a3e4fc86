package oversight

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/clearline-ai/warden/internal/audit"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type captureSink struct {
	mu        sync.Mutex
	decisions []*audit.DecisionEvent
}

func (s *captureSink) WriteScan(e *audit.ScanEvent) {}
func (s *captureSink) WriteDecision(e *audit.DecisionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, e)
}
func (s *captureSink) Lost() uint64 { return 0 }
func (s *captureSink) Close()       {}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.decisions)
}

func testConfig() Config {
	return Config{
		ConfidenceThreshold: 0.85,
		AmountThreshold:     10_000,
		SampleRateTier2:     0.10,
		Tier1Actions:        []string{"sar_filing", "payment_block", "account_close"},
		HighRiskDisputes:    []string{"fraud", "identity_theft", "money_laundering"},
		DefaultTier:         Tier3Low,
	}
}

func newTestClassifier(sink audit.Sink) *Classifier {
	if sink == nil {
		sink = &captureSink{}
	}
	return NewClassifier(testConfig(), sink, zap.NewNop())
}

func amount(v float64) *float64 { return &v }

func TestShouldInterrupt_Tier1AlwaysInterrupts(t *testing.T) {
	c := newTestClassifier(nil)
	ctx := context.Background()

	// Tier-1 action types interrupt no matter how favorable every other
	// signal looks.
	tests := []struct {
		name string
		in   ActionInput
	}{
		{"sar filing high confidence", ActionInput{Confidence: 0.99, ActionType: "sar_filing"}},
		{"payment block tiny amount", ActionInput{Confidence: 0.99, Amount: amount(1), ActionType: "payment_block"}},
		{"account close benign dispute", ActionInput{Confidence: 1.0, DisputeType: "billing_error", ActionType: "account_close"}},
		{"sar filing with every signal low risk", ActionInput{Confidence: 1.0, Amount: amount(0.01), DisputeType: "billing_error", ActionType: "sar_filing"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := c.ShouldInterrupt(ctx, tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !d.ShouldInterrupt {
				t.Error("tier-1 action must always interrupt")
			}
			if d.Tier != Tier1High {
				t.Errorf("tier = %v, want tier 1", d.Tier)
			}
			if want := "tier_1_action:" + tt.in.ActionType; d.Reason != want {
				t.Errorf("reason = %q, want %q", d.Reason, want)
			}
		})
	}
}

func TestShouldInterrupt_Tier2Reasons(t *testing.T) {
	c := newTestClassifier(nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		in       ActionInput
		contains []string
	}{
		{
			"low confidence",
			ActionInput{Confidence: 0.60, ActionType: "refund"},
			[]string{"low_confidence:0.6<0.85"},
		},
		{
			"high amount",
			ActionInput{Confidence: 0.95, Amount: amount(25_000), ActionType: "refund"},
			[]string{"high_amount:25000>10000"},
		},
		{
			"high risk dispute",
			ActionInput{Confidence: 0.95, DisputeType: "fraud", ActionType: "refund"},
			[]string{"high_risk_dispute:fraud"},
		},
		{
			"all three triggers recorded",
			ActionInput{Confidence: 0.10, Amount: amount(99_999), DisputeType: "money_laundering", ActionType: "refund"},
			[]string{"low_confidence:", "high_amount:", "high_risk_dispute:money_laundering"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := c.ShouldInterrupt(ctx, tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Tier != Tier2Medium {
				t.Fatalf("tier = %v, want tier 2", d.Tier)
			}
			for _, sub := range tt.contains {
				if !strings.Contains(d.Reason, sub) {
					t.Errorf("reason %q missing %q", d.Reason, sub)
				}
			}
		})
	}
}

func TestShouldInterrupt_Tier2BoundariesAreExclusive(t *testing.T) {
	c := newTestClassifier(nil)
	ctx := context.Background()

	// Confidence exactly at the threshold and amount exactly at the
	// threshold do not promote.
	d, err := c.ShouldInterrupt(ctx, ActionInput{
		Confidence: 0.85,
		Amount:     amount(10_000),
		ActionType: "refund",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Tier != Tier3Low {
		t.Errorf("tier = %v, want tier 3 at exact thresholds (reason %q)", d.Tier, d.Reason)
	}
}

func TestShouldInterrupt_Tier3AutoProceeds(t *testing.T) {
	c := newTestClassifier(nil)

	d, err := c.ShouldInterrupt(context.Background(), ActionInput{
		Confidence:  0.99,
		Amount:      amount(5),
		DisputeType: "billing_error",
		ActionType:  "info_lookup",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ShouldInterrupt {
		t.Error("tier-3 action must auto-proceed")
	}
	if d.Tier != Tier3Low {
		t.Errorf("tier = %v, want tier 3", d.Tier)
	}
	if d.Reason != "tier_3_low:within_thresholds" {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestShouldInterrupt_NilAmountSkipsAmountRule(t *testing.T) {
	c := newTestClassifier(nil)

	d, err := c.ShouldInterrupt(context.Background(), ActionInput{
		Confidence: 0.95,
		Amount:     nil,
		ActionType: "info_lookup",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Tier != Tier3Low {
		t.Errorf("tier = %v, want tier 3 when no amount is present", d.Tier)
	}
}

func TestShouldInterrupt_RejectsInvalidConfidence(t *testing.T) {
	sink := &captureSink{}
	c := newTestClassifier(sink)
	ctx := context.Background()

	for _, conf := range []float64{-0.1, 1.1, math.NaN()} {
		_, err := c.ShouldInterrupt(ctx, ActionInput{Confidence: conf, ActionType: "refund"})
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("confidence %v: expected ValidationError, got %v", conf, err)
		}
	}
	if sink.count() != 0 {
		t.Error("rejected evaluations must not produce audit records")
	}
}

func TestShouldInterrupt_EmitsExactlyOneAuditRecord(t *testing.T) {
	sink := &captureSink{}
	c := newTestClassifier(sink)
	ctx := context.Background()

	inputs := []ActionInput{
		{Confidence: 0.99, ActionType: "sar_filing"},                      // tier 1
		{Confidence: 0.50, ActionType: "refund"},                          // tier 2
		{Confidence: 0.99, ActionType: "info_lookup"},                     // tier 3
		{Confidence: 0.99, DisputeType: "fraud", ActionType: "info_look"}, // tier 2
	}
	for _, in := range inputs {
		if _, err := c.ShouldInterrupt(ctx, in); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if sink.count() != len(inputs) {
		t.Fatalf("audit records = %d, want %d", sink.count(), len(inputs))
	}
	for i, e := range sink.decisions {
		if e.DecisionID == "" || e.EventID == "" {
			t.Errorf("record %d missing ids: %+v", i, e)
		}
		if e.Tier == "" || e.Reason == "" {
			t.Errorf("record %d missing tier/reason: %+v", i, e)
		}
	}
}

func TestSampledForReview_Deterministic(t *testing.T) {
	id := uuid.New()
	first := sampledForReview(id, 0.10)
	for i := 0; i < 100; i++ {
		if sampledForReview(id, 0.10) != first {
			t.Fatal("sampling must be stable for the same decision id")
		}
	}
}

func TestSampledForReview_RateExtremes(t *testing.T) {
	for i := 0; i < 50; i++ {
		id := uuid.New()
		if sampledForReview(id, 0) {
			t.Fatal("rate 0 must never sample")
		}
		if !sampledForReview(id, 1) {
			t.Fatal("rate 1 must always sample")
		}
	}
}

func TestSampledForReview_ApproximatesRate(t *testing.T) {
	const n = 20_000
	const rate = 0.10
	hits := 0
	for i := 0; i < n; i++ {
		if sampledForReview(uuid.New(), rate) {
			hits++
		}
	}
	got := float64(hits) / n
	if got < rate-0.02 || got > rate+0.02 {
		t.Errorf("sample rate = %.4f, want ~%.2f", got, rate)
	}
}

func TestGetTier(t *testing.T) {
	c := newTestClassifier(nil)

	tests := []struct {
		name        string
		disputeType string
		actionType  string
		want        Tier
	}{
		{"tier1 action", "", "sar_filing", Tier1High},
		{"tier1 wins over high risk dispute", "fraud", "payment_block", Tier1High},
		{"high risk dispute", "identity_theft", "refund", Tier2Medium},
		{"nothing matches", "billing_error", "info_lookup", Tier3Low},
		{"empty inputs", "", "", Tier3Low},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.GetTier(tt.disputeType, tt.actionType); got != tt.want {
				t.Errorf("GetTier(%q, %q) = %v, want %v", tt.disputeType, tt.actionType, got, tt.want)
			}
		})
	}
}

func TestTierString(t *testing.T) {
	tests := []struct {
		tier Tier
		want string
	}{
		{Tier1High, "tier_1_high"},
		{Tier2Medium, "tier_2_medium"},
		{Tier3Low, "tier_3_low"},
		{Tier(0), "tier_unspecified"},
	}
	for _, tt := range tests {
		if got := tt.tier.String(); got != tt.want {
			t.Errorf("Tier(%d).String() = %q, want %q", tt.tier, got, tt.want)
		}
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
	}{
		{"tier_1_high", Tier1High},
		{"tier_2_medium", Tier2Medium},
		{"tier_3_low", Tier3Low},
		{"garbage", Tier3Low},
		{"", Tier3Low},
	}
	for _, tt := range tests {
		if got := ParseTier(tt.in); got != tt.want {
			t.Errorf("ParseTier(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
