package scanner

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ThreatType classifies a detected attack.
type ThreatType string

const (
	ThreatInstructionOverride ThreatType = "instruction_override"
	ThreatRoleHijack          ThreatType = "role_hijack"
	ThreatPromptLeak          ThreatType = "prompt_leak"
	ThreatDelimiterInjection  ThreatType = "delimiter_injection"
	ThreatJailbreak           ThreatType = "jailbreak"
)

var validThreatTypes = map[ThreatType]struct{}{
	ThreatInstructionOverride: {},
	ThreatRoleHijack:          {},
	ThreatPromptLeak:          {},
	ThreatDelimiterInjection:  {},
	ThreatJailbreak:           {},
}

// DetectionPattern is a single named threat detection rule.
type DetectionPattern struct {
	ID         string     `yaml:"id" json:"id"`
	ThreatType ThreatType `yaml:"threat_type" json:"threat_type"`
	Expr       string     `yaml:"expr" json:"expr"`
	Confidence float64    `yaml:"confidence" json:"confidence"`
	Enabled    bool       `yaml:"enabled" json:"enabled"`
}

// compiledPattern pairs a pattern with its compiled regexp.
type compiledPattern struct {
	DetectionPattern
	re *regexp.Regexp
}

// PatternStore owns the detection rule set. Readers take an immutable
// snapshot per scan and never lock; writers publish a complete new
// snapshot atomically, so in-flight scans never observe a partial
// pattern set.
type PatternStore struct {
	mu     sync.Mutex // serializes writers only
	snap   atomic.Pointer[[]compiledPattern]
	path   string // patterns file, empty if none configured
	logger *zap.Logger
}

// NewPatternStore creates a store seeded with the built-in pattern set.
func NewPatternStore(logger *zap.Logger) *PatternStore {
	s := &PatternStore{logger: logger}
	base := compileDefaults()
	s.snap.Store(&base)
	return s
}

// snapshot returns the current immutable pattern list.
func (s *PatternStore) snapshot() []compiledPattern {
	return *s.snap.Load()
}

// Patterns returns a copy of the current pattern definitions, in
// evaluation order.
func (s *PatternStore) Patterns() []DetectionPattern {
	snap := s.snapshot()
	out := make([]DetectionPattern, len(snap))
	for i, p := range snap {
		out[i] = p.DetectionPattern
	}
	return out
}

// LoadFile parses a YAML patterns file and publishes the built-in set
// plus the file's patterns as the new snapshot. On any validation or
// compile error the current snapshot is kept (last known good) and the
// error is returned.
func (s *PatternStore) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("patterns: read %s: %w", path, err)
	}

	var defs struct {
		Patterns []DetectionPattern `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return fmt.Errorf("patterns: parse %s: %w", path, err)
	}

	compiled := compileDefaults()
	seen := make(map[string]struct{}, len(compiled))
	for _, p := range compiled {
		seen[p.ID] = struct{}{}
	}
	for _, def := range defs.Patterns {
		cp, err := compilePattern(def)
		if err != nil {
			return fmt.Errorf("patterns: %s: %w", path, err)
		}
		if _, dup := seen[cp.ID]; dup {
			return fmt.Errorf("patterns: %s: duplicate pattern id %q", path, cp.ID)
		}
		seen[cp.ID] = struct{}{}
		compiled = append(compiled, cp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
	s.snap.Store(&compiled)
	s.logger.Info("pattern set loaded",
		zap.String("path", path),
		zap.Int("patterns", len(compiled)),
	)
	return nil
}

// Reload re-reads the configured patterns file. Falls back to the
// current snapshot on failure. Returns an error if no file was ever
// loaded.
func (s *PatternStore) Reload() error {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()
	if path == "" {
		return fmt.Errorf("patterns: no patterns file configured")
	}
	return s.LoadFile(path)
}

// Add appends a new enabled pattern at runtime and publishes a new
// snapshot. Safe to call concurrently with in-flight scans.
func (s *PatternStore) Add(expr string, threatType ThreatType) (DetectionPattern, error) {
	def := DetectionPattern{
		ID:         "custom_" + uuid.NewString()[:8],
		ThreatType: threatType,
		Expr:       expr,
		Confidence: 0.90,
		Enabled:    true,
	}
	cp, err := compilePattern(def)
	if err != nil {
		return DetectionPattern{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old := *s.snap.Load()
	next := make([]compiledPattern, len(old), len(old)+1)
	copy(next, old)
	next = append(next, cp)
	s.snap.Store(&next)

	s.logger.Info("pattern added",
		zap.String("id", def.ID),
		zap.String("threat_type", string(threatType)),
	)
	return def, nil
}

// compilePattern validates and compiles a single pattern definition.
// Matching is always case-insensitive.
func compilePattern(def DetectionPattern) (compiledPattern, error) {
	if def.ID == "" {
		return compiledPattern{}, fmt.Errorf("pattern missing id")
	}
	if _, ok := validThreatTypes[def.ThreatType]; !ok {
		return compiledPattern{}, fmt.Errorf("pattern %s: unknown threat_type %q", def.ID, def.ThreatType)
	}
	if def.Expr == "" {
		return compiledPattern{}, fmt.Errorf("pattern %s: empty expr", def.ID)
	}
	if def.Confidence <= 0 || def.Confidence > 1 {
		return compiledPattern{}, fmt.Errorf("pattern %s: confidence %v out of (0,1]", def.ID, def.Confidence)
	}

	expr := def.Expr
	if !strings.HasPrefix(expr, "(?i)") {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return compiledPattern{}, fmt.Errorf("pattern %s: %w", def.ID, err)
	}
	return compiledPattern{DetectionPattern: def, re: re}, nil
}

// Built-in rule set. Order matters: patterns are evaluated in this
// order and the first match wins.
var defaultPatterns = []DetectionPattern{
	{ID: "override_ignore_previous", ThreatType: ThreatInstructionOverride, Expr: `ignore\s+(all\s+)?(previous|prior|above)\s+instructions`, Confidence: 0.95, Enabled: true},
	{ID: "override_disregard", ThreatType: ThreatInstructionOverride, Expr: `disregard\s+(all\s+)?(previous|prior|above)\s+(instructions|rules|guidelines)`, Confidence: 0.95, Enabled: true},
	{ID: "override_forget", ThreatType: ThreatInstructionOverride, Expr: `forget\s+(all\s+)?(previous|prior|above)\s+(instructions|context)`, Confidence: 0.90, Enabled: true},
	{ID: "override_system_rules", ThreatType: ThreatInstructionOverride, Expr: `override\s+(system|safety|security)\s+(prompt|instructions|rules|policy)`, Confidence: 0.95, Enabled: true},
	{ID: "override_bypass_filter", ThreatType: ThreatInstructionOverride, Expr: `bypass\s+(the\s+)?(safety|security|content)\s+(filter|check|policy|rules)`, Confidence: 0.95, Enabled: true},
	{ID: "override_negation", ThreatType: ThreatInstructionOverride, Expr: `do\s+not\s+follow\s+(your|the|any)\s+(rules|guidelines|instructions|safety)`, Confidence: 0.90, Enabled: true},
	{ID: "leak_reveal_prompt", ThreatType: ThreatPromptLeak, Expr: `reveal\s+(your|the)\s+(system|initial|original|hidden)\s+(prompt|instructions|message)`, Confidence: 0.90, Enabled: true},
	{ID: "leak_ask_prompt", ThreatType: ThreatPromptLeak, Expr: `what\s+(are|is|were)\s+your\s+(system|initial|original|hidden)\s+(prompt|instructions|rules)`, Confidence: 0.85, Enabled: true},
	{ID: "leak_output_prompt", ThreatType: ThreatPromptLeak, Expr: `output\s+(your|the)\s+(system|initial|original)\s+(prompt|instructions|message)`, Confidence: 0.90, Enabled: true},
	{ID: "jailbreak_dan", ThreatType: ThreatJailbreak, Expr: `\bDAN\b.*\bdo\s+anything\s+now\b|you\s+are\s+DAN|DAN\s+mode\s+(enabled|activated|on)`, Confidence: 0.95, Enabled: true},
	{ID: "jailbreak_dev_mode", ThreatType: ThreatJailbreak, Expr: `enter\s+(developer|debug|maintenance|god|sudo)\s+mode|(developer|debug|maintenance|god|sudo)\s+mode\s+(enabled|activated|on)`, Confidence: 0.85, Enabled: true},
	{ID: "jailbreak_no_restrictions", ThreatType: ThreatJailbreak, Expr: `you\s+have\s+no\s+(restrictions|rules|limitations|guidelines|filters)`, Confidence: 0.90, Enabled: true},
	{ID: "jailbreak_unlock", ThreatType: ThreatJailbreak, Expr: `unlock\s+(all\s+)?(restrictions|capabilities|limitations)`, Confidence: 0.85, Enabled: true},
	{ID: "jailbreak_uncensored", ThreatType: ThreatJailbreak, Expr: `\buncensored\s+mode\b|\bjailbreak\b`, Confidence: 0.85, Enabled: true},
}

func compileDefaults() []compiledPattern {
	out := make([]compiledPattern, 0, len(defaultPatterns))
	for _, def := range defaultPatterns {
		cp, err := compilePattern(def)
		if err != nil {
			// Built-in patterns are fixed at compile time; a failure
			// here is a programming error.
			panic(fmt.Sprintf("built-in pattern %s: %v", def.ID, err))
		}
		out = append(out, cp)
	}
	return out
}
