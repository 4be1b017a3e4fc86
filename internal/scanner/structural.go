package scanner

import "regexp"

// Layer 2 structural heuristics. Applied only when no Layer 1 pattern
// matched. Two independent checks: role-override phrasing and
// instruction-delimiter injection. Pre-compiled once at startup.

type structuralCheck struct {
	id         string
	threatType ThreatType
	re         *regexp.Regexp
	confidence float64
	detail     string
}

var roleOverrideChecks = []structuralCheck{
	{
		id:         "structural_you_are_now",
		threatType: ThreatRoleHijack,
		re:         regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)?\s*\w+`),
		confidence: 0.85,
		detail:     "role override: you are now",
	},
	{
		id:         "structural_from_now_on",
		threatType: ThreatRoleHijack,
		re:         regexp.MustCompile(`(?i)from\s+now\s+on\s+you\s+(are|will|must|should)`),
		confidence: 0.85,
		detail:     "role override: from now on",
	},
	{
		id:         "structural_new_role",
		threatType: ThreatRoleHijack,
		re:         regexp.MustCompile(`(?i)your\s+new\s+(role|identity|persona|instructions)\s+(is|are)`),
		confidence: 0.85,
		detail:     "role override: new role assignment",
	},
	{
		id:         "structural_act_as",
		threatType: ThreatRoleHijack,
		re:         regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+(are|were)|an?)\s+`),
		confidence: 0.75,
		detail:     "role override: act as",
	},
	{
		id:         "structural_pretend",
		threatType: ThreatRoleHijack,
		re:         regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)\s+`),
		confidence: 0.75,
		detail:     "role override: pretend",
	},
}

var delimiterChecks = []structuralCheck{
	{
		id:         "structural_system_tag",
		threatType: ThreatDelimiterInjection,
		re:         regexp.MustCompile(`(?i)\[(SYSTEM|INST)\]`),
		confidence: 0.90,
		detail:     "delimiter injection: bracketed system tag",
	},
	{
		id:         "structural_chatml_token",
		threatType: ThreatDelimiterInjection,
		re:         regexp.MustCompile(`(?i)<\|im_(start|end)\|>`),
		confidence: 0.95,
		detail:     "delimiter injection: ChatML special token",
	},
	{
		id:         "structural_markdown_system",
		threatType: ThreatDelimiterInjection,
		re:         regexp.MustCompile(`(?i)###\s*(SYSTEM|INSTRUCTION|NEW\s+INSTRUCTIONS?)`),
		confidence: 0.90,
		detail:     "delimiter injection: markdown system header",
	},
	{
		id:         "structural_fenced_system",
		threatType: ThreatDelimiterInjection,
		re:         regexp.MustCompile("(?i)```\\s*(system|instructions?)\\b"),
		confidence: 0.90,
		detail:     "delimiter injection: fenced block claiming system scope",
	},
	{
		id:         "structural_role_marker",
		threatType: ThreatDelimiterInjection,
		re:         regexp.MustCompile(`(?im)^\s*(system|assistant)\s*:\s`),
		confidence: 0.80,
		detail:     "delimiter injection: fabricated chat role marker",
	},
	{
		id:         "structural_begin_instruction",
		threatType: ThreatDelimiterInjection,
		re:         regexp.MustCompile(`(?i)BEGININSTRUCTION|<<SYS>>`),
		confidence: 0.90,
		detail:     "delimiter injection: instruction sentinel token",
	},
}

// structuralScan runs the role-override and delimiter checks in order
// and returns the first hit, or nil when the text is structurally clean.
func structuralScan(text string) *structuralCheck {
	for i := range roleOverrideChecks {
		if roleOverrideChecks[i].re.MatchString(text) {
			return &roleOverrideChecks[i]
		}
	}
	for i := range delimiterChecks {
		if delimiterChecks[i].re.MatchString(text) {
			return &delimiterChecks[i]
		}
	}
	return nil
}

// allStructuralChecks returns every structural check, for sanitization.
func allStructuralChecks() []structuralCheck {
	out := make([]structuralCheck, 0, len(roleOverrideChecks)+len(delimiterChecks))
	out = append(out, roleOverrideChecks...)
	out = append(out, delimiterChecks...)
	return out
}
