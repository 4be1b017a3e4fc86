package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SemanticClassifier calls an external text-classification service to
// catch injections the pattern and structural layers miss.
//
// The classifier is conditional — only wired up when enable_llm_guard
// is set. How failures are handled (fail-open vs fail-closed) is the
// scanner's policy decision, not this client's.
type SemanticClassifier struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewSemanticClassifier creates an HTTP classifier client with a
// bounded per-call timeout.
func NewSemanticClassifier(endpoint string, timeout time.Duration, logger *zap.Logger) *SemanticClassifier {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &SemanticClassifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// SemanticVerdict is the mapped classifier output.
type SemanticVerdict struct {
	Malicious  bool
	ThreatType ThreatType
	Confidence float64
	Model      string
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
}

// Classify sends text to the classifier and maps its label onto the
// threat taxonomy. Errors are returned to the caller; the scanner
// decides whether to degrade or reject.
func (c *SemanticClassifier) Classify(ctx context.Context, text string) (*SemanticVerdict, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("semantic classify: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("semantic classify: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("semantic classify: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Read a bounded slice of the body for the error message.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("semantic classify: status %d: %s", resp.StatusCode, snippet)
	}

	var cr classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("semantic classify: decode: %w", err)
	}

	verdict := &SemanticVerdict{
		Confidence: cr.Confidence,
		Model:      cr.Model,
	}
	switch strings.ToUpper(cr.Label) {
	case "INJECTION":
		verdict.Malicious = true
		verdict.ThreatType = ThreatInstructionOverride
	case "JAILBREAK":
		verdict.Malicious = true
		verdict.ThreatType = ThreatJailbreak
	case "PROMPT_LEAK":
		verdict.Malicious = true
		verdict.ThreatType = ThreatPromptLeak
	}
	return verdict, nil
}
