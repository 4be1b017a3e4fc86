package api

import (
	"net/http"

	"github.com/clearline-ai/warden/internal/scanner"
)

// handleListPatterns implements GET /api/warden/patterns.
func (d *Dependencies) handleListPatterns(w http.ResponseWriter, _ *http.Request) {
	defs := d.Scanner.Patterns()
	out := make([]PatternResp, 0, len(defs))
	for _, p := range defs {
		out = append(out, PatternResp{
			ID:         p.ID,
			ThreatType: string(p.ThreatType),
			Expr:       p.Expr,
			Confidence: p.Confidence,
			Enabled:    p.Enabled,
		})
	}
	writeJSON(w, http.StatusOK, PatternListResp{Patterns: out})
}

// handleAddPattern implements POST /api/warden/patterns.
func (d *Dependencies) handleAddPattern(w http.ResponseWriter, r *http.Request) {
	var req AddPatternReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Expr == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "expr is required"})
		return
	}

	def, err := d.Scanner.AddPattern(req.Expr, scanner.ThreatType(req.ThreatType))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, PatternResp{
		ID:         def.ID,
		ThreatType: string(def.ThreatType),
		Expr:       def.Expr,
		Confidence: def.Confidence,
		Enabled:    def.Enabled,
	})
}

// handleReloadPatterns implements POST /api/warden/patterns/reload.
// Re-reads the configured patterns file; a malformed file leaves the
// last known-good set in place.
func (d *Dependencies) handleReloadPatterns(w http.ResponseWriter, _ *http.Request) {
	if err := d.Scanner.ReloadPatterns(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
