package api

import (
	"errors"
	"net/http"

	"github.com/clearline-ai/warden/internal/scanner"
)

// handleScanInput implements POST /v1/scan.
func (d *Dependencies) handleScanInput(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	// An absent field and an explicit "" are indistinguishable, and the
	// empty string is a valid, trivially safe input, so both scan.
	meta := scanner.ScanMeta{}
	if req.Identity != nil {
		meta.UserID = req.Identity.UserID
		meta.SessionID = req.Identity.SessionID
	}

	result, err := d.Scanner.ScanInput(r.Context(), req.Text, meta)
	if err != nil {
		writeScanError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, d.scanResponse(req.Text, req.Sanitize, result))
}

// handleScanAgentOutput implements POST /v1/scan/output.
func (d *Dependencies) handleScanAgentOutput(w http.ResponseWriter, r *http.Request) {
	var req ScanOutputRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "agent_id is required"})
		return
	}
	meta := scanner.ScanMeta{}
	if req.Identity != nil {
		meta.UserID = req.Identity.UserID
		meta.SessionID = req.Identity.SessionID
	}

	result, err := d.Scanner.ScanAgentOutput(r.Context(), req.AgentID, req.Output, meta)
	if err != nil {
		writeScanError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, d.scanResponse(req.Output, req.Sanitize, result))
}

// scanResponse converts a ScanResult to the wire shape, sanitizing on
// demand. A malicious input with no removable substructure sanitizes
// to the empty string.
func (d *Dependencies) scanResponse(text string, sanitize bool, result *scanner.ScanResult) ScanResponse {
	resp := ScanResponse{
		IsSafe:          result.IsSafe,
		Confidence:      result.Confidence,
		MatchedPatterns: result.MatchedPatterns,
		ScanDurationMs:  result.ScanDurationMs,
	}
	if result.ThreatType != "" {
		tt := string(result.ThreatType)
		resp.ThreatType = &tt
	}
	if sanitize {
		cleaned := d.Scanner.Sanitize(text)
		if !result.IsSafe && cleaned == text {
			cleaned = ""
		}
		resp.SanitizedInput = &cleaned
	}
	return resp
}

func writeScanError(w http.ResponseWriter, err error) {
	var ve *scanner.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: ve.Error()})
	case errors.Is(err, scanner.ErrClassifierUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "scan failed"})
	}
}
