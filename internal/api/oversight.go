package api

import (
	"errors"
	"net/http"

	"github.com/clearline-ai/warden/internal/oversight"
)

// handleEvaluate implements POST /v1/oversight/evaluate.
func (d *Dependencies) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	decision, err := d.Oversight.ShouldInterrupt(r.Context(), oversight.ActionInput{
		Confidence:  req.Confidence,
		Amount:      req.Amount,
		DisputeType: req.DisputeType,
		ActionType:  req.ActionType,
		SessionID:   req.SessionID,
		AgentID:     req.AgentID,
	})
	if err != nil {
		var ve *oversight.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: ve.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "evaluation failed"})
		return
	}

	writeJSON(w, http.StatusOK, EvaluateResponse{
		DecisionID:      decision.DecisionID.String(),
		ShouldInterrupt: decision.ShouldInterrupt,
		Tier:            decision.Tier.String(),
		Reason:          decision.Reason,
		Confidence:      decision.Confidence,
		Amount:          decision.Amount,
		DisputeType:     decision.DisputeType,
		ActionType:      decision.ActionType,
		Timestamp:       decision.Timestamp,
	})
}

// handleGetTier implements GET /v1/oversight/tier. Advisory lookup for
// UIs: the tier implied by the type-based rules alone.
func (d *Dependencies) handleGetTier(w http.ResponseWriter, r *http.Request) {
	disputeType := r.URL.Query().Get("dispute_type")
	actionType := r.URL.Query().Get("action_type")
	tier := d.Oversight.GetTier(disputeType, actionType)
	writeJSON(w, http.StatusOK, TierResponse{Tier: tier.String()})
}
