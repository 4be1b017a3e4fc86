package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/clearline-ai/warden/internal/oversight"
	"github.com/clearline-ai/warden/internal/review"
	"github.com/google/uuid"
)

// handleRequestReview implements POST /v1/reviews.
func (d *Dependencies) handleRequestReview(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequestReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	decisionID, err := uuid.Parse(req.Decision.DecisionID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "decision.decision_id must be a UUID"})
		return
	}

	decision := &oversight.InterruptDecision{
		ShouldInterrupt: req.Decision.ShouldInterrupt,
		Reason:          req.Decision.Reason,
		Tier:            oversight.ParseTier(req.Decision.Tier),
		Confidence:      req.Decision.Confidence,
		Amount:          req.Decision.Amount,
		DisputeType:     req.Decision.DisputeType,
		ActionType:      req.Decision.ActionType,
		Timestamp:       req.Decision.Timestamp,
		DecisionID:      decisionID,
	}

	reviewID, err := d.Reviews.RequestHumanReview(r.Context(), decision, req.Context)
	if err != nil {
		if errors.Is(err, review.ErrNotInterrupt) {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "decision did not request an interrupt"})
			return
		}
		d.Logger.Error("request review failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to persist review"})
		return
	}

	writeJSON(w, http.StatusCreated, ReviewCreatedResp{ReviewID: reviewID.String()})
}

// handleRecordDecision implements POST /v1/reviews/{review_id}/decision.
func (d *Dependencies) handleRecordDecision(w http.ResponseWriter, r *http.Request) {
	reviewID, err := uuid.Parse(r.PathValue("review_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "review_id must be a UUID"})
		return
	}

	var req ReviewDecisionReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Approved == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "approved is required"})
		return
	}
	if req.ReviewerID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "reviewer_id is required"})
		return
	}

	resolved, err := d.Reviews.RecordHumanDecision(r.Context(), reviewID, *req.Approved, req.ReviewerID, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, review.ErrReviewNotFound):
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "review not found"})
		case errors.Is(err, review.ErrReviewResolved):
			writeJSON(w, http.StatusConflict, ErrorResp{Detail: err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to record decision"})
		}
		return
	}

	writeJSON(w, http.StatusOK, toReviewResp(resolved))
}

// handleGetReview implements GET /v1/reviews/{review_id}.
func (d *Dependencies) handleGetReview(w http.ResponseWriter, r *http.Request) {
	reviewID, err := uuid.Parse(r.PathValue("review_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "review_id must be a UUID"})
		return
	}

	req, err := d.Reviews.Get(r.Context(), reviewID)
	if err != nil {
		if errors.Is(err, review.ErrReviewNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "review not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to load review"})
		return
	}

	writeJSON(w, http.StatusOK, toReviewResp(req))
}

// handleListPending implements GET /v1/reviews/pending.
func (d *Dependencies) handleListPending(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}

	reqs, err := d.Reviews.ListPending(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to list reviews"})
		return
	}

	out := make([]ReviewResp, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, toReviewResp(req))
	}
	writeJSON(w, http.StatusOK, ReviewListResp{Reviews: out, Total: len(out)})
}

func toReviewResp(r *review.Request) ReviewResp {
	resp := ReviewResp{
		ReviewID:   r.ReviewID.String(),
		DecisionID: r.DecisionID.String(),
		CreatedAt:  r.CreatedAt,
		Context:    r.Context,
		Status:     string(r.Status),
		ReviewerID: r.ReviewerID,
		Notes:      r.Notes,
		Approved:   r.Approved,
	}
	if r.ReviewedAt != nil {
		t := r.ReviewedAt.Truncate(time.Microsecond)
		resp.ReviewedAt = &t
	}
	return resp
}
