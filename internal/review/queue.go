package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clearline-ai/warden/internal/oversight"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a review request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

var (
	// ErrNotInterrupt is returned when a review is requested for a
	// decision that did not call for one.
	ErrNotInterrupt = errors.New("review: decision did not request an interrupt")

	// ErrReviewNotFound is returned for an unknown review id.
	ErrReviewNotFound = errors.New("review: not found")

	// ErrReviewResolved is returned when recording a verdict against a
	// review that is no longer pending.
	ErrReviewResolved = errors.New("review: already resolved")
)

// Request is a persisted human-review request. Created in pending
// status, transitioned exactly once to approved or rejected by a
// reviewer, or to expired by a time-based sweep. Never deleted.
type Request struct {
	ReviewID   uuid.UUID       `json:"review_id"`
	DecisionID uuid.UUID       `json:"decision_id"`
	CreatedAt  time.Time       `json:"created_at"`
	Context    json.RawMessage `json:"context"`
	ReviewedAt *time.Time      `json:"reviewed_at,omitempty"`
	Approved   *bool           `json:"approved,omitempty"`
	ReviewerID *string         `json:"reviewer_id,omitempty"`
	Notes      *string         `json:"notes,omitempty"`
	Status     Status          `json:"status"`
}

// Store abstracts the hitl_reviews table for testability.
type Store interface {
	InsertReview(ctx context.Context, req *Request) error
	GetReview(ctx context.Context, id uuid.UUID) (*Request, error) // nil, nil when missing
	// ResolveReview conditionally transitions a pending review. Returns
	// false when no pending row matched — either the id is unknown or
	// the review was already resolved.
	ResolveReview(ctx context.Context, id uuid.UUID, status Status, approved bool, reviewerID, notes string, at time.Time) (bool, error)
	ListPendingReviews(ctx context.Context, limit int) ([]*Request, error)
}

// Queue bridges synchronous oversight decisions and asynchronous human
// action. All state lives in the store; concurrent resolution of the
// same review is arbitrated by the store's conditional update.
type Queue struct {
	store  Store
	logger *zap.Logger
}

// NewQueue creates a Queue over the given store.
func NewQueue(store Store, logger *zap.Logger) *Queue {
	return &Queue{store: store, logger: logger}
}

// RequestHumanReview persists a pending review for an interrupting
// decision and returns the fresh review id. The context blob is opaque
// to this component and forwarded verbatim for the reviewer's benefit.
func (q *Queue) RequestHumanReview(ctx context.Context, decision *oversight.InterruptDecision, reviewCtx json.RawMessage) (uuid.UUID, error) {
	if decision == nil || !decision.ShouldInterrupt {
		return uuid.Nil, ErrNotInterrupt
	}

	req := &Request{
		ReviewID:   uuid.New(),
		DecisionID: decision.DecisionID,
		CreatedAt:  time.Now(),
		Context:    reviewCtx,
		Status:     StatusPending,
	}
	if err := q.store.InsertReview(ctx, req); err != nil {
		return uuid.Nil, fmt.Errorf("RequestHumanReview: %w", err)
	}

	q.logger.Info("human review requested",
		zap.String("review_id", req.ReviewID.String()),
		zap.String("decision_id", decision.DecisionID.String()),
		zap.String("tier", decision.Tier.String()),
		zap.String("reason", decision.Reason),
	)
	return req.ReviewID, nil
}

// RecordHumanDecision transitions exactly one pending review to
// approved or rejected. A non-pending or unknown review id fails with
// ErrReviewResolved or ErrReviewNotFound — never a silent no-op.
func (q *Queue) RecordHumanDecision(ctx context.Context, reviewID uuid.UUID, approved bool, reviewerID, notes string) (*Request, error) {
	status := StatusRejected
	if approved {
		status = StatusApproved
	}

	updated, err := q.store.ResolveReview(ctx, reviewID, status, approved, reviewerID, notes, time.Now())
	if err != nil {
		return nil, fmt.Errorf("RecordHumanDecision: %w", err)
	}
	if !updated {
		existing, err := q.store.GetReview(ctx, reviewID)
		if err != nil {
			return nil, fmt.Errorf("RecordHumanDecision: %w", err)
		}
		if existing == nil {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("%w: status %s", ErrReviewResolved, existing.Status)
	}

	q.logger.Info("human decision recorded",
		zap.String("review_id", reviewID.String()),
		zap.Bool("approved", approved),
		zap.String("reviewer_id", reviewerID),
	)

	resolved, err := q.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("RecordHumanDecision: %w", err)
	}
	return resolved, nil
}

// Get returns a review by id, or ErrReviewNotFound.
func (q *Queue) Get(ctx context.Context, reviewID uuid.UUID) (*Request, error) {
	req, err := q.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	if req == nil {
		return nil, ErrReviewNotFound
	}
	return req, nil
}

// ListPending returns up to limit pending reviews, oldest first, for
// reviewer work queues.
func (q *Queue) ListPending(ctx context.Context, limit int) ([]*Request, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	reqs, err := q.store.ListPendingReviews(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ListPending: %w", err)
	}
	return reqs, nil
}
