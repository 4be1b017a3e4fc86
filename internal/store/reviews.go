package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clearline-ai/warden/internal/review"
	"github.com/google/uuid"
)

// InsertReview persists a new review request in pending status.
func (s *Store) InsertReview(ctx context.Context, req *review.Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hitl_reviews (review_id, decision_id, created_at, context, status)
		VALUES ($1, $2, $3, $4, $5)`,
		req.ReviewID, req.DecisionID, req.CreatedAt, []byte(req.Context), string(req.Status),
	)
	if err != nil {
		return fmt.Errorf("InsertReview: %w", err)
	}
	return nil
}

// GetReview returns a review by id, or nil if not found.
func (s *Store) GetReview(ctx context.Context, id uuid.UUID) (*review.Request, error) {
	var r review.Request
	var status string
	var reviewerID, notes sql.NullString
	var reviewedAt sql.NullTime
	var approved sql.NullBool

	err := s.db.QueryRowContext(ctx, `
		SELECT review_id, decision_id, created_at, context,
		       reviewed_at, approved, reviewer_id, notes, status
		FROM hitl_reviews WHERE review_id = $1`, id,
	).Scan(&r.ReviewID, &r.DecisionID, &r.CreatedAt, &r.Context,
		&reviewedAt, &approved, &reviewerID, &notes, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetReview: %w", err)
	}

	r.Status = review.Status(status)
	if reviewedAt.Valid {
		r.ReviewedAt = &reviewedAt.Time
	}
	if approved.Valid {
		r.Approved = &approved.Bool
	}
	if reviewerID.Valid {
		r.ReviewerID = &reviewerID.String
	}
	if notes.Valid {
		r.Notes = &notes.String
	}
	return &r, nil
}

// ResolveReview conditionally transitions a pending review to its
// terminal status. The WHERE clause on status is what makes concurrent
// resolution of the same review safe: exactly one caller updates the
// row, the rest see updated=false.
func (s *Store) ResolveReview(ctx context.Context, id uuid.UUID, status review.Status, approved bool, reviewerID, notes string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE hitl_reviews SET
			status      = $2,
			approved    = $3,
			reviewer_id = $4,
			notes       = $5,
			reviewed_at = $6
		WHERE review_id = $1 AND status = 'pending'`,
		id, string(status), approved, reviewerID, notes, at,
	)
	if err != nil {
		return false, fmt.Errorf("ResolveReview: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ResolveReview: %w", err)
	}
	return n == 1, nil
}

// ListPendingReviews returns up to limit pending reviews, oldest first.
func (s *Store) ListPendingReviews(ctx context.Context, limit int) ([]*review.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT review_id, decision_id, created_at, context, status
		FROM hitl_reviews
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListPendingReviews: %w", err)
	}
	defer rows.Close()

	var out []*review.Request
	for rows.Next() {
		var r review.Request
		var status string
		if err := rows.Scan(&r.ReviewID, &r.DecisionID, &r.CreatedAt, &r.Context, &status); err != nil {
			return nil, fmt.Errorf("ListPendingReviews scan: %w", err)
		}
		r.Status = review.Status(status)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListPendingReviews rows: %w", err)
	}
	return out, nil
}
