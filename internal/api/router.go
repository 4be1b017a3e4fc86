package api

import (
	"context"
	"net/http"
	"time"

	"github.com/clearline-ai/warden/internal/audit"
	"github.com/clearline-ai/warden/internal/oversight"
	"github.com/clearline-ai/warden/internal/review"
	"github.com/clearline-ai/warden/internal/scanner"
	"github.com/clearline-ai/warden/internal/store"
	"go.uber.org/zap"
)

// KeyStore is the service-key lookup used by the auth middleware.
// *store.Store satisfies it.
type KeyStore interface {
	LookupKeyByPrefix(ctx context.Context, prefix string) (*store.ServiceKey, error)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store     KeyStore
	Scanner   *scanner.Scanner
	Oversight *oversight.Classifier
	Reviews   *review.Queue
	Reader    *audit.Reader // nil if ClickHouse unavailable
	Sink      audit.Sink
	Logger    *zap.Logger
	CacheTTL  time.Duration
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Governance endpoints (auth required via Bearer wsk_ key)
	mux.HandleFunc("POST /v1/scan", deps.authMiddleware(deps.handleScanInput))
	mux.HandleFunc("POST /v1/scan/output", deps.authMiddleware(deps.handleScanAgentOutput))
	mux.HandleFunc("POST /v1/oversight/evaluate", deps.authMiddleware(deps.handleEvaluate))
	mux.HandleFunc("GET /v1/oversight/tier", deps.authMiddleware(deps.handleGetTier))
	mux.HandleFunc("POST /v1/reviews", deps.authMiddleware(deps.handleRequestReview))
	mux.HandleFunc("POST /v1/reviews/{review_id}/decision", deps.authMiddleware(deps.handleRecordDecision))
	mux.HandleFunc("GET /v1/reviews/pending", deps.authMiddleware(deps.handleListPending))
	mux.HandleFunc("GET /v1/reviews/{review_id}", deps.authMiddleware(deps.handleGetReview))

	// Operations endpoints (no auth — dashboard auth added later)
	mux.HandleFunc("GET /api/warden/stats/threats", deps.handleThreatStats)
	mux.HandleFunc("GET /api/warden/stats/escalations", deps.handleEscalationStats)
	mux.HandleFunc("GET /api/warden/decisions", deps.handleListDecisions)
	mux.HandleFunc("GET /api/warden/patterns", deps.handleListPatterns)
	mux.HandleFunc("POST /api/warden/patterns", deps.handleAddPattern)
	mux.HandleFunc("POST /api/warden/patterns/reload", deps.handleReloadPatterns)

	// Health check
	mux.HandleFunc("GET /healthz", deps.handleHealthz)

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
