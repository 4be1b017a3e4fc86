package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/clearline-ai/warden/internal/audit"
)

// handleThreatStats implements GET /api/warden/stats/threats.
// In-process counters; reset on restart.
func (d *Dependencies) handleThreatStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ThreatStatsResp{
		Counts:    d.Scanner.ThreatStats(),
		AuditLoss: d.Sink.Lost(),
	})
}

// handleEscalationStats implements GET /api/warden/stats/escalations.
// Derived from the durable hitl_decisions table so reporting survives
// restarts.
func (d *Dependencies) handleEscalationStats(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "audit reader unavailable"})
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "since must be RFC3339"})
			return
		}
		since = t
	}

	stats, err := d.Reader.EscalationStats(r.Context(), since)
	if err != nil {
		d.Logger.Error("escalation stats query failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to query stats"})
		return
	}

	tiers := make(map[string]TierStatsResp, len(stats))
	for tier, ts := range stats {
		tiers[tier] = TierStatsResp{
			Total:         ts.Total,
			Interrupts:    ts.Interrupts,
			InterruptRate: ts.InterruptRate,
		}
	}
	writeJSON(w, http.StatusOK, EscalationStatsResp{Tiers: tiers, Since: since})
}

// handleListDecisions implements GET /api/warden/decisions.
func (d *Dependencies) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "audit reader unavailable"})
		return
	}

	params := audit.ListDecisionsParams{Page: 1, PageSize: 50}
	q := r.URL.Query()
	if v := q.Get("tier"); v != "" {
		params.Tier = &v
	}
	if v := q.Get("action_type"); v != "" {
		params.ActionType = &v
	}
	if v := q.Get("interrupted"); v != "" {
		b := v == "true"
		params.Interrupted = &b
	}
	if v := q.Get("page"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			params.Page = n
		}
	}
	if v := q.Get("page_size"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			params.PageSize = n
		}
	}

	rows, total, err := d.Reader.ListDecisions(r.Context(), params)
	if err != nil {
		d.Logger.Error("decision list query failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to query decisions"})
		return
	}

	out := make([]DecisionResp, 0, len(rows))
	for _, row := range rows {
		out = append(out, DecisionResp{
			DecisionID:      row.DecisionID,
			Timestamp:       row.Timestamp,
			ShouldInterrupt: row.ShouldInterrupt == 1,
			Reason:          row.Reason,
			Tier:            row.Tier,
			Confidence:      row.Confidence,
			Amount:          row.Amount,
			DisputeType:     row.DisputeType,
			ActionType:      row.ActionType,
			SessionID:       row.SessionID,
			AgentID:         row.AgentID,
		})
	}
	writeJSON(w, http.StatusOK, DecisionListResp{
		Decisions: out,
		Total:     total,
		Page:      params.Page,
		PageSize:  params.PageSize,
	})
}

// handleHealthz implements GET /healthz.
func (d *Dependencies) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parsePositiveInt(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return n, nil
}
