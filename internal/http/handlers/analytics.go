package handlers

import (
	"net/http"
	"time"

	"github.com/wolfman30/physio-messaging/internal/analytics"
	"github.com/wolfman30/physio-messaging/internal/tenancy"
)

// AnalyticsHandler serves per-day message analytics.
type AnalyticsHandler struct {
	aggregator *analytics.Aggregator
}

func NewAnalyticsHandler(aggregator *analytics.Aggregator) *AnalyticsHandler {
	return &AnalyticsHandler{aggregator: aggregator}
}

type analyticsResponse struct {
	TenantID string                       `json:"tenantId"`
	From     string                       `json:"from"`
	To       string                       `json:"to"`
	Days     []analytics.MessageAnalytics `json:"days"`
	Totals   analytics.MessageAnalytics   `json:"totals"`
}

// Get answers ?from=YYYY-MM-DD&to=YYYY-MM-DD; both default to today.
func (h *AnalyticsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenancy.TenantIDFromContext(r.Context())
	today := h.aggregator.Today()
	from := r.URL.Query().Get("from")
	if from == "" {
		from = today
	}
	to := r.URL.Query().Get("to")
	if to == "" {
		to = today
	}
	fromDay, err := time.Parse(analytics.DateLayout, from)
	if err != nil {
		jsonError(w, "invalid from date", http.StatusBadRequest)
		return
	}
	toDay, err := time.Parse(analytics.DateLayout, to)
	if err != nil {
		jsonError(w, "invalid to date", http.StatusBadRequest)
		return
	}
	if toDay.Before(fromDay) {
		jsonError(w, "from must not be after to", http.StatusBadRequest)
		return
	}

	period := analytics.Period{From: from, To: to}
	writeJSON(w, http.StatusOK, analyticsResponse{
		TenantID: tenantID,
		From:     from,
		To:       to,
		Days:     h.aggregator.Snapshot(tenantID, period),
		Totals:   h.aggregator.Totals(tenantID, period),
	})
}
