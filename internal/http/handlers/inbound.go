package handlers

import (
	"net/http"
	"strconv"

	"github.com/wolfman30/physio-messaging/internal/inbound"
	"github.com/wolfman30/physio-messaging/internal/tenancy"
)

const defaultInboundLimit = 100

// InboundHandler lists received messages for a tenant.
type InboundHandler struct {
	log *inbound.Log
}

func NewInboundHandler(log *inbound.Log) *InboundHandler {
	return &InboundHandler{log: log}
}

func (h *InboundHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenancy.TenantIDFromContext(r.Context())
	limit := defaultInboundLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenantId": tenantID,
		"messages": h.log.ListByTenant(tenantID, limit),
	})
}
