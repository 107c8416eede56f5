package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/physio-messaging/internal/messaging"
	"github.com/wolfman30/physio-messaging/internal/scheduling"
	"github.com/wolfman30/physio-messaging/internal/tenancy"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

// ScheduledMessagesHandler exposes a tenant's scheduled message queue.
type ScheduledMessagesHandler struct {
	queue  *scheduling.Queue
	logger *logging.Logger
}

func NewScheduledMessagesHandler(queue *scheduling.Queue, logger *logging.Logger) *ScheduledMessagesHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ScheduledMessagesHandler{queue: queue, logger: logger}
}

type createScheduledMessageRequest struct {
	ID            string                   `json:"id,omitempty"`
	PatientID     string                   `json:"patientId"`
	AppointmentID string                   `json:"appointmentId,omitempty"`
	ExerciseID    string                   `json:"exerciseId,omitempty"`
	Message       messaging.LogicalMessage `json:"message"`
	ScheduledFor  time.Time                `json:"scheduledFor"`
}

func (req createScheduledMessageRequest) validate() error {
	if req.ScheduledFor.IsZero() {
		return errors.New("scheduledFor is required")
	}
	if strings.TrimSpace(req.Message.To) == "" {
		return errors.New("message.to is required")
	}
	if _, ok := messaging.NormalizeBR(req.Message.To); !ok {
		return messaging.ErrInvalidPhone
	}
	switch req.Message.Kind {
	case messaging.KindText:
		if strings.TrimSpace(req.Message.Text) == "" {
			return errors.New("message.text is required")
		}
	case messaging.KindTemplate:
		if req.Message.Template == nil || strings.TrimSpace(req.Message.Template.Name) == "" {
			return errors.New("message.template.name is required")
		}
	case messaging.KindMedia:
		if req.Message.Media == nil || strings.TrimSpace(req.Message.Media.URL) == "" {
			return messaging.ErrMissingMedia
		}
	case messaging.KindInteractive:
		if len(req.Message.Interactive) == 0 {
			return errors.New("message.interactive is required")
		}
	default:
		return messaging.ErrUnsupportedKind
	}
	return nil
}

// Create enqueues a message for the tenant in the path.
func (h *ScheduledMessagesHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenancy.TenantIDFromContext(r.Context())
	var req createScheduledMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.queue.Enqueue(r.Context(), scheduling.ScheduledMessage{
		ID:            req.ID,
		TenantID:      tenantID,
		PatientID:     req.PatientID,
		AppointmentID: req.AppointmentID,
		ExerciseID:    req.ExerciseID,
		Message:       req.Message,
		ScheduledFor:  req.ScheduledFor,
	})
	switch {
	case errors.Is(err, scheduling.ErrDuplicateID):
		jsonError(w, "scheduled message already exists", http.StatusConflict)
		return
	case errors.Is(err, scheduling.ErrTenantRequired):
		jsonError(w, "tenant id required", http.StatusBadRequest)
		return
	case err != nil && id == "":
		h.logger.Error("enqueue scheduled message failed", "tenant_id", tenantID, "error", err)
		jsonError(w, "failed to schedule message", http.StatusInternalServerError)
		return
	case err != nil:
		// Queued in memory; the next successful write persists it.
		h.logger.Warn("scheduled message not persisted yet", "tenant_id", tenantID, "id", id, "error", err)
	}

	msg, _ := h.queue.Lookup(tenantID, id)
	writeJSON(w, http.StatusCreated, msg)
}

// List returns the tenant's messages, optionally filtered by ?status=.
func (h *ScheduledMessagesHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenancy.TenantIDFromContext(r.Context())
	status, ok := scheduling.ParseStatus(r.URL.Query().Get("status"))
	if !ok {
		jsonError(w, "invalid status", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenantId": tenantID,
		"messages": h.queue.ListByTenant(tenantID, status),
	})
}

func (h *ScheduledMessagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenancy.TenantIDFromContext(r.Context())
	msg, ok := h.queue.Lookup(tenantID, chi.URLParam(r, "messageID"))
	if !ok {
		jsonError(w, "scheduled message not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// Cancel cancels a pending message. Terminal messages answer 409.
func (h *ScheduledMessagesHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenancy.TenantIDFromContext(r.Context())
	id := chi.URLParam(r, "messageID")
	if _, ok := h.queue.Lookup(tenantID, id); !ok {
		jsonError(w, "scheduled message not found", http.StatusNotFound)
		return
	}
	if !h.queue.Cancel(r.Context(), tenantID, id) {
		current, _ := h.queue.Lookup(tenantID, id)
		jsonError(w, "scheduled message is already "+string(current.Status), http.StatusConflict)
		return
	}
	msg, _ := h.queue.Lookup(tenantID, id)
	h.logger.Info("scheduled message cancelled", "tenant_id", tenantID, "id", id)
	writeJSON(w, http.StatusOK, msg)
}
