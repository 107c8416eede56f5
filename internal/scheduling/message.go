package scheduling

import (
	"time"

	"github.com/wolfman30/physio-messaging/internal/messaging"
)

// Status is the lifecycle state of a scheduled message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// ParseStatus validates a status filter. The empty string means "any".
func ParseStatus(v string) (Status, bool) {
	switch Status(v) {
	case "", StatusPending, StatusSent, StatusFailed, StatusCancelled:
		return Status(v), true
	}
	return "", false
}

// ScheduledMessage is a message queued for dispatch at ScheduledFor.
type ScheduledMessage struct {
	ID            string                   `json:"id"`
	TenantID      string                   `json:"tenantId"`
	PatientID     string                   `json:"patientId"`
	AppointmentID string                   `json:"appointmentId,omitempty"`
	ExerciseID    string                   `json:"exerciseId,omitempty"`
	Message       messaging.LogicalMessage `json:"message"`
	ScheduledFor  time.Time                `json:"scheduledFor"`
	Status        Status                   `json:"status"`
	CreatedAt     time.Time                `json:"createdAt"`
	UpdatedAt     time.Time                `json:"updatedAt"`
	DeliveryID    string                   `json:"deliveryId,omitempty"`
	LastError     string                   `json:"lastError,omitempty"`
}

// Outcome is the result of one dispatch attempt.
type Outcome struct {
	Success    bool
	DeliveryID string
	Error      string
}

func (m ScheduledMessage) clone() ScheduledMessage {
	out := m
	msg := m.Message
	if msg.Template != nil {
		tpl := *msg.Template
		tpl.Params = append([]string(nil), tpl.Params...)
		msg.Template = &tpl
	}
	if msg.Media != nil {
		media := *msg.Media
		msg.Media = &media
	}
	if msg.Interactive != nil {
		msg.Interactive = append([]byte(nil), msg.Interactive...)
	}
	out.Message = msg
	return out
}
