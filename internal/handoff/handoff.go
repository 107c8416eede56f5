// Package handoff forwards inbound conversations the chatbot cannot close
// to clinic staff.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/physio-messaging/internal/messaging"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

// Reason explains why a conversation reached a human.
type Reason string

const (
	ReasonNoMatch     Reason = "no_match"
	ReasonNonText     Reason = "non_text"
	ReasonTransfer    Reason = "transfer"
	ReasonReplyFailed Reason = "reply_failed"
)

// Request describes one handoff.
type Request struct {
	TenantID    string    `json:"tenantId"`
	PatientID   string    `json:"patientId,omitempty"`
	From        string    `json:"from"`
	ContactName string    `json:"contactName,omitempty"`
	MessageID   string    `json:"messageId"`
	MessageType string    `json:"messageType"`
	Text        string    `json:"text,omitempty"`
	Department  string    `json:"department,omitempty"`
	Reason      Reason    `json:"reason"`
	RuleID      string    `json:"ruleId,omitempty"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// Sink receives handoff requests.
type Sink interface {
	Handoff(ctx context.Context, req Request) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, req Request) error

func (f SinkFunc) Handoff(ctx context.Context, req Request) error { return f(ctx, req) }

// LogSink records handoffs in the service log.
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Handoff(_ context.Context, req Request) error {
	s.logger.Info("conversation handed off to staff",
		"tenant_id", req.TenantID,
		"from", messaging.MaskPhone(req.From),
		"message_id", req.MessageID,
		"reason", string(req.Reason),
		"department", req.Department,
	)
	return nil
}

// MultiSink fans a request out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Handoff(ctx context.Context, req Request) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Handoff(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("handoff: %w", errors.Join(errs...))
	}
	return nil
}
