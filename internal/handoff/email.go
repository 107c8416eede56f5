package handoff

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/physio-messaging/internal/messaging"
	"github.com/wolfman30/physio-messaging/internal/notify"
)

// AnyDepartment is the routing key used when a department has no own address.
const AnyDepartment = "*"

// EmailSink e-mails the department responsible for the conversation.
type EmailSink struct {
	sender notify.EmailSender
	routes map[string][]string
}

// NewEmailSink maps department names to comma-separated address lists.
func NewEmailSink(sender notify.EmailSender, routes map[string]string) *EmailSink {
	parsed := make(map[string][]string, len(routes))
	for dept, list := range routes {
		var addrs []string
		for _, addr := range strings.Split(list, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				addrs = append(addrs, addr)
			}
		}
		if len(addrs) > 0 {
			parsed[strings.ToLower(strings.TrimSpace(dept))] = addrs
		}
	}
	return &EmailSink{sender: sender, routes: parsed}
}

func (s *EmailSink) recipients(department string) []string {
	if addrs, ok := s.routes[strings.ToLower(department)]; ok && department != "" {
		return addrs
	}
	return s.routes[AnyDepartment]
}

// Handoff sends nothing when no address is routed for the department.
func (s *EmailSink) Handoff(ctx context.Context, req Request) error {
	to := s.recipients(req.Department)
	if len(to) == 0 {
		return nil
	}
	dept := req.Department
	if dept == "" {
		dept = "recepção"
	}
	subject := fmt.Sprintf("[%s] Paciente aguardando atendimento (%s)", req.TenantID, dept)
	var b strings.Builder
	fmt.Fprintf(&b, "Clínica: %s\n", req.TenantID)
	fmt.Fprintf(&b, "Telefone: %s\n", messaging.NormalizeE164(req.From))
	if req.ContactName != "" {
		fmt.Fprintf(&b, "Nome: %s\n", req.ContactName)
	}
	if req.PatientID != "" {
		fmt.Fprintf(&b, "Paciente: %s\n", req.PatientID)
	}
	fmt.Fprintf(&b, "Motivo: %s\n", req.Reason)
	fmt.Fprintf(&b, "Tipo: %s\n", req.MessageType)
	if req.Text != "" {
		fmt.Fprintf(&b, "\nMensagem:\n%s\n", req.Text)
	}
	if err := s.sender.Send(ctx, notify.EmailMessage{To: to, Subject: subject, Body: b.String()}); err != nil {
		return fmt.Errorf("handoff: email %s: %w", dept, err)
	}
	return nil
}
