// Package inbound routes WhatsApp webhook events: status reports feed
// analytics, user messages go to the chatbot or to staff.
package inbound

import (
	"context"

	"github.com/google/uuid"

	"github.com/wolfman30/physio-messaging/internal/analytics"
	"github.com/wolfman30/physio-messaging/internal/channels/whatsapp"
	"github.com/wolfman30/physio-messaging/internal/chatbot"
	"github.com/wolfman30/physio-messaging/internal/handoff"
	"github.com/wolfman30/physio-messaging/internal/messaging"
	"github.com/wolfman30/physio-messaging/internal/observability/metrics"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

// Matcher evaluates inbound text against chatbot rules.
type Matcher interface {
	Match(text string) (chatbot.Match, bool)
}

// Replier sends the chatbot's answer.
type Replier interface {
	Dispatch(ctx context.Context, msg messaging.LogicalMessage, tenantID string) (string, error)
}

// Deps are the Router's collaborators. Directory, Handoff and Metrics may be nil.
type Deps struct {
	Directory messaging.DirectoryLookup
	Log       *Log
	Matcher   Matcher
	Replier   Replier
	Analytics *analytics.Aggregator
	Handoff   handoff.Sink
	Clock     messaging.Clock
	Metrics   *metrics.MessagingMetrics
	// ReplyLocale is the language used for template replies.
	ReplyLocale string
}

// Router implements whatsapp.PayloadRouter.
type Router struct {
	deps   Deps
	logger *logging.Logger
}

func NewRouter(deps Deps, logger *logging.Logger) *Router {
	if deps.Log == nil || deps.Matcher == nil || deps.Replier == nil || deps.Analytics == nil {
		panic("inbound: log, matcher, replier and analytics are required")
	}
	if deps.Clock == nil {
		deps.Clock = messaging.SystemClock{}
	}
	if deps.ReplyLocale == "" {
		deps.ReplyLocale = "pt_BR"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{deps: deps, logger: logger}
}

// Route processes every change in payload. It only fails when the payload
// is not addressed to a WhatsApp business account; per-message problems are
// logged and absorbed.
func (r *Router) Route(ctx context.Context, payload *whatsapp.WebhookPayload) error {
	events, err := whatsapp.ParseChanges(payload)
	if err != nil {
		return err
	}
	for _, ev := range events {
		switch e := ev.(type) {
		case whatsapp.MessagesEvent:
			for _, m := range e.Messages {
				r.handleMessage(ctx, e, m)
			}
		case whatsapp.StatusEvent:
			for _, s := range e.Statuses {
				r.handleStatus(ctx, s)
			}
		}
	}
	return nil
}

func (r *Router) resolve(ctx context.Context, phone string) (tenantID, patientID string) {
	if pl, ok := r.deps.Directory.(messaging.PatientLookup); ok {
		tenantID, patientID, err := pl.PatientForPhone(ctx, phone)
		if err == nil && tenantID != "" {
			return tenantID, patientID
		}
	}
	return messaging.ResolveTenant(ctx, r.deps.Directory, phone, r.logger), ""
}

func (r *Router) handleMessage(ctx context.Context, ev whatsapp.MessagesEvent, m whatsapp.Message) {
	from := m.From
	if canonical, ok := messaging.NormalizeBR(m.From); ok {
		from = canonical
	}
	tenantID, patientID := r.resolve(ctx, from)

	id := m.ID
	if id == "" {
		id = "local-" + uuid.NewString()
	}
	ts := m.Time()
	now := r.deps.Clock.Now()
	if ts.IsZero() {
		ts = now
	}
	msg := IncomingMessage{
		ID:          id,
		From:        from,
		ContactName: ev.ContactName(m.From),
		Timestamp:   ts,
		Type:        m.Kind(),
		Content:     m.Content,
		Text:        m.Body(),
		TenantID:    tenantID,
		PatientID:   patientID,
		ReceivedAt:  now,
	}

	added, err := r.deps.Log.Append(ctx, msg)
	if err != nil {
		r.logger.Error("inbound: message rejected", "message_id", id, "tenant_id", tenantID, "error", err)
		return
	}
	if !added {
		r.deps.Metrics.ObserveWebhook(whatsapp.FieldMessages, "duplicate")
		r.logger.Info("inbound: duplicate message ignored", "message_id", id)
		return
	}
	r.deps.Metrics.ObserveWebhook(whatsapp.FieldMessages, msg.Type)
	r.count(tenantID, r.deps.Analytics.Today(), analytics.KindReceived)

	if msg.Type != whatsapp.TypeText {
		r.deps.Metrics.ObserveChatbot("non_text")
		r.handoff(ctx, msg, handoff.ReasonNonText, "", "")
		return
	}

	match, ok := r.deps.Matcher.Match(msg.Text)
	if !ok {
		r.deps.Metrics.ObserveChatbot("no_match")
		r.handoff(ctx, msg, handoff.ReasonNoMatch, "", "")
		return
	}

	if _, err := r.deps.Replier.Dispatch(ctx, r.reply(msg, match), tenantID); err != nil {
		r.deps.Metrics.ObserveChatbot("reply_failed")
		r.logger.Warn("inbound: chatbot reply failed", "message_id", id, "rule_id", match.RuleID, "error", err)
		r.handoff(ctx, msg, handoff.ReasonReplyFailed, match.EscalateTo, match.RuleID)
		return
	}
	r.deps.Log.MarkProcessed(ctx, id)

	if match.Escalates() {
		r.deps.Metrics.ObserveChatbot("transfer")
		r.handoff(ctx, msg, handoff.ReasonTransfer, match.EscalateTo, match.RuleID)
		return
	}
	r.deps.Metrics.ObserveChatbot("resolved")
	r.count(tenantID, r.deps.Analytics.Today(), analytics.KindBotResolved)
}

// reply builds the outbound answer. Template rules name the template in
// their response and receive the contact name as the first parameter.
func (r *Router) reply(msg IncomingMessage, match chatbot.Match) messaging.LogicalMessage {
	if match.ResponseType == chatbot.ResponseTemplate {
		var params []string
		if msg.ContactName != "" {
			params = []string{msg.ContactName}
		}
		return messaging.LogicalMessage{
			Kind:     messaging.KindTemplate,
			To:       msg.From,
			Template: &messaging.TemplateRef{Name: match.Reply, Language: r.deps.ReplyLocale, Params: params},
		}
	}
	return messaging.LogicalMessage{Kind: messaging.KindText, To: msg.From, Text: match.Reply}
}

func (r *Router) handoff(ctx context.Context, msg IncomingMessage, reason handoff.Reason, department, ruleID string) {
	if r.deps.Handoff == nil {
		r.logger.Warn("inbound: no handoff sink configured", "message_id", msg.ID, "reason", string(reason))
		return
	}
	err := r.deps.Handoff.Handoff(ctx, handoff.Request{
		TenantID:    msg.TenantID,
		PatientID:   msg.PatientID,
		From:        msg.From,
		ContactName: msg.ContactName,
		MessageID:   msg.ID,
		MessageType: msg.Type,
		Text:        msg.Text,
		Department:  department,
		Reason:      reason,
		RuleID:      ruleID,
		ReceivedAt:  msg.ReceivedAt,
	})
	r.deps.Metrics.ObserveHandoff(string(reason), err == nil)
	if err != nil {
		r.logger.Error("inbound: handoff failed", "message_id", msg.ID, "reason", string(reason), "error", err)
	}
}

var statusKinds = map[string]analytics.Kind{
	whatsapp.StatusSent:      analytics.KindCarrierSent,
	whatsapp.StatusDelivered: analytics.KindDelivered,
	whatsapp.StatusRead:      analytics.KindRead,
	whatsapp.StatusFailed:    analytics.KindCarrierFailed,
}

func (r *Router) handleStatus(ctx context.Context, s whatsapp.Status) {
	kind, ok := statusKinds[s.Status]
	if !ok {
		r.deps.Metrics.ObserveWebhook(whatsapp.FieldMessageStatus, "ignored")
		r.logger.Debug("inbound: unknown status ignored", "status", s.Status, "id", s.ID)
		return
	}
	recipient := s.RecipientID
	if canonical, ok := messaging.NormalizeBR(recipient); ok {
		recipient = canonical
	}
	tenantID := messaging.ResolveTenant(ctx, r.deps.Directory, recipient, r.logger)
	at := s.Time()
	if at.IsZero() {
		at = r.deps.Clock.Now()
	}
	r.deps.Metrics.ObserveWebhook(whatsapp.FieldMessageStatus, s.Status)
	r.count(tenantID, r.deps.Analytics.DateFor(at), kind)
	if kind == analytics.KindCarrierFailed && len(s.Errors) > 0 {
		r.logger.Warn("inbound: carrier reported failure", "id", s.ID, "tenant_id", tenantID, "code", s.Errors[0].Code, "title", s.Errors[0].Title)
	}
}

func (r *Router) count(tenantID, date string, kind analytics.Kind) {
	if err := r.deps.Analytics.Increment(tenantID, date, kind); err != nil {
		r.logger.Error("inbound: analytics increment failed", "tenant_id", tenantID, "kind", string(kind), "error", err)
	}
}

var _ whatsapp.PayloadRouter = (*Router)(nil)

