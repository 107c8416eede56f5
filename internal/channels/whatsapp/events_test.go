package whatsapp

import (
	"encoding/json"
	"errors"
	"testing"
)

const messagesPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA_ID",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "551130000000", "phone_number_id": "PNID"},
        "contacts": [{"profile": {"name": "Ana"}, "wa_id": "5511999887766"}],
        "messages": [
          {"from": "5511999887766", "id": "wamid.A", "timestamp": "1710072000", "type": "text", "text": {"body": "estou com dor"}},
          {"from": "5511999887766", "id": "wamid.B", "timestamp": "1710072001", "type": "image", "image": {"id": "MEDIA", "mime_type": "image/jpeg"}},
          {"from": "5511999887766", "id": "wamid.C", "timestamp": "1710072002", "type": "interactive", "interactive": {"type": "list_reply", "list_reply": {"id": "opt1", "title": "Terça"}}}
        ]
      }
    }, {
      "field": "account_update",
      "value": {"whatever": true}
    }]
  }]
}`

func decodePayload(t *testing.T, body string) *WebhookPayload {
	t.Helper()
	var p WebhookPayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return &p
}

func TestParseChangesMessages(t *testing.T) {
	events, err := ParseChanges(decodePayload(t, messagesPayload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev, ok := events[0].(MessagesEvent)
	if !ok {
		t.Fatalf("expected MessagesEvent, got %T", events[0])
	}
	if len(ev.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(ev.Messages))
	}
	text := ev.Messages[0]
	if text.Kind() != TypeText || text.Body() != "estou com dor" {
		t.Fatalf("unexpected text message %+v", text)
	}
	if text.Time().Unix() != 1710072000 {
		t.Fatalf("unexpected timestamp %v", text.Time())
	}
	if string(text.Content) != `{"body": "estou com dor"}` {
		t.Fatalf("unexpected raw content %s", text.Content)
	}
	if got := ev.Messages[1].Kind(); got != TypeImage {
		t.Fatalf("expected image, got %s", got)
	}
	list := ev.Messages[2]
	if list.Kind() != TypeList || list.Body() != "Terça" {
		t.Fatalf("unexpected list reply kind=%s body=%q", list.Kind(), list.Body())
	}
	if ev.ContactName("5511999887766") != "Ana" {
		t.Fatalf("contact name not resolved")
	}
}

func TestParseChangesStatusVariants(t *testing.T) {
	cases := map[string]string{
		"statuses inside messages": `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{"statuses":[{"id":"wamid.X","status":"delivered","timestamp":"1710072000","recipient_id":"5511999887766"}]}}]}]}`,
		"message_status object":    `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"message_status","value":{"statuses":[{"id":"wamid.X","status":"delivered","recipient_id":"5511999887766"}]}}]}]}`,
		"message_status list":      `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"message_status","value":[{"id":"wamid.X","status":"delivered","recipient_id":"5511999887766"}]}]}]}`,
		"message_status single":    `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"message_status","value":{"id":"wamid.X","status":"delivered","recipient_id":"5511999887766"}}]}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			events, err := ParseChanges(decodePayload(t, body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(events))
			}
			ev, ok := events[0].(StatusEvent)
			if !ok {
				t.Fatalf("expected StatusEvent, got %T", events[0])
			}
			if len(ev.Statuses) != 1 || ev.Statuses[0].Status != StatusDelivered || ev.Statuses[0].RecipientID != "5511999887766" {
				t.Fatalf("unexpected statuses %+v", ev.Statuses)
			}
		})
	}
}

func TestParseChangesSkipsMalformedValues(t *testing.T) {
	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":"oops"},{"field":"message_status","value":{"foo":1}}]}]}`
	events, err := ParseChanges(decodePayload(t, body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestParseChangesRejectsWrongObject(t *testing.T) {
	_, err := ParseChanges(&WebhookPayload{Object: "page"})
	if !errors.Is(err, ErrUnexpectedObject) {
		t.Fatalf("expected ErrUnexpectedObject, got %v", err)
	}
	if _, err := ParseChanges(nil); !errors.Is(err, ErrUnexpectedObject) {
		t.Fatalf("expected ErrUnexpectedObject for nil payload, got %v", err)
	}
}

func TestMessageKindUnknown(t *testing.T) {
	m := Message{Type: "sticker"}
	if m.Kind() != TypeUnknown {
		t.Fatalf("expected unknown, got %s", m.Kind())
	}
	if !m.Time().IsZero() {
		t.Fatalf("expected zero time")
	}
}
