package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnexpectedObject is returned for payloads not addressed to a business account.
var ErrUnexpectedObject = errors.New("whatsapp: unexpected webhook object")

// Event is a typed webhook change.
type Event interface {
	eventField() string
}

// MessagesEvent carries inbound user messages.
type MessagesEvent struct {
	Metadata Metadata
	Contacts []Contact
	Messages []Message
}

func (MessagesEvent) eventField() string { return FieldMessages }

// ContactName returns the profile name the sender registered, if present.
func (e MessagesEvent) ContactName(waID string) string {
	for _, c := range e.Contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	return ""
}

// StatusEvent carries delivery reports.
type StatusEvent struct {
	Metadata Metadata
	Statuses []Status
}

func (StatusEvent) eventField() string { return FieldMessageStatus }

// ParseChanges validates the payload object and decodes every change into
// typed events. Unknown fields and undecodable values are skipped. Status
// reports arrive either under the message_status field or inside a messages
// change, as the Cloud API sends them.
func ParseChanges(p *WebhookPayload) ([]Event, error) {
	if p == nil || p.Object != ObjectBusinessAccount {
		object := ""
		if p != nil {
			object = p.Object
		}
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedObject, object)
	}
	var events []Event
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			switch change.Field {
			case FieldMessages:
				var v changeValue
				if err := json.Unmarshal(change.Value, &v); err != nil {
					continue
				}
				if len(v.Messages) > 0 {
					events = append(events, MessagesEvent{Metadata: v.Metadata, Contacts: v.Contacts, Messages: v.Messages})
				}
				if len(v.Statuses) > 0 {
					events = append(events, StatusEvent{Metadata: v.Metadata, Statuses: v.Statuses})
				}
			case FieldMessageStatus:
				if ev, ok := decodeStatusValue(change.Value); ok {
					events = append(events, ev)
				}
			}
		}
	}
	return events, nil
}

// decodeStatusValue accepts {"statuses":[...]}, a bare status list or a
// single status object.
func decodeStatusValue(raw json.RawMessage) (StatusEvent, bool) {
	var v changeValue
	if err := json.Unmarshal(raw, &v); err == nil && len(v.Statuses) > 0 {
		return StatusEvent{Metadata: v.Metadata, Statuses: v.Statuses}, true
	}
	var list []Status
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return StatusEvent{Statuses: list}, true
	}
	var single Status
	if err := json.Unmarshal(raw, &single); err == nil && single.Status != "" {
		return StatusEvent{Statuses: []Status{single}}, true
	}
	return StatusEvent{}, false
}
