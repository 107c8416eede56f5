package whatsapp

import (
	"encoding/json"
	"strconv"
	"time"
)

// ObjectBusinessAccount is the only webhook object this package accepts.
const ObjectBusinessAccount = "whatsapp_business_account"

// Change fields carrying messaging events.
const (
	FieldMessages      = "messages"
	FieldMessageStatus = "message_status"
)

// WebhookPayload is the top-level structure posted by the Cloud API.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field update; Value is decoded per Field by ParseChanges.
type Change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// Metadata identifies the business number that received the event.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender profile attached to inbound messages.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Message is one inbound user message.
type Message struct {
	ID          string          `json:"id"`
	From        string          `json:"from"`
	Timestamp   string          `json:"timestamp"`
	Type        string          `json:"type"`
	Text        *TextBody       `json:"text,omitempty"`
	Button      *ButtonReply    `json:"button,omitempty"`
	Interactive *Interactive    `json:"interactive,omitempty"`
	Content     json.RawMessage `json:"-"`
}

// TextBody is the payload of a text message.
type TextBody struct {
	Body string `json:"body"`
}

// ButtonReply is a quick-reply button press on a template.
type ButtonReply struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

// Interactive is a reply to an interactive button or list message.
type Interactive struct {
	Type        string `json:"type"`
	ButtonReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"button_reply,omitempty"`
	ListReply *struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"list_reply,omitempty"`
}

// UnmarshalJSON keeps the raw type-specific object in Content.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*m = Message(decoded)
	if raw, ok := fields[decoded.Type]; ok {
		m.Content = append(json.RawMessage(nil), raw...)
	}
	return nil
}

// Inbound message types after classification.
const (
	TypeText        = "text"
	TypeImage       = "image"
	TypeVideo       = "video"
	TypeDocument    = "document"
	TypeAudio       = "audio"
	TypeButton      = "button"
	TypeList        = "list"
	TypeInteractive = "interactive"
	TypeUnknown     = "unknown"
)

// Kind classifies the message. Interactive replies are split into button
// and list replies.
func (m Message) Kind() string {
	switch m.Type {
	case TypeText, TypeImage, TypeVideo, TypeDocument, TypeAudio, TypeButton:
		return m.Type
	case TypeInteractive:
		if m.Interactive != nil {
			switch m.Interactive.Type {
			case "button_reply":
				return TypeButton
			case "list_reply":
				return TypeList
			}
		}
		return TypeInteractive
	}
	return TypeUnknown
}

// Body returns the human-readable text of the message, if any.
func (m Message) Body() string {
	switch {
	case m.Text != nil:
		return m.Text.Body
	case m.Button != nil:
		return m.Button.Text
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		return m.Interactive.ButtonReply.Title
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		return m.Interactive.ListReply.Title
	}
	return ""
}

// Time parses the unix-seconds timestamp; zero when absent or malformed.
func (m Message) Time() time.Time {
	return parseUnix(m.Timestamp)
}

// Status is a carrier delivery report for an outbound message.
type Status struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Timestamp   string     `json:"timestamp"`
	RecipientID string     `json:"recipient_id"`
	Errors      []APIError `json:"errors,omitempty"`
}

// Time parses the unix-seconds timestamp; zero when absent or malformed.
func (s Status) Time() time.Time {
	return parseUnix(s.Timestamp)
}

// Reported delivery states.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// APIError is the Graph API error shape used in responses and status reports.
type APIError struct {
	Code      int    `json:"code"`
	Title     string `json:"title,omitempty"`
	Message   string `json:"message"`
	Type      string `json:"type,omitempty"`
	FBTraceID string `json:"fbtrace_id,omitempty"`
}

type changeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts"`
	Messages         []Message `json:"messages"`
	Statuses         []Status  `json:"statuses"`
}

// SendRequest is the body of POST /{phone-number-id}/messages.
type SendRequest struct {
	MessagingProduct string          `json:"messaging_product"`
	RecipientType    string          `json:"recipient_type"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Text             *SendText       `json:"text,omitempty"`
	Template         *SendTemplate   `json:"template,omitempty"`
	Image            *SendMedia      `json:"image,omitempty"`
	Video            *SendMedia      `json:"video,omitempty"`
	Document         *SendMedia      `json:"document,omitempty"`
	Audio            *SendMedia      `json:"audio,omitempty"`
	Interactive      json.RawMessage `json:"interactive,omitempty"`
}

type SendText struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type SendTemplate struct {
	Name       string              `json:"name"`
	Language   TemplateLanguage    `json:"language"`
	Components []TemplateComponent `json:"components,omitempty"`
}

type TemplateLanguage struct {
	Code string `json:"code"`
}

type TemplateComponent struct {
	Type       string              `json:"type"`
	Parameters []TemplateParameter `json:"parameters"`
}

type TemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type SendMedia struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// SendResponse is the Graph API reply to a send.
type SendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *APIError `json:"error,omitempty"`
}

func parseUnix(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
