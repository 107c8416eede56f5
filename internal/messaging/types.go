package messaging

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultTenant is used for inbound traffic whose phone matches no known patient.
const DefaultTenant = "default"

// Kind identifies the shape of a logical message.
type Kind string

const (
	KindText        Kind = "text"
	KindTemplate    Kind = "template"
	KindMedia       Kind = "media"
	KindInteractive Kind = "interactive"
)

// MediaType is the attachment type of a media message.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
	MediaAudio    MediaType = "audio"
)

// SupportsCaption reports whether the carrier renders a caption for this media type.
func (t MediaType) SupportsCaption() bool {
	return t == MediaImage || t == MediaVideo
}

// TemplateRef names an approved template and its positional parameters.
type TemplateRef struct {
	Name     string   `json:"name"`
	Language string   `json:"language,omitempty"`
	Params   []string `json:"params,omitempty"`
}

// Media describes an attachment by URL.
type Media struct {
	URL      string    `json:"url"`
	Type     MediaType `json:"type"`
	Caption  string    `json:"caption,omitempty"`
	Filename string    `json:"filename,omitempty"`
}

// LogicalMessage is a channel-independent outbound message.
type LogicalMessage struct {
	Kind        Kind            `json:"kind"`
	To          string          `json:"to"`
	Text        string          `json:"text,omitempty"`
	Template    *TemplateRef    `json:"template,omitempty"`
	Media       *Media          `json:"media,omitempty"`
	Interactive json.RawMessage `json:"interactive,omitempty"`
}

// TemplatePayload is what the gateway receives for template sends.
type TemplatePayload struct {
	Name         string
	Language     string
	Params       []string
	RenderedBody string
}

// OutboundRequest is a fully validated send handed to a Gateway.
type OutboundRequest struct {
	TenantID    string
	To          string
	Kind        Kind
	Text        string
	Template    *TemplatePayload
	Media       *Media
	Interactive json.RawMessage
}

// Gateway transmits messages to the carrier.
type Gateway interface {
	Send(ctx context.Context, req OutboundRequest) (string, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, req OutboundRequest) (string, error)

// Send implements Gateway.
func (f GatewayFunc) Send(ctx context.Context, req OutboundRequest) (string, error) {
	return f(ctx, req)
}

// Clock abstracts time so schedulers can be driven from tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
