package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/wolfman30/physio-messaging/internal/messaging"
)

const (
	defaultGraphAPIBase = "https://graph.facebook.com/v20.0"
	defaultHTTPTimeout  = 10 * time.Second
	maxResponseBytes    = 1 << 20
)

// Client sends messages through the WhatsApp Cloud API and implements
// messaging.Gateway.
type Client struct {
	accessToken   string
	phoneNumberID string
	graphAPIBase  string
	httpClient    *http.Client
	limiter       *rate.Limiter
}

// NewClient creates a Cloud API client for one business phone number.
func NewClient(accessToken, phoneNumberID string) *Client {
	return &Client{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		graphAPIBase:  defaultGraphAPIBase,
		httpClient:    &http.Client{Timeout: defaultHTTPTimeout},
		limiter:       rate.NewLimiter(rate.Inf, 0),
	}
}

// SetGraphAPIBase overrides the Graph API base URL (useful for testing).
func (c *Client) SetGraphAPIBase(base string) {
	if base != "" {
		c.graphAPIBase = strings.TrimRight(base, "/")
	}
}

// SetRateLimit caps sends per second. A non-positive rate disables the cap.
func (c *Client) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Send implements messaging.Gateway.
func (c *Client) Send(ctx context.Context, req messaging.OutboundRequest) (string, error) {
	body, err := BuildSendRequest(req)
	if err != nil {
		return "", err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("whatsapp: rate limit: %w", err)
	}
	resp, err := c.send(ctx, body)
	if err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return "", errors.New("whatsapp: response missing message id")
	}
	return resp.Messages[0].ID, nil
}

// BuildSendRequest maps a validated outbound request onto the Cloud API body.
func BuildSendRequest(req messaging.OutboundRequest) (SendRequest, error) {
	out := SendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               req.To,
	}
	switch req.Kind {
	case messaging.KindText:
		out.Type = "text"
		out.Text = &SendText{Body: req.Text}
	case messaging.KindTemplate:
		if req.Template == nil {
			return SendRequest{}, errors.New("whatsapp: template payload required")
		}
		out.Type = "template"
		tpl := &SendTemplate{Name: req.Template.Name, Language: TemplateLanguage{Code: req.Template.Language}}
		if len(req.Template.Params) > 0 {
			params := make([]TemplateParameter, 0, len(req.Template.Params))
			for _, p := range req.Template.Params {
				params = append(params, TemplateParameter{Type: "text", Text: p})
			}
			tpl.Components = []TemplateComponent{{Type: "body", Parameters: params}}
		}
		out.Template = tpl
	case messaging.KindMedia:
		if req.Media == nil {
			return SendRequest{}, errors.New("whatsapp: media payload required")
		}
		media := &SendMedia{Link: req.Media.URL, Caption: req.Media.Caption}
		out.Type = string(req.Media.Type)
		switch req.Media.Type {
		case messaging.MediaImage:
			out.Image = media
		case messaging.MediaVideo:
			out.Video = media
		case messaging.MediaDocument:
			media.Filename = req.Media.Filename
			out.Document = media
		case messaging.MediaAudio:
			media.Caption = ""
			out.Audio = media
		default:
			return SendRequest{}, fmt.Errorf("whatsapp: unsupported media type %q", req.Media.Type)
		}
	case messaging.KindInteractive:
		out.Type = "interactive"
		out.Interactive = req.Interactive
	default:
		return SendRequest{}, fmt.Errorf("whatsapp: unsupported kind %q", req.Kind)
	}
	return out, nil
}

func (c *Client) send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.graphAPIBase, c.phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: read response: %w", err)
	}

	var sendResp SendResponse
	if err := json.Unmarshal(respBody, &sendResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("whatsapp: unexpected status %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, fmt.Errorf("whatsapp: unmarshal response: %w", err)
	}

	if sendResp.Error != nil {
		return &sendResp, fmt.Errorf("whatsapp: API error %d: %s", sendResp.Error.Code, sendResp.Error.Message)
	}

	if resp.StatusCode != http.StatusOK {
		return &sendResp, fmt.Errorf("whatsapp: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return &sendResp, nil
}
