package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wolfman30/physio-messaging/internal/messaging"
)

func TestSendText(t *testing.T) {
	var received SendRequest
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer test_token" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Error(err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","contacts":[{"input":"5511999887766","wa_id":"5511999887766"}],"messages":[{"id":"wamid.OK"}]}`))
	}))
	defer server.Close()

	client := NewClient("test_token", "PNID")
	client.SetGraphAPIBase(server.URL + "/")

	id, err := client.Send(context.Background(), messaging.OutboundRequest{To: "5511999887766", Kind: messaging.KindText, Text: "Olá"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "wamid.OK" {
		t.Errorf("id = %s, want wamid.OK", id)
	}
	if path != "/PNID/messages" {
		t.Errorf("path = %s", path)
	}
	if received.Type != "text" || received.Text == nil || received.Text.Body != "Olá" || received.To != "5511999887766" {
		t.Errorf("unexpected body %+v", received)
	}
	if received.MessagingProduct != "whatsapp" {
		t.Errorf("messaging_product = %s", received.MessagingProduct)
	}
}

func TestSendAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Recipient phone number not in allowed list","type":"OAuthException","code":131030}}`))
	}))
	defer server.Close()

	client := NewClient("t", "PNID")
	client.SetGraphAPIBase(server.URL)
	_, err := client.Send(context.Background(), messaging.OutboundRequest{To: "5511999887766", Kind: messaging.KindText, Text: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "131030") || !strings.Contains(err.Error(), "not in allowed list") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestSendNonJSONFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient("t", "PNID")
	client.SetGraphAPIBase(server.URL)
	_, err := client.Send(context.Background(), messaging.OutboundRequest{To: "5511999887766", Kind: messaging.KindText, Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestBuildSendRequestTemplate(t *testing.T) {
	req, err := BuildSendRequest(messaging.OutboundRequest{
		To:   "5511999887766",
		Kind: messaging.KindTemplate,
		Template: &messaging.TemplatePayload{
			Name:     "appointment_reminder",
			Language: "pt_BR",
			Params:   []string{"Ana", "12/03", "14:00"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if req.Template == nil || req.Template.Name != "appointment_reminder" || req.Template.Language.Code != "pt_BR" {
		t.Fatalf("unexpected template %+v", req.Template)
	}
	if len(req.Template.Components) != 1 || len(req.Template.Components[0].Parameters) != 3 {
		t.Fatalf("unexpected components %+v", req.Template.Components)
	}
	if req.Template.Components[0].Parameters[1].Text != "12/03" {
		t.Fatalf("unexpected parameter %+v", req.Template.Components[0].Parameters[1])
	}
}

func TestBuildSendRequestMedia(t *testing.T) {
	req, err := BuildSendRequest(messaging.OutboundRequest{
		To:    "5511999887766",
		Kind:  messaging.KindMedia,
		Media: &messaging.Media{URL: "https://cdn.example.com/plan.pdf", Type: messaging.MediaDocument, Filename: "plano.pdf"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if req.Type != "document" || req.Document == nil || req.Document.Filename != "plano.pdf" {
		t.Fatalf("unexpected media request %+v", req)
	}

	raw := json.RawMessage(`{"type":"button"}`)
	req, err = BuildSendRequest(messaging.OutboundRequest{To: "5511999887766", Kind: messaging.KindInteractive, Interactive: raw})
	if err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(req)
	if !strings.Contains(string(body), `"interactive":{"type":"button"}`) {
		t.Fatalf("interactive payload not passed through: %s", body)
	}

	if _, err := BuildSendRequest(messaging.OutboundRequest{Kind: "sticker"}); err == nil {
		t.Fatal("expected unsupported kind error")
	}
}

func TestSendRespectsCancelledContextUnderRateLimit(t *testing.T) {
	client := NewClient("t", "PNID")
	client.SetRateLimit(0.001, 1)
	client.SetGraphAPIBase("http://127.0.0.1:1")

	ctx, cancel := context.WithCancel(context.Background())
	// consume the single burst token
	_ = client.limiter.Allow()
	cancel()
	if _, err := client.Send(ctx, messaging.OutboundRequest{To: "5511999887766", Kind: messaging.KindText, Text: "x"}); err == nil {
		t.Fatal("expected rate limit error")
	}
}
