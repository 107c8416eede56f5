package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/physio-messaging/pkg/logging"
)

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestNewSendGridSenderNilWithoutAPIKey(t *testing.T) {
	if sender := NewSendGridSender(SendGridConfig{FromEmail: "clinic@example.com"}, nil); sender != nil {
		t.Fatal("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSenderDefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "key", FromEmail: "clinic@example.com"}, nil)
	if sender == nil {
		t.Fatal("expected sender")
	}
	if sender.fromName != defaultFromName {
		t.Fatalf("unexpected from name %q", sender.fromName)
	}
}

func TestSendGridSenderNilClient(t *testing.T) {
	var sender *SendGridSender
	if err := sender.Send(context.Background(), EmailMessage{To: []string{"a@example.com"}}); err == nil {
		t.Fatal("expected error for unconfigured sender")
	}
}

func TestBuildSendGridMail(t *testing.T) {
	m, err := BuildSendGridMail("Clinic", "clinic@example.com", EmailMessage{
		To:      []string{"a@example.com", " ", "b@example.com"},
		Subject: "Handoff",
		Body:    "text",
		HTML:    "<p>text</p>",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(m.Personalizations) != 2 {
		t.Fatalf("expected 2 personalizations, got %d", len(m.Personalizations))
	}
	if len(m.Content) != 2 || m.Content[0].Type != "text/plain" {
		t.Fatalf("unexpected content %+v", m.Content)
	}
	if _, err := BuildSendGridMail("c", "c@example.com", EmailMessage{}); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}

func TestSESSenderSend(t *testing.T) {
	client := &fakeSES{}
	sender := NewSESSender(client, "clinic@example.com", "", logging.Discard())
	err := sender.Send(context.Background(), EmailMessage{To: []string{"therapists@example.com"}, Subject: "Paciente aguardando", Body: "corpo"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := aws.ToString(client.input.FromEmailAddress); got != defaultFromName+" <clinic@example.com>" {
		t.Fatalf("unexpected from %q", got)
	}
	if got := client.input.Destination.ToAddresses; len(got) != 1 || got[0] != "therapists@example.com" {
		t.Fatalf("unexpected destination %v", got)
	}
	if client.input.Content.Simple.Body.Html != nil {
		t.Fatalf("html part should be omitted")
	}

	client.err = errors.New("throttled")
	if err := sender.Send(context.Background(), EmailMessage{To: []string{"x@example.com"}}); err == nil {
		t.Fatal("expected SES error")
	}
	if err := sender.Send(context.Background(), EmailMessage{}); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}

func TestNewSESSenderRequiresClientAndFrom(t *testing.T) {
	if NewSESSender(nil, "a@example.com", "", nil) != nil {
		t.Fatal("expected nil without client")
	}
	if NewSESSender(&fakeSES{}, "", "", nil) != nil {
		t.Fatal("expected nil without from address")
	}
}

func TestLogSender(t *testing.T) {
	s := NewLogSender(logging.Discard())
	if err := s.Send(context.Background(), EmailMessage{To: []string{"a@example.com"}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.Send(context.Background(), EmailMessage{}); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}
