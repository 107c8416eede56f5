package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/physio-messaging/internal/observability/metrics"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

const maxWebhookBytes = 1 << 20

var webhookTracer = otel.Tracer("physio.internal.channels.whatsapp")

// PayloadRouter consumes decoded webhook payloads.
type PayloadRouter interface {
	Route(ctx context.Context, payload *WebhookPayload) error
}

// WebhookHandler handles Cloud API webhook verification and event delivery.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	router      PayloadRouter
	metrics     *metrics.MessagingMetrics
	logger      *logging.Logger
}

// NewWebhookHandler creates a webhook handler. When appSecret is empty the
// X-Hub-Signature-256 check is skipped.
func NewWebhookHandler(verifyToken, appSecret string, router PayloadRouter, m *metrics.MessagingMetrics, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		router:      router,
		metrics:     m,
		logger:      logger,
	}
}

// HandleVerification handles the GET webhook verification challenge from Meta.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && hmac.Equal([]byte(token), []byte(h.verifyToken)) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}

	h.logger.Warn("whatsapp: webhook verification rejected", "mode", mode)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleInbound handles POST webhook events.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	ctx, span := webhookTracer.Start(r.Context(), "messaging.whatsapp.webhook", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		span.RecordError(err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if h.appSecret != "" {
		signature := r.Header.Get("X-Hub-Signature-256")
		if !VerifySignature(h.appSecret, body, signature) {
			span.RecordError(errors.New("invalid webhook signature"))
			span.SetStatus(codes.Error, "invalid signature")
			h.metrics.ObserveWebhook("unknown", "unauthorized")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		span.RecordError(err)
		h.metrics.ObserveWebhook("unknown", "malformed")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("physio.webhook_object", payload.Object))
	if payload.Object != ObjectBusinessAccount {
		h.metrics.ObserveWebhook("unknown", "wrong_object")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if h.router != nil {
		if err := h.router.Route(ctx, &payload); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "route failed")
			h.logger.Error("whatsapp: route webhook failed", "error", err)
			if errors.Is(err, ErrUnexpectedObject) {
				http.Error(w, "Bad Request", http.StatusBadRequest)
				return
			}
		}
	}

	h.metrics.ObserveWebhookLatency(payload.Object, time.Since(start).Seconds())
	w.WriteHeader(http.StatusOK)
}

// VerifySignature verifies the X-Hub-Signature-256 header.
func VerifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}

	const prefix = "sha256="
	if len(signature) <= len(prefix) || signature[:len(prefix)] != prefix {
		return false
	}
	sigHex := signature[len(prefix):]

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(sigHex))
}

// Sign computes the X-Hub-Signature-256 value for body.
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
