package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/physio-messaging/internal/channels/whatsapp"
	"github.com/wolfman30/physio-messaging/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/physio-messaging/internal/http/middleware"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their routes unmounted.
type Config struct {
	Logger             *logging.Logger
	WhatsAppWebhook    *whatsapp.WebhookHandler
	ScheduledMessages  *handlers.ScheduledMessagesHandler
	Analytics          *handlers.AnalyticsHandler
	Inbound            *handlers.InboundHandler
	ChatbotRules       *handlers.ChatbotRulesHandler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	// WebhookRateLimit is requests per second per client on the webhook; 0 disables it.
	WebhookRateLimit float64
	WebhookRateBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Get("/health", health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.WhatsAppWebhook != nil {
		r.Route("/webhooks/whatsapp", func(wh chi.Router) {
			wh.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookRateBurst))
			wh.Get("/", cfg.WhatsAppWebhook.HandleVerification)
			wh.Post("/", cfg.WhatsAppWebhook.HandleInbound)
		})
	}

	r.Route("/api/tenants/{"+httpmiddleware.TenantParam+"}", func(tenant chi.Router) {
		tenant.Use(httpmiddleware.TenantScope)
		if cfg.ScheduledMessages != nil {
			tenant.Route("/scheduled-messages", func(sm chi.Router) {
				sm.Post("/", cfg.ScheduledMessages.Create)
				sm.Get("/", cfg.ScheduledMessages.List)
				sm.Get("/{messageID}", cfg.ScheduledMessages.Get)
				sm.Delete("/{messageID}", cfg.ScheduledMessages.Cancel)
			})
		}
		if cfg.Analytics != nil {
			tenant.Get("/analytics", cfg.Analytics.Get)
		}
		if cfg.Inbound != nil {
			tenant.Get("/inbound", cfg.Inbound.List)
		}
	})

	if cfg.ChatbotRules != nil {
		r.Route("/admin/chatbot/rules", func(admin chi.Router) {
			admin.Get("/", cfg.ChatbotRules.List)
			admin.Put("/", cfg.ChatbotRules.Replace)
		})
	}

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
