// Package core assembles the messaging components into one service object
// whose timers are started and stopped by the caller.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/physio-messaging/internal/analytics"
	"github.com/wolfman30/physio-messaging/internal/api/router"
	"github.com/wolfman30/physio-messaging/internal/channels/whatsapp"
	"github.com/wolfman30/physio-messaging/internal/chatbot"
	"github.com/wolfman30/physio-messaging/internal/dispatch"
	"github.com/wolfman30/physio-messaging/internal/handoff"
	"github.com/wolfman30/physio-messaging/internal/http/handlers"
	"github.com/wolfman30/physio-messaging/internal/inbound"
	"github.com/wolfman30/physio-messaging/internal/messaging"
	"github.com/wolfman30/physio-messaging/internal/messaging/templates"
	"github.com/wolfman30/physio-messaging/internal/observability/metrics"
	"github.com/wolfman30/physio-messaging/internal/scheduling"
	"github.com/wolfman30/physio-messaging/internal/store"
	messagingworker "github.com/wolfman30/physio-messaging/internal/worker/messaging"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

// Deps are the externally supplied collaborators. Only Gateway is required.
type Deps struct {
	Gateway   messaging.Gateway
	Store     store.Store
	Directory messaging.DirectoryLookup
	Clock     messaging.Clock
	Handoff   handoff.Sink
	Catalog   *templates.Catalog
	// Rules seed the chatbot; nil means chatbot.DefaultRules.
	Rules []chatbot.Rule
	// Registry receives the service metrics; nil uses the default registerer.
	Registry *prometheus.Registry
}

// Options tune timers and defaults.
type Options struct {
	GatewayTimeout      time.Duration
	DispatchInterval    time.Duration
	FlushInterval       time.Duration
	DispatchConcurrency int
	Location            *time.Location
	DefaultLocale       string

	WebhookVerifyToken string
	WebhookAppSecret   string
}

// HTTPOptions configure the public HTTP surface.
type HTTPOptions struct {
	CORSAllowedOrigins []string
	WebhookRateLimit   float64
	WebhookRateBurst   int
}

// Service owns the queue, inbound log, analytics, chatbot and scheduler.
type Service struct {
	Queue      *scheduling.Queue
	Inbound    *inbound.Log
	Analytics  *analytics.Aggregator
	Chatbot    *chatbot.Engine
	Dispatcher *dispatch.Dispatcher
	Router     *inbound.Router
	Scheduler  *messagingworker.Scheduler
	Webhook    *whatsapp.WebhookHandler
	Metrics    *metrics.MessagingMetrics

	registry *prometheus.Registry
	logger   *logging.Logger
}

func New(deps Deps, opts Options, logger *logging.Logger) (*Service, error) {
	if deps.Gateway == nil {
		return nil, errors.New("core: gateway is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}
	if deps.Clock == nil {
		deps.Clock = messaging.SystemClock{}
	}
	if deps.Handoff == nil {
		deps.Handoff = handoff.NewLogSink(logger)
	}
	rules := deps.Rules
	if rules == nil {
		rules = chatbot.DefaultRules()
	}
	engine, err := chatbot.NewEngine(rules)
	if err != nil {
		return nil, fmt.Errorf("core: chatbot rules: %w", err)
	}

	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	if deps.Registry != nil {
		reg = deps.Registry
	}
	m := metrics.NewMessagingMetrics(reg)

	agg := analytics.NewAggregator(deps.Store, deps.Clock, opts.Location, logger)
	queue := scheduling.NewQueue(deps.Store, deps.Clock, logger)
	inboundLog := inbound.NewLog(deps.Store, logger)
	dispatcher := dispatch.New(deps.Gateway, deps.Catalog, agg, dispatch.Options{
		Timeout:       opts.GatewayTimeout,
		DefaultLocale: opts.DefaultLocale,
		Metrics:       m,
	}, logger)
	inboundRouter := inbound.NewRouter(inbound.Deps{
		Directory:   deps.Directory,
		Log:         inboundLog,
		Matcher:     engine,
		Replier:     dispatcher,
		Analytics:   agg,
		Handoff:     deps.Handoff,
		Clock:       deps.Clock,
		Metrics:     m,
		ReplyLocale: opts.DefaultLocale,
	}, logger)
	scheduler := messagingworker.NewScheduler(queue, dispatcher, agg, logger).
		WithFlusher(inboundLog).
		WithClock(deps.Clock).
		WithMetrics(m).
		WithTickInterval(opts.DispatchInterval).
		WithFlushInterval(opts.FlushInterval).
		WithConcurrency(opts.DispatchConcurrency)

	return &Service{
		Queue:      queue,
		Inbound:    inboundLog,
		Analytics:  agg,
		Chatbot:    engine,
		Dispatcher: dispatcher,
		Router:     inboundRouter,
		Scheduler:  scheduler,
		Webhook:    whatsapp.NewWebhookHandler(opts.WebhookVerifyToken, opts.WebhookAppSecret, inboundRouter, m, logger),
		Metrics:    m,
		registry:   deps.Registry,
		logger:     logger,
	}, nil
}

// Load restores the three persisted collections. Every collection is
// attempted; the errors are joined.
func (s *Service) Load(ctx context.Context) error {
	err := errors.Join(
		s.Queue.Load(ctx),
		s.Inbound.Load(ctx),
		s.Analytics.Load(ctx),
	)
	s.Metrics.SetQueuePending(s.Queue.Pending())
	if err != nil {
		return fmt.Errorf("core: load: %w", err)
	}
	s.logger.Info("messaging state restored", "pending", s.Queue.Pending(), "inbound", s.Inbound.Len())
	return nil
}

// Start launches the dispatch and flush timers.
func (s *Service) Start(ctx context.Context) error {
	return s.Scheduler.Start(ctx)
}

// Stop halts the timers and flushes analytics.
func (s *Service) Stop(ctx context.Context) error {
	return s.Scheduler.Stop(ctx)
}

// Schedule enqueues a message for later dispatch.
func (s *Service) Schedule(ctx context.Context, msg scheduling.ScheduledMessage) (string, error) {
	id, err := s.Queue.Enqueue(ctx, msg)
	if id != "" {
		s.Metrics.SetQueuePending(s.Queue.Pending())
	}
	return id, err
}

// Cancel cancels tenantID's pending message id.
func (s *Service) Cancel(ctx context.Context, tenantID, id string) bool {
	return s.Queue.Cancel(ctx, tenantID, id)
}

// Handler builds the HTTP surface: webhook, tenant API, chatbot admin,
// health and metrics.
func (s *Service) Handler(opts HTTPOptions) http.Handler {
	metricsHandler := promhttp.Handler()
	if s.registry != nil {
		metricsHandler = promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
	}
	return router.New(&router.Config{
		Logger:             s.logger,
		WhatsAppWebhook:    s.Webhook,
		ScheduledMessages:  handlers.NewScheduledMessagesHandler(s.Queue, s.logger),
		Analytics:          handlers.NewAnalyticsHandler(s.Analytics),
		Inbound:            handlers.NewInboundHandler(s.Inbound),
		ChatbotRules:       handlers.NewChatbotRulesHandler(s.Chatbot, s.logger),
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: opts.CORSAllowedOrigins,
		WebhookRateLimit:   opts.WebhookRateLimit,
		WebhookRateBurst:   opts.WebhookRateBurst,
	})
}
