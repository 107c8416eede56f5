package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"

	"github.com/wolfman30/physio-messaging/internal/channels/whatsapp"
	"github.com/wolfman30/physio-messaging/internal/chatbot"
	appconfig "github.com/wolfman30/physio-messaging/internal/config"
	"github.com/wolfman30/physio-messaging/internal/handoff"
	"github.com/wolfman30/physio-messaging/internal/messaging"
	"github.com/wolfman30/physio-messaging/internal/notify"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

// BuildDirectory returns the phone → tenant lookup named by DIRECTORY_BACKEND.
func BuildDirectory(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (messaging.DirectoryLookup, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.DirectoryBackend {
	case "", "static":
		phones, err := cfg.TenantPhoneMap()
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: directory: %w", err)
		}
		logger.Info("using static tenant directory", "phones", len(phones))
		return messaging.NewStaticDirectory(phones), func() {}, nil
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, nil, fmt.Errorf("bootstrap: postgres directory requires DATABASE_URL")
		}
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: directory: open: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("bootstrap: directory: ping: %w", err)
		}
		logger.Info("using postgres patient directory")
		return messaging.NewSQLDirectory(db), func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown DIRECTORY_BACKEND %q", cfg.DirectoryBackend)
	}
}

// BuildGateway returns the WhatsApp Cloud API client, or a logging dry-run
// gateway when credentials are missing.
func BuildGateway(cfg *appconfig.Config, logger *logging.Logger) messaging.Gateway {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil || cfg.WhatsAppAccessToken == "" || cfg.WhatsAppPhoneNumberID == "" {
		logger.Warn("whatsapp credentials missing; outbound messages are logged only")
		return messaging.NewLogGateway(logger)
	}
	client := whatsapp.NewClient(cfg.WhatsAppAccessToken, cfg.WhatsAppPhoneNumberID)
	if cfg.WhatsAppAPIBase != "" {
		client.SetGraphAPIBase(cfg.WhatsAppAPIBase)
	}
	client.SetRateLimit(cfg.WhatsAppSendRate, cfg.WhatsAppSendBurst)
	logger.Info("whatsapp gateway configured", "phone_number_id", cfg.WhatsAppPhoneNumberID, "send_rate", cfg.WhatsAppSendRate)
	return client
}

// BuildEmailSender picks SendGrid, then SES, then a logging sender.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		return sg
	}
	if awsCfg != nil {
		if ses := notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), cfg.SESFromEmail, cfg.SendGridFromName, logger); ses != nil {
			return ses
		}
	}
	return notify.NewLogSender(logger)
}

// BuildHandoff fans human handoffs out to the log, the SQS queue and the
// department mailboxes, whichever are configured.
func BuildHandoff(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (handoff.Sink, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	sinks := handoff.MultiSink{handoff.NewLogSink(logger)}

	if cfg.HandoffQueueURL != "" {
		if awsCfg == nil {
			return nil, fmt.Errorf("bootstrap: HANDOFF_QUEUE_URL requires AWS config")
		}
		sinks = append(sinks, handoff.NewSQSSink(sqs.NewFromConfig(*awsCfg), cfg.HandoffQueueURL))
		logger.Info("handoff queue enabled", "queue_url", cfg.HandoffQueueURL)
	}

	routes, err := cfg.HandoffEmails()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: handoff emails: %w", err)
	}
	if len(routes) > 0 {
		sinks = append(sinks, handoff.NewEmailSink(BuildEmailSender(cfg, awsCfg, logger), routes))
		logger.Info("handoff email enabled", "departments", len(routes))
	}
	return sinks, nil
}

// LoadChatbotRules reads CHATBOT_RULES_FILE, falling back to the built-in rules.
func LoadChatbotRules(cfg *appconfig.Config, logger *logging.Logger) ([]chatbot.Rule, error) {
	if cfg == nil || strings.TrimSpace(cfg.ChatbotRulesFile) == "" {
		return chatbot.DefaultRules(), nil
	}
	rules, err := chatbot.LoadRulesFile(cfg.ChatbotRulesFile)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: chatbot rules: %w", err)
	}
	if logger != nil {
		logger.Info("chatbot rules loaded", "path", cfg.ChatbotRulesFile, "count", len(rules))
	}
	return rules, nil
}
