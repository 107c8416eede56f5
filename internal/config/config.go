package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Persistence backend for the queue, inbound log and analytics:
	// "memory", "redis", "postgres", "s3" or "dynamodb".
	StoreBackend     string
	StoreKeyPrefix   string
	RedisAddr        string
	RedisPassword    string
	RedisTLS         bool
	DatabaseURL      string
	StoreS3Bucket    string
	StoreS3Prefix    string
	StoreDynamoTable string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// WhatsApp Cloud API
	WhatsAppAPIBase       string
	WhatsAppAccessToken   string
	WhatsAppPhoneNumberID string
	WhatsAppVerifyToken   string
	WhatsAppAppSecret     string
	WhatsAppSendRate      float64
	WhatsAppSendBurst     int

	GatewayTimeout         time.Duration
	DispatchInterval       time.Duration
	AnalyticsFlushInterval time.Duration
	DispatchConcurrency    int
	AnalyticsTimezone      string
	DefaultLocale          string
	ChatbotRulesFile       string

	// DirectoryBackend is "static" (TenantPhoneMapJSON) or "postgres" (patients table).
	DirectoryBackend   string
	TenantPhoneMapJSON string

	// Human handoff
	HandoffQueueURL   string
	HandoffEmailsJSON string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string

	// HTTP surface
	CORSAllowedOrigins []string
	WebhookRateLimit   float64
	WebhookRateBurst   int
	ShutdownTimeout    time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StoreBackend:     strings.ToLower(strings.TrimSpace(getEnv("STORE_BACKEND", "memory"))),
		StoreKeyPrefix:   getEnv("STORE_KEY_PREFIX", "physio:messaging:"),
		RedisAddr:        getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisTLS:         getEnvAsBool("REDIS_TLS", false),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		StoreS3Bucket:    getEnv("STORE_S3_BUCKET", ""),
		StoreS3Prefix:    getEnv("STORE_S3_PREFIX", "messaging/state/"),
		StoreDynamoTable: getEnv("STORE_DYNAMO_TABLE", "messaging_state"),

		AWSRegion:           getEnv("AWS_REGION", "sa-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		WhatsAppAPIBase:       getEnv("WHATSAPP_API_BASE", "https://graph.facebook.com/v20.0"),
		WhatsAppAccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppVerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppAppSecret:     getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppSendRate:      getEnvAsFloat("WHATSAPP_SEND_RATE", 20),
		WhatsAppSendBurst:     getEnvAsInt("WHATSAPP_SEND_BURST", 5),

		GatewayTimeout:         getEnvAsDuration("GATEWAY_TIMEOUT", 15*time.Second),
		DispatchInterval:       getEnvAsDuration("DISPATCH_INTERVAL", 60*time.Second),
		AnalyticsFlushInterval: getEnvAsDuration("ANALYTICS_FLUSH_INTERVAL", 300*time.Second),
		DispatchConcurrency:    getEnvAsInt("DISPATCH_CONCURRENCY", 4),
		AnalyticsTimezone:      getEnv("ANALYTICS_TIMEZONE", "America/Sao_Paulo"),
		DefaultLocale:          getEnv("DEFAULT_LOCALE", "pt_BR"),
		ChatbotRulesFile:       getEnv("CHATBOT_RULES_FILE", ""),

		DirectoryBackend:   strings.ToLower(strings.TrimSpace(getEnv("DIRECTORY_BACKEND", "static"))),
		TenantPhoneMapJSON: getEnv("TENANT_PHONE_MAP_JSON", ""),

		HandoffQueueURL:   getEnv("HANDOFF_QUEUE_URL", ""),
		HandoffEmailsJSON: getEnv("HANDOFF_EMAILS_JSON", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Clínica Fisio"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		WebhookRateLimit:   getEnvAsFloat("WEBHOOK_RATE_LIMIT", 50),
		WebhookRateBurst:   getEnvAsInt("WEBHOOK_RATE_BURST", 100),
		ShutdownTimeout:    getEnvAsDuration("SHUTDOWN_TIMEOUT", 20*time.Second),
	}
}

// TenantPhoneMap decodes TENANT_PHONE_MAP_JSON ({"<phone>": "<tenant>"}).
func (c *Config) TenantPhoneMap() (map[string]string, error) {
	return decodeStringMap(c.TenantPhoneMapJSON)
}

// HandoffEmails decodes HANDOFF_EMAILS_JSON ({"<department>": "<address>"}).
func (c *Config) HandoffEmails() (map[string]string, error) {
	return decodeStringMap(c.HandoffEmailsJSON)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func decodeStringMap(raw string) (map[string]string, error) {
	out := map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
