package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/physio-messaging/internal/config"
	"github.com/wolfman30/physio-messaging/internal/store"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// NeedsAWS reports whether any configured component talks to AWS.
func NeedsAWS(cfg *appconfig.Config) bool {
	if cfg == nil {
		return false
	}
	switch cfg.StoreBackend {
	case "s3", "dynamodb":
		return true
	}
	return cfg.HandoffQueueURL != "" || (cfg.SESFromEmail != "" && cfg.SendGridAPIKey == "")
}

// BuildStore opens the persistence backend named by STORE_BACKEND. The
// returned closer releases its connections. awsCfg is only consulted for
// the s3 and dynamodb backends.
func BuildStore(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (store.Store, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	noop := func() {}

	switch cfg.StoreBackend {
	case "", "memory":
		logger.Warn("using in-memory store; state is lost on restart")
		return store.NewMemoryStore(), noop, nil
	case "redis":
		client := BuildRedisClient(ctx, cfg, logger, true)
		if client == nil {
			return nil, nil, fmt.Errorf("bootstrap: redis store: redis unavailable at %s", cfg.RedisAddr)
		}
		logger.Info("using redis store", "addr", cfg.RedisAddr, "prefix", cfg.StoreKeyPrefix)
		return store.NewRedisStore(client, cfg.StoreKeyPrefix), func() { _ = client.Close() }, nil
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, nil, fmt.Errorf("bootstrap: postgres store requires DATABASE_URL")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: postgres store: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("bootstrap: postgres store: ping: %w", err)
		}
		logger.Info("using postgres store")
		return store.NewPostgresStore(pool), pool.Close, nil
	case "s3":
		if awsCfg == nil {
			return nil, nil, fmt.Errorf("bootstrap: s3 store requires AWS config")
		}
		if cfg.StoreS3Bucket == "" {
			return nil, nil, fmt.Errorf("bootstrap: s3 store requires STORE_S3_BUCKET")
		}
		client := s3.NewFromConfig(*awsCfg, func(o *s3.Options) {
			if cfg.AWSEndpointOverride != "" {
				o.UsePathStyle = true
			}
		})
		logger.Info("using s3 store", "bucket", cfg.StoreS3Bucket, "prefix", cfg.StoreS3Prefix)
		return store.NewS3Store(client, cfg.StoreS3Bucket, cfg.StoreS3Prefix), noop, nil
	case "dynamodb":
		if awsCfg == nil {
			return nil, nil, fmt.Errorf("bootstrap: dynamodb store requires AWS config")
		}
		logger.Info("using dynamodb store", "table", cfg.StoreDynamoTable)
		return store.NewDynamoStore(dynamodb.NewFromConfig(*awsCfg), cfg.StoreDynamoTable), noop, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}
