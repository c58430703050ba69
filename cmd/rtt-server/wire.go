package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rtt/rtt/internal/config"
	"github.com/rtt/rtt/internal/domain/automation"
	"github.com/rtt/rtt/internal/domain/episode"
	"github.com/rtt/rtt/internal/domain/pathway"
	"github.com/rtt/rtt/internal/domain/patient"
	"github.com/rtt/rtt/internal/domain/reporting"
	"github.com/rtt/rtt/internal/platform/blobstore"
	"github.com/rtt/rtt/internal/platform/cache"
	"github.com/rtt/rtt/internal/platform/db"
	"github.com/rtt/rtt/internal/platform/events"
)

// infra holds the external clients a process shares between services.
type infra struct {
	redis  *redis.Client
	bus    events.Publisher
	cache  cache.Cache
	blobs  blobstore.Store
	checks []db.Check
}

func (i *infra) Close() {
	if i.bus != nil {
		_ = i.bus.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// newEventBus selects the event transport named by EVENT_BUS.
func newEventBus(cfg *config.Config, client *redis.Client, logger zerolog.Logger) (events.Publisher, error) {
	switch cfg.EventBus {
	case config.EventBusRedis:
		if client == nil {
			return nil, fmt.Errorf("event bus redis needs REDIS_URL")
		}
		return events.NewRedisPublisherFromClient(client, cfg.EventChannel), nil
	case config.EventBusAMQP:
		pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.EventChannel, logger)
		if err != nil {
			return nil, err
		}
		return pub, nil
	default:
		return events.NopPublisher{}, nil
	}
}

func newCache(client *redis.Client) cache.Cache {
	if client == nil {
		return cache.Nop{}
	}
	return cache.NewRedis(client, "rtt:")
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if !cfg.S3Enabled() {
		return blobstore.NewMemory(), nil
	}
	return blobstore.NewS3(ctx, blobstore.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Prefix:          "exports/",
	})
}

func newInfra(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*infra, error) {
	in := &infra{}
	client, err := newRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	in.redis = client
	if client != nil {
		in.checks = append(in.checks, db.Check{Name: "redis", Fn: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	}

	if in.bus, err = newEventBus(cfg, client, logger); err != nil {
		in.Close()
		return nil, err
	}
	in.cache = newCache(client)
	if in.blobs, err = newBlobStore(ctx, cfg); err != nil {
		in.Close()
		return nil, err
	}
	logger.Info().
		Str("event_bus", cfg.EventBus).
		Bool("report_cache", client != nil).
		Bool("s3_exports", cfg.S3Enabled()).
		Msg("infrastructure ready")
	return in, nil
}

type app struct {
	patients   *patient.Service
	pathways   *pathway.Service
	episodes   *episode.Service
	automation *automation.Service
	reports    *reporting.Service
}

// newApp builds the domain services. The episode log drives status
// automation, which in turn drives the pathway engine.
func newApp(cfg *config.Config, pool *pgxpool.Pool, in *infra, logger zerolog.Logger) *app {
	pub := reporting.NewInvalidatingPublisher(in.bus, in.cache, logger)

	patientSvc := patient.NewService(patient.NewRepoPG(pool), logger)
	pathwaySvc := pathway.NewService(pathway.NewRepoPG(pool), patientSvc, db.NewTxRunner(pool), pub, logger, cfg.AtRiskDays)
	episodeRepo := episode.NewRepoPG(pool)
	automationSvc := automation.NewService(pathwaySvc, episodeRepo, pub, logger)
	episodeSvc := episode.NewService(episodeRepo, pathwaySvc, automationSvc, pub, logger)
	reportSvc := reporting.NewService(reporting.NewRepoPG(pool), in.cache, in.blobs, pub, logger, cfg.ReportCacheTTL, cfg.AtRiskDays)

	return &app{
		patients:   patientSvc,
		pathways:   pathwaySvc,
		episodes:   episodeSvc,
		automation: automationSvc,
		reports:    reportSvc,
	}
}

func (a *app) registerRoutes(api *echo.Group) {
	patient.NewHandler(a.patients).RegisterRoutes(api)
	pathway.NewHandler(a.pathways).RegisterRoutes(api)
	episode.NewHandler(a.episodes).RegisterRoutes(api)
	automation.NewHandler(a.automation).RegisterRoutes(api)
	reporting.NewHandler(a.reports).RegisterRoutes(api)
}

// monitor builds the breach monitor over every tenant in the database.
func (a *app) monitor(pool *pgxpool.Pool, interval time.Duration, logger zerolog.Logger) *automation.Monitor {
	runner := func(ctx context.Context, fn func(ctx context.Context, tenantID string) error) error {
		return db.ForEachTenant(ctx, pool, fn)
	}
	return automation.NewMonitor(a.automation, runner, interval, logger)
}
