package commands

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/spec-kit/ticket-relay/internal/config"
	"github.com/spec-kit/ticket-relay/internal/events"
	"github.com/spec-kit/ticket-relay/internal/messaging"
	"github.com/spec-kit/ticket-relay/internal/observability"
	"github.com/spec-kit/ticket-relay/internal/persistence"
	"github.com/spec-kit/ticket-relay/internal/repository"
	"github.com/spec-kit/ticket-relay/internal/service"
	"github.com/spec-kit/ticket-relay/internal/transcript"
	"github.com/spec-kit/ticket-relay/internal/worker"
)

// runtime holds the wired services shared by serve and sweep.
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	postgres *persistence.Postgres
	redis    *persistence.Redis
	store    repository.TicketStore
	discord  *messaging.Discord
	queue    *events.QueuedDispatcher
	metrics  *observability.Metrics
	gcs      *transcript.GCSSink

	resolver  *service.IdentityResolver
	lifecycle *service.LifecycleService
	relay     *service.RelayService
	rating    *service.RatingService
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, logger, nil
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}
	rt.postgres = pg
	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	var audit repository.AuditRepository
	if pool := pg.PoolHandle(); pool != nil {
		rt.store = repository.NewTicketStore(pool)
		audit = repository.NewAuditRepository(pool)
	} else {
		rt.store = repository.NewMemoryStore()
		audit = repository.NewMemoryAuditRepository()
	}

	rt.redis = persistence.NewRedis(cfg.Redis, logger)

	categories, err := config.LoadCategories(cfg.Tickets.CategoriesFile)
	if err != nil {
		rt.Close()
		return nil, err
	}

	discord, err := messaging.NewDiscord(cfg.Discord, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.discord = discord

	var sink transcript.Sink
	if cfg.Transcript.GCSBucket != "" {
		var opts []option.ClientOption
		if cfg.Transcript.GCSCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Transcript.GCSCredentialsFile))
		}
		gcs, err := transcript.NewGCSSink(ctx, cfg.Transcript.GCSBucket, cfg.Transcript.PublicBaseURL, opts...)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.gcs = gcs
		sink = gcs
	}

	rt.queue = events.NewQueuedDispatcher(cfg.Events.QueueSize, logger)
	rt.queue.SubscribeAll(rt.metrics.HandleEvent)
	redisSink := events.NewRedisSink(rt.redis.Client, cfg.Events.RedisChannel)
	notifications := service.NewNotificationService(rt.queue, audit, redisSink.Handle, logger)

	renderer := transcript.NewRenderer(discord, nil,
		transcript.WithInlineImages(transcript.NewHTTPImageFetcher(10*time.Second), int64(cfg.Transcript.InlineImageMaxBytes)))

	rt.resolver = service.NewIdentityResolver(rt.store, discord, cfg.Discord.GuildID, logger)
	rt.lifecycle = service.NewLifecycleService(service.LifecycleDependencies{
		Store:      rt.store,
		Platform:   discord,
		Dispatcher: rt.queue,
		Renderer:   renderer,
		Deliverer:  transcript.NewDeliverer(sink, discord, int64(cfg.Transcript.MaxAttachmentBytes), logger),
		Categories: categories,
		Config:     cfg.Tickets,
		GuildID:    cfg.Discord.GuildID,
		Logger:     logger,
	})
	rt.relay = service.NewRelayService(service.RelayDependencies{
		Store:      rt.store,
		Platform:   discord,
		Resolver:   rt.resolver,
		Lifecycle:  rt.lifecycle,
		Dispatcher: rt.queue,
		NotePrefix: cfg.Tickets.NotePrefix,
		Logger:     logger,
	})
	rt.rating = service.NewRatingService(rt.store, discord, rt.queue, cfg.Tickets.RatingEnabled, logger, nil)

	worker.StartEventPipeline(rt.queue, notifications)
	return rt, nil
}

func (rt *runtime) automation() *worker.AutomationWorker {
	return worker.NewAutomationWorker(worker.AutomationDependencies{
		Store:              rt.store,
		Lifecycle:          rt.lifecycle,
		SLAThreshold:       rt.cfg.Automation.SLAThreshold(),
		AutoCloseThreshold: rt.cfg.Automation.AutoCloseThreshold(),
		Interval:           rt.cfg.Automation.Interval(),
		BatchLimit:         rt.cfg.Automation.BatchLimit,
		Logger:             rt.logger,
	})
}

// Close drains pending events and releases connections.
func (rt *runtime) Close() {
	if rt.queue != nil {
		rt.queue.Close()
	}
	if rt.gcs != nil {
		if err := rt.gcs.Close(); err != nil {
			rt.logger.Warn("failed to close transcript sink", zap.Error(err))
		}
	}
	rt.redis.Close()
	rt.postgres.Close()
}
