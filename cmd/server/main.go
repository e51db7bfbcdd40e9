// Command server runs the analytics collector.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/victoralfred/marketpulse/internal/config"
	"github.com/victoralfred/marketpulse/internal/domain/analytics"
	"github.com/victoralfred/marketpulse/internal/handlers"
	"github.com/victoralfred/marketpulse/internal/infrastructure/clickhouse"
	"github.com/victoralfred/marketpulse/internal/infrastructure/mongo"
	"github.com/victoralfred/marketpulse/internal/infrastructure/postgres"
	"github.com/victoralfred/marketpulse/internal/infrastructure/redis"
	"github.com/victoralfred/marketpulse/internal/logging"
	"github.com/victoralfred/marketpulse/internal/providers"
	"github.com/victoralfred/marketpulse/internal/retention"
	"github.com/victoralfred/marketpulse/internal/server"
	"github.com/victoralfred/marketpulse/internal/writekey"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Collector stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting analytics collector",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Events
	pool, err := postgres.Connect(ctx, postgres.PoolConfig{URL: cfg.Postgres.URL, MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}
	events := postgres.NewEventRepository(pool)
	logger.Info("Connected to PostgreSQL")

	// Heatmaps
	chConn, err := clickhouse.Open(ctx, clickhouse.Config{
		Addr:     cfg.ClickHouse.Addr,
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.Username,
		Password: cfg.ClickHouse.Password,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = chConn.Close()
	}()
	heatmaps := clickhouse.NewHeatmapRepository(chConn)
	if err := heatmaps.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("Connected to ClickHouse")

	// Recordings
	mongoClient, err := mongo.Connect(ctx, cfg.Mongo.URI)
	if err != nil {
		return err
	}
	defer func() {
		_ = mongoClient.Disconnect(context.Background())
	}()
	recordings := mongo.NewRecordingRepository(
		mongoClient.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection),
		logger.Named("recordings"),
	)
	recordings.EnsureIndexes(ctx)
	logger.Info("Connected to MongoDB")

	// Rate limiting and stream forwarding
	redisClient, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer func() {
		_ = redisClient.Close()
	}()
	logger.Info("Connected to Redis")

	var heatmapStore analytics.HeatmapRepository = heatmaps
	if cfg.Redis.HeatmapCacheTTL > 0 {
		cache := redis.NewHeatmapCache(heatmaps, redisClient, cfg.Redis.HeatmapCacheTTL, logger.Named("heatmap_cache"))
		cache.RegisterMetrics(registry)
		heatmapStore = cache
	}

	bridge := providers.NewBridge(providers.DefaultBridgeConfig(),
		providers.WithLogger(logger.Named("forwarding")),
		providers.WithRegisterer(registry),
	)
	if cfg.Redis.StreamMaxLen > 0 {
		bridge.Register(providers.NewRedisStream(redisClient, cfg.Redis.StreamMaxLen))
	}
	if cfg.NATS.URL != "" {
		nc, err := providers.DialNATS(providers.NATSConfig{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Source:        "collector",
		})
		if err != nil {
			return err
		}
		defer nc.Close()
		bridge.Register(nc)
		logger.Info("Forwarding events to NATS", zap.String("url", cfg.NATS.URL))
	}

	definitions, err := loadDefinitions(cfg, logger)
	if err != nil {
		return err
	}

	sweeper, err := retention.NewSweeper(cfg.Retention.Schedule, []retention.Target{
		{Name: "events", Pruner: events, MaxAge: cfg.Retention.Events},
		{Name: "recordings", Pruner: recordings, MaxAge: cfg.Retention.Recordings},
		{Name: "heatmaps", Pruner: heatmaps, MaxAge: cfg.Retention.Heatmaps},
	}, registry, logger)
	if err != nil {
		return err
	}
	sweeper.Start()

	collector := handlers.NewCollectorHandler(handlers.CollectorDeps{
		Events:      events,
		Heatmaps:    heatmapStore,
		Recordings:  recordings,
		Forwarder:   bridge,
		Definitions: definitions,
		Logger:      logger.Named("collector"),
		Registerer:  registry,
	})

	deps := &server.Dependencies{
		Collector: collector,
		Limiter:   redis.NewRateLimiter(redisClient),
		Registry:  registry,
		HealthCheck: map[string]server.HealthChecker{
			"postgres":   pool.Ping,
			"clickhouse": chConn.Ping,
			"mongo": func(ctx context.Context) error {
				return mongoClient.Ping(ctx, nil)
			},
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
	}
	if cfg.WriteKey.Secret != "" {
		keys, err := writekey.New(cfg.WriteKey.Secret, cfg.WriteKey.Issuer)
		if err != nil {
			return err
		}
		deps.WriteKeys = keys
	} else {
		logger.Warn("WRITE_KEY_SECRET not set, ingest routes accept unauthenticated requests")
	}

	srv := server.New(cfg, deps, logger)
	srv.Setup()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		definitions.Stop()
		return nil
	})
	serveErr := g.Wait()

	// Forward whatever was accepted before the listener closed
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := bridge.Close(shutdownCtx); err != nil {
		logger.Warn("Forwarding queue not drained", zap.Error(err))
	}
	sweeper.Stop(shutdownCtx)

	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	logger.Info("Collector stopped")
	return nil
}

func loadDefinitions(cfg *config.Config, logger *zap.Logger) (*config.DefinitionsHolder, error) {
	if cfg.DefinitionsPath == "" {
		return config.StaticDefinitions(nil), nil
	}

	holder, err := config.NewDefinitionsHolder(cfg.DefinitionsPath, logger.Named("definitions"))
	if err != nil {
		return nil, err
	}
	if err := holder.Watch(); err != nil {
		return nil, err
	}
	holder.OnChange(func(defs *config.Definitions) {
		logger.Info("Definitions reloaded",
			zap.Int("goals", len(defs.Goals)),
			zap.Int("funnels", len(defs.Funnels)),
		)
	})
	return holder, nil
}
