package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swot-insights/internal/analysis"
	"swot-insights/internal/api"
	"swot-insights/internal/common/auth"
	"swot-insights/internal/common/config"
	"swot-insights/internal/common/database"
	commonhttp "swot-insights/internal/common/http"
	"swot-insights/internal/common/logger"
	"swot-insights/internal/common/observability"
	"swot-insights/internal/generation"
	"swot-insights/internal/parser"
	"swot-insights/internal/persistence"
	"swot-insights/internal/reports"
	"swot-insights/internal/subscription"
	"swot-insights/internal/survey"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

func persistenceOptions(cfg config.PersistenceConfig, log logger.Logger) persistence.Options {
	return persistence.Options{
		Prefix:           cfg.KeyPrefix,
		DebounceWindow:   config.GetDuration(cfg.DebounceWindow),
		StaleAfter:       time.Duration(cfg.StaleAfterDays) * 24 * time.Hour,
		MaxEnvelopeBytes: cfg.MaxEnvelopeBytes,
		SchemaVersion:    cfg.SchemaVersion,
		Fields:           survey.DefaultCatalog(),
		Logger:           log,
	}
}

func serve(cfg *config.Config) error {
	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting swot-insights", zap.String("version", version), zap.String("environment", cfg.App.Environment))

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Warn("observability disabled", zap.Error(err))
		obs = observability.NewNoop()
	}
	defer obs.Shutdown(context.Background())

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.EnsureSchema(ctx); err != nil {
		return err
	}
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
	if err != nil {
		return err
	}
	if err := esClient.EnsureIndex(ctx, cfg.Database.Elasticsearch.ReportIndex, reports.IndexMapping); err != nil {
		zapLog.Warn("report index not created, admin search may fail", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		return err
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Domain components ---
	keycloak := auth.NewKeycloakClientFromConfig(cfg.Auth)
	checker := subscription.NewChecker(pg.DB, rdb.Client, subscription.DefaultCacheTTL, log)
	reportStore := reports.NewStore(pg.DB, log)
	indexer := reports.NewIndexer(esClient.Client, cfg.Database.Elasticsearch.ReportIndex, log)

	genCfg := generation.LoadConfig(cfg.Generation)
	generator := generation.NewClient(genCfg, generation.Dependencies{
		HTTP: commonhttp.NewClient(genCfg.AttemptTimeout + 5*time.Second),
		Parser: parser.New(parser.Options{
			MinSectionLength: cfg.Parser.MinSectionLength,
			SourceTag:        genCfg.SourceTag,
			Logger:           log,
		}),
		Reports: reportStore,
		Indexer: indexer,
		Logger:  log,
		Obs:     obs,
	})

	sessions, err := api.NewSessionManager(api.SessionManagerConfig{
		Size:        cfg.Sessions.CacheSize,
		KV:          persistence.NewRedisKV(rdb.Client),
		Persistence: persistenceOptions(cfg.Persistence, log),
		Generator:   generator,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	deps := api.Dependencies{
		Config:        cfg.Server,
		AdminRole:     cfg.Auth.AdminRole,
		Auth:          keycloak,
		Subscriptions: checker,
		Sessions:      sessions,
		Reports:       reportStore,
		Search:        indexer,
		ReadyChecks: map[string]api.ReadyCheck{
			"postgres":      pg.Ping,
			"redis":         rdb.Ping,
			"elasticsearch": esClient.Ping,
		},
		Logger: log,
	}

	if synth, err := analysis.NewAnthropicSynthesizer(analysis.LoadConfig(cfg.LLM)); err != nil {
		zapLog.Warn("analysis endpoint disabled", zap.Error(err))
	} else {
		deps.Analysis = analysis.NewHandler(analysis.LoadConfig(cfg.LLM), synth, log).Handle
	}

	server := api.NewServer(deps)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			zapLog.Error("HTTP server failed", zap.Error(err))
			return err
		}
	case <-sigCh:
		zapLog.Info("Shutdown signal received, draining requests...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error during HTTP shutdown", zap.Error(err))
	}

	zapLog.Info("swot-insights stopped")
	return nil
}
