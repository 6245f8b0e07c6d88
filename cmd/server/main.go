package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kryptotron/engine/internal/backup"
	"github.com/kryptotron/engine/internal/broker"
	"github.com/kryptotron/engine/internal/cache"
	"github.com/kryptotron/engine/internal/cache/httpfetchers"
	"github.com/kryptotron/engine/internal/config"
	"github.com/kryptotron/engine/internal/database"
	"github.com/kryptotron/engine/internal/domain"
	"github.com/kryptotron/engine/internal/events"
	"github.com/kryptotron/engine/internal/llm"
	"github.com/kryptotron/engine/internal/metrics"
	"github.com/kryptotron/engine/internal/notify"
	"github.com/kryptotron/engine/internal/persistence"
	"github.com/kryptotron/engine/internal/risk"
	"github.com/kryptotron/engine/internal/scheduler"
	"github.com/kryptotron/engine/internal/server"
	"github.com/kryptotron/engine/internal/strategy"
	"github.com/kryptotron/engine/internal/strategy/grid"
	"github.com/kryptotron/engine/internal/strategy/macro"
	"github.com/kryptotron/engine/internal/strategy/ta"
	"github.com/kryptotron/engine/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	log.Info().Msg("starting trading engine")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	strategies := persistence.NewStrategyRepository(db.Conn(), log)
	positions := persistence.NewPositionRepository(db.Conn(), log)
	trades := persistence.NewTradeRepository(db.Conn(), log)
	runLogs := persistence.NewRunLogRepository(db.Conn(), log)
	signals := persistence.NewSignalRepository(db.Conn(), log)
	accounts := persistence.NewAccountRepository(db.Conn(), log)
	priceBars := persistence.NewPriceBarRepository(db.Conn(), log)

	if err := accounts.EnsureSeeded(context.Background(), cfg.InitialCash); err != nil {
		log.Fatal().Err(err).Msg("failed to seed account")
	}

	httpClient := httpfetchers.SharedClient(time.Duration(cfg.UpstreamTimeoutS) * time.Second)

	marketCache := cache.New(log, time.Duration(cfg.UpstreamTimeoutS)*time.Second)
	registerUpstreamSources(marketCache, httpClient, cfg)

	bars := cache.NewBars(
		httpfetchers.NewKlinesFetcher(httpClient, cfg.ExchangeBaseURL, 500),
		priceBars,
		500,
		log,
	)

	priceProvider := scheduler.NewCachePriceProvider(marketCache)
	brokerCfg := broker.Config{FeeBps: cfg.FeeBps, SlippageBps: cfg.SlippageBps}
	paperBroker := broker.New(accounts, positions, trades, priceProvider, brokerCfg, log)

	riskCfg := risk.Config{
		MaxTradeNotionalPct:  cfg.MaxTradeNotionalPct,
		MaxSymbolExposurePct: cfg.MaxSymbolExposurePct,
		SoftDrawdownPct:      cfg.SoftDrawdownPct,
		HardDrawdownPct:      cfg.HardDrawdownPct,
	}

	var advisoryClient llm.AdvisoryClient = llm.NewNullClient()
	if cfg.LLMEnabled && cfg.LLMEndpoint != "" {
		advisoryClient = llm.NewHTTPClient(cfg.LLMEndpoint, httpClient, log)
	}

	evaluators := map[domain.StrategyKind]strategy.Evaluator{
		domain.StrategyTA:    ta.New(),
		domain.StrategyMacro: macro.New(time.Duration(cfg.LLMTimeoutS) * time.Second),
		domain.StrategyGrid:  grid.New(strategies),
	}

	eventsManager := events.NewManager(log)
	var innerSink notify.Sink = notify.NullSink{}
	if cfg.WebhookURL != "" {
		innerSink = notify.NewWebhookSink(cfg.WebhookURL, httpClient, log)
	}
	notifySink := notify.NewLoggingSink(eventsManager, innerSink)

	metricsRegistry := metrics.NewRegistry()
	metricsServer := metrics.NewServer(cfg.MetricsAddr, log)
	metricsServer.Start()

	coordinator := scheduler.New(scheduler.Deps{
		Strategies: strategies,
		RunLogs:    runLogs,
		Signals:    signals,
		Accounts:   accounts,
		Broker:     paperBroker,
		Cache:      marketCache,
		Bars:       bars,
		LLM:        advisoryClient,
		Evaluators: evaluators,
		Notify:     notifySink,
		Metrics:    metricsRegistry,
		Risk:       riskCfg,
		Log:        log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coordinator.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	var backupJob *backup.Job
	if cfg.BackupIntervalH > 0 && cfg.BackupS3Bucket != "" {
		s3Client, err := backup.NewS3Client(ctx, "", "auto", os.Getenv("BACKUP_S3_ACCESS_KEY"), os.Getenv("BACKUP_S3_SECRET_KEY"), cfg.BackupS3Bucket, cfg.BackupS3Prefix)
		if err != nil {
			log.Error().Err(err).Msg("failed to construct backup client, backups disabled")
		} else {
			backupService := backup.NewService(s3Client, db.Path(), "./data/backup-stage", log)
			backupJob = backup.NewJob(backupService, time.Duration(cfg.BackupIntervalH)*time.Hour, cfg.BackupRetainDays, log)
			go backupJob.Run(ctx)
		}
	}

	adminServer := server.New(server.Config{
		Port:        cfg.Port,
		Log:         log,
		DevMode:     cfg.DevMode,
		Strategies:  strategies,
		Positions:   positions,
		Trades:      trades,
		RunLogs:     runLogs,
		Signals:     signals,
		Accounts:    accounts,
		Broker:      paperBroker,
		Coordinator: coordinator,
	})

	go func() {
		if err := adminServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("admin server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("engine started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownGraceS)*time.Second)
	defer shutdownCancel()

	coordinator.Shutdown(shutdownCtx, time.Duration(cfg.ShutdownGraceS)*time.Second)

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin server forced to shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server forced to shutdown")
	}

	log.Info().Msg("shutdown complete")
}

// registerUpstreamSources binds every non-kline cache source to a JSON
// fetcher against its configured base URL. An empty base URL leaves the
// source unregistered — Get then always reports Absent for it, which
// every evaluator already treats as a zero-contribution input.
func registerUpstreamSources(c *cache.Cache, client *http.Client, cfg *config.Config) {
	register := func(name, baseURL string, ttl time.Duration, decode func([]byte) (any, error)) {
		if baseURL == "" {
			return
		}
		c.RegisterSource(name, ttl, httpfetchers.NewJSONFetcher(client, baseURL, "/{key}", decode))
	}

	register(cache.SourceTicker24h, cfg.ExchangeBaseURL, cache.DefaultTTLs[cache.SourceTicker24h], httpfetchers.DecodeJSON[cache.TickerSnapshot])
	register(cache.SourceMacroFred, cfg.MacroFREDBaseURL, cache.DefaultTTLs[cache.SourceMacroFred], httpfetchers.DecodeJSON[cache.MacroSnapshot])
	register(cache.SourceFearGreed, cfg.FearGreedBaseURL, cache.DefaultTTLs[cache.SourceFearGreed], httpfetchers.DecodeJSON[cache.FearGreedSnapshot])
	register(cache.SourceStablecoinSupply, cfg.StablecoinSupplyBaseURL, cache.DefaultTTLs[cache.SourceStablecoinSupply], httpfetchers.DecodeJSON[cache.StablecoinSnapshot])
	register(cache.SourceETFFlows, cfg.ETFFlowsBaseURL, cache.DefaultTTLs[cache.SourceETFFlows], httpfetchers.DecodeJSON[cache.ETFFlowSnapshot])
	register(cache.SourceOnchainBTC, cfg.OnchainBaseURL, cache.DefaultTTLs[cache.SourceOnchainBTC], httpfetchers.DecodeJSON[cache.OnchainSnapshot])
	register(cache.SourceMiners, cfg.MinersBaseURL, cache.DefaultTTLs[cache.SourceMiners], httpfetchers.DecodeJSON[cache.MinersSnapshot])
	register(cache.SourceMSTRMnav, cfg.MNAVBaseURL, cache.DefaultTTLs[cache.SourceMSTRMnav], httpfetchers.DecodeJSON[cache.MNAVSnapshot])
}
