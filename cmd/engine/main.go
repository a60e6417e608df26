package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"clob-market-engine/internal/api"
	"clob-market-engine/internal/config"
	"clob-market-engine/internal/engine"
	"clob-market-engine/internal/feed"
	"clob-market-engine/internal/history"
	"clob-market-engine/internal/indexer"
	"clob-market-engine/internal/ingest"
	"clob-market-engine/internal/observability"
	"clob-market-engine/internal/onchain"
	"clob-market-engine/internal/publish"
	"clob-market-engine/internal/refdata"
	"clob-market-engine/internal/storage"
	chstore "clob-market-engine/internal/storage/clickhouse"
	"clob-market-engine/internal/storage/memory"
	"clob-market-engine/internal/storage/migrations"
	pgstore "clob-market-engine/internal/storage/postgres"
)

func main() {
	// Flags override the environment for local runs
	listenAddr := flag.String("listen-addr", "", "HTTP listen address (overrides APP_LISTEN_ADDR)")
	pools := flag.String("pools", "", "Comma-separated pool IDs to track (overrides APP_POOLS)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	flag.Parse()

	logger := log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}
	if *listenAddr != "" {
		cfg.App.ListenAddr = *listenAddr
	}
	if *pools != "" {
		cfg.App.Pools = splitList(*pools)
	}
	if *useMemory {
		cfg.App.UseMemory = true
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger)

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	if cfg.Indexer.Endpoint == "" {
		return fmt.Errorf("INDEXER_ENDPOINT is required")
	}
	if !cfg.App.UseMemory && cfg.Postgres.DSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set APP_USE_MEMORY=true for in-memory storage)")
	}

	obs := observability.NewMetrics("")

	// Stores default to memory; Postgres and ClickHouse replace them
	// when configured.
	var poolStore storage.PoolStore = memory.NewPoolStore()
	var tradeArchive storage.TradeArchive = memory.NewTradeArchive()
	var orderLog storage.OrderLog = memory.NewOrderLog()
	var historyStore storage.SnapshotHistoryStore = memory.NewSnapshotHistoryStore()

	if !cfg.App.UseMemory {
		pgPool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pgPool.Close()

		if err := migrations.ApplyPostgres(ctx, pgPool.Pool); err != nil {
			return fmt.Errorf("apply postgres migrations: %w", err)
		}

		poolStore = pgstore.NewPoolStore(pgPool)
		tradeArchive = pgstore.NewTradeArchive(pgPool)
		orderLog = pgstore.NewOrderLog(pgPool)

		if cfg.Clickhouse.DSN != "" {
			chConn, err := chstore.NewConn(ctx, cfg.Clickhouse.DSN)
			if err != nil {
				return fmt.Errorf("connect to clickhouse: %w", err)
			}
			defer chConn.Close()

			if err := migrations.ApplyClickhouse(ctx, chConn.Conn); err != nil {
				return fmt.Errorf("apply clickhouse migrations: %w", err)
			}
			historyStore = chstore.NewSnapshotHistoryStore(chConn)
		}
	}

	// Pull transport
	client := indexer.NewClient(cfg.Indexer.Endpoint,
		indexer.WithTimeout(cfg.Indexer.PullTimeout),
		indexer.WithPageSize(cfg.Indexer.PageSize),
	)

	// Reference data and tracked pools
	ref := refdata.NewService(client, poolStore, logger)
	if _, err := ref.Discover(ctx, cfg.Chain.ID); err != nil {
		return fmt.Errorf("discover pools: %w", err)
	}

	trackedPools := cfg.App.Pools
	if len(trackedPools) == 0 {
		ids, err := ref.PoolIDs(ctx, cfg.Chain.ID)
		if err != nil {
			return fmt.Errorf("list pools: %w", err)
		}
		trackedPools = ids
	}
	if len(trackedPools) == 0 {
		return fmt.Errorf("no pools to track: none discovered and APP_POOLS is empty")
	}
	logger.Printf("Tracking %d pools on chain %d", len(trackedPools), cfg.Chain.ID)

	// Engine and publisher
	publisher := publish.NewPublisher()
	eng := engine.New(engine.Options{
		Window: ingest.Config{
			Horizon:    cfg.Window.Horizon,
			GapWait:    cfg.Window.GapWait,
			MaxPending: cfg.Window.MaxPending,
		},
		TapeWindow: cfg.Window.TapeWindow,
		Publisher:  publisher,
		Archive:    tradeArchive,
		OrderLog:   orderLog,
		Metrics:    obs,
		Logger:     logger,
	})

	for _, poolID := range trackedPools {
		if err := eng.WarmStart(ctx, poolID); err != nil {
			logger.Printf("Warm start %s: %v", poolID, err)
		}
	}

	// Push transport, optional
	var feedSource ingest.FeedSource
	if cfg.Feed.Endpoint != "" {
		feedClient, err := feed.NewClient(ctx, cfg.Feed.Endpoint, nil, logger)
		if err != nil {
			return fmt.Errorf("connect to feed: %w", err)
		}
		defer feedClient.Close()

		if err := feedClient.Subscribe(ctx, trackedPools...); err != nil {
			return fmt.Errorf("subscribe to feed: %w", err)
		}
		feedSource = feedClient
	} else {
		logger.Println("FEED_ENDPOINT not set, running pull-only")
	}

	// On-chain cross-check, optional
	var crossCheck ingest.CrossChecker
	if cfg.Chain.RPCEndpoint != "" {
		rpcClient, err := onchain.Dial(cfg.Chain.RPCEndpoint)
		if err != nil {
			return fmt.Errorf("connect to chain rpc: %w", err)
		}
		defer rpcClient.Close()

		checker, err := onchain.NewChecker(onchain.Options{
			Caller:    rpcClient,
			Pools:     poolStore,
			Snapshots: eng,
			Metrics:   obs,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("create cross-checker: %w", err)
		}
		crossCheck = checker
	}

	runner := ingest.NewRunner(ingest.RunnerOptions{
		Pull:         client,
		Feed:         feedSource,
		Sink:         eng,
		Pools:        trackedPools,
		PullInterval: cfg.Indexer.PullInterval,
		PullTimeout:  cfg.Indexer.PullTimeout,
		CrossCheck:   crossCheck,
		Metrics:      obs,
		Logger:       logger,
	})

	recorder := history.NewRecorder(history.Options{
		Publisher:     publisher,
		Store:         historyStore,
		FlushInterval: cfg.Clickhouse.FlushInterval,
		Metrics:       obs,
		Logger:        logger,
	})

	server := api.NewServer(api.Options{
		Engine:    eng,
		Publisher: publisher,
		RefData:   ref,
		ChainID:   cfg.Chain.ID,
		Logger:    logger,
	})

	go trackUptime(ctx, obs)

	errCh := make(chan error, 3)
	go func() { errCh <- runner.Run(ctx) }()
	go func() { errCh <- recorder.Run(ctx) }()
	go func() { errCh <- server.Run(ctx, cfg.App.ListenAddr) }()

	logger.Println("Market state engine started")
	return <-errCh
}

func trackUptime(ctx context.Context, obs *observability.Metrics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			obs.UptimeSeconds.Inc()
		}
	}
}
