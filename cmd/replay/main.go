package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"clob-market-engine/internal/replay"
	"clob-market-engine/internal/storage"
	"clob-market-engine/internal/storage/memory"
	pgstore "clob-market-engine/internal/storage/postgres"
)

func main() {
	poolID := flag.String("pool", "", "Pool ID to replay")
	fromTime := flag.String("from-time", "", "Start time (RFC3339), default 24h ago")
	toTime := flag.String("to-time", "", "End time (RFC3339), default now")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage (empty archives, for smoke testing)")
	flag.Parse()

	logger := log.New(os.Stdout, "[replay] ", log.LstdFlags)

	if *poolID == "" {
		logger.Fatal("--pool is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	from, to, err := resolveRange(*fromTime, *toTime)
	if err != nil {
		logger.Fatalf("Parse time range: %v", err)
	}

	ctx := context.Background()

	var archive storage.TradeArchive = memory.NewTradeArchive()
	var orderLog storage.OrderLog = memory.NewOrderLog()

	if !*useMemory {
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("Connect to postgres: %v", err)
		}
		defer pool.Close()

		archive = pgstore.NewTradeArchive(pool)
		orderLog = pgstore.NewOrderLog(pool)
	}

	replayer := replay.NewReplayer(replay.Options{
		Archive:  archive,
		OrderLog: orderLog,
		Logger:   logger,
	})

	result, err := replayer.ReplayPool(ctx, *poolID, from, to)
	if err != nil {
		logger.Fatalf("Replay: %v", err)
	}

	logger.Printf("Replayed %d trades and %d orders in %v",
		result.TradesReplayed, result.OrdersReplayed, result.Duration)

	if result.Snapshot == nil {
		logger.Println("No events in range, no snapshot produced")
		return
	}

	price := "none"
	if result.Snapshot.LatestPrice != nil {
		price = result.Snapshot.LatestPrice.String()
	}
	logger.Printf("Pool %s as of %s: latest price %s, volume %s",
		result.PoolID, result.Snapshot.AsOfSeq, price, result.Snapshot.Volume24h)
}

func resolveRange(fromStr, toStr string) (int64, int64, error) {
	from := time.Now().Add(-24 * time.Hour)
	to := time.Now()

	if fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return 0, 0, fmt.Errorf("parse from-time: %w", err)
		}
		from = t
	}
	if toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return 0, 0, fmt.Errorf("parse to-time: %w", err)
		}
		to = t
	}
	return from.UnixMilli(), to.UnixMilli(), nil
}
