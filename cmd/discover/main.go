package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"barsync/internal/config"
	"barsync/internal/ingest"
	"barsync/internal/refdata"
	"barsync/internal/store"
	"barsync/internal/util"
)

func main() {
	market := flag.String("market", "stocks", "reference API market filter")
	topFunds := flag.Int("top-funds", ingest.DefaultTopFunds, "how many ETFs to pull by descending market cap")
	flag.Parse()

	cfgPath := "config/barsync.yaml"
	if p := os.Getenv("BARSYNC_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/discover-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := util.NewLogger(w, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	client := refdata.New(cfg.Reference.BaseURL, cfg.Reference.APIKey, cfg.Reference.RateLimitPerMin)
	disc := ingest.NewDiscovery(client, st, *market, *topFunds)

	slog.Info("starting instrument discovery", "logFile", logFileName, "market", *market, "topFunds", *topFunds)
	inserted, err := disc.Run(ctx)
	if err != nil {
		log.Fatalf("discovery error: %v", err)
	}
	slog.Info("discovery complete", "newInstruments", inserted)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Database.SQLitePath)
	case "", "postgres":
		return store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
