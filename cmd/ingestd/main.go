package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"barsync/internal/config"
	"barsync/internal/domain"
	"barsync/internal/flatfile"
	"barsync/internal/httpapi"
	"barsync/internal/ingest"
	"barsync/internal/schedule"
	"barsync/internal/store"
	"barsync/internal/util"
)

// defaultDailyCron fires at 02:30 server time, well after the previous
// session's flat files land in object storage.
const defaultDailyCron = "0 30 2 * * *"

func main() {
	// Load config.
	cfgPath := "config/barsync.yaml"
	if p := os.Getenv("BARSYNC_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Setup logging. The daemon appends so restarts within a day keep one file.
	logFileName := fmt.Sprintf("/tmp/ingestd-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("opening log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := util.NewLogger(w, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	concurrency := cfg.Ingest.Concurrency
	if concurrency <= 0 {
		concurrency = ingest.DefaultConcurrency
	}
	dataType := domain.DataType(cfg.Ingest.DataType)
	if dataType == "" {
		dataType = domain.DataTypeDayAggs
	}

	st, err := openStore(ctx, cfg, concurrency)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	dl, err := flatfile.New(flatfile.Options{
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey,
		Bucket:    cfg.ObjectStore.Bucket,
		UseSSL:    cfg.ObjectStore.UseSSL,
		Attempts:  cfg.Ingest.RetryAttempts,
		BaseDelay: time.Duration(cfg.Ingest.RetryBaseMS) * time.Millisecond,
	})
	if err != nil {
		log.Fatalf("creating flat-file client: %v", err)
	}

	var archive *store.Archive
	if cfg.Ingest.ArchiveDir != "" {
		archive = store.NewArchive(cfg.Ingest.ArchiveDir)
	}

	// Nightly catch-up: ingest the previous trading day. Re-running a date
	// is idempotent, so a Sunday firing just re-ingests Friday.
	sched := schedule.New(ctx)
	cronExpr := cfg.Schedule.DailyCron
	if cronExpr == "" {
		cronExpr = defaultDailyCron
	}
	err = sched.RegisterDaily(cronExpr, func(taskCtx context.Context) error {
		target := util.PreviousTradingDay(time.Now())
		orch := ingest.NewOrchestrator(st, dl, archive, ingest.Options{
			DataType:    dataType,
			Start:       target,
			End:         target,
			Market:      cfg.Ingest.Market,
			Concurrency: concurrency,
		})
		summary, err := orch.Run(taskCtx)
		if summary != nil {
			logger.Info("nightly ingestion summary",
				"jobID", summary.JobID,
				"status", summary.Status,
				"date", target.Format("2006-01-02"),
				"records", summary.TotalRecords)
		}
		return err
	})
	if err != nil {
		log.Fatalf("registering daily ingestion: %v", err)
	}
	sched.Start()

	// Start HTTP server.
	api := httpapi.NewStatusServer(st)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Handler(),
	}

	go func() {
		logger.Info("status API listening", "addr", httpServer.Addr, "dailyCron", cronExpr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down ingestd")

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// openStore builds the relational store named by the config. The postgres
// pool is widened to the ingest concurrency so parallel dates never queue
// on connections.
func openStore(ctx context.Context, cfg *config.Config, concurrency int) (store.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Database.SQLitePath)
	case "", "postgres":
		maxConns := cfg.Database.MaxConns
		if maxConns < concurrency {
			maxConns = concurrency
		}
		return store.NewPostgresStore(ctx, cfg.Database.URL, maxConns)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
