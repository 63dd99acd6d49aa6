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
	"barsync/internal/domain"
	"barsync/internal/flatfile"
	"barsync/internal/ingest"
	"barsync/internal/store"
	"barsync/internal/util"
)

func main() {
	dataType := flag.String("data-type", "", "data set to ingest: day_aggs_v1 or minute_aggs_v1 (default from config)")
	startFlag := flag.String("start", "", "first date of the range, YYYY-MM-DD")
	endFlag := flag.String("end", "", "last date of the range, YYYY-MM-DD")
	concurrency := flag.Int("concurrency", 0, "dates processed in parallel per batch (default from config)")
	dryRun := flag.Bool("dry-run", false, "download and parse without writing jobs or price bars")
	resume := flag.Int64("resume", 0, "job id to resume; completed dates of that job are skipped")
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
	logFileName := fmt.Sprintf("/tmp/ingest-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := util.NewLogger(w, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	opts := ingest.Options{
		DataType:    domain.DataType(*dataType),
		Market:      cfg.Ingest.Market,
		Concurrency: cfg.Ingest.Concurrency,
		DryRun:      *dryRun,
	}
	if opts.DataType == "" {
		opts.DataType = domain.DataType(cfg.Ingest.DataType)
	}
	if opts.DataType == "" {
		opts.DataType = domain.DataTypeDayAggs
	}
	if *concurrency > 0 {
		opts.Concurrency = *concurrency
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = ingest.DefaultConcurrency
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg, opts.Concurrency)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	// With -resume the prior job supplies the range and data type unless
	// overridden on the command line.
	if *resume > 0 {
		prev, err := st.GetJob(ctx, *resume)
		if err != nil {
			log.Fatalf("failed to look up job %d: %v", *resume, err)
		}
		if prev == nil {
			log.Fatalf("no job with id %d", *resume)
		}
		if *startFlag == "" {
			opts.Start = prev.StartDate
		}
		if *endFlag == "" {
			opts.End = prev.EndDate
		}
		if *dataType == "" {
			opts.DataType = prev.DataType
		}
		done, err := st.CompletedDates(ctx, *resume)
		if err != nil {
			log.Fatalf("failed to read completed dates of job %d: %v", *resume, err)
		}
		opts.Exclude = done
		slog.Info("resuming job", "jobID", *resume, "completedDates", len(done))
	}

	if *startFlag != "" {
		opts.Start, err = time.Parse("2006-01-02", *startFlag)
		if err != nil {
			log.Fatalf("invalid -start date %q: %v", *startFlag, err)
		}
	}
	if *endFlag != "" {
		opts.End, err = time.Parse("2006-01-02", *endFlag)
		if err != nil {
			log.Fatalf("invalid -end date %q: %v", *endFlag, err)
		}
	}
	if opts.Start.IsZero() || opts.End.IsZero() {
		log.Fatalf("both -start and -end are required (YYYY-MM-DD)")
	}

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
		log.Fatalf("failed to create flat-file client: %v", err)
	}

	var archive *store.Archive
	if cfg.Ingest.ArchiveDir != "" {
		archive = store.NewArchive(cfg.Ingest.ArchiveDir)
	}

	orch := ingest.NewOrchestrator(st, dl, archive, opts)

	slog.Info("starting ingest run",
		"logFile", logFileName,
		"dataType", opts.DataType,
		"start", opts.Start.Format("2006-01-02"),
		"end", opts.End.Format("2006-01-02"),
		"concurrency", opts.Concurrency,
		"dryRun", opts.DryRun)

	summary, err := orch.Run(ctx)
	if summary != nil {
		slog.Info("run summary",
			"jobID", summary.JobID,
			"status", summary.Status,
			"totalDates", summary.TotalDates,
			"completed", summary.CompletedDates,
			"failed", summary.FailedDates,
			"records", summary.TotalRecords,
			"elapsed", summary.Elapsed.Round(time.Second))
	}
	if err != nil {
		log.Fatalf("ingestion error: %v", err)
	}
}

// openStore builds the relational store named by the config. The postgres
// pool is widened to the run concurrency so parallel dates never queue on
// connections.
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
