package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/report-sentinel/internal/cache"
	"github.com/raaihank/report-sentinel/internal/config"
	"github.com/raaihank/report-sentinel/internal/etl"
	"github.com/raaihank/report-sentinel/internal/feedback"
	"github.com/raaihank/report-sentinel/internal/logger"
	"github.com/raaihank/report-sentinel/internal/privacy"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Labelled corpus file (CSV, Parquet, or JSON lines)")
		batchSize  = flag.Int("batch-size", 500, "Batch size for processing")
		workers    = flag.Int("workers", 4, "Number of worker goroutines")
		dryRun     = flag.Bool("dry-run", false, "Evaluate only, don't record misses as feedback")
		jsonOut    = flag.Bool("json", false, "Print the evaluation report as JSON")
		showStats  = flag.Bool("stats", false, "Show feedback statistics and exit")
		clearCache = flag.Bool("clear-cache", false, "Clear the remote response cache and exit")
	)
	flag.Parse()

	if *inputFile == "" && !*showStats && !*clearCache {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input corpus.csv --batch-size 200\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input corpus.parquet --workers 8 --dry-run\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	switch {
	case *clearCache:
		err = clearResponseCache(ctx, cfg, log)
	case *showStats:
		err = showFeedbackStats(ctx, cfg, log)
	default:
		err = evaluate(ctx, cfg, log, &etl.Config{
			BatchSize:      *batchSize,
			WorkerCount:    *workers,
			ValidateData:   true,
			DryRun:         *dryRun,
			ProgressReport: 1000,
		}, *inputFile, *jsonOut)
	}
	if err != nil {
		log.Fatal("Evaluation tool failed", zap.Error(err))
	}
}

func openStore(cfg *config.Config, log *logger.Logger) (feedback.Store, error) {
	if cfg.Feedback.DatabaseURL == "" {
		return feedback.NewMemoryStore(), nil
	}
	return feedback.NewPostgresStore(feedback.Config{
		DatabaseURL:     cfg.Feedback.DatabaseURL,
		MaxOpenConns:    cfg.Feedback.MaxOpenConns,
		MaxIdleConns:    cfg.Feedback.MaxIdleConns,
		ConnMaxLifetime: cfg.Feedback.ConnMaxLifetime,
	}, log.Logger)
}

// evaluate runs the local engine over a labelled corpus
func evaluate(ctx context.Context, cfg *config.Config, log *logger.Logger, etlConfig *etl.Config, inputFile string, jsonOut bool) error {
	if _, err := os.Stat(inputFile); err != nil {
		return fmt.Errorf("input file: %w", err)
	}

	detectors := cfg.Privacy.Detectors
	if len(detectors) == 0 {
		detectors = []string{"all"}
	}
	registry, err := privacy.DefaultRegistry().Select(detectors)
	if err != nil {
		return err
	}

	var sink etl.FeedbackSink
	if !etlConfig.DryRun {
		if cfg.Feedback.DatabaseURL == "" {
			log.Warn("No feedback database configured; misses will be counted but not persisted")
		}
		store, err := openStore(cfg, log)
		if err != nil {
			return err
		}
		recorder := feedback.NewRecorder(store, feedback.RecorderConfig{
			BufferSize:    cfg.Feedback.BufferSize,
			BatchSize:     cfg.Feedback.BatchSize,
			FlushInterval: cfg.Feedback.FlushInterval,
		}, log.Logger)
		defer func() {
			if err := recorder.Close(); err != nil {
				log.Error("Failed to close feedback recorder", zap.Error(err))
			}
			stats := recorder.Stats()
			log.Info("Feedback recorded",
				zap.Int64("recorded", stats.Recorded),
				zap.Int64("dropped", stats.Dropped),
				zap.Int64("failed", stats.Failed))
		}()
		sink = recorder
	}

	pipeline := etl.NewPipeline(privacy.NewLocalEngine(registry), sink, etlConfig, log.Logger)
	result, err := pipeline.ProcessFile(ctx, inputFile)
	if err != nil {
		return fmt.Errorf("pipeline processing failed: %w", err)
	}
	if result.Evaluated == 0 {
		return etl.ErrNoRecords
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printReport(result)
	return nil
}

func printReport(result *etl.EvaluationResult) {
	fmt.Printf("\n=== Detection Evaluation ===\n")
	fmt.Printf("Records:     %d (%d evaluated, %d invalid)\n", result.TotalRecords, result.Evaluated, result.Invalid)
	fmt.Printf("Precision:   %.3f\n", result.Overall.Precision())
	fmt.Printf("Recall:      %.3f\n", result.Overall.Recall())
	fmt.Printf("TP/FP/FN:    %d/%d/%d\n", result.Overall.TruePositives, result.Overall.FalsePositives, result.Overall.FalseNegatives)
	fmt.Printf("Feedback:    %d entries\n", result.FeedbackRecorded)
	fmt.Printf("Duration:    %v\n", result.Duration)

	types := make([]string, 0, len(result.ByType))
	for t := range result.ByType {
		types = append(types, t)
	}
	sort.Strings(types)

	fmt.Printf("\n%-22s %6s %6s %6s %9s %7s\n", "TYPE", "TP", "FP", "FN", "PRECISION", "RECALL")
	for _, t := range types {
		s := result.ByType[t]
		fmt.Printf("%-22s %6d %6d %6d %9.3f %7.3f\n", t, s.TruePositives, s.FalsePositives, s.FalseNegatives, s.Precision(), s.Recall())
	}
}

// showFeedbackStats displays recorded feedback counts
func showFeedbackStats(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if cfg.Feedback.DatabaseURL == "" {
		return fmt.Errorf("no feedback database configured")
	}
	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.GetStats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Detection Feedback ===\n")
	fmt.Printf("Total:            %d\n", stats.Total)
	fmt.Printf("False positives:  %d\n", stats.FalsePositives)
	fmt.Printf("False negatives:  %d\n", stats.FalseNegatives)

	types := make([]string, 0, len(stats.ByType))
	for t := range stats.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %-22s %d\n", t, stats.ByType[t])
	}
	return nil
}

// clearResponseCache drops every cached remote detection response
func clearResponseCache(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	c, err := cache.NewDetectionCache(cache.Config{
		RedisURL:       cfg.Cache.RedisURL,
		MaxConnections: cfg.Cache.MaxConnections,
		MinIdleConns:   cfg.Cache.MinIdleConns,
		DefaultTTL:     cfg.Cache.DefaultTTL,
		KeyPrefix:      cfg.Cache.KeyPrefix,
	}, log.Logger)
	if err != nil {
		return err
	}
	defer c.Close()

	before, err := c.GetStats(ctx)
	if err != nil {
		return err
	}
	if err := c.Clear(ctx); err != nil {
		return err
	}

	fmt.Printf("Cleared remote response cache (%d keys in database, %.2f MB used before clear)\n",
		before.TotalKeys, float64(before.MemoryUsage)/1024/1024)
	return nil
}
