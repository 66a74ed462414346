package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-retail-prices/config"
	"github.com/aluiziolira/go-retail-prices/models"
	"github.com/aluiziolira/go-retail-prices/pipeline"
	"github.com/aluiziolira/go-retail-prices/scraper"
	"github.com/aluiziolira/go-retail-prices/spiders"
	"github.com/aluiziolira/go-retail-prices/stats"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// jobRunner is what one crawl job looks like from the outside: it runs to
// completion, emits idle events, and can be aborted. Both the colly engine
// and the Algolia API runner satisfy it.
type jobRunner interface {
	Run(ctx context.Context) *models.JobSummary
	OnIdle(fn func())
	Abort(reason string)
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
		os.Exit(1)
	}

	spiderName := flag.String("spider", "", "Spider to run: ple, umart, sca, bunnings, or officeworks")
	parallelism := flag.Int("parallel", 0, "Override concurrent request limit")
	delayMs := flag.Int("delay", -1, "Override delay between requests (milliseconds)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *parallelism > 0 {
		cfg.Parallelism = *parallelism
	}
	if *delayMs >= 0 {
		cfg.Delay = time.Duration(*delayMs) * time.Millisecond
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *verbose {
		cfg.Verbose = true
	}

	slog.SetDefault(newLogger(cfg.Verbose))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if *spiderName == "" {
		slog.Error("no spider selected, pass -spider")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	store, err := pipeline.NewPostgresHistoryStore(cfg.DatabaseURL)
	if err != nil {
		slog.Error("connecting to history storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("close history storage", slog.Any("error", err))
		}
	}()

	feed, err := pipeline.NewFeedWriter(cfg.FeedDir, *spiderName)
	if err != nil {
		slog.Error("creating feed writer", slog.Any("error", err))
		os.Exit(1)
	}

	st := stats.NewJobStats()
	m := scraper.NewMetrics()
	pm := pipeline.NewMetrics(m.Registry)

	sink := pipeline.New(*spiderName, store, feed, st, pm, cfg)
	if err := sink.Open(ctx); err != nil {
		slog.Error("preparing history collection", slog.Any("error", err))
		os.Exit(1)
	}
	sink.Start(cfg.PipelineWorkers)

	runner, err := buildRunner(*spiderName, cfg, sink, st, m)
	if err != nil {
		slog.Error("initialising spider", slog.Any("error", err))
		os.Exit(1)
	}

	breaker := scraper.NewFailureRateMonitor(cfg, st, runner, m)
	runner.OnIdle(breaker.OnIdle)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	summary := runner.Run(ctx)

	if err := sink.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(summary)
	if summary.Reason == scraper.AbortReasonHighFailureRate {
		os.Exit(1)
	}
}

func buildRunner(name string, cfg *config.Config, sink *pipeline.Pipeline, st *stats.JobStats, m *scraper.Metrics) (jobRunner, error) {
	if name == "officeworks" {
		return spiders.NewOfficeworksRunner(cfg, sink, st, m), nil
	}

	var spider scraper.Spider
	switch name {
	case "ple":
		spider = spiders.PLE{}
	case "umart":
		spider = spiders.Umart{}
	case "sca":
		spider = spiders.SCA{}
	case "bunnings":
		spider = spiders.Bunnings{}
	default:
		return nil, fmt.Errorf("unknown spider %q", name)
	}
	return scraper.NewEngine(cfg, spider, sink, st, m)
}

func printSummary(summary *models.JobSummary) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Printf("Job %s (%s)\n", summary.Reason, summary.Spider)

	errorCount := summary.StatusCounts[403] + summary.StatusCounts[429] + summary.StatusCounts[500]
	successRate := 0.0
	if summary.RequestCount > 0 {
		successRate = float64(summary.RequestCount-errorCount) / float64(summary.RequestCount) * 100
	}
	itemsPerSec := 0.0
	if summary.Duration().Seconds() > 0 {
		itemsPerSec = float64(summary.ItemCount) / summary.Duration().Seconds()
	}

	fmt.Printf("  Total items:   %d\n", summary.ItemCount)
	fmt.Printf("  Requests:      %d\n", summary.RequestCount)
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	fmt.Printf("  Retries:       %d\n", summary.RetryCount)
	if len(summary.DataQuality) > 0 {
		fmt.Printf("  Data quality:  %v\n", summary.DataQuality)
	}
	fmt.Printf("  Duration:      %v\n", summary.Duration())
	fmt.Printf("  Items/sec:     %.2f\n", itemsPerSec)
	fmt.Println(separator)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
