package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-covid/config"
	"github.com/aluiziolira/go-scrape-covid/countrycode"
	"github.com/aluiziolira/go-scrape-covid/models"
	"github.com/aluiziolira/go-scrape-covid/pipeline"
	"github.com/aluiziolira/go-scrape-covid/report"
	"github.com/aluiziolira/go-scrape-covid/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if path := configPathFromArgs(os.Args[1:]); path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}
	if err := config.ApplyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	flag.String("config", "", "YAML config file")
	sourceURL := flag.String("source-url", cfg.SourceURL, "Page holding the country tables")
	todayTable := flag.String("today-table", cfg.TodayTableID, "Table id of today's snapshot")
	yesterdayTable := flag.String("yesterday-table", cfg.YesterdayTableID, "Table id of yesterday's snapshot")
	skipRows := flag.Int("skip-rows", cfg.SkipRows, "Leading summary rows to drop from each table")
	timeout := flag.Duration("timeout", cfg.Timeout, "HTTP request timeout")
	maxRetries := flag.Int("max-retries", cfg.MaxRetries, "Retry attempts for transient fetch failures")
	outputFile := flag.String("output", cfg.OutputFile, "Output file path")
	outputFormat := flag.String("format", cfg.OutputFormat, "Output format: csv, json, dual, or xlsx")
	codesFile := flag.String("country-codes", cfg.CountryCodesFile, "Semicolon-delimited country code table")
	topN := flag.Int("top", cfg.TopN, "Rows shown in ranked tables (0 = all)")
	country := flag.String("country", cfg.Country, "Print the detail card for one country")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", cfg.Verbose, "Enable verbose logging")

	flag.Parse()

	cfg.SourceURL = *sourceURL
	cfg.TodayTableID = *todayTable
	cfg.YesterdayTableID = *yesterdayTable
	cfg.SkipRows = *skipRows
	cfg.Timeout = *timeout
	cfg.MaxRetries = *maxRetries
	cfg.OutputFile = *outputFile
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.CountryCodesFile = *codesFile
	cfg.TopN = *topN
	cfg.Country = *country
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(cfg, os.Stdout); err != nil {
		slog.Error("report failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, out io.Writer) error {
	slog.Info("starting report",
		slog.String("source_url", cfg.SourceURL),
		slog.String("today_table", cfg.TodayTableID),
		slog.String("yesterday_table", cfg.YesterdayTableID),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}

	var opts []pipeline.Option
	if cfg.CountryCodesFile != "" {
		table, err := countrycode.Load(cfg.CountryCodesFile)
		if err != nil {
			return err
		}
		resolver, err := countrycode.NewResolver(table, cfg.MatchThreshold, cfg.CodeCacheSize)
		if err != nil {
			return err
		}
		slog.Info("country codes loaded", slog.Int("entries", table.Len()))
		opts = append(opts, pipeline.WithResolver(resolver))
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	p := pipeline.NewPipeline(s, writer, cfg, opts...)
	defer p.Close()

	result, err := p.Run(ctx)
	if err != nil {
		return err
	}

	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}

	if err := report.Render(out, result, cfg.TopN, cfg.Country); err != nil {
		return err
	}
	printSummary(out, result, cfg.OutputFile, p.GetMetrics())
	return nil
}

// configPathFromArgs finds -config ahead of flag parsing so the file can
// supply flag defaults.
func configPathFromArgs(args []string) string {
	for i, arg := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "xlsx":
		return pipeline.NewXLSXWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(w io.Writer, result *models.Report, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Report complete")

	fmt.Fprintf(w, "  Countries:     %d\n", len(result.Records))
	fmt.Fprintf(w, "  Rows:          today=%d yesterday=%d\n", result.TodayRows, result.YesterdayRows)
	fmt.Fprintf(w, "  Unmatched:     %d\n", len(result.Unmatched))
	fmt.Fprintf(w, "  Vanished:      %d\n", len(result.Vanished))
	fmt.Fprintf(w, "  Requests:      %d\n", result.Fetch.RequestCount)
	fmt.Fprintf(w, "  Retries:       %d\n", result.Fetch.RetryCount)
	if len(result.Fetch.ErrorsByType) > 0 {
		fmt.Fprintf(w, "  Error types:   %v\n", result.Fetch.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Fprintf(w, "  Validation:    %v\n", valErrors)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", result.EndTime.Sub(result.StartTime))
	fmt.Fprintf(w, "  Output file:   %s\n", outputFile)
	fmt.Fprintln(w, separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
