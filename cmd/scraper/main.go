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
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-storefronts/classify"
	"github.com/aluiziolira/go-scrape-storefronts/config"
	"github.com/aluiziolira/go-scrape-storefronts/dedup"
	"github.com/aluiziolira/go-scrape-storefronts/media"
	"github.com/aluiziolira/go-scrape-storefronts/models"
	"github.com/aluiziolira/go-scrape-storefronts/pipeline"
	"github.com/aluiziolira/go-scrape-storefronts/runner"
	"github.com/aluiziolira/go-scrape-storefronts/scraper"
	"github.com/aluiziolira/go-scrape-storefronts/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	siteFilter := flag.String("site", "", "Only scrape sites whose name or URL contains this text")
	modeName := flag.String("mode", string(runner.Foreground), "Execution mode: foreground or background")
	workers := flag.Int("workers", 0, "Concurrent site sessions in background mode (0 keeps the configured value)")
	maxPages := flag.Int("pages", 0, "Maximum listing pages per site (0 keeps the configured value)")
	respectRobots := flag.Bool("respect-robots", false, "Respect robots.txt directives")
	reportFile := flag.String("report", "", "Write per-item results to this file (.csv or .jsonl)")
	noImages := flag.Bool("no-images", false, "Skip image downloads")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *workers, *maxPages, *respectRobots, *verbose, *metricsAddr)

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	mode, err := runner.ParseMode(*modeName)
	if err != nil {
		slog.Error("invalid mode", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, abandoning in-flight sessions")
	}()

	st, err := openStore(cfg.Store)
	if err != nil {
		slog.Error("opening store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("close store", slog.Any("error", err))
		}
	}()

	claims, closeClaims := openClaims(cfg.Redis)
	defer closeClaims()

	metrics := scraper.NewMetrics()
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	var remote classify.Collaborator
	if cfg.Classifier.APIKey != "" {
		remote = classify.NewOpenAI(cfg.Classifier.APIKey, cfg.Classifier.Endpoint, cfg.Classifier.Model, cfg.Classifier.Timeout, nil)
	} else {
		slog.Info("no classifier API key configured, using keyword categorisation")
	}
	classifier := classify.New(classify.Options{
		AllowKeywords: cfg.Classifier.AllowKeywords,
		DenyKeywords:  cfg.Classifier.DenyKeywords,
		Vocabulary:    cfg.Classifier.Categories,
		Timeout:       cfg.Classifier.Timeout,
		Logger:        logger,
	}, remote)

	deps := runner.Deps{
		Store:      st,
		Classifier: classifier,
		Claims:     claims,
		Metrics:    metrics,
		Logger:     logger,
	}
	if !*noImages {
		deps.Images = media.NewFileSink(cfg.ImageDir, cfg.UserAgents[0], cfg.Timeout, nil)
	}

	r, err := runner.New(cfg, deps)
	if err != nil {
		slog.Error("initialising runner", slog.Any("error", err))
		os.Exit(1)
	}

	sites, err := r.Onboard(ctx)
	if err != nil {
		slog.Error("onboarding sites", slog.Any("error", err))
		os.Exit(1)
	}
	sites = filterSites(sites, *siteFilter)
	if len(sites) == 0 {
		slog.Error("no sites to scrape", slog.String("filter", *siteFilter))
		os.Exit(1)
	}

	slog.Info("starting harvest",
		slog.Int("sites", len(sites)),
		slog.String("mode", string(mode)),
		slog.Int("workers", cfg.Workers),
		slog.Int("requests_per_minute", cfg.RequestsPerMinute),
	)

	startTime := time.Now()
	reports, runErr := r.Run(ctx, mode, sites)
	if runErr != nil {
		slog.Warn("harvest interrupted", slog.Any("error", runErr))
	}

	if *reportFile != "" {
		if err := writeReports(*reportFile, reports); err != nil {
			slog.Error("writing report", slog.Any("error", err))
		}
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(reports, time.Since(startTime), *reportFile)
	if runErr != nil {
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config, workers, maxPages int, respectRobots, verbose bool, metricsAddr string) {
	if workers > 0 {
		cfg.Workers = workers
	}
	if maxPages > 0 {
		cfg.MaxPages = maxPages
	}
	if respectRobots {
		cfg.RespectRobotsTxt = true
	}
	if verbose {
		cfg.Verbose = true
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
}

func openStore(sc config.StoreConfig) (store.Store, error) {
	if sc.Driver == "mysql" {
		gs, err := store.OpenMySQL(sc.DSN)
		if err != nil {
			return nil, err
		}
		return gs, nil
	}
	return store.NewMemoryStore(), nil
}

func openClaims(rc config.RedisConfig) (dedup.Claimer, func()) {
	if rc.Addr == "" {
		return dedup.NewLocalClaims(rc.ClaimTTL), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
	})
	slog.Info("cross-session url claims enabled", slog.String("redis", rc.Addr))
	return dedup.NewRedisClaims(rdb, rc.ClaimTTL), func() {
		if err := rdb.Close(); err != nil {
			slog.Error("close redis", slog.Any("error", err))
		}
	}
}

func filterSites(sites []*models.Site, filter string) []*models.Site {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		return sites
	}
	var out []*models.Site
	for _, site := range sites {
		if strings.Contains(strings.ToLower(site.Name), filter) || strings.Contains(strings.ToLower(site.URL), filter) {
			out = append(out, site)
		}
	}
	return out
}

func writeReports(filename string, reports []*models.SessionReport) error {
	writer, err := pipeline.NewReportWriter(filename)
	if err != nil {
		return err
	}
	for _, report := range reports {
		if err := writer.Write(report); err != nil {
			writer.Close()
			return err
		}
	}
	return writer.Close()
}

func printSummary(reports []*models.SessionReport, duration time.Duration, reportFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Harvest complete")

	for _, report := range reports {
		sess := report.Session
		fmt.Printf("\n  %s (%s)\n", report.Site.Name, report.Site.URL)
		fmt.Printf("    Status:        %s\n", sess.Status)
		if sess.ErrorMessage != "" {
			fmt.Printf("    Reason:        %s\n", sess.ErrorMessage)
		}
		fmt.Printf("    Found:         %d\n", sess.Found)
		fmt.Printf("    Scraped:       %d\n", sess.Scraped)
		fmt.Printf("    Failed:        %d\n", sess.Failed)
		fmt.Printf("    Requests:      %d (avg %v)\n", sess.RequestCount, sess.AvgRequestTime.Round(time.Millisecond))
		if sess.Status == models.SessionCompleted {
			fmt.Printf("    Success rate:  %.2f%%\n", report.Site.SuccessRate*100)
		}
		for _, item := range report.Items {
			line := fmt.Sprintf("      [%s] %s", item.Status, item.URL)
			if item.Category != "" {
				line += fmt.Sprintf(" -> %s (%.2f)", item.Category, item.Confidence)
			}
			if item.Error != "" {
				line += ": " + item.Error
			}
			fmt.Println(line)
		}
	}

	fmt.Printf("\n  Duration:      %v\n", duration.Round(time.Millisecond))
	if reportFile != "" {
		fmt.Printf("  Report file:   %s\n", reportFile)
	}
	fmt.Println(separator)
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
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
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
