// Package runner drives crawl sessions, either in the foreground one site
// after another or in the background on a worker pool.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-storefronts/config"
	"github.com/aluiziolira/go-scrape-storefronts/dedup"
	"github.com/aluiziolira/go-scrape-storefronts/models"
	"github.com/aluiziolira/go-scrape-storefronts/pipeline"
	"github.com/aluiziolira/go-scrape-storefronts/profile"
	"github.com/aluiziolira/go-scrape-storefronts/scraper"
	"github.com/aluiziolira/go-scrape-storefronts/session"
	"github.com/aluiziolira/go-scrape-storefronts/store"
	"github.com/aluiziolira/go-scrape-storefronts/throttle"
)

// ErrAlreadyRunning is returned when a site already has a session in flight
// in this process.
var ErrAlreadyRunning = errors.New("site is already being scraped")

// Mode selects how Run executes sessions.
type Mode string

const (
	Foreground Mode = "foreground"
	Background Mode = "background"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Foreground, Background:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q: want foreground or background", s)
}

// Deps are the collaborators shared by every session of a Runner.
type Deps struct {
	Store      store.Store
	Classifier pipeline.Classifier
	Images     pipeline.ImageSink
	Claims     dedup.Claimer
	Metrics    *scraper.Metrics
	Logger     *slog.Logger

	// Transport overrides the HTTP transport of every session's fetcher.
	Transport http.RoundTripper
}

// Runner owns the process-wide state and starts per-site sessions.
type Runner struct {
	cfg        *config.Config
	deps       Deps
	registry   *profile.Registry
	categories *pipeline.CategoryCache
	logger     *slog.Logger

	mu      sync.Mutex
	running map[uint]struct{}
}

// New builds a Runner.
func New(cfg *config.Config, deps Deps) (*Runner, error) {
	if deps.Store == nil || deps.Classifier == nil {
		return nil, errors.New("runner requires a store and a classifier")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	categories, err := pipeline.NewCategoryCache(pipeline.DefaultCategoryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("category cache: %w", err)
	}
	return &Runner{
		cfg:        cfg,
		deps:       deps,
		registry:   profile.NewRegistry(cfg.Profiles...),
		categories: categories,
		logger:     deps.Logger,
		running:    make(map[uint]struct{}),
	}, nil
}

// Onboard resets stale sites and creates configured sites that are not yet
// stored. It returns every stored site in priority order.
func (r *Runner) Onboard(ctx context.Context) ([]*models.Site, error) {
	n, err := r.deps.Store.ResetStaleSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("reset stale sites: %w", err)
	}
	if n > 0 {
		r.logger.Warn("reset stale sites to pending", slog.Int("count", n))
	}

	configured := append([]config.SiteConfig(nil), r.cfg.Sites...)
	sort.SliceStable(configured, func(i, j int) bool { return configured[i].Priority < configured[j].Priority })

	for _, sc := range configured {
		_, err := r.deps.Store.FindSiteByURL(ctx, sc.URL)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("lookup site %s: %w", sc.URL, err)
		}
		site := &models.Site{
			URL:          sc.URL,
			Name:         sc.Name,
			Priority:     sc.Priority,
			RequestDelay: sc.RequestDelay,
			MaxProducts:  sc.MaxProducts,
			ProfileKey:   sc.Profile,
			Fingerprint:  models.Fingerprint(sc.URL),
			Status:       models.SitePending,
		}
		if err := r.deps.Store.SaveSite(ctx, site); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("create site %s: %w", sc.URL, err)
		}
		r.logger.Info("site onboarded", slog.String("site", site.Name), slog.String("url", site.URL))
	}

	return r.deps.Store.ListSites(ctx)
}

// Run executes a session for every site. A site failing never stops the
// others; only context cancellation ends Run early.
func (r *Runner) Run(ctx context.Context, mode Mode, sites []*models.Site) ([]*models.SessionReport, error) {
	if mode == Background {
		pool := NewPool(ctx, r, r.cfg.Workers)
		for _, site := range sites {
			if err := pool.Submit(site); err != nil {
				break
			}
		}
		return pool.Close(), ctx.Err()
	}

	var reports []*models.SessionReport
	for _, site := range sites {
		report, err := r.RunSite(ctx, site)
		if report != nil {
			reports = append(reports, report)
		}
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
		if err != nil {
			r.logger.Error("session aborted", slog.String("site", site.Name), slog.Any("error", err))
		}
	}
	return reports, nil
}

// RunSite runs one session against site. Harvest and item failures seal the
// session and are not returned; an error means the session could not start
// or the context was cancelled, leaving it orphaned.
func (r *Runner) RunSite(ctx context.Context, site *models.Site) (*models.SessionReport, error) {
	if !r.acquire(site.ID) {
		return nil, ErrAlreadyRunning
	}
	defer r.release(site.ID)

	logger := r.logger.With(slog.String("site", site.Name))
	gov := throttle.New(throttle.Options{
		Limit:        r.cfg.RequestsPerMinute,
		Adaptive:     r.cfg.Throttle.Adaptive,
		InitialDelay: r.cfg.Throttle.InitialDelay,
		MinDelay:     r.cfg.Throttle.MinDelay,
		MaxDelay:     r.cfg.Throttle.MaxDelay,
		OnWait:       r.deps.Metrics.ObserveThrottle,
		Logger:       logger,
	})
	fetcher, err := scraper.NewFetcher(scraper.FetcherOptions{
		UserAgents:       r.cfg.UserAgents,
		Timeout:          r.cfg.Timeout,
		MaxRetries:       r.cfg.MaxRetries,
		RetryBackoff:     r.cfg.RetryBackoff,
		RetryBackoffMax:  r.cfg.RetryBackoffMax,
		TransportBackoff: r.cfg.TransportBackoff,
		RespectRobotsTxt: r.cfg.RespectRobotsTxt,
		Transport:        r.deps.Transport,
		Logger:           logger,
	}, gov, r.deps.Metrics)
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}
	pl, err := pipeline.New(pipeline.Options{
		Store:        r.deps.Store,
		Fetcher:      fetcher,
		Classifier:   r.deps.Classifier,
		Images:       r.deps.Images,
		Claims:       r.deps.Claims,
		Categories:   r.categories,
		BaseCurrency: r.cfg.BaseCurrency,
		ItemJitter:   r.cfg.ItemJitter,
		Metrics:      r.deps.Metrics,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	tracker, err := session.Start(ctx, r.deps.Store, site, session.Options{
		Metrics: r.deps.Metrics,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	prof := r.registry.ForSite(site.ProfileKey, site.URL)
	logger.Info("harvesting links", slog.String("seed", site.URL), slog.String("profile", prof.Key))

	recordRequests := func() {
		stats := fetcher.Stats()
		if err := tracker.RecordPage(ctx, stats.Requests, stats.MeanLatency()); err != nil {
			logger.Warn("record request stats", slog.Any("error", err))
		}
	}

	harvester := scraper.NewHarvester(fetcher, r.cfg.MaxPages, logger)
	result, err := harvester.Harvest(ctx, site.URL, prof, func(ps scraper.PageStats) {
		recordRequests()
		if err := tracker.RecordFound(ctx, ps.Found); err != nil {
			logger.Warn("record found", slog.Any("error", err))
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return tracker.Report(), ctx.Err()
		}
		if ferr := tracker.Fail(ctx, err.Error()); ferr != nil {
			logger.Error("seal failed session", slog.Any("error", ferr))
		}
		return tracker.Report(), nil
	}

	if err := tracker.RecordFound(ctx, len(result.URLs)); err != nil {
		logger.Warn("record found", slog.Any("error", err))
	}
	if len(result.URLs) == 0 {
		if err := tracker.Fail(ctx, session.DiagNoLinks); err != nil {
			logger.Error("seal failed session", slog.Any("error", err))
		}
		return tracker.Report(), nil
	}

	candidates := result.URLs
	if site.MaxProducts > 0 && len(candidates) > site.MaxProducts {
		candidates = candidates[:site.MaxProducts]
	}
	logger.Info("processing candidates",
		slog.Int("found", len(result.URLs)),
		slog.Int("candidates", len(candidates)),
		slog.Int("pages", result.PagesCrawled),
	)

	attempted := 0
	for _, url := range candidates {
		if ctx.Err() != nil {
			return tracker.Report(), ctx.Err()
		}
		item := pl.Process(ctx, site, prof, url)
		attempted++
		if err := tracker.RecordItem(ctx, item); err != nil {
			logger.Warn("record item", slog.String("url", url), slog.Any("error", err))
		}
	}
	recordRequests()

	if err := tracker.Finish(ctx, attempted); err != nil {
		logger.Error("seal session", slog.Any("error", err))
	}
	return tracker.Report(), nil
}

func (r *Runner) acquire(id uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[id]; ok {
		return false
	}
	r.running[id] = struct{}{}
	return true
}

func (r *Runner) release(id uint) {
	r.mu.Lock()
	delete(r.running, id)
	r.mu.Unlock()
}
