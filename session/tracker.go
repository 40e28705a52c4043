// Package session tracks one crawl run of a site from start to its sealed
// terminal state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-storefronts/models"
	"github.com/aluiziolira/go-scrape-storefronts/scraper"
	"github.com/aluiziolira/go-scrape-storefronts/store"
	"github.com/google/uuid"
)

// Diagnostics attached to failed sessions.
const (
	DiagNoLinks    = "no product links found"
	DiagNoProducts = "no products were successfully scraped"
)

// ErrSealed is returned when a finished session is updated.
var ErrSealed = errors.New("session is sealed")

// Tracker owns the counters of one running session and mirrors its
// transitions onto the site.
type Tracker struct {
	store   store.Store
	metrics *scraper.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	site    *models.Site
	session *models.Session
	items   []models.ItemResult
}

// Options configures Start.
type Options struct {
	Metrics *scraper.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Start marks the site scraping and opens a running session for it.
func Start(ctx context.Context, st store.Store, site *models.Site, opts Options) (*Tracker, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	site.Status = models.SiteScraping
	if err := st.SaveSite(ctx, site); err != nil {
		return nil, fmt.Errorf("mark site scraping: %w", err)
	}

	sess := &models.Session{
		RunID:     uuid.NewString(),
		SiteID:    site.ID,
		StartedAt: opts.Now(),
		Status:    models.SessionRunning,
	}
	if err := st.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	opts.Logger.Info("session started",
		slog.String("site", site.Name),
		slog.String("run_id", sess.RunID),
	)
	return &Tracker{
		store:   st,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
		site:    site,
		session: sess,
	}, nil
}

// RecordPage stores the request totals after a harvested page.
func (t *Tracker) RecordPage(ctx context.Context, requests int, meanLatency time.Duration) error {
	return t.update(ctx, func(s *models.Session) {
		s.RequestCount = requests
		s.AvgRequestTime = meanLatency
	})
}

// RecordFound sets the number of candidate URLs the harvest produced.
func (t *Tracker) RecordFound(ctx context.Context, found int) error {
	return t.update(ctx, func(s *models.Session) {
		s.Found = found
	})
}

// RecordItem applies one processed candidate. Only scraped and failed
// outcomes move a counter.
func (t *Tracker) RecordItem(ctx context.Context, item models.ItemResult) error {
	return t.update(ctx, func(s *models.Session) {
		t.items = append(t.items, item)
		switch item.Status {
		case models.ItemScraped:
			s.Scraped++
		case models.ItemFailed:
			s.Failed++
		}
	})
}

func (t *Tracker) update(ctx context.Context, fn func(*models.Session)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session.Sealed() {
		return ErrSealed
	}
	fn(t.session)
	if err := t.store.SaveSession(ctx, t.session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Finish seals the session. It completes only if something was scraped, in
// which case the site's success rate becomes scraped/attempted.
func (t *Tracker) Finish(ctx context.Context, attempted int) error {
	t.mu.Lock()
	scraped, found := t.session.Scraped, t.session.Found
	t.mu.Unlock()

	if scraped == 0 {
		diag := DiagNoProducts
		if found == 0 {
			diag = DiagNoLinks
		}
		return t.Fail(ctx, diag)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session.Sealed() {
		return ErrSealed
	}

	now := t.now()
	t.session.Status = models.SessionCompleted
	t.session.EndedAt = &now
	if err := t.store.SaveSession(ctx, t.session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	t.site.Status = models.SiteCompleted
	t.site.LastScrapedAt = &now
	if attempted > 0 {
		t.site.SuccessRate = float64(scraped) / float64(attempted)
	}
	if err := t.store.SaveSite(ctx, t.site); err != nil {
		return fmt.Errorf("save site: %w", err)
	}

	t.metrics.IncSession(string(models.SessionCompleted))
	t.logger.Info("session completed",
		slog.String("site", t.site.Name),
		slog.Int("found", t.session.Found),
		slog.Int("scraped", scraped),
		slog.Int("failed", t.session.Failed),
		slog.Float64("success_rate", t.site.SuccessRate),
	)
	return nil
}

// Fail seals the session as failed with diag and mirrors it onto the site.
func (t *Tracker) Fail(ctx context.Context, diag string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session.Sealed() {
		return ErrSealed
	}

	now := t.now()
	t.session.Status = models.SessionFailed
	t.session.EndedAt = &now
	t.session.ErrorMessage = diag
	if err := t.store.SaveSession(ctx, t.session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	t.site.Status = models.SiteFailed
	if err := t.store.SaveSite(ctx, t.site); err != nil {
		return fmt.Errorf("save site: %w", err)
	}

	t.metrics.IncSession(string(models.SessionFailed))
	t.logger.Warn("session failed",
		slog.String("site", t.site.Name),
		slog.String("reason", diag),
	)
	return nil
}

// Report returns a snapshot of the session and its per-item outcomes.
func (t *Tracker) Report() *models.SessionReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	site, sess := *t.site, *t.session
	return &models.SessionReport{
		Site:    &site,
		Session: &sess,
		Items:   append([]models.ItemResult(nil), t.items...),
	}
}
