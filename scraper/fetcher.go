package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-storefronts/throttle"
	"github.com/gocolly/colly/v2"
)

// Governor admits requests and learns from their outcomes.
type Governor interface {
	Wait(ctx context.Context) error
	Observe(status int, latency time.Duration, err error)
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	UserAgents       []string
	Timeout          time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	RetryBackoffMax  time.Duration
	TransportBackoff time.Duration
	RespectRobotsTxt bool

	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Page is a successfully fetched document.
type Page struct {
	URL      string
	Status   int
	Body     []byte
	Latency  time.Duration
	Attempts int
}

// FetchStats aggregates every attempt a Fetcher has issued.
type FetchStats struct {
	Requests     int
	TotalLatency time.Duration
}

// MeanLatency returns the average attempt latency.
func (s FetchStats) MeanLatency() time.Duration {
	if s.Requests == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Requests)
}

// Fetcher retrieves pages for one crawl session. Each session owns its own
// Fetcher so that the collector, identity pool and governor are never shared.
type Fetcher struct {
	collector *colly.Collector
	gov       Governor
	retry     retryPolicy
	agents    []string
	metrics   *Metrics
	logger    *slog.Logger

	sleep func(context.Context, time.Duration) error

	mu    sync.Mutex
	stats FetchStats
}

// NewFetcher builds a Fetcher backed by a synchronous colly collector.
func NewFetcher(opts FetcherOptions, gov Governor, metrics *Metrics) (*Fetcher, error) {
	if len(opts.UserAgents) == 0 {
		return nil, errors.New("fetcher requires at least one user agent")
	}
	if gov == nil {
		return nil, errors.New("fetcher requires a governor")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent(opts.UserAgents[0]),
	)
	collector.SetRequestTimeout(opts.Timeout)
	collector.IgnoreRobotsTxt = !opts.RespectRobotsTxt

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   opts.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	collector.WithTransport(transport)

	f := &Fetcher{
		collector: collector,
		gov:       gov,
		retry:     newRetryPolicy(opts),
		agents:    append([]string(nil), opts.UserAgents...),
		metrics:   metrics,
		logger:    opts.Logger,
		sleep:     throttle.Sleep,
	}
	f.configureHandlers()
	return f, nil
}

func (f *Fetcher) configureHandlers() {
	f.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put("status", r.StatusCode)
		r.Ctx.Put("url", r.Request.URL.String())
		r.Ctx.Put("body", append([]byte(nil), r.Body...))
	})
	f.collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		r.Ctx.Put("status", r.StatusCode)
	})
}

// Fetch retrieves url, retrying blocked responses and transport failures.
// A failure is always returned as a *FetchError; only context cancellation
// is returned bare.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	var last *FetchError
	for attempt := 1; attempt <= f.retry.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := f.gov.Wait(ctx); err != nil {
			return nil, err
		}

		page, latency, ferr := f.attempt(url, attempt)
		if ferr == nil {
			f.gov.Observe(page.Status, latency, nil)
			f.metrics.IncRequest("ok")
			return page, nil
		}

		f.gov.Observe(ferr.Status, latency, ferr.Err)
		f.metrics.IncRequest("error")
		f.metrics.IncError(ferr.Label())
		last = ferr

		if !ferr.Retryable || attempt == f.retry.maxAttempts {
			break
		}

		delay := f.retry.backoff(ferr, attempt)
		f.metrics.IncRetries()
		f.logger.Warn("fetch failed, retrying",
			slog.String("url", url),
			slog.Int("status", ferr.Status),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("category", ferr.Label()),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	f.logger.Error("fetch failed",
		slog.String("url", url),
		slog.Int("attempts", last.Attempts),
		slog.Any("error", last.Err),
	)
	return nil, last
}

func (f *Fetcher) attempt(url string, attempt int) (*Page, time.Duration, *FetchError) {
	hdr := http.Header{}
	hdr.Set("User-Agent", f.agents[rand.Intn(len(f.agents))])
	hdr.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	hdr.Set("Accept-Language", "en-US,en;q=0.5")

	cctx := colly.NewContext()
	start := time.Now()
	err := f.collector.Request(http.MethodGet, url, nil, cctx, hdr)
	latency := time.Since(start)
	f.record(latency)

	status, _ := cctx.GetAny("status").(int)
	if err == nil && status == http.StatusOK {
		body, _ := cctx.GetAny("body").([]byte)
		final, _ := cctx.GetAny("url").(string)
		if final == "" {
			final = url
		}
		return &Page{URL: final, Status: status, Body: body, Latency: latency, Attempts: attempt}, latency, nil
	}
	if err == nil {
		err = fmt.Errorf("http status %d", status)
	}

	ferr := &FetchError{URL: url, Status: status, Attempts: attempt}
	switch {
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		ferr.Retryable = true
		ferr.Err = classifyError(nil, status)
	case status != 0:
		ferr.Err = classifyError(nil, status)
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		ferr.Err = err
	default:
		ferr.Retryable = true
		ferr.Err = classifyError(err, 0)
		if ferr.Err == nil {
			ferr.Err = err
		}
	}
	return nil, latency, ferr
}

func (f *Fetcher) record(latency time.Duration) {
	f.metrics.ObserveDuration(latency)
	f.mu.Lock()
	f.stats.Requests++
	f.stats.TotalLatency += latency
	f.mu.Unlock()
}

// Stats returns a snapshot of the attempts issued so far.
func (f *Fetcher) Stats() FetchStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}
