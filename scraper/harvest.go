package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-storefronts/profile"
)

// DefaultMaxPages bounds a listing crawl when no cap is configured.
const DefaultMaxPages = 5

var (
	pageParam       = regexp.MustCompile(`([?&]page=)(\d+)`)
	productHrefHint = []string{"product", "item", "/p/"}
)

// PageFetcher retrieves one URL.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// PageStats describes one crawled listing page.
type PageStats struct {
	URL      string
	Links    int
	New      int
	Attempts int
	Latency  time.Duration
	// Found is the number of distinct candidate URLs harvested so far.
	Found int
}

// HarvestResult is the outcome of a listing crawl.
type HarvestResult struct {
	URLs         []string
	PagesCrawled int
	Requests     int
	MeanLatency  time.Duration
}

// Harvester walks paginated listings and collects candidate product URLs.
type Harvester struct {
	fetcher  PageFetcher
	maxPages int
	logger   *slog.Logger
}

// NewHarvester builds a Harvester. maxPages <= 0 means DefaultMaxPages.
func NewHarvester(fetcher PageFetcher, maxPages int, logger *slog.Logger) *Harvester {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Harvester{fetcher: fetcher, maxPages: maxPages, logger: logger}
}

// Harvest crawls from seed. It stops when no next page is found, the page cap
// is reached, a URL repeats, or a page after the seed cannot be fetched.
// Failing to fetch the seed returns ErrSeedUnreachable.
func (h *Harvester) Harvest(ctx context.Context, seed string, p *profile.Profile, onPage func(PageStats)) (*HarvestResult, error) {
	res := &HarvestResult{}
	visited := make(map[string]struct{})
	seen := make(map[string]struct{})
	var totalLatency time.Duration

	current := seed
	for current != "" && res.PagesCrawled < h.maxPages {
		if _, ok := visited[current]; ok {
			h.logger.Debug("pagination cycle detected", slog.String("url", current))
			break
		}
		visited[current] = struct{}{}

		page, err := h.fetcher.Fetch(ctx, current)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			var ferr *FetchError
			if errors.As(err, &ferr) {
				res.Requests += ferr.Attempts
			}
			if res.PagesCrawled == 0 {
				return res, fmt.Errorf("%w: %w", ErrSeedUnreachable, err)
			}
			h.logger.Warn("listing page failed, stopping pagination",
				slog.String("url", current),
				slog.Any("error", err),
			)
			break
		}
		res.PagesCrawled++
		res.Requests += page.Attempts
		totalLatency += page.Latency

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
		if err != nil {
			if res.PagesCrawled == 1 {
				return res, fmt.Errorf("%w: parse %s: %w", ErrSeedUnreachable, current, err)
			}
			break
		}

		base, err := url.Parse(page.URL)
		if err != nil {
			base, _ = url.Parse(current)
		}

		links := ExtractLinks(doc, base, p)
		added := 0
		for _, link := range links {
			if _, ok := seen[link]; ok {
				continue
			}
			seen[link] = struct{}{}
			res.URLs = append(res.URLs, link)
			added++
		}

		h.logger.Info("harvested listing page",
			slog.String("url", current),
			slog.Int("links", len(links)),
			slog.Int("new", added),
		)
		if onPage != nil {
			onPage(PageStats{URL: current, Links: len(links), New: added, Attempts: page.Attempts, Latency: page.Latency, Found: len(res.URLs)})
		}

		current = NextPage(doc, base, current, p)
	}

	if res.PagesCrawled > 0 {
		res.MeanLatency = totalLatency / time.Duration(res.PagesCrawled)
	}
	return res, nil
}

// ExtractLinks applies the profile's link patterns in order; the first one
// that yields any link wins. With no pattern matching, anchors whose href
// hints at a product page are used.
func ExtractLinks(doc *goquery.Document, base *url.URL, p *profile.Profile) []string {
	for _, pattern := range p.Links {
		if links := collect(anchorsFor(doc, pattern), base, p.LinkFilter); len(links) > 0 {
			return links
		}
	}

	hinted := doc.Find("a[href]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		for _, hint := range productHrefHint {
			if strings.Contains(href, hint) {
				return true
			}
		}
		return false
	})
	return collect(hinted, base, p.LinkFilter)
}

func anchorsFor(doc *goquery.Document, pattern profile.LinkPattern) *goquery.Selection {
	switch {
	case pattern.Container == "":
		return doc.Find(pattern.Anchor)
	case pattern.Anchor == "":
		return doc.Find(pattern.Container)
	default:
		return doc.Find(pattern.Container).Find(pattern.Anchor)
	}
}

func collect(sel *goquery.Selection, base *url.URL, filter string) []string {
	var out []string
	seen := make(map[string]struct{})
	sel.Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		abs, ok := resolve(base, href)
		if !ok {
			return
		}
		if filter != "" && !strings.Contains(abs, filter) {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out
}

// NextPage finds the following listing page: the profile's next-link
// selectors first, then an incremented page= query counter.
func NextPage(doc *goquery.Document, base *url.URL, current string, p *profile.Profile) string {
	for _, selector := range p.NextSelectors() {
		href, ok := doc.Find(selector).First().Attr("href")
		if !ok {
			continue
		}
		if next, ok := resolve(base, href); ok {
			return next
		}
	}
	return incrementPage(current)
}

func incrementPage(current string) string {
	m := pageParam.FindStringSubmatch(current)
	if m == nil {
		return ""
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return ""
	}
	return pageParam.ReplaceAllString(current, "${1}"+strconv.Itoa(n+1))
}

func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return "", false
	}
	var u *url.URL
	var err error
	if base != nil {
		u, err = base.Parse(href)
	} else {
		u, err = url.Parse(href)
	}
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}
