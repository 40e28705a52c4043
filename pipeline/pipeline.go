// Package pipeline turns candidate product URLs into persisted products,
// one candidate at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/aluiziolira/go-scrape-storefronts/classify"
	"github.com/aluiziolira/go-scrape-storefronts/dedup"
	"github.com/aluiziolira/go-scrape-storefronts/models"
	"github.com/aluiziolira/go-scrape-storefronts/parser"
	"github.com/aluiziolira/go-scrape-storefronts/profile"
	"github.com/aluiziolira/go-scrape-storefronts/scraper"
	"github.com/aluiziolira/go-scrape-storefronts/store"
	"github.com/aluiziolira/go-scrape-storefronts/throttle"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCategoryCacheSize bounds the category name cache.
const DefaultCategoryCacheSize = 256

// ImageSink stores a product image and returns a local reference to it.
type ImageSink interface {
	Save(ctx context.Context, url, suggestedName string) (string, error)
}

// Classifier is the relevance gate and categoriser a Pipeline consults.
type Classifier interface {
	Relevant(item classify.Item) bool
	Categorize(ctx context.Context, item classify.Item) classify.Verdict
}

// CategoryCache maps category names to IDs. It is shared by every session
// in the process.
type CategoryCache = lru.Cache[string, uint]

// NewCategoryCache builds a cache holding up to size names.
func NewCategoryCache(size int) (*CategoryCache, error) {
	if size <= 0 {
		size = DefaultCategoryCacheSize
	}
	return lru.New[string, uint](size)
}

// Options configures a Pipeline. Images and Claims are optional.
type Options struct {
	Store      store.Store
	Fetcher    scraper.PageFetcher
	Classifier Classifier
	Images     ImageSink
	Claims     dedup.Claimer
	Categories *CategoryCache

	BaseCurrency string
	ItemJitter   time.Duration

	Metrics *scraper.Metrics
	Logger  *slog.Logger
}

// Pipeline processes the candidates of one session sequentially.
type Pipeline struct {
	store      store.Store
	fetcher    scraper.PageFetcher
	classifier Classifier
	images     ImageSink
	claims     dedup.Claimer
	categories *CategoryCache

	baseCurrency string
	jitter       time.Duration

	metrics *scraper.Metrics
	logger  *slog.Logger

	sleep func(context.Context, time.Duration) error
}

// New builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil || opts.Fetcher == nil || opts.Classifier == nil {
		return nil, errors.New("pipeline requires a store, a fetcher and a classifier")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Categories == nil {
		cache, err := NewCategoryCache(DefaultCategoryCacheSize)
		if err != nil {
			return nil, fmt.Errorf("category cache: %w", err)
		}
		opts.Categories = cache
	}
	return &Pipeline{
		store:        opts.Store,
		fetcher:      opts.Fetcher,
		classifier:   opts.Classifier,
		images:       opts.Images,
		claims:       opts.Claims,
		categories:   opts.Categories,
		baseCurrency: opts.BaseCurrency,
		jitter:       opts.ItemJitter,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		sleep:        throttle.Sleep,
	}, nil
}

// Process runs one candidate URL through dedup, fetch, extraction,
// classification and persistence. It never panics and never returns an
// error: every outcome is reported through the ItemResult.
func (p *Pipeline) Process(ctx context.Context, site *models.Site, prof *profile.Profile, url string) (res models.ItemResult) {
	res = models.ItemResult{URL: url}
	defer func() {
		if r := recover(); r != nil {
			res.Status = models.ItemFailed
			res.Error = fmt.Sprintf("panic: %v", r)
			p.logger.Error("item processing panicked",
				slog.String("url", url),
				slog.Any("panic", r),
			)
		} else if res.Status == models.ItemFailed {
			p.logger.Warn("item failed", slog.String("url", url), slog.String("error", res.Error))
		}
		p.metrics.IncItem(string(res.Status))
	}()

	if p.claims != nil {
		ok, err := p.claims.Claim(ctx, url)
		switch {
		case err != nil:
			p.logger.Warn("url claim unavailable", slog.String("url", url), slog.Any("error", err))
		case !ok:
			res.Status = models.ItemClaimedElsewhere
			return res
		default:
			defer func() {
				if err := p.claims.Release(context.WithoutCancel(ctx), url); err != nil {
					p.logger.Warn("release url claim", slog.String("url", url), slog.Any("error", err))
				}
			}()
		}
	}

	if _, err := p.store.FindProductByURL(ctx, url); err == nil {
		res.Status = models.ItemAlreadyExists
		return res
	} else if !errors.Is(err, store.ErrNotFound) {
		return failed(res, fmt.Errorf("lookup product: %w", err))
	}

	if err := p.sleep(ctx, p.itemDelay(site)); err != nil {
		return failed(res, err)
	}

	page, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return failed(res, err)
	}

	rec, err := parser.Extract(page.Body, page.URL, prof)
	if err != nil {
		return failed(res, err)
	}
	rec.URL = url
	if err := parser.Validate(rec); err != nil {
		return failed(res, err)
	}
	res.Name = rec.Name
	res.Price = rec.Price

	item := classify.Item{Name: rec.Name, Description: rec.Description}
	if !p.classifier.Relevant(item) {
		res.Status = models.ItemNotRelevant
		p.logger.Debug("item not relevant", slog.String("url", url), slog.String("name", rec.Name))
		return res
	}

	verdict := p.classifier.Categorize(ctx, item)
	p.metrics.IncClassification(verdict.Source)

	product := &models.Product{
		SiteID:          site.ID,
		URL:             url,
		Name:            rec.Name,
		Description:     rec.Description,
		Price:           rec.Price,
		Currency:        rec.Currency,
		PriceNormalized: parser.NormalizePrice(rec.Price, rec.Currency, p.baseCurrency),
		ImageURL:        rec.ImageURL,
		Fingerprint:     models.Fingerprint(rec.Name + site.URL),
	}
	if !verdict.NotApplicable {
		product.Confidence = verdict.Confidence
		res.Category = verdict.Category
		res.Confidence = verdict.Confidence
	}

	if p.images != nil && rec.ImageURL != "" {
		path, err := p.images.Save(ctx, rec.ImageURL, rec.Name)
		if err != nil {
			p.logger.Warn("image download failed", slog.String("url", rec.ImageURL), slog.Any("error", err))
		} else {
			product.ImagePath = path
		}
	}

	if err := p.persist(ctx, product, res.Category); err != nil {
		if errors.Is(err, store.ErrDuplicateURL) {
			res.Status = models.ItemAlreadyExists
			return res
		}
		return failed(res, err)
	}

	res.Status = models.ItemScraped
	p.logger.Info("product saved",
		slog.String("url", url),
		slog.String("name", product.Name),
		slog.String("category", res.Category),
		slog.Float64("confidence", product.Confidence),
	)
	return res
}

// persist resolves the category, then creates the product in a
// transaction. The category is committed on its own so that sessions first
// using the same name concurrently share one row instead of conflicting.
// An empty category leaves the product uncategorised.
func (p *Pipeline) persist(ctx context.Context, product *models.Product, category string) error {
	if category != "" {
		id, err := p.categoryID(ctx, category)
		if err != nil {
			return fmt.Errorf("resolve category %q: %w", category, err)
		}
		product.CategoryID = &id
	}
	return p.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateProduct(ctx, product); err != nil {
			return fmt.Errorf("create product: %w", err)
		}
		return nil
	})
}

func (p *Pipeline) categoryID(ctx context.Context, name string) (uint, error) {
	if id, ok := p.categories.Get(name); ok {
		return id, nil
	}
	c, err := store.ResolveCategory(ctx, p.store, name)
	if err != nil {
		return 0, err
	}
	p.categories.Add(c.Name, c.ID)
	return c.ID, nil
}

func (p *Pipeline) itemDelay(site *models.Site) time.Duration {
	d := site.RequestDelay
	if p.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.jitter)))
	}
	return d
}

func failed(res models.ItemResult, err error) models.ItemResult {
	res.Status = models.ItemFailed
	res.Error = err.Error()
	return res
}
