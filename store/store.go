// Package store persists sites, sessions, products and categories.
//
// Product URL and category name are unique. A concurrent insert of an
// existing URL fails with ErrDuplicateURL rather than creating a second row.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-storefronts/models"
)

var (
	// ErrNotFound is returned by lookups that match nothing.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("duplicate record")
	// ErrDuplicateURL is the ErrDuplicate a product insert returns when its
	// URL is already stored.
	ErrDuplicateURL = fmt.Errorf("product url: %w", ErrDuplicate)
)

// Store is the persistence contract the harvester depends on.
type Store interface {
	SaveSite(ctx context.Context, site *models.Site) error
	FindSiteByURL(ctx context.Context, url string) (*models.Site, error)
	// ListSites returns sites ordered by priority, then ID.
	ListSites(ctx context.Context) ([]*models.Site, error)
	// ResetStaleSites returns sites left in scraping to pending.
	ResetStaleSites(ctx context.Context) (int, error)

	CreateSession(ctx context.Context, session *models.Session) error
	SaveSession(ctx context.Context, session *models.Session) error

	FindProductByURL(ctx context.Context, url string) (*models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	CountProducts(ctx context.Context, siteID uint) (int64, error)

	FindCategoryByName(ctx context.Context, name string) (*models.Category, error)
	CreateCategory(ctx context.Context, category *models.Category) error

	// WithTx runs fn against a transactional view. Every write made through
	// the view is committed when fn returns nil and discarded otherwise.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	Close() error
}

// ResolveCategory returns the category called name, creating it when absent.
// A concurrent creation of the same name is resolved by re-reading.
func ResolveCategory(ctx context.Context, s Store, name string) (*models.Category, error) {
	c, err := s.FindCategoryByName(ctx, name)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	c = &models.Category{Name: name, Fingerprint: models.Fingerprint("category:" + name)}
	err = s.CreateCategory(ctx, c)
	if errors.Is(err, ErrDuplicate) {
		return s.FindCategoryByName(ctx, name)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
