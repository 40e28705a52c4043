package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-storefronts/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

// GormStore persists to MySQL through gorm.
type GormStore struct {
	db *gorm.DB
}

// OpenMySQL connects to dsn and migrates the schema.
func OpenMySQL(dsn string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps an open connection and migrates the schema.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&models.Site{}, &models.Session{}, &models.Category{}, &models.Product{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	return err
}

func (g *GormStore) SaveSite(ctx context.Context, site *models.Site) error {
	return translate(g.db.WithContext(ctx).Save(site).Error)
}

func (g *GormStore) FindSiteByURL(ctx context.Context, url string) (*models.Site, error) {
	var site models.Site
	if err := g.db.WithContext(ctx).Where("url = ?", url).First(&site).Error; err != nil {
		return nil, translate(err)
	}
	return &site, nil
}

func (g *GormStore) ListSites(ctx context.Context) ([]*models.Site, error) {
	var sites []*models.Site
	if err := g.db.WithContext(ctx).Order("priority ASC").Order("id ASC").Find(&sites).Error; err != nil {
		return nil, translate(err)
	}
	return sites, nil
}

func (g *GormStore) ResetStaleSites(ctx context.Context) (int, error) {
	res := g.db.WithContext(ctx).Model(&models.Site{}).
		Where("status = ?", models.SiteScraping).
		Update("status", models.SitePending)
	if res.Error != nil {
		return 0, translate(res.Error)
	}
	return int(res.RowsAffected), nil
}

func (g *GormStore) CreateSession(ctx context.Context, session *models.Session) error {
	return translate(g.db.WithContext(ctx).Create(session).Error)
}

func (g *GormStore) SaveSession(ctx context.Context, session *models.Session) error {
	return translate(g.db.WithContext(ctx).Save(session).Error)
}

func (g *GormStore) FindProductByURL(ctx context.Context, url string) (*models.Product, error) {
	var p models.Product
	if err := g.db.WithContext(ctx).Where("url = ?", url).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// CreateProduct inserts the product. The URL is its only unique key, so a
// key conflict is reported as ErrDuplicateURL.
func (g *GormStore) CreateProduct(ctx context.Context, product *models.Product) error {
	err := g.db.WithContext(ctx).Create(product).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %w", ErrDuplicateURL, err)
	}
	return translate(err)
}

func (g *GormStore) CountProducts(ctx context.Context, siteID uint) (int64, error) {
	q := g.db.WithContext(ctx).Model(&models.Product{})
	if siteID != 0 {
		q = q.Where("site_id = ?", siteID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, translate(err)
	}
	return n, nil
}

func (g *GormStore) FindCategoryByName(ctx context.Context, name string) (*models.Category, error) {
	var c models.Category
	if err := g.db.WithContext(ctx).Where("name = ?", name).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// CreateCategory inserts the category; an existing name yields ErrDuplicate.
func (g *GormStore) CreateCategory(ctx context.Context, category *models.Category) error {
	res := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(category)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (g *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
