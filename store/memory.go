package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-storefronts/models"
)

// MemoryStore keeps everything in process memory. It honours the same
// uniqueness rules as the SQL backend.
type MemoryStore struct {
	mu         sync.Mutex
	nextID     uint
	sites      map[uint]*models.Site
	sessions   map[uint]*models.Session
	products   map[uint]*models.Product
	categories map[uint]*models.Category
	now        func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sites:      make(map[uint]*models.Site),
		sessions:   make(map[uint]*models.Session),
		products:   make(map[uint]*models.Product),
		categories: make(map[uint]*models.Category),
		now:        time.Now,
	}
}

func (m *MemoryStore) id() uint {
	m.nextID++
	return m.nextID
}

// SaveSite inserts the site when its ID is zero and replaces it otherwise.
func (m *MemoryStore) SaveSite(_ context.Context, site *models.Site) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveSiteLocked(site)
}

func (m *MemoryStore) saveSiteLocked(site *models.Site) error {
	for id, s := range m.sites {
		if s.URL == site.URL && id != site.ID {
			return ErrDuplicate
		}
	}
	now := m.now()
	if site.ID == 0 {
		site.ID = m.id()
		site.CreatedAt = now
	}
	site.UpdatedAt = now
	cp := *site
	m.sites[site.ID] = &cp
	return nil
}

func (m *MemoryStore) FindSiteByURL(_ context.Context, url string) (*models.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sites {
		if s.URL == url {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListSites(_ context.Context) ([]*models.Site, error) {
	m.mu.Lock()
	out := make([]*models.Site, 0, len(m.sites))
	for _, s := range m.sites {
		cp := *s
		out = append(out, &cp)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) ResetStaleSites(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sites {
		if s.Status == models.SiteScraping {
			s.Status = models.SitePending
			s.UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createSessionLocked(session)
}

func (m *MemoryStore) createSessionLocked(session *models.Session) error {
	for _, s := range m.sessions {
		if session.RunID != "" && s.RunID == session.RunID {
			return ErrDuplicate
		}
	}
	session.ID = m.id()
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MemoryStore) SaveSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

// Session returns a stored session by ID.
func (m *MemoryStore) Session(id uint) (*models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

func (m *MemoryStore) FindProductByURL(_ context.Context, url string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.productByURLLocked(url); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) productByURLLocked(url string) *models.Product {
	for _, p := range m.products {
		if p.URL == url {
			return p
		}
	}
	return nil
}

func (m *MemoryStore) CreateProduct(_ context.Context, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createProductLocked(product)
}

func (m *MemoryStore) createProductLocked(product *models.Product) error {
	if m.productByURLLocked(product.URL) != nil {
		return ErrDuplicateURL
	}
	now := m.now()
	if product.ID == 0 {
		product.ID = m.id()
	}
	product.CreatedAt = now
	product.UpdatedAt = now
	cp := *product
	m.products[product.ID] = &cp
	return nil
}

func (m *MemoryStore) CountProducts(_ context.Context, siteID uint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.products {
		if siteID == 0 || p.SiteID == siteID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) FindCategoryByName(_ context.Context, name string) (*models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.categoryByNameLocked(name); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) categoryByNameLocked(name string) *models.Category {
	for _, c := range m.categories {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (m *MemoryStore) CreateCategory(_ context.Context, category *models.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCategoryLocked(category)
}

func (m *MemoryStore) createCategoryLocked(category *models.Category) error {
	if m.categoryByNameLocked(category.Name) != nil {
		return ErrDuplicate
	}
	if category.ID == 0 {
		category.ID = m.id()
	}
	cp := *category
	m.categories[category.ID] = &cp
	return nil
}

// WithTx buffers product and category writes and applies them atomically.
// Site and session writes made through the view go straight to the store.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	tx := &memTx{MemoryStore: m}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (m *MemoryStore) Close() error { return nil }

type memTx struct {
	*MemoryStore
	products   []*models.Product
	categories []*models.Category
}

func (t *memTx) FindProductByURL(ctx context.Context, url string) (*models.Product, error) {
	for _, p := range t.products {
		if p.URL == url {
			cp := *p
			return &cp, nil
		}
	}
	return t.MemoryStore.FindProductByURL(ctx, url)
}

func (t *memTx) CreateProduct(ctx context.Context, product *models.Product) error {
	if _, err := t.FindProductByURL(ctx, product.URL); err == nil {
		return ErrDuplicateURL
	}
	t.mu.Lock()
	product.ID = t.id()
	t.mu.Unlock()
	cp := *product
	t.products = append(t.products, &cp)
	return nil
}

func (t *memTx) FindCategoryByName(ctx context.Context, name string) (*models.Category, error) {
	for _, c := range t.categories {
		if c.Name == name {
			cp := *c
			return &cp, nil
		}
	}
	return t.MemoryStore.FindCategoryByName(ctx, name)
}

func (t *memTx) CreateCategory(ctx context.Context, category *models.Category) error {
	if _, err := t.FindCategoryByName(ctx, category.Name); err == nil {
		return ErrDuplicate
	}
	t.mu.Lock()
	category.ID = t.id()
	t.mu.Unlock()
	cp := *category
	t.categories = append(t.categories, &cp)
	return nil
}

func (t *memTx) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

// commit applies the buffered writes. A buffered category whose name was
// stored meanwhile is replaced by the stored one, and buffered products are
// re-pointed to it. Only a product URL conflict aborts the commit.
func (t *memTx) commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.products {
		if t.productByURLLocked(p.URL) != nil {
			return ErrDuplicateURL
		}
	}
	adopted := make(map[uint]uint)
	for _, c := range t.categories {
		if existing := t.categoryByNameLocked(c.Name); existing != nil {
			adopted[c.ID] = existing.ID
			continue
		}
		if err := t.createCategoryLocked(c); err != nil {
			return err
		}
	}
	for _, p := range t.products {
		if p.CategoryID != nil {
			if id, ok := adopted[*p.CategoryID]; ok {
				p.CategoryID = &id
			}
		}
		if err := t.createProductLocked(p); err != nil {
			return err
		}
	}
	return nil
}
