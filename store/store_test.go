package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aluiziolira/go-scrape-storefronts/models"
	"gorm.io/gorm"
)

func TestMemoryStoreProductUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	p := &models.Product{SiteID: 1, URL: "https://shop.test/p/1", Name: "Gecko hide"}
	if err := s.CreateProduct(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID == 0 {
		t.Fatalf("expected ID to be assigned")
	}
	if err := s.CreateProduct(ctx, &models.Product{SiteID: 1, URL: p.URL, Name: "dup"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := s.FindProductByURL(ctx, p.URL)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Name != "Gecko hide" {
		t.Fatalf("name = %q", got.Name)
	}
	if _, err := s.FindProductByURL(ctx, "https://shop.test/p/2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreConcurrentCreateSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx Store) error {
				return tx.CreateProduct(ctx, &models.Product{URL: "https://shop.test/p/x", Name: fmt.Sprint(i)})
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrDuplicate) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
	if n, _ := s.CountProducts(ctx, 0); n != 1 {
		t.Fatalf("products = %d, want 1", n)
	}
}

func TestMemoryStoreTxRollback(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx Store) error {
		if _, err := ResolveCategory(ctx, tx, "Substrate"); err != nil {
			return err
		}
		if err := tx.CreateProduct(ctx, &models.Product{URL: "https://shop.test/p/1", Name: "a"}); err != nil {
			return err
		}
		if _, err := tx.FindProductByURL(ctx, "https://shop.test/p/1"); err != nil {
			t.Fatalf("tx should read its own writes: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.FindCategoryByName(ctx, "Substrate"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("category should be rolled back, got %v", err)
	}
	if n, _ := s.CountProducts(ctx, 0); n != 0 {
		t.Fatalf("products = %d, want 0", n)
	}
}

func TestMemoryStoreTxAdoptsCategoryCreatedMeanwhile(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	url := "https://shop.test/p/heat-mat"

	var rival models.Category
	err := s.WithTx(ctx, func(tx Store) error {
		c, err := ResolveCategory(ctx, tx, "Heating Equipment")
		if err != nil {
			return err
		}
		rival = models.Category{Name: "Heating Equipment"}
		if err := s.CreateCategory(ctx, &rival); err != nil {
			t.Fatalf("rival create: %v", err)
		}
		id := c.ID
		return tx.CreateProduct(ctx, &models.Product{URL: url, Name: "Heat mat", CategoryID: &id})
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	p, err := s.FindProductByURL(ctx, url)
	if err != nil {
		t.Fatalf("product not stored: %v", err)
	}
	if p.CategoryID == nil || *p.CategoryID != rival.ID {
		t.Fatalf("category id = %v, want %d", p.CategoryID, rival.ID)
	}
	stored, err := s.FindCategoryByName(ctx, "Heating Equipment")
	if err != nil || stored.ID != rival.ID {
		t.Fatalf("stored category = %+v (%v), want id %d", stored, err, rival.ID)
	}
}

func TestMemoryStoreTxURLConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	url := "https://shop.test/p/1"

	err := s.WithTx(ctx, func(tx Store) error {
		if _, err := ResolveCategory(ctx, tx, "Substrate"); err != nil {
			return err
		}
		if err := tx.CreateProduct(ctx, &models.Product{URL: url, Name: "mine"}); err != nil {
			return err
		}
		return s.CreateProduct(ctx, &models.Product{URL: url, Name: "theirs"})
	})
	if !errors.Is(err, ErrDuplicateURL) || !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicateURL, got %v", err)
	}
	p, err := s.FindProductByURL(ctx, url)
	if err != nil || p.Name != "theirs" {
		t.Fatalf("stored product = %+v (%v), want theirs", p, err)
	}
	if _, err := s.FindCategoryByName(ctx, "Substrate"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("category should be rolled back, got %v", err)
	}
}

func TestResolveCategory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, err := ResolveCategory(ctx, s, "Decor")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := ResolveCategory(ctx, s, "Decor")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("ids differ: %d vs %d", first.ID, second.ID)
	}
	if first.Fingerprint == "" {
		t.Fatalf("expected fingerprint")
	}
}

func TestListSitesPriorityOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, site := range []*models.Site{
		{URL: "https://c.test", Name: "c", Priority: 3},
		{URL: "https://a.test", Name: "a", Priority: 1},
		{URL: "https://b.test", Name: "b", Priority: 1},
	} {
		if err := s.SaveSite(ctx, site); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := s.SaveSite(ctx, &models.Site{URL: "https://a.test", Name: "again"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	sites, err := s.ListSites(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var names []string
	for _, site := range sites {
		names = append(names, site.Name)
	}
	if fmt.Sprint(names) != "[a b c]" {
		t.Fatalf("order = %v", names)
	}
}

func TestResetStaleSites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	stale := &models.Site{URL: "https://a.test", Name: "a", Status: models.SiteScraping}
	done := &models.Site{URL: "https://b.test", Name: "b", Status: models.SiteCompleted}
	_ = s.SaveSite(ctx, stale)
	_ = s.SaveSite(ctx, done)

	n, err := s.ResetStaleSites(ctx)
	if err != nil || n != 1 {
		t.Fatalf("reset = %d, %v", n, err)
	}
	got, _ := s.FindSiteByURL(ctx, "https://a.test")
	if got.Status != models.SitePending {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestSessionSave(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.SaveSession(ctx, &models.Session{ID: 42}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	sess := &models.Session{RunID: "run-1", SiteID: 1, Status: models.SessionRunning}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}
	sess.Status = models.SessionCompleted
	sess.Scraped = 3
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok := s.Session(sess.ID)
	if !ok || got.Status != models.SessionCompleted || got.Scraped != 3 {
		t.Fatalf("session = %+v", got)
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{in: gorm.ErrRecordNotFound, want: ErrNotFound},
		{in: fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), want: ErrDuplicate},
	}
	for _, tt := range tests {
		if got := translate(tt.in); !errors.Is(got, tt.want) {
			t.Fatalf("translate(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if translate(nil) != nil {
		t.Fatalf("translate(nil) should be nil")
	}
}
