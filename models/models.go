// Package models defines the records the harvester persists.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SiteStatus is the lifecycle state of a target site.
type SiteStatus string

const (
	SitePending   SiteStatus = "pending"
	SiteScraping  SiteStatus = "scraping"
	SiteCompleted SiteStatus = "completed"
	SiteFailed    SiteStatus = "failed"
)

// SessionStatus is the state of one crawl session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// ItemStatus is the outcome of processing one candidate URL.
type ItemStatus string

const (
	ItemAlreadyExists    ItemStatus = "already_exists"
	ItemScraped          ItemStatus = "scraped"
	ItemNotRelevant      ItemStatus = "not_relevant"
	ItemFailed           ItemStatus = "failed"
	ItemClaimedElsewhere ItemStatus = "claimed_elsewhere"
)

// Site is a configured storefront to be crawled.
type Site struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	URL          string        `gorm:"type:varchar(512);uniqueIndex;not null"`
	Name         string        `gorm:"type:varchar(100);not null"`
	Priority     int           `gorm:"default:10"` // lower runs first
	RequestDelay time.Duration `gorm:"not null"`
	MaxProducts  int           `gorm:"default:100"`
	ProfileKey   string        `gorm:"type:varchar(64)"`
	Fingerprint  string        `gorm:"type:varchar(64)"`

	Status        SiteStatus `gorm:"type:varchar(20);default:pending"`
	LastScrapedAt *time.Time
	SuccessRate   float64
}

// Session is one bounded execution of the pipeline against a site.
type Session struct {
	ID     uint   `gorm:"primaryKey"`
	RunID  string `gorm:"type:varchar(36);uniqueIndex"`
	SiteID uint   `gorm:"index;not null"`

	StartedAt time.Time
	EndedAt   *time.Time
	Status    SessionStatus `gorm:"type:varchar(20);default:running"`

	Found          int
	Scraped        int
	Failed         int
	RequestCount   int
	AvgRequestTime time.Duration
	ErrorMessage   string `gorm:"type:text"`
}

// Sealed reports whether the session reached a terminal state.
func (s *Session) Sealed() bool {
	return s.Status == SessionCompleted || s.Status == SessionFailed
}

// Product is a harvested listing. URL is the dedup key.
type Product struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	SiteID     uint  `gorm:"index;not null"`
	CategoryID *uint `gorm:"index"`

	URL             string `gorm:"type:varchar(512);uniqueIndex;not null"`
	Name            string `gorm:"type:varchar(255);not null"`
	Description     string `gorm:"type:text"`
	Price           *float64
	Currency        string `gorm:"type:varchar(3)"`
	PriceNormalized *float64
	ImageURL        string  `gorm:"type:varchar(512)"`
	ImagePath       string  `gorm:"type:varchar(512)"`
	Confidence      float64 `gorm:"default:0"`
	Fingerprint     string  `gorm:"type:varchar(64);index"`
}

// Category is a node of the product taxonomy.
type Category struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"type:varchar(100);uniqueIndex;not null"`
	ParentID    *uint  `gorm:"index"`
	Fingerprint string `gorm:"type:varchar(64)"`
}

// ItemResult is the per-candidate entry of a session report.
type ItemResult struct {
	URL        string     `json:"url"`
	Name       string     `json:"name,omitempty"`
	Status     ItemStatus `json:"status"`
	Category   string     `json:"category,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	Price      *float64   `json:"price,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// SessionReport summarises a finished (or abandoned) run.
type SessionReport struct {
	Site    *Site
	Session *Session
	Items   []ItemResult
}

const fingerprintSalt = "storefront_harvest_salt"

// Fingerprint derives an informational identifier. It is not a dedup key.
func Fingerprint(source string) string {
	sum := sha256.Sum256([]byte(fingerprintSalt + source))
	return hex.EncodeToString(sum[:])
}
