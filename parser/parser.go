// Package parser extracts product records from fetched product pages.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-storefronts/profile"
)

// ErrMissingName is returned when no name selector matched. The candidate
// is dropped.
var ErrMissingName = errors.New("product name not found")

// Record is the structured result of one product page.
type Record struct {
	URL         string
	Name        string
	Description string
	Price       *float64
	Currency    string
	ImageURL    string
}

// Extract pulls a Record out of body using the profile's rule chains. Only
// the name is required; every other field lookup fails independently.
func Extract(body []byte, pageURL string, p *profile.Profile) (*Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	rec := &Record{URL: pageURL, Currency: p.Currency}

	rec.Name = firstText(doc, p.Name)
	if rec.Name == "" {
		return nil, fmt.Errorf("%s: %w", pageURL, ErrMissingName)
	}

	rec.Description = firstText(doc, p.Description)
	if rec.Description == "" && p.ContentFallback {
		rec.Description = mainContent(body, base)
	}

	if m, ok := extractPrice(doc, p.Price); ok {
		amount := m.Amount
		rec.Price = &amount
		if m.Currency != "" {
			rec.Currency = m.Currency
		}
	}

	rec.ImageURL = extractImage(doc, base, p.Image)
	return rec, nil
}

// Validate checks that a record carries the fields persistence needs.
func Validate(r *Record) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("record missing url")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("record %s: %w", r.URL, ErrMissingName)
	}
	if r.Price != nil && *r.Price < 0 {
		return fmt.Errorf("record %s has negative price", r.URL)
	}
	return nil
}

// NormalizePrice returns the price in the base currency when no conversion
// is needed, and nil otherwise.
func NormalizePrice(price *float64, currency, base string) *float64 {
	if price == nil || currency == "" || !strings.EqualFold(currency, base) {
		return nil
	}
	v := *price
	return &v
}

// NormalizeText collapses runs of whitespace into single spaces.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, selector := range selectors {
		if text := NormalizeText(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func extractPrice(doc *goquery.Document, selectors []string) (Money, bool) {
	for _, selector := range selectors {
		text := doc.Find(selector).First().Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if m, ok := ParseMoney(text); ok {
			return m, true
		}
	}
	return parseWith(visibleText(doc), prefixedPatterns)
}

// visibleText is the body text without script, style and template content.
// The document itself is left intact for later JSON-LD lookups.
func visibleText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return body.Text()
}
