package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/aluiziolira/go-scrape-storefronts/profile"
)

func mustProfile(t *testing.T, key string) *profile.Profile {
	t.Helper()
	p, ok := profile.NewRegistry().Get(key)
	if !ok {
		t.Fatalf("profile %q missing", key)
	}
	return p
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   float64
		wantOK bool
	}{
		{name: "rand with thousands", input: "R 1,234.50", want: 1234.50, wantOK: true},
		{name: "labelled rand", input: "Price: R99", want: 99, wantOK: true},
		{name: "no number", input: "Call for price", wantOK: false},
		{name: "empty", input: "", wantOK: false},
		{name: "comma decimal", input: "R12,50", want: 12.50, wantOK: true},
		{name: "zar prefix", input: "ZAR 450", want: 450, wantOK: true},
		{name: "zar suffix", input: "450,00 ZAR", want: 450, wantOK: true},
		{name: "dollar", input: "$19.99", want: 19.99, wantOK: true},
		{name: "pound", input: "£7", want: 7, wantOK: true},
		{name: "bare decimal", input: "Only 35.5 left", want: 35.5, wantOK: true},
		{name: "thousands without decimals", input: "R 12,000", want: 12000, wantOK: true},
		{name: "prefixed beats earlier bare number", input: "Pack of 3 for R 150.00", want: 150, wantOK: true},
		{name: "sale range keeps first prefixed", input: "Was R 899.00 Now R 749.00", want: 899, wantOK: true},
		{name: "non breaking space", input: "R\u00a01\u00a0299,95", want: 1299.95, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParsePrice(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParsePrice(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("ParsePrice(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseMoneyCurrency(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "R 99", want: "ZAR"},
		{input: "USD 12", want: "USD"},
		{input: "€ 10,00", want: "EUR"},
		{input: "99.00", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			m, ok := ParseMoney(tt.input)
			if !ok {
				t.Fatalf("ParseMoney(%q) found nothing", tt.input)
			}
			if m.Currency != tt.want {
				t.Fatalf("currency = %q, want %q", m.Currency, tt.want)
			}
		})
	}
}

const wooPage = `<html><head>
<script type="application/ld+json">{"@type":"Product","image":"https://cdn.example.test/ld.jpg"}</script>
</head><body>
<img src="/assets/logo.png">
<h1 class="product_title">  Leopard   Gecko
 (Juvenile) </h1>
<div class="woocommerce-product-details__short-description"><p>Hand raised gecko, eating well.</p></div>
<p class="price"><span class="woocommerce-Price-amount">R&nbsp;1,250.00</span></p>
<div class="woocommerce-product-gallery__image"><img data-src="/uploads/gecko-large.jpg" src="/uploads/placeholder.gif"></div>
</body></html>`

func TestExtractWooCommerce(t *testing.T) {
	rec, err := Extract([]byte(wooPage), "https://ultimateexotics.co.za/product/leopard-gecko/", mustProfile(t, "woocommerce"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if rec.Name != "Leopard Gecko (Juvenile)" {
		t.Fatalf("name = %q", rec.Name)
	}
	if rec.Description != "Hand raised gecko, eating well." {
		t.Fatalf("description = %q", rec.Description)
	}
	if rec.Price == nil || *rec.Price != 1250 {
		t.Fatalf("price = %v, want 1250", rec.Price)
	}
	if rec.Currency != "ZAR" {
		t.Fatalf("currency = %q", rec.Currency)
	}
	if rec.ImageURL != "https://ultimateexotics.co.za/uploads/gecko-large.jpg" {
		t.Fatalf("image = %q", rec.ImageURL)
	}
}

func TestExtractMissingName(t *testing.T) {
	body := `<html><body><p class="price">R 10</p></body></html>`
	_, err := Extract([]byte(body), "https://shop.example.test/p/1", mustProfile(t, "woocommerce"))
	if !errors.Is(err, ErrMissingName) {
		t.Fatalf("expected ErrMissingName, got %v", err)
	}
}

func TestExtractMissingOptionalFields(t *testing.T) {
	p := mustProfile(t, "shopify")
	body := `<html><body><h1 class="product__title">UVB Lamp</h1><p>No price listed</p></body></html>`

	rec, err := Extract([]byte(body), "https://reptile-garden-sa.myshopify.com/products/uvb", p)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if rec.Name != "UVB Lamp" || rec.Description != "" || rec.Price != nil || rec.ImageURL != "" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestExtractPriceFallsBackToPageText(t *testing.T) {
	p := mustProfile(t, "shopify")
	body := `<html><body><h1>Heat Mat</h1><div class="details">Only 3 left. Now R 349,99 incl VAT</div></body></html>`

	rec, err := Extract([]byte(body), "https://reptile-garden-sa.myshopify.com/products/mat", p)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if rec.Price == nil || *rec.Price != 349.99 {
		t.Fatalf("price = %v, want 349.99", rec.Price)
	}
}

func TestExtractPageTextIgnoresScripts(t *testing.T) {
	p := mustProfile(t, "shopify")
	tests := []struct {
		name string
		body string
		want *float64
	}{
		{
			name: "script only",
			body: `<html><body><h1>Heat Mat</h1><script>var tpl = "$1";</script><style>.a:after{content:"R 5"}</style></body></html>`,
		},
		{
			name: "visible price after script",
			body: `<html><body><h1>Heat Mat</h1><script>var tpl = "$1";</script><p>Now R 349,99</p></body></html>`,
			want: ptr(349.99),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Extract([]byte(tt.body), "https://reptile-garden-sa.myshopify.com/products/mat", p)
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			switch {
			case tt.want == nil && rec.Price != nil:
				t.Fatalf("price = %v, want none", *rec.Price)
			case tt.want != nil && (rec.Price == nil || *rec.Price != *tt.want):
				t.Fatalf("price = %v, want %v", rec.Price, *tt.want)
			}
		})
	}
}

func TestExtractImageFallbacks(t *testing.T) {
	p := &profile.Profile{Name: []string{"h1"}, Image: []string{"img.missing"}}

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "srcset first candidate",
			body: `<h1>x</h1><img class="missing" srcset="/a-small.jpg 320w, /a-large.jpg 1024w">`,
			want: "https://shop.example.test/a-small.jpg",
		},
		{
			name: "json-ld string",
			body: `<h1>x</h1><script type="application/ld+json">{"image":"/ld.png"}</script>`,
			want: "https://shop.example.test/ld.png",
		},
		{
			name: "json-ld list",
			body: `<h1>x</h1><script type="application/ld+json">{"image":["https://cdn.example.test/1.jpg","https://cdn.example.test/2.jpg"]}</script>`,
			want: "https://cdn.example.test/1.jpg",
		},
		{
			name: "json-ld graph image object",
			body: `<h1>x</h1><script type="application/ld+json">{"@graph":[{"@type":"WebPage"},{"@type":"Product","image":{"url":"https://cdn.example.test/obj.jpg"}}]}</script>`,
			want: "https://cdn.example.test/obj.jpg",
		},
		{
			name: "first non logo image",
			body: `<h1>x</h1><img src="data:image/gif;base64,AAAA"><img src="/img/site-logo.png"><img src="/img/favicon-icon.png"><img src="/img/snake.jpg">`,
			want: "https://shop.example.test/img/snake.jpg",
		},
		{
			name: "product hinted image preferred",
			body: `<h1>x</h1><img src="/img/banner.jpg"><img src="/img/product-42.jpg">`,
			want: "https://shop.example.test/img/product-42.jpg",
		},
		{
			name: "malformed json-ld ignored",
			body: `<h1>x</h1><script type="application/ld+json">{not json</script><img src="/img/snake.jpg">`,
			want: "https://shop.example.test/img/snake.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Extract([]byte("<html><body>"+tt.body+"</body></html>"), "https://shop.example.test/p/1", p)
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if rec.ImageURL != tt.want {
				t.Fatalf("image = %q, want %q", rec.ImageURL, tt.want)
			}
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	long := strings.Repeat("é", maxFallbackRunes+10)
	if got := []rune(truncateRunes(long, maxFallbackRunes)); len(got) != maxFallbackRunes {
		t.Fatalf("truncated to %d runes, want %d", len(got), maxFallbackRunes)
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Fatalf("short string changed: %q", got)
	}
}

func TestValidate(t *testing.T) {
	price := -1.0
	tests := []struct {
		name    string
		rec     *Record
		wantErr bool
	}{
		{name: "valid", rec: &Record{URL: "https://x.test/p", Name: "Gecko"}},
		{name: "nil", rec: nil, wantErr: true},
		{name: "missing url", rec: &Record{Name: "Gecko"}, wantErr: true},
		{name: "missing name", rec: &Record{URL: "https://x.test/p"}, wantErr: true},
		{name: "negative price", rec: &Record{URL: "https://x.test/p", Name: "Gecko", Price: &price}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.rec); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizePrice(t *testing.T) {
	price := 120.0
	if got := NormalizePrice(&price, "ZAR", "zar"); got == nil || *got != 120 {
		t.Fatalf("same currency should pass through, got %v", got)
	}
	if got := NormalizePrice(&price, "USD", "ZAR"); got != nil {
		t.Fatalf("foreign currency should not normalize, got %v", *got)
	}
	if got := NormalizePrice(nil, "ZAR", "ZAR"); got != nil {
		t.Fatalf("missing price should stay missing")
	}
}

func ptr(f float64) *float64 { return &f }
