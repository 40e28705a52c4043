// Package profile maps storefronts to extraction rules.
//
// A Profile is data: ordered selector chains for links, pagination and each
// product field. Onboarding a storefront means adding a profile to the
// registry (in code or in the config file), never a new code path.
package profile

import (
	"sort"
	"strings"

	"github.com/aluiziolira/go-scrape-storefronts/config"
)

// GenericKey names the fallback profile used for unmatched sites.
const GenericKey = "generic"

// LinkPattern selects candidate product anchors. An empty Anchor means the
// Container itself is the anchor; an empty Container means Anchor is matched
// against the whole document.
type LinkPattern struct {
	Container string
	Anchor    string
}

// Profile holds the ordered rule chains for one storefront family.
type Profile struct {
	Key   string
	Match []string

	Links      []LinkPattern
	LinkFilter string
	Next       []string

	Name        []string
	Description []string
	Price       []string
	Image       []string

	Currency        string
	ContentFallback bool
}

// DefaultNext is the pagination chain used when a profile declares none.
var DefaultNext = []string{
	`a.next`,
	`a[rel="next"]`,
	`a[aria-label="Next"]`,
	`li.next a`,
	`div.pagination a:contains("Next")`,
}

var genericLinks = []LinkPattern{
	{Container: "div.product", Anchor: "a"},
	{Container: "li.product", Anchor: "a"},
	{Container: "div.item", Anchor: "a"},
	{Container: "div.product-item", Anchor: "a"},
	{Container: "div.product-grid", Anchor: "a"},
	{Anchor: "a.product-link"},
	{Anchor: "a.product-title"},
	{Anchor: `a[href*="product"]`},
	{Anchor: `a[href*="item"]`},
}

// Builtins returns fresh copies of the compiled-in profiles.
func Builtins() []*Profile {
	return []*Profile{
		{
			Key:   "woocommerce",
			Match: []string{"ultimateexotics"},
			Links: append([]LinkPattern{
				{Container: "li.product", Anchor: "a.woocommerce-LoopProduct-link"},
				{Container: "li.product", Anchor: "a"},
				{Container: "div.product", Anchor: "a"},
				{Container: "div.product-item", Anchor: "a"},
			}, genericLinks[2:]...),
			Name:            []string{"h1.product_title", "h1.entry-title", "h1"},
			Description:     []string{"div.woocommerce-product-details__short-description", "div#tab-description", "div.product-description"},
			Price:           []string{"p.price", "span.price", "span.woocommerce-Price-amount"},
			Image:           []string{"img.wp-post-image", "div.woocommerce-product-gallery__image img", "div.images img"},
			Currency:        "ZAR",
			ContentFallback: true,
		},
		{
			Key:   "shopify",
			Match: []string{"reptile-garden", "myshopify"},
			Links: []LinkPattern{
				{Container: ".product-card", Anchor: "a"},
				{Container: ".product-item", Anchor: "a"},
				{Container: ".grid-product__link"},
				{Container: ".product-grid-item", Anchor: "a"},
				{Container: ".grid__item", Anchor: `a[href*="/products/"]`},
			},
			LinkFilter:  "/products/",
			Name:        []string{".product-single__title", ".product__title", "h1.title", "h1"},
			Description: []string{".product-single__description", ".product__description", ".description", "#product-description"},
			Price:       []string{".product__price", ".product-single__price", ".price", "[data-product-price]"},
			Image:       []string{".product-featured-img", ".product-single__photo img", ".product__photo img", "[data-product-featured-image] img"},
			Currency:    "ZAR",
		},
		{
			Key:   GenericKey,
			Links: append([]LinkPattern(nil), genericLinks...),
			Name: []string{
				"h1.product-title", "h1.product_title", "h1.title", "h1",
				"h2.product-name", "h2.product-title", "div.product-title h1", "div.product-name h1",
			},
			Description: []string{
				"div.product-description", "div.description", "div.product-details", "div.product-info",
				"div#description", "div#product-description", "div.tab-content",
			},
			Price: []string{
				"span.price", "div.price", "p.price", "span.current-price",
				"span.product-price", "div.product-price", "span.amount",
			},
			Image: []string{
				"img.product-image", "img.product-img", "img.main-image", "div.product-image img",
				"div.product-img img", "div.woocommerce-product-gallery__image img",
				"div.product-gallery img", "div.image-container img",
			},
			ContentFallback: true,
		},
	}
}

// FromConfig converts a declared profile into a Profile.
func FromConfig(pc config.ProfileConfig) *Profile {
	p := &Profile{
		Key:             pc.Key,
		Match:           append([]string(nil), pc.Match...),
		LinkFilter:      pc.LinkFilter,
		Next:            append([]string(nil), pc.Next...),
		Name:            append([]string(nil), pc.Name...),
		Description:     append([]string(nil), pc.Description...),
		Price:           append([]string(nil), pc.Price...),
		Image:           append([]string(nil), pc.Image...),
		Currency:        pc.Currency,
		ContentFallback: pc.ContentFallback,
	}
	for _, lp := range pc.Links {
		p.Links = append(p.Links, LinkPattern{Container: lp.Container, Anchor: lp.Anchor})
	}
	return p
}

// NextSelectors returns the profile's pagination chain or DefaultNext.
func (p *Profile) NextSelectors() []string {
	if len(p.Next) > 0 {
		return p.Next
	}
	return DefaultNext
}

// Registry resolves site identifiers to profiles.
type Registry struct {
	profiles map[string]*Profile
	order    []string
}

// NewRegistry builds a registry from the built-ins plus declared profiles.
// A declared profile replaces a built-in with the same key; empty rule chains
// in a declared profile inherit from the built-in it replaces.
func NewRegistry(declared ...config.ProfileConfig) *Registry {
	r := &Registry{profiles: make(map[string]*Profile)}
	for _, p := range Builtins() {
		r.add(p)
	}
	for _, pc := range declared {
		p := FromConfig(pc)
		if base, ok := r.Get(p.Key); ok {
			p = merge(base, p)
		}
		r.add(p)
	}
	return r
}

func (r *Registry) add(p *Profile) {
	key := strings.ToLower(p.Key)
	if _, ok := r.profiles[key]; !ok {
		r.order = append(r.order, key)
	}
	r.profiles[key] = p
}

// Get returns the profile registered under key.
func (r *Registry) Get(key string) (*Profile, bool) {
	p, ok := r.profiles[strings.ToLower(key)]
	return p, ok
}

// Keys lists registered profile keys in sorted order.
func (r *Registry) Keys() []string {
	keys := append([]string(nil), r.order...)
	sort.Strings(keys)
	return keys
}

// Resolve matches identifier (a site URL or name) against each profile's
// match substrings in registration order. Unmatched identifiers resolve to
// the generic profile.
func (r *Registry) Resolve(identifier string) *Profile {
	id := strings.ToLower(identifier)
	for _, key := range r.order {
		p := r.profiles[key]
		for _, m := range p.Match {
			if m != "" && strings.Contains(id, strings.ToLower(m)) {
				return p
			}
		}
	}
	return r.profiles[GenericKey]
}

// ForSite honours an explicit profile key before falling back to Resolve.
func (r *Registry) ForSite(key, siteURL string) *Profile {
	if key != "" {
		if p, ok := r.Get(key); ok {
			return p
		}
	}
	return r.Resolve(siteURL)
}

func merge(base, over *Profile) *Profile {
	out := *over
	if len(out.Match) == 0 {
		out.Match = base.Match
	}
	if len(out.Links) == 0 {
		out.Links = base.Links
	}
	if out.LinkFilter == "" {
		out.LinkFilter = base.LinkFilter
	}
	if len(out.Next) == 0 {
		out.Next = base.Next
	}
	if len(out.Name) == 0 {
		out.Name = base.Name
	}
	if len(out.Description) == 0 {
		out.Description = base.Description
	}
	if len(out.Price) == 0 {
		out.Price = base.Price
	}
	if len(out.Image) == 0 {
		out.Image = base.Image
	}
	if out.Currency == "" {
		out.Currency = base.Currency
	}
	out.ContentFallback = over.ContentFallback || base.ContentFallback
	return &out
}
