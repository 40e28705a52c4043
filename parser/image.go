package parser

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// imageAttrs lists image source attributes, deferred-load ones first.
var imageAttrs = []string{"data-srcset", "data-src", "srcset", "src"}

func extractImage(doc *goquery.Document, base *url.URL, selectors []string) string {
	for _, selector := range selectors {
		if src := imageSource(doc.Find(selector).First(), base); src != "" {
			return src
		}
	}

	if src := linkedDataImage(doc, base); src != "" {
		return src
	}

	var hinted, plain string
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := imageSource(s, base)
		if src == "" {
			return true
		}
		lower := strings.ToLower(src)
		if strings.Contains(lower, "logo") || strings.Contains(lower, "icon") {
			return true
		}
		if strings.Contains(lower, "product") || strings.Contains(lower, "item") {
			hinted = src
			return false
		}
		if plain == "" {
			plain = src
		}
		return true
	})
	if hinted != "" {
		return hinted
	}
	return plain
}

func imageSource(s *goquery.Selection, base *url.URL) string {
	if s.Length() == 0 {
		return ""
	}
	for _, attr := range imageAttrs {
		val, ok := s.Attr(attr)
		if !ok {
			continue
		}
		if strings.HasSuffix(attr, "srcset") {
			val = firstSrcsetURL(val)
		}
		if src := resolveImage(base, val); src != "" {
			return src
		}
	}
	return ""
}

// firstSrcsetURL returns the URL of the first srcset candidate.
func firstSrcsetURL(srcset string) string {
	first, _, _ := strings.Cut(srcset, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func resolveImage(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") {
		return ""
	}
	u, err := base.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func linkedDataImage(doc *goquery.Document, base *url.URL) string {
	var found string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		if raw := imageFromJSON(data); raw != "" {
			found = resolveImage(base, raw)
		}
		return found == ""
	})
	return found
}

// imageFromJSON walks a JSON-LD value for the first image reference. The
// image field may be a string, a list, or an ImageObject; @graph documents
// are searched node by node.
func imageFromJSON(v any) string {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if img := imageFromJSON(item); img != "" {
				return img
			}
		}
	case map[string]any:
		if img, ok := t["image"]; ok {
			if src := imageValue(img); src != "" {
				return src
			}
		}
		if graph, ok := t["@graph"]; ok {
			return imageFromJSON(graph)
		}
	}
	return ""
}

func imageValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if src := imageValue(item); src != "" {
				return src
			}
		}
	case map[string]any:
		if u, ok := t["url"].(string); ok {
			return u
		}
		if u, ok := t["contentUrl"].(string); ok {
			return u
		}
	}
	return ""
}
