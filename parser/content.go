package parser

import (
	"bytes"
	"net/url"

	"github.com/markusmobius/go-trafilatura"
)

// maxFallbackRunes bounds descriptions recovered from main-content extraction.
const maxFallbackRunes = 1000

// mainContent strips page boilerplate and returns the main text, truncated.
func mainContent(body []byte, pageURL *url.URL) string {
	result, err := trafilatura.Extract(bytes.NewReader(body), trafilatura.Options{
		OriginalURL:     pageURL,
		ExcludeComments: true,
	})
	if err != nil || result == nil {
		return ""
	}
	return truncateRunes(NormalizeText(result.ContentText), maxFallbackRunes)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
