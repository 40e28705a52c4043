// Package media stores product images on the local filesystem.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"
)

const maxNameLen = 30

var allowedExt = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"webp": {},
}

// FileSink downloads images into a directory.
type FileSink struct {
	dir       string
	collector *colly.Collector
}

// NewFileSink builds a sink writing into dir. transport may be nil.
func NewFileSink(dir, userAgent string, timeout time.Duration, transport http.RoundTripper) *FileSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := colly.NewCollector(colly.AllowURLRevisit())
	if userAgent != "" {
		c.UserAgent = userAgent
	}
	c.SetRequestTimeout(timeout)
	c.IgnoreRobotsTxt = true
	if transport != nil {
		c.WithTransport(transport)
	}
	c.OnResponse(func(r *colly.Response) {
		r.Ctx.Put("status", r.StatusCode)
		r.Ctx.Put("body", append([]byte(nil), r.Body...))
	})
	return &FileSink{dir: dir, collector: c}
}

// download fetches imageURL. The collector has no notion of a context, so
// the request runs on its own goroutine and a cancelled ctx abandons it; the
// abandoned request ends at the collector timeout and its body is dropped.
func (s *FileSink) download(ctx context.Context, imageURL string) ([]byte, error) {
	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		cctx := colly.NewContext()
		if err := s.collector.Request(http.MethodGet, imageURL, nil, cctx, nil); err != nil {
			done <- result{err: fmt.Errorf("download image: %w", err)}
			return
		}
		if status, _ := cctx.GetAny("status").(int); status != http.StatusOK {
			done <- result{err: fmt.Errorf("download image: status %d", status)}
			return
		}
		body, _ := cctx.GetAny("body").([]byte)
		done <- result{body: body}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.body, r.err
	}
}

// Save downloads imageURL and returns the path it was written to.
func (s *FileSink) Save(ctx context.Context, imageURL, suggestedName string) (string, error) {
	if imageURL == "" {
		return "", errors.New("empty image url")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	body, err := s.download(ctx, imageURL)
	if err != nil {
		return "", err
	}

	name := filepath.Join(s.dir, FileName(suggestedName, imageURL))
	if err := ensureDir(name); err != nil {
		return "", err
	}
	f, err := os.Create(name)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		return "", fmt.Errorf("write image file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close image file: %w", err)
	}
	return name, nil
}

// FileName builds "<name>_<id>.<ext>" from a product name and the image URL.
// Without a usable name it falls back to "product_<uuid>.<ext>".
func FileName(productName, imageURL string) string {
	ext := extension(imageURL)
	safe := sanitize(productName)
	if safe == "" {
		return fmt.Sprintf("product_%s.%s", uuid.NewString(), ext)
	}
	return fmt.Sprintf("%s_%s.%s", safe, uuid.NewString()[:8], ext)
}

func extension(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil {
		return "jpg"
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	if _, ok := allowedExt[ext]; !ok {
		return "jpg"
	}
	return ext
}

func sanitize(name string) string {
	var b strings.Builder
	n := 0
	for _, r := range name {
		if n == maxNameLen {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		n++
	}
	return b.String()
}

func ensureDir(name string) error {
	dir := filepath.Dir(name)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	return nil
}
