package media

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
)

func TestFileName(t *testing.T) {
	tests := []struct {
		name    string
		product string
		url     string
		pattern string
	}{
		{
			name:    "png kept",
			product: "Leopard Gecko Hide",
			url:     "https://cdn.test/img/hide.PNG?v=3",
			pattern: `^Leopard_Gecko_Hide_[0-9a-f-]{8}\.png$`,
		},
		{
			name:    "unknown extension defaults to jpg",
			product: "Heat mat",
			url:     "https://cdn.test/img/mat.bmp",
			pattern: `^Heat_mat_[0-9a-f-]{8}\.jpg$`,
		},
		{
			name:    "no extension",
			product: "Lamp",
			url:     "https://cdn.test/img/lamp",
			pattern: `^Lamp_[0-9a-f-]{8}\.jpg$`,
		},
		{
			name:    "name truncated to thirty characters",
			product: "Exo Terra Glass Terrarium 60x45x60cm Large",
			url:     "https://cdn.test/t.webp",
			pattern: `^Exo_Terra_Glass_Terrarium_60x4_[0-9a-f-]{8}\.webp$`,
		},
		{
			name:    "empty name",
			product: "",
			url:     "https://cdn.test/t.gif",
			pattern: `^product_[0-9a-f-]{36}\.gif$`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FileName(tt.product, tt.url)
			if !regexp.MustCompile(tt.pattern).MatchString(got) {
				t.Fatalf("FileName = %q, want match %s", got, tt.pattern)
			}
		})
	}
}

func TestFileSinkSave(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://cdn.test/img/hide.png",
		httpmock.NewBytesResponder(http.StatusOK, []byte("\x89PNG fake")))
	transport.RegisterResponder("GET", "https://cdn.test/img/missing.png",
		httpmock.NewStringResponder(http.StatusNotFound, "nope"))

	dir := filepath.Join(t.TempDir(), "images")
	sink := NewFileSink(dir, "test-agent", time.Second, transport)

	path, err := sink.Save(context.Background(), "https://cdn.test/img/hide.png", "Gecko hide")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("path %q not under %q", path, dir)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved image: %v", err)
	}
	if string(data) != "\x89PNG fake" {
		t.Fatalf("content = %q", data)
	}

	if _, err := sink.Save(context.Background(), "https://cdn.test/img/missing.png", "x"); err == nil {
		t.Fatalf("expected error for 404")
	}
	if _, err := sink.Save(context.Background(), "", "x"); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestFileSinkSaveCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://cdn.test/img/slow.png",
		func(*http.Request) (*http.Response, error) {
			<-release
			return httpmock.NewBytesResponse(http.StatusOK, []byte("late")), nil
		})

	dir := filepath.Join(t.TempDir(), "images")
	sink := NewFileSink(dir, "test-agent", 30*time.Second, transport)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := sink.Save(ctx, "https://cdn.test/img/slow.png", "Slow")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("save returned after %v, should not wait for the download", elapsed)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatalf("cancelled save wrote %d files", len(entries))
	}
}
