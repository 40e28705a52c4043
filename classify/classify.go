// Package classify decides whether a product is relevant and which category
// of the configured vocabulary it belongs to.
package classify

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode"
)

// Uncategorized is assigned when nothing in the vocabulary fits.
const Uncategorized = "Uncategorized"

const (
	uncategorizedConfidence = 0.1
	keywordConfidenceCap    = 0.8
	keywordHitsForFull      = 5.0
)

// Sources of a Verdict.
const (
	SourceRemote  = "remote"
	SourceKeyword = "keyword"
)

// ErrNoCredentials is returned by a collaborator that has no API key.
var ErrNoCredentials = errors.New("classifier credentials not configured")

// Item is the text a classification is based on.
type Item struct {
	Name        string
	Description string
}

func (i Item) text() string {
	return strings.ToLower(i.Name + " " + i.Description)
}

// Verdict is the categorisation of one relevant item. NotApplicable means the
// remote collaborator judged the item outside the taxonomy.
type Verdict struct {
	Category      string
	Confidence    float64
	NotApplicable bool
	Source        string
}

// Collaborator is an external classification service.
type Collaborator interface {
	Classify(ctx context.Context, item Item, vocabulary []string) (Verdict, error)
}

// Options configures a Classifier.
type Options struct {
	AllowKeywords []string
	DenyKeywords  []string
	Vocabulary    []string
	Timeout       time.Duration
	Logger        *slog.Logger
}

// Classifier runs the relevance gate and the categorisation stage.
type Classifier struct {
	allow      []string
	deny       []string
	vocabulary []string
	canonical  map[string]string
	timeout    time.Duration
	remote     Collaborator
	logger     *slog.Logger
}

// New builds a Classifier. remote may be nil, in which case every item is
// categorised by keyword overlap.
func New(opts Options, remote Collaborator) *Classifier {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	c := &Classifier{
		allow:      lowerAll(opts.AllowKeywords),
		deny:       lowerAll(opts.DenyKeywords),
		vocabulary: append([]string(nil), opts.Vocabulary...),
		canonical:  make(map[string]string, len(opts.Vocabulary)),
		timeout:    opts.Timeout,
		remote:     remote,
		logger:     opts.Logger,
	}
	for _, name := range opts.Vocabulary {
		c.canonical[strings.ToLower(strings.TrimSpace(name))] = name
	}
	return c
}

// Vocabulary returns the configured category names.
func (c *Classifier) Vocabulary() []string {
	return append([]string(nil), c.vocabulary...)
}

// Relevant reports whether the item mentions an allow keyword and no deny
// keyword. Irrelevant items must not be persisted.
func (c *Classifier) Relevant(item Item) bool {
	text := item.text()
	if !containsAny(text, c.allow) {
		return false
	}
	return !containsAny(text, c.deny)
}

// Categorize asks the remote collaborator under the configured timeout and
// falls back to keyword overlap on any failure. It never returns an error.
func (c *Classifier) Categorize(ctx context.Context, item Item) Verdict {
	if c.remote == nil {
		return c.KeywordVerdict(item)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	v, err := c.remote.Classify(callCtx, item, c.Vocabulary())
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ErrNoCredentials) {
			level = slog.LevelDebug
		}
		c.logger.Log(ctx, level, "remote classification failed, using keyword fallback",
			slog.String("name", item.Name),
			slog.Any("error", err),
		)
		return c.KeywordVerdict(item)
	}

	v.Source = SourceRemote
	if v.NotApplicable {
		return Verdict{NotApplicable: true, Source: SourceRemote}
	}
	if name, ok := c.Canonical(v.Category); ok {
		v.Category = name
		v.Confidence = clamp01(v.Confidence)
		return v
	}
	c.logger.Debug("remote category outside vocabulary",
		slog.String("name", item.Name),
		slog.String("category", v.Category),
	)
	return Verdict{Category: Uncategorized, Confidence: uncategorizedConfidence, Source: SourceRemote}
}

// KeywordVerdict scores each vocabulary category by how many of its name's
// tokens occur in the item text. Ties keep the earlier category.
func (c *Classifier) KeywordVerdict(item Item) Verdict {
	text := item.text()
	best, bestHits := "", 0
	for _, category := range c.vocabulary {
		hits := 0
		for _, token := range tokens(category) {
			if strings.Contains(text, token) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = category, hits
		}
	}
	if bestHits == 0 {
		return Verdict{Category: Uncategorized, Confidence: uncategorizedConfidence, Source: SourceKeyword}
	}
	return Verdict{
		Category:   best,
		Confidence: math.Min(float64(bestHits)/keywordHitsForFull, keywordConfidenceCap),
		Source:     SourceKeyword,
	}
}

// Canonical maps a category name onto the vocabulary, ignoring case and
// surrounding space.
func (c *Classifier) Canonical(name string) (string, bool) {
	canonical, ok := c.canonical[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// tokens splits a category name into lowercase words, dropping tokens with
// no letters or digits such as "&".
func tokens(category string) []string {
	var out []string
	for _, f := range strings.Fields(strings.ToLower(category)) {
		if strings.IndexFunc(f, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0 {
			out = append(out, f)
		}
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
