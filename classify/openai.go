package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultEndpoint = "https://api.openai.com/v1"
	defaultModel    = "gpt-4o"
	notApplicable   = "not applicable"
)

// ErrMalformedResponse marks a reply that does not honour the output contract.
var ErrMalformedResponse = errors.New("malformed classification response")

// OpenAI classifies items with a chat-completions model.
type OpenAI struct {
	apiKey   string
	endpoint string
	model    string
	client   *http.Client
}

// NewOpenAI builds a client. transport may be nil.
func NewOpenAI(apiKey, endpoint, model string, timeout time.Duration, transport http.RoundTripper) *OpenAI {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if model == "" {
		model = defaultModel
	}
	return &OpenAI{
		apiKey:   apiKey,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: timeout, Transport: transport},
	}
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	MaxTokens      int            `json:"max_tokens"`
	Temperature    float64        `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type classification struct {
	Category      *string  `json:"category"`
	Confidence    *float64 `json:"confidence"`
	NotApplicable bool     `json:"not_applicable"`
}

// Classify implements Collaborator.
func (o *OpenAI) Classify(ctx context.Context, item Item, vocabulary []string) (Verdict, error) {
	if o.apiKey == "" {
		return Verdict{}, ErrNoCredentials
	}

	payload, err := json.Marshal(chatRequest{
		Model:          o.model,
		Messages:       []chatMessage{{Role: "user", Content: prompt(item, vocabulary)}},
		ResponseFormat: responseFormat{Type: "json_object"},
		MaxTokens:      200,
		Temperature:    0.1,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Verdict{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("classification request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verdict{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("classification status %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if len(chat.Choices) == 0 {
		return Verdict{}, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	return parseVerdict(chat.Choices[0].Message.Content)
}

func parseVerdict(content string) (Verdict, error) {
	var c classification
	if err := json.Unmarshal([]byte(content), &c); err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if c.NotApplicable || (c.Category != nil && strings.EqualFold(strings.TrimSpace(*c.Category), notApplicable)) {
		return Verdict{NotApplicable: true}, nil
	}
	if c.Category == nil || strings.TrimSpace(*c.Category) == "" || c.Confidence == nil {
		return Verdict{}, fmt.Errorf("%w: missing category or confidence", ErrMalformedResponse)
	}
	if *c.Confidence < 0 || *c.Confidence > 1 {
		return Verdict{}, fmt.Errorf("%w: confidence %v out of range", ErrMalformedResponse, *c.Confidence)
	}
	return Verdict{Category: *c.Category, Confidence: *c.Confidence}, nil
}

func prompt(item Item, vocabulary []string) string {
	var b strings.Builder
	b.WriteString("Classify this reptile or exotic pet product into exactly one category from the list.\n\n")
	fmt.Fprintf(&b, "Product name: %s\n", item.Name)
	if item.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", item.Description)
	}
	b.WriteString("\nCategories:\n")
	for _, name := range vocabulary {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	b.WriteString("\nIf the product is for dogs, cats or other common pets, reply {\"not_applicable\": true}.\n")
	b.WriteString("Otherwise reply with JSON: {\"category\": \"<name from the list>\", \"confidence\": <number between 0 and 1>}.")
	return b.String()
}
