package core

// classifier.go asks a language model to map unfamiliar column headers to
// catalog fields. The classifier is best-effort: the mapping resolver runs
// deterministic matching first, only ships the leftovers here, and degrades
// to heuristics when the call fails. Verdicts are cached per folded header
// so re-uploading a roster with the same columns costs no network round
// trip.

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/redis/go-redis/v9"
)

// NetworkError wraps a failure of an external collaborator. It is retryable:
// staged batch state is untouched and the same call can be repeated.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HeaderClassifier suggests a catalog field per column header. samples holds
// a few non-empty cell values per header, for headers whose meaning only
// shows in the data; entries may be missing. Headers the classifier cannot
// place are absent from the result.
type HeaderClassifier interface {
	Classify(ctx context.Context, headers []string, samples map[string][]string) ([]FieldSuggestion, error)
}

// OpenAIClassifier implements HeaderClassifier against an OpenAI-compatible
// chat completion endpoint.
type OpenAIClassifier struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIClassifier builds a classifier. baseURL may be empty for the
// public API; model defaults to gpt-4o-mini when empty.
func NewOpenAIClassifier(apiKey, baseURL, model string, timeout time.Duration) *OpenAIClassifier {
	var client openai.Client
	if baseURL != "" {
		client = openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(baseURL),
		)
	} else {
		client = openai.NewClient(
			option.WithAPIKey(apiKey),
		)
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenAIClassifier{client: client, model: model, timeout: timeout}
}

const classifierSystemPrompt = `You map spreadsheet column headers from customer rosters to canonical field names.
The rosters are Norwegian or English. A header may carry example values from its
column; use them when the header name alone is unclear. Reply with a JSON array
only, no prose:
[{"header": "<header exactly as given>", "field": "<field name or unknown>", "confidence": <0.0-1.0>}]`

func (c *OpenAIClassifier) Classify(ctx context.Context, headers []string, samples map[string][]string) ([]FieldSuggestion, error) {
	if len(headers) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var prompt strings.Builder
	prompt.WriteString("Fields:\n")
	for _, f := range Fields() {
		fmt.Fprintf(&prompt, "- %s (%s): %s\n", f.Name, f.Type, f.Label)
	}
	prompt.WriteString("\nHeaders:\n")
	for _, h := range headers {
		if vals := samples[h]; len(vals) > 0 {
			fmt.Fprintf(&prompt, "- %s (values: %s)\n", h, strings.Join(vals, " | "))
		} else {
			fmt.Fprintf(&prompt, "- %s\n", h)
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(classifierSystemPrompt),
			openai.UserMessage(prompt.String()),
		},
		Temperature: openai.Float(0),
		MaxTokens:   openai.Int(1024),
	})
	if err != nil {
		return nil, &NetworkError{Op: "header classification", Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &NetworkError{Op: "header classification", Err: fmt.Errorf("empty response")}
	}

	return parseClassifierResponse(resp.Choices[0].Message.Content)
}

// parseClassifierResponse decodes the model's JSON verdicts. Entries naming
// a field outside the catalog, or marked unknown, are dropped; confidences
// are clamped to [0, 1].
func parseClassifierResponse(content string) ([]FieldSuggestion, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw []struct {
		Header     string  `json:"header"`
		Field      string  `json:"field"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("parse classifier response: %w", err)
	}

	suggestions := make([]FieldSuggestion, 0, len(raw))
	for _, r := range raw {
		if r.Header == "" || r.Field == "" || r.Field == "unknown" {
			continue
		}
		if FieldByName(r.Field) == nil {
			continue
		}
		conf := r.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		suggestions = append(suggestions, FieldSuggestion{
			Header:     r.Header,
			Field:      r.Field,
			Confidence: conf,
		})
	}
	return suggestions, nil
}

// =========================================================================
// Suggestion cache
// =========================================================================

// RedisSuggestionCache stores classifier verdicts in Redis, keyed by the
// folded header and the catalog version so catalog changes invalidate old
// verdicts naturally.
type RedisSuggestionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSuggestionCache(client *redis.Client, ttl time.Duration) *RedisSuggestionCache {
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	return &RedisSuggestionCache{client: client, ttl: ttl}
}

func suggestionKey(header string) string {
	return "roster:suggestion:" + CatalogVersion + ":" + foldHeader(header)
}

func (c *RedisSuggestionCache) Get(ctx context.Context, header string) (*FieldSuggestion, bool, error) {
	data, err := c.client.Get(ctx, suggestionKey(header)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var s FieldSuggestion
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, err
	}
	return &s, true, nil
}

func (c *RedisSuggestionCache) Set(ctx context.Context, header string, s *FieldSuggestion) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, suggestionKey(header), data, c.ttl).Err()
}
