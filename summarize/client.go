// Package summarize sends normalized message bodies to a hosted
// chat-completion endpoint and writes the condensed results to the
// per-run digest file.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1/chat/completions"
	defaultModel     = "gpt-3.5-turbo"
	defaultMaxTokens = 1024
	defaultTimeout   = 60 * time.Second

	// Long bodies are summarized incrementally: later chunks refine the
	// summary produced so far instead of starting over.
	defaultChunkSize    = 8192
	defaultChunkOverlap = 512
)

// ServiceError is a per-message failure of the summarization endpoint:
// network error, rate limit, or malformed response. It is logged and
// skipped, never aborting the batch.
type ServiceError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("summarization service (%d): %s", e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("summarization service: %v", e.Err)
	}
	return fmt.Sprintf("summarization service: %s", e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

type Options struct {
	APIKey       string
	Model        string
	MaxTokens    int
	BaseURL      string
	Timeout      time.Duration
	ChunkSize    int
	ChunkOverlap int
}

// Client calls the chat-completion endpoint.
type Client struct {
	opts Options
	http *http.Client
}

func NewClient(opts Options) *Client {
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		// The fallback must stay below the chunk size or the split
		// step goes negative.
		opts.ChunkOverlap = min(defaultChunkOverlap, opts.ChunkSize/4)
	}

	return &Client{
		opts: opts,
		http: &http.Client{},
	}
}

// Summarize condenses body text into bullet points. Long input is split
// into chunks; the first chunk is summarized directly and each later
// chunk refines the running summary.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	chunks := splitChunks(text, c.opts.ChunkSize, c.opts.ChunkOverlap)

	var summary string
	for i, chunk := range chunks {
		var prompt string
		if i == 0 {
			prompt = summaryPrompt(chunk)
		} else {
			prompt = refinePrompt(summary, chunk)
		}

		result, err := c.complete(ctx, prompt)
		if err != nil {
			return "", err
		}
		summary = result
	}

	return summary, nil
}

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Choices []struct {
		Message apiMessage `json:"message"`
	} `json:"choices"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// complete makes a single request to the completion endpoint.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := apiRequest{
		Model: c.opts.Model,
		Messages: []apiMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.opts.MaxTokens,
		Temperature: 0,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", &ServiceError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", &ServiceError{Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &ServiceError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ServiceError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", &ServiceError{StatusCode: resp.StatusCode, Message: apiErr.Error.Message}
		}
		return "", &ServiceError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &ServiceError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(result.Choices) == 0 {
		return "", &ServiceError{Message: "response contained no choices"}
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// splitChunks splits text into rune-safe windows of at most size runes,
// with overlap runes of context carried between adjacent chunks.
func splitChunks(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
