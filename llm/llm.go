// Package llm provides the HTTP client for the text-generation backend and
// the rate-limit-aware retry wrapper around it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/ksaito/noelbot/config"
	"github.com/ksaito/noelbot/history"
)

// ErrRateLimited marks a generation failure the retry loop may recover from.
// Any other error is unrecoverable and propagates immediately.
var ErrRateLimited = errors.New("generation rate limited")

// Part is a single text fragment in the generateContent wire format.
type Part struct {
	Text string `json:"text"`
}

// Content is one conversation entry in the generateContent wire format.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

type generateRequest struct {
	Contents          []Content `json:"contents"`
	SystemInstruction *Content  `json:"systemInstruction,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []Part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Client calls the generateContent endpoint for a fixed persona.
type Client struct {
	cfg         *config.LLMConfig
	personaName string
	httpClient  *http.Client

	// injectable for tests
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

func New(cfg *config.LLMConfig, personaName string) *Client {
	return &Client{
		cfg:         cfg,
		personaName: personaName,
		httpClient:  &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second},
		sleep:       sleepCtx,
		jitter:      func() time.Duration { return time.Duration(rand.Float64() * float64(time.Second)) },
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) apiBase() string {
	if u := c.cfg.BaseURL; u != "" {
		return u
	}
	return "https://generativelanguage.googleapis.com/v1beta"
}

// WireText renders a turn in the label-and-quote framing the model is
// prompted to mirror. Speaker identity lives on the Turn itself; it is
// folded into free text only here, at the generation boundary.
func WireText(t history.Turn, personaName string) string {
	if t.Role == history.RoleAgent {
		return fmt.Sprintf("%s: %q", personaName, t.Text)
	}
	return fmt.Sprintf("User %q: %q", t.Speaker, t.Text)
}

// wireRole maps transcript roles to the generateContent role vocabulary.
func wireRole(r history.Role) string {
	if r == history.RoleAgent {
		return "model"
	}
	return "user"
}

// Generate performs a single generation call. A 429 response maps to
// ErrRateLimited; any other failure is returned as-is.
func (c *Client) Generate(ctx context.Context, systemPrompt string, turns []history.Turn) (string, error) {
	contents := make([]Content, 0, len(turns))
	for _, t := range turns {
		contents = append(contents, Content{
			Role:  wireRole(t.Role),
			Parts: []Part{{Text: WireText(t, c.personaName)}},
		})
	}
	req := generateRequest{Contents: contents}
	if systemPrompt != "" {
		req.SystemInstruction = &Content{Parts: []Part{{Text: systemPrompt}}}
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.apiBase(), c.cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		snippet := strings.TrimSpace(string(body))
		// The backend does not always answer quota exhaustion with a 429
		// status; the body may carry the code instead.
		if resp.StatusCode == http.StatusTooManyRequests ||
			strings.Contains(snippet, "RESOURCE_EXHAUSTED") ||
			strings.Contains(snippet, "429") {
			return "", fmt.Errorf("%w: HTTP %d: %s", ErrRateLimited, resp.StatusCode, snippet)
		}
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}

// GenerateWithRetry wraps Generate with full-jitter exponential backoff on
// rate-limit failures: up to cfg.MaxRetries attempts, waiting
// (1<<attempt)*1s plus up to 1s of jitter between them. Non-rate-limit
// errors abort immediately; after the budget is spent the last error is
// returned.
func (c *Client) GenerateWithRetry(ctx context.Context, systemPrompt string, turns []history.Turn) (string, error) {
	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		text, err := c.Generate(ctx, systemPrompt, turns)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return "", err
		}
		lastErr = err

		if attempt < maxRetries-1 {
			delay := time.Duration(1<<attempt)*time.Second + c.jitter()
			slog.Warn("rate limited, retrying", "attempt", attempt+1, "max", maxRetries, "delay", delay)
			if err := c.sleep(ctx, delay); err != nil {
				return "", err
			}
		}
	}
	return "", lastErr
}
