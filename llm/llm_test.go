package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ksaito/noelbot/config"
	"github.com/ksaito/noelbot/history"
)

func testClient(baseURL string) *Client {
	c := New(&config.LLMConfig{
		APIKey:                "test-key",
		Model:                 "test-model",
		BaseURL:               baseURL,
		RequestTimeoutSeconds: 5,
		MaxRetries:            5,
	}, "Noel")
	c.jitter = func() time.Duration { return 0 }
	return c
}

func candidateJSON(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
		},
	})
	return string(b)
}

func TestWireText(t *testing.T) {
	user := history.Turn{Role: history.RoleUser, Speaker: "aria", Text: "hello"}
	if got, want := WireText(user, "Noel"), `User "aria": "hello"`; got != want {
		t.Errorf("user turn = %q, want %q", got, want)
	}
	agent := history.Turn{Role: history.RoleAgent, Speaker: "Noel", Text: "hi there"}
	if got, want := WireText(agent, "Noel"), `Noel: "hi there"`; got != want {
		t.Errorf("agent turn = %q, want %q", got, want)
	}
}

func TestGenerateSuccess(t *testing.T) {
	var gotBody generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/test-model:generateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(candidateJSON("hello!")))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	turns := []history.Turn{
		{Role: history.RoleUser, Speaker: "aria", Text: "hi"},
		{Role: history.RoleAgent, Speaker: "Noel", Text: "hey"},
	}
	text, err := c.Generate(context.Background(), "be nice", turns)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if text != "hello!" {
		t.Errorf("text = %q, want %q", text, "hello!")
	}
	if len(gotBody.Contents) != 2 {
		t.Fatalf("sent %d contents, want 2", len(gotBody.Contents))
	}
	if gotBody.Contents[0].Role != "user" || gotBody.Contents[1].Role != "model" {
		t.Errorf("roles = %q, %q, want user, model", gotBody.Contents[0].Role, gotBody.Contents[1].Role)
	}
	if gotBody.SystemInstruction == nil || gotBody.SystemInstruction.Parts[0].Text != "be nice" {
		t.Error("system instruction not forwarded")
	}
}

func TestGenerateRateLimitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), "", nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestGenerateOtherHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), "", nil)
	if err == nil {
		t.Fatal("expected error for HTTP 401")
	}
	if errors.Is(err, ErrRateLimited) {
		t.Error("401 must not map to ErrRateLimited")
	}
}

func TestGenerateWithRetryRecoversFromRateLimits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(candidateJSON("finally")))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	text, err := c.GenerateWithRetry(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("GenerateWithRetry() error: %v", err)
	}
	if text != "finally" {
		t.Errorf("text = %q, want %q", text, "finally")
	}
	if calls.Load() != 4 {
		t.Errorf("made %d attempts, want 4", calls.Load())
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("slept %d times, want %d", len(delays), len(want))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v (jitter zeroed)", i, delays[i], want[i])
		}
	}
}

func TestGenerateWithRetryAbortsOnUnrecoverable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	var slept int
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept++
		return nil
	}

	if _, err := c.GenerateWithRetry(context.Background(), "", nil); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("made %d attempts, want 1 (no retry on non-429)", calls.Load())
	}
	if slept != 0 {
		t.Errorf("slept %d times, want 0", slept)
	}
}

func TestGenerateWithRetryExhaustsBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	var sleeps int
	c.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}

	_, err := c.GenerateWithRetry(context.Background(), "", nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected last ErrRateLimited after exhaustion, got %v", err)
	}
	if calls.Load() != 5 {
		t.Errorf("made %d attempts, want 5", calls.Load())
	}
	// No sleep after the final attempt: the error returns immediately.
	if sleeps != 4 {
		t.Errorf("slept %d times, want 4", sleeps)
	}
}

func TestGenerateRateLimitInBody(t *testing.T) {
	// Quota exhaustion can arrive as a non-429 status with the code in the
	// body; it must still be retryable.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), "", nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited for RESOURCE_EXHAUSTED body, got %v", err)
	}
}
