package web_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ksaito/noelbot/agent"
	"github.com/ksaito/noelbot/logstore"
	"github.com/ksaito/noelbot/web"
)

func newTestServer(t *testing.T, logs *logstore.Store) *httptest.Server {
	t.Helper()
	srv := web.New(":0", "Noel", "v1.0.0", &agent.Router{}, logs)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestRootBanner(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Noel v1.0.0 is awake.") {
		t.Errorf("banner = %q", body)
	}
}

func TestRootUnknownPathIs404(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got %d, want 404", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d", resp.StatusCode)
	}

	var got struct {
		Persona  string                `json:"persona"`
		Version  string                `json:"version"`
		Channels []agent.ChannelStatus `json:"channels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Persona != "Noel" || got.Version != "v1.0.0" {
		t.Errorf("got %+v", got)
	}
	if got.Channels == nil {
		t.Error("channels should be an empty array, not null")
	}
}

func TestLogsWithoutStore(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/logs")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got %d, want 404", resp.StatusCode)
	}
}

func TestLogsWithStore(t *testing.T) {
	store, err := logstore.Open(filepath.Join(t.TempDir(), "logs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	inner := slog.NewTextHandler(io.Discard, nil)
	logger := slog.New(logstore.NewHandler(inner, store))
	logger.InfoContext(context.Background(), "bot ready", "channel_id", "chan-1")

	ts := newTestServer(t, store)

	resp, err := http.Get(ts.URL + "/api/logs?limit=10")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d", resp.StatusCode)
	}

	var got struct {
		Total int               `json:"total"`
		Logs  []logstore.LogRow `json:"logs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Total != 1 || len(got.Logs) != 1 {
		t.Fatalf("got %+v", got)
	}
	if got.Logs[0].Msg != "bot ready" || got.Logs[0].ChannelID != "chan-1" {
		t.Errorf("row = %+v", got.Logs[0])
	}
}
