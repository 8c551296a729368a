//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"task-sync/testtoken"
)

type task struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type created struct {
	ID      string `json:"id"`
	Warning string `json:"warning"`
}

func newClient(t *testing.T, email string) *Client {
	t.Helper()
	base := os.Getenv("API_BASE")
	if base == "" {
		base = "http://localhost:8080"
	}
	if _, err := http.Get(base + "/healthz"); err != nil {
		t.Skipf("skipping, API not reachable: %v", err)
	}
	bearer := os.Getenv("TEST_BEARER")
	if bearer == "" {
		tok, err := testtoken.FromEnv(email)
		if err != nil {
			t.Skipf("skipping, no token: %v", err)
		}
		bearer = tok
	}
	return NewClient(base, bearer)
}

func loadConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := LoadConfig("config.test.yaml")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

// waitFor reads stream events until one satisfies cond.
func waitFor(t *testing.T, events <-chan string, sla time.Duration, cond func([]task) bool) {
	t.Helper()
	deadline := time.After(sla)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("stream closed")
			}
			var tasks []task
			if err := sonic.UnmarshalString(ev, &tasks); err != nil {
				t.Fatalf("decode event %q: %v", ev, err)
			}
			if cond(tasks) {
				return
			}
		case <-deadline:
			t.Fatal("no matching event received in time")
		}
	}
}

func contains(tasks []task, id string) bool {
	for _, tk := range tasks {
		if tk.ID == id {
			return true
		}
	}
	return false
}

func TestStreamingLiveUpdates(t *testing.T) {
	email := fmt.Sprintf("stream-%d@example.com", time.Now().UnixNano())
	client := newClient(t, email)
	cfg := loadConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := client.Stream(ctx, "/api/tasks/stream")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	waitFor(t, events, cfg.StreamSLA(), func(ts []task) bool { return len(ts) == 0 })

	var resp created
	if _, err := client.PostJSON(ctx, "/api/tasks", map[string]any{"name": "Buy milk", "category": "Shopping"}, nil, &resp); err != nil {
		t.Fatalf("create task: %v", err)
	}
	waitFor(t, events, cfg.StreamSLA(), func(ts []task) bool { return contains(ts, resp.ID) })

	if _, err := client.Delete(ctx, "/api/tasks/"+resp.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	waitFor(t, events, cfg.StreamSLA(), func(ts []task) bool { return !contains(ts, resp.ID) })
}

func TestCreateRejectsEmptyName(t *testing.T) {
	client := newClient(t, "validation@example.com")
	status, err := client.PostJSON(context.Background(), "/api/tasks", map[string]any{"name": "  "}, nil, nil)
	if status != http.StatusBadRequest || err == nil || !strings.Contains(err.Error(), "Task name cannot be empty.") {
		t.Fatalf("expected 400 with the name message, got %d %v", status, err)
	}
}

func TestTopicToggleRoundTrip(t *testing.T) {
	client := newClient(t, "topics@example.com")
	ctx := context.Background()
	headers := map[string]string{"X-Installation-Id": fmt.Sprintf("it-%d", time.Now().UnixNano())}

	var before map[string]bool
	if _, err := client.GetJSON(ctx, "/api/topics", headers, &before); err != nil {
		t.Fatalf("get topics: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := client.PostJSON(ctx, "/api/topics/Work/toggle", nil, headers, nil); err != nil {
			t.Fatalf("toggle %d: %v", i, err)
		}
	}
	var after map[string]bool
	if _, err := client.GetJSON(ctx, "/api/topics", headers, &after); err != nil {
		t.Fatalf("get topics: %v", err)
	}
	if before["Work"] != after["Work"] {
		t.Fatalf("toggling twice changed state: %v -> %v", before, after)
	}
}
