package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisDeduper) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		rc.Close()
		m.Close()
	})
	return m, NewRedisDeduper(rc, ttl)
}

func TestRedisDeduperLifecycle(t *testing.T) {
	m, d := newTestDeduper(t, time.Hour)
	ctx := context.Background()

	claimed, prev, err := d.Claim(ctx, "a@b.c", "k1")
	if err != nil || !claimed || prev != "" {
		t.Fatalf("expected first claim, got %v %q %v", claimed, prev, err)
	}
	claimed, prev, err = d.Claim(ctx, "a@b.c", "k1")
	if err != nil || claimed || prev != "" {
		t.Fatalf("expected in flight, got %v %q %v", claimed, prev, err)
	}
	if err := d.Complete(ctx, "a@b.c", "k1", "task-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	claimed, prev, err = d.Claim(ctx, "a@b.c", "k1")
	if err != nil || claimed || prev != "task-1" {
		t.Fatalf("expected stored id, got %v %q %v", claimed, prev, err)
	}
	if ttl := m.TTL("idem:a@b.c:k1"); ttl != time.Hour {
		t.Fatalf("expected ttl to be kept, got %v", ttl)
	}

	claimed, _, err = d.Claim(ctx, "other@b.c", "k1")
	if err != nil || !claimed {
		t.Fatalf("keys must be scoped per owner, got %v %v", claimed, err)
	}
}

func TestRedisDeduperRelease(t *testing.T) {
	_, d := newTestDeduper(t, time.Hour)
	ctx := context.Background()
	if _, _, err := d.Claim(ctx, "a@b.c", "k1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := d.Release(ctx, "a@b.c", "k1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if claimed, _, err := d.Claim(ctx, "a@b.c", "k1"); err != nil || !claimed {
		t.Fatalf("expected key to be claimable again, got %v %v", claimed, err)
	}
}

func TestPostTaskWithIdempotencyKeyCreatesOnce(t *testing.T) {
	_, d := newTestDeduper(t, time.Hour)
	store := newFakeTasks()
	e, _ := newTestServer(t, Deps{Tasks: store, Deduper: d})
	headers := map[string]string{echo.HeaderAuthorization: "Bearer a.b.c", "Idempotency-Key": "submit-1"}

	var ids []string
	for i := 0; i < 2; i++ {
		rec := do(e, http.MethodPost, "/api/tasks", `{"name":"Buy milk"}`, headers)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("attempt %d: expected 202, got %d", i, rec.Code)
		}
		var resp createTaskResponse
		if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		ids = append(ids, resp.ID)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected one create, got %d", len(store.created))
	}
	if ids[0] != ids[1] {
		t.Fatalf("expected the same id twice, got %v", ids)
	}
}

func TestPostTaskFailureReleasesIdempotencyKey(t *testing.T) {
	_, d := newTestDeduper(t, time.Hour)
	store := newFakeTasks()
	e, _ := newTestServer(t, Deps{Tasks: store, Deduper: d})
	headers := map[string]string{echo.HeaderAuthorization: "Bearer a.b.c", "Idempotency-Key": "submit-2"}

	if rec := do(e, http.MethodPost, "/api/tasks", `{"name":""}`, headers); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/api/tasks", `{"name":"fixed"}`, headers); rec.Code != http.StatusAccepted {
		t.Fatalf("expected retry with the same key to succeed, got %d", rec.Code)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected one create, got %d", len(store.created))
	}
}

func TestPostTaskReplayReturnsFirstResult(t *testing.T) {
	_, d := newTestDeduper(t, time.Hour)
	store := newFakeTasks()
	e, _ := newTestServer(t, Deps{Tasks: store, Deduper: d})
	headers := map[string]string{echo.HeaderAuthorization: "Bearer a.b.c", "Idempotency-Key": "submit-3"}

	first := `{"name":"Buy milk","dueDate":"2024-01-01T00:00:00Z","reminderDate":"2024-01-05T00:00:00Z"}`
	replay := `{"name":"Buy milk","dueDate":"2030-06-01T00:00:00Z"}`
	var got []createTaskResponse
	for _, body := range []string{first, replay} {
		rec := do(e, http.MethodPost, "/api/tasks", body, headers)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
		var resp createTaskResponse
		if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, resp)
	}

	want := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	if got[1].ID != got[0].ID || !got[1].DueDate.Equal(want) || got[1].Warning != got[0].Warning || got[1].Warning == "" {
		t.Fatalf("expected the replay to answer with the created task, got %+v then %+v", got[0], got[1])
	}
	if len(store.created) != 1 {
		t.Fatalf("expected one create, got %d", len(store.created))
	}
}
