package main

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"task-sync/domain"
	"task-sync/storage"
	"task-sync/topics"
)

func TestRedisOptionsAzureStyle(t *testing.T) {
	opts := redisOptions("cache.example.net:6380,password=secret,ssl=True,abortConnect=False")
	if opts.Addr != "cache.example.net:6380" || opts.Password != "secret" || opts.TLSConfig == nil {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestRedisOptionsURL(t *testing.T) {
	opts := redisOptions("redis://:pw@localhost:6379/2")
	if opts.Addr != "localhost:6379" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("unexpected options %+v", opts)
	}
}

type nopRegistrar struct{}

func (nopRegistrar) SubscribeToTopic(context.Context, string) error   { return nil }
func (nopRegistrar) UnsubscribeFromTopic(context.Context, string) error { return nil }

type countingRegistrar struct{ calls []string }

func (c *countingRegistrar) SubscribeToTopic(_ context.Context, topic string) error {
	c.calls = append(c.calls, "subscribe:"+topic)
	return nil
}

func (c *countingRegistrar) UnsubscribeFromTopic(_ context.Context, topic string) error {
	c.calls = append(c.calls, "unsubscribe:"+topic)
	return nil
}

func TestInstallationsKeepSeparateTopicState(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()

	inst := installations{owners: storage.NewInstallations(rc)}
	logger, _ := test.NewNullLogger()
	ctx := context.Background()

	one, err := topics.Load(ctx, inst.KV("a@b.c", "device-1"), nopRegistrar{}, domain.Categories(), logger)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := one.Toggle(ctx, domain.CategoryWork); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !m.Exists("installation:a@b.c:device-1:subscriptions") {
		t.Fatalf("expected namespaced key, got %v", m.Keys())
	}

	two, err := topics.Load(ctx, inst.KV("a@b.c", "device-2"), nopRegistrar{}, domain.Categories(), logger)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if two.Subscribed(domain.CategoryWork) {
		t.Fatal("state leaked between installations")
	}

	again, err := topics.Load(ctx, inst.KV("a@b.c", "device-1"), nopRegistrar{}, domain.Categories(), logger)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !again.Subscribed(domain.CategoryWork) {
		t.Fatal("expected persisted state to be reloaded")
	}
}

func TestOverlappingTogglesDoNotLoseAFlip(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()

	inst := installations{owners: storage.NewInstallations(rc)}
	logger, _ := test.NewNullLogger()
	reg := &countingRegistrar{}
	ctx := context.Background()

	// Both requests load before either writes.
	first, err := topics.Load(ctx, inst.KV("a@b.c", "device-1"), reg, domain.Categories(), logger)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	second, err := topics.Load(ctx, inst.KV("a@b.c", "device-1"), reg, domain.Categories(), logger)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := first.Toggle(ctx, domain.CategoryWork); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := second.Toggle(ctx, domain.CategoryWork); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	again, err := topics.Load(ctx, inst.KV("a@b.c", "device-1"), nopRegistrar{}, domain.Categories(), logger)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if again.Subscribed(domain.CategoryWork) {
		t.Fatal("expected two toggles to cancel out")
	}
	if len(reg.calls) != 2 || reg.calls[0] != "subscribe:Work" || reg.calls[1] != "unsubscribe:Work" {
		t.Fatalf("unexpected registrar calls %v", reg.calls)
	}
}
