package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"task-sync/testtoken"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func main() {
	streamURL := getenv("STREAM_URL", "http://localhost:8080/api/tasks/stream")
	conns := getenvInt("SSE_CONNECTIONS", 200)
	owners := getenvInt("SSE_OWNERS", 20)
	duration := time.Duration(getenvInt("DURATION_SEC", 120)) * time.Second

	// Connections are spread over several owners so every live query
	// partition gets exercised.
	tokens := make([]string, owners)
	for i := range tokens {
		tok, err := testtoken.FromEnv(fmt.Sprintf("load-%d@example.com", i))
		if err != nil {
			log.Fatalf("token: %v", err)
		}
		tokens[i] = tok
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var st stats
	client := &http.Client{}
	var wg sync.WaitGroup
	for i := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.hold(ctx, client, streamURL, tokens[i%len(tokens)])
		}()
	}

	go func() {
		select {
		case <-time.After(60 * time.Second):
			if st.events.Load() == 0 {
				log.Error("no events received in 60s")
				os.Exit(1)
			}
		case <-ctx.Done():
		}
	}()

	wg.Wait()
	log.WithFields(log.Fields{
		"connections":         conns,
		"owners":              owners,
		"duration_sec":        int(duration.Seconds()),
		"events_received":     st.events.Load(),
		"connection_failures": st.failures.Load(),
	}).Info("sse load finished")
	if st.events.Load() == 0 || st.failureRate() > 0.01 {
		os.Exit(1)
	}
}
