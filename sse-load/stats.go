package main

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const maxBackoff = 5 * time.Second

type stats struct {
	events   atomic.Uint64
	attempts atomic.Uint64
	failures atomic.Uint64
}

func (s *stats) failureRate() float64 {
	attempts := s.attempts.Load()
	if attempts == 0 {
		return 0
	}
	return float64(s.failures.Load()) / float64(attempts)
}

// hold keeps one stream open until ctx is done, reconnecting with backoff.
func (s *stats) hold(ctx context.Context, client *http.Client, url, bearer string) {
	backoff := time.Second
	for ctx.Err() == nil {
		s.attempts.Add(1)
		err := s.consume(ctx, client, url, bearer)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			backoff = time.Second
		}
		s.failures.Add(1)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

type statusError int

func (e statusError) Error() string { return "unexpected status " + http.StatusText(int(e)) }

// consume reads one connection until it ends, counting data events. A nil
// error means the server closed a healthy stream.
func (s *stats) consume(ctx context.Context, client *http.Client, url, bearer string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode)
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data:") {
			s.events.Add(1)
		}
	}
	return scanner.Err()
}
