package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"task-sync/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("topic worker starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	topicQueue := os.Getenv("TOPIC_QUEUE")
	if connStr == "" || topicQueue == "" {
		log.Fatal("missing storage config")
	}
	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(redisConn)
	if err != nil {
		redisOpts = &redis.Options{Addr: redisConn}
	}

	queue, err := storage.NewTopicQueue(connStr, topicQueue)
	if err != nil {
		log.Fatalf("queue: %v", err)
	}
	members := storage.NewTopicMembers(redis.NewClient(redisOpts))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idle := time.Second
	if v := os.Getenv("TOPIC_WORKER_IDLE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid TOPIC_WORKER_IDLE: %v", err)
		}
		idle = d
	}

	w := &worker{queue: queue, members: members, log: log.StandardLogger(), idle: idle}
	w.run(ctx)
	log.Info("topic worker stopped")
}
