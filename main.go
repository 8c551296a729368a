package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"task-sync/api"
	"task-sync/domain"
	"task-sync/ocr"
	"task-sync/storage"
	"task-sync/topics"
)

// installations hands out the per device topic store and registrar.
type installations struct {
	owners *storage.Installations
	queue  *storage.TopicQueue
}

func (i installations) Claim(ctx context.Context, owner, installationID string) (bool, error) {
	return i.owners.Claim(ctx, owner, installationID)
}

func (i installations) KV(owner, installationID string) topics.KV {
	return i.owners.KV(owner, installationID)
}

func (i installations) Registrar(installationID string) topics.Registrar {
	return i.queue.Registrar(installationID)
}

func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func main() {
	debug, _ := strconv.ParseBool(os.Getenv("DEBUG"))
	if debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTableName := os.Getenv("TASKS_TABLE")
	topicQueueName := os.Getenv("TOPIC_QUEUE")
	if connStr == "" || tasksTableName == "" || topicQueueName == "" {
		log.Fatal("missing storage config")
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(redisOptions(redisConn))

	store, err := storage.New(connStr, tasksTableName, rc, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	queue, err := storage.NewTopicQueue(connStr, topicQueueName)
	if err != nil {
		log.Fatalf("topic queue: %v", err)
	}

	ttl := 24 * time.Hour
	if v := os.Getenv("DEDUPER_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid DEDUPER_TTL: %v", err)
		}
		ttl = d
	}

	deps := api.Deps{
		Tasks:      store,
		Topics:     installations{owners: storage.NewInstallations(rc), queue: queue},
		Deduper:    api.NewRedisDeduper(rc, ttl),
		Categories: domain.Categories(),
	}
	if endpoint := os.Getenv("OCR_ENDPOINT"); endpoint != "" {
		extractor, err := ocr.NewClient(endpoint, &ocr.Options{APIKey: os.Getenv("OCR_API_KEY")})
		if err != nil {
			log.Fatalf("ocr: %v", err)
		}
		deps.Extractor = extractor
	} else {
		log.Warn("OCR_ENDPOINT not set; text extraction disabled")
	}

	if os.Getenv("AUTH0_TEST_MODE") == "1" {
		deps.Auth = api.NewAuth(nil, "", "")
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		authDomain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || authDomain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", authDomain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		deps.Auth = api.NewAuth(jwks, jwtAudience, "https://"+authDomain+"/")
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Installation-Id", "Idempotency-Key"},
	}))

	api.Register(e, deps, logger)
	if debug {
		pprof.Register(e)
	}

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("TASK_SYNC_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
