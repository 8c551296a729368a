package api

import (
	"context"

	"task-sync/composer"
	"task-sync/domain"
	"task-sync/subscription"
	"task-sync/topics"
)

// TaskStore is the remote task store as seen by the handlers.
type TaskStore interface {
	subscription.Store
	composer.Store
	FetchTasks(ctx context.Context, owner string) ([]domain.TaskEntity, error)
}

// TopicBackend hands out per installation persistence and registration.
// Claim binds an installation to the first owner that addresses it and
// reports whether owner may use it.
type TopicBackend interface {
	Claim(ctx context.Context, owner, installationID string) (bool, error)
	KV(owner, installationID string) topics.KV
	Registrar(installationID string) topics.Registrar
}

// Authenticator is implemented by types able to extract emails from headers.
type Authenticator interface {
	EmailFromAuthHeader(string) (string, error)
}

// Deps are the collaborators the HTTP surface is built on. Extractor may be
// nil when no text recognition endpoint is configured, Deduper when create
// requests are not deduplicated.
type Deps struct {
	Tasks      TaskStore
	Topics     TopicBackend
	Extractor  composer.TextExtractor
	Deduper    Deduper
	Auth       Authenticator
	Categories []domain.Category
}
