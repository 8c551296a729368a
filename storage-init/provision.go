package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	log "github.com/sirupsen/logrus"
)

const queueAlreadyExists = "QueueAlreadyExists"

// resource is one storage object the service needs before it starts.
type resource struct {
	kind       string
	name       string
	existsCode string
	create     func(ctx context.Context) error
}

// provision creates every resource, treating an existing one as done.
func provision(ctx context.Context, resources []resource, logger log.FieldLogger) error {
	for _, r := range resources {
		entry := logger.WithFields(log.Fields{"kind": r.kind, "name": r.name})
		err := r.create(ctx)
		switch {
		case err == nil:
			entry.Info("created")
		case isAlreadyExists(err, r.existsCode):
			entry.Debug("already exists")
		default:
			return fmt.Errorf("create %s %s: %w", r.kind, r.name, err)
		}
	}
	return nil
}

func isAlreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
