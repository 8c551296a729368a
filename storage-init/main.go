package main

import (
	"context"
	"os"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTable := os.Getenv("TASKS_TABLE")
	topicQueue := os.Getenv("TOPIC_QUEUE")
	if connStr == "" || tasksTable == "" || topicQueue == "" {
		log.Fatal("missing storage config")
	}

	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		log.Fatalf("tables: %v", err)
	}
	table := svc.NewClient(tasksTable)
	queue, err := azqueue.NewQueueClientFromConnectionString(connStr, topicQueue, nil)
	if err != nil {
		log.Fatalf("queue: %v", err)
	}

	resources := []resource{
		{
			kind:       "table",
			name:       tasksTable,
			existsCode: string(aztables.TableAlreadyExists),
			create: func(ctx context.Context) error {
				_, err := table.CreateTable(ctx, nil)
				return err
			},
		},
		{
			kind:       "queue",
			name:       topicQueue,
			existsCode: queueAlreadyExists,
			create: func(ctx context.Context) error {
				_, err := queue.Create(ctx, nil)
				return err
			},
		},
	}
	if err := provision(context.Background(), resources, log.StandardLogger()); err != nil {
		log.Fatalf("provision: %v", err)
	}
	log.Info("storage init complete")
}
