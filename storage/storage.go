package storage

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"task-sync/domain"
)

const tracerName = "task-sync/storage"

// tableClient is the subset of *aztables.Client used by Storage.
type tableClient interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// Storage is the remote task store: tasks live in a table partitioned by
// owner and every write is announced on the owner's change channel.
type Storage struct {
	taskTable     tableClient
	redis         *redis.Client
	channelPrefix string
	log           log.FieldLogger
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable string, rc *redis.Client, logger log.FieldLogger) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return newStorage(svc.NewClient(tasksTable), rc, logger), nil
}

func newStorage(tt tableClient, rc *redis.Client, logger log.FieldLogger) *Storage {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Storage{taskTable: tt, redis: rc, channelPrefix: "task-changes:", log: logger}
}

// Create stores a new task and returns the id assigned to it.
func (s *Storage) Create(ctx context.Context, ent domain.TaskEntity) (id string, err error) {
	ctx, span := startSpan(ctx, "storage.CreateTask", ent.PartitionKey)
	defer func() { endSpan(span, err) }()

	ent.RowKey = uuid.NewString()
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return "", err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("task.id", ent.RowKey))
	s.announce(ctx, domain.NewChangeEvent(domain.TaskCreated, ent.PartitionKey, ent.RowKey))
	return ent.RowKey, nil
}

// Delete removes a task. Deleting a task that does not exist is not an error.
func (s *Storage) Delete(ctx context.Context, owner, id string) (err error) {
	ctx, span := startSpan(ctx, "storage.DeleteTask", owner)
	span.SetAttributes(attribute.String("task.id", id))
	defer func() { endSpan(span, err) }()

	et := azcore.ETagAny
	if _, err := s.taskTable.DeleteEntity(ctx, owner, id, &aztables.DeleteEntityOptions{IfMatch: &et}); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound) {
			return err
		}
	}
	s.announce(ctx, domain.NewChangeEvent(domain.TaskDeleted, owner, id))
	return nil
}

// FetchTasks retrieves all tasks created by owner.
func (s *Storage) FetchTasks(ctx context.Context, owner string) (tasks []domain.TaskEntity, err error) {
	ctx, span := startSpan(ctx, "storage.FetchTasks", owner)
	defer func() { endSpan(span, err) }()

	filter := "PartitionKey eq '" + escapeFilterValue(owner) + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks = []domain.TaskEntity{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent domain.TaskEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, ent)
		}
	}
	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks, nil
}

func (s *Storage) changesChannel(owner string) string {
	return s.channelPrefix + owner
}

// announce publishes a change event. A failed publish only delays what
// subscribers see, so it is logged rather than returned.
func (s *Storage) announce(ctx context.Context, ev domain.ChangeEvent) {
	if s.redis == nil {
		return
	}
	payload, err := sonic.MarshalString(ev)
	if err != nil {
		s.log.WithError(err).Error("marshal change event")
		return
	}
	if err := s.redis.Publish(ctx, s.changesChannel(ev.UserID), payload).Err(); err != nil {
		s.log.WithError(err).WithFields(log.Fields{"owner": ev.UserID, "task": ev.EntityID}).Error("unable to publish task change")
	}
}

func escapeFilterValue(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

func startSpan(ctx context.Context, name, owner string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("task.owner", owner)),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
