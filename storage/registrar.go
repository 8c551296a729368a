package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"task-sync/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// TopicQueue carries topic registration requests from the API to the topic
// worker.
type TopicQueue struct {
	queue queueClient
}

// NewTopicQueue connects to the topic registration queue.
func NewTopicQueue(connStr, queueName string) (*TopicQueue, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &TopicQueue{queue: q}, nil
}

// Dequeue retrieves a single registration request, or nil when the queue is
// empty.
func (q *TopicQueue) Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := q.queue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

// Delete removes a handled request from the queue.
func (q *TopicQueue) Delete(ctx context.Context, id, receipt string) error {
	_, err := q.queue.DeleteMessage(ctx, id, receipt, nil)
	return err
}

// Registrar returns a registrar acting on behalf of one installation.
func (q *TopicQueue) Registrar(installationID string) *TopicRegistrar {
	return &TopicRegistrar{queue: q.queue, installationID: installationID}
}

// TopicRegistrar subscribes a single installation to push topics.
type TopicRegistrar struct {
	queue          queueClient
	installationID string
}

func (r *TopicRegistrar) SubscribeToTopic(ctx context.Context, topic string) error {
	return r.send(ctx, topic, domain.TopicSubscribe)
}

func (r *TopicRegistrar) UnsubscribeFromTopic(ctx context.Context, topic string) error {
	return r.send(ctx, topic, domain.TopicUnsubscribe)
}

func (r *TopicRegistrar) send(ctx context.Context, topic, action string) error {
	cmd := domain.TopicCommand{
		InstallationID: r.installationID,
		Topic:          topic,
		Action:         action,
		Timestamp:      time.Now().UnixNano(),
	}
	data, err := sonic.MarshalString(cmd)
	if err != nil {
		return err
	}
	_, err = r.queue.EnqueueMessage(ctx, data, nil)
	return err
}
