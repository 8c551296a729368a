package main

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"task-sync/domain"
)

// maxDequeueCount is how many times a failing request is retried before it
// is dropped.
const maxDequeueCount = 5

type commandQueue interface {
	Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error)
	Delete(ctx context.Context, id, receipt string) error
}

type membership interface {
	Apply(ctx context.Context, cmd domain.TopicCommand) (bool, error)
}

type worker struct {
	queue   commandQueue
	members membership
	log     log.FieldLogger
	idle    time.Duration
}

func (w *worker) run(ctx context.Context) {
	for ctx.Err() == nil {
		handled, err := w.poll(ctx)
		if err != nil {
			w.log.WithError(err).Error("receive")
		}
		if err != nil || !handled {
			select {
			case <-ctx.Done():
			case <-time.After(w.idle):
			}
		}
	}
}

// poll handles at most one message and reports whether one was found.
func (w *worker) poll(ctx context.Context) (bool, error) {
	msg, err := w.queue.Dequeue(ctx)
	if err != nil || msg == nil {
		return false, err
	}
	if msg.MessageID == nil || msg.PopReceipt == nil {
		return true, nil
	}

	logger := w.log.WithField("message", *msg.MessageID)
	err = processMessage(ctx, w.members, msg, logger)
	if err != nil {
		if msg.DequeueCount == nil || *msg.DequeueCount < maxDequeueCount {
			// Left on the queue; it becomes visible again after the timeout.
			logger.WithError(err).Warn("topic command failed; will retry")
			return true, nil
		}
		logger.WithError(err).Error("topic command failed; dropping")
	}
	if err := w.queue.Delete(ctx, *msg.MessageID, *msg.PopReceipt); err != nil {
		logger.WithError(err).Error("delete message")
	}
	return true, nil
}

// processMessage applies one registration request. Malformed requests are
// logged and reported as handled so they are removed from the queue.
func processMessage(ctx context.Context, members membership, msg *azqueue.DequeuedMessage, logger log.FieldLogger) error {
	if msg.MessageText == nil {
		logger.Warn("empty topic command")
		return nil
	}
	var cmd domain.TopicCommand
	if err := sonic.UnmarshalString(*msg.MessageText, &cmd); err != nil {
		logger.WithError(err).Warn("unreadable topic command")
		return nil
	}
	if cmd.InstallationID == "" || cmd.Topic == "" {
		logger.WithField("command", cmd).Warn("incomplete topic command")
		return nil
	}
	if cmd.Action != domain.TopicSubscribe && cmd.Action != domain.TopicUnsubscribe {
		logger.WithField("action", cmd.Action).Warn("unknown topic action")
		return nil
	}

	entry := logger.WithFields(log.Fields{"installation": cmd.InstallationID, "topic": cmd.Topic, "action": cmd.Action})
	applied, err := members.Apply(ctx, cmd)
	if err != nil {
		return err
	}
	if !applied {
		entry.Debug("stale topic command ignored")
		return nil
	}
	entry.Info("topic membership updated")
	return nil
}
