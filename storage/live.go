package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"task-sync/domain"
)

var errLiveUpdatesDisabled = errors.New("live updates not configured")

// Subscribe opens a live query over owner's tasks. onChange receives the full
// result set once the subscription is established and again after every
// change notification. Calls to onChange never overlap.
//
// The returned func releases the live query. It blocks until the delivery
// goroutine has exited, so it must not be called from inside onChange.
func (s *Storage) Subscribe(ctx context.Context, owner string, onChange func([]domain.TaskEntity)) (func(), error) {
	if s.redis == nil {
		return nil, errLiveUpdatesDisabled
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := s.redis.Subscribe(ctx, s.changesChannel(owner))
	// wait for the subscription so nothing published after the initial
	// snapshot is missed
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		_ = sub.Close()
		return nil, err
	}
	ch := sub.Channel()
	logger := s.log.WithField("owner", owner)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.deliver(ctx, logger, owner, onChange)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					logger.Warn("task change channel closed")
					return
				}
				var ev domain.ChangeEvent
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
					logger.WithError(err).Warn("unable to parse task change")
				} else {
					logger.WithFields(log.Fields{"type": ev.Type, "task": ev.EntityID}).Debug("task change received")
				}
				s.deliver(ctx, logger, owner, onChange)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if err := sub.Close(); err != nil {
				logger.WithError(err).Debug("close task subscription")
			}
			<-done
		})
	}, nil
}

func (s *Storage) deliver(ctx context.Context, logger log.FieldLogger, owner string, onChange func([]domain.TaskEntity)) {
	tasks, err := s.FetchTasks(ctx, owner)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		logger.WithError(err).Error("fetch tasks")
		return
	}
	onChange(tasks)
}
