package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"task-sync/domain"
)

const (
	topicMembersPrefix = "topic-members:"
	topicClockKey      = "topic-commands"
)

// applyTopicCommand applies a registration request unless a newer one for the
// same installation and topic was already applied. Timestamps are compared as
// zero padded strings so nanosecond precision survives Lua numbers.
var applyTopicCommand = redis.NewScript(`
local last = redis.call('HGET', KEYS[1], ARGV[1])
if last and ARGV[2] <= last then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
if ARGV[3] == 'subscribe' then
	redis.call('SADD', KEYS[2], ARGV[4])
else
	redis.call('SREM', KEYS[2], ARGV[4])
end
return 1
`)

// TopicMembers is the push backend's view of which installations follow
// which topics.
type TopicMembers struct {
	redis *redis.Client
}

// NewTopicMembers returns a TopicMembers stored in rc.
func NewTopicMembers(rc *redis.Client) *TopicMembers {
	return &TopicMembers{redis: rc}
}

// Apply records cmd. It reports false when cmd is older than the last
// request applied for the same installation and topic.
func (t *TopicMembers) Apply(ctx context.Context, cmd domain.TopicCommand) (bool, error) {
	switch cmd.Action {
	case domain.TopicSubscribe, domain.TopicUnsubscribe:
	default:
		return false, fmt.Errorf("unknown topic action %q", cmd.Action)
	}
	field := clockField(cmd.InstallationID, cmd.Topic)
	ts := fmt.Sprintf("%020d", cmd.Timestamp)
	res, err := applyTopicCommand.Run(ctx, t.redis,
		[]string{topicClockKey, topicMembersPrefix + cmd.Topic},
		field, ts, cmd.Action, cmd.InstallationID).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// clockField names the hash field holding the last applied timestamp. The
// installation id is length prefixed so ids and topics containing the
// separator cannot collide.
func clockField(installationID, topic string) string {
	return strconv.Itoa(len(installationID)) + ":" + installationID + "|" + topic
}

// Members lists the installations following topic.
func (t *TopicMembers) Members(ctx context.Context, topic string) ([]string, error) {
	return t.redis.SMembers(ctx, topicMembersPrefix+topic).Result()
}
