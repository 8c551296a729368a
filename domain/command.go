package domain

const (
	TopicSubscribe   = "subscribe"
	TopicUnsubscribe = "unsubscribe"
)

// TopicCommand asks the push backend to add or remove an installation from a
// notification topic.
type TopicCommand struct {
	InstallationID string `json:"installationId"`
	Topic          string `json:"topic"`
	Action         string `json:"action"`
	Timestamp      int64  `json:"timestamp"`
}
