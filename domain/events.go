package domain

import "time"

const (
	TaskCreated = "task-created"
	TaskDeleted = "task-deleted"
)

// ChangeEvent announces that an owner's task set changed. Subscribers react
// by re-reading the whole set, so the event only carries enough to route and
// log it.
type ChangeEvent struct {
	Type      string `json:"type"`
	EntityID  string `json:"entityId"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// NewChangeEvent stamps an event with the current time.
func NewChangeEvent(typ, owner, id string) ChangeEvent {
	return ChangeEvent{Type: typ, EntityID: id, UserID: owner, Timestamp: time.Now().UnixNano()}
}
