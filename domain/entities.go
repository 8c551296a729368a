package domain

import (
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

const EdmDateTime = "Edm.DateTime"

// TaskEntity is a task as stored in the tasks table. The partition key is the
// owner and the row key is the task id. Dates keep the table's native
// Edm.DateTime string form until Normalize converts them.
type TaskEntity struct {
	Entity
	Name             string `json:"Name"`
	Description      string `json:"Description"`
	Category         string `json:"Category"`
	DueDate          string `json:"DueDate"`
	DueDateType      string `json:"DueDate@odata.type"`
	ReminderDate     string `json:"ReminderDate"`
	ReminderDateType string `json:"ReminderDate@odata.type"`
	CreatedBy        string `json:"CreatedBy"`
}

// NewTaskEntity converts a composed task into its table form.
func NewTaskEntity(t Task) TaskEntity {
	return TaskEntity{
		Entity:           Entity{PartitionKey: t.CreatedBy, RowKey: t.ID},
		Name:             t.Name,
		Description:      t.Description,
		Category:         string(t.Category),
		DueDate:          FormatEdmDateTime(t.DueDate),
		DueDateType:      EdmDateTime,
		ReminderDate:     FormatEdmDateTime(t.ReminderDate),
		ReminderDateType: EdmDateTime,
		CreatedBy:        t.CreatedBy,
	}
}

// Normalize converts the stored document into a Task. Dates that fail to
// parse come back as the zero time together with an error describing them;
// the rest of the task is still populated.
func (e TaskEntity) Normalize() (Task, error) {
	t := Task{
		ID:          e.RowKey,
		Name:        e.Name,
		Description: e.Description,
		Category:    Category(e.Category),
		CreatedBy:   e.CreatedBy,
	}
	var firstErr error
	due, err := ParseEdmDateTime(e.DueDate)
	if err != nil {
		firstErr = fmt.Errorf("task %s due date: %w", e.RowKey, err)
	}
	t.DueDate = due
	reminder, err := ParseEdmDateTime(e.ReminderDate)
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("task %s reminder date: %w", e.RowKey, err)
	}
	t.ReminderDate = reminder
	return t, firstErr
}

// FormatEdmDateTime renders t the way the table service stores an
// Edm.DateTime value: UTC with 100ns precision.
func FormatEdmDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	b, _ := aztables.EDMDateTime(t.UTC()).MarshalText()
	return string(b)
}

// ParseEdmDateTime parses an Edm.DateTime value. An empty string is the zero
// time.
func ParseEdmDateTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	var ts aztables.EDMDateTime
	if err := ts.UnmarshalText([]byte(v)); err != nil {
		return time.Time{}, err
	}
	return time.Time(ts).UTC(), nil
}
