package domain

import (
	"strings"
	"time"
)

// Category groups tasks and doubles as a push-notification topic name.
type Category string

const (
	CategoryWork     Category = "Work"
	CategorySchool   Category = "School"
	CategoryPersonal Category = "Personal"
	CategoryShopping Category = "Shopping"
)

var defaultCategories = [...]Category{CategoryWork, CategorySchool, CategoryPersonal, CategoryShopping}

// Categories returns the known categories in display order. The slice is a
// fresh copy on every call.
func Categories() []Category {
	out := make([]Category, len(defaultCategories))
	copy(out, defaultCategories[:])
	return out
}

// ParseCategory maps a name onto one of the known categories.
func ParseCategory(name string) (Category, error) {
	for _, c := range defaultCategories {
		if string(c) == name {
			return c, nil
		}
	}
	return "", ErrUnknownCategory
}

// Task represents a single task as seen by the client.
type Task struct {
	ID           string    `json:"id,omitempty"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Category     Category  `json:"category"`
	DueDate      time.Time `json:"dueDate"`
	ReminderDate time.Time `json:"reminderDate"`
	CreatedBy    string    `json:"created_by"`
}

// Identity is the signed in user.
type Identity struct {
	Email string
}

// IdentityProvider reports the signed in user, or nil when nobody is.
type IdentityProvider interface {
	CurrentIdentity() *Identity
}

// EmptyNameMessage is shown next to the name field when it is blank.
const EmptyNameMessage = "Task name cannot be empty."

// ValidateTaskName returns a field error for blank or whitespace-only names.
func ValidateTaskName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Message: EmptyNameMessage}
	}
	return nil
}

// TextBlock is one region of text recognized in an image.
type TextBlock struct {
	Text string `json:"text"`
}
