package composer

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"task-sync/domain"
)

// DueDateRaisedWarning is shown when a reminder pushes the due date forward.
const DueDateRaisedWarning = "Due date updated to match reminder date."

// Store persists new tasks.
type Store interface {
	Create(ctx context.Context, ent domain.TaskEntity) (string, error)
}

// TextExtractor recognizes text in an image.
type TextExtractor interface {
	Extract(ctx context.Context, image []byte) ([]domain.TextBlock, error)
}

// Draft is a snapshot of the form state.
type Draft struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Category       domain.Category `json:"category"`
	DueDate        time.Time       `json:"dueDate"`
	ReminderDate   time.Time       `json:"reminderDate"`
	NameError      string          `json:"nameError,omitempty"`
	DueDateWarning string          `json:"dueDateWarning,omitempty"`
}

// Composer holds the state of a new task form and submits it. A Composer is
// not safe for concurrent use.
type Composer struct {
	store      Store
	identity   domain.IdentityProvider
	categories []domain.Category
	log        log.FieldLogger

	draft Draft
}

// New returns a Composer with both dates set to now and the first category
// selected.
func New(store Store, identity domain.IdentityProvider, categories []domain.Category, logger log.FieldLogger) *Composer {
	return newComposer(store, identity, categories, logger, time.Now)
}

func newComposer(store Store, identity domain.IdentityProvider, categories []domain.Category, logger log.FieldLogger, now func() time.Time) *Composer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	c := &Composer{
		store:      store,
		identity:   identity,
		categories: slices.Clone(categories),
		log:        logger,
	}
	ts := now()
	c.draft.DueDate = ts
	c.draft.ReminderDate = ts
	if len(c.categories) > 0 {
		c.draft.Category = c.categories[0]
	}
	return c
}

// Draft returns the current form state.
func (c *Composer) Draft() Draft { return c.draft }

func (c *Composer) SetName(name string) { c.draft.Name = name }

func (c *Composer) SetDescription(description string) { c.draft.Description = description }

// SetCategory selects one of the configured categories.
func (c *Composer) SetCategory(category domain.Category) error {
	if !slices.Contains(c.categories, category) {
		return domain.ErrUnknownCategory
	}
	c.draft.Category = category
	return nil
}

// SetDueDate sets the due date as given. It never looks at the reminder
// date and clears any pending warning.
func (c *Composer) SetDueDate(t time.Time) {
	c.draft.DueDate = t
	c.draft.DueDateWarning = ""
}

// SetReminderDate sets the reminder date. A reminder after the due date
// drags the due date along and raises a warning.
func (c *Composer) SetReminderDate(t time.Time) {
	c.draft.ReminderDate = t
	if t.After(c.draft.DueDate) {
		c.draft.DueDate = t
		c.draft.DueDateWarning = DueDateRaisedWarning
	}
}

// Submit validates the form and writes the task to the store. The new task
// is not added to any local list; it shows up through the live
// subscription.
func (c *Composer) Submit(ctx context.Context) (string, error) {
	if err := domain.ValidateTaskName(c.draft.Name); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			c.draft.NameError = verr.Message
		}
		return "", err
	}
	c.draft.NameError = ""
	c.draft.DueDateWarning = ""

	ident := c.identity.CurrentIdentity()
	if ident == nil {
		c.log.Error("No user logged in; task not created")
		return "", domain.ErrNoIdentity
	}

	task := domain.Task{
		Name:         c.draft.Name,
		Description:  c.draft.Description,
		Category:     c.draft.Category,
		DueDate:      c.draft.DueDate,
		ReminderDate: c.draft.ReminderDate,
		CreatedBy:    ident.Email,
	}
	id, err := c.store.Create(ctx, domain.NewTaskEntity(task))
	if err != nil {
		c.log.WithError(err).WithField("owner", ident.Email).Error("create task")
		return "", err
	}
	c.log.WithFields(log.Fields{"owner": ident.Email, "task": id}).Debug("task created")
	return id, nil
}

// PrefillDescription replaces the description with the text found in image.
// On any failure, cancellation included, the description is left as it was
// and false is returned.
func (c *Composer) PrefillDescription(ctx context.Context, extractor TextExtractor, image []byte) bool {
	blocks, err := extractor.Extract(ctx, image)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		c.log.WithError(err).Warn("text extraction failed")
		return false
	}
	c.draft.Description = JoinBlocks(blocks)
	return true
}

// JoinBlocks joins recognized text blocks one per line.
func JoinBlocks(blocks []domain.TextBlock) string {
	lines := make([]string, 0, len(blocks))
	for _, b := range blocks {
		lines = append(lines, b.Text)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
