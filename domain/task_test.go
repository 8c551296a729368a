package domain

import (
	"errors"
	"testing"
	"time"
)

func TestValidateTaskName(t *testing.T) {
	for _, name := range []string{"", " ", "\t\n "} {
		err := ValidateTaskName(name)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected validation error for %q, got %v", name, err)
		}
		if verr.Message != "Task name cannot be empty." {
			t.Fatalf("unexpected message %q", verr.Message)
		}
	}
	if err := ValidateTaskName("Buy milk"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("Shopping")
	if err != nil || c != CategoryShopping {
		t.Fatalf("expected Shopping, got %q %v", c, err)
	}
	if _, err := ParseCategory("shopping"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestCategoriesReturnsCopy(t *testing.T) {
	cats := Categories()
	cats[0] = "Hacked"
	if Categories()[0] != CategoryWork {
		t.Fatal("categories list was mutated through a returned slice")
	}
}

func TestTaskEntityRoundTrip(t *testing.T) {
	due := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	reminder := time.Date(2024, 1, 4, 9, 30, 0, 0, time.UTC)
	task := Task{ID: "t1", Name: "Buy milk", Category: CategoryShopping, DueDate: due, ReminderDate: reminder, CreatedBy: "a@b.c"}

	ent := NewTaskEntity(task)
	if ent.PartitionKey != "a@b.c" || ent.RowKey != "t1" {
		t.Fatalf("unexpected keys %+v", ent.Entity)
	}
	if ent.DueDateType != EdmDateTime || ent.ReminderDateType != EdmDateTime {
		t.Fatalf("expected odata types on dates, got %+v", ent)
	}
	got, err := ent.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got.ID != task.ID || got.Name != task.Name || got.Category != task.Category || got.CreatedBy != task.CreatedBy {
		t.Fatalf("expected %+v, got %+v", task, got)
	}
	if !got.DueDate.Equal(due) || !got.ReminderDate.Equal(reminder) {
		t.Fatalf("unexpected dates %v %v", got.DueDate, got.ReminderDate)
	}
}

func TestNormalizeParsesTableTicks(t *testing.T) {
	ent := TaskEntity{Entity: Entity{RowKey: "t1"}, DueDate: "2024-01-05T00:00:00.0000000Z"}
	got, err := ent.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !got.DueDate.Equal(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected due date %v", got.DueDate)
	}
	if !got.ReminderDate.IsZero() {
		t.Fatalf("expected zero reminder date, got %v", got.ReminderDate)
	}
}

func TestNormalizeKeepsTaskOnBadDate(t *testing.T) {
	ent := TaskEntity{Entity: Entity{RowKey: "t1"}, Name: "x", DueDate: "tomorrow"}
	got, err := ent.Normalize()
	if err == nil {
		t.Fatal("expected parse error")
	}
	if got.ID != "t1" || got.Name != "x" || !got.DueDate.IsZero() {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestEdmDateTimeUsesTablePrecision(t *testing.T) {
	ts := time.Date(2024, 1, 5, 9, 30, 0, 123456789, time.UTC)
	v := FormatEdmDateTime(ts)
	if v != "2024-01-05T09:30:00.1234567Z" {
		t.Fatalf("unexpected Edm.DateTime %q", v)
	}
	got, err := ParseEdmDateTime(v)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Equal(ts.Truncate(100 * time.Nanosecond)) {
		t.Fatalf("expected %v, got %v", ts.Truncate(100*time.Nanosecond), got)
	}
}

func TestFormatEdmDateTimeConvertsToUTC(t *testing.T) {
	ts := time.Date(2024, 1, 5, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	if v := FormatEdmDateTime(ts); v != "2024-01-05T09:30:00Z" {
		t.Fatalf("unexpected Edm.DateTime %q", v)
	}
	if v := FormatEdmDateTime(time.Time{}); v != "" {
		t.Fatalf("expected empty value for zero time, got %q", v)
	}
}
