package domain

import (
	"reflect"
	"testing"
	"time"
)

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask(TaskInput{Title: "  Write report  "})
	if task.Title != "Write report" {
		t.Fatalf("expected trimmed title, got %q", task.Title)
	}
	if task.Status != StatusPending || task.Priority != PriorityMedium {
		t.Fatalf("unexpected defaults: %s/%s", task.Status, task.Priority)
	}
	if task.Tags == nil || len(task.Tags) != 0 {
		t.Fatalf("expected empty non-nil tags, got %#v", task.Tags)
	}
	if task.CompletedAt != nil || task.DueDate != nil {
		t.Fatalf("expected optional timestamps unset")
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" Work ", "", "work", "home", "HOME", "urgent"})
	want := []string{"Work", "home", "urgent"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestPriorityRank(t *testing.T) {
	prev := -1
	for _, p := range Priorities() {
		if p.Rank() <= prev {
			t.Fatalf("priority %s out of order", p)
		}
		prev = p.Rank()
	}
	if Priority("critical").Valid() {
		t.Fatalf("unknown priority must be invalid")
	}
}

func TestApplyStatusTransitionCouplesCompletedAt(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	task := NewTask(TaskInput{Title: "Task"})

	ApplyStatusTransition(&task, StatusCompleted, now)
	if task.CompletedAt == nil || !task.CompletedAt.Equal(now) {
		t.Fatalf("expected completedAt stamped, got %v", task.CompletedAt)
	}

	later := now.Add(time.Hour)
	ApplyStatusTransition(&task, StatusCompleted, later)
	if !task.CompletedAt.Equal(now) {
		t.Fatalf("re-completing must keep the original stamp")
	}

	ApplyStatusTransition(&task, StatusInProgress, later)
	if task.CompletedAt != nil {
		t.Fatalf("expected completedAt cleared")
	}
}

func TestCloneIsDeep(t *testing.T) {
	due := time.Now()
	task := Task{Title: "Task", DueDate: &due, Tags: []string{"a"}}
	clone := task.Clone()
	clone.Tags[0] = "b"
	*clone.DueDate = due.Add(time.Hour)
	if task.Tags[0] != "a" || !task.DueDate.Equal(due) {
		t.Fatalf("clone shares memory with original")
	}
}

func TestIsOverdue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	task := Task{Status: StatusPending, DueDate: &past}
	if !task.IsOverdue(now) {
		t.Fatalf("expected overdue")
	}
	task.Status = StatusCompleted
	if task.IsOverdue(now) {
		t.Fatalf("completed tasks are never overdue")
	}
	task.Status = StatusPending
	task.DueDate = nil
	if task.IsOverdue(now) {
		t.Fatalf("tasks without due date are never overdue")
	}
}
