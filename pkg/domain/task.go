// Package domain defines the task record, its value types, validation and
// the persistence contract shared by every storage backend.
package domain

import (
	"strings"
	"time"
)

// Status identifies where a task is in its workflow.
type Status string

// Supported task statuses.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Statuses lists every valid status in declaration order.
func Statuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusCompleted}
}

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

// Priority ranks how urgent a task is.
type Priority string

// Supported priorities, lowest first.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities lists every valid priority from lowest to highest rank.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
}

// Rank orders priorities low < medium < high < urgent. Unknown values rank -1.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return -1
	}
}

// Valid reports whether p is one of the enumerated priorities.
func (p Priority) Valid() bool { return p.Rank() >= 0 }

// Task is the record owned by the store.
type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	AssignedTo  string     `json:"assignedTo,omitempty"`
	Tags        []string   `json:"tags"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// IsOverdue reports whether the task has a due date before now and is not completed.
func (t Task) IsOverdue(now time.Time) bool {
	return t.DueDate != nil && t.DueDate.Before(now) && t.Status != StatusCompleted
}

// Clone returns a deep copy so callers never share pointers or slices with the store.
func (t Task) Clone() Task {
	out := t
	out.DueDate = cloneTime(t.DueDate)
	out.CompletedAt = cloneTime(t.CompletedAt)
	if t.Tags != nil {
		out.Tags = append(make([]string, 0, len(t.Tags)), t.Tags...)
	}
	return out
}

// CloneTasks deep-copies a task slice, preserving order.
func CloneTasks(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

// TaskInput carries the caller-supplied fields used by create and full update.
type TaskInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	AssignedTo  string     `json:"assignedTo,omitempty"`
	Tags        []string   `json:"tags"`
}

// NewTask builds an unsaved task from input, filling every optional field
// with its default. Identity and timestamps are left for the store.
func NewTask(in TaskInput) Task {
	t := Task{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		DueDate:     cloneTime(in.DueDate),
		AssignedTo:  strings.TrimSpace(in.AssignedTo),
		Tags:        NormalizeTags(in.Tags),
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	return t
}

// ApplyStatusTransition keeps CompletedAt coupled to the completed status:
// entering completed stamps now, leaving it clears the timestamp.
func ApplyStatusTransition(t *Task, next Status, now time.Time) {
	prev := t.Status
	t.Status = next
	switch {
	case next == StatusCompleted && (prev != StatusCompleted || t.CompletedAt == nil):
		stamp := now
		t.CompletedAt = &stamp
	case next != StatusCompleted:
		t.CompletedAt = nil
	}
}

// NormalizeTags trims tags, drops empties and removes case-insensitive
// duplicates, keeping the first spelling. The result is never nil.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
