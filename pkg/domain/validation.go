package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Field bounds enforced by Validate.
const (
	TitleMinLength       = 3
	TitleMaxLength       = 100
	DescriptionMaxLength = 500
)

// Validation messages, exported so callers and tests can match them.
const (
	MsgTitleLength       = "Title must be between 3 and 100 characters"
	MsgDescriptionLength = "Description must not exceed 500 characters"
	MsgStatusInvalid     = "Status must be one of: pending, in-progress, completed"
	MsgPriorityInvalid   = "Priority must be one of: low, medium, high, urgent"
	MsgDueDatePast       = "Due date must not be in the past"
)

// Validate returns every rule t violates, in a fixed order: title, description,
// status, priority, due date. The due-date rule is evaluated against now and
// skipped when now is the zero time.
func Validate(t Task, now time.Time) []string {
	var errs []string
	titleLen := utf8.RuneCountInString(strings.TrimSpace(t.Title))
	if titleLen < TitleMinLength || titleLen > TitleMaxLength {
		errs = append(errs, MsgTitleLength)
	}
	if utf8.RuneCountInString(t.Description) > DescriptionMaxLength {
		errs = append(errs, MsgDescriptionLength)
	}
	if !t.Status.Valid() {
		errs = append(errs, MsgStatusInvalid)
	}
	if !t.Priority.Valid() {
		errs = append(errs, MsgPriorityInvalid)
	}
	if !now.IsZero() && t.DueDate != nil && t.DueDate.Before(now) {
		errs = append(errs, MsgDueDatePast)
	}
	return errs
}
