package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Nullable distinguishes an omitted field from an explicit JSON null.
// Set is true whenever the key appeared; Null is true when its value was null.
type Nullable[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Some returns a Nullable holding v.
func Some[T any](v T) Nullable[T] { return Nullable[T]{Set: true, Value: v} }

// Null returns a Nullable that clears the field.
func Null[T any]() Nullable[T] { return Nullable[T]{Set: true, Null: true} }

// UnmarshalJSON implements json.Unmarshaler.
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Null = true
		var zero T
		n.Value = zero
		return nil
	}
	n.Null = false
	return json.Unmarshal(data, &n.Value)
}

// MarshalJSON implements json.Marshaler.
func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if !n.Set || n.Null {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// TaskPatch lists the mutable task fields a caller may change. Nil pointers
// and unset Nullables leave the current value untouched.
type TaskPatch struct {
	Title       *string             `json:"title,omitempty"`
	Description *string             `json:"description,omitempty"`
	Status      *Status             `json:"status,omitempty"`
	Priority    *Priority           `json:"priority,omitempty"`
	DueDate     Nullable[time.Time] `json:"dueDate"`
	AssignedTo  Nullable[string]    `json:"assignedTo"`
	Tags        *[]string           `json:"tags,omitempty"`
}

// Empty reports whether the patch carries no fields at all.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil &&
		!p.DueDate.Set && !p.AssignedTo.Set && p.Tags == nil
}

// DecodePatch parses a JSON object into a TaskPatch. Unknown keys, including
// the store-owned id and timestamp fields, are rejected.
func DecodePatch(data []byte) (TaskPatch, error) {
	var patch TaskPatch
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		return TaskPatch{}, fmt.Errorf("decode patch: %w", friendlyFieldError(err))
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return TaskPatch{}, errors.New("decode patch: trailing data after object")
	}
	return patch, nil
}

func friendlyFieldError(err error) error {
	const prefix = "json: unknown field "
	msg := err.Error()
	if strings.HasPrefix(msg, prefix) {
		return fmt.Errorf("field %s is not patchable", strings.TrimPrefix(msg, prefix))
	}
	return err
}

// Apply writes the supplied fields onto t. The status transition runs first
// so CompletedAt reflects the new status before any other assignment.
func (p TaskPatch) Apply(t *Task, now time.Time) {
	if p.Status != nil && *p.Status != t.Status {
		ApplyStatusTransition(t, *p.Status, now)
	}
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate.Set {
		if p.DueDate.Null {
			t.DueDate = nil
		} else {
			due := p.DueDate.Value
			t.DueDate = &due
		}
	}
	if p.AssignedTo.Set {
		t.AssignedTo = strings.TrimSpace(p.AssignedTo.Value)
	}
	if p.Tags != nil {
		t.Tags = NormalizeTags(*p.Tags)
	}
}
