package query

import (
	"cmp"
	"strings"
	"time"

	"taskengine/pkg/domain"
)

// SortField names a sortable task field.
type SortField string

// Sortable fields.
const (
	SortID          SortField = "id"
	SortTitle       SortField = "title"
	SortStatus      SortField = "status"
	SortPriority    SortField = "priority"
	SortAssignedTo  SortField = "assignedTo"
	SortDueDate     SortField = "dueDate"
	SortCreatedAt   SortField = "createdAt"
	SortUpdatedAt   SortField = "updatedAt"
	SortCompletedAt SortField = "completedAt"
)

type comparator func(a, b domain.Task) int

var epoch = time.Unix(0, 0).UTC()

func orEpoch(t *time.Time) time.Time {
	if t == nil {
		return epoch
	}
	return *t
}

var comparators = map[SortField]comparator{
	SortID:          func(a, b domain.Task) int { return cmp.Compare(a.ID, b.ID) },
	SortTitle:       func(a, b domain.Task) int { return strings.Compare(a.Title, b.Title) },
	SortStatus:      func(a, b domain.Task) int { return strings.Compare(string(a.Status), string(b.Status)) },
	SortPriority:    func(a, b domain.Task) int { return cmp.Compare(a.Priority.Rank(), b.Priority.Rank()) },
	SortAssignedTo:  func(a, b domain.Task) int { return strings.Compare(a.AssignedTo, b.AssignedTo) },
	SortDueDate:     func(a, b domain.Task) int { return orEpoch(a.DueDate).Compare(orEpoch(b.DueDate)) },
	SortCreatedAt:   func(a, b domain.Task) int { return a.CreatedAt.Compare(b.CreatedAt) },
	SortUpdatedAt:   func(a, b domain.Task) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
	SortCompletedAt: func(a, b domain.Task) int { return orEpoch(a.CompletedAt).Compare(orEpoch(b.CompletedAt)) },
}

// ParseSortField resolves a field name.
func ParseSortField(raw string) (SortField, bool) {
	field := SortField(strings.TrimSpace(raw))
	_, ok := comparators[field]
	return field, ok
}

// SortFields lists every sortable field.
func SortFields() []SortField {
	return []SortField{SortID, SortTitle, SortStatus, SortPriority, SortAssignedTo, SortDueDate, SortCreatedAt, SortUpdatedAt, SortCompletedAt}
}

// comparatorFor resolves the field once per query. Descending order negates
// the comparator, so equal keys keep their input order either way.
func comparatorFor(field SortField, order SortOrder) comparator {
	base, ok := comparators[field]
	if !ok {
		base = comparators[SortCreatedAt]
	}
	if order == Asc {
		return base
	}
	return func(a, b domain.Task) int { return -base(a, b) }
}
