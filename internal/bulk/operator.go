// Package bulk applies one mutation to many task ids, collecting per-id
// failures instead of aborting.
package bulk

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"taskengine/pkg/domain"
)

// Mutator is the subset of the store the operator drives.
type Mutator interface {
	Patch(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error)
	Delete(ctx context.Context, id int64) (domain.Task, error)
}

// PatchResult reports a bulk patch.
type PatchResult struct {
	Updated []domain.Task `json:"updated"`
	Errors  []string      `json:"errors"`
}

// DeleteResult reports a bulk delete.
type DeleteResult struct {
	Deleted []domain.Task `json:"deleted"`
	Errors  []string      `json:"errors"`
}

// Operator runs bulk mutations. Every id is committed independently.
type Operator struct {
	store Mutator
}

// NewOperator wraps store.
func NewOperator(store Mutator) *Operator {
	return &Operator{store: store}
}

// BulkPatch applies patch to each id in the order given. Every id is attempted
// exactly once.
func (o *Operator) BulkPatch(ctx context.Context, ids []int64, patch domain.TaskPatch) PatchResult {
	res := PatchResult{Updated: []domain.Task{}, Errors: []string{}}
	for _, id := range ids {
		task, err := o.store.Patch(ctx, id, patch)
		if committed(err) {
			res.Updated = append(res.Updated, task)
		}
		if err != nil {
			res.Errors = append(res.Errors, Message(id, err))
		}
	}
	return res
}

// BulkDelete deletes ids from the highest down and reports the deleted tasks
// in ascending id order.
func (o *Operator) BulkDelete(ctx context.Context, ids []int64) DeleteResult {
	ordered := slices.Clone(ids)
	slices.SortFunc(ordered, func(a, b int64) int { return cmp.Compare(b, a) })

	res := DeleteResult{Deleted: []domain.Task{}, Errors: []string{}}
	for _, id := range ordered {
		task, err := o.store.Delete(ctx, id)
		if committed(err) {
			res.Deleted = append(res.Deleted, task)
		}
		if err != nil {
			res.Errors = append(res.Errors, Message(id, err))
		}
	}
	slices.Reverse(res.Deleted)
	return res
}

// committed reports whether the mutation took effect in memory. A
// persistence failure still leaves the change applied.
func committed(err error) bool {
	return err == nil || domain.IsPersistence(err)
}

// Message renders the per-id failure line.
func Message(id int64, err error) string {
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return nf.Error()
	}
	return fmt.Sprintf("Task with ID %d: %v", id, err)
}
