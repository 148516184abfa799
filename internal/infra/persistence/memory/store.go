// Package memory provides the authoritative in-memory task store. Every
// mutation is committed against a cloned state and flushed through an
// optional domain.Persister before the call returns.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taskengine/pkg/domain"
)

type (
	// Task aliases domain.Task for store operations.
	Task = domain.Task
	// TaskInput aliases domain.TaskInput.
	TaskInput = domain.TaskInput
	// TaskPatch aliases domain.TaskPatch.
	TaskPatch = domain.TaskPatch
	// Snapshot aliases domain.Snapshot, the durable store shape.
	Snapshot = domain.Snapshot
)

type memoryState struct {
	records []Task
	index   map[int64]int
	nextID  int64
}

func newMemoryState() memoryState {
	return memoryState{records: []Task{}, index: map[int64]int{}, nextID: 1}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		records: domain.CloneTasks(s.records),
		index:   make(map[int64]int, len(s.index)),
		nextID:  s.nextID,
	}
	for id, pos := range s.index {
		out.index[id] = pos
	}
	return out
}

func (s *memoryState) reindex() {
	s.index = make(map[int64]int, len(s.records))
	for i, rec := range s.records {
		s.index[rec.ID] = i
	}
}

func memoryStateFromSnapshot(snapshot Snapshot) memoryState {
	state := memoryState{records: make([]Task, 0, len(snapshot.Records)), nextID: snapshot.NextID}
	var maxID int64
	for _, rec := range snapshot.Records {
		rec = rec.Clone()
		if rec.Tags == nil {
			rec.Tags = []string{}
		}
		if rec.ID > maxID {
			maxID = rec.ID
		}
		state.records = append(state.records, rec)
	}
	if state.nextID <= maxID {
		state.nextID = maxID + 1
	}
	if state.nextID < 1 {
		state.nextID = 1
	}
	state.reindex()
	return state
}

// Option configures a Store.
type Option func(*Store)

// WithPersister sets the durable backend flushed after every mutation.
func WithPersister(p domain.Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithClock overrides the time source used for timestamps and validation.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// Store owns the ordered task collection and the id counter. The same lock
// guards the state and the flush, so durable writes land in issue order.
type Store struct {
	mu          sync.RWMutex
	state       memoryState
	persister   domain.Persister
	nowFn       func() time.Time
	lastUpdated time.Time
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state: newMemoryState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load hydrates the store from its persister. Without a persister it is a no-op.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	snapshot, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

// ExportState returns a deep copy of the current durable state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exportLocked()
}

func (s *Store) exportLocked() Snapshot {
	return Snapshot{
		Records:     domain.CloneTasks(s.state.records),
		NextID:      s.state.nextID,
		LastUpdated: s.lastUpdated,
	}
}

// ImportState replaces the store contents. The id counter never moves
// behind the highest stored id.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
	s.lastUpdated = snapshot.LastUpdated
}

// NowFunc exposes the store clock.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// Len returns the number of stored tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.records)
}

// Snapshot returns a deep copy of every task in insertion order.
func (s *Store) Snapshot() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneTasks(s.state.records)
}

// GetByID returns the task with id, or false when absent.
func (s *Store) GetByID(id int64) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.state.index[id]
	if !ok {
		return Task{}, false
	}
	return s.state.records[pos].Clone(), true
}

type transaction struct {
	state memoryState
	now   time.Time
}

// runInTransaction applies fn to a cloned state, swaps it in on success and
// flushes. A flush failure keeps the in-memory commit and is reported as a
// *domain.PersistenceError alongside the committed task.
func (s *Store) runInTransaction(ctx context.Context, op string, fn func(tx *transaction) (Task, error)) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{state: s.state.clone(), now: s.nowFn()}
	task, err := fn(tx)
	if err != nil {
		return Task{}, err
	}

	s.state = tx.state
	s.lastUpdated = tx.now
	if s.persister == nil {
		return task.Clone(), nil
	}
	if err := s.persister.Save(ctx, s.exportLocked()); err != nil {
		return task.Clone(), &domain.PersistenceError{Op: op, Cause: err}
	}
	return task.Clone(), nil
}

// Create validates input, assigns the next id and appends the task. Rejected
// creates leave the id counter untouched.
func (s *Store) Create(ctx context.Context, in TaskInput) (Task, error) {
	return s.runInTransaction(ctx, "create", func(tx *transaction) (Task, error) {
		candidate := domain.NewTask(in)
		candidate.ID = tx.state.nextID
		candidate.CreatedAt = tx.now
		candidate.UpdatedAt = tx.now
		if candidate.Status == domain.StatusCompleted {
			stamp := tx.now
			candidate.CompletedAt = &stamp
		}
		if errs := domain.Validate(candidate, tx.now); len(errs) > 0 {
			return Task{}, &domain.ValidationError{Errors: errs}
		}
		tx.state.records = append(tx.state.records, candidate)
		tx.state.index[candidate.ID] = len(tx.state.records) - 1
		tx.state.nextID++
		return candidate, nil
	})
}

// Update replaces every mutable field, keeping id and createdAt.
func (s *Store) Update(ctx context.Context, id int64, in TaskInput) (Task, error) {
	return s.runInTransaction(ctx, "update", func(tx *transaction) (Task, error) {
		pos, ok := tx.state.index[id]
		if !ok {
			return Task{}, &domain.NotFoundError{ID: id}
		}
		existing := tx.state.records[pos]
		candidate := domain.NewTask(in)
		next := candidate.Status
		candidate.ID = existing.ID
		candidate.CreatedAt = existing.CreatedAt
		candidate.Status = existing.Status
		candidate.CompletedAt = existing.CompletedAt
		domain.ApplyStatusTransition(&candidate, next, tx.now)
		return tx.commit(pos, existing, candidate)
	})
}

// Patch applies only the supplied fields on top of the stored task.
func (s *Store) Patch(ctx context.Context, id int64, patch TaskPatch) (Task, error) {
	return s.runInTransaction(ctx, "patch", func(tx *transaction) (Task, error) {
		pos, ok := tx.state.index[id]
		if !ok {
			return Task{}, &domain.NotFoundError{ID: id}
		}
		existing := tx.state.records[pos]
		candidate := existing.Clone()
		patch.Apply(&candidate, tx.now)
		return tx.commit(pos, existing, candidate)
	})
}

func (tx *transaction) commit(pos int, existing, candidate Task) (Task, error) {
	candidate.UpdatedAt = tx.now
	if candidate.UpdatedAt.Before(candidate.CreatedAt) {
		candidate.UpdatedAt = candidate.CreatedAt
	}
	var dueCheck time.Time
	if dueDateChanged(existing.DueDate, candidate.DueDate) {
		dueCheck = tx.now
	}
	if errs := domain.Validate(candidate, dueCheck); len(errs) > 0 {
		return Task{}, &domain.ValidationError{Errors: errs}
	}
	tx.state.records[pos] = candidate
	return candidate, nil
}

// Delete removes the task with id and returns it.
func (s *Store) Delete(ctx context.Context, id int64) (Task, error) {
	return s.runInTransaction(ctx, "delete", func(tx *transaction) (Task, error) {
		pos, ok := tx.state.index[id]
		if !ok {
			return Task{}, &domain.NotFoundError{ID: id}
		}
		removed := tx.state.records[pos]
		tx.state.records = append(tx.state.records[:pos], tx.state.records[pos+1:]...)
		tx.state.reindex()
		return removed, nil
	})
}

func dueDateChanged(prev, next *time.Time) bool {
	switch {
	case next == nil:
		return false
	case prev == nil:
		return true
	default:
		return !prev.Equal(*next)
	}
}
