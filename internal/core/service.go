// Package core wires the task store, query engine, bulk operator and
// analytics reporter behind a single service with logging, metrics, tracing
// and audit hooks.
package core

import (
	"context"
	"time"

	"taskengine/internal/analytics"
	"taskengine/internal/bulk"
	"taskengine/internal/infra/persistence/memory"
	"taskengine/internal/query"
	"taskengine/pkg/domain"
)

// Operation names used for logs, metrics, spans and audit entries.
const (
	opCreate     = "create_task"
	opGet        = "get_task"
	opUpdate     = "update_task"
	opPatch      = "patch_task"
	opDelete     = "delete_task"
	opList       = "list_tasks"
	opBulkPatch  = "bulk_patch_tasks"
	opBulkDelete = "bulk_delete_tasks"
	opReport     = "report"
)

// Service exposes task operations over a single store.
type Service struct {
	store    *memory.Store
	engine   *query.Engine
	bulk     *bulk.Operator
	reporter *analytics.Reporter

	now     func() time.Time
	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
}

// NewService constructs a service backed by the supplied store.
func NewService(store *memory.Store, opts ...Option) *Service {
	return newService(store, collectOptions(opts))
}

// NewInMemoryService creates a service with a fresh, unpersisted store.
func NewInMemoryService(opts ...Option) *Service {
	o := collectOptions(opts)
	var storeOpts []memory.Option
	if o.clock != nil {
		storeOpts = append(storeOpts, memory.WithClock(o.clock.Now))
	}
	return newService(memory.NewStore(storeOpts...), o)
}

func newService(store *memory.Store, o serviceOptions) *Service {
	now := selectNowFunc(store, o.clock)
	return &Service{
		store:    store,
		engine:   query.NewEngine(query.WithClock(now)),
		bulk:     bulk.NewOperator(store),
		reporter: analytics.NewReporter(analytics.WithClock(now)),
		now:      now,
		logger:   o.logger,
		audit:    o.audit,
		metrics:  o.metrics,
		tracer:   o.tracer,
	}
}

// Store returns the underlying store.
func (s *Service) Store() *memory.Store {
	return s.store
}

// run wraps fn with a span, metrics, logging and audit. fn reports the task
// ids it touched.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) ([]int64, error)) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	ids, err := fn(ctx)
	elapsed := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	s.recordAudit(ctx, op, ids, err, elapsed)

	switch {
	case err == nil:
		s.logger.Debug("task operation completed", "operation", op, "duration", elapsed)
	case domain.IsPersistence(err):
		s.logger.Error("task operation applied but not persisted", "operation", op, "error", err)
	default:
		s.logger.Warn("task operation failed", "operation", op, "error", err)
	}
	return err
}

// CreateTask validates and stores a new task. A *domain.PersistenceError is
// returned alongside the created task when the flush fails.
func (s *Service) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	var created domain.Task
	err := s.run(ctx, opCreate, func(ctx context.Context) ([]int64, error) {
		var err error
		created, err = s.store.Create(ctx, in)
		return touched(created), err
	})
	return created, err
}

// GetTask returns the task with id or a *domain.NotFoundError.
func (s *Service) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	var task domain.Task
	err := s.run(ctx, opGet, func(ctx context.Context) ([]int64, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var ok bool
		if task, ok = s.store.GetByID(id); !ok {
			return nil, &domain.NotFoundError{ID: id}
		}
		return []int64{id}, nil
	})
	return task, err
}

// UpdateTask replaces every mutable field of the task with id.
func (s *Service) UpdateTask(ctx context.Context, id int64, in domain.TaskInput) (domain.Task, error) {
	var updated domain.Task
	err := s.run(ctx, opUpdate, func(ctx context.Context) ([]int64, error) {
		var err error
		updated, err = s.store.Update(ctx, id, in)
		return []int64{id}, err
	})
	return updated, err
}

// PatchTask applies the supplied fields to the task with id.
func (s *Service) PatchTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error) {
	var updated domain.Task
	err := s.run(ctx, opPatch, func(ctx context.Context) ([]int64, error) {
		var err error
		updated, err = s.store.Patch(ctx, id, patch)
		return []int64{id}, err
	})
	return updated, err
}

// DeleteTask removes the task with id and returns it.
func (s *Service) DeleteTask(ctx context.Context, id int64) (domain.Task, error) {
	var removed domain.Task
	err := s.run(ctx, opDelete, func(ctx context.Context) ([]int64, error) {
		var err error
		removed, err = s.store.Delete(ctx, id)
		return []int64{id}, err
	})
	return removed, err
}

// ListTasks runs a query against the current snapshot.
func (s *Service) ListTasks(ctx context.Context, opts query.Options) (query.Result, error) {
	var res query.Result
	err := s.run(ctx, opList, func(ctx context.Context) ([]int64, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res = s.engine.Query(s.store.Snapshot(), opts)
		return nil, nil
	})
	return res, err
}

// BulkPatch patches each id independently. Per-id failures are reported in
// the result, never as an error.
func (s *Service) BulkPatch(ctx context.Context, ids []int64, patch domain.TaskPatch) bulk.PatchResult {
	var res bulk.PatchResult
	_ = s.run(ctx, opBulkPatch, func(ctx context.Context) ([]int64, error) {
		res = s.bulk.BulkPatch(ctx, ids, patch)
		s.logBulkFailures(opBulkPatch, res.Errors)
		return ids, nil
	})
	return res
}

// BulkDelete deletes each id independently.
func (s *Service) BulkDelete(ctx context.Context, ids []int64) bulk.DeleteResult {
	var res bulk.DeleteResult
	_ = s.run(ctx, opBulkDelete, func(ctx context.Context) ([]int64, error) {
		res = s.bulk.BulkDelete(ctx, ids)
		s.logBulkFailures(opBulkDelete, res.Errors)
		return ids, nil
	})
	return res
}

func (s *Service) logBulkFailures(op string, errs []string) {
	if len(errs) > 0 {
		s.logger.Warn("bulk operation partially failed", "operation", op, "failures", len(errs))
	}
}

// Report computes analytics over the current snapshot.
func (s *Service) Report(ctx context.Context) (analytics.Report, error) {
	var rep analytics.Report
	err := s.run(ctx, opReport, func(ctx context.Context) ([]int64, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rep = s.reporter.Report(s.store.Snapshot())
		return nil, nil
	})
	return rep, err
}

// Snapshot returns a copy of every task in insertion order.
func (s *Service) Snapshot() []domain.Task {
	return s.store.Snapshot()
}

func touched(t domain.Task) []int64 {
	if t.ID == 0 {
		return nil
	}
	return []int64{t.ID}
}
