package query

import (
	"slices"
	"strings"
	"time"

	"taskengine/pkg/domain"
)

// Pagination describes the returned page.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// Stats are computed over the unfiltered snapshot, except Filtered.
type Stats struct {
	Total    int                   `json:"total"`
	Filtered int                   `json:"filtered"`
	ByStatus map[domain.Status]int `json:"byStatus"`
	Overdue  int                   `json:"overdue"`
}

// Result is one page of tasks plus pagination and statistics.
type Result struct {
	Tasks      []domain.Task `json:"tasks"`
	Pagination Pagination    `json:"pagination"`
	Stats      Stats         `json:"stats"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for the overdue filter and stats.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine evaluates queries against snapshots. It holds no task state.
type Engine struct {
	now func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type predicate func(domain.Task) bool

// Query filters, sorts and paginates snapshot. The snapshot is not mutated;
// returned tasks are copies.
func (e *Engine) Query(snapshot []domain.Task, opts Options) Result {
	opts = opts.normalized()
	now := e.now()

	filtered := make([]domain.Task, 0, len(snapshot))
	preds := predicates(opts, now)
	for _, task := range snapshot {
		if matchesAll(task, preds) {
			filtered = append(filtered, task)
		}
	}
	slices.SortStableFunc(filtered, comparatorFor(opts.SortBy, opts.SortOrder))

	total := len(filtered)
	totalPages := (total + opts.Limit - 1) / opts.Limit
	start := total
	if opts.Page-1 < totalPages {
		start = (opts.Page - 1) * opts.Limit
	}
	end := min(start+opts.Limit, total)

	return Result{
		Tasks: domain.CloneTasks(filtered[start:end]),
		Pagination: Pagination{
			Page:       opts.Page,
			Limit:      opts.Limit,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    opts.Page < totalPages,
			HasPrev:    opts.Page > 1,
		},
		Stats: stats(snapshot, total, now),
	}
}

func matchesAll(task domain.Task, preds []predicate) bool {
	for _, p := range preds {
		if !p(task) {
			return false
		}
	}
	return true
}

// predicates builds the active filters in evaluation order.
func predicates(opts Options, now time.Time) []predicate {
	var preds []predicate
	if opts.Status != "" {
		preds = append(preds, func(t domain.Task) bool { return t.Status == opts.Status })
	}
	if opts.Priority != "" {
		preds = append(preds, func(t domain.Task) bool { return t.Priority == opts.Priority })
	}
	if opts.AssignedTo != "" {
		preds = append(preds, func(t domain.Task) bool { return t.AssignedTo == opts.AssignedTo })
	}
	if opts.Search != "" {
		needle := strings.ToLower(opts.Search)
		preds = append(preds, func(t domain.Task) bool {
			return strings.Contains(strings.ToLower(t.Title), needle) ||
				strings.Contains(strings.ToLower(t.Description), needle) ||
				strings.Contains(strings.ToLower(t.AssignedTo), needle)
		})
	}
	if len(opts.Tags) > 0 {
		wanted := make(map[string]struct{}, len(opts.Tags))
		for _, tag := range opts.Tags {
			wanted[strings.ToLower(tag)] = struct{}{}
		}
		preds = append(preds, func(t domain.Task) bool {
			for _, tag := range t.Tags {
				if _, ok := wanted[strings.ToLower(tag)]; ok {
					return true
				}
			}
			return false
		})
	}
	if opts.Overdue {
		preds = append(preds, func(t domain.Task) bool { return t.IsOverdue(now) })
	}
	if opts.DueDateFrom != nil {
		from := *opts.DueDateFrom
		preds = append(preds, func(t domain.Task) bool { return t.DueDate != nil && !t.DueDate.Before(from) })
	}
	if opts.DueDateTo != nil {
		to := *opts.DueDateTo
		preds = append(preds, func(t domain.Task) bool { return t.DueDate != nil && !t.DueDate.After(to) })
	}
	return preds
}

func stats(snapshot []domain.Task, filtered int, now time.Time) Stats {
	s := Stats{Total: len(snapshot), Filtered: filtered, ByStatus: make(map[domain.Status]int, 3)}
	for _, status := range domain.Statuses() {
		s.ByStatus[status] = 0
	}
	for _, task := range snapshot {
		s.ByStatus[task.Status]++
		if task.IsOverdue(now) {
			s.Overdue++
		}
	}
	return s
}
