// Package analytics derives summary metrics from a task snapshot on demand.
package analytics

import (
	"cmp"
	"math"
	"slices"
	"time"

	"taskengine/pkg/domain"
)

// DefaultTopN bounds TopAssignees.
const DefaultTopN = 5

const day = 24 * time.Hour

// AssigneeCount is one entry of the assignee leaderboard.
type AssigneeCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Report is the analytics snapshot.
type Report struct {
	Total                 int                     `json:"total"`
	ByStatus              map[domain.Status]int   `json:"byStatus"`
	ByPriority            map[domain.Priority]int `json:"byPriority"`
	Overdue               int                     `json:"overdue"`
	CompletedLast7Days    int                     `json:"completedLast7Days"`
	CompletedLast30Days   int                     `json:"completedLast30Days"`
	AverageCompletionDays int                     `json:"averageCompletionTime"`
	TopAssignees          []AssigneeCount         `json:"topAssignees"`
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithClock overrides the reference time for overdue and recency counts.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTopN changes how many assignees are reported. Non-positive values are ignored.
func WithTopN(n int) Option {
	return func(r *Reporter) {
		if n > 0 {
			r.topN = n
		}
	}
}

// Reporter computes reports. It keeps no state between calls.
type Reporter struct {
	now  func() time.Time
	topN int
}

// NewReporter constructs a Reporter.
func NewReporter(opts ...Option) *Reporter {
	r := &Reporter{now: func() time.Time { return time.Now().UTC() }, topN: DefaultTopN}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report walks snapshot once.
func (r *Reporter) Report(snapshot []domain.Task) Report {
	now := r.now()
	weekAgo := now.Add(-7 * day)
	monthAgo := now.Add(-30 * day)

	rep := Report{
		Total:        len(snapshot),
		ByStatus:     make(map[domain.Status]int, len(domain.Statuses())),
		ByPriority:   make(map[domain.Priority]int, len(domain.Priorities())),
		TopAssignees: []AssigneeCount{},
	}
	for _, s := range domain.Statuses() {
		rep.ByStatus[s] = 0
	}
	for _, p := range domain.Priorities() {
		rep.ByPriority[p] = 0
	}

	var (
		completed int
		totalDays float64
		counts    = map[string]int{}
		order     []string
	)
	for _, task := range snapshot {
		rep.ByStatus[task.Status]++
		rep.ByPriority[task.Priority]++
		if task.IsOverdue(now) {
			rep.Overdue++
		}
		if task.Status == domain.StatusCompleted && task.CompletedAt != nil {
			completed++
			totalDays += daysBetween(task.CreatedAt, *task.CompletedAt)
			if !task.CompletedAt.Before(weekAgo) {
				rep.CompletedLast7Days++
			}
			if !task.CompletedAt.Before(monthAgo) {
				rep.CompletedLast30Days++
			}
		}
		if task.AssignedTo != "" {
			if _, seen := counts[task.AssignedTo]; !seen {
				order = append(order, task.AssignedTo)
			}
			counts[task.AssignedTo]++
		}
	}
	if completed > 0 {
		rep.AverageCompletionDays = int(math.Round(totalDays / float64(completed)))
	}
	rep.TopAssignees = topAssignees(order, counts, r.topN)
	return rep
}

// daysBetween works in float seconds; time.Duration saturates past ~292 years.
func daysBetween(from, to time.Time) float64 {
	secs := float64(to.Unix()-from.Unix()) + float64(to.Nanosecond()-from.Nanosecond())/1e9
	return secs / (24 * 60 * 60)
}

// topAssignees ranks by count; equal counts keep first-encountered order.
func topAssignees(order []string, counts map[string]int, n int) []AssigneeCount {
	ranked := make([]AssigneeCount, 0, len(order))
	for _, name := range order {
		ranked = append(ranked, AssigneeCount{Name: name, Count: counts[name]})
	}
	slices.SortStableFunc(ranked, func(a, b AssigneeCount) int { return cmp.Compare(b.Count, a.Count) })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
