package analytics

import (
	"reflect"
	"testing"
	"time"

	"taskengine/pkg/domain"
)

var now = time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)

func reporter(opts ...Option) *Reporter {
	return NewReporter(append([]Option{WithClock(func() time.Time { return now })}, opts...)...)
}

func completedTask(id int64, created time.Time, took time.Duration) domain.Task {
	done := created.Add(took)
	return domain.Task{
		ID:          id,
		Title:       "Done task",
		Status:      domain.StatusCompleted,
		Priority:    domain.PriorityMedium,
		CreatedAt:   created,
		UpdatedAt:   done,
		CompletedAt: &done,
	}
}

func openTask(id int64, mutate func(*domain.Task)) domain.Task {
	t := domain.Task{ID: id, Title: "Open task", Status: domain.StatusPending, Priority: domain.PriorityLow, CreatedAt: now.Add(-time.Hour)}
	if mutate != nil {
		mutate(&t)
	}
	return t
}

func TestAverageCompletionTimeRoundsToDays(t *testing.T) {
	created := now.Add(-60 * day)
	snapshot := []domain.Task{
		completedTask(1, created, 2*day),
		completedTask(2, created, 4*day),
		completedTask(3, created, 6*day),
	}
	for id := int64(4); id <= 10; id++ {
		snapshot = append(snapshot, openTask(id, nil))
	}
	rep := reporter().Report(snapshot)
	if rep.AverageCompletionDays != 4 {
		t.Fatalf("expected 4 days, got %d", rep.AverageCompletionDays)
	}
	if rep.Total != 10 || rep.ByStatus[domain.StatusCompleted] != 3 || rep.ByStatus[domain.StatusPending] != 7 {
		t.Fatalf("unexpected counts %+v", rep)
	}

	rounding := []domain.Task{completedTask(1, created, 36*time.Hour), completedTask(2, created, 36*time.Hour)}
	if got := reporter().Report(rounding).AverageCompletionDays; got != 2 {
		t.Fatalf("1.5 days should round to 2, got %d", got)
	}
}

func TestAverageCompletionTimeSurvivesCenturies(t *testing.T) {
	created := now.AddDate(-200, 0, 0)
	done := now
	snapshot := make([]domain.Task, 2)
	for i := range snapshot {
		snapshot[i] = domain.Task{ID: int64(i + 1), Title: "Ancient task", Status: domain.StatusCompleted, Priority: domain.PriorityLow, CreatedAt: created, UpdatedAt: done, CompletedAt: &done}
	}
	// 200 years from 1826-06-30 span 49 leap days.
	if got := reporter().Report(snapshot).AverageCompletionDays; got != 200*365+49 {
		t.Fatalf("expected 73049 days, got %d", got)
	}
}

func TestEmptySnapshotHasEveryKey(t *testing.T) {
	rep := reporter().Report(nil)
	if rep.AverageCompletionDays != 0 || rep.Total != 0 || len(rep.TopAssignees) != 0 || rep.TopAssignees == nil {
		t.Fatalf("unexpected empty report %+v", rep)
	}
	for _, s := range domain.Statuses() {
		if v, ok := rep.ByStatus[s]; !ok || v != 0 {
			t.Fatalf("missing status key %q", s)
		}
	}
	for _, p := range domain.Priorities() {
		if v, ok := rep.ByPriority[p]; !ok || v != 0 {
			t.Fatalf("missing priority key %q", p)
		}
	}
}

func TestRecentCompletionWindows(t *testing.T) {
	// Completed 1, 10, 40 and exactly 7 days ago.
	snapshot := []domain.Task{
		completedTask(1, now.Add(-3*day), 2*day),
		completedTask(2, now.Add(-20*day), 10*day),
		completedTask(3, now.Add(-50*day), 10*day),
		completedTask(4, now.Add(-7*day), 0),
		openTask(5, func(t *domain.Task) { t.Priority = domain.PriorityUrgent }),
	}
	rep := reporter().Report(snapshot)
	if rep.CompletedLast7Days != 2 {
		t.Fatalf("expected 2 in last 7 days, got %d", rep.CompletedLast7Days)
	}
	if rep.CompletedLast30Days != 3 {
		t.Fatalf("expected 3 in last 30 days, got %d", rep.CompletedLast30Days)
	}
	if rep.ByPriority[domain.PriorityUrgent] != 1 || rep.ByPriority[domain.PriorityMedium] != 4 {
		t.Fatalf("unexpected priorities %+v", rep.ByPriority)
	}
}

func TestOverdueIgnoresCompleted(t *testing.T) {
	past := now.Add(-day)
	late := completedTask(2, now.Add(-5*day), day)
	late.DueDate = &past
	snapshot := []domain.Task{
		openTask(1, func(t *domain.Task) { t.DueDate = &past }),
		late,
		openTask(3, nil),
	}
	if got := reporter().Report(snapshot).Overdue; got != 1 {
		t.Fatalf("expected 1 overdue, got %d", got)
	}
}

func TestTopAssigneesTiesKeepFirstSeen(t *testing.T) {
	names := []string{"", "zoe", "amy", "bob", "amy", "cat", "dan", "eve", "bob", "", "fay"}
	var snapshot []domain.Task
	for i, name := range names {
		snapshot = append(snapshot, openTask(int64(i+1), func(t *domain.Task) { t.AssignedTo = name }))
	}
	rep := reporter().Report(snapshot)
	want := []AssigneeCount{{"amy", 2}, {"bob", 2}, {"zoe", 1}, {"cat", 1}, {"dan", 1}}
	if !reflect.DeepEqual(rep.TopAssignees, want) {
		t.Fatalf("expected %v, got %v", want, rep.TopAssignees)
	}

	rep = reporter(WithTopN(1)).Report(snapshot)
	if len(rep.TopAssignees) != 1 || rep.TopAssignees[0].Name != "amy" {
		t.Fatalf("expected only amy, got %v", rep.TopAssignees)
	}
}
