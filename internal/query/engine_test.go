package query

import (
	"fmt"
	"math"
	"net/url"
	"reflect"
	"strconv"
	"testing"
	"time"

	"taskengine/pkg/domain"
)

var base = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func fixedEngine() *Engine {
	return NewEngine(WithClock(func() time.Time { return base.Add(10 * 24 * time.Hour) }))
}

func ptr(t time.Time) *time.Time { return &t }

func task(id int64, mutate func(*domain.Task)) domain.Task {
	t := domain.Task{
		ID:        id,
		Title:     fmt.Sprintf("Task %d", id),
		Status:    domain.StatusPending,
		Priority:  domain.PriorityMedium,
		Tags:      []string{},
		CreatedAt: base.Add(time.Duration(id) * time.Hour),
		UpdatedAt: base.Add(time.Duration(id) * time.Hour),
	}
	if mutate != nil {
		mutate(&t)
	}
	return t
}

func ids(tasks []domain.Task) []int64 {
	out := make([]int64, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestPrioritySortUsesRank(t *testing.T) {
	snapshot := []domain.Task{
		task(1, func(t *domain.Task) { t.Priority = domain.PriorityLow }),
		task(2, func(t *domain.Task) { t.Priority = domain.PriorityUrgent }),
	}
	res := fixedEngine().Query(snapshot, ParseOptions(MapParams{"sortBy": "priority", "sortOrder": "desc"}))
	if got := ids(res.Tasks); !reflect.DeepEqual(got, []int64{2, 1}) {
		t.Fatalf("expected urgent first, got %v", got)
	}
	res = fixedEngine().Query(snapshot, ParseOptions(MapParams{"sortBy": "priority", "sortOrder": "asc"}))
	if got := ids(res.Tasks); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Fatalf("expected low first, got %v", got)
	}
}

func TestPaginationThirdPage(t *testing.T) {
	snapshot := make([]domain.Task, 0, 25)
	for i := int64(1); i <= 25; i++ {
		snapshot = append(snapshot, task(i, nil))
	}
	res := fixedEngine().Query(snapshot, ParseOptions(MapParams{"page": "3"}))
	if len(res.Tasks) != 5 {
		t.Fatalf("expected 5 tasks, got %d", len(res.Tasks))
	}
	want := Pagination{Page: 3, Limit: 10, Total: 25, TotalPages: 3, HasNext: false, HasPrev: true}
	if res.Pagination != want {
		t.Fatalf("expected %+v, got %+v", want, res.Pagination)
	}
	// Default order is createdAt desc, so the last page holds the oldest tasks.
	if got := ids(res.Tasks); !reflect.DeepEqual(got, []int64{5, 4, 3, 2, 1}) {
		t.Fatalf("unexpected page contents %v", got)
	}
}

func TestPagesConcatenateToFilteredSet(t *testing.T) {
	var snapshot []domain.Task
	for i := int64(1); i <= 37; i++ {
		snapshot = append(snapshot, task(i, func(t *domain.Task) {
			if i%3 == 0 {
				t.Status = domain.StatusInProgress
			}
			t.Priority = domain.Priorities()[i%4]
		}))
	}
	engine := fixedEngine()
	opts := DefaultOptions()
	opts.Status = domain.StatusPending
	opts.Limit = 7
	opts.SortBy = SortPriority
	first := engine.Query(snapshot, opts)

	seen := map[int64]bool{}
	var all []int64
	for page := 1; page <= first.Pagination.TotalPages; page++ {
		opts.Page = page
		for _, id := range ids(engine.Query(snapshot, opts).Tasks) {
			if seen[id] {
				t.Fatalf("duplicate id %d across pages", id)
			}
			seen[id] = true
			all = append(all, id)
		}
	}
	if len(all) != first.Pagination.Total || first.Stats.Filtered != first.Pagination.Total {
		t.Fatalf("pages cover %d tasks, filtered total %d", len(all), first.Pagination.Total)
	}
	opts.Limit = MaxLimit
	opts.Page = 1
	if whole := ids(engine.Query(snapshot, opts).Tasks); !reflect.DeepEqual(whole, all) {
		t.Fatalf("paged order differs from single page:\n%v\n%v", whole, all)
	}
}

func TestFiltersAreANDCombined(t *testing.T) {
	snapshot := []domain.Task{
		task(1, func(t *domain.Task) { t.Priority = domain.PriorityHigh }),
		task(2, func(t *domain.Task) { t.Status = domain.StatusInProgress; t.Priority = domain.PriorityHigh }),
		task(3, func(t *domain.Task) { t.Priority = domain.PriorityLow }),
		task(4, func(t *domain.Task) { t.Priority = domain.PriorityHigh }),
	}
	res := fixedEngine().Query(snapshot, ParseOptions(MapParams{"status": "pending", "priority": "high"}))
	for _, got := range res.Tasks {
		if got.Status != domain.StatusPending || got.Priority != domain.PriorityHigh {
			t.Fatalf("filter leak: %+v", got)
		}
	}
	if got := ids(res.Tasks); !reflect.DeepEqual(got, []int64{4, 1}) {
		t.Fatalf("unexpected matches %v", got)
	}
}

func TestSearchTagsAndAssigneeFilters(t *testing.T) {
	snapshot := []domain.Task{
		task(1, func(t *domain.Task) { t.Title = "Fix LOGIN bug"; t.Tags = []string{"Backend"} }),
		task(2, func(t *domain.Task) { t.Description = "login page copy"; t.Tags = []string{"frontend"} }),
		task(3, func(t *domain.Task) { t.AssignedTo = "login-team"; t.Tags = []string{"ops"} }),
		task(4, func(t *domain.Task) { t.Title = "Unrelated"; t.AssignedTo = "ana"; t.Tags = []string{"backend"} }),
	}
	engine := fixedEngine()
	asc := func(p MapParams) []int64 {
		p["sortOrder"] = "asc"
		return ids(engine.Query(snapshot, ParseOptions(p)).Tasks)
	}
	if got := asc(MapParams{"search": "Login"}); !reflect.DeepEqual(got, []int64{1, 2, 3}) {
		t.Fatalf("search: %v", got)
	}
	if got := asc(MapParams{"tags": "BACKEND, ops ,"}); !reflect.DeepEqual(got, []int64{1, 3, 4}) {
		t.Fatalf("tags: %v", got)
	}
	if got := asc(MapParams{"assignedTo": "ana"}); !reflect.DeepEqual(got, []int64{4}) {
		t.Fatalf("assignedTo: %v", got)
	}
	if got := asc(MapParams{"search": "login", "tags": "backend"}); !reflect.DeepEqual(got, []int64{1}) {
		t.Fatalf("search+tags: %v", got)
	}
}

func TestOverdueAndDueDateBounds(t *testing.T) {
	now := base.Add(10 * 24 * time.Hour)
	snapshot := []domain.Task{
		task(1, func(t *domain.Task) { t.DueDate = ptr(now.Add(-time.Hour)) }),
		task(2, func(t *domain.Task) {
			t.DueDate = ptr(now.Add(-time.Hour))
			t.Status = domain.StatusCompleted
			t.CompletedAt = ptr(now)
		}),
		task(3, func(t *domain.Task) { t.DueDate = ptr(now.Add(48 * time.Hour)) }),
		task(4, nil),
	}
	engine := fixedEngine()
	res := engine.Query(snapshot, ParseOptions(MapParams{"overdue": "true"}))
	if got := ids(res.Tasks); !reflect.DeepEqual(got, []int64{1}) {
		t.Fatalf("overdue: %v", got)
	}
	if res.Stats.Overdue != 1 || res.Stats.Total != 4 || res.Stats.Filtered != 1 {
		t.Fatalf("unexpected stats %+v", res.Stats)
	}
	if res.Stats.ByStatus[domain.StatusPending] != 3 || res.Stats.ByStatus[domain.StatusInProgress] != 0 {
		t.Fatalf("byStatus must cover the unfiltered snapshot: %+v", res.Stats.ByStatus)
	}

	params := url.Values{}
	params.Set("dueDateFrom", now.Add(-time.Hour).Format(time.RFC3339))
	params.Set("dueDateTo", now.Add(48*time.Hour).Format(time.DateOnly))
	params.Set("sortOrder", "asc")
	if got := ids(engine.Query(snapshot, ParseOptions(params)).Tasks); !reflect.DeepEqual(got, []int64{1, 2, 3}) {
		t.Fatalf("due bounds (inclusive, no-due excluded): %v", got)
	}
}

func TestSortStabilityAndNilDates(t *testing.T) {
	snapshot := []domain.Task{
		task(1, func(t *domain.Task) { t.Status = domain.StatusCompleted; t.CompletedAt = ptr(base) }),
		task(2, nil),
		task(3, nil),
		task(4, func(t *domain.Task) { t.Status = domain.StatusCompleted; t.CompletedAt = ptr(base.Add(time.Hour)) }),
		task(5, nil),
	}
	engine := fixedEngine()
	opts := ParseOptions(MapParams{"sortBy": "completedAt", "sortOrder": "asc"})
	first := ids(engine.Query(snapshot, opts).Tasks)
	if !reflect.DeepEqual(first, []int64{2, 3, 5, 1, 4}) {
		t.Fatalf("nil dates must sort as epoch keeping insertion order: %v", first)
	}
	if again := ids(engine.Query(snapshot, opts).Tasks); !reflect.DeepEqual(first, again) {
		t.Fatalf("sort not reproducible: %v vs %v", first, again)
	}
	desc := ids(engine.Query(snapshot, ParseOptions(MapParams{"sortBy": "completedAt"})).Tasks)
	if !reflect.DeepEqual(desc, []int64{4, 1, 2, 3, 5}) {
		t.Fatalf("desc must keep ties in insertion order: %v", desc)
	}
}

func TestQueryDoesNotMutateSnapshot(t *testing.T) {
	snapshot := []domain.Task{task(1, func(t *domain.Task) { t.Tags = []string{"a"} }), task(2, nil)}
	before := domain.CloneTasks(snapshot)
	res := fixedEngine().Query(snapshot, ParseOptions(MapParams{"sortOrder": "asc"}))
	res.Tasks[0].Tags[0] = "mutated"
	if !reflect.DeepEqual(before, snapshot) {
		t.Fatalf("snapshot mutated")
	}
}

func TestParseOptionsIsLenient(t *testing.T) {
	opts := ParseOptions(MapParams{
		"page":        "-2",
		"limit":       "500",
		"sortBy":      "bogus",
		"sortOrder":   "sideways",
		"overdue":     "maybe",
		"dueDateFrom": "yesterday",
	})
	want := DefaultOptions()
	if !reflect.DeepEqual(opts, want) {
		t.Fatalf("expected defaults, got %+v", opts)
	}
	opts = ParseOptions(MapParams{"page": "abc", "limit": "0"})
	if opts.Page != DefaultPage || opts.Limit != DefaultLimit {
		t.Fatalf("expected defaults for non-numeric input, got %+v", opts)
	}
	opts = ParseOptions(MapParams{"page": "4", "limit": "100", "sortBy": "dueDate", "sortOrder": "ASC"})
	if opts.Page != 4 || opts.Limit != 100 || opts.SortBy != SortDueDate || opts.SortOrder != Asc {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestEmptyResultPagination(t *testing.T) {
	res := fixedEngine().Query(nil, DefaultOptions())
	if len(res.Tasks) != 0 || res.Pagination.TotalPages != 0 || res.Pagination.HasNext || res.Pagination.HasPrev {
		t.Fatalf("unexpected empty result %+v", res.Pagination)
	}
	res = fixedEngine().Query([]domain.Task{task(1, nil)}, Options{Page: 9})
	if len(res.Tasks) != 0 || !res.Pagination.HasPrev || res.Pagination.Limit != DefaultLimit {
		t.Fatalf("page past the end should be empty: %+v", res.Pagination)
	}
}

func TestPaginationAtIntegerBoundaries(t *testing.T) {
	snapshot := make([]domain.Task, 25)
	for i := range snapshot {
		snapshot[i] = task(int64(i+1), nil)
	}
	engine := fixedEngine()

	opts := ParseOptions(MapParams{"page": strconv.Itoa(math.MaxInt)})
	if opts.Page != math.MaxInt {
		t.Fatalf("expected max page kept, got %d", opts.Page)
	}
	res := engine.Query(snapshot, opts)
	want := Pagination{Page: math.MaxInt, Limit: DefaultLimit, Total: 25, TotalPages: 3, HasNext: false, HasPrev: true}
	if len(res.Tasks) != 0 || res.Pagination != want {
		t.Fatalf("expected empty last-page result, got %d tasks %+v", len(res.Tasks), res.Pagination)
	}
	res = engine.Query(snapshot, Options{Page: math.MaxInt, Limit: MaxLimit})
	if len(res.Tasks) != 0 || res.Pagination.Total != 25 || res.Pagination.TotalPages != 1 {
		t.Fatalf("unexpected max-limit result %+v", res.Pagination)
	}

	if opts := ParseOptions(MapParams{"page": "9223372036854775808"}); opts.Page != DefaultPage {
		t.Fatalf("page beyond int range should fall back, got %d", opts.Page)
	}
	if opts := ParseOptions(MapParams{"limit": "100"}); opts.Limit != 100 {
		t.Fatalf("limit 100 is in range, got %d", opts.Limit)
	}
	if opts := ParseOptions(MapParams{"limit": "101"}); opts.Limit != DefaultLimit {
		t.Fatalf("limit 101 should fall back, got %d", opts.Limit)
	}
	if res := engine.Query(snapshot, ParseOptions(MapParams{"limit": "100"})); len(res.Tasks) != 25 || res.Pagination.TotalPages != 1 {
		t.Fatalf("limit 100 should return every task, got %d", len(res.Tasks))
	}
}
