// Package query filters, sorts and paginates a task snapshot and derives
// summary statistics over it.
package query

import (
	"strconv"
	"strings"
	"time"

	"taskengine/pkg/domain"
)

// Pagination bounds.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// SortOrder is asc or desc.
type SortOrder string

// Sort orders.
const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Params is the free-form input ParseOptions coerces. url.Values satisfies it.
type Params interface {
	Get(key string) string
}

// MapParams adapts a plain map to Params.
type MapParams map[string]string

// Get returns the value stored for key.
func (m MapParams) Get(key string) string { return m[key] }

// Options is the normalised query. The zero value of every filter means unset.
type Options struct {
	Page        int
	Limit       int
	SortBy      SortField
	SortOrder   SortOrder
	Status      domain.Status
	Priority    domain.Priority
	AssignedTo  string
	Search      string
	Tags        []string
	Overdue     bool
	DueDateFrom *time.Time
	DueDateTo   *time.Time
}

// DefaultOptions returns page 1, limit 10, newest first.
func DefaultOptions() Options {
	return Options{Page: DefaultPage, Limit: DefaultLimit, SortBy: SortCreatedAt, SortOrder: Desc}
}

// ParseOptions coerces free-form parameters. Malformed or out-of-range
// values fall back to their defaults instead of failing.
func ParseOptions(p Params) Options {
	opts := DefaultOptions()
	if n, err := strconv.Atoi(strings.TrimSpace(p.Get("page"))); err == nil && n >= 1 {
		opts.Page = n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(p.Get("limit"))); err == nil && n >= 1 && n <= MaxLimit {
		opts.Limit = n
	}
	if field, ok := ParseSortField(p.Get("sortBy")); ok {
		opts.SortBy = field
	}
	if strings.EqualFold(strings.TrimSpace(p.Get("sortOrder")), string(Asc)) {
		opts.SortOrder = Asc
	}
	opts.Status = domain.Status(strings.TrimSpace(p.Get("status")))
	opts.Priority = domain.Priority(strings.TrimSpace(p.Get("priority")))
	opts.AssignedTo = strings.TrimSpace(p.Get("assignedTo"))
	opts.Search = strings.TrimSpace(p.Get("search"))
	opts.Tags = SplitTags(p.Get("tags"))
	if b, err := strconv.ParseBool(strings.TrimSpace(p.Get("overdue"))); err == nil {
		opts.Overdue = b
	}
	opts.DueDateFrom = parseBound(p.Get("dueDateFrom"), false)
	opts.DueDateTo = parseBound(p.Get("dueDateTo"), true)
	return opts
}

// SplitTags parses a comma-delimited tag list, dropping empty entries.
func SplitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if tag := strings.TrimSpace(part); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// parseBound accepts RFC3339 or a bare date. A bare upper bound covers the
// whole day.
func parseBound(raw string, upper bool) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t
}

// normalized re-applies the coercion rules to options built in code.
func (o Options) normalized() Options {
	if o.Page < 1 {
		o.Page = DefaultPage
	}
	if o.Limit < 1 || o.Limit > MaxLimit {
		o.Limit = DefaultLimit
	}
	if _, ok := comparators[o.SortBy]; !ok {
		o.SortBy = SortCreatedAt
	}
	if o.SortOrder != Asc {
		o.SortOrder = Desc
	}
	return o
}
