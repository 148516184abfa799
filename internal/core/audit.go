package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditStatus is the outcome of an audited operation.
type AuditStatus string

// Audit outcomes.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditAction classifies a mutating operation.
type AuditAction string

// Audit actions.
const (
	ActionCreate     AuditAction = "create"
	ActionUpdate     AuditAction = "update"
	ActionPatch      AuditAction = "patch"
	ActionDelete     AuditAction = "delete"
	ActionBulkPatch  AuditAction = "bulk_patch"
	ActionBulkDelete AuditAction = "bulk_delete"
)

// auditActions lists the operations that produce audit entries. Reads are
// not audited.
var auditActions = map[string]AuditAction{
	opCreate:     ActionCreate,
	opUpdate:     ActionUpdate,
	opPatch:      ActionPatch,
	opDelete:     ActionDelete,
	opBulkPatch:  ActionBulkPatch,
	opBulkDelete: ActionBulkDelete,
}

// AuditEntry records one mutating operation.
type AuditEntry struct {
	ID        string        `json:"id"`
	Operation string        `json:"operation"`
	Action    AuditAction   `json:"action"`
	TaskIDs   []int64       `json:"taskIds,omitempty"`
	Status    AuditStatus   `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// AuditRecorder receives audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// MemoryAuditRecorder retains entries in memory, oldest first.
type MemoryAuditRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewMemoryAuditRecorder returns an empty recorder.
func NewMemoryAuditRecorder() *MemoryAuditRecorder {
	return &MemoryAuditRecorder{}
}

// Record implements AuditRecorder.
func (r *MemoryAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

// Entries returns a copy of the recorded entries.
func (r *MemoryAuditRecorder) Entries() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (s *Service) recordAudit(ctx context.Context, op string, taskIDs []int64, err error, duration time.Duration) {
	action, ok := auditActions[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		ID:        uuid.NewString(),
		Operation: op,
		Action:    action,
		TaskIDs:   taskIDs,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}
