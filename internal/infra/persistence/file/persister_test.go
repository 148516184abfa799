package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"
	"time"

	"taskengine/pkg/domain"
)

type captureLogger struct{ warnings []string }

func (l *captureLogger) Warn(msg string, _ ...any) { l.warnings = append(l.warnings, msg) }

func sampleSnapshot() domain.Snapshot {
	created := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	done := created.Add(48 * time.Hour)
	return domain.Snapshot{
		Records: []domain.Task{
			{ID: 1, Title: "Plan", Status: domain.StatusPending, Priority: domain.PriorityHigh, Tags: []string{"a"}, CreatedAt: created, UpdatedAt: created},
			{ID: 3, Title: "Ship", Status: domain.StatusCompleted, Priority: domain.PriorityLow, Tags: []string{}, CreatedAt: created, UpdatedAt: done, CompletedAt: &done, AssignedTo: "ana"},
		},
		NextID:      4,
		LastUpdated: done,
	}
}

func TestLoadMissingFileIsFirstRun(t *testing.T) {
	p, err := New(filepath.Join(t.TempDir(), "nested", "tasks.json"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	snap, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(snap, domain.EmptySnapshot()) {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "tasks.json")
	p, _ := New(path)
	ctx := context.Background()
	want := sampleSnapshot()
	if err := p.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
	got, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", want, got)
	}

	raw, _ := os.ReadFile(path)
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	for _, key := range []string{"records", "nextId", "lastUpdated"} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("missing %q in persisted document", key)
		}
	}
}

func TestLoadCorruptFileIsFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	logger := &captureLogger{}
	p, _ := New(path, WithLogger(logger))
	snap, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("corrupt file must not error: %v", err)
	}
	if snap.NextID != 1 || len(snap.Records) != 0 {
		t.Fatalf("expected first-run snapshot, got %+v", snap)
	}
	if len(logger.warnings) != 1 {
		t.Fatalf("expected one warning, got %v", logger.warnings)
	}
}

func TestSaveFailureKeepsPreviousState(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission semantics differ")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	p, _ := New(path)
	ctx := context.Background()
	first := sampleSnapshot()
	if err := p.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	second := first.Clone()
	second.NextID = 99
	if err := p.Save(ctx, second); err == nil {
		t.Fatalf("expected save into read-only dir to fail")
	}
	got, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.NextID != first.NextID {
		t.Fatalf("previous durable state lost: nextId %d", got.NextID)
	}
}

func TestLoadReportsIOErrors(t *testing.T) {
	dir := t.TempDir()
	// A directory at the snapshot path cannot be read as a file.
	p, _ := New(dir)
	if _, err := p.Load(context.Background()); err == nil {
		t.Fatalf("expected read error for directory path")
	}
	if _, err := New(""); err == nil {
		t.Fatalf("expected empty path rejected")
	}
}

func TestSequentialSavesOverwrite(t *testing.T) {
	p, _ := New(filepath.Join(t.TempDir(), "tasks.json"))
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		snap := domain.EmptySnapshot()
		snap.NextID = int64(i + 1)
		snap.Records = append(snap.Records, domain.Task{ID: int64(i), Title: fmt.Sprintf("task %d", i), Tags: []string{}})
		if err := p.Save(ctx, snap); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	got, _ := p.Load(ctx)
	if got.NextID != 4 || len(got.Records) != 1 || got.Records[0].ID != 3 {
		t.Fatalf("expected last write to win, got %+v", got)
	}
}
