package domain

import (
	"context"
	"time"
)

// Snapshot is the durable shape of a store: ordered records, the next id to
// allocate and the time of the last write.
type Snapshot struct {
	Records     []Task    `json:"records"`
	NextID      int64     `json:"nextId"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// EmptySnapshot returns first-run state.
func EmptySnapshot() Snapshot {
	return Snapshot{Records: []Task{}, NextID: 1}
}

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Records = CloneTasks(s.Records)
	return out
}

// Persister is a minimal abstraction over durable backends. Save must be
// atomic: a reader never observes a partially written snapshot and a failed
// write leaves the previous durable state intact. Load returns EmptySnapshot
// when nothing has been stored yet.
type Persister interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
}
