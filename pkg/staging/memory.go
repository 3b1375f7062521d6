package staging

import (
	"context"
	"sync"

	"github.com/google/uuid"

	sdkerrors "github.com/wehubfusion/Arachne/pkg/errors"
	"github.com/wehubfusion/Arachne/pkg/record"
)

// MemoryStore keeps artifacts in process memory. It backs tests and
// small in-process runs where spilling to disk buys nothing.
type MemoryStore struct {
	mu        sync.Mutex
	artifacts map[string][]record.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[string][]record.Record)}
}

// Remaining reports how many artifacts the store still holds.
func (s *MemoryStore) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.artifacts)
}

func (s *MemoryStore) Create(ctx context.Context) (Writer, error) {
	return &memoryWriter{store: s, id: uuid.NewString()}, nil
}

func (s *MemoryStore) Read(ctx context.Context, art *Artifact) ([]record.Record, error) {
	if art == nil {
		return nil, sdkerrors.NewStagingError("artifact cannot be nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.artifacts[art.ref]
	if !ok {
		return nil, sdkerrors.NewStagingError("unknown artifact "+art.ID, nil)
	}
	out := make([]record.Record, len(rows))
	for i, rec := range rows {
		out[i] = rec.Clone()
	}
	return out, nil
}

func (s *MemoryStore) Remove(ctx context.Context, art *Artifact) error {
	if art == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, art.ref)
	return nil
}

func (s *MemoryStore) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = make(map[string][]record.Record)
	return nil
}

type memoryWriter struct {
	store *MemoryStore
	id    string
	rows  []record.Record
	done  bool
}

func (w *memoryWriter) Append(rec record.Record) error {
	if w.done {
		return sdkerrors.NewStagingError("writer is already finalized", nil)
	}
	w.rows = append(w.rows, rec.Clone())
	return nil
}

func (w *memoryWriter) Finalize(ctx context.Context) (*Artifact, error) {
	if w.done {
		return nil, sdkerrors.NewStagingError("writer is already finalized", nil)
	}
	w.done = true

	if len(w.rows) == 0 {
		return nil, nil
	}
	w.store.mu.Lock()
	w.store.artifacts[w.id] = w.rows
	w.store.mu.Unlock()
	return &Artifact{ID: w.id, Rows: len(w.rows), ref: w.id}, nil
}

func (w *memoryWriter) Discard() error {
	w.done = true
	w.rows = nil
	return nil
}
