// Package staging holds processed chunks between dispatch and merge.
// Each completed chunk becomes one write-once artifact; the merge phase
// reads artifacts back and the store removes everything it created when
// the run ends, whatever the outcome.
package staging

import (
	"context"

	"github.com/wehubfusion/Arachne/pkg/record"
)

// Artifact identifies one finalized chunk held by a Store.
type Artifact struct {
	ID   string
	Rows int

	// ref locates the payload inside the store that produced the
	// artifact: a file path, a blob path, or a map key.
	ref string
}

// Writer accumulates the rows of one chunk. Finalize seals the artifact
// and returns nil when nothing was appended; after Finalize or Discard
// the writer is spent.
type Writer interface {
	Append(rec record.Record) error
	Finalize(ctx context.Context) (*Artifact, error)
	Discard() error
}

// Store creates, reads back, and disposes of staged artifacts. Cleanup
// removes everything the store created during the run and must be safe
// to call after individual Remove calls.
type Store interface {
	Create(ctx context.Context) (Writer, error)
	Read(ctx context.Context, art *Artifact) ([]record.Record, error)
	Remove(ctx context.Context, art *Artifact) error
	Cleanup(ctx context.Context) error
}
