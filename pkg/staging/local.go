package staging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Arachne/pkg/errors"
	"github.com/wehubfusion/Arachne/pkg/record"
)

// LocalStore stages chunks as gzip-compressed JSON Lines files in a
// run-scoped directory. Cleanup removes the whole directory.
type LocalStore struct {
	dir    string
	logger *zap.Logger
}

// NewLocalStore creates a fresh run directory for staged artifacts. With
// an empty baseDir the directory lives under the system temp root;
// otherwise a run subdirectory is created beneath baseDir.
func NewLocalStore(baseDir string, logger *zap.Logger) (*LocalStore, error) {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	var dir string
	var err error
	if baseDir == "" {
		dir, err = os.MkdirTemp("", "arachne-staging-")
	} else {
		if err = os.MkdirAll(baseDir, 0o755); err == nil {
			dir, err = os.MkdirTemp(baseDir, "run-")
		}
	}
	if err != nil {
		return nil, sdkerrors.NewStagingError("failed to create staging directory", err)
	}

	logger.Debug("Created staging directory", zap.String("dir", dir))
	return &LocalStore{dir: dir, logger: logger}, nil
}

// Dir returns the run directory backing this store.
func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Create(ctx context.Context) (Writer, error) {
	id := uuid.NewString()
	path := filepath.Join(s.dir, id+".jsonl.gz")

	f, err := os.Create(path)
	if err != nil {
		return nil, sdkerrors.NewStagingError("failed to create artifact file", err)
	}

	gz := gzip.NewWriter(f)
	return &localWriter{
		id:   id,
		path: path,
		f:    f,
		gz:   gz,
		enc:  json.NewEncoder(gz),
	}, nil
}

func (s *LocalStore) Read(ctx context.Context, art *Artifact) ([]record.Record, error) {
	if art == nil {
		return nil, sdkerrors.NewStagingError("artifact cannot be nil", nil)
	}

	f, err := os.Open(art.ref)
	if err != nil {
		return nil, sdkerrors.NewStagingError("failed to open artifact", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, sdkerrors.NewStagingError("failed to decompress artifact", err)
	}
	defer gz.Close()

	return decodeRecords(gz, art.Rows)
}

func (s *LocalStore) Remove(ctx context.Context, art *Artifact) error {
	if art == nil {
		return nil
	}
	if err := os.Remove(art.ref); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return sdkerrors.NewStagingError("failed to remove artifact", err)
	}
	return nil
}

func (s *LocalStore) Cleanup(ctx context.Context) error {
	if err := os.RemoveAll(s.dir); err != nil {
		return sdkerrors.NewStagingError("failed to remove staging directory", err)
	}
	return nil
}

type localWriter struct {
	id   string
	path string
	f    *os.File
	gz   *gzip.Writer
	enc  *json.Encoder
	rows int
	done bool
}

func (w *localWriter) Append(rec record.Record) error {
	if w.done {
		return sdkerrors.NewStagingError("writer is already finalized", nil)
	}
	if err := w.enc.Encode(rec); err != nil {
		return sdkerrors.NewStagingError("failed to encode row", err)
	}
	w.rows++
	return nil
}

func (w *localWriter) Finalize(ctx context.Context) (*Artifact, error) {
	if w.done {
		return nil, sdkerrors.NewStagingError("writer is already finalized", nil)
	}
	w.done = true

	if err := w.gz.Close(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(w.path)
		return nil, sdkerrors.NewStagingError("failed to flush artifact", err)
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.path)
		return nil, sdkerrors.NewStagingError("failed to close artifact", err)
	}

	if w.rows == 0 {
		_ = os.Remove(w.path)
		return nil, nil
	}
	return &Artifact{ID: w.id, Rows: w.rows, ref: w.path}, nil
}

func (w *localWriter) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.gz.Close()
	_ = w.f.Close()
	_ = os.Remove(w.path)
	return nil
}

// decodeRecords reads consecutive JSON objects until EOF. The hint sizes
// the result slice and is not enforced.
func decodeRecords(r io.Reader, hint int) ([]record.Record, error) {
	if hint < 0 {
		hint = 0
	}
	recs := make([]record.Record, 0, hint)
	dec := json.NewDecoder(r)
	for {
		var rec record.Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return recs, nil
			}
			return nil, sdkerrors.NewStagingError("failed to decode row", err)
		}
		recs = append(recs, rec)
	}
}
