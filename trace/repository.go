package trace

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Repository is the interface for persisting trace data.
type Repository interface {
	Save(ctx context.Context, trace *Trace) error
	Load(ctx context.Context, traceID string) (*Trace, error)
}

// FileRepository persists trace data as JSON files.
type FileRepository struct {
	dir string
}

// NewFileRepository creates a new FileRepository that writes to the given directory.
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{dir: dir}
}

// Save writes the trace as JSON to {dir}/{trace_id}.json.
func (r *FileRepository) Save(_ context.Context, trace *Trace) error {
	if err := os.MkdirAll(r.dir, 0750); err != nil {
		return goerr.Wrap(err, "failed to create trace directory", goerr.V("dir", r.dir))
	}

	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal trace")
	}

	filePath := filepath.Join(r.dir, trace.TraceID+".json")
	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return goerr.Wrap(err, "failed to write trace file", goerr.V("path", filePath))
	}

	return nil
}

// Load reads {dir}/{trace_id}.json. A missing file yields ErrTraceNotFound.
func (r *FileRepository) Load(_ context.Context, traceID string) (*Trace, error) {
	if traceID == "" || strings.ContainsAny(traceID, `/\`) {
		return nil, goerr.Wrap(ErrTraceNotFound, "invalid trace id", goerr.V("trace_id", traceID))
	}

	filePath := filepath.Join(r.dir, traceID+".json")
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrTraceNotFound, "trace file does not exist", goerr.V("path", filePath))
		}
		return nil, goerr.Wrap(err, "failed to read trace file", goerr.V("path", filePath))
	}

	var tr Trace
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, goerr.Wrap(err, "failed to parse trace file", goerr.V("path", filePath))
	}
	return &tr, nil
}

// List returns the IDs of stored traces sorted by name.
func (r *FileRepository) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read directory", goerr.V("dir", r.dir))
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
