// Package cs stores traces as JSON objects in Google Cloud Storage.
package cs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/agenteval/trace"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

// Repository implements trace.Repository on a Cloud Storage bucket. Objects are
// named {prefix}{trace_id}.json.
type Repository struct {
	bucket string
	prefix string
	client *storage.Client
}

var _ trace.Repository = (*Repository)(nil)

// New creates a Repository with a default Cloud Storage client.
func New(ctx context.Context, bucket, prefix string) (*Repository, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Cloud Storage client")
	}
	return NewWithClient(client, bucket, prefix), nil
}

// NewWithClient creates a Repository using an existing client.
func NewWithClient(client *storage.Client, bucket, prefix string) *Repository {
	return &Repository{
		bucket: bucket,
		prefix: prefix,
		client: client,
	}
}

func (r *Repository) objectName(traceID string) string {
	return r.prefix + traceID + ".json"
}

// Save writes the trace as a JSON object.
func (r *Repository) Save(ctx context.Context, tr *trace.Trace) error {
	data, err := json.Marshal(tr)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal trace")
	}

	objectName := r.objectName(tr.TraceID)
	w := r.client.Bucket(r.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write trace object",
			goerr.Value("bucket", r.bucket),
			goerr.Value("object", objectName),
		)
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to close trace object writer",
			goerr.Value("bucket", r.bucket),
			goerr.Value("object", objectName),
		)
	}
	return nil
}

// Load reads a trace object. A missing object yields trace.ErrTraceNotFound.
func (r *Repository) Load(ctx context.Context, traceID string) (*trace.Trace, error) {
	objectName := r.objectName(traceID)
	reader, err := r.client.Bucket(r.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, goerr.Wrap(trace.ErrTraceNotFound, "trace object does not exist",
				goerr.Value("bucket", r.bucket),
				goerr.Value("object", objectName),
			)
		}
		return nil, goerr.Wrap(err, "failed to read trace object",
			goerr.Value("bucket", r.bucket),
			goerr.Value("object", objectName),
		)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read trace data",
			goerr.Value("bucket", r.bucket),
			goerr.Value("object", objectName),
		)
	}

	var tr trace.Trace
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, goerr.Wrap(err, "failed to parse trace data",
			goerr.Value("bucket", r.bucket),
			goerr.Value("object", objectName),
		)
	}
	return &tr, nil
}

// List returns the IDs of stored traces directly under the prefix.
func (r *Repository) List(ctx context.Context) ([]string, error) {
	it := r.client.Bucket(r.bucket).Objects(ctx, &storage.Query{Prefix: r.prefix})

	var ids []string
	for {
		attr, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list objects",
				goerr.Value("bucket", r.bucket),
				goerr.Value("prefix", r.prefix),
			)
		}

		if !strings.HasSuffix(attr.Name, ".json") {
			continue
		}
		traceID := strings.TrimSuffix(strings.TrimPrefix(attr.Name, r.prefix), ".json")
		// Skip directory-like entries
		if traceID == "" || strings.Contains(traceID, "/") {
			continue
		}
		ids = append(ids, traceID)
	}
	return ids, nil
}
