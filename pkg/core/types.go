// Package core provides the interfaces shared between the tabdelta engine
// and the collaborators that load, store and present its inputs and results.
package core

import (
	"context"
	"io"

	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/TFMV/tabdelta/pkg/snapshot"
	"github.com/apache/arrow-go/v18/arrow"
)

// DatasetReader defines an interface for reading data from various sources.
type DatasetReader interface {
	// Read returns a record batch and an error if any.
	// Returns io.EOF when there are no more batches.
	Read(ctx context.Context) (arrow.Record, error)

	// Schema returns the schema of the dataset.
	Schema() *arrow.Schema

	// Close closes the reader and releases resources.
	Close() error
}

// DatasetWriter defines an interface for writing data to various destinations.
type DatasetWriter interface {
	// Write writes a record to the destination.
	Write(ctx context.Context, record arrow.Record) error

	// Close closes the writer and flushes any pending data.
	Close() error
}

// SnapshotLoader loads a dataset version into memory. A ref is either a
// file path or a "rev:path" pair naming a file at a repository revision.
type SnapshotLoader interface {
	Load(ctx context.Context, ref string) (*snapshot.Snapshot, error)
}

// HistoryStore gives read-only access to the version history datasets are
// stored in.
type HistoryStore interface {
	// ResolveAncestor returns the common ancestor revision of two refs.
	ResolveAncestor(ctx context.Context, refA, refB string) (string, error)

	// Show returns the content of path at revision rev.
	Show(ctx context.Context, rev, path string) ([]byte, error)
}

// ProgressSink receives progress updates while a diff runs. It is purely
// observational.
type ProgressSink interface {
	Progress(processed, total int64)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(processed, total int64)

// Progress calls f.
func (f ProgressFunc) Progress(processed, total int64) { f(processed, total) }

// ReaderConfig provides configuration for creating a reader.
type ReaderConfig struct {
	// Type is the type of the reader.
	Type string

	// Path is the path to the file. Ignored when Data is set.
	Path string

	// Data holds the file content when it was not read from disk, such as a
	// dataset loaded from a repository revision.
	Data []byte

	// BatchSize is the size of batches to read.
	BatchSize int64

	// Delimiter is the CSV field delimiter. Defaults to ','.
	Delimiter rune
}

// WriterConfig provides configuration for creating a writer.
type WriterConfig struct {
	// Type is the type of the writer.
	Type string

	// Path is the path to the file.
	Path string

	// BatchSize is the size of batches to write.
	BatchSize int64
}

// Reporter renders a changeset for presentation.
type Reporter interface {
	Report(ctx context.Context, c *changeset.Changeset) (io.Reader, error)
}
