// Package writers provides dataset writers for exporting snapshots and
// flattened changesets.
package writers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/TFMV/tabdelta/pkg/snapshot"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Factory creates a writer based on the given configuration.
type Factory struct {
	// registered writers by type
	writers map[string]Creator
}

// Creator is a function that creates a writer from a configuration.
type Creator func(config core.WriterConfig) (core.DatasetWriter, error)

// NewFactory creates a new writer factory.
func NewFactory() *Factory {
	return &Factory{
		writers: make(map[string]Creator),
	}
}

// Register registers a creator for a writer type.
func (f *Factory) Register(typ string, creator Creator) {
	f.writers[typ] = creator
}

// Create creates a writer based on the given configuration.
func (f *Factory) Create(config core.WriterConfig) (core.DatasetWriter, error) {
	creator, ok := f.writers[config.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported writer type: %s", config.Type)
	}
	return creator(config)
}

// DefaultFactory is the default writer factory with built-in writer types.
var DefaultFactory = NewFactory()

// init registers built-in writer types.
func init() {
	DefaultFactory.Register("parquet", NewParquetWriter)
	DefaultFactory.Register("arrow", NewArrowWriter)
	DefaultFactory.Register("csv", NewCSVWriter)
	DefaultFactory.Register("json", NewJSONWriter)
}

// DetectType returns the writer type for a file name based on its extension.
func DetectType(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet", ".pq":
		return "parquet", nil
	case ".arrow", ".ipc", ".feather":
		return "arrow", nil
	case ".csv":
		return "csv", nil
	case ".json", ".jsonl", ".ndjson":
		return "json", nil
	}
	return "", fmt.Errorf("cannot detect output format of %s", path)
}

// WriteRecord writes a single record to a new dataset described by config.
func WriteRecord(ctx context.Context, config core.WriterConfig, rec arrow.Record) (err error) {
	w, err := DefaultFactory.Create(config)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return w.Write(ctx, rec)
}

// WriteSnapshot exports a snapshot.
func WriteSnapshot(ctx context.Context, config core.WriterConfig, s *snapshot.Snapshot) error {
	rec := s.ToRecord(memory.NewGoAllocator())
	defer rec.Release()
	return WriteRecord(ctx, config, rec)
}

// WriteChangeset exports a changeset flattened to changeset.RecordSchema.
func WriteChangeset(ctx context.Context, config core.WriterConfig, c *changeset.Changeset) error {
	rec, err := changeset.ToRecord(c, memory.NewGoAllocator())
	if err != nil {
		return err
	}
	defer rec.Release()
	return WriteRecord(ctx, config, rec)
}
