// Package readers provides dataset readers for the file formats tabdelta
// loads snapshots from.
package readers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/TFMV/tabdelta/pkg/snapshot"
	"github.com/apache/arrow-go/v18/arrow"
)

// defaultBatchSize is used when ReaderConfig.BatchSize is not set.
const defaultBatchSize = 10000

// Factory creates a reader based on the given configuration.
type Factory struct {
	// registered readers by type
	readers map[string]Creator
}

// Creator is a function that creates a reader from a configuration.
type Creator func(config core.ReaderConfig) (core.DatasetReader, error)

// NewFactory creates a new reader factory.
func NewFactory() *Factory {
	return &Factory{
		readers: make(map[string]Creator),
	}
}

// Register registers a creator for a reader type.
func (f *Factory) Register(typ string, creator Creator) {
	f.readers[typ] = creator
}

// Create creates a reader based on the given configuration.
func (f *Factory) Create(config core.ReaderConfig) (core.DatasetReader, error) {
	creator, ok := f.readers[config.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported reader type: %s", config.Type)
	}
	return creator(config)
}

// DefaultFactory is the default reader factory with built-in reader types.
var DefaultFactory = NewFactory()

// init registers built-in reader types.
func init() {
	DefaultFactory.Register("parquet", NewParquetReader)
	DefaultFactory.Register("arrow", NewArrowReader)
	DefaultFactory.Register("csv", NewCSVReader)
}

// DetectType returns the reader type for a file name based on its extension.
func DetectType(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet", ".pq":
		return "parquet", nil
	case ".arrow", ".ipc", ".feather":
		return "arrow", nil
	case ".csv":
		return "csv", nil
	}
	return "", fmt.Errorf("cannot detect dataset format of %s", path)
}

// source is the random-access input shared by the file readers.
type source interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// open returns the configured input: in-memory data when set, otherwise the
// file at Path. The returned closer is never nil.
func open(config core.ReaderConfig, format string) (source, io.Closer, error) {
	if config.Data != nil {
		return bytes.NewReader(config.Data), nopCloser{}, nil
	}
	if config.Path == "" {
		return nil, nil, fmt.Errorf("path is required for %s reader", format)
	}
	f, err := os.Open(config.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s file: %w", format, err)
	}
	return f, f, nil
}

func batchSize(config core.ReaderConfig) int64 {
	if config.BatchSize <= 0 {
		return defaultBatchSize
	}
	return config.BatchSize
}

// ReadAll drains r into a snapshot. The reader is not closed.
func ReadAll(ctx context.Context, r core.DatasetReader) (*snapshot.Snapshot, error) {
	var recs []arrow.Record
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for {
		rec, err := r.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rec.Retain()
		recs = append(recs, rec)
	}
	schema := r.Schema()
	if schema == nil {
		return nil, errors.New("dataset has no schema")
	}
	return snapshot.FromRecords(schema, recs...)
}

// Load reads a whole dataset described by config into a snapshot.
func Load(ctx context.Context, config core.ReaderConfig) (*snapshot.Snapshot, error) {
	r, err := DefaultFactory.Create(config)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ReadAll(ctx, r)
}
