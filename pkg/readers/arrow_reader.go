package readers

import (
	"context"
	"fmt"
	"io"

	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ArrowReader implements a reader for Arrow IPC files. Each record batch in
// the file is returned by one call to Read.
type ArrowReader struct {
	schema     *arrow.Schema
	reader     *ipc.FileReader
	closer     io.Closer
	currentIdx int
}

// NewArrowReader creates a new Arrow IPC reader.
func NewArrowReader(config core.ReaderConfig) (core.DatasetReader, error) {
	src, closer, err := open(config, "Arrow")
	if err != nil {
		return nil, err
	}

	reader, err := ipc.NewFileReader(src, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("failed to create Arrow file reader: %w", err)
	}

	return &ArrowReader{
		schema: reader.Schema(),
		reader: reader,
		closer: closer,
	}, nil
}

// Read returns the next record batch. The record is owned by the reader and
// valid until the next call to Read or Close.
func (r *ArrowReader) Read(ctx context.Context) (arrow.Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if r.currentIdx >= r.reader.NumRecords() {
		return nil, io.EOF
	}
	record, err := r.reader.Record(r.currentIdx)
	if err != nil {
		return nil, fmt.Errorf("failed to read record at index %d: %w", r.currentIdx, err)
	}
	r.currentIdx++
	return record, nil
}

// Schema returns the schema of the dataset.
func (r *ArrowReader) Schema() *arrow.Schema {
	return r.schema
}

// Close closes the reader and releases resources.
func (r *ArrowReader) Close() error {
	var err error
	if r.reader != nil {
		if closeErr := r.reader.Close(); closeErr != nil {
			err = closeErr
		}
		r.reader = nil
	}
	if r.closer != nil {
		if closeErr := r.closer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		r.closer = nil
	}
	return err
}
