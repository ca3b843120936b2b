package readers

import (
	"context"
	"fmt"
	"io"

	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// CSVReader implements a reader for CSV files, converting to Arrow. Column
// types are inferred from the first chunk; empty fields are null.
type CSVReader struct {
	schema  *arrow.Schema
	closer  io.Closer
	reader  *csv.Reader
	pending bool
}

// NewCSVReader creates a new CSV reader.
func NewCSVReader(config core.ReaderConfig) (core.DatasetReader, error) {
	src, closer, err := open(config, "CSV")
	if err != nil {
		return nil, err
	}

	opts := []csv.Option{
		csv.WithChunk(int(batchSize(config))),
		csv.WithHeader(true),
		csv.WithNullReader(true, ""),
		csv.WithAllocator(memory.NewGoAllocator()),
	}
	if config.Delimiter != 0 {
		opts = append(opts, csv.WithComma(config.Delimiter))
	}

	r := &CSVReader{
		closer: closer,
		reader: csv.NewInferringReader(src, opts...),
	}
	// The schema is only known once the first chunk has been inferred.
	if r.reader.Next() {
		r.pending = true
		r.schema = r.reader.Schema()
	} else if err := r.reader.Err(); err != nil && err != io.EOF {
		r.Close()
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	} else {
		r.schema = r.reader.Schema()
	}
	if r.schema == nil {
		r.schema = arrow.NewSchema(nil, nil)
	}
	return r, nil
}

// Read returns the next batch of records. The record is owned by the reader
// and valid until the next call to Read or Close.
func (r *CSVReader) Read(ctx context.Context) (arrow.Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if r.pending {
		r.pending = false
		return r.reader.Record(), nil
	}

	if !r.reader.Next() {
		if err := r.reader.Err(); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		return nil, io.EOF
	}
	return r.reader.Record(), nil
}

// Schema returns the schema of the dataset.
func (r *CSVReader) Schema() *arrow.Schema {
	return r.schema
}

// Close closes the reader and releases resources.
func (r *CSVReader) Close() error {
	if r.reader != nil {
		r.reader.Release()
		r.reader = nil
	}
	if r.closer != nil {
		err := r.closer.Close()
		r.closer = nil
		return err
	}
	return nil
}
