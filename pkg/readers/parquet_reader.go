package readers

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// ParquetReader implements a reader for Parquet files.
type ParquetReader struct {
	schema     *arrow.Schema
	fileReader *file.Reader
	records    pqarrow.RecordReader
	closer     io.Closer
	totalRows  int64
}

// NewParquetReader creates a new Parquet reader.
func NewParquetReader(config core.ReaderConfig) (core.DatasetReader, error) {
	src, closer, err := open(config, "Parquet")
	if err != nil {
		return nil, err
	}

	parquetReader, err := file.NewParquetReader(src)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("failed to create Parquet file reader: %w", err)
	}

	arrowProps := pqarrow.ArrowReadProperties{
		Parallel:  true,
		BatchSize: batchSize(config),
	}
	arrowReader, err := pqarrow.NewFileReader(parquetReader, arrowProps, memory.NewGoAllocator())
	if err != nil {
		parquetReader.Close()
		closer.Close()
		return nil, fmt.Errorf("failed to create Arrow reader: %w", err)
	}

	schema, err := arrowReader.Schema()
	if err != nil {
		parquetReader.Close()
		closer.Close()
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}

	records, err := arrowReader.GetRecordReader(context.Background(), nil, nil)
	if err != nil {
		parquetReader.Close()
		closer.Close()
		return nil, fmt.Errorf("failed to create record reader: %w", err)
	}

	return &ParquetReader{
		schema:     schema,
		fileReader: parquetReader,
		records:    records,
		closer:     closer,
		totalRows:  parquetReader.NumRows(),
	}, nil
}

// Read returns the next batch of records. The record is owned by the reader
// and valid until the next call to Read or Close.
func (r *ParquetReader) Read(ctx context.Context) (arrow.Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if !r.records.Next() {
		if err := r.records.Err(); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read Parquet batch: %w", err)
		}
		return nil, io.EOF
	}
	return r.records.Record(), nil
}

// NumRows returns the number of rows in the file.
func (r *ParquetReader) NumRows() int64 {
	return r.totalRows
}

// Schema returns the schema of the dataset.
func (r *ParquetReader) Schema() *arrow.Schema {
	return r.schema
}

// Close closes the reader and releases resources.
func (r *ParquetReader) Close() error {
	if r.records != nil {
		r.records.Release()
		r.records = nil
	}

	var err error
	if r.fileReader != nil {
		if err2 := r.fileReader.Close(); err2 != nil && err == nil {
			err = err2
		}
		r.fileReader = nil
	}
	if r.closer != nil {
		if err2 := r.closer.Close(); err2 != nil && err == nil {
			err = err2
		}
		r.closer = nil
	}
	return err
}
