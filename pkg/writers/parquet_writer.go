package writers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// ParquetWriter stores snapshots and changeset exports as Snappy compressed
// Parquet. The Arrow schema is embedded so timestamps and nullability read
// back unchanged.
type ParquetWriter struct {
	file     *os.File
	pq       *pqarrow.FileWriter
	schema   *arrow.Schema
	rowGroup int64
}

// NewParquetWriter opens config.Path for writing. config.BatchSize caps the
// rows per row group.
func NewParquetWriter(config core.WriterConfig) (core.DatasetWriter, error) {
	if config.Path == "" {
		return nil, errors.New("parquet output needs a path")
	}
	file, err := os.Create(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", config.Path, err)
	}
	return &ParquetWriter{file: file, rowGroup: config.BatchSize}, nil
}

func (w *ParquetWriter) properties() *parquet.WriterProperties {
	props := []parquet.WriterProperty{
		parquet.WithCompression(compress.Codecs.Snappy),
		// Changed cells are mostly unique values.
		parquet.WithDictionaryDefault(false),
	}
	if w.rowGroup > 0 {
		props = append(props, parquet.WithMaxRowGroupLength(w.rowGroup))
	}
	return parquet.NewWriterProperties(props...)
}

func (w *ParquetWriter) open(schema *arrow.Schema) error {
	fw, err := pqarrow.NewFileWriter(schema, w.file, w.properties(),
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return fmt.Errorf("failed to start parquet file: %w", err)
	}
	w.pq, w.schema = fw, schema
	return nil
}

// Write appends one record batch.
func (w *ParquetWriter) Write(ctx context.Context, record arrow.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.pq == nil {
		if err := w.open(record.Schema()); err != nil {
			return err
		}
	}
	if !w.schema.Equal(record.Schema()) {
		return fmt.Errorf("record schema %s does not match %s", record.Schema(), w.schema)
	}
	if err := w.pq.Write(record); err != nil {
		return fmt.Errorf("failed to write parquet batch: %w", err)
	}
	return nil
}

// Close writes the footer.
func (w *ParquetWriter) Close() error {
	var errs []error
	if w.pq != nil {
		// pqarrow closes the file along with the footer.
		errs = append(errs, w.pq.Close())
		w.pq = nil
	}
	if w.file != nil {
		if err := w.file.Close(); !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
		w.file = nil
	}
	return errors.Join(errs...)
}
