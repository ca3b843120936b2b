package writers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// ArrowWriter stores snapshots and changeset exports in the Arrow IPC file
// format. Every record written must share the schema of the first.
type ArrowWriter struct {
	file   *os.File
	ipc    *ipc.FileWriter
	schema *arrow.Schema
}

// NewArrowWriter opens config.Path for writing.
func NewArrowWriter(config core.WriterConfig) (core.DatasetWriter, error) {
	if config.Path == "" {
		return nil, errors.New("arrow output needs a path")
	}
	file, err := os.Create(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", config.Path, err)
	}
	return &ArrowWriter{file: file}, nil
}

func (w *ArrowWriter) open(schema *arrow.Schema) error {
	fw, err := ipc.NewFileWriter(w.file, ipc.WithSchema(schema))
	if err != nil {
		return fmt.Errorf("failed to start arrow file: %w", err)
	}
	w.ipc, w.schema = fw, schema
	return nil
}

// Write appends one record batch.
func (w *ArrowWriter) Write(ctx context.Context, record arrow.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.ipc == nil {
		if err := w.open(record.Schema()); err != nil {
			return err
		}
	}
	if !w.schema.Equal(record.Schema()) {
		return fmt.Errorf("record schema %s does not match %s", record.Schema(), w.schema)
	}
	if err := w.ipc.Write(record); err != nil {
		return fmt.Errorf("failed to write arrow batch: %w", err)
	}
	return nil
}

// Close writes the file footer. A writer that saw no record leaves an empty
// file behind.
func (w *ArrowWriter) Close() error {
	var errs []error
	if w.ipc != nil {
		errs = append(errs, w.ipc.Close())
		w.ipc = nil
	}
	if w.file != nil {
		errs = append(errs, w.file.Close())
		w.file = nil
	}
	return errors.Join(errs...)
}
