package writers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// JSONWriter implements a writer for newline-delimited JSON files. Each row
// becomes one object keyed by column name.
type JSONWriter struct {
	file *os.File
	buf  *bufio.Writer
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(config core.WriterConfig) (core.DatasetWriter, error) {
	if config.Path == "" {
		return nil, errors.New("json output needs a path")
	}

	file, err := os.Create(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create JSON file: %w", err)
	}

	return &JSONWriter{
		file: file,
		buf:  bufio.NewWriter(file),
	}, nil
}

// Write writes a record to the file.
func (w *JSONWriter) Write(ctx context.Context, record arrow.Record) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := array.RecordToJSON(record, w.buf); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return nil
}

// Close closes the writer and flushes any pending data.
func (w *JSONWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.buf.Flush()
	if closeErr := w.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	w.file = nil
	return err
}
