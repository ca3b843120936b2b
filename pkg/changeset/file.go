package changeset

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/s2"
)

// FileExt is the extension of changeset files, optionally followed by
// ".s2".
const FileExt = ".tdcs"

// IsFile reports whether path names a changeset file by its extension.
func IsFile(path string) bool {
	p := strings.ToLower(path)
	return strings.HasSuffix(p, FileExt) || strings.HasSuffix(p, FileExt+".s2")
}

// Compressed reports whether path names an s2-compressed changeset file.
func Compressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".s2")
}

// WriteFile encodes c into path, compressing with s2 when the path ends in
// ".s2".
func WriteFile(path string, c *Changeset) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create changeset file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close changeset file: %w", cerr)
		}
	}()

	if !Compressed(path) {
		return Write(f, c)
	}
	zw := s2.NewWriter(f)
	if err := Write(zw, c); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// File is an open changeset file read record by record.
type File struct {
	*Decoder
	f *os.File
}

// Close closes the underlying file.
func (f *File) Close() error { return f.f.Close() }

// OpenFile opens a changeset file for streaming reads.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open changeset file: %w", err)
	}
	var r io.Reader = f
	if Compressed(path) {
		r = s2.NewReader(f)
	}
	return &File{Decoder: NewDecoder(r), f: f}, nil
}

// ReadFile decodes a whole changeset file.
func ReadFile(path string) (*Changeset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open changeset file: %w", err)
	}
	defer f.Close()
	var r io.Reader = f
	if Compressed(path) {
		r = s2.NewReader(f)
	}
	c, err := Read(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return c, nil
}
