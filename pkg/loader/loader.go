// Package loader turns dataset refs into snapshots.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/TFMV/tabdelta/pkg/readers"
	"github.com/TFMV/tabdelta/pkg/snapshot"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoHistory is returned for a revision ref when no history store is set.
var ErrNoHistory = errors.New("revision refs need a history store")

// Ref names a dataset version: a file on disk, or a file at a revision.
type Ref struct {
	Rev  string
	Path string
}

// String returns the ref in "rev:path" form, or the bare path.
func (r Ref) String() string {
	if r.Rev == "" {
		return r.Path
	}
	return r.Rev + ":" + r.Path
}

// ParseRef splits a ref. A string naming an existing file is always a path;
// otherwise the text before the first colon is a revision.
func ParseRef(ref string) (Ref, error) {
	if ref == "" {
		return Ref{}, errors.New("empty dataset ref")
	}
	if _, err := os.Stat(ref); err == nil {
		return Ref{Path: ref}, nil
	}
	rev, path, ok := strings.Cut(ref, ":")
	if !ok {
		return Ref{Path: ref}, nil
	}
	if rev == "" || path == "" {
		return Ref{}, fmt.Errorf("invalid dataset ref %q", ref)
	}
	return Ref{Rev: rev, Path: path}, nil
}

// Loader implements core.SnapshotLoader over local files and a history
// store.
type Loader struct {
	// History serves revision refs. Optional.
	History core.HistoryStore

	// Format overrides detection by file extension.
	Format    string
	BatchSize int64
	Delimiter rune
	Logger    *zap.Logger
}

var _ core.SnapshotLoader = (*Loader)(nil)

// Load reads the dataset named by ref.
func (l *Loader) Load(ctx context.Context, ref string) (*snapshot.Snapshot, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	config, err := l.config(ctx, r)
	if err != nil {
		return nil, err
	}
	s, err := readers.Load(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", r, err)
	}
	if l.Logger != nil {
		l.Logger.Debug("loaded snapshot",
			zap.String("ref", r.String()),
			zap.Int("rows", s.NumRows()),
			zap.Int("columns", s.NumCols()),
			zap.String("hash", s.Hash()))
	}
	return s, nil
}

// LoadAt reads path at revision rev.
func (l *Loader) LoadAt(ctx context.Context, rev, path string) (*snapshot.Snapshot, error) {
	return l.Load(ctx, Ref{Rev: rev, Path: path}.String())
}

func (l *Loader) config(ctx context.Context, r Ref) (core.ReaderConfig, error) {
	typ := l.Format
	if typ == "" {
		var err error
		if typ, err = readers.DetectType(r.Path); err != nil {
			return core.ReaderConfig{}, err
		}
	}
	config := core.ReaderConfig{
		Type:      typ,
		Path:      r.Path,
		BatchSize: l.BatchSize,
		Delimiter: l.Delimiter,
	}
	if r.Rev == "" {
		return config, nil
	}
	if l.History == nil {
		return core.ReaderConfig{}, fmt.Errorf("%w: %s", ErrNoHistory, r)
	}
	data, err := l.History.Show(ctx, r.Rev, r.Path)
	if err != nil {
		return core.ReaderConfig{}, fmt.Errorf("failed to read %s: %w", r, err)
	}
	config.Data = data
	return config, nil
}

// LoadAll reads several refs concurrently. Snapshots keep the order of refs.
func (l *Loader) LoadAll(ctx context.Context, refs ...string) ([]*snapshot.Snapshot, error) {
	out := make([]*snapshot.Snapshot, len(refs))
	g, ctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			s, err := l.Load(ctx, ref)
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// AncestorRef returns the ref of the common ancestor version of two
// revision refs naming the same path.
func (l *Loader) AncestorRef(ctx context.Context, ours, theirs string) (string, error) {
	if l.History == nil {
		return "", ErrNoHistory
	}
	a, err := ParseRef(ours)
	if err != nil {
		return "", err
	}
	b, err := ParseRef(theirs)
	if err != nil {
		return "", err
	}
	if a.Rev == "" || b.Rev == "" {
		return "", fmt.Errorf("cannot find the ancestor of %s and %s: both must be revision refs", a, b)
	}
	if a.Path != b.Path {
		return "", fmt.Errorf("cannot find the ancestor of %s and %s: paths differ", a, b)
	}
	rev, err := l.History.ResolveAncestor(ctx, a.Rev, b.Rev)
	if err != nil {
		return "", err
	}
	return Ref{Rev: rev, Path: a.Path}.String(), nil
}
