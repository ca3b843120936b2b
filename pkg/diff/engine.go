// Package diff computes row- and column-level changesets between two
// snapshots of a dataset.
package diff

import (
	"context"
	"fmt"
	"sort"

	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/TFMV/tabdelta/pkg/identity"
	"github.com/TFMV/tabdelta/pkg/schema"
	"github.com/TFMV/tabdelta/pkg/snapshot"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the number of rows processed between cancellation
// checks and progress reports.
const DefaultBatchSize = 4096

// Options configures a diff.
type Options struct {
	// KeyColumns identify rows. When empty rows are identified by a hash of
	// all compared columns.
	KeyColumns []string

	// IgnoreColumns are left out of comparison and row hashes.
	IgnoreColumns []string

	// FloatEpsilon is the absolute tolerance for float comparisons.
	FloatEpsilon float64

	// BatchSize is the number of rows between cancellation checks.
	BatchSize int

	// Progress receives (processed, total) row counts. Optional.
	Progress core.ProgressSink

	// Logger receives debug output. Optional.
	Logger *zap.Logger
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) ignored(name string) bool {
	for _, c := range o.IgnoreColumns {
		if c == name {
			return true
		}
	}
	return false
}

// Diff compares base and target and returns the changeset turning base into
// target. Cancellation of ctx is checked between row batches; a cancelled
// diff returns ctx.Err() and no changeset.
func Diff(ctx context.Context, base, target *snapshot.Snapshot, opts Options) (*changeset.Changeset, error) {
	log := opts.logger()

	mapping, delta, err := schema.Reconcile(base.Schema(), target.Schema())
	if err != nil {
		return nil, err
	}
	var compared schema.Mapping
	for _, col := range mapping {
		if !opts.ignored(col.Name) {
			compared = append(compared, col)
		}
	}
	for _, key := range opts.KeyColumns {
		if _, ok := compared.Lookup(key); !ok {
			return nil, fmt.Errorf("%w %q: not a comparable column of both snapshots", identity.ErrUnknownKeyColumn, key)
		}
	}

	cs := &changeset.Changeset{
		Header: changeset.Header{
			BaseHash:     base.Hash(),
			TargetHash:   target.Hash(),
			KeyColumns:   append([]string(nil), opts.KeyColumns...),
			BaseSchema:   base.Schema(),
			TargetSchema: target.Schema(),
			Schema:       delta,
		},
	}
	if len(opts.KeyColumns) > 0 {
		cs.IdentityColumns = cs.KeyColumns
	} else {
		cs.IdentityColumns = identity.HashColumns(projectedSchema(compared))
	}
	if base.Hash() == target.Hash() {
		log.Debug("snapshots are identical", zap.String("hash", base.Hash()))
		return cs, nil
	}

	bp, err := base.Project(compared.BaseProjection())
	if err != nil {
		return nil, fmt.Errorf("failed to project base: %w", err)
	}
	tp, err := target.Project(compared.TargetProjection())
	if err != nil {
		return nil, fmt.Errorf("failed to project target: %w", err)
	}
	bx, err := identity.Resolve(bp, opts.KeyColumns...)
	if err != nil {
		return nil, fmt.Errorf("base: %w", err)
	}
	tx, err := identity.Resolve(tp, opts.KeyColumns...)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}

	// Columns compared cell by cell, in name order. Hashed identities
	// already cover every compared column.
	var cells []int
	if bx.Keyed {
		for i, col := range compared {
			if !isKey(col.Name, opts.KeyColumns) {
				cells = append(cells, i)
			}
		}
		sort.Slice(cells, func(a, b int) bool { return compared[cells[a]].Name < compared[cells[b]].Name })
	}

	w := &walker{
		ctx:      ctx,
		progress: opts.Progress,
		batch:    opts.batchSize(),
		total:    int64(base.NumRows() + target.NumRows()),
	}

	var deltas []changeset.Delta
	for t := 0; t < tp.NumRows(); t++ {
		if err := w.step(); err != nil {
			return nil, err
		}
		id := tx.At(t)
		b, ok := bx.Lookup(id)
		if !ok {
			deltas = append(deltas, changeset.Delta{Kind: changeset.Added, Identity: id, Row: target.Row(t)})
			continue
		}
		var changed []changeset.CellChange
		for _, c := range cells {
			oldV, newV := bp.Value(b, c), tp.Value(t, c)
			if !oldV.Equal(newV, opts.FloatEpsilon) {
				changed = append(changed, changeset.CellChange{Column: compared[c].Name, Old: oldV, New: newV})
			}
		}
		if len(changed) > 0 {
			deltas = append(deltas, changeset.Delta{Kind: changeset.Modified, Identity: id, Cells: changed})
		}
	}
	for b := 0; b < bp.NumRows(); b++ {
		if err := w.step(); err != nil {
			return nil, err
		}
		id := bx.At(b)
		if _, ok := tx.Lookup(id); !ok {
			deltas = append(deltas, changeset.Delta{Kind: changeset.Removed, Identity: id, Row: base.Row(b)})
		}
	}
	w.done()

	sort.Slice(deltas, func(i, j int) bool { return deltas[i].Identity.Compare(deltas[j].Identity) < 0 })
	cs.Deltas = deltas

	stats := cs.Stats()
	log.Debug("diff computed",
		zap.Int("base_rows", base.NumRows()),
		zap.Int("target_rows", target.NumRows()),
		zap.Int("added", stats.Added),
		zap.Int("removed", stats.Removed),
		zap.Int("modified", stats.Modified),
		zap.Int("schema_changes", len(delta)))
	return cs, nil
}

func isKey(name string, keys []string) bool {
	for _, k := range keys {
		if k == name {
			return true
		}
	}
	return false
}

func projectedSchema(m schema.Mapping) snapshot.Schema {
	fields := make([]snapshot.Field, len(m))
	for i, c := range m {
		fields[i] = c.Field
	}
	return snapshot.MustSchema(fields...)
}

// walker counts processed rows, checking for cancellation and reporting
// progress once per batch.
type walker struct {
	ctx       context.Context
	progress  core.ProgressSink
	batch     int
	total     int64
	processed int64
}

func (w *walker) step() error {
	if w.processed%int64(w.batch) == 0 {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		if w.progress != nil && w.processed > 0 {
			w.progress.Progress(w.processed, w.total)
		}
	}
	w.processed++
	return nil
}

func (w *walker) done() {
	if w.progress != nil {
		w.progress.Progress(w.processed, w.total)
	}
}

// Pair is one dataset to diff with Many.
type Pair struct {
	Name   string
	Base   *snapshot.Snapshot
	Target *snapshot.Snapshot
	// KeyColumns overrides Options.KeyColumns when non-nil.
	KeyColumns []string
}

// Result is the outcome of one Pair.
type Result struct {
	Name      string
	Changeset *changeset.Changeset
}

// Many diffs independent pairs concurrently with at most workers diffs in
// flight. Results keep the order of pairs. The first error cancels the rest.
// Options.Progress is not used since pairs progress independently.
func Many(ctx context.Context, pairs []Pair, opts Options, workers int) ([]Result, error) {
	if workers <= 0 {
		workers = 4
	}
	results := make([]Result, len(pairs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range pairs {
		o := opts
		o.Progress = nil
		if p.KeyColumns != nil {
			o.KeyColumns = p.KeyColumns
		}
		g.Go(func() error {
			cs, err := Diff(ctx, p.Base, p.Target, o)
			if err != nil {
				return fmt.Errorf("%s: %w", p.Name, err)
			}
			results[i] = Result{Name: p.Name, Changeset: cs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
