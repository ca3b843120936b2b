// Package churn measures how much datasets changed over a window of their
// git history by diffing every commit against its first parent.
package churn

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/TFMV/tabdelta/pkg/diff"
	"github.com/TFMV/tabdelta/pkg/history"
	"github.com/TFMV/tabdelta/pkg/snapshot"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// History lists and inspects the commits of dataset files.
type History interface {
	Commits(ctx context.Context, path string, opts history.LogOptions) ([]history.Commit, error)
	Created(ctx context.Context, path string) (time.Time, error)
	Exists(ctx context.Context, rev, path string) (bool, error)
}

// Loader reads a dataset file at a revision.
type Loader interface {
	LoadAt(ctx context.Context, rev, path string) (*snapshot.Snapshot, error)
}

// Dataset is one file to measure.
type Dataset struct {
	Path string
	// KeyColumns overrides Options.Diff.KeyColumns when non-nil.
	KeyColumns []string
	Loader     Loader
}

// Options configures an analysis.
type Options struct {
	// Since drops commits made before it. Zero keeps the whole history.
	Since      time.Time
	WithMerges bool

	// MaxAge keeps only commits made within this long of the file's
	// creation. Zero keeps every commit.
	MaxAge time.Duration

	Diff    diff.Options
	Workers int
	Logger  *zap.Logger
}

// Counts are the row and schema changes of one or more commits.
type Counts struct {
	Added         int
	Removed       int
	Modified      int
	Cells         int
	SchemaChanges int
}

// Total is the number of changed rows.
func (c Counts) Total() int { return c.Added + c.Removed + c.Modified }

func (c *Counts) add(o Counts) {
	c.Added += o.Added
	c.Removed += o.Removed
	c.Modified += o.Modified
	c.Cells += o.Cells
	c.SchemaChanges += o.SchemaChanges
}

// Change is what a single commit did to a dataset.
type Change struct {
	Path   string
	Commit history.Commit
	Counts
}

// File sums the changes to one dataset.
type File struct {
	Path    string
	Created time.Time
	Commits int
	Counts
}

// Report is the outcome of Analyze. Files are ordered by descending total
// churn. Changes are grouped by file, newest commit first.
type Report struct {
	Since   time.Time
	Files   []File
	Changes []Change
}

type job struct {
	file   int
	commit history.Commit
}

// Analyze diffs each commit touching the datasets against its first parent
// and sums the changes per file. A commit creating the file counts all its
// rows as added and one deleting it counts them as removed.
func Analyze(ctx context.Context, h History, datasets []Dataset, opts Options) (*Report, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	report := &Report{Since: opts.Since, Files: make([]File, len(datasets))}
	var jobs []job
	for i, d := range datasets {
		report.Files[i] = File{Path: d.Path}
		commits, err := h.Commits(ctx, d.Path, history.LogOptions{
			Since:    opts.Since,
			NoMerges: !opts.WithMerges,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list commits of %s: %w", d.Path, err)
		}
		if len(commits) == 0 {
			continue
		}
		created, err := h.Created(ctx, d.Path)
		if err != nil {
			return nil, err
		}
		report.Files[i].Created = created
		for _, c := range commits {
			if opts.MaxAge > 0 && c.Date.Sub(created) > opts.MaxAge {
				continue
			}
			jobs = append(jobs, job{file: i, commit: c})
		}
		log.Debug("listed dataset commits",
			zap.String("path", d.Path),
			zap.Int("commits", len(commits)),
			zap.Time("created", created))
	}

	pairs := make([]*diff.Pair, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, j := range jobs {
		g.Go(func() error {
			p, err := loadPair(gctx, h, datasets[j.file], j.commit.Hash)
			if err != nil {
				return err
			}
			pairs[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var todo []diff.Pair
	var done []job
	for i, p := range pairs {
		if p == nil {
			continue
		}
		todo = append(todo, *p)
		done = append(done, jobs[i])
	}
	results, err := diff.Many(ctx, todo, opts.Diff, workers)
	if err != nil {
		return nil, err
	}

	for i, r := range results {
		j := done[i]
		st := r.Changeset.Stats()
		counts := Counts{
			Added:         st.Added,
			Removed:       st.Removed,
			Modified:      st.Modified,
			Cells:         st.Cells,
			SchemaChanges: len(r.Changeset.Schema),
		}
		report.Changes = append(report.Changes, Change{Path: datasets[j.file].Path, Commit: j.commit, Counts: counts})
		f := &report.Files[j.file]
		f.Commits++
		f.add(counts)
	}

	sort.SliceStable(report.Files, func(a, b int) bool {
		ta, tb := report.Files[a].Total(), report.Files[b].Total()
		if ta != tb {
			return ta > tb
		}
		return report.Files[a].Path < report.Files[b].Path
	})
	return report, nil
}

// loadPair reads the dataset at rev and at its first parent. A side where
// the file is absent is empty with the other side's schema. It returns nil
// when the file is absent on both sides.
func loadPair(ctx context.Context, h History, d Dataset, rev string) (*diff.Pair, error) {
	parent := rev + "^"
	var base, target *snapshot.Snapshot
	for _, side := range []struct {
		rev string
		out **snapshot.Snapshot
	}{{parent, &base}, {rev, &target}} {
		ok, err := h.Exists(ctx, side.rev, d.Path)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		s, err := d.Loader.LoadAt(ctx, side.rev, d.Path)
		if err != nil {
			return nil, err
		}
		*side.out = s
	}

	switch {
	case base == nil && target == nil:
		return nil, nil
	case base == nil:
		base = snapshot.Empty(target.Schema())
	case target == nil:
		target = snapshot.Empty(base.Schema())
	}
	return &diff.Pair{
		Name:       d.Path + "@" + rev,
		Base:       base,
		Target:     target,
		KeyColumns: d.KeyColumns,
	}, nil
}

// Snapshot renders the per-file summary as a table.
func (r *Report) Snapshot() (*snapshot.Snapshot, error) {
	schema := snapshot.MustSchema(
		snapshot.Field{Name: "path", Type: snapshot.TypeString},
		snapshot.Field{Name: "created", Type: snapshot.TypeTimestamp, Nullable: true},
		snapshot.Field{Name: "commits", Type: snapshot.TypeInt},
		snapshot.Field{Name: "rows_added", Type: snapshot.TypeInt},
		snapshot.Field{Name: "rows_removed", Type: snapshot.TypeInt},
		snapshot.Field{Name: "rows_modified", Type: snapshot.TypeInt},
		snapshot.Field{Name: "cells_modified", Type: snapshot.TypeInt},
		snapshot.Field{Name: "schema_changes", Type: snapshot.TypeInt},
		snapshot.Field{Name: "total_churn", Type: snapshot.TypeInt},
	)
	rows := make([][]snapshot.Value, 0, len(r.Files))
	for _, f := range r.Files {
		created := snapshot.Null()
		if !f.Created.IsZero() {
			created = snapshot.Timestamp(f.Created)
		}
		rows = append(rows, []snapshot.Value{
			snapshot.String(f.Path),
			created,
			snapshot.Int(int64(f.Commits)),
			snapshot.Int(int64(f.Added)),
			snapshot.Int(int64(f.Removed)),
			snapshot.Int(int64(f.Modified)),
			snapshot.Int(int64(f.Cells)),
			snapshot.Int(int64(f.SchemaChanges)),
			snapshot.Int(int64(f.Total())),
		})
	}
	return snapshot.New(schema, rows)
}
