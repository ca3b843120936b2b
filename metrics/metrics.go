// Package metrics summarizes diff and merge runs for reporting and storage.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/TFMV/tabdelta/pkg/schema"
)

// -----------------------------
// Run Metadata
// -----------------------------

// RunMetadata captures high-level context for a diff run.
type RunMetadata struct {
	BaseRef    string        `json:"base_ref"`
	TargetRef  string        `json:"target_ref"`
	BaseHash   string        `json:"base_hash"`
	TargetHash string        `json:"target_hash"`
	KeyColumns []string      `json:"key_columns,omitempty"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
}

// -----------------------------
// Result Types
// -----------------------------

// RowCountResult compares row counts of the two sides.
type RowCountResult struct {
	BaseCount   int64 `json:"base_count"`
	TargetCount int64 `json:"target_count"`
	Difference  int64 `json:"difference"`
}

// ChangeResult counts row-level changes.
type ChangeResult struct {
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Modified int `json:"modified"`
	Cells    int `json:"cells"`
}

// Total is the number of changed rows.
func (c ChangeResult) Total() int { return c.Added + c.Removed + c.Modified }

// SchemaResult lists schema-level changes by kind.
type SchemaResult struct {
	Added     []string          `json:"added,omitempty"`
	Removed   []string          `json:"removed,omitempty"`
	Promoted  map[string]string `json:"promoted,omitempty"`
	Conflicts map[string]string `json:"conflicts,omitempty"`
}

// Empty reports whether the schemas were identical.
func (s SchemaResult) Empty() bool {
	return len(s.Added)+len(s.Removed)+len(s.Promoted)+len(s.Conflicts) == 0
}

// ColumnResult counts modified cells of one column.
type ColumnResult struct {
	Name    string `json:"name"`
	Changed int    `json:"changed"`
}

// RowChange is one sampled change, with values rendered as text.
type RowChange struct {
	Change   string `json:"change"`
	Identity string `json:"identity"`
	Column   string `json:"column,omitempty"`
	Old      string `json:"old,omitempty"`
	New      string `json:"new,omitempty"`
}

// Report aggregates the results of a diff run.
type Report struct {
	Metadata RunMetadata    `json:"metadata"`
	RowCount RowCountResult `json:"row_count"`
	Changes  ChangeResult   `json:"changes"`
	Schema   SchemaResult   `json:"schema"`
	Columns  []ColumnResult `json:"columns,omitempty"`
	Samples  []RowChange    `json:"samples,omitempty"`
	// Status is true when the snapshots are identical.
	Status bool `json:"status"`
}

// Build summarizes c for snapshots of baseRows and targetRows rows. At most
// samples changes are kept as examples.
func Build(c *changeset.Changeset, meta RunMetadata, baseRows, targetRows int64, samples int) Report {
	meta.BaseHash = c.BaseHash
	meta.TargetHash = c.TargetHash
	meta.KeyColumns = c.KeyColumns
	if meta.Duration == 0 && !meta.EndTime.IsZero() {
		meta.Duration = meta.EndTime.Sub(meta.StartTime)
	}

	stats := c.Stats()
	r := Report{
		Metadata: meta,
		RowCount: RowCountResult{
			BaseCount:   baseRows,
			TargetCount: targetRows,
			Difference:  targetRows - baseRows,
		},
		Changes: ChangeResult{
			Added:    stats.Added,
			Removed:  stats.Removed,
			Modified: stats.Modified,
			Cells:    stats.Cells,
		},
		Schema: schemaResult(c.Schema),
		Status: c.Empty(),
	}

	perColumn := make(map[string]int)
	for _, d := range c.Deltas {
		for _, cell := range d.Cells {
			perColumn[cell.Column]++
		}
		if len(r.Samples) >= samples {
			continue
		}
		label := c.Label(d.Identity)
		if d.Kind != changeset.Modified {
			r.Samples = append(r.Samples, RowChange{Change: d.Kind.String(), Identity: label})
			continue
		}
		for _, cell := range d.Cells {
			if len(r.Samples) >= samples {
				break
			}
			r.Samples = append(r.Samples, RowChange{
				Change:   d.Kind.String(),
				Identity: label,
				Column:   cell.Column,
				Old:      cell.Old.String(),
				New:      cell.New.String(),
			})
		}
	}
	for name, n := range perColumn {
		r.Columns = append(r.Columns, ColumnResult{Name: name, Changed: n})
	}
	sort.Slice(r.Columns, func(i, j int) bool {
		if r.Columns[i].Changed != r.Columns[j].Changed {
			return r.Columns[i].Changed > r.Columns[j].Changed
		}
		return r.Columns[i].Name < r.Columns[j].Name
	})
	return r
}

func schemaResult(d schema.Delta) SchemaResult {
	var s SchemaResult
	for _, ch := range d {
		switch ch.Kind {
		case schema.ColumnAdded:
			s.Added = append(s.Added, ch.Column)
		case schema.ColumnRemoved:
			s.Removed = append(s.Removed, ch.Column)
		case schema.ColumnPromoted:
			if s.Promoted == nil {
				s.Promoted = make(map[string]string)
			}
			s.Promoted[ch.Column] = fmt.Sprintf("%s -> %s", ch.From, ch.To)
		case schema.TypeConflict:
			if s.Conflicts == nil {
				s.Conflicts = make(map[string]string)
			}
			s.Conflicts[ch.Column] = fmt.Sprintf("%s -> %s", ch.From, ch.To)
		}
	}
	return s
}

// -----------------------------
// Merge Summary
// -----------------------------

// MergeReport summarizes a three-way merge.
type MergeReport struct {
	AncestorHash    string           `json:"ancestor_hash"`
	MergedHash      string           `json:"merged_hash"`
	Changes         ChangeResult     `json:"changes"`
	Conflicts       []ConflictResult `json:"conflicts,omitempty"`
	SchemaConflicts []ConflictResult `json:"schema_conflicts,omitempty"`
	Clean           bool             `json:"clean"`
}

// ConflictResult renders one conflict as text.
type ConflictResult struct {
	Kind     string `json:"kind"`
	Identity string `json:"identity,omitempty"`
	Column   string `json:"column"`
	Ancestor string `json:"ancestor,omitempty"`
	Ours     string `json:"ours"`
	Theirs   string `json:"theirs"`
}

// BuildMerge summarizes a merge result.
func BuildMerge(res *changeset.MergeResult) MergeReport {
	stats := res.Changeset.Stats()
	r := MergeReport{
		AncestorHash: res.Changeset.BaseHash,
		MergedHash:   res.Changeset.TargetHash,
		Changes:      ChangeResult{Added: stats.Added, Removed: stats.Removed, Modified: stats.Modified, Cells: stats.Cells},
		Clean:        res.Clean(),
	}
	for _, c := range res.Conflicts {
		r.Conflicts = append(r.Conflicts, ConflictResult{
			Kind:     c.Kind.String(),
			Identity: res.Changeset.Label(c.Identity),
			Column:   c.Column,
			Ancestor: c.Ancestor.String(),
			Ours:     c.Ours.String(),
			Theirs:   c.Theirs.String(),
		})
	}
	for _, c := range res.SchemaConflicts {
		r.SchemaConflicts = append(r.SchemaConflicts, ConflictResult{
			Kind:   "schema",
			Column: c.Column,
			Ours:   c.Ours.String(),
			Theirs: c.Theirs.String(),
		})
	}
	return r
}

// -----------------------------
// Metrics Storage
// -----------------------------

// Store abstracts report storage.
type Store interface {
	Save(r Report) error
	SaveWithContext(ctx context.Context, r Report) error
}

// JSONStore stores reports as JSON, in a file or on Out when FilePath is
// empty.
type JSONStore struct {
	FilePath string
	Out      io.Writer
}

func (j *JSONStore) Save(r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if j.FilePath != "" {
		return os.WriteFile(j.FilePath, data, 0o644)
	}
	out := j.Out
	if out == nil {
		out = os.Stdout
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func (j *JSONStore) SaveWithContext(ctx context.Context, r Report) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return j.Save(r)
	}
}

// Load reads a report saved by JSONStore.
func Load(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return r, nil
}
