package changeset

import (
	"fmt"
	"sort"

	"github.com/TFMV/tabdelta/pkg/identity"
	"github.com/TFMV/tabdelta/pkg/schema"
	"github.com/TFMV/tabdelta/pkg/snapshot"
)

// ConflictKind classifies a merge conflict. Ours is the first changeset
// passed to Merge, theirs the second.
type ConflictKind uint8

const (
	// ModifyModify: both sides changed a cell to different values.
	ModifyModify ConflictKind = iota + 1
	// DeleteModify: ours removed the row or column, theirs modified the cell.
	DeleteModify
	// ModifyDelete: ours modified the cell, theirs removed the row or column.
	ModifyDelete
	// AddAdd: both sides added the row with different content.
	AddAdd
)

func (k ConflictKind) String() string {
	switch k {
	case ModifyModify:
		return "modify-modify"
	case DeleteModify:
		return "delete-modify"
	case ModifyDelete:
		return "modify-delete"
	case AddAdd:
		return "add-add"
	}
	return fmt.Sprintf("conflict(%d)", uint8(k))
}

// Conflict is an (identity, column) pair both sides changed incompatibly.
// The merged changeset leaves the cell at its ancestor state.
type Conflict struct {
	Identity identity.Identity
	Column   string
	Kind     ConflictKind
	Ancestor snapshot.Value
	Ours     snapshot.Value
	Theirs   snapshot.Value
}

// SchemaConflict is a column both sides changed differently at schema level.
// The merged schema keeps the ancestor column, or omits it when it did not
// exist in the ancestor.
type SchemaConflict struct {
	Column string
	Ours   schema.Change
	Theirs schema.Change
}

// MergeResult is a merged changeset relative to the ancestor plus every
// conflict found while merging.
type MergeResult struct {
	Changeset       *Changeset
	Conflicts       []Conflict
	SchemaConflicts []SchemaConflict
}

// Clean reports whether the merge completed without conflicts.
func (r *MergeResult) Clean() bool {
	return len(r.Conflicts) == 0 && len(r.SchemaConflicts) == 0
}

type mergeOptions struct {
	epsilon float64
}

// MergeOption configures Merge.
type MergeOption func(*mergeOptions)

// WithEpsilon sets the tolerance used when comparing float values changed by
// both sides.
func WithEpsilon(epsilon float64) MergeOption {
	return func(o *mergeOptions) { o.epsilon = epsilon }
}

// Merge combines two changesets computed against the same ancestor. Changes
// made by only one side are taken, identical changes are taken once, and
// diverging changes are reported as conflicts without picking a side.
func Merge(ours, theirs *Changeset, ancestor *snapshot.Snapshot, opts ...MergeOption) (*MergeResult, error) {
	o := mergeOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if err := checkMergeable(ours, theirs, ancestor); err != nil {
		return nil, err
	}

	m := &merger{ours: ours, theirs: theirs, ancestor: ancestor, epsilon: o.epsilon}
	m.mergeSchema()
	if err := m.mergeRows(); err != nil {
		return nil, err
	}
	return m.result()
}

func checkMergeable(ours, theirs *Changeset, ancestor *snapshot.Snapshot) error {
	h := ancestor.Hash()
	if ours.BaseHash != h || theirs.BaseHash != h {
		return fmt.Errorf("%w: changesets are not both based on ancestor %s", ErrIncompatible, h)
	}
	if !equalStrings(ours.KeyColumns, theirs.KeyColumns) {
		return fmt.Errorf("%w: key columns %v and %v differ", ErrIncompatible, ours.KeyColumns, theirs.KeyColumns)
	}
	if !equalStrings(ours.IdentityColumns, theirs.IdentityColumns) {
		return fmt.Errorf("%w: identity columns %v and %v differ", ErrIncompatible, ours.IdentityColumns, theirs.IdentityColumns)
	}
	for _, name := range ours.IdentityColumns {
		a, _, _ := ours.TargetSchema.Lookup(name)
		b, _, _ := theirs.TargetSchema.Lookup(name)
		if a.Type != b.Type {
			return fmt.Errorf("%w: identity column %s is %s on one side and %s on the other",
				ErrIncompatible, name, a.Type, b.Type)
		}
	}
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type merger struct {
	ours, theirs *Changeset
	ancestor     *snapshot.Snapshot
	epsilon      float64

	fields          []snapshot.Field
	index           map[string]int
	deltas          []Delta
	conflicts       []Conflict
	schemaConflicts []SchemaConflict
}

// mergeSchema unions both schema deltas and derives the merged target fields:
// ancestor columns in ancestor order, then added columns by name.
func (m *merger) mergeSchema() {
	chosen := make(map[string]schema.Change)
	side := make(map[string]*Changeset)
	names := make(map[string]bool)
	for _, c := range m.ours.Schema {
		names[c.Column] = true
	}
	for _, c := range m.theirs.Schema {
		names[c.Column] = true
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		a, okA := m.ours.Schema.Find(name)
		b, okB := m.theirs.Schema.Find(name)
		switch {
		case okA && okB && a != b:
			m.schemaConflicts = append(m.schemaConflicts, SchemaConflict{Column: name, Ours: a, Theirs: b})
		case okA:
			chosen[name], side[name] = a, m.ours
		default:
			chosen[name], side[name] = b, m.theirs
		}
	}

	targetField := func(c *Changeset, name string) snapshot.Field {
		f, _, _ := c.TargetSchema.Lookup(name)
		return f
	}
	for _, f := range m.ancestor.Schema().Fields() {
		ch, ok := chosen[f.Name]
		if !ok {
			for _, c := range []*Changeset{m.ours, m.theirs} {
				if tf, _, ok := c.TargetSchema.Lookup(f.Name); ok && tf.Type == f.Type {
					f.Nullable = f.Nullable || tf.Nullable
				}
			}
			m.fields = append(m.fields, f)
			continue
		}
		switch ch.Kind {
		case schema.ColumnRemoved:
		case schema.ColumnPromoted, schema.TypeConflict:
			m.fields = append(m.fields, targetField(side[f.Name], f.Name))
		}
	}
	for _, name := range sorted {
		if ch, ok := chosen[name]; ok && ch.Kind == schema.ColumnAdded {
			f := targetField(side[name], name)
			if other, _, ok := m.theirs.TargetSchema.Lookup(name); ok && side[name] == m.ours {
				f.Nullable = f.Nullable || other.Nullable
			}
			m.fields = append(m.fields, f)
		}
	}
	m.index = make(map[string]int, len(m.fields))
	for i, f := range m.fields {
		m.index[f.Name] = i
	}
}

// conform converts v into the merged type of a column. Only int to float
// widening is possible; other mismatches are rejected.
func conform(v snapshot.Value, t snapshot.Type) (snapshot.Value, bool) {
	switch {
	case v.IsNull() || v.Kind() == t.Kind():
		return v, true
	case v.Kind() == snapshot.KindInt && t == snapshot.TypeFloat:
		return snapshot.Float(float64(v.Int64())), true
	}
	return snapshot.Null(), false
}

// conformRow maps a full row of c's target schema onto the merged fields.
// Columns the side does not have are null. Non-null values the merged schema
// cannot hold, because it dropped or retyped their column, are returned as
// lost cells with the side's value in New.
func (m *merger) conformRow(c *Changeset, row []snapshot.Value) ([]snapshot.Value, []CellChange) {
	out := make([]snapshot.Value, len(m.fields))
	var lost []CellChange
	for i, f := range m.fields {
		if _, pos, ok := c.TargetSchema.Lookup(f.Name); ok {
			v, ok := conform(row[pos], f.Type)
			if !ok {
				lost = append(lost, CellChange{Column: f.Name, New: row[pos]})
			}
			out[i] = v
		}
	}
	for pos, f := range c.TargetSchema.Fields() {
		if _, ok := m.index[f.Name]; !ok && !row[pos].IsNull() {
			lost = append(lost, CellChange{Column: f.Name, New: row[pos]})
		}
	}
	return out, lost
}

// takeRow records an added row of the merged changeset.
func (m *merger) takeRow(id identity.Identity, row []snapshot.Value) {
	for i, v := range row {
		if v.IsNull() {
			m.fields[i].Nullable = true
		}
	}
	m.deltas = append(m.deltas, Delta{Kind: Added, Identity: id, Row: row})
}

// rowValue returns the value of column in a full row of c's target schema.
func rowValue(c *Changeset, row []snapshot.Value, column string) snapshot.Value {
	if _, pos, ok := c.TargetSchema.Lookup(column); ok {
		return row[pos]
	}
	return snapshot.Null()
}

// conformCell maps a modified cell onto the merged schema. It fails when the
// merged schema dropped the column or retyped it incompatibly.
func (m *merger) conformCell(cell CellChange) (CellChange, bool) {
	i, ok := m.index[cell.Column]
	if !ok {
		return CellChange{}, false
	}
	f := m.fields[i]
	oldV, ok1 := conform(cell.Old, f.Type)
	newV, ok2 := conform(cell.New, f.Type)
	if !ok1 || !ok2 {
		return CellChange{}, false
	}
	if newV.IsNull() {
		m.fields[i].Nullable = true
	}
	return CellChange{Column: cell.Column, Old: oldV, New: newV}, true
}

func (m *merger) conflict(id identity.Identity, column string, kind ConflictKind, ancestor, ours, theirs snapshot.Value) {
	m.conflicts = append(m.conflicts, Conflict{
		Identity: id, Column: column, Kind: kind,
		Ancestor: ancestor, Ours: ours, Theirs: theirs,
	})
}

// mergeRows walks both delta lists in identity order.
func (m *merger) mergeRows() error {
	a, b := m.ours.Deltas, m.theirs.Deltas
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var c int
		switch {
		case i == len(a):
			c = 1
		case j == len(b):
			c = -1
		default:
			c = a[i].Identity.Compare(b[j].Identity)
		}
		switch {
		case c < 0:
			m.one(a[i], true)
			i++
		case c > 0:
			m.one(b[j], false)
			j++
		default:
			if err := m.both(a[i], b[j]); err != nil {
				return err
			}
			i++
			j++
		}
	}
	return nil
}

// one takes a delta only one side made.
func (m *merger) one(d Delta, ours bool) {
	c := m.theirs
	if ours {
		c = m.ours
	}
	switch d.Kind {
	case Added:
		row, lost := m.conformRow(c, d.Row)
		if len(lost) == 0 {
			m.takeRow(d.Identity, row)
			return
		}
		// The other side dropped or retyped a column this row has a value
		// for. The row is left out until the conflict is resolved.
		for _, cell := range lost {
			if ours {
				m.conflict(d.Identity, cell.Column, ModifyDelete, snapshot.Null(), cell.New, snapshot.Null())
			} else {
				m.conflict(d.Identity, cell.Column, DeleteModify, snapshot.Null(), snapshot.Null(), cell.New)
			}
		}
	case Removed:
		m.deltas = append(m.deltas, d)
	case Modified:
		var cells []CellChange
		for _, cell := range d.Cells {
			if cc, ok := m.conformCell(cell); ok {
				cells = append(cells, cc)
				continue
			}
			if ours {
				m.conflict(d.Identity, cell.Column, ModifyDelete, cell.Old, cell.New, snapshot.Null())
			} else {
				m.conflict(d.Identity, cell.Column, DeleteModify, cell.Old, snapshot.Null(), cell.New)
			}
		}
		if len(cells) > 0 {
			m.deltas = append(m.deltas, Delta{Kind: Modified, Identity: d.Identity, Cells: cells})
		}
	}
}

// both reconciles deltas both sides made to the same row.
func (m *merger) both(a, b Delta) error {
	id := a.Identity
	switch {
	case a.Kind == Added && b.Kind == Added:
		ra, lostA := m.conformRow(m.ours, a.Row)
		rb, lostB := m.conformRow(m.theirs, b.Row)
		seen := make(map[string]bool)
		for _, cell := range append(lostA, lostB...) {
			if !seen[cell.Column] {
				seen[cell.Column] = true
				m.conflict(id, cell.Column, AddAdd, snapshot.Null(),
					rowValue(m.ours, a.Row, cell.Column), rowValue(m.theirs, b.Row, cell.Column))
			}
		}
		for i, f := range m.fields {
			if !seen[f.Name] && !ra[i].Equal(rb[i], m.epsilon) {
				seen[f.Name] = true
				m.conflict(id, f.Name, AddAdd, snapshot.Null(), ra[i], rb[i])
			}
		}
		if len(seen) == 0 {
			m.takeRow(id, ra)
		}
	case a.Kind == Removed && b.Kind == Removed:
		m.deltas = append(m.deltas, a)
	case a.Kind == Removed && b.Kind == Modified:
		for _, cell := range b.Cells {
			m.conflict(id, cell.Column, DeleteModify, cell.Old, snapshot.Null(), cell.New)
		}
	case a.Kind == Modified && b.Kind == Removed:
		for _, cell := range a.Cells {
			m.conflict(id, cell.Column, ModifyDelete, cell.Old, cell.New, snapshot.Null())
		}
	case a.Kind == Modified && b.Kind == Modified:
		m.bothModified(id, a.Cells, b.Cells)
	default:
		return fmt.Errorf("%w: row %s is %s on one side and %s on the other",
			ErrIncompatible, id.Label(m.ours.KeyColumns), a.Kind, b.Kind)
	}
	return nil
}

func (m *merger) bothModified(id identity.Identity, a, b []CellChange) {
	var cells []CellChange
	take := func(cell CellChange, ours bool) {
		if cc, ok := m.conformCell(cell); ok {
			cells = append(cells, cc)
		} else if ours {
			m.conflict(id, cell.Column, ModifyDelete, cell.Old, cell.New, snapshot.Null())
		} else {
			m.conflict(id, cell.Column, DeleteModify, cell.Old, snapshot.Null(), cell.New)
		}
	}
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j == len(b) || (i < len(a) && a[i].Column < b[j].Column):
			take(a[i], true)
			i++
		case i == len(a) || b[j].Column < a[i].Column:
			take(b[j], false)
			j++
		default:
			ca, okA := m.conformCell(a[i])
			cb, okB := m.conformCell(b[j])
			if okA && okB && ca.New.Equal(cb.New, m.epsilon) {
				cells = append(cells, ca)
			} else {
				m.conflict(id, a[i].Column, ModifyModify, a[i].Old, a[i].New, b[j].New)
			}
			i++
			j++
		}
	}
	if len(cells) > 0 {
		m.deltas = append(m.deltas, Delta{Kind: Modified, Identity: id, Cells: cells})
	}
}

func (m *merger) result() (*MergeResult, error) {
	anc := m.ancestor.Schema()
	if m.ancestor.NumRows() > 0 {
		for i, f := range m.fields {
			bf, _, ok := anc.Lookup(f.Name)
			if !ok || !(bf.Type == f.Type || schema.Promotable(bf.Type, f.Type)) {
				m.fields[i].Nullable = true
			}
		}
	}
	target, err := snapshot.NewSchema(m.fields...)
	if err != nil {
		return nil, err
	}
	_, delta, err := schema.Reconcile(anc, target)
	if err != nil {
		return nil, err
	}
	merged := &Changeset{
		Header: Header{
			BaseHash:        m.ancestor.Hash(),
			KeyColumns:      m.ours.KeyColumns,
			IdentityColumns: m.ours.IdentityColumns,
			BaseSchema:      anc,
			TargetSchema:    target,
			Schema:          delta,
		},
		Deltas: m.deltas,
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	applied, err := Apply(m.ancestor, merged)
	if err != nil {
		return nil, fmt.Errorf("failed to replay merged changeset: %w", err)
	}
	merged.TargetHash = applied.Hash()

	sort.SliceStable(m.conflicts, func(i, j int) bool {
		if c := m.conflicts[i].Identity.Compare(m.conflicts[j].Identity); c != 0 {
			return c < 0
		}
		return m.conflicts[i].Column < m.conflicts[j].Column
	})
	return &MergeResult{Changeset: merged, Conflicts: m.conflicts, SchemaConflicts: m.schemaConflicts}, nil
}
