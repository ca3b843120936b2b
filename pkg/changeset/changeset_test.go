package changeset_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/TFMV/tabdelta/pkg/diff"
	"github.com/TFMV/tabdelta/pkg/identity"
	"github.com/TFMV/tabdelta/pkg/schema"
	"github.com/TFMV/tabdelta/pkg/snapshot"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var idV = []snapshot.Field{
	{Name: "id", Type: snapshot.TypeInt},
	{Name: "v", Type: snapshot.TypeInt, Nullable: true},
	{Name: "name", Type: snapshot.TypeString, Nullable: true},
}

func row(id, v int64, name string) []snapshot.Value {
	return []snapshot.Value{snapshot.Int(id), snapshot.Int(v), snapshot.String(name)}
}

func mustSnapshot(t *testing.T, fields []snapshot.Field, rows ...[]snapshot.Value) *snapshot.Snapshot {
	t.Helper()
	s, err := snapshot.New(snapshot.MustSchema(fields...), rows)
	require.NoError(t, err)
	return s
}

func mustDiff(t *testing.T, base, target *snapshot.Snapshot, keys ...string) *changeset.Changeset {
	t.Helper()
	cs, err := diff.Diff(context.Background(), base, target, diff.Options{KeyColumns: keys})
	require.NoError(t, err)
	return cs
}

func key(id int64) identity.Identity {
	return identity.Identity{Key: []snapshot.Value{snapshot.Int(id)}}
}

func sampleChangeset(t *testing.T) *changeset.Changeset {
	base := mustSnapshot(t, idV, row(1, 10, "a"), row(2, 20, "b"), row(4, 40, "d"))
	target := mustSnapshot(t, []snapshot.Field{
		{Name: "id", Type: snapshot.TypeInt},
		{Name: "v", Type: snapshot.TypeFloat, Nullable: true},
		{Name: "seen", Type: snapshot.TypeTimestamp, Nullable: true},
	},
		[]snapshot.Value{snapshot.Int(1), snapshot.Float(15.5), snapshot.Null()},
		[]snapshot.Value{snapshot.Int(3), snapshot.Null(), snapshot.TimestampNanos(1700000000000000001)},
		[]snapshot.Value{snapshot.Int(4), snapshot.Float(40), snapshot.Null()},
	)
	return mustDiff(t, base, target, "id")
}

func TestEncodeRoundTrip(t *testing.T) {
	cs := sampleChangeset(t)
	require.Len(t, cs.Deltas, 3)
	require.Len(t, cs.Schema, 3)

	b, err := changeset.Encode(cs)
	require.NoError(t, err)
	assert.Equal(t, []byte("TDCS\x01H"), b[:6])

	decoded, err := changeset.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, cs.Deltas, decoded.Deltas)
	assert.Equal(t, cs.Schema, decoded.Schema)
	assert.True(t, cs.BaseSchema.Equal(decoded.BaseSchema))
	assert.True(t, cs.TargetSchema.Equal(decoded.TargetSchema))
	assert.Equal(t, cs.KeyColumns, decoded.KeyColumns)

	again, err := changeset.Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func TestEncodeEmpty(t *testing.T) {
	s := mustSnapshot(t, idV, row(1, 10, "a"))
	cs := mustDiff(t, s, s)
	b, err := changeset.Encode(cs)
	require.NoError(t, err)
	decoded, err := changeset.Decode(b)
	require.NoError(t, err)
	assert.True(t, decoded.Empty())
	assert.Equal(t, s.Hash(), decoded.TargetHash)
}

func TestDecoderStopsEarly(t *testing.T) {
	cs := sampleChangeset(t)
	b, err := changeset.Encode(cs)
	require.NoError(t, err)

	// Drop the trailer and the last record: the header and first delta are
	// still readable.
	d := changeset.NewDecoder(bytes.NewReader(b[:len(b)-8]))
	h, err := d.Header()
	require.NoError(t, err)
	assert.Equal(t, cs.BaseHash, h.BaseHash)

	first, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, cs.Deltas[0], first)

	full := changeset.NewDecoder(bytes.NewReader(b))
	n := 0
	for {
		_, err := full.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 3, n)
	_, err = full.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeCorrupt(t *testing.T) {
	cs := sampleChangeset(t)
	b, err := changeset.Encode(cs)
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":     nil,
		"magic":     append([]byte("XXXX"), b[4:]...),
		"version":   append([]byte("TDCS\x09"), b[5:]...),
		"truncated": b[:len(b)-1],
		"no trailer": func() []byte {
			var buf bytes.Buffer
			e := changeset.NewEncoder(&buf)
			require.NoError(t, e.WriteHeader(cs.Header))
			return buf.Bytes()
		}(),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := changeset.Decode(data)
			assert.ErrorIs(t, err, changeset.ErrCorrupt)
		})
	}
}

func TestValidate(t *testing.T) {
	cs := sampleChangeset(t)
	require.NoError(t, cs.Validate())

	swapped := *cs
	swapped.Deltas = []changeset.Delta{cs.Deltas[1], cs.Deltas[0]}
	assert.ErrorIs(t, swapped.Validate(), changeset.ErrCorrupt)

	short := *cs
	short.Deltas = []changeset.Delta{{Kind: changeset.Added, Identity: key(9), Row: []snapshot.Value{snapshot.Int(9)}}}
	assert.ErrorIs(t, short.Validate(), changeset.ErrCorrupt)
}

func TestFiles(t *testing.T) {
	cs := sampleChangeset(t)
	dir := t.TempDir()
	for _, name := range []string{"delta.tdcs", "delta.tdcs.s2"} {
		path := filepath.Join(dir, name)
		require.NoError(t, changeset.WriteFile(path, cs))

		got, err := changeset.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, cs.Deltas, got.Deltas)

		f, err := changeset.OpenFile(path)
		require.NoError(t, err)
		h, err := f.Header()
		require.NoError(t, err)
		assert.Equal(t, cs.TargetHash, h.TargetHash)
		require.NoError(t, f.Close())
	}
	assert.True(t, changeset.Compressed("x.S2"))
	assert.True(t, changeset.IsFile("out/x.TDCS"))
	assert.True(t, changeset.IsFile("x.tdcs.s2"))
	assert.False(t, changeset.IsFile("x.parquet"))

	_, err := changeset.ReadFile(filepath.Join(dir, "missing.tdcs"))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	base := mustSnapshot(t, idV, row(1, 10, "a"), row(2, 20, "b"), row(4, 40, "d"))
	cs := sampleChangeset(t)

	got, err := changeset.Apply(base, cs)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "v", "seen"}, got.Schema().Names())
	require.Equal(t, 3, got.NumRows())
	assert.Equal(t, []snapshot.Value{snapshot.Int(1), snapshot.Float(15.5), snapshot.Null()}, got.Row(0))
	assert.Equal(t, []snapshot.Value{snapshot.Int(4), snapshot.Float(40), snapshot.Null()}, got.Row(1))
	assert.Equal(t, snapshot.Int(3), got.Value(2, 0))

	other := mustSnapshot(t, idV, row(1, 10, "a"))
	_, err = changeset.Apply(other, cs)
	assert.ErrorIs(t, err, changeset.ErrBaseMismatch)
}

func TestApplyFillsAddedColumns(t *testing.T) {
	base := mustSnapshot(t, idV, row(1, 10, "a"))
	target := mustSnapshot(t, append(idV, snapshot.Field{Name: "extra", Type: snapshot.TypeBool}),
		[]snapshot.Value{snapshot.Int(1), snapshot.Int(10), snapshot.String("a"), snapshot.Bool(true)})
	cs := mustDiff(t, base, target, "id")
	assert.Empty(t, cs.Deltas)

	got, err := changeset.Apply(base, cs)
	require.NoError(t, err)
	f, _, ok := got.Schema().Lookup("extra")
	require.True(t, ok)
	assert.True(t, f.Nullable)
	assert.True(t, got.Value(0, 3).IsNull())
}

func TestMergeDisjoint(t *testing.T) {
	anc := mustSnapshot(t, idV, row(1, 10, "a"), row(2, 20, "b"), row(3, 30, "c"))
	ours := mustDiff(t, anc, mustSnapshot(t, idV, row(1, 11, "a"), row(2, 20, "b"), row(3, 30, "c"), row(5, 50, "e")), "id")
	theirs := mustDiff(t, anc, mustSnapshot(t, idV, row(1, 10, "z"), row(2, 20, "b")), "id")

	res, err := changeset.Merge(ours, theirs, anc)
	require.NoError(t, err)
	assert.True(t, res.Clean())

	merged := res.Changeset
	require.Len(t, merged.Deltas, 3)
	assert.Equal(t, changeset.Modified, merged.Deltas[0].Kind)
	assert.Equal(t, []changeset.CellChange{
		{Column: "name", Old: snapshot.String("a"), New: snapshot.String("z")},
		{Column: "v", Old: snapshot.Int(10), New: snapshot.Int(11)},
	}, merged.Deltas[0].Cells)
	assert.Equal(t, changeset.Removed, merged.Deltas[1].Kind)
	assert.Equal(t, changeset.Added, merged.Deltas[2].Kind)

	got, err := changeset.Apply(anc, merged)
	require.NoError(t, err)
	assert.Equal(t, merged.TargetHash, got.Hash())
	want := mustSnapshot(t, idV, row(1, 11, "z"), row(2, 20, "b"), row(5, 50, "e"))
	assert.Equal(t, want.Hash(), got.Hash())

	swapped, err := changeset.Merge(theirs, ours, anc)
	require.NoError(t, err)
	a, err := changeset.Encode(merged)
	require.NoError(t, err)
	b, err := changeset.Encode(swapped.Changeset)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMergeModifyModify(t *testing.T) {
	anc := mustSnapshot(t, idV, row(1, 10, "a"))
	ours := mustDiff(t, anc, mustSnapshot(t, idV, row(1, 15, "b")), "id")
	theirs := mustDiff(t, anc, mustSnapshot(t, idV, row(1, 25, "b")), "id")

	res, err := changeset.Merge(ours, theirs, anc)
	require.NoError(t, err)
	assert.Equal(t, []changeset.Conflict{{
		Identity: key(1), Column: "v", Kind: changeset.ModifyModify,
		Ancestor: snapshot.Int(10), Ours: snapshot.Int(15), Theirs: snapshot.Int(25),
	}}, res.Conflicts)

	// The agreeing change to name is kept; v stays at the ancestor value.
	require.Len(t, res.Changeset.Deltas, 1)
	assert.Equal(t, []changeset.CellChange{
		{Column: "name", Old: snapshot.String("a"), New: snapshot.String("b")},
	}, res.Changeset.Deltas[0].Cells)
	got, err := changeset.Apply(anc, res.Changeset)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Int(10), got.Value(0, 1))
}

func TestMergeDeleteModify(t *testing.T) {
	anc := mustSnapshot(t, idV, row(1, 10, "a"), row(2, 20, "b"))
	ours := mustDiff(t, anc, mustSnapshot(t, idV, row(2, 20, "b")), "id")
	theirs := mustDiff(t, anc, mustSnapshot(t, idV, row(1, 12, "a"), row(2, 20, "b")), "id")

	res, err := changeset.Merge(ours, theirs, anc)
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, changeset.DeleteModify, c.Kind)
	assert.Equal(t, "v", c.Column)
	assert.True(t, c.Ours.IsNull())
	assert.Equal(t, snapshot.Int(12), c.Theirs)
	assert.Empty(t, res.Changeset.Deltas)

	swapped, err := changeset.Merge(theirs, ours, anc)
	require.NoError(t, err)
	assert.Equal(t, changeset.ModifyDelete, swapped.Conflicts[0].Kind)
}

func TestMergeAddAdd(t *testing.T) {
	anc := mustSnapshot(t, idV, row(1, 10, "a"))
	ours := mustDiff(t, anc, mustSnapshot(t, idV, row(1, 10, "a"), row(2, 20, "b"), row(3, 30, "c")), "id")
	theirs := mustDiff(t, anc, mustSnapshot(t, idV, row(1, 10, "a"), row(2, 20, "b"), row(3, 31, "x")), "id")

	res, err := changeset.Merge(ours, theirs, anc)
	require.NoError(t, err)
	require.Len(t, res.Changeset.Deltas, 1)
	assert.Equal(t, key(2), res.Changeset.Deltas[0].Identity)

	require.Len(t, res.Conflicts, 2)
	assert.Equal(t, "name", res.Conflicts[0].Column)
	assert.Equal(t, "v", res.Conflicts[1].Column)
	for _, c := range res.Conflicts {
		assert.Equal(t, changeset.AddAdd, c.Kind)
		assert.Equal(t, key(3), c.Identity)
	}
}

func TestMergeRemovedBoth(t *testing.T) {
	anc := mustSnapshot(t, idV, row(1, 10, "a"), row(2, 20, "b"))
	target := mustSnapshot(t, idV, row(1, 10, "a"))
	res, err := changeset.Merge(mustDiff(t, anc, target, "id"), mustDiff(t, anc, target, "id"), anc)
	require.NoError(t, err)
	assert.True(t, res.Clean())
	require.Len(t, res.Changeset.Deltas, 1)
	assert.Equal(t, target.Hash(), res.Changeset.TargetHash)
}

func TestMergeSchema(t *testing.T) {
	anc := mustSnapshot(t, idV, row(1, 10, "a"))
	promoted := []snapshot.Field{
		{Name: "id", Type: snapshot.TypeInt},
		{Name: "v", Type: snapshot.TypeFloat, Nullable: true},
		{Name: "name", Type: snapshot.TypeString, Nullable: true},
	}
	ours := mustDiff(t, anc, mustSnapshot(t, promoted,
		[]snapshot.Value{snapshot.Int(1), snapshot.Float(10), snapshot.String("a")}), "id")
	theirs := mustDiff(t, anc, mustSnapshot(t, idV, row(1, 12, "a"), row(2, 20, "b")), "id")

	res, err := changeset.Merge(ours, theirs, anc)
	require.NoError(t, err)
	assert.True(t, res.Clean())
	f, _, _ := res.Changeset.TargetSchema.Lookup("v")
	assert.Equal(t, snapshot.TypeFloat, f.Type)

	got, err := changeset.Apply(anc, res.Changeset)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Float(12), got.Value(0, 1))
	assert.Equal(t, snapshot.Float(20), got.Value(1, 1))

	retyped := []snapshot.Field{
		{Name: "id", Type: snapshot.TypeInt},
		{Name: "v", Type: snapshot.TypeString, Nullable: true},
		{Name: "name", Type: snapshot.TypeString, Nullable: true},
	}
	conflicting := mustDiff(t, anc, mustSnapshot(t, retyped,
		[]snapshot.Value{snapshot.Int(1), snapshot.String("ten"), snapshot.String("a")}), "id")
	res, err = changeset.Merge(ours, conflicting, anc)
	require.NoError(t, err)
	require.Len(t, res.SchemaConflicts, 1)
	assert.Equal(t, "v", res.SchemaConflicts[0].Column)
	assert.Equal(t, schema.ColumnPromoted, res.SchemaConflicts[0].Ours.Kind)
	f, _, _ = res.Changeset.TargetSchema.Lookup("v")
	assert.Equal(t, snapshot.TypeInt, f.Type)
}

func TestMergeAddedRowLosesColumn(t *testing.T) {
	anc := mustSnapshot(t, idV, row(1, 10, "a"))
	ours := mustDiff(t, anc, mustSnapshot(t, idV, row(1, 10, "a"), row(3, 30, "c")), "id")

	retyped := mustDiff(t, anc, mustSnapshot(t, []snapshot.Field{
		{Name: "id", Type: snapshot.TypeInt},
		{Name: "v", Type: snapshot.TypeString, Nullable: true},
		{Name: "name", Type: snapshot.TypeString, Nullable: true},
	}, []snapshot.Value{snapshot.Int(1), snapshot.String("ten"), snapshot.String("a")}), "id")

	res, err := changeset.Merge(ours, retyped, anc)
	require.NoError(t, err)
	assert.False(t, res.Clean())
	assert.Empty(t, res.SchemaConflicts)
	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, key(3), c.Identity)
	assert.Equal(t, "v", c.Column)
	assert.Equal(t, changeset.ModifyDelete, c.Kind)
	assert.Equal(t, snapshot.Int(30), c.Ours)
	assert.Empty(t, res.Changeset.Deltas)

	dropped := mustDiff(t, anc, mustSnapshot(t, idV[:2],
		[]snapshot.Value{snapshot.Int(1), snapshot.Int(10)}), "id")
	res, err = changeset.Merge(dropped, ours, anc)
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "name", res.Conflicts[0].Column)
	assert.Equal(t, changeset.DeleteModify, res.Conflicts[0].Kind)
	assert.Equal(t, snapshot.String("c"), res.Conflicts[0].Theirs)
	assert.Empty(t, res.Changeset.Deltas)

	// A null in the dropped column loses nothing.
	withNull := mustDiff(t, anc, mustSnapshot(t, idV, row(1, 10, "a"),
		[]snapshot.Value{snapshot.Int(3), snapshot.Int(30), snapshot.Null()}), "id")
	res, err = changeset.Merge(dropped, withNull, anc)
	require.NoError(t, err)
	assert.True(t, res.Clean())
	require.Len(t, res.Changeset.Deltas, 1)
	assert.Equal(t, []snapshot.Value{snapshot.Int(3), snapshot.Int(30)}, res.Changeset.Deltas[0].Row)
}

func TestMergeIncompatible(t *testing.T) {
	anc := mustSnapshot(t, idV, row(1, 10, "a"))
	other := mustSnapshot(t, idV, row(1, 11, "a"))
	keyed := mustDiff(t, anc, other, "id")
	hashed := mustDiff(t, anc, other)

	_, err := changeset.Merge(keyed, hashed, anc)
	assert.ErrorIs(t, err, changeset.ErrIncompatible)

	_, err = changeset.Merge(keyed, mustDiff(t, other, anc, "id"), anc)
	assert.ErrorIs(t, err, changeset.ErrIncompatible)
}

func TestToRecord(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	cs := sampleChangeset(t)
	rec, err := changeset.ToRecord(cs, mem)
	require.NoError(t, err)
	defer rec.Release()

	require.Equal(t, int64(3), rec.NumRows())
	change := rec.Column(0).(*array.String)
	assert.Equal(t, "modified", change.Value(0))
	assert.Equal(t, "id=1", rec.Column(1).(*array.String).Value(0))
	assert.Equal(t, "v", rec.Column(2).(*array.String).Value(0))
	assert.Equal(t, "removed", change.Value(1))
	assert.True(t, rec.Column(2).IsNull(1))
	assert.Contains(t, rec.Column(5).(*array.String).Value(1), `"name":"b"`)
	assert.Equal(t, "added", change.Value(2))
	assert.Contains(t, rec.Column(5).(*array.String).Value(2), `"id":3`)
}
