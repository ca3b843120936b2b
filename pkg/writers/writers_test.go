package writers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/TFMV/tabdelta/pkg/identity"
	"github.com/TFMV/tabdelta/pkg/snapshot"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	s, err := snapshot.New(snapshot.MustSchema(
		snapshot.Field{Name: "id", Type: snapshot.TypeInt},
		snapshot.Field{Name: "name", Type: snapshot.TypeString, Nullable: true},
	), [][]snapshot.Value{
		{snapshot.Int(1), snapshot.String("a")},
		{snapshot.Int(2), snapshot.Null()},
	})
	require.NoError(t, err)
	return s
}

func TestDetectType(t *testing.T) {
	typ, err := DetectType("out.ndjson")
	require.NoError(t, err)
	assert.Equal(t, "json", typ)
	typ, err = DetectType("out.parquet")
	require.NoError(t, err)
	assert.Equal(t, "parquet", typ)
	_, err = DetectType("out")
	assert.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteSnapshot(context.Background(), core.WriterConfig{Type: "csv", Path: path}, sample(t)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,a\n2,\n", string(data))
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, WriteSnapshot(context.Background(), core.WriterConfig{Type: "json", Path: path}, sample(t)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"id":1,"name":"a"}`, lines[0])
	assert.JSONEq(t, `{"id":2,"name":null}`, lines[1])
}

func TestWriteChangeset(t *testing.T) {
	s := sample(t)
	c := &changeset.Changeset{
		Header: changeset.Header{
			BaseHash:        s.Hash(),
			TargetHash:      s.Hash(),
			KeyColumns:      []string{"id"},
			IdentityColumns: []string{"id"},
			BaseSchema:      s.Schema(),
			TargetSchema:    s.Schema(),
		},
		Deltas: []changeset.Delta{{
			Kind:     changeset.Modified,
			Identity: identity.Identity{Key: []snapshot.Value{snapshot.Int(1)}},
			Cells:    []changeset.CellChange{{Column: "name", Old: snapshot.String("a"), New: snapshot.String("b")}},
		}},
	}
	path := filepath.Join(t.TempDir(), "changes.csv")
	require.NoError(t, WriteChangeset(context.Background(), core.WriterConfig{Type: "csv", Path: path}, c))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "_change,_identity,_column,_old,_new,_row", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "modified,"), lines[1])
	assert.Contains(t, lines[1], ",name,a,b,")
}

func TestWriterErrors(t *testing.T) {
	_, err := DefaultFactory.Create(core.WriterConfig{Type: "xml", Path: "x"})
	assert.ErrorContains(t, err, "unsupported writer type")
	for _, typ := range []string{"parquet", "arrow", "csv", "json"} {
		_, err := DefaultFactory.Create(core.WriterConfig{Type: typ})
		assert.ErrorContains(t, err, "output needs a path", typ)
	}
}

func TestWriteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WriteSnapshot(ctx, core.WriterConfig{Type: "arrow", Path: filepath.Join(t.TempDir(), "x.arrow")}, sample(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriterSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	other, err := snapshot.New(snapshot.MustSchema(
		snapshot.Field{Name: "id", Type: snapshot.TypeString},
	), [][]snapshot.Value{{snapshot.String("x")}})
	require.NoError(t, err)

	for _, typ := range []string{"parquet", "arrow"} {
		t.Run(typ, func(t *testing.T) {
			w, err := DefaultFactory.Create(core.WriterConfig{Type: typ, Path: filepath.Join(t.TempDir(), "out."+typ)})
			require.NoError(t, err)

			first := sample(t).ToRecord(memory.NewGoAllocator())
			defer first.Release()
			second := other.ToRecord(memory.NewGoAllocator())
			defer second.Release()

			require.NoError(t, w.Write(ctx, first))
			assert.ErrorContains(t, w.Write(ctx, second), "does not match")
			assert.NoError(t, w.Close())
			assert.NoError(t, w.Close())
		})
	}
}

func TestWriterCloseUnused(t *testing.T) {
	for _, typ := range []string{"parquet", "arrow"} {
		path := filepath.Join(t.TempDir(), "out."+typ)
		w, err := DefaultFactory.Create(core.WriterConfig{Type: typ, Path: path})
		require.NoError(t, err)
		require.NoError(t, w.Close(), typ)
		_, err = os.Stat(path)
		assert.NoError(t, err, typ)
	}
}
