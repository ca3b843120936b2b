package report

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TFMV/tabdelta/metrics"
	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/TFMV/tabdelta/pkg/identity"
	"github.com/TFMV/tabdelta/pkg/schema"
	"github.com/TFMV/tabdelta/pkg/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChangeset() *changeset.Changeset {
	key := func(v int64) identity.Identity { return identity.Identity{Key: []snapshot.Value{snapshot.Int(v)}} }
	return &changeset.Changeset{
		Header: changeset.Header{
			BaseHash:        "aaaa",
			TargetHash:      "bbbb",
			KeyColumns:      []string{"id"},
			IdentityColumns: []string{"id"},
			Schema: schema.Delta{
				{Kind: schema.ColumnAdded, Column: "email", To: snapshot.TypeString},
				{Kind: schema.TypeConflict, Column: "flag", From: snapshot.TypeBool, To: snapshot.TypeString},
			},
		},
		Deltas: []changeset.Delta{
			{Kind: changeset.Modified, Identity: key(1), Cells: []changeset.CellChange{
				{Column: "name", Old: snapshot.String("alice"), New: snapshot.String("alicia")},
			}},
			{Kind: changeset.Removed, Identity: key(2)},
			{Kind: changeset.Added, Identity: key(3)},
		},
	}
}

func createTestReport() metrics.Report {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return metrics.Build(testChangeset(), metrics.RunMetadata{
		BaseRef:   "main:orders.csv",
		TargetRef: "orders.csv",
		StartTime: now,
		EndTime:   now.Add(1500 * time.Millisecond),
	}, 1200, 1200, 10)
}

func TestTextReport(t *testing.T) {
	data, err := (&TextReportGenerator{}).GenerateDiffReport(createTestReport())
	require.NoError(t, err)
	text := string(data)

	for _, expected := range []string{
		"Comparing main:orders.csv -> orders.csv",
		"Key: [id]",
		"Rows: 1,200 -> 1,200",
		"Took: 1.5s",
		"1 added, 1 removed, 1 modified (1 cells)",
		"  + email",
		"  ! flag: bool -> string (incompatible)",
		"  name: 1",
		"  ~ id=1 name: alice -> alicia",
		"  - id=2",
		"  + id=3",
	} {
		assert.Contains(t, text, expected)
	}
	assert.NotContains(t, text, "\x1b[", "colors disabled")
}

func TestTextReportColor(t *testing.T) {
	data, err := (&TextReportGenerator{Color: true}).GenerateDiffReport(createTestReport())
	require.NoError(t, err)
	assert.Contains(t, string(data), "\x1b[")
}

func TestTextReportIdentical(t *testing.T) {
	r := metrics.Build(&changeset.Changeset{}, metrics.RunMetadata{}, 0, 0, 10)
	data, err := (&TextReportGenerator{}).GenerateDiffReport(r)
	require.NoError(t, err)
	assert.Equal(t, "Key: row hash\n\nNo differences.\n", string(data))
}

func TestTextReportTruncated(t *testing.T) {
	r := metrics.Build(testChangeset(), metrics.RunMetadata{}, 0, 0, 1)
	data, err := (&TextReportGenerator{}).GenerateDiffReport(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), "... 2 more")
}

func TestJSONReport(t *testing.T) {
	report := createTestReport()
	data, err := (&JSONReportGenerator{}).GenerateDiffReport(report)
	require.NoError(t, err)

	var decoded metrics.Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.Changes, decoded.Changes)
	assert.Equal(t, "main:orders.csv", decoded.Metadata.BaseRef)
}

func TestHTMLReport(t *testing.T) {
	data, err := (&HTMLReportGenerator{}).GenerateDiffReport(createTestReport())
	require.NoError(t, err)
	html := string(data)
	for _, expected := range []string{
		"<!DOCTYPE html>",
		"<title>tabdelta Diff Report</title>",
		"main:orders.csv",
		"1,200",
		"alicia",
		"flag: bool -&gt; string",
	} {
		assert.Contains(t, html, expected)
	}
}

func TestMergeReports(t *testing.T) {
	res := &changeset.MergeResult{
		Changeset: testChangeset(),
		Conflicts: []changeset.Conflict{{
			Identity: identity.Identity{Key: []snapshot.Value{snapshot.Int(1)}},
			Column:   "name",
			Kind:     changeset.ModifyModify,
			Ancestor: snapshot.String("alice"),
			Ours:     snapshot.String("alicia"),
			Theirs:   snapshot.String("ali"),
		}},
	}
	mr := metrics.BuildMerge(res)

	text, err := (&TextReportGenerator{}).GenerateMergeReport(mr)
	require.NoError(t, err)
	assert.Contains(t, string(text), "1 conflict\n")
	assert.Contains(t, string(text), "modify-modify id=1 name: ancestor alice, ours alicia, theirs ali")

	html, err := (&HTMLReportGenerator{}).GenerateMergeReport(mr)
	require.NoError(t, err)
	assert.Contains(t, string(html), "conflicted")

	js, err := (&JSONReportGenerator{}).GenerateMergeReport(mr)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(js), `"clean": false`))

	clean, err := (&TextReportGenerator{}).GenerateMergeReport(metrics.BuildMerge(&changeset.MergeResult{Changeset: testChangeset()}))
	require.NoError(t, err)
	assert.Contains(t, string(clean), "Merge is clean.")
}

func TestReporter(t *testing.T) {
	g, err := New("text", false)
	require.NoError(t, err)
	r := &Reporter{Generator: g, Samples: 5}

	out, err := r.Report(context.Background(), testChangeset())
	require.NoError(t, err)
	data, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "1 added")

	_, err = New("pdf", false)
	assert.Error(t, err)
}

func TestSaveReports(t *testing.T) {
	tmpDir := t.TempDir()
	jsonPath := filepath.Join(tmpDir, "report.json")
	htmlPath := filepath.Join(tmpDir, "report.html")
	require.NoError(t, SaveReports(createTestReport(), jsonPath, htmlPath))

	loaded, err := metrics.Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Changes.Added)
	_, err = os.Stat(htmlPath)
	assert.NoError(t, err)
}
