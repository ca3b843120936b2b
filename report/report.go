// Package report renders diff and merge summaries as text, JSON or HTML.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"sort"
	"time"

	"github.com/TFMV/tabdelta/metrics"
	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

// -----------------------------
// Report Generator Interfaces
// -----------------------------

// Generator renders diff and merge summaries.
type Generator interface {
	GenerateDiffReport(r metrics.Report) ([]byte, error)
	GenerateMergeReport(r metrics.MergeReport) ([]byte, error)
}

// New returns the generator for a format: "text", "json" or "html".
func New(format string, colored bool) (Generator, error) {
	switch format {
	case "", "text":
		return &TextReportGenerator{Color: colored}, nil
	case "json":
		return &JSONReportGenerator{}, nil
	case "html":
		return &HTMLReportGenerator{}, nil
	}
	return nil, fmt.Errorf("unknown report format %q", format)
}

// Reporter adapts a Generator to core.Reporter.
type Reporter struct {
	Generator Generator
	// Samples is the number of example changes included.
	Samples int
}

var _ core.Reporter = (*Reporter)(nil)

// Report renders a changeset on its own, without run metadata or row counts.
func (r *Reporter) Report(ctx context.Context, c *changeset.Changeset) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := r.Generator.GenerateDiffReport(metrics.Build(c, metrics.RunMetadata{}, 0, 0, r.Samples))
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// -----------------------------
// Text Report Generator
// -----------------------------

// TextReportGenerator renders reports for a terminal.
type TextReportGenerator struct {
	// Color enables ANSI colors.
	Color bool
}

func (g *TextReportGenerator) colors() (add, del, mod, warn *color.Color) {
	add, del, mod, warn = color.New(color.FgGreen), color.New(color.FgRed), color.New(color.FgYellow), color.New(color.FgMagenta)
	for _, c := range []*color.Color{add, del, mod, warn} {
		if g.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return
}

// GenerateDiffReport renders the summary followed by sampled changes.
func (g *TextReportGenerator) GenerateDiffReport(r metrics.Report) ([]byte, error) {
	add, del, mod, warn := g.colors()
	var buf bytes.Buffer
	m := r.Metadata

	if m.BaseRef != "" || m.TargetRef != "" {
		fmt.Fprintf(&buf, "Comparing %s -> %s\n", m.BaseRef, m.TargetRef)
	}
	if len(m.KeyColumns) > 0 {
		fmt.Fprintf(&buf, "Key: %v\n", m.KeyColumns)
	} else {
		fmt.Fprintln(&buf, "Key: row hash")
	}
	if r.RowCount.BaseCount != 0 || r.RowCount.TargetCount != 0 {
		fmt.Fprintf(&buf, "Rows: %s -> %s\n", humanize.Comma(r.RowCount.BaseCount), humanize.Comma(r.RowCount.TargetCount))
	}
	if m.Duration > 0 {
		fmt.Fprintf(&buf, "Took: %s\n", m.Duration.Round(time.Millisecond))
	}
	if r.Status {
		fmt.Fprintln(&buf, "\nNo differences.")
		return buf.Bytes(), nil
	}

	fmt.Fprintln(&buf)
	add.Fprintf(&buf, "%s added", humanize.Comma(int64(r.Changes.Added)))
	fmt.Fprint(&buf, ", ")
	del.Fprintf(&buf, "%s removed", humanize.Comma(int64(r.Changes.Removed)))
	fmt.Fprint(&buf, ", ")
	mod.Fprintf(&buf, "%s modified", humanize.Comma(int64(r.Changes.Modified)))
	fmt.Fprintf(&buf, " (%s cells)\n", humanize.Comma(int64(r.Changes.Cells)))

	if !r.Schema.Empty() {
		fmt.Fprintln(&buf, "\nSchema changes:")
		for _, c := range r.Schema.Added {
			add.Fprintf(&buf, "  + %s\n", c)
		}
		for _, c := range r.Schema.Removed {
			del.Fprintf(&buf, "  - %s\n", c)
		}
		for _, c := range sortedKeys(r.Schema.Promoted) {
			mod.Fprintf(&buf, "  ~ %s: %s\n", c, r.Schema.Promoted[c])
		}
		for _, c := range sortedKeys(r.Schema.Conflicts) {
			warn.Fprintf(&buf, "  ! %s: %s (incompatible)\n", c, r.Schema.Conflicts[c])
		}
	}

	if len(r.Columns) > 0 {
		fmt.Fprintln(&buf, "\nChanged columns:")
		for _, c := range r.Columns {
			fmt.Fprintf(&buf, "  %s: %s\n", c.Name, humanize.Comma(int64(c.Changed)))
		}
	}

	if len(r.Samples) > 0 {
		fmt.Fprintln(&buf, "\nChanges:")
		for _, s := range r.Samples {
			switch s.Change {
			case changeset.Added.String():
				add.Fprintf(&buf, "  + %s\n", s.Identity)
			case changeset.Removed.String():
				del.Fprintf(&buf, "  - %s\n", s.Identity)
			default:
				mod.Fprintf(&buf, "  ~ %s %s: %s -> %s\n", s.Identity, s.Column, s.Old, s.New)
			}
		}
		if shown, total := len(r.Samples), r.Changes.Added+r.Changes.Removed+r.Changes.Cells; shown < total {
			fmt.Fprintf(&buf, "  ... %s more\n", humanize.Comma(int64(total-shown)))
		}
	}
	return buf.Bytes(), nil
}

// GenerateMergeReport renders merge status and conflicts.
func (g *TextReportGenerator) GenerateMergeReport(r metrics.MergeReport) ([]byte, error) {
	add, del, mod, warn := g.colors()
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Merged changes: ")
	add.Fprintf(&buf, "%s added", humanize.Comma(int64(r.Changes.Added)))
	fmt.Fprint(&buf, ", ")
	del.Fprintf(&buf, "%s removed", humanize.Comma(int64(r.Changes.Removed)))
	fmt.Fprint(&buf, ", ")
	mod.Fprintf(&buf, "%s modified\n", humanize.Comma(int64(r.Changes.Modified)))

	if r.Clean {
		fmt.Fprintln(&buf, "Merge is clean.")
		return buf.Bytes(), nil
	}
	n := len(r.Conflicts) + len(r.SchemaConflicts)
	warn.Fprintf(&buf, "%s %s\n", humanize.Comma(int64(n)), plural(n, "conflict", "conflicts"))
	for _, c := range r.SchemaConflicts {
		fmt.Fprintf(&buf, "  schema %s: ours %q, theirs %q\n", c.Column, c.Ours, c.Theirs)
	}
	for _, c := range r.Conflicts {
		fmt.Fprintf(&buf, "  %s %s %s: ancestor %s, ours %s, theirs %s\n", c.Kind, c.Identity, c.Column, c.Ancestor, c.Ours, c.Theirs)
	}
	return buf.Bytes(), nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// -----------------------------
// JSON Report Generator
// -----------------------------

// JSONReportGenerator generates JSON reports.
type JSONReportGenerator struct{}

// GenerateDiffReport serializes the report to JSON.
func (j *JSONReportGenerator) GenerateDiffReport(r metrics.Report) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// GenerateMergeReport serializes the merge report to JSON.
func (j *JSONReportGenerator) GenerateMergeReport(r metrics.MergeReport) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// -----------------------------
// HTML Report Generator
// -----------------------------

// HTMLReportGenerator generates HTML reports.
type HTMLReportGenerator struct{}

var htmlFuncs = template.FuncMap{
	"comma": func(n any) string {
		switch v := n.(type) {
		case int:
			return humanize.Comma(int64(v))
		case int64:
			return humanize.Comma(v)
		}
		return fmt.Sprint(n)
	},
}

// HTML template for the diff report.
const htmlTemplate = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>tabdelta Diff Report</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        table { width: 100%; border-collapse: collapse; margin-top: 20px; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #f4f4f4; }
        .added { color: green; }
        .removed { color: red; }
        .modified { color: #b58900; }
    </style>
</head>
<body>
    <h1>tabdelta Diff Report</h1>
    <p><strong>Base:</strong> {{.Metadata.BaseRef}} <code>{{.Metadata.BaseHash}}</code></p>
    <p><strong>Target:</strong> {{.Metadata.TargetRef}} <code>{{.Metadata.TargetHash}}</code></p>
    <p><strong>Key:</strong> {{if .Metadata.KeyColumns}}{{range $i, $k := .Metadata.KeyColumns}}{{if $i}}, {{end}}{{$k}}{{end}}{{else}}row hash{{end}}</p>
    {{if .Status}}<p>No differences.</p>{{else}}
    <h2>Summary</h2>
    <table>
        <tr><th>Base Rows</th><th>Target Rows</th><th>Added</th><th>Removed</th><th>Modified</th><th>Cells</th></tr>
        <tr>
            <td>{{comma .RowCount.BaseCount}}</td>
            <td>{{comma .RowCount.TargetCount}}</td>
            <td class="added">{{comma .Changes.Added}}</td>
            <td class="removed">{{comma .Changes.Removed}}</td>
            <td class="modified">{{comma .Changes.Modified}}</td>
            <td>{{comma .Changes.Cells}}</td>
        </tr>
    </table>

    <h2>Schema Changes</h2>
    <ul>
        {{range .Schema.Added}}<li class="added">+ {{.}}</li>{{end}}
        {{range .Schema.Removed}}<li class="removed">- {{.}}</li>{{end}}
        {{range $c, $t := .Schema.Promoted}}<li class="modified">~ {{$c}}: {{$t}}</li>{{end}}
        {{range $c, $t := .Schema.Conflicts}}<li class="removed">! {{$c}}: {{$t}} (incompatible)</li>{{end}}
        {{if .Schema.Empty}}<li>None</li>{{end}}
    </ul>

    {{if .Columns}}
    <h2>Changed Columns</h2>
    <table>
        <tr><th>Column</th><th>Changed Cells</th></tr>
        {{range .Columns}}<tr><td>{{.Name}}</td><td>{{comma .Changed}}</td></tr>{{end}}
    </table>
    {{end}}

    {{if .Samples}}
    <h2>Changes</h2>
    <table>
        <tr><th>Change</th><th>Row</th><th>Column</th><th>Old</th><th>New</th></tr>
        {{range .Samples}}
        <tr class="{{.Change}}"><td>{{.Change}}</td><td>{{.Identity}}</td><td>{{.Column}}</td><td>{{.Old}}</td><td>{{.New}}</td></tr>
        {{end}}
    </table>
    {{end}}
    {{end}}

    <footer>
        <p>Generated on {{.Metadata.EndTime}}</p>
    </footer>
</body>
</html>
`

const mergeTemplate = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>tabdelta Merge Report</title>
</head>
<body>
    <h1>tabdelta Merge Report</h1>
    <p><strong>Status:</strong> {{if .Clean}}clean{{else}}conflicted{{end}}</p>
    <p>{{comma .Changes.Added}} added, {{comma .Changes.Removed}} removed, {{comma .Changes.Modified}} modified</p>
    {{if or .Conflicts .SchemaConflicts}}
    <table>
        <tr><th>Kind</th><th>Row</th><th>Column</th><th>Ancestor</th><th>Ours</th><th>Theirs</th></tr>
        {{range .SchemaConflicts}}<tr><td>{{.Kind}}</td><td></td><td>{{.Column}}</td><td></td><td>{{.Ours}}</td><td>{{.Theirs}}</td></tr>{{end}}
        {{range .Conflicts}}<tr><td>{{.Kind}}</td><td>{{.Identity}}</td><td>{{.Column}}</td><td>{{.Ancestor}}</td><td>{{.Ours}}</td><td>{{.Theirs}}</td></tr>{{end}}
    </table>
    {{end}}
</body>
</html>
`

var (
	diffTmpl  = template.Must(template.New("diff").Funcs(htmlFuncs).Parse(htmlTemplate))
	mergeTmpl = template.Must(template.New("merge").Funcs(htmlFuncs).Parse(mergeTemplate))
)

// GenerateDiffReport renders the diff report as HTML.
func (h *HTMLReportGenerator) GenerateDiffReport(r metrics.Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := diffTmpl.Execute(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GenerateMergeReport renders the merge report as HTML.
func (h *HTMLReportGenerator) GenerateMergeReport(r metrics.MergeReport) ([]byte, error) {
	var buf bytes.Buffer
	if err := mergeTmpl.Execute(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveReportToFile renders r with g and writes it to filePath.
func SaveReportToFile(g Generator, r metrics.Report, filePath string) error {
	data, err := g.GenerateDiffReport(r)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0o644)
}

// SaveReports saves both JSON and HTML reports.
func SaveReports(r metrics.Report, jsonPath, htmlPath string) error {
	if err := SaveReportToFile(&JSONReportGenerator{}, r, jsonPath); err != nil {
		return err
	}
	return SaveReportToFile(&HTMLReportGenerator{}, r, htmlPath)
}
