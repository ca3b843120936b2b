package main

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(args ...string) (string, error) {
	cmd := newRootCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(append([]string{"--quiet", "--no-color", "--log-level", "error"}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const (
	baseCSV   = "id,name,score\n1,a,10\n2,b,20\n3,c,30\n"
	targetCSV = "id,name,score\n1,a,10\n2,B,20\n4,d,40\n"
)

func TestHelp(t *testing.T) {
	out, err := executeCommand("--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "merge")
}

func TestVersion(t *testing.T) {
	out, err := executeCommand("version")
	require.NoError(t, err)
	assert.Contains(t, out, "tabdelta")
}

func TestDiff(t *testing.T) {
	dir := t.TempDir()
	base := writeCSV(t, dir, "base.csv", baseCSV)
	target := writeCSV(t, dir, "target.csv", targetCSV)

	out, err := executeCommand("diff", "--key", "id", base, target)
	require.NoError(t, err)
	assert.Contains(t, out, "1 added, 1 removed, 1 modified")
	assert.Contains(t, out, "id=2 name")

	_, err = executeCommand("diff", "--key", "id", "--exit-code", base, target)
	assert.ErrorIs(t, err, errDifferences)

	_, err = executeCommand("diff", "--key", "id", "--exit-code", base, base)
	assert.NoError(t, err)
}

func TestDiffErrors(t *testing.T) {
	dir := t.TempDir()
	base := writeCSV(t, dir, "base.csv", baseCSV)
	target := writeCSV(t, dir, "target.csv", targetCSV)
	dup := writeCSV(t, dir, "dup.csv", "id,name,score\n1,a,10\n1,b,20\n")

	_, err := executeCommand("diff", "--key", "missing", base, target)
	assert.Error(t, err)

	_, err = executeCommand("diff", "--key", "id", base, dup)
	assert.Error(t, err)

	_, err = executeCommand("diff", base)
	assert.Error(t, err)

	_, err = executeCommand("diff", "--format", "yaml", base, target)
	assert.Error(t, err)
}

func TestDiffJSON(t *testing.T) {
	dir := t.TempDir()
	base := writeCSV(t, dir, "base.csv", baseCSV)
	target := writeCSV(t, dir, "target.csv", targetCSV)

	out, err := executeCommand("diff", "--key", "id", "--format", "json", base, target)
	require.NoError(t, err)
	assert.Contains(t, out, `"added": 1`)
}

func TestDiffApplyShow(t *testing.T) {
	dir := t.TempDir()
	base := writeCSV(t, dir, "base.csv", baseCSV)
	target := writeCSV(t, dir, "target.csv", targetCSV)
	csPath := filepath.Join(dir, "changes.tdcs.s2")
	result := filepath.Join(dir, "result.parquet")

	_, err := executeCommand("diff", "--key", "id", "-o", csPath, base, target)
	require.NoError(t, err)

	cs, err := changeset.ReadFile(csPath)
	require.NoError(t, err)
	assert.Equal(t, 3, cs.Stats().Total())

	out, err := executeCommand("show", csPath, "--export", filepath.Join(dir, "changes.csv"))
	require.NoError(t, err)
	assert.Contains(t, out, "1 added")
	exported, err := os.ReadFile(filepath.Join(dir, "changes.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(exported), "_change,_identity")

	_, err = executeCommand("apply", base, csPath, "-o", result)
	require.NoError(t, err)

	out, err = executeCommand("verify", csPath, base, target)
	require.NoError(t, err)
	assert.Contains(t, out, "ok    replay")

	out, err = executeCommand("verify", csPath, target, base)
	assert.Error(t, err)
	assert.Contains(t, out, "FAIL  base")

	_, err = executeCommand("diff", "--key", "id", "--exit-code", target, result)
	assert.NoError(t, err)

	// The changeset only applies to the version it was computed from.
	_, err = executeCommand("apply", target, csPath, "-o", filepath.Join(dir, "bad.csv"))
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	dir := t.TempDir()
	ancestor := writeCSV(t, dir, "ancestor.csv", baseCSV)
	ours := writeCSV(t, dir, "ours.csv", baseCSV+"4,d,40\n")
	theirs := writeCSV(t, dir, "theirs.csv", "id,name,score\n1,a,10\n2,b,25\n3,c,30\n")
	merged := filepath.Join(dir, "merged.csv")

	out, err := executeCommand("merge", "--key", "id", "--ancestor", ancestor, "-o", merged, ours, theirs)
	require.NoError(t, err)
	assert.Contains(t, out, "Merge is clean.")

	want := writeCSV(t, dir, "want.csv", "id,name,score\n1,a,10\n2,b,25\n3,c,30\n4,d,40\n")
	_, err = executeCommand("diff", "--key", "id", "--exit-code", want, merged)
	assert.NoError(t, err)
}

func TestMergeConflict(t *testing.T) {
	dir := t.TempDir()
	ancestor := writeCSV(t, dir, "ancestor.csv", baseCSV)
	ours := writeCSV(t, dir, "ours.csv", "id,name,score\n1,a,10\n2,x,20\n3,c,30\n")
	theirs := writeCSV(t, dir, "theirs.csv", "id,name,score\n1,a,10\n2,y,20\n3,c,30\n")

	out, err := executeCommand("merge", "--key", "id", "--ancestor", ancestor, ours, theirs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 conflicts")
	assert.Contains(t, out, "1 conflict")

	_, err = executeCommand("merge", "--key", "id", ours, theirs)
	assert.Error(t, err, "plain paths have no ancestor")
}

func TestSchema(t *testing.T) {
	dir := t.TempDir()
	base := writeCSV(t, dir, "base.csv", baseCSV)
	target := writeCSV(t, dir, "target.csv", "id,name,score\n1,a,1.5\n")

	out, err := executeCommand("schema", base)
	require.NoError(t, err)
	assert.Contains(t, out, "score")

	out, err = executeCommand("schema", base, target)
	require.NoError(t, err)
	assert.Contains(t, out, "score")
	assert.Contains(t, out, "->")
}

func TestHistoryRefs(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	t.Setenv("GIT_AUTHOR_NAME", "Test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "Test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@example.com")

	dir := t.TempDir()
	git := func(args ...string) {
		t.Helper()
		c := exec.Command("git", args...)
		c.Dir = dir
		out, err := c.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	git("init", "--quiet")
	writeCSV(t, dir, "data.csv", baseCSV)
	git("add", "data.csv")
	git("commit", "--quiet", "-m", "first")
	writeCSV(t, dir, "data.csv", targetCSV)
	git("commit", "--quiet", "-am", "second")

	out, err := executeCommand("-C", dir, "log", "data.csv")
	require.NoError(t, err)
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")

	out, err = executeCommand("-C", dir, "diff", "--key", "id", "HEAD~1:data.csv", "HEAD:data.csv")
	require.NoError(t, err)
	assert.Contains(t, out, "1 added, 1 removed, 1 modified")
}

func TestChurn(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	t.Setenv("GIT_AUTHOR_NAME", "Test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "Test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@example.com")

	dir := t.TempDir()
	git := func(args ...string) {
		t.Helper()
		c := exec.Command("git", args...)
		c.Dir = dir
		out, err := c.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	git("init", "--quiet")
	writeCSV(t, dir, "data.csv", baseCSV)
	git("add", "data.csv")
	git("commit", "--quiet", "-m", "first")
	writeCSV(t, dir, "data.csv", targetCSV)
	git("commit", "--quiet", "-am", "second")

	summary := filepath.Join(t.TempDir(), "churn.csv")
	out, err := executeCommand("-C", dir, "churn", "--key", "id", "-o", summary, "data.csv")
	require.NoError(t, err)
	assert.Contains(t, out, "TOTAL")
	assert.Regexp(t, `data\.csv\s+2\s+4\s+1\s+1\s+6\s`, out)

	data, err := os.ReadFile(summary)
	require.NoError(t, err)
	assert.Contains(t, string(data), "total_churn")
	assert.Contains(t, string(data), "data.csv")
}
