package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/TFMV/tabdelta/api"
	"github.com/TFMV/tabdelta/metrics"
	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/TFMV/tabdelta/pkg/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory map[string][]byte

func (h fakeHistory) ResolveAncestor(ctx context.Context, a, b string) (string, error) {
	return "base", nil
}

func (h fakeHistory) Show(ctx context.Context, rev, path string) ([]byte, error) {
	data, ok := h[rev+":"+path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

const (
	ancestorCSV = "id,name,qty\n1,a,10\n2,b,20\n3,c,30\n"
	oursCSV     = "id,name,qty\n1,a,15\n2,b,20\n3,c,30\n"
	theirsCSV   = "id,name,qty\n1,a,10\n2,b,20\n"
	clashCSV    = "id,name,qty\n1,a,25\n2,b,20\n3,c,30\n"
)

func writeFiles(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"ancestor.csv": ancestorCSV,
		"ours.csv":     oursCSV,
		"theirs.csv":   theirsCSV,
		"clash.csv":    clashCSV,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func newServer() *api.Server {
	return api.NewServer(api.ServerOptions{Port: "3000"})
}

func post(t *testing.T, s *api.Server, path string, body any, accept string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := s.GetApp().Test(req, -1)
	require.NoError(t, err)
	return resp
}

// TestHealthEndpoint checks if the /health endpoint returns "OK"
func TestHealthEndpoint(t *testing.T) {
	s := newServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := s.GetApp().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))
}

// versionResponse is used for JSON unmarshalling in the /version endpoint test
type versionResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Build   string `json:"build"`
	Time    string `json:"time"`
}

func TestVersionEndpoint(t *testing.T) {
	s := newServer()
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	resp, err := s.GetApp().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var v versionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, "tabdelta API", v.Service)
	assert.NotEmpty(t, v.Version)
	assert.NotEmpty(t, v.Build)
	assert.NotEmpty(t, v.Time)
}

func TestDiffEndpoint(t *testing.T) {
	dir := writeFiles(t)
	s := newServer()

	resp := post(t, s, "/v1/diff", api.DiffRequest{
		Base:       filepath.Join(dir, "ancestor.csv"),
		Target:     filepath.Join(dir, "theirs.csv"),
		KeyColumns: []string{"id"},
	}, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var r metrics.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	assert.Equal(t, metrics.ChangeResult{Removed: 1}, r.Changes)
	assert.Equal(t, int64(3), r.RowCount.BaseCount)
	assert.Equal(t, int64(2), r.RowCount.TargetCount)
	require.Len(t, r.Samples, 1)
	assert.Equal(t, "id=3", r.Samples[0].Identity)
}

func TestDiffEndpointBinary(t *testing.T) {
	dir := writeFiles(t)
	s := newServer()

	resp := post(t, s, "/v1/diff", api.DiffRequest{
		Base:       filepath.Join(dir, "ancestor.csv"),
		Target:     filepath.Join(dir, "ours.csv"),
		KeyColumns: []string{"id"},
	}, api.ChangesetContentType)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, api.ChangesetContentType, resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	cs, err := changeset.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, changeset.Stats{Modified: 1, Cells: 1}, cs.Stats())

	// The decode endpoint turns it back into a report.
	req := httptest.NewRequest(http.MethodPost, "/v1/decode", bytes.NewReader(body))
	req.Header.Set("Content-Type", api.ChangesetContentType)
	dresp, err := s.GetApp().Test(req, -1)
	require.NoError(t, err)
	defer dresp.Body.Close()
	require.Equal(t, http.StatusOK, dresp.StatusCode)
	var r metrics.Report
	require.NoError(t, json.NewDecoder(dresp.Body).Decode(&r))
	require.Len(t, r.Samples, 1)
	assert.Equal(t, metrics.RowChange{Change: "modified", Identity: "id=1", Column: "qty", Old: "10", New: "15"}, r.Samples[0])
}

func TestDiffEndpointErrors(t *testing.T) {
	dir := writeFiles(t)
	s := newServer()

	resp := post(t, s, "/v1/diff", api.DiffRequest{Base: filepath.Join(dir, "ancestor.csv")}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, s, "/v1/diff", api.DiffRequest{Base: filepath.Join(dir, "missing.csv"), Target: filepath.Join(dir, "ours.csv")}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, s, "/v1/diff", api.DiffRequest{
		Base:       filepath.Join(dir, "ancestor.csv"),
		Target:     filepath.Join(dir, "ours.csv"),
		KeyColumns: []string{"nope"},
	}, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var e struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Contains(t, e.Error, "unknown key column")
}

func TestDecodeEndpointCorrupt(t *testing.T) {
	s := newServer()
	req := httptest.NewRequest(http.MethodPost, "/v1/decode", bytes.NewReader([]byte("garbage")))
	resp, err := s.GetApp().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMergeEndpoint(t *testing.T) {
	dir := writeFiles(t)
	s := newServer()
	path := func(name string) string { return filepath.Join(dir, name) }

	resp := post(t, s, "/v1/merge", api.MergeRequest{
		Ancestor:   path("ancestor.csv"),
		Ours:       path("ours.csv"),
		Theirs:     path("theirs.csv"),
		KeyColumns: []string{"id"},
	}, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var r metrics.MergeReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	assert.True(t, r.Clean)
	assert.Equal(t, 1, r.Changes.Modified)
	assert.Equal(t, 1, r.Changes.Removed)

	resp = post(t, s, "/v1/merge?format=binary", api.MergeRequest{
		Ancestor:   path("ancestor.csv"),
		Ours:       path("ours.csv"),
		Theirs:     path("clash.csv"),
		KeyColumns: []string{"id"},
	}, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	assert.False(t, r.Clean)
	require.Len(t, r.Conflicts, 1)
	assert.Equal(t, "modify-modify", r.Conflicts[0].Kind)
	assert.Equal(t, "15", r.Conflicts[0].Ours)
	assert.Equal(t, "25", r.Conflicts[0].Theirs)
}

func TestMergeEndpointResolvesAncestor(t *testing.T) {
	h := fakeHistory{
		"base:data.csv":   []byte(ancestorCSV),
		"ours:data.csv":   []byte(oursCSV),
		"theirs:data.csv": []byte(theirsCSV),
	}
	s := api.NewServer(api.ServerOptions{Loader: &loader.Loader{History: h}})

	resp := post(t, s, "/v1/merge?format=binary", api.MergeRequest{
		Ours:       "ours:data.csv",
		Theirs:     "theirs:data.csv",
		KeyColumns: []string{"id"},
	}, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	cs, err := changeset.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, 2, cs.Stats().Total())

	resp = post(t, s, "/v1/merge", api.MergeRequest{Ours: "ours:data.csv"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestShutdown(t *testing.T) {
	s := newServer()
	assert.NoError(t, s.Shutdown(context.Background()))
}
