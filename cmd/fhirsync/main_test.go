package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doc1 = `{"resourceType":"Library","identifier":[{"value":"X"}]}`

type recorded struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// testServer serves source documents under /docs and a record endpoint under
// /fhir/Library, recording every request.
type testServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recorded
	docs     map[string]string
	existing map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{docs: map[string]string{}, existing: map[string]string{}}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts.mu.Lock()
		ts.requests = append(ts.requests, recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
		ts.mu.Unlock()

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/fhir/Library":
			if id, ok := ts.existing[r.URL.Query().Get("identifier")]; ok {
				_, _ = w.Write([]byte(`{"resourceType":"Bundle","total":1,"entry":[{"resource":{"id":"` + id + `"}}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"resourceType":"Bundle","total":0}`))
		case r.Method == http.MethodPost && r.URL.Path == "/fhir/Library":
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut:
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet:
			doc, ok := ts.docs[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(doc))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) writes() []recorded {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var out []recorded
	for _, r := range ts.requests {
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			out = append(out, r)
		}
	}
	return out
}

func (ts *testServer) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.requests)
}

func runCLI(t *testing.T, env map[string]string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr, func(k string) string { return env[k] })
	return code, stdout.String(), stderr.String()
}

func noConfig(t *testing.T) string {
	return filepath.Join(t.TempDir(), "fhirsync.toml")
}

func TestRun_MissingEndpointMakesNoCalls(t *testing.T) {
	ts := newTestServer(t)
	ts.docs["/docs/doc1"] = doc1

	code, _, stderr := runCLI(t, nil, "run", "--config", noConfig(t), ts.URL+"/docs/doc1")

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "SERVER_ENDPOINT is not configured")
	assert.Zero(t, ts.count(), "no network calls without an endpoint")
}

func TestRun_CreatesNewDocument(t *testing.T) {
	ts := newTestServer(t)
	ts.docs["/docs/doc1"] = doc1
	env := map[string]string{"SERVER_ENDPOINT": ts.URL + "/fhir/Library"}

	code, _, stderr := runCLI(t, env, "run", "--config", noConfig(t), ts.URL+"/docs/doc1")

	assert.Equal(t, 0, code, stderr)
	writes := ts.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, http.MethodPost, writes[0].Method)
	assert.Equal(t, doc1, writes[0].Body)
	assert.Contains(t, stderr, "[INFO] All documents have been processed: 1 processed, 1 created")
}

func TestRun_UpdatesExistingDocument(t *testing.T) {
	ts := newTestServer(t)
	ts.docs["/docs/doc1"] = doc1
	ts.existing["X"] = "srv-42"
	env := map[string]string{"SERVER_ENDPOINT": ts.URL + "/fhir/Library"}

	code, _, stderr := runCLI(t, env, "run", "--config", noConfig(t), ts.URL+"/docs/doc1")

	assert.Equal(t, 0, code, stderr)
	writes := ts.writes()
	require.Len(t, writes, 1, "update must not be followed by a create")
	assert.Equal(t, http.MethodPut, writes[0].Method)
	assert.Equal(t, "/fhir/Library/srv-42", writes[0].Path)
	assert.Contains(t, writes[0].Body, `"id":"srv-42"`)
}

func TestRun_ItemFailureStillExitsZero(t *testing.T) {
	ts := newTestServer(t)
	ts.docs["/docs/doc2"] = `{"identifier":[{"value":"Y"}]}`
	env := map[string]string{"SERVER_ENDPOINT": ts.URL + "/fhir/Library"}

	code, _, stderr := runCLI(t, env, "run", "--config", noConfig(t), ts.URL+"/docs/missing", ts.URL+"/docs/doc2")

	assert.Equal(t, 0, code)
	assert.Contains(t, stderr, "Error processing "+ts.URL+"/docs/missing")
	assert.Contains(t, stderr, "[ERROR] Status: 404")
	require.Len(t, ts.writes(), 1)

	code, _, stderr = runCLI(t, env, "run", "--config", noConfig(t), "--fail-on-error", ts.URL+"/docs/missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "1 of 1 documents failed")
}

func TestRun_DryRunPrintsPlan(t *testing.T) {
	ts := newTestServer(t)
	ts.docs["/docs/doc1"] = doc1
	ts.docs["/docs/doc2"] = `{"identifier":[{"value":"Y"}]}`
	ts.docs["/docs/doc3"] = `{"resourceType":"Library"}`
	ts.existing["X"] = "srv-42"
	env := map[string]string{"SERVER_ENDPOINT": ts.URL + "/fhir/Library"}

	code, stdout, _ := runCLI(t, env, "run", "--config", noConfig(t), "--dry-run",
		ts.URL+"/docs/doc1", ts.URL+"/docs/doc2", ts.URL+"/docs/doc3")

	assert.Equal(t, 0, code)
	assert.Empty(t, ts.writes())
	assert.Contains(t, stdout, "update "+ts.URL+"/docs/doc1 -> srv-42")
	assert.Contains(t, stdout, "create "+ts.URL+"/docs/doc2")
	assert.Contains(t, stdout, "skip   "+ts.URL+"/docs/doc3")
}

func TestRun_ConfigFileAndFlagsLayer(t *testing.T) {
	ts := newTestServer(t)
	ts.docs["/docs/doc1"] = doc1
	ts.docs["/docs/doc2"] = `{"identifier":[{"value":"Y"}]}`
	ts.existing["X"] = "srv-42"

	dir := t.TempDir()
	listPath := filepath.Join(dir, "json_urls.txt")
	require.NoError(t, os.WriteFile(listPath, []byte(ts.URL+"/docs/doc2\n"+ts.URL+"/docs/doc1\n"), 0644))
	cfgPath := filepath.Join(dir, "fhirsync.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
endpoint = "http://unused.invalid/fhir/Library"
policy = "update-if-exists"
urls = ["`+ts.URL+`/docs/doc1"]
urls-file = "`+filepath.ToSlash(listPath)+`"
`), 0644))

	code, _, stderr := runCLI(t, nil, "run", "--config", cfgPath,
		"--endpoint", ts.URL+"/fhir/Library", "--policy", "always-create")

	assert.Equal(t, 0, code, stderr)
	writes := ts.writes()
	require.Len(t, writes, 2, "doc1 appears twice but is processed once")
	assert.Equal(t, http.MethodPost, writes[0].Method)
	assert.Equal(t, doc1, writes[0].Body)
	assert.Equal(t, http.MethodPost, writes[1].Method)
}

func TestRun_InvalidListLineWarnsThroughLogger(t *testing.T) {
	ts := newTestServer(t)
	ts.docs["/docs/doc1"] = doc1
	listPath := filepath.Join(t.TempDir(), "json_urls.txt")
	require.NoError(t, os.WriteFile(listPath, []byte(ts.URL+"/docs/doc1\nhttps://a/x https://a/y\n"), 0644))
	env := map[string]string{"SERVER_ENDPOINT": ts.URL + "/fhir/Library"}

	code, _, stderr := runCLI(t, env, "run", "--config", noConfig(t), "--urls-file", listPath)

	assert.Equal(t, 0, code, stderr)
	assert.Contains(t, stderr, "[WARN] Invalid source URL on line 2 of "+listPath+": https://a/x https://a/y")
	require.Len(t, ts.writes(), 1)
}

func TestRun_DirectorySources(t *testing.T) {
	ts := newTestServer(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(doc1), 0644))
	env := map[string]string{"SERVER_ENDPOINT": ts.URL + "/fhir/Library"}

	code, _, stderr := runCLI(t, env, "run", "--config", noConfig(t), "--dir", dir)

	assert.Equal(t, 0, code, stderr)
	writes := ts.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, doc1, writes[0].Body)
}

func TestRun_InvalidPolicyFlag(t *testing.T) {
	env := map[string]string{"SERVER_ENDPOINT": "http://127.0.0.1:1/fhir/Library"}
	code, _, stderr := runCLI(t, env, "run", "--config", noConfig(t), "--policy", "sometimes")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown policy")
}

func TestRun_NoURLs(t *testing.T) {
	env := map[string]string{"SERVER_ENDPOINT": "http://127.0.0.1:1/fhir/Library"}
	code, _, stderr := runCLI(t, env, "run", "--config", noConfig(t))
	assert.Equal(t, 0, code)
	assert.Contains(t, stderr, "[WARN] No source URLs configured")
}

func TestVersion(t *testing.T) {
	original := version
	version = "test-version-1.0.0"
	defer func() { version = original }()

	code, stdout, _ := runCLI(t, nil, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "fhirsync version test-version-1.0.0")
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fhirsync.toml")

	code, _, stderr := runCLI(t, nil, "init", "--output", path, "--endpoint", "https://fhir.example.org/fhir/Library")
	require.Equal(t, 0, code, stderr)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `endpoint = "https://fhir.example.org/fhir/Library"`)

	code, _, stderr = runCLI(t, nil, "init", "--output", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "already exists")

	code, _, _ = runCLI(t, nil, "init", "--output", path, "--force")
	assert.Equal(t, 0, code)
}

func TestInit_Stdout(t *testing.T) {
	code, stdout, _ := runCLI(t, nil, "init", "--output", "-")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, `policy = "update-if-exists"`)
}
