package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bleepstore/azdls/internal/auth"
	"github.com/bleepstore/azdls/internal/azdls"
	"github.com/bleepstore/azdls/internal/config"
	"github.com/bleepstore/azdls/internal/journal"
	"github.com/bleepstore/azdls/internal/metrics"
)

func init() {
	// Register metrics once for the entire test binary so that tests
	// checking /metrics output see the expected collectors.
	metrics.Register()
}

// upstream is a minimal dfs endpoint: it answers create and update with
// fixed statuses and keeps the last written body per path.
type upstream struct {
	mu           sync.Mutex
	createStatus int
	updateStatus int
	errorBody    string
	files        map[string]string
	createHeader http.Header
	updates      int

	// onUpdate runs for each update request once its body has been read.
	onUpdate func(r *http.Request)
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if u.onUpdate != nil && r.Method == http.MethodPatch {
		u.onUpdate(r)
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	status := http.StatusBadRequest
	switch {
	case r.Method == http.MethodPut && r.URL.Query().Get("resource") == "file":
		u.createHeader = r.Header.Clone()
		status = u.createStatus
	case r.Method == http.MethodPatch && r.URL.Query().Get("action") == "append":
		u.updates++
		status = u.updateStatus
		if status == http.StatusOK || status == http.StatusAccepted {
			u.files[r.URL.Path] = string(body)
		}
	}
	w.Header().Set("x-ms-request-id", "upstream-id")
	w.WriteHeader(status)
	if status >= 300 {
		io.WriteString(w, u.errorBody)
	}
}

// memJournal collects recorded entries. Like a database handle it refuses
// work on a done context.
type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *memJournal) Record(ctx context.Context, e journal.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

// --- Test helpers ---

func newTestConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:          "127.0.0.1",
			Port:          9010,
			MaxObjectSize: 1024,
		},
		Observability: config.ObservabilityConfig{Metrics: true},
	}
}

// newTestServer creates a Server writing to a fresh upstream.
func newTestServer(t *testing.T, cfg *config.Config) (*Server, *upstream, *memJournal) {
	t.Helper()
	up := &upstream{
		createStatus: http.StatusCreated,
		updateStatus: http.StatusOK,
		files:        make(map[string]string),
	}
	ts := httptest.NewServer(up)
	t.Cleanup(ts.Close)

	core, err := azdls.NewCore(config.AzdlsConfig{
		Endpoint:   ts.URL,
		Filesystem: "fs",
	}, auth.NewSASSigner("sv=2021-08-06&sig=test"), azdls.WithHTTPClient(ts.Client()))
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}

	j := &memJournal{}
	srv, err := New(cfg, core, WithJournal(j))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return srv, up, j
}

// testRequest performs a request through the full middleware chain.
func testRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v (%q)", err, rec.Body.String())
	}
	return body.Error
}

// --- Tests ---

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, newTestConfig())
	rec := testRequest(t, srv, "GET", "/health", "")

	if rec.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("GET /health Content-Type = %q, want application/json", ct)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET /health body unmarshal error: %v", err)
	}
	if body["status"] != "ok" || body["filesystem"] != "fs" {
		t.Errorf("GET /health body = %v", body)
	}
}

func TestHealthHeadEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, newTestConfig())
	rec := testRequest(t, srv, "HEAD", "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("HEAD /health status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestCommonHeaders(t *testing.T) {
	srv, _, _ := newTestServer(t, newTestConfig())
	rec := testRequest(t, srv, "GET", "/health", "")

	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id")
	}
	if rec.Header().Get("Server") != "azdls-gateway" {
		t.Errorf("Server = %q", rec.Header().Get("Server"))
	}
	if rec.Header().Get("Date") == "" {
		t.Error("missing Date")
	}
}

func TestOpenAPIEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, newTestConfig())
	rec := testRequest(t, srv, "GET", "/openapi.json", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /openapi.json status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET /openapi.json body is not valid JSON: %v", err)
	}
	if _, ok := body["openapi"]; !ok {
		t.Errorf("GET /openapi.json response does not contain 'openapi' key")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, newTestConfig())

	// Vectors only appear in the output after at least one observation.
	testRequest(t, srv, "GET", "/health", "")
	testRequest(t, srv, "PUT", "/files/metrics-check", "x")

	rec := testRequest(t, srv, "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := rec.Body.String()
	for _, name := range []string{
		"azdls_http_requests_total",
		"azdls_http_request_duration_seconds",
		"azdls_writes_total",
		"azdls_request_duration_seconds",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("GET /metrics does not contain %s", name)
		}
	}
}

func TestMetricsDisabled(t *testing.T) {
	cfg := newTestConfig()
	cfg.Observability.Metrics = false
	srv, _, _ := newTestServer(t, cfg)

	rec := testRequest(t, srv, "GET", "/metrics", "")
	if rec.Code == http.StatusOK {
		t.Errorf("GET /metrics with metrics disabled should not return 200, got %d", rec.Code)
	}
}

func TestPutFile(t *testing.T) {
	srv, up, j := newTestServer(t, newTestConfig())

	req := httptest.NewRequest("PUT", "/files/data/file1", strings.NewReader("hello world"))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Cache-Control", "max-age=60")
	req.Header.Set("x-ms-meta-Owner", "ops")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("PUT status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result uploadResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Path != "/data/file1" || result.Bytes != 11 {
		t.Errorf("result = %+v", result)
	}
	if up.files["/fs/data/file1"] != "hello world" {
		t.Errorf("upstream files = %v", up.files)
	}
	if up.createHeader.Get("x-ms-content-type") != "text/plain" {
		t.Errorf("x-ms-content-type = %q", up.createHeader.Get("x-ms-content-type"))
	}
	if up.createHeader.Get("x-ms-cache-control") != "max-age=60" {
		t.Errorf("x-ms-cache-control = %q", up.createHeader.Get("x-ms-cache-control"))
	}
	if up.createHeader.Get("x-ms-properties") != "owner=b3Bz" {
		t.Errorf("x-ms-properties = %q", up.createHeader.Get("x-ms-properties"))
	}

	if len(j.entries) != 1 || j.entries[0].Outcome != metrics.OutcomeWritten || j.entries[0].Size != 11 {
		t.Errorf("journal = %+v", j.entries)
	}
}

func TestPutEmptyFile(t *testing.T) {
	srv, up, _ := newTestServer(t, newTestConfig())
	up.createStatus = http.StatusOK

	rec := testRequest(t, srv, "PUT", "/files/data/empty", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("PUT status = %d, body %s", rec.Code, rec.Body.String())
	}
	if v, ok := up.files["/fs/data/empty"]; !ok || v != "" {
		t.Errorf("upstream files = %v", up.files)
	}
}

func TestPutCreateRejected(t *testing.T) {
	srv, up, j := newTestServer(t, newTestConfig())
	up.createStatus = http.StatusForbidden
	up.errorBody = `{"error":{"code":"AuthorizationFailure","message":"denied"}}`

	rec := testRequest(t, srv, "PUT", "/files/data/file1", "hello")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("PUT status = %d, want 502", rec.Code)
	}
	e := decodeError(t, rec)
	if e.Phase != "create" || e.Code != "AuthorizationFailure" || e.RequestID != "upstream-id" {
		t.Errorf("error = %+v", e)
	}
	if up.updates != 0 {
		t.Errorf("update requests = %d, want 0", up.updates)
	}
	if len(j.entries) != 1 || j.entries[0].Outcome != metrics.OutcomeCreateFailed || j.entries[0].Status != 403 {
		t.Errorf("journal = %+v", j.entries)
	}
}

func TestPutUpdateRejected(t *testing.T) {
	srv, up, j := newTestServer(t, newTestConfig())
	up.updateStatus = http.StatusInternalServerError
	up.errorBody = `{"error":{"code":"X"}}`

	rec := testRequest(t, srv, "PUT", "/files/data/file1", "hello world")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("PUT status = %d, want 502", rec.Code)
	}
	e := decodeError(t, rec)
	if e.Phase != "update" || e.Code != "X" {
		t.Errorf("error = %+v", e)
	}
	if len(j.entries) != 1 || j.entries[0].Outcome != journal.OutcomeUpdateFailed || j.entries[0].Code != "X" {
		t.Errorf("journal = %+v", j.entries)
	}
}

func TestPutClientGoneIsJournaled(t *testing.T) {
	srv, up, j := newTestServer(t, newTestConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	up.onUpdate = func(r *http.Request) {
		// The client disconnects after the file was created.
		cancel()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}

	req := httptest.NewRequest("PUT", "/files/data/file1", strings.NewReader("hello world")).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("PUT status = %d, want 502", rec.Code)
	}
	if e := decodeError(t, rec); e.Phase != "" {
		t.Errorf("error phase = %q, want none", e.Phase)
	}
	if len(j.entries) != 1 || j.entries[0].Outcome != metrics.OutcomeUpdateFailed || j.entries[0].Path != "/data/file1" {
		t.Fatalf("journal = %+v", j.entries)
	}
}

func TestPutSystemRouteNames(t *testing.T) {
	srv, up, _ := newTestServer(t, newTestConfig())

	rec := testRequest(t, srv, "PUT", "/files/health", "ok")
	if rec.Code != http.StatusCreated {
		t.Fatalf("PUT /files/health status = %d, body %s", rec.Code, rec.Body.String())
	}
	if up.files["/fs/health"] != "ok" {
		t.Errorf("upstream files = %v", up.files)
	}

	for _, path := range []string{"/health", "/metrics", "/docs", "/openapi.json", "/data/file1"} {
		rec := testRequest(t, srv, "PUT", path, "x")
		if rec.Code == http.StatusCreated {
			t.Errorf("PUT %s was treated as an upload", path)
		}
	}
	if len(up.files) != 1 {
		t.Errorf("upstream files = %v", up.files)
	}
}

func TestPutInvalidPath(t *testing.T) {
	srv, up, j := newTestServer(t, newTestConfig())

	rec := testRequest(t, srv, "PUT", "/files/data/dir/", "x")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("PUT status = %d, want 400", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != "InvalidPath" {
		t.Errorf("error = %+v", e)
	}
	if up.createHeader != nil || len(j.entries) != 0 {
		t.Error("invalid path must not reach upstream or journal")
	}
}

func TestPutTooLarge(t *testing.T) {
	cfg := newTestConfig()
	cfg.Server.MaxObjectSize = 4
	srv, up, _ := newTestServer(t, cfg)

	rec := testRequest(t, srv, "PUT", "/files/big", "too large")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("PUT status = %d, want 413", rec.Code)
	}

	// Unknown length is still capped while reading.
	req := httptest.NewRequest("PUT", "/files/big", io.NopCloser(strings.NewReader("too large")))
	req.ContentLength = -1
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("PUT (unknown length) status = %d, want 413", rec.Code)
	}
	if up.createHeader != nil {
		t.Error("oversized upload reached upstream")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t, newTestConfig())
	rec := testRequest(t, srv, "GET", "/files/data/file1", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != "MethodNotAllowed" {
		t.Errorf("error = %+v", e)
	}
}

func TestTransferEncodingCheck(t *testing.T) {
	srv, _, _ := newTestServer(t, newTestConfig())

	req := httptest.NewRequest("PUT", "/files/data/file1", strings.NewReader("x"))
	req.TransferEncoding = []string{"identity"}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWriteOptions(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Disposition", "attachment")
	h.Set("X-Ms-Meta-Batch", "7")
	h.Set("X-Other", "ignored")

	op := writeOptions(h)
	if op.ContentDisposition != "attachment" {
		t.Errorf("ContentDisposition = %q", op.ContentDisposition)
	}
	if len(op.Metadata) != 1 || op.Metadata["batch"] != "7" {
		t.Errorf("Metadata = %v", op.Metadata)
	}
	if op := writeOptions(http.Header{}); op.Metadata != nil {
		t.Errorf("empty headers produced metadata %v", op.Metadata)
	}
}
