package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tbcv/internal/store"
	"github.com/fyrsmithlabs/tbcv/internal/validate"
	"github.com/fyrsmithlabs/tbcv/internal/workflow"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "tbcv.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	content, err := validate.NewService(db, zap.NewNop())
	require.NoError(t, err)
	manager, err := workflow.NewManager(db, content, nil, zap.NewNop())
	require.NoError(t, err)

	srv, err := NewServer(manager, content, zap.NewNop(), nil)
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func writeMarkdownDir(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("doc-%02d.md", i))
		require.NoError(t, os.WriteFile(path, []byte("# Title\n\nbody\n"), 0o644))
	}
	return dir
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(nil, nil, nil, nil)
	require.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
}

func TestCreateWorkflow(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/workflows", CreateWorkflowRequest{
		Type:   "validate_directory",
		Params: map[string]any{"directory_path": "/docs"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	wf := decodeBody[workflow.Workflow](t, rec)
	assert.NotEmpty(t, wf.ID)
	assert.Equal(t, workflow.StatePending, wf.State)
}

func TestCreateWorkflowBadRequests(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/workflows", CreateWorkflowRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/workflows", CreateWorkflowRequest{Type: "mine_bitcoin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetWorkflowNotFound(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/workflows/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPausePendingConflicts(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/workflows", CreateWorkflowRequest{
		Type:   "validate_directory",
		Params: map[string]any{"directory_path": "/docs"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	wf := decodeBody[workflow.Workflow](t, rec)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	dir := writeMarkdownDir(t, 2)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/workflows", CreateWorkflowRequest{
		Type:   "validate_directory",
		Params: map[string]any{"directory_path": dir},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	wf := decodeBody[workflow.Workflow](t, rec)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/workflows/"+wf.ID, nil)
		return decodeBody[workflow.Workflow](t, rec).State == workflow.StateCompleted
	}, 5*time.Second, 20*time.Millisecond)

	// A completed workflow cannot be started again.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/workflows/"+wf.ID+"/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[workflow.Summary](t, rec)
	assert.Equal(t, 100, summary.ProgressPercent)
	assert.Equal(t, 2, summary.FilesProcessed)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/workflows/"+wf.ID+"/report?details=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[workflow.Report](t, rec)
	require.NotNil(t, report.Summary)
	assert.NotEmpty(t, report.Checkpoints)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/workflows/"+wf.ID+"/checkpoints", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cps := decodeBody[[]*workflow.Checkpoint](t, rec)
	assert.Len(t, cps, 2)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/workflows/"+wf.ID+"/validations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	results := decodeBody[[]*validate.Result](t, rec)
	assert.Len(t, results, 2)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/workflows?state=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[ListWorkflowsResponse](t, rec)
	require.Len(t, list.Workflows, 1)
	assert.Empty(t, list.Active)
}

func TestCheckpointCleanupEndpoint(t *testing.T) {
	srv := newTestServer(t)
	dir := writeMarkdownDir(t, 5)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/workflows", CreateWorkflowRequest{
		Type:   "validate_directory",
		Params: map[string]any{"directory_path": dir},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	wf := decodeBody[workflow.Workflow](t, rec)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/workflows/"+wf.ID, nil)
		return decodeBody[workflow.Workflow](t, rec).State == workflow.StateCompleted
	}, 5*time.Second, 20*time.Millisecond)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/checkpoints/cleanup?keep=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/checkpoints/cleanup?keep=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[CleanupResponse](t, rec)
	assert.Equal(t, 3, resp.Deleted)
	assert.Equal(t, 2, resp.Kept)
}

func TestRecoverEndpointConflicts(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/workflows", CreateWorkflowRequest{
		Type:   "validate_directory",
		Params: map[string]any{"directory_path": "/docs"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	wf := decodeBody[workflow.Workflow](t, rec)

	// Recovery only applies to failed or crashed-while-running workflows.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/recover", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRecommendationEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/recommendations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/recommendations/nope/approve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/recommendations/nope/apply", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
