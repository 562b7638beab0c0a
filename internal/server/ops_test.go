package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/HendryAvila/indexbridge/internal/wal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type opsFixture struct {
	svc    *Service
	router http.Handler
}

func newOpsFixture(t *testing.T) *opsFixture {
	t.Helper()
	var reg = prometheus.NewRegistry()
	var svc = newTestService(t, reg)
	return &opsFixture{svc: svc, router: OpsRouter(svc, reg)}
}

func (f *opsFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req = httptest.NewRequest(method, path, strings.NewReader(body))
	var rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// failOp journals op and marks it failed, as a failed index mutation would.
func (f *opsFixture) failOp(t *testing.T, op wal.Operation) string {
	t.Helper()
	id, err := f.svc.WAL.Append(op)
	require.NoError(t, err)
	require.NoError(t, f.svc.WAL.MarkFailure(id, "vector store unavailable"))
	return id
}

func TestOpsHealth(t *testing.T) {
	var f = newOpsFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","scheduler":"initialized"}`, rec.Body.String())
}

func TestOpsStats(t *testing.T) {
	var f = newOpsFixture(t)
	f.failOp(t, wal.Operation{Type: wal.OpUpsert, File: "a.py", Content: "x = 1"})
	_, err := f.svc.WAL.Append(wal.Operation{Type: wal.OpDelete, File: "b.py"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/wal/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, wal.Stats{Total: 2, Pending: 1, Failed: 1}, resp.Stats)
	assert.Equal(t, 1, resp.ContentFiles)
	assert.EqualValues(t, 5, resp.ContentBytes)
	require.NotNil(t, resp.OldestPending)
	assert.Equal(t, "b.py", resp.OldestPending.File)
	assert.Len(t, resp.Jobs, 2)
}

func TestOpsFailed(t *testing.T) {
	var f = newOpsFixture(t)
	f.failOp(t, wal.Operation{Type: wal.OpUpsert, File: "a.py", Content: "x = 1"})
	f.failOp(t, wal.Operation{Type: wal.OpDelete, File: "b.py"})

	rec := f.do(t, http.MethodGet, "/wal/failed", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var ops []FailedOperation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ops))
	require.Len(t, ops, 2)
	assert.Equal(t, "a.py", ops[0].File)
	assert.True(t, ops[0].Recoverable)
	assert.Equal(t, "vector store unavailable", ops[0].Error)
	assert.False(t, ops[1].Recoverable)

	rec = f.do(t, http.MethodGet, "/wal/failed?limit=1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ops))
	assert.Len(t, ops, 1)

	rec = f.do(t, http.MethodGet, "/wal/failed?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpsRunRecoveryTask(t *testing.T) {
	var f = newOpsFixture(t)
	var id = f.failOp(t, wal.Operation{Type: wal.OpUpsert, File: "users.py", Content: usersPy})

	rec := f.do(t, http.MethodPost, "/wal/tasks/wal_recovery", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"task":"wal_recovery"`)

	got, err := f.svc.WAL.Find(id)
	require.NoError(t, err)
	assert.Equal(t, wal.StatusSuccess, got.Status)

	hits, err := f.svc.Vector.Search(context.Background(), f.svc.Config.Index.Collection, "fetch row", f.svc.Config.Index.UserID, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "users.py", hits[0].File)
}

func TestOpsRunUnknownTask(t *testing.T) {
	var f = newOpsFixture(t)

	rec := f.do(t, http.MethodPost, "/wal/tasks/bogus", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown task")

	rec = f.do(t, http.MethodGet, "/wal/tasks/wal_cleanup", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestOpsResolve(t *testing.T) {
	var f = newOpsFixture(t)
	var id = f.failOp(t, wal.Operation{Type: wal.OpDelete, File: "b.py"})

	rec := f.do(t, http.MethodPost, "/wal/operations/"+id+"/resolve", `{"note":"removed by hand"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := f.svc.WAL.Find(id)
	require.NoError(t, err)
	assert.Equal(t, wal.StatusSuccess, got.Status)
	assert.Equal(t, "resolved: removed by hand", got.Error)

	rec = f.do(t, http.MethodPost, "/wal/operations/nope/resolve", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/wal/operations/"+id+"/resolve", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpsMetrics(t *testing.T) {
	var f = newOpsFixture(t)
	f.failOp(t, wal.Operation{Type: wal.OpUpsert, File: "a.py", Content: "x"})

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "indexbridge_wal_appends_total")
}

func TestOpsWrongMethodIsNotAllowed(t *testing.T) {
	var f = newOpsFixture(t)

	for _, c := range []struct{ method, path string }{
		{http.MethodPost, "/wal/stats"},
		{http.MethodDelete, "/wal/failed"},
		{http.MethodGet, "/wal/tasks/wal_recovery"},
		{http.MethodGet, "/wal/operations/1_000001/resolve"},
		{http.MethodPost, "/healthz"},
	} {
		rec := f.do(t, c.method, c.path, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", c.method, c.path)
	}
}
