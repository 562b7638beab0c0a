package wal

import (
	"bytes"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) (*OperationLog, afero.Fs) {
	t.Helper()
	var fs = afero.NewMemMapFs()
	l, err := NewOperationLog(fs, "/data/wal.jsonl")
	require.NoError(t, err)
	return l, fs
}

func TestOperationLog_AppendAssignsFields(t *testing.T) {
	l, _ := newTestLog(t)

	var rec = Record{Operation: OpUpsert, File: "a.py"}
	id, err := l.Append(&rec)
	require.NoError(t, err)

	assert.NotEmpty(t, id)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, StatusPending, rec.Status)
	assert.False(t, rec.Timestamp.IsZero())

	recs, err := l.Scan(All)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, id, recs[0].ID)
	assert.Equal(t, "a.py", recs[0].File)
}

func TestOperationLog_IDsStrictlyIncrease(t *testing.T) {
	l, _ := newTestLog(t)
	var fixed = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	var ids []string
	for _, f := range []string{"a.py", "b.py", "c.py"} {
		id, err := l.Append(&Record{Operation: OpUpsert, File: f})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	var a, b, c = ids[0], ids[1], ids[2]
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, b, c)

	pa, _ := parseID(a)
	pb, _ := parseID(b)
	pc, _ := parseID(c)
	assert.True(t, pa < pb && pb < pc)
}

func TestOperationLog_IDsContinueAfterReopen(t *testing.T) {
	l, fs := newTestLog(t)
	var future = time.Now().Add(time.Hour)
	l.now = func() time.Time { return future }

	id, err := l.Append(&Record{Operation: OpDelete, File: "a.go"})
	require.NoError(t, err)

	reopened, err := NewOperationLog(fs, "/data/wal.jsonl")
	require.NoError(t, err)

	last, _ := parseID(id)
	nextID, err := reopened.Append(&Record{Operation: OpDelete, File: "b.go"})
	require.NoError(t, err)
	next, _ := parseID(nextID)
	assert.Greater(t, next, last)
}

func TestOperationLog_UpdateStatusRewritesOnlyMatch(t *testing.T) {
	l, fs := newTestLog(t)

	var ids []string
	for _, f := range []string{"a.py", "b.py", "c.py"} {
		id, err := l.Append(&Record{Operation: OpUpsert, File: f})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	before, err := afero.ReadFile(fs, "/data/wal.jsonl")
	require.NoError(t, err)

	ok, err := l.UpdateStatus(ids[1], StatusFailed, "network timeout")
	require.NoError(t, err)
	assert.True(t, ok)

	after, err := afero.ReadFile(fs, "/data/wal.jsonl")
	require.NoError(t, err)

	var beforeLines = bytes.Split(bytes.TrimSpace(before), []byte{'\n'})
	var afterLines = bytes.Split(bytes.TrimSpace(after), []byte{'\n'})
	require.Len(t, afterLines, 3)
	assert.Equal(t, beforeLines[0], afterLines[0])
	assert.NotEqual(t, beforeLines[1], afterLines[1])
	assert.Equal(t, beforeLines[2], afterLines[2])

	recs, err := l.Scan(WithStatus(StatusFailed))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "network timeout", recs[0].Error)
	assert.NotNil(t, recs[0].CompletedAt)

	exists, err := afero.Exists(fs, "/data/wal.jsonl.next")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOperationLog_UpdateStatusNoMatch(t *testing.T) {
	l, fs := newTestLog(t)
	_, err := l.Append(&Record{Operation: OpUpsert, File: "a.py"})
	require.NoError(t, err)
	before, _ := afero.ReadFile(fs, "/data/wal.jsonl")

	ok, err := l.UpdateStatus("missing", StatusSuccess, "")
	require.NoError(t, err)
	assert.False(t, ok)

	after, _ := afero.ReadFile(fs, "/data/wal.jsonl")
	assert.Equal(t, before, after)
}

func TestOperationLog_UpdateStatusRejectsUnknownStatus(t *testing.T) {
	l, _ := newTestLog(t)
	_, err := l.UpdateStatus("x", Status("done"), "")
	assert.Error(t, err)
}

func TestOperationLog_ScanSkipsMalformedLines(t *testing.T) {
	l, fs := newTestLog(t)
	id, err := l.Append(&Record{Operation: OpUpsert, File: "a.py"})
	require.NoError(t, err)

	f, err := fs.OpenFile("/data/wal.jsonl", os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n{\"id\":\"\",\"status\":\"pending\"}\n{\"id\":\"9_1\",\"status\":\"weird\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = l.Append(&Record{Operation: OpDelete, File: "b.py"})
	require.NoError(t, err)

	recs, err := l.Scan(All)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, id, recs[0].ID)
	assert.Equal(t, "b.py", recs[1].File)

	// Malformed lines survive rewrites untouched.
	_, err = l.UpdateStatus(id, StatusSuccess, "")
	require.NoError(t, err)
	data, _ := afero.ReadFile(fs, "/data/wal.jsonl")
	assert.Contains(t, string(data), "{not json")
}

func TestOperationLog_Remove(t *testing.T) {
	l, _ := newTestLog(t)
	for _, f := range []string{"a", "b", "c", "d"} {
		_, err := l.Append(&Record{Operation: OpUpsert, File: f})
		require.NoError(t, err)
	}

	res, err := l.Remove(func(r Record) bool { return r.File == "b" || r.File == "d" })
	require.NoError(t, err)
	assert.Equal(t, 2, res.Kept)
	assert.Equal(t, 2, res.Removed)
	assert.Len(t, res.RemovedIDs, 2)

	recs, err := l.Scan(All)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].File)
	assert.Equal(t, "c", recs[1].File)
}

func TestOperationLog_ScanEmptyJournal(t *testing.T) {
	l, _ := newTestLog(t)
	recs, err := l.Scan(All)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestOperationLog_ConcurrentAppendAndUpdate(t *testing.T) {
	l, _ := newTestLog(t)

	var wg sync.WaitGroup
	var ids = make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := l.Append(&Record{Operation: OpUpsert, File: "f"})
			assert.NoError(t, err)
			ids[i] = id
			_, err = l.UpdateStatus(id, StatusSuccess, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	recs, err := l.Scan(WithStatus(StatusSuccess))
	require.NoError(t, err)
	assert.Len(t, recs, 20)
}

func TestOperationLog_ReadsZonelessTimestamps(t *testing.T) {
	l, fs := newTestLog(t)
	var lines = `{"id": "1700000000_123456", "timestamp": "2023-11-14T22:13:20.123456", "operation": "upsert", "file": "a.py", "hash": null, "content_file": "wal_content/1700000000_123456.txt", "content_length": 5, "status": "failed", "completed_at": "2023-11-14T22:13:21", "error": "vector db down"}
{"id": "1700000001_000001", "timestamp": "2023-11-14T22:13:21.000001", "operation": "delete", "file": "b.py", "hash": null, "content_file": null, "content_length": 0, "status": "pending"}
`
	require.NoError(t, afero.WriteFile(fs, l.Path(), []byte(lines), 0o644))

	failed, err := l.Scan(WithStatus(StatusFailed))
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "a.py", failed[0].File)
	assert.Equal(t, "vector db down", failed[0].Error)
	assert.True(t, failed[0].HasContent())
	assert.True(t, failed[0].Timestamp.Equal(time.Date(2023, 11, 14, 22, 13, 20, 123456000, time.Local)))
	require.NotNil(t, failed[0].CompletedAt)
	assert.True(t, failed[0].CompletedAt.Equal(time.Date(2023, 11, 14, 22, 13, 21, 0, time.Local)))

	all, err := l.Scan(All)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestOperationLog_RejectsUnparsableTimestamp(t *testing.T) {
	_, err := decodeRecord([]byte(`{"id": "1_000001", "timestamp": "yesterday", "operation": "upsert", "file": "a.py", "status": "failed"}`))
	assert.Error(t, err)
}
