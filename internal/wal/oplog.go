package wal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// OperationLog is the append-only journal of Records, one JSON object per
// line. Appends, rewrites and scans are serialized by a single mutex, so
// it is safe for concurrent use within one process. Concurrent processes
// sharing a journal are not supported.
//
// Status updates and removals rewrite the whole journal into a sibling
// ".next" file which is then renamed over the journal. A crash mid-rewrite
// leaves the previous journal intact.
type OperationLog struct {
	fs   afero.Fs
	path string
	now  func() time.Time

	mu     sync.Mutex
	lastID int64 // Microseconds encoded by the last issued id.
}

// RemoveResult summarizes a Remove rewrite.
type RemoveResult struct {
	Kept       int
	Removed    int
	RemovedIDs []string
}

// NewOperationLog opens the journal at path, creating its directory if
// needed. Ids issued afterwards sort after every id already journaled.
func NewOperationLog(fs afero.Fs, path string) (*OperationLog, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.WithMessage(err, "creating journal directory")
	}
	var l = &OperationLog{fs: fs, path: path, now: time.Now}

	lines, err := l.readLines()
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if rec, err := decodeRecord(line); err == nil {
			if micros, ok := parseID(rec.ID); ok && micros > l.lastID {
				l.lastID = micros
			}
		}
	}
	return l, nil
}

// Path returns the journal location.
func (l *OperationLog) Path() string { return l.path }

// Append writes rec as a new journal line, assigning its id, timestamp and
// pending status if they are unset, and returns the id.
func (l *OperationLog) Append(rec *Record) (string, error) {
	return l.AppendWith(rec, nil)
}

// AppendWith is Append with a prepare hook, called with the lock held once
// rec carries its id and timestamp and before the line is written. Id,
// timestamp and journal order therefore always agree.
func (l *OperationLog) AppendWith(rec *Record, prepare func(rec *Record)) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.ID == "" {
		rec.ID = l.nextIDLocked()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if prepare != nil {
		prepare(rec)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return "", errors.WithMessage(err, "encoding record")
	}
	f, err := l.fs.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", errors.WithMessage(err, "opening journal")
	}
	if _, err = f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return "", errors.WithMessage(err, "appending to journal")
	} else if err = f.Sync(); err != nil {
		_ = f.Close()
		return "", errors.WithMessage(err, "syncing journal")
	} else if err = f.Close(); err != nil {
		return "", errors.WithMessage(err, "closing journal")
	}
	return rec.ID, nil
}

// UpdateStatus sets the status and completion time of the record with the
// given id, and its error when errMsg is non-empty. Every other line is
// rewritten byte for byte. It returns false, without touching the journal,
// if no record matches.
func (l *OperationLog) UpdateStatus(id string, status Status, errMsg string) (bool, error) {
	if !status.Valid() {
		return false, errors.Errorf("invalid status %q", status)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	lines, err := l.readLines()
	if err != nil {
		return false, err
	}

	var updated bool
	for i, line := range lines {
		rec, err := decodeRecord(line)
		if err != nil || rec.ID != id {
			continue
		}
		var now = l.now().UTC()
		rec.Status = status
		rec.CompletedAt = &now
		if errMsg != "" {
			rec.Error = errMsg
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return false, errors.WithMessage(err, "encoding record")
		}
		lines[i] = b
		updated = true
	}

	if !updated {
		return false, nil
	}
	return true, l.rewrite(lines)
}

// Scan returns the records matching pred in journal order. Lines which do
// not decode to a valid record are skipped.
func (l *OperationLog) Scan(pred Predicate) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lines, err := l.readLines()
	if err != nil {
		return nil, err
	}

	var out []Record
	for n, line := range lines {
		rec, err := decodeRecord(line)
		if err != nil {
			log.WithFields(log.Fields{"line": n + 1, "err": err}).Warn("skipping malformed journal line")
			continue
		}
		if pred == nil || pred(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Remove rewrites the journal without the records matching pred. Malformed
// lines are carried over untouched and are not counted.
func (l *OperationLog) Remove(pred Predicate) (RemoveResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var res RemoveResult
	lines, err := l.readLines()
	if err != nil {
		return res, err
	}

	var keep = lines[:0:0]
	for _, line := range lines {
		rec, err := decodeRecord(line)
		if err != nil {
			keep = append(keep, line)
			continue
		}
		if pred(rec) {
			res.Removed++
			res.RemovedIDs = append(res.RemovedIDs, rec.ID)
			continue
		}
		res.Kept++
		keep = append(keep, line)
	}

	if res.Removed == 0 {
		return res, nil
	}
	return res, l.rewrite(keep)
}

func (l *OperationLog) nextIDLocked() string {
	var micros = l.now().UnixMicro()
	if micros <= l.lastID {
		micros = l.lastID + 1
	}
	l.lastID = micros
	return fmt.Sprintf("%d_%06d", micros/1e6, micros%1e6)
}

// readLines returns the non-blank journal lines. A missing journal is empty.
func (l *OperationLog) readLines() ([][]byte, error) {
	data, err := afero.ReadFile(l.fs, l.path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.WithMessage(err, "reading journal")
	}

	var lines [][]byte
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) != 0 {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (l *OperationLog) rewrite(lines [][]byte) error {
	var next = l.path + ".next"

	f, err := l.fs.OpenFile(next, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.WithMessage(err, "creating next journal")
	}
	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}

	if _, err = f.Write(buf.Bytes()); err != nil {
		err = errors.WithMessage(err, "writing next journal")
	} else if err = f.Sync(); err != nil {
		err = errors.WithMessage(err, "syncing next journal")
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = errors.WithMessage(closeErr, "closing next journal")
	}
	if err != nil {
		return err
	}

	if err = l.fs.Rename(next, l.path); err != nil {
		return errors.WithMessage(err, "renaming next => journal")
	}
	return nil
}

// isoLayout is the zone-less ISO 8601 form written by earlier journal
// writers. Such times are read in the local zone.
const isoLayout = "2006-01-02T15:04:05.999999"

func decodeRecord(line []byte) (Record, error) {
	var rec Record
	var aux = struct {
		*Record
		Timestamp   string  `json:"timestamp"`
		CompletedAt *string `json:"completed_at"`
	}{Record: &rec}
	if err := json.Unmarshal(line, &aux); err != nil {
		return rec, err
	}

	var err error
	if aux.Timestamp != "" {
		if rec.Timestamp, err = parseJournalTime(aux.Timestamp); err != nil {
			return rec, err
		}
	}
	if aux.CompletedAt != nil && *aux.CompletedAt != "" {
		t, err := parseJournalTime(*aux.CompletedAt)
		if err != nil {
			return rec, err
		}
		rec.CompletedAt = &t
	}
	if rec.ID == "" {
		return rec, errors.New("record without id")
	} else if !rec.Status.Valid() {
		return rec, errors.Errorf("record %s has invalid status %q", rec.ID, rec.Status)
	}
	return rec, nil
}

// parseJournalTime accepts RFC 3339 and zone-less ISO 8601 timestamps.
func parseJournalTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(isoLayout, s, time.Local)
	if err != nil {
		return time.Time{}, errors.Errorf("unrecognized timestamp %q", s)
	}
	return t, nil
}

// parseID decodes an id issued by nextIDLocked back into microseconds.
func parseID(id string) (int64, bool) {
	sec, frac, ok := strings.Cut(id, "_")
	if !ok {
		return 0, false
	}
	s, err1 := strconv.ParseInt(sec, 10, 64)
	f, err2 := strconv.ParseInt(frac, 10, 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return s*1e6 + f, true
}
