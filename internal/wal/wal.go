package wal

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Config locates the journal. Content blobs live in ContentDir beside it.
type Config struct {
	LogFile string
	// Now overrides the clock used for ids, timestamps and retention.
	Now func() time.Time
}

// WAL composes the ContentStore and OperationLog into the write-ahead
// contract used by index mutators:
//
//	id, _ := w.Append(op)     // durable before the side effect
//	err := mutate()
//	w.MarkSuccess(id) or w.MarkFailure(id, err.Error())
//
// Secondary failures, such as losing a content blob, are logged rather
// than returned: the WAL degrades to metadata-only tracking instead of
// dropping the audit trail.
type WAL struct {
	log     *OperationLog
	content *ContentStore
	now     func() time.Time
}

// New opens the WAL described by cfg on fs.
func New(fs afero.Fs, cfg Config) (*WAL, error) {
	if cfg.LogFile == "" {
		return nil, errors.New("wal: log file not configured")
	}
	oplog, err := NewOperationLog(fs, cfg.LogFile)
	if err != nil {
		return nil, errors.WithMessage(err, "wal: opening journal")
	}
	content, err := NewContentStore(fs, filepath.Join(filepath.Dir(cfg.LogFile), ContentDir))
	if err != nil {
		return nil, errors.WithMessage(err, "wal: opening content store")
	}
	var w = &WAL{log: oplog, content: content, now: time.Now}
	if cfg.Now != nil {
		w.now, oplog.now = cfg.Now, cfg.Now
	}
	return w, nil
}

// ContentStore exposes the blob store, for size reporting.
func (w *WAL) ContentStore() *ContentStore { return w.content }

// Append journals op as a pending record and returns its id. Content is
// saved first; if that fails the record is still journaled, without a
// content reference. An error is returned only when the journal line
// itself could not be written.
func (w *WAL) Append(op Operation) (string, error) {
	if !op.Type.Valid() {
		return "", errors.Errorf("wal: invalid operation type %q", op.Type)
	} else if op.File == "" {
		return "", errors.New("wal: operation has no file")
	}

	var rec = Record{
		Operation:     op.Type,
		File:          op.File,
		ContentLength: len(op.Content),
	}
	if op.Hash != "" {
		var h = op.Hash
		rec.Hash = &h
	}

	// Content is saved under the journal lock, once the id is known.
	var saveContent = func(rec *Record) {
		if op.Content == "" {
			return
		}
		if ref, err := w.content.Save(rec.ID, op.Content); err != nil {
			contentSaveFailuresTotal.Inc()
			log.WithFields(log.Fields{"id": rec.ID, "file": op.File, "err": err}).
				Error("failed to save wal content; journaling metadata only")
		} else {
			rec.ContentFile = &ref
		}
	}

	if _, err := w.log.AppendWith(&rec, saveContent); err != nil {
		return rec.ID, errors.WithMessage(err, "wal: append")
	}
	appendsTotal.WithLabelValues(string(op.Type)).Inc()

	log.WithFields(log.Fields{"id": rec.ID, "operation": op.Type, "file": op.File}).Debug("wal: logged operation")
	return rec.ID, nil
}

// MarkSuccess transitions the record to success.
func (w *WAL) MarkSuccess(id string) error {
	return w.updateStatus(id, StatusSuccess, "")
}

// MarkFailure transitions the record to failed with the given cause.
func (w *WAL) MarkFailure(id, cause string) error {
	return w.updateStatus(id, StatusFailed, cause)
}

// Resolve marks a record successful on an operator's behalf, typically a
// failed record whose content is gone and which can never be replayed.
// It returns false if no record carries id.
func (w *WAL) Resolve(id, note string) (bool, error) {
	rec, err := w.Find(id)
	if errors.Cause(err) == ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}

	var msg = rec.Error
	if note != "" {
		msg = "resolved: " + note
	}
	ok, err := w.log.UpdateStatus(id, StatusSuccess, msg)
	if err != nil {
		return false, errors.WithMessage(err, "wal: resolve")
	}
	if ok {
		statusUpdatesTotal.WithLabelValues(string(StatusSuccess)).Inc()
		log.WithFields(log.Fields{"id": id, "file": rec.File, "note": note}).Info("wal: record resolved")
	}
	return ok, nil
}

func (w *WAL) updateStatus(id string, status Status, cause string) error {
	ok, err := w.log.UpdateStatus(id, status, cause)
	if err != nil {
		return errors.WithMessagef(err, "wal: marking %s %s", id, status)
	}
	if ok {
		statusUpdatesTotal.WithLabelValues(string(status)).Inc()
		log.WithFields(log.Fields{"id": id, "status": status}).Debug("wal: updated status")
	}
	return nil
}

// FailedOperations returns failed records, oldest first.
func (w *WAL) FailedOperations() ([]Record, error) {
	return w.log.Scan(WithStatus(StatusFailed))
}

// PendingOperations returns records never marked, oldest first.
func (w *WAL) PendingOperations() ([]Record, error) {
	return w.log.Scan(WithStatus(StatusPending))
}

// Find returns the record with the given id, or ErrNotFound.
func (w *WAL) Find(id string) (*Record, error) {
	recs, err := w.log.Scan(func(r Record) bool { return r.ID == id })
	if err != nil {
		return nil, err
	} else if len(recs) == 0 {
		return nil, errors.WithMessage(ErrNotFound, id)
	}
	return &recs[0], nil
}

// Content returns the content journaled with record id, if any survives.
func (w *WAL) Content(id string) (string, bool) {
	return w.content.Load(id)
}

// OperationWithContent merges rec with its recovered content.
func (w *WAL) OperationWithContent(rec Record) RecordWithContent {
	var out = RecordWithContent{Record: rec}
	if rec.HasContent() {
		out.Content, out.HasContent = w.content.Load(rec.ID)
	}
	return out
}

// Statistics counts records by status.
func (w *WAL) Statistics() (Stats, error) {
	var s Stats
	recs, err := w.log.Scan(All)
	if err != nil {
		return s, err
	}
	for _, r := range recs {
		s.Total++
		switch r.Status {
		case StatusPending:
			s.Pending++
		case StatusSuccess:
			s.Success++
		case StatusFailed:
			s.Failed++
		}
	}
	return s, nil
}

// CleanupOldEntries purges successful records whose timestamp is not after
// now minus days, together with their content. Pending and failed records
// are kept regardless of age.
func (w *WAL) CleanupOldEntries(days int) (CleanupResult, error) {
	var cutoff = w.now().Add(-time.Duration(days) * 24 * time.Hour)

	res, err := w.log.Remove(func(r Record) bool {
		return r.Status == StatusSuccess && !r.Timestamp.After(cutoff)
	})
	if err != nil {
		return CleanupResult{}, errors.WithMessage(err, "wal: cleanup")
	}

	for _, id := range res.RemovedIDs {
		if err := w.content.Delete(id); err != nil {
			log.WithFields(log.Fields{"id": id, "err": err}).Error("failed to delete wal content")
		}
	}
	cleanupRemovedTotal.Add(float64(res.Removed))

	log.WithFields(log.Fields{"kept": res.Kept, "removed": res.Removed, "days": days}).Info("wal cleanup")
	return CleanupResult{Kept: res.Kept, Removed: res.Removed}, nil
}
