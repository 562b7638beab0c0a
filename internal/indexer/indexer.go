// Package indexer applies batches of file changes to the code indexes,
// journaling each one in the WAL before it is attempted.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/HendryAvila/indexbridge/internal/wal"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Change statuses accepted by Apply.
const (
	StatusAdded    = "added"
	StatusModified = "modified"
	StatusDeleted  = "deleted"
)

// DefaultRetryInterval separates immediate retries of a failed mutation.
const DefaultRetryInterval = 200 * time.Millisecond

// Journal is the subset of *wal.WAL used to track mutations.
type Journal interface {
	Append(op wal.Operation) (string, error)
	MarkSuccess(id string) error
	MarkFailure(id, cause string) error
}

// FileChange is one file of an update request.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Status  string `json:"status"`
	Hash    string `json:"hash,omitempty"`
}

// FileResult is the outcome for one FileChange. A failed change is
// Retryable when recovery can replay it from journaled content; deletes
// and empty upserts journal none.
type FileResult struct {
	Path      string `json:"path"`
	WALID     string `json:"wal_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Result summarizes an Apply.
type Result struct {
	FilesProcessed int          `json:"files_processed"`
	Upserted       int          `json:"upserted"`
	Deleted        int          `json:"deleted"`
	Failed         int          `json:"failed"`
	Untracked      int          `json:"untracked"`
	Files          []FileResult `json:"files"`
}

// Indexer is the foreground writer of the indexes.
type Indexer struct {
	journal  Journal
	targets  *Targets
	retries  uint64
	interval time.Duration
}

// New returns an Indexer which retries each failed mutation up to
// retries times before marking it failed for background recovery.
func New(journal Journal, targets *Targets, retries uint64) *Indexer {
	return &Indexer{
		journal:  journal,
		targets:  targets,
		retries:  retries,
		interval: DefaultRetryInterval,
	}
}

// SetRetryInterval overrides DefaultRetryInterval.
func (ix *Indexer) SetRetryInterval(d time.Duration) { ix.interval = d }

// Apply journals and applies each change in order. A change which fails
// is recorded in the Result and left failed in the WAL; the remaining
// changes are still applied.
func (ix *Indexer) Apply(ctx context.Context, changes []FileChange) Result {
	var res = Result{FilesProcessed: len(changes)}

	for _, c := range changes {
		var fr = FileResult{Path: c.Path}
		var untracked bool
		var err error

		fr.WALID, untracked, err = ix.apply(ctx, c)
		if untracked {
			res.Untracked++
		}
		if err != nil {
			fr.Error = err.Error()
			fr.Retryable = fr.WALID != "" && c.Status != StatusDeleted && c.Content != ""
			res.Failed++
			filesTotal.WithLabelValues("failed").Inc()
		} else {
			if c.Status == StatusDeleted {
				res.Deleted++
			} else {
				res.Upserted++
			}
			filesTotal.WithLabelValues("success").Inc()
		}
		res.Files = append(res.Files, fr)
	}

	log.WithFields(log.Fields{
		"files":     res.FilesProcessed,
		"upserted":  res.Upserted,
		"deleted":   res.Deleted,
		"failed":    res.Failed,
		"untracked": res.Untracked,
	}).Info("indexer: applied changes")
	return res
}

// apply returns the WAL id of the change, or untracked if it could not
// be journaled.
func (ix *Indexer) apply(ctx context.Context, c FileChange) (id string, untracked bool, _ error) {
	var op = wal.Operation{File: c.Path, Content: c.Content, Hash: c.Hash}
	switch c.Status {
	case StatusAdded, StatusModified:
		op.Type = wal.OpUpsert
		if op.Hash == "" {
			var sum = sha256.Sum256([]byte(c.Content))
			op.Hash = hex.EncodeToString(sum[:])
		}
	case StatusDeleted:
		op.Type = wal.OpDelete
		op.Content, op.Hash = "", ""
	default:
		return "", false, errors.Errorf("invalid status %q", c.Status)
	}
	if c.Path == "" {
		return "", false, errors.New("missing path")
	}

	id, err := ix.journal.Append(op)
	if err != nil {
		log.WithFields(log.Fields{"file": c.Path, "err": err}).Error("indexer: failed to journal operation; applying untracked")
		id, untracked = "", true
	}

	var mutate = func() error {
		if op.Type == wal.OpDelete {
			return ix.targets.Delete(ctx, c.Path)
		}
		return ix.targets.Upsert(ctx, c.Path, c.Content, c.Status)
	}
	var policy = backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(ix.interval), ix.retries), ctx)

	err = backoff.Retry(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return mutate()
	}, policy)

	if untracked {
		return "", true, err
	}
	if err != nil {
		log.WithFields(log.Fields{"id": id, "file": c.Path, "err": err}).Warn("indexer: mutation failed; left for recovery")
		if markErr := ix.journal.MarkFailure(id, err.Error()); markErr != nil {
			log.WithFields(log.Fields{"id": id, "err": markErr}).Error("indexer: failed to mark failure")
		}
		return id, false, err
	}
	if markErr := ix.journal.MarkSuccess(id); markErr != nil {
		log.WithFields(log.Fields{"id": id, "err": markErr}).Error("indexer: failed to mark success")
	}
	return id, false, nil
}

var filesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "indexbridge_indexer_files_total",
	Help: "Cumulative number of file changes applied by the indexer, by result.",
}, []string{"result"})

// Collectors returns the indexer metric collectors for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{filesTotal}
}
