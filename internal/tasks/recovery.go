// Package tasks implements the WAL maintenance jobs run by the scheduler:
// Recovery replays failed operations from their journaled content, and
// Cleanup purges old successful records.
//
// Neither task returns an error. Failures are logged and counted, and
// the next scheduled run tries again.
package tasks

import (
	"context"

	"github.com/HendryAvila/indexbridge/internal/index"
	"github.com/HendryAvila/indexbridge/internal/indexer"
	"github.com/HendryAvila/indexbridge/internal/wal"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Task names, as registered with the scheduler.
const (
	RecoveryName = "wal_recovery"
	CleanupName  = "wal_cleanup"
)

// DefaultRecoveryBatch bounds the failed records retried per run.
const DefaultRecoveryBatch = 10

// Journal is the subset of *wal.WAL used by Recovery.
type Journal interface {
	FailedOperations() ([]wal.Record, error)
	Content(id string) (string, bool)
	MarkSuccess(id string) error
	MarkFailure(id, cause string) error
}

// RecoveryReport summarizes a Recovery run. Unrecoverable records are
// also counted in Failed.
type RecoveryReport struct {
	Found         int `json:"found"`
	Recovered     int `json:"recovered"`
	Failed        int `json:"failed"`
	Unrecoverable int `json:"unrecoverable"`
	Remaining     int `json:"remaining"`
}

// Recovery retries failed WAL operations, oldest first.
type Recovery struct {
	journal Journal
	targets *indexer.Targets
	batch   int
}

// NewRecovery returns a Recovery retrying at most batch records per run.
func NewRecovery(journal Journal, targets *indexer.Targets, batch int) *Recovery {
	if batch <= 0 {
		batch = DefaultRecoveryBatch
	}
	return &Recovery{journal: journal, targets: targets, batch: batch}
}

// Run retries one batch of failed operations. A record whose content is
// gone cannot be replayed and is left failed, untouched.
func (r *Recovery) Run(ctx context.Context) RecoveryReport {
	var rep RecoveryReport
	log.Info("starting wal recovery")

	failed, err := r.journal.FailedOperations()
	if err != nil {
		log.WithField("err", err).Error("wal recovery: listing failed operations")
		return rep
	}
	if rep.Found = len(failed); rep.Found == 0 {
		log.Info("wal recovery: no failed operations")
		return rep
	}

	var batch = failed
	if len(batch) > r.batch {
		batch = batch[:r.batch]
	}

	for _, rec := range batch {
		if ctx.Err() != nil {
			break
		}
		var entry = log.WithFields(log.Fields{"id": rec.ID, "file": rec.File, "operation": rec.Operation})

		content, ok := r.journal.Content(rec.ID)
		if !ok {
			entry.Error("wal recovery: content not found; operation cannot be replayed")
			rep.Unrecoverable++
			rep.Failed++
			recoveryTotal.WithLabelValues("unrecoverable").Inc()
			continue
		}

		if err := r.replay(ctx, rec, content); err != nil {
			entry.WithField("err", err).Warn("wal recovery: retry failed")
			if markErr := r.journal.MarkFailure(rec.ID, err.Error()); markErr != nil {
				entry.WithField("err", markErr).Error("wal recovery: marking failure")
			}
			rep.Failed++
			recoveryTotal.WithLabelValues("failed").Inc()
			continue
		}

		if err := r.journal.MarkSuccess(rec.ID); err != nil {
			entry.WithField("err", err).Error("wal recovery: marking success")
		}
		rep.Recovered++
		recoveryTotal.WithLabelValues("recovered").Inc()
		entry.Info("wal recovery: recovered operation")
	}

	rep.Remaining = rep.Found - rep.Recovered
	log.WithFields(log.Fields{
		"recovered":     rep.Recovered,
		"failed":        rep.Failed,
		"unrecoverable": rep.Unrecoverable,
		"remaining":     rep.Remaining,
	}).Info("wal recovery completed")
	return rep
}

func (r *Recovery) replay(ctx context.Context, rec wal.Record, content string) error {
	switch rec.Operation {
	case wal.OpDelete:
		return r.targets.Delete(ctx, rec.File)
	default:
		return r.targets.Upsert(ctx, rec.File, content, index.StatusRecovered)
	}
}

var recoveryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "indexbridge_recovery_operations_total",
	Help: "Cumulative number of failed operations retried by recovery, by result.",
}, []string{"result"})
