package tasks

import (
	"context"

	"github.com/HendryAvila/indexbridge/internal/wal"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// DefaultRetentionDays is how long successful records are kept.
const DefaultRetentionDays = 7

// Maintainer is the subset of *wal.WAL used by Cleanup.
type Maintainer interface {
	CleanupOldEntries(days int) (wal.CleanupResult, error)
	Statistics() (wal.Stats, error)
}

// CleanupReport summarizes a Cleanup run.
type CleanupReport struct {
	Kept    int       `json:"kept"`
	Removed int       `json:"removed"`
	Stats   wal.Stats `json:"stats"`
}

// Cleanup purges successful WAL records older than the retention period.
type Cleanup struct {
	wal  Maintainer
	days int
}

// NewCleanup returns a Cleanup retaining successful records for days.
func NewCleanup(w Maintainer, days int) *Cleanup {
	if days < 0 {
		days = DefaultRetentionDays
	}
	return &Cleanup{wal: w, days: days}
}

// Run purges old records, then logs the WAL statistics.
func (c *Cleanup) Run(_ context.Context) CleanupReport {
	var rep CleanupReport
	log.Info("starting wal cleanup")

	res, err := c.wal.CleanupOldEntries(c.days)
	if err != nil {
		log.WithField("err", err).Error("wal cleanup failed")
		return rep
	}
	rep.Kept, rep.Removed = res.Kept, res.Removed

	if rep.Stats, err = c.wal.Statistics(); err != nil {
		log.WithField("err", err).Error("wal cleanup: reading statistics")
		return rep
	}
	log.WithFields(log.Fields{
		"total":   rep.Stats.Total,
		"pending": rep.Stats.Pending,
		"success": rep.Stats.Success,
		"failed":  rep.Stats.Failed,
	}).Info("wal stats")
	return rep
}

// Collectors returns the task metric collectors for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{recoveryTotal}
}
