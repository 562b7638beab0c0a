package server

import (
	"context"

	"github.com/HendryAvila/indexbridge/internal/config"
	"github.com/HendryAvila/indexbridge/internal/index/embed"
	"github.com/HendryAvila/indexbridge/internal/index/graphdb"
	"github.com/HendryAvila/indexbridge/internal/index/vectordb"
	"github.com/HendryAvila/indexbridge/internal/indexer"
	"github.com/HendryAvila/indexbridge/internal/scheduler"
	"github.com/HendryAvila/indexbridge/internal/tasks"
	"github.com/HendryAvila/indexbridge/internal/wal"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Service holds the constructed indexbridge components. It replaces any
// process-wide WAL instance: every consumer receives its dependencies
// from here.
type Service struct {
	Config    config.Config
	WAL       *wal.WAL
	Vector    *vectordb.Store
	Graph     *graphdb.Store
	Targets   *indexer.Targets
	Indexer   *indexer.Indexer
	Recovery  *tasks.Recovery
	Cleanup   *tasks.Cleanup
	Scheduler *scheduler.Scheduler
}

// NewService opens the WAL and both indexes under cfg.DataDir on fs, and
// wires the indexer and maintenance tasks around them. Metric collectors
// are registered with reg, if non-nil. The scheduler is initialized but
// not started.
func NewService(fs afero.Fs, cfg config.Config, reg prometheus.Registerer) (*Service, error) {
	var svc = &Service{Config: cfg, Scheduler: scheduler.New()}
	var err error

	if svc.WAL, err = wal.New(fs, wal.Config{LogFile: cfg.WALPath()}); err != nil {
		return nil, err
	}
	if svc.Vector, err = vectordb.New(vectordb.Config{
		Dir:        cfg.IndexDir(),
		ChunkLines: cfg.Index.ChunkLines,
		Embedder:   embed.NewHashEmbedder(cfg.Index.Dimensions),
	}); err != nil {
		return nil, errors.WithMessage(err, "opening vector index")
	}
	if svc.Graph, err = graphdb.New(cfg.IndexDir()); err != nil {
		_ = svc.Vector.Close()
		return nil, errors.WithMessage(err, "opening graph index")
	}

	svc.Targets = &indexer.Targets{
		Vector:     svc.Vector,
		Graph:      svc.Graph,
		Collection: cfg.Index.Collection,
		UserID:     cfg.Index.UserID,
	}
	svc.Indexer = indexer.New(svc.WAL, svc.Targets, cfg.Index.ApplyRetries)
	svc.Recovery = tasks.NewRecovery(svc.WAL, svc.Targets, cfg.WAL.RecoveryBatch)
	svc.Cleanup = tasks.NewCleanup(svc.WAL, cfg.WAL.RetentionDays)

	if err = svc.Scheduler.Init(
		scheduler.Job{
			Name:     tasks.RecoveryName,
			Interval: cfg.WAL.RecoveryInterval,
			Run:      func(ctx context.Context) { svc.Recovery.Run(ctx) },
		},
		scheduler.Job{
			Name:     tasks.CleanupName,
			Interval: cfg.WAL.CleanupInterval,
			Run:      func(ctx context.Context) { svc.Cleanup.Run(ctx) },
		},
	); err != nil {
		svc.Close()
		return nil, errors.WithMessage(err, "initializing scheduler")
	}

	if reg != nil {
		for _, cs := range [][]prometheus.Collector{
			wal.Collectors(),
			indexer.Collectors(),
			tasks.Collectors(),
			scheduler.Collectors(),
		} {
			reg.MustRegister(cs...)
		}
	}

	log.WithFields(log.Fields{
		"wal":      cfg.WALPath(),
		"indexDir": cfg.IndexDir(),
		"userID":   cfg.Index.UserID,
	}).Info("indexbridge service ready")
	return svc, nil
}

// Close stops the scheduler and closes both indexes.
func (svc *Service) Close() {
	if err := svc.Scheduler.Stop(context.Background()); err != nil {
		log.WithField("err", err).Warn("stopping scheduler")
	}
	if err := svc.Vector.Close(); err != nil {
		log.WithField("err", err).Warn("closing vector index")
	}
	if err := svc.Graph.Close(); err != nil {
		log.WithField("err", err).Warn("closing graph index")
	}
}
