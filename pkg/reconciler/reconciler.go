// Package reconciler drives the job queue: it periodically polls running
// jobs and starts waiting ones while worker capacity allows.
package reconciler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nordtext/annod/pkg/job"
)

// Machine is the slice of the job state machine the reconciler drives.
type Machine interface {
	Poll(ctx context.Context, rec *job.Record) (bool, error)
	StartAnnotation(ctx context.Context, rec *job.Record) error
	StartInstall(ctx context.Context, rec *job.Record) error
}

// Queue is the job-queue view the reconciler consumes.
type Queue interface {
	UnqueueInactive(ctx context.Context) error
	RunningWaiting(ctx context.Context) (running, waiting []*job.Record, err error)
}

// Config tunes the reconciliation loop.
type Config struct {
	// Workers caps how many jobs may run on the annotation host at once.
	// This is advisory capacity control, not preemptive scheduling.
	Workers int

	// Interval is the pause between reconciliation passes.
	Interval time.Duration

	// ProbeRate caps remote liveness probes per second. Zero disables
	// the limit.
	ProbeRate float64
}

// Reconciler advances the queue on a fixed interval.
type Reconciler struct {
	machine Machine
	queue   Queue
	cfg     Config
	limiter *rate.Limiter
	log     *zap.Logger
}

// New creates a reconciler. Workers defaults to 1, the interval to 20s.
func New(machine Machine, queue Queue, cfg Config, log *zap.Logger) *Reconciler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.ProbeRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ProbeRate), 1)
	}
	return &Reconciler{machine: machine, queue: queue, cfg: cfg, limiter: limiter, log: log}
}

// Run advances the queue every interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Advance(ctx); err != nil {
				r.log.Error("queue advancement failed", zap.Error(err))
			}
		}
	}
}

// Advance performs one reconciliation pass:
//
//  1. drop inactive jobs from the queue,
//  2. poll every running job's remote process,
//  3. start waiting jobs while fewer than Workers are running.
//
// Polls run in parallel; corpora are independent of each other.
func (r *Reconciler) Advance(ctx context.Context) error {
	if err := r.queue.UnqueueInactive(ctx); err != nil {
		return err
	}

	running, waiting, err := r.queue.RunningWaiting(ctx)
	if err != nil {
		return err
	}
	r.log.Debug("reconciliation pass",
		zap.Int("running", len(running)), zap.Int("waiting", len(waiting)))

	var mu sync.Mutex
	active := 0
	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range running {
		g.Go(func() error {
			if r.limiter != nil {
				if err := r.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			alive, err := r.machine.Poll(gctx, rec)
			if err != nil {
				// The probe failed but the job's status is unchanged and it
				// may well still be running, so its worker slot stays taken.
				r.log.Error("failed to poll job",
					zap.String("corpus_id", rec.CorpusID), zap.Error(err))
				alive = true
			}
			if alive {
				mu.Lock()
				active++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, rec := range waiting {
		if active >= r.cfg.Workers {
			break
		}
		switch rec.Status {
		case job.StatusWaiting:
			if err := r.machine.StartAnnotation(ctx, rec); err != nil {
				r.log.Error("failed to start annotation",
					zap.String("corpus_id", rec.CorpusID), zap.Error(err))
				continue
			}
			r.log.Info("started annotation process", zap.String("corpus_id", rec.CorpusID))
		case job.StatusWaitingInstall:
			if err := r.machine.StartInstall(ctx, rec); err != nil {
				r.log.Error("failed to start install",
					zap.String("corpus_id", rec.CorpusID), zap.Error(err))
				continue
			}
			r.log.Info("started install process", zap.String("corpus_id", rec.CorpusID))
		default:
			continue
		}
		active++
	}
	return nil
}
