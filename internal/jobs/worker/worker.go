package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/archivolt/mnemos/internal/data/repos"
	"github.com/archivolt/mnemos/internal/jobs/executor"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
	"github.com/archivolt/mnemos/internal/platform/envutil"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// Pool runs N executor loops against the stage job queue plus one janitor
// loop that requeues jobs whose worker died mid-claim.
type Pool struct {
	exec       *executor.Executor
	jobs       repos.StageJobRepo
	log        *logger.Logger
	size       int
	pollEvery  time.Duration
	staleAfter time.Duration
}

func NewPool(exec *executor.Executor, jobs repos.StageJobRepo, baseLog *logger.Logger) *Pool {
	return &Pool{
		exec:       exec,
		jobs:       jobs,
		log:        baseLog.With("component", "WorkerPool"),
		size:       envutil.Int("WORKER_POOL_SIZE", 4),
		pollEvery:  envutil.Duration("WORKER_POLL_INTERVAL", 2*time.Second),
		staleAfter: envutil.Duration("JOB_STALE_AFTER", 2*time.Minute),
	}
}

// Run blocks until the context is canceled. Worker loops drain the queue
// greedily and fall back to polling when it is empty.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < p.size; i++ {
		id := i
		g.Go(func() error {
			p.workLoop(gctx, id)
			return nil
		})
	}
	g.Go(func() error {
		p.janitorLoop(gctx)
		return nil
	})

	p.log.Info("worker pool started", "size", p.size)
	return g.Wait()
}

func (p *Pool) workLoop(ctx context.Context, id int) {
	log := p.log.With("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		did, err := p.exec.ExecuteNext(dbctx.New(ctx))
		if err != nil {
			log.Error("job execution error", "error", err)
		}
		if did {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollEvery):
		}
	}
}

func (p *Pool) janitorLoop(ctx context.Context) {
	ticker := time.NewTicker(p.staleAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.jobs.RequeueStale(dbctx.New(ctx), p.staleAfter); err != nil {
				p.log.Error("stale job recovery failed", "error", err)
			}
		}
	}
}
