// Package runqueue implements the fixed-size Run worker pool: it
// polls for queued Runs and dispatches each to one of a fixed set of
// workers. Each worker processes one Run at a time; within a Run,
// items are processed sequentially by that worker.
package runqueue

import (
	"context"
	"sync"
	"time"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/internal/domain/services/runner"
	"github.com/bentbr/r_data_core_go/internal/infrastructure/repositories"
	"github.com/bentbr/r_data_core_go/pkg/logger"
)

const defaultPollInterval = 2 * time.Second

// Pool polls for queued Runs and dispatches each to a fixed-size set
// of workers.
type Pool struct {
	runs         *repositories.RunRepository
	orchestrator *runner.Orchestrator
	logger       *logger.Logger

	workerCount  int
	pollInterval time.Duration

	wg             sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// Config sizes the pool.
type Config struct {
	WorkerCount  int
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{WorkerCount: 4, PollInterval: defaultPollInterval}
}

func NewPool(cfg Config, runs *repositories.RunRepository, orchestrator *runner.Orchestrator, log *logger.Logger) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		runs:           runs,
		orchestrator:   orchestrator,
		logger:         log,
		workerCount:    cfg.WorkerCount,
		pollInterval:   cfg.PollInterval,
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("starting run worker pool", "workers", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Shutdown stops the pool, waiting up to timeout for in-flight runs
// to finish.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.shutdownCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdownCtx.Done():
			return
		case <-ticker.C:
			p.claimAndProcessNext(ctx, id)
		}
	}
}

// claimAndProcessNext claims a single pending Run to drive through
// ClaimNextQueuedRun (oldest queued first, skipping rows another
// worker has locked); callers that need to dispatch a Run immediately
// should call the orchestrator's Process directly instead of waiting
// on the next tick.
func (p *Pool) claimAndProcessNext(ctx context.Context, workerID int) {
	run, err := p.nextQueuedRun(ctx)
	if err != nil {
		p.logger.Error("failed to look up queued runs", "error", err, "worker", workerID)
		return
	}
	if run == nil {
		return
	}
	if err := p.orchestrator.Process(ctx, run.UUID); err != nil {
		p.logger.Error("run processing failed", "error", err, "run_uuid", run.UUID, "worker", workerID)
	}
}

func (p *Pool) nextQueuedRun(ctx context.Context) (*entities.Run, error) {
	return p.runs.ClaimNextQueuedRun(ctx)
}
