package dispatcher

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/stackrun/internal/platform/envutil"
)

// Pool is the N-goroutine dispatch loop, grounded on the teacher's
// internal/jobs/worker.Worker.Start/runLoop: each goroutine both
// listens for self-trigger notifications (fast path) and polls on a
// ticker (fallback, guarantees forward progress if Redis drops a
// publish or is unreachable). Workers are tracked with an errgroup so
// Wait gives one point to block until every worker has returned; a
// worker's loop never returns an error, so Wait always returns nil.
type Pool struct {
	d  *Dispatcher
	eg *errgroup.Group
}

func NewPool(d *Dispatcher) *Pool { return &Pool{d: d} }

// Start launches DISPATCHER_CONCURRENCY (default 4) goroutines,
// matching the teacher's WORKER_CONCURRENCY knob.
func (p *Pool) Start(ctx context.Context) {
	concurrency := envutil.GetEnvAsInt("DISPATCHER_CONCURRENCY", 4, p.d.log)
	if concurrency < 1 {
		concurrency = 1
	}
	p.d.log.Info("starting dispatcher pool", "concurrency", concurrency)

	eg, egCtx := errgroup.WithContext(ctx)
	p.eg = eg
	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		eg.Go(func() error {
			p.runLoop(egCtx, workerID)
			return nil
		})
	}
}

// Wait blocks until every worker goroutine has returned — in practice
// only once their shared context is cancelled. Safe to call even if
// Start was never called.
func (p *Pool) Wait() error {
	if p.eg == nil {
		return nil
	}
	return p.eg.Wait()
}

func (p *Pool) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(p.d.pollInterval)
	defer ticker.Stop()

	ch := p.d.trigger.Subscribe(ctx)

	for {
		select {
		case <-ctx.Done():
			p.d.log.Info("dispatcher worker stopped", "worker_id", workerID)
			return
		case id, ok := <-ch:
			if !ok {
				// Trigger transport is gone; keep serving the ticker poll.
				ch = nil
				continue
			}
			row, err := p.d.store.ClaimSpecific(ctx, id)
			if err != nil {
				p.d.log.Warn("claim_specific failed", "worker_id", workerID, "stack_run_id", id, "error", err)
				continue
			}
			if row == nil {
				continue
			}
			p.d.Step(ctx, row)
		case <-ticker.C:
			row, err := p.d.store.ClaimNextReady(ctx, p.d.staleProcessing)
			if err != nil {
				p.d.log.Warn("claim_next_ready failed", "worker_id", workerID, "error", err)
				continue
			}
			if row == nil {
				continue
			}
			p.d.Step(ctx, row)
		}
	}
}
