package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/solazh/hivefarm/internal/domain"
	"github.com/solazh/hivefarm/internal/redact"
)

// AccountTask is one unit of per-account work: a registration attempt loop or
// a farming run. A non-nil error means the account terminally failed this
// operation; the pool records it and keeps sibling tasks running.
type AccountTask func(ctx context.Context, account *domain.Account) error

// WorkerPoolConfig holds configuration options for the worker pool.
type WorkerPoolConfig struct {
	// WorkerCount determines how many tasks run concurrently.
	// If zero or negative, defaults to 1.
	WorkerCount int
}

// WorkerPool is a bounded-concurrency executor: it runs at most WorkerCount
// account tasks at a time, never dispatches the same account to two workers
// (each account appears once in the input sequence and is consumed by exactly
// one worker), and drains all in-flight tasks before Run returns.
type WorkerPool struct {
	workerCount int
	logger      *slog.Logger
}

// NewWorkerPool creates a new worker pool with the specified configuration.
func NewWorkerPool(config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	return &WorkerPool{
		workerCount: workerCount,
		logger:      logger,
	}
}

// Run executes task once per account under the pool's concurrency bound and
// blocks until every dispatched task has finished. Cancelling ctx stops new
// dispatch; tasks already running are expected to observe ctx themselves.
// The returned summary counts terminal successes and failures.
func (p *WorkerPool) Run(ctx context.Context, accounts []*domain.Account, task AccountTask) *Summary {
	summary := NewSummary()
	queue := make(chan *domain.Account)

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go p.worker(ctx, i, queue, task, summary, &wg)
	}

	// Feed accounts until done or cancelled; workers pick them up as slots
	// free, which is what bounds concurrency.
feed:
	for _, account := range accounts {
		select {
		case <-ctx.Done():
			p.logger.Info("dispatch stopped, context cancelled",
				"remaining", len(accounts)-summary.Total())
			break feed
		case queue <- account:
		}
	}
	close(queue)

	wg.Wait()
	return summary
}

// worker consumes accounts from the queue until it closes.
func (p *WorkerPool) worker(ctx context.Context, id int, queue <-chan *domain.Account, task AccountTask, summary *Summary, wg *sync.WaitGroup) {
	defer wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)

	for account := range queue {
		p.runOne(ctx, id, account, task, summary)
	}

	p.logger.Debug("worker finished", "worker_id", id)
}

// runOne executes a single task with panic isolation so one misbehaving
// account cannot take down its siblings or the pool.
func (p *WorkerPool) runOne(ctx context.Context, workerID int, account *domain.Account, task AccountTask, summary *Summary) {
	logger := p.logger.With("email", account.Email, "worker_id", workerID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", "panic", r)
			summary.RecordFailure(account.Email, domain.FailureUnknown)
		}
	}()

	if err := task(ctx, account); err != nil {
		kind := domain.Classify(err)
		logger.Error("task failed", "failure_kind", kind.String(), "error", redact.Error(err))
		summary.RecordFailure(account.Email, kind)
		return
	}

	summary.RecordSuccess(account.Email)
}
