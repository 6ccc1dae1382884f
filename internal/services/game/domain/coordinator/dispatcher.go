package coordinator

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/louisbranch/robotbattle/internal/platform/timeouts"
)

const (
	// DefaultWorkers is the resolution worker count.
	DefaultWorkers = 4
	// DefaultQueue is the buffered job capacity in front of the workers.
	DefaultQueue = 64
)

// Job is one unit of background work. ctx is cancelled when the job times
// out or the dispatcher is force-closed.
type Job func(ctx context.Context)

// Dispatcher runs jobs on a fixed worker pool. Dispatch never blocks: when
// the queue is full the job gets its own goroutine.
type Dispatcher struct {
	jobs    chan Job
	base    context.Context
	cancel  context.CancelFunc
	timeout time.Duration

	mu       sync.RWMutex
	closed   bool
	workers  sync.WaitGroup
	inflight sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithJobTimeout caps each job's context.
func WithJobTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher starts workers goroutines reading from a queue of the given size.
func NewDispatcher(workers, queue int, opts ...DispatcherOption) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queue < 0 {
		queue = 0
	}
	base, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		jobs:    make(chan Job, queue),
		base:    base,
		cancel:  cancel,
		timeout: timeouts.ResolveTurn,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

// Dispatch schedules job. It reports false once the dispatcher is closed.
func (d *Dispatcher) Dispatch(job Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	d.inflight.Add(1)
	select {
	case d.jobs <- job:
	default:
		go d.run(job)
	}
	return true
}

// Close stops accepting jobs and waits for queued and running ones. When ctx
// ends first, running jobs are cancelled and ctx's error is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		d.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.workers.Done()
	for job := range d.jobs {
		d.run(job)
	}
}

func (d *Dispatcher) run(job Job) {
	defer d.inflight.Done()
	defer func() {
		if recovered := recover(); recovered != nil {
			log.Error().Interface("panic", recovered).Bytes("stack", debug.Stack()).Msg("dispatched job panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(d.base, d.timeout)
	defer cancel()
	job(ctx)
}
