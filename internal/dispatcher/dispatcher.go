// Package dispatcher manages worker fan-out over the crawl frontier.
package dispatcher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Runner is a worker loop that returns once ctx is done.
type Runner interface {
	Run(ctx context.Context)
}

// Enqueuer admits URLs into the frontier.
type Enqueuer interface {
	Enqueue(ctx context.Context, url string, priority int) (bool, error)
}

// Dispatcher runs a fixed pool of workers against one frontier.
type Dispatcher struct {
	frontier Enqueuer
	workers  []Runner
}

// New creates a Dispatcher.
func New(frontier Enqueuer, workers []Runner) *Dispatcher {
	return &Dispatcher{
		frontier: frontier,
		workers:  workers,
	}
}

// Size is the number of workers in the pool.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until the context finishes and every worker has
// drained its in-flight task.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	return nil
}

// Enqueue proxies to the underlying frontier.
func (d *Dispatcher) Enqueue(ctx context.Context, url string, priority int) (bool, error) {
	added, err := d.frontier.Enqueue(ctx, url, priority)
	if err != nil {
		return false, fmt.Errorf("frontier enqueue: %w", err)
	}
	return added, nil
}
