// Package dispatcher manages fan-out of the long-running pipeline loops.
package dispatcher

import (
	"context"
	"sync"
)

// Runner is a long-running loop that exits when its context is canceled.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher starts every runner and waits for all of them to finish.
type Dispatcher struct {
	runners []Runner
}

// New creates a Dispatcher.
func New(runners ...Runner) *Dispatcher {
	return &Dispatcher{runners: runners}
}

// Run starts all runners and blocks until the context finishes and every
// runner has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Add(1)
		go func(runner Runner) {
			defer wg.Done()
			runner.Run(ctx)
		}(r)
	}
	<-ctx.Done()
	wg.Wait()
}
