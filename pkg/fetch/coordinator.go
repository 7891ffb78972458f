package fetch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent bounds how many fetches a coordinator runs at once.
const DefaultMaxConcurrent = 8

// Result is one slot of an ExecuteMany call: either an outcome or an error,
// never both.
type Result struct {
	Outcome *Outcome
	Err     error
}

// Runner executes one fetch. Satisfied by *Executor; tests substitute
// stubs.
type Runner interface {
	Execute(ctx context.Context, req Request) (*Outcome, error)
}

// Coordinator fans out independent fetches and settles all of them: every
// input request gets a result slot in input order, and one request's failure
// never cancels the others. A dashboard view that depends on five sources
// and loses one must still render the other four.
type Coordinator struct {
	runner        Runner
	maxConcurrent int64
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMaxConcurrent overrides the fan-out bound.
func WithMaxConcurrent(n int64) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxConcurrent = n
		}
	}
}

// NewCoordinator builds a coordinator over the given runner.
func NewCoordinator(runner Runner, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		runner:        runner,
		maxConcurrent: DefaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExecuteMany dispatches every request concurrently and waits for all of
// them to settle. The returned slice has one element per input request, in
// input order.
func (c *Coordinator) ExecuteMany(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	sem := semaphore.NewWeighted(c.maxConcurrent)
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = Result{Err: err}
				return
			}
			defer sem.Release(1)

			outcome, err := c.runner.Execute(ctx, req)
			if err != nil {
				results[i] = Result{Err: err}
				return
			}
			results[i] = Result{Outcome: outcome}
		}(i, req)
	}
	wg.Wait()

	return results
}
