// Package worker runs independent poll sessions with bounded concurrency.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	lroerrors "github.com/muaviaUsmani/lrowait/internal/errors"
	"github.com/muaviaUsmani/lrowait/internal/logger"
)

// Task is one unit of work, typically a submit-and-await of a single operation
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Group runs tasks concurrently, at most concurrency at a time.
// Tasks share nothing through the group; each gets the caller's context.
type Group struct {
	concurrency int
	log         logger.Logger
	active      atomic.Int64
}

// NewGroup creates a group; concurrency <= 0 means one task per goroutine, unbounded
func NewGroup(concurrency int, log logger.Logger) *Group {
	if log == nil {
		log = logger.Default()
	}
	return &Group{
		concurrency: concurrency,
		log:         log.WithComponent(logger.ComponentWorkflow).WithSource(logger.LogSourceInternal),
	}
}

// Run executes every task and returns their errors in task order.
// A panicking task yields a *errors.PanicError instead of crashing the run.
// Tasks not yet started when ctx is cancelled get ctx.Err().
func (g *Group) Run(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	if len(tasks) == 0 {
		return errs
	}

	limit := g.concurrency
	if limit <= 0 || limit > len(tasks) {
		limit = len(tasks)
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for i, task := range tasks {
		acquired := false
		if ctx.Err() == nil {
			select {
			case sem <- struct{}{}:
				acquired = true
			case <-ctx.Done():
			}
		}
		if !acquired {
			for j := i; j < len(tasks); j++ {
				errs[j] = ctx.Err()
			}
			wg.Wait()
			return errs
		}

		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = g.runTask(ctx, task)
		}(i, task)
	}

	wg.Wait()
	return errs
}

func (g *Group) runTask(ctx context.Context, task Task) error {
	g.active.Add(1)
	defer g.active.Add(-1)

	err := lroerrors.Safe(func() error {
		return task.Run(ctx)
	})

	var p *lroerrors.PanicError
	if errors.As(err, &p) {
		g.log.ErrorContext(ctx, "Task panicked",
			"task", task.Name,
			"panic_value", p.Value,
			"stack_trace", p.Stacktrace)
	}
	return err
}

// Active returns how many tasks are running right now
func (g *Group) Active() int64 {
	return g.active.Load()
}
