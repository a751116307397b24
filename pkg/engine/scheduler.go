package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// TaskResult is the outcome of one scheduled task.
type TaskResult struct {
	// Task is the task that ran.
	Task Task `json:"task"`

	// Variant is the descriptor variant that resolved, on success.
	Variant string `json:"variant,omitempty"`

	// Installed indicates the resolution had to install the capability.
	Installed bool `json:"installed"`

	// Err is the resolution failure, if any.
	Err error `json:"-"`

	// ErrorKind is the classified failure kind, for reporting.
	ErrorKind string `json:"error_kind,omitempty"`

	// Duration is how long the task took.
	Duration time.Duration `json:"duration"`
}

// RunResult aggregates a plan execution.
type RunResult struct {
	// PlanID is the executed plan.
	PlanID string `json:"plan_id"`

	// Results holds one entry per task, in completion order.
	Results []TaskResult `json:"results"`

	// Failed counts failed tasks.
	Failed int `json:"failed"`

	// Duration is the wall time of the run.
	Duration time.Duration `json:"duration"`
}

// Scheduler executes plans with bounded parallelism across targets. The
// engine performs no parallelism within one target: each target's tasks run
// sequentially in manifest order, because same-target resolutions share the
// cache and the remote connection, while different targets share nothing.
type Scheduler struct {
	resolver    *Resolver
	maxParallel int
}

// NewScheduler creates a scheduler over a resolver. maxParallel bounds the
// number of targets worked concurrently; zero or negative means 4.
func NewScheduler(resolver *Resolver, maxParallel int) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Scheduler{resolver: resolver, maxParallel: maxParallel}
}

// Run executes every task in the plan against the supplied targets.
// Targets missing from the map fail their tasks without remote calls. A
// failed task does not stop the target's remaining tasks: capability
// support is per capability, so one unsupported capability says nothing
// about the next.
func (s *Scheduler) Run(ctx context.Context, plan *Plan, targets map[string]Target) (*RunResult, error) {
	started := time.Now()
	byTarget := plan.TasksByTarget()
	targetIDs := plan.TargetIDs()

	sem := make(chan struct{}, s.maxParallel)
	resultCh := make(chan TaskResult)
	var wg sync.WaitGroup

	for _, targetID := range targetIDs {
		wg.Add(1)
		go func(targetID string, tasks []Task) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				for _, task := range tasks {
					resultCh <- TaskResult{Task: task, Err: ctx.Err(), ErrorKind: string(KindInternal)}
				}
				return
			}
			s.runTarget(ctx, targetID, tasks, targets[targetID], resultCh)
		}(targetID, byTarget[targetID])
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	run := &RunResult{PlanID: plan.ID}
	for res := range resultCh {
		if res.Err != nil {
			run.Failed++
		}
		run.Results = append(run.Results, res)
	}
	run.Duration = time.Since(started)

	log.Info().
		Str("plan_id", plan.ID).
		Int("tasks", len(run.Results)).
		Int("failed", run.Failed).
		Dur("duration", run.Duration).
		Msg("plan execution completed")
	return run, nil
}

func (s *Scheduler) runTarget(ctx context.Context, targetID string, tasks []Task, t Target, resultCh chan<- TaskResult) {
	if t == nil {
		for _, task := range tasks {
			resultCh <- TaskResult{
				Task:      task,
				Err:       NewError(KindInternal, "target not found in inventory").WithTarget(targetID),
				ErrorKind: string(KindInternal),
			}
		}
		return
	}

	for _, task := range tasks {
		started := time.Now()
		resolved, err := s.resolver.Resolve(ctx, task.Capability, t)
		res := TaskResult{Task: task, Duration: time.Since(started)}
		if err != nil {
			res.Err = err
			res.ErrorKind = string(KindOf(err))
		} else {
			res.Variant = resolved.Descriptor.Name
			res.Installed = resolved.Installed
		}
		resultCh <- res
	}
}
