package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/muaviaUsmani/lrowait/internal/httpop"
	"github.com/muaviaUsmani/lrowait/internal/logger"
	"github.com/muaviaUsmani/lrowait/internal/metrics"
	"github.com/muaviaUsmani/lrowait/internal/operation"
	"github.com/muaviaUsmani/lrowait/internal/poller"
	"github.com/muaviaUsmani/lrowait/internal/store"
	"github.com/muaviaUsmani/lrowait/internal/worker"
)

// claimTTL bounds how long a runner may hold the submit claim of one step
const claimTTL = 2 * time.Minute

// ExistenceChecker answers whether a target resource already exists
type ExistenceChecker interface {
	Exists(ctx context.Context, url string) (httpop.ExistsResult, error)
}

// Severity ranks how a step ended, from the workflow's point of view
type Severity int

const (
	SeverityOK Severity = iota
	SeverityRecoverable
	SeverityFatal
	SeverityCancelled
)

func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "ok"
	case SeverityRecoverable:
		return "recoverable"
	case SeverityFatal:
		return "fatal"
	case SeverityCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// StepResult is what happened to one step
type StepResult struct {
	Step    string             `json:"step"`
	Outcome *operation.Outcome `json:"outcome,omitempty"`
	// Err is set when the step never produced an outcome (submission error, setup error)
	Err     error  `json:"-"`
	Error   string `json:"error,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	// Resumed is true when polling picked up a handle recorded by an earlier run
	Resumed bool `json:"resumed,omitempty"`
}

// Severity classifies the result
func (r *StepResult) Severity() Severity {
	switch {
	case r.Skipped:
		return SeverityOK
	case r.Outcome != nil:
		switch {
		case r.Outcome.IsSuccess():
			return SeverityOK
		case r.Outcome.Kind == operation.OutcomeCancelled:
			return SeverityCancelled
		case r.Outcome.Recoverable():
			return SeverityRecoverable
		default:
			return SeverityFatal
		}
	case r.Err != nil:
		if errors.Is(r.Err, context.Canceled) {
			return SeverityCancelled
		}
		return SeverityFatal
	default:
		return SeverityOK
	}
}

// Summary lists every step result of a run
type Summary struct {
	Workflow   string        `json:"workflow"`
	Steps      []StepResult  `json:"steps"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Worst returns the most severe step result
func (s *Summary) Worst() Severity {
	worst := SeverityOK
	for i := range s.Steps {
		if sev := s.Steps[i].Severity(); sev > worst {
			worst = sev
		}
	}
	return worst
}

// OK reports whether every executed step succeeded or already existed
func (s *Summary) OK() bool {
	return s.Worst() == SeverityOK
}

// Runner executes workflows
type Runner struct {
	submitter   operation.Submitter
	source      operation.StatusSource
	exists      ExistenceChecker
	registry    *store.HandleRegistry
	store       poller.OutcomeStore
	defaults    poller.Policy
	concurrency int
	log         logger.Logger
	metrics     *metrics.Collector
	pollerOpts  []poller.Option
}

// Option configures a Runner
type Option func(*Runner)

// WithExistenceChecker enables exists_url checks
func WithExistenceChecker(c ExistenceChecker) Option {
	return func(r *Runner) { r.exists = c }
}

// WithRegistry enables resume and single-submission through Redis
func WithRegistry(reg *store.HandleRegistry) Option {
	return func(r *Runner) { r.registry = reg }
}

// WithStore persists every step outcome
func WithStore(s poller.OutcomeStore) Option {
	return func(r *Runner) { r.store = s }
}

// WithDefaultPolicy sets the policy steps start from
func WithDefaultPolicy(p poller.Policy) Option {
	return func(r *Runner) { r.defaults = p }
}

// WithConcurrency bounds each parallel group
func WithConcurrency(n int) Option {
	return func(r *Runner) { r.concurrency = n }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithPollerOptions passes extra options to every step's poller
func WithPollerOptions(opts ...poller.Option) Option {
	return func(r *Runner) { r.pollerOpts = append(r.pollerOpts, opts...) }
}

// NewRunner creates a runner that submits through submitter and polls source
func NewRunner(submitter operation.Submitter, source operation.StatusSource, opts ...Option) *Runner {
	r := &Runner{
		submitter: submitter,
		source:    source,
		defaults:  poller.DefaultPolicy(),
		log:       logger.Default(),
		metrics:   metrics.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithComponent(logger.ComponentWorkflow).WithSource(logger.LogSourceOperation)
	return r
}

// Run executes wf batch by batch. It stops after a batch with a failed step
// unless that step sets continue_on_error; a cancelled step always stops it.
// Steps that never ran are listed as skipped.
func (r *Runner) Run(ctx context.Context, wf *Workflow) *Summary {
	start := time.Now()
	sum := &Summary{Workflow: wf.Name, StartedAt: start, Steps: make([]StepResult, len(wf.Steps))}
	for i := range wf.Steps {
		sum.Steps[i] = StepResult{Step: wf.Steps[i].Name, Skipped: true}
	}

	concurrency := r.concurrency
	if wf.Defaults.Concurrency > 0 {
		concurrency = wf.Defaults.Concurrency
	}
	group := worker.NewGroup(concurrency, r.log)

	r.log.InfoContext(ctx, "Starting workflow", "workflow", wf.Name, "steps", len(wf.Steps))

	for _, batch := range wf.Batches() {
		tasks := make([]worker.Task, len(batch))
		for j, i := range batch {
			i := i
			tasks[j] = worker.Task{Name: wf.Steps[i].Name, Run: func(ctx context.Context) error {
				res := r.runStep(ctx, wf, &wf.Steps[i])
				sum.Steps[i] = res
				return res.Err
			}}
		}
		errs := group.Run(ctx, tasks)
		for j, i := range batch {
			// Panics and never-started tasks leave no result behind
			if errs[j] != nil && sum.Steps[i].Skipped {
				sum.Steps[i] = StepResult{Step: wf.Steps[i].Name, Err: errs[j], Error: errs[j].Error()}
			}
		}

		if stop, why := r.shouldStop(wf, batch, sum); stop {
			r.log.WarnContext(ctx, "Stopping workflow", "workflow", wf.Name, "reason", why)
			break
		}
	}

	sum.FinishedAt = time.Now()
	sum.Elapsed = sum.FinishedAt.Sub(start)
	r.log.InfoContext(ctx, "Workflow finished",
		"workflow", wf.Name,
		"result", sum.Worst().String(),
		"elapsed", sum.Elapsed.Round(time.Millisecond))
	return sum
}

func (r *Runner) shouldStop(wf *Workflow, batch []int, sum *Summary) (bool, string) {
	for _, i := range batch {
		res := &sum.Steps[i]
		switch res.Severity() {
		case SeverityOK:
		case SeverityCancelled:
			return true, fmt.Sprintf("step %s cancelled", res.Step)
		default:
			if !wf.Steps[i].ContinueOnError {
				return true, fmt.Sprintf("step %s ended %s", res.Step, res.Severity())
			}
		}
	}
	return false, ""
}

// runStep is the per-step pipeline: resume, existence check, claim, submit, await
func (r *Runner) runStep(ctx context.Context, wf *Workflow, step *Step) StepResult {
	ctx = logger.WithStep(ctx, step.Name)
	res := StepResult{Step: step.Name}
	fail := func(err error) StepResult {
		res.Err = err
		res.Error = err.Error()
		r.log.ErrorContext(ctx, "Step failed", "error", err)
		return res
	}

	table, err := step.Table(wf.Defaults.Preset)
	if err != nil {
		return fail(err)
	}
	policy, err := wf.Defaults.Policy.Apply(r.defaults)
	if err != nil {
		return fail(err)
	}
	if policy, err = step.Policy.Apply(policy); err != nil {
		return fail(err)
	}

	opts := append([]poller.Option{
		poller.WithLogger(r.log),
		poller.WithMetrics(r.metrics),
	}, r.pollerOpts...)
	if r.store != nil {
		opts = append(opts, poller.WithStore(r.store))
	}
	p, err := poller.New(r.source, table, policy, opts...)
	if err != nil {
		return fail(fmt.Errorf("step %s: %w", step.Name, err))
	}

	opKey := wf.Name + "/" + step.Name

	// Resume a handle recorded by an earlier run instead of submitting again
	if r.registry != nil {
		h, found, err := r.registry.Lookup(ctx, opKey)
		if err != nil {
			r.log.WarnContext(ctx, "Handle lookup failed, submitting", "error", err)
		} else if found {
			r.log.InfoContext(ctx, "Resuming operation from an earlier run", "handle", h.ID)
			res.Resumed = true
			res.Outcome = p.Await(ctx, h)
			r.settle(ctx, opKey, res.Outcome)
			return res
		}
	}

	if step.ExistsURL != "" && step.OnExists != OnExistsSubmit && r.exists != nil {
		found, err := r.exists.Exists(ctx, step.ExistsURL)
		if err != nil {
			return fail(&operation.SubmissionError{Op: step.Name, Detail: "existence check failed", Err: err})
		}
		if found.Found {
			if step.OnExists == OnExistsFail {
				return fail(&operation.SubmissionError{Op: step.Name, Conflict: true, Detail: "target already exists: " + step.ExistsURL})
			}
			res.Outcome = r.alreadyExists(ctx, p, step, step.ExistsURL, found.Status)
			return res
		}
	}

	req, err := step.OperationRequest()
	if err != nil {
		return fail(err)
	}

	var claim *store.Claim
	if r.registry != nil {
		claim, err = r.registry.Claim(ctx, opKey, claimTTL)
		if err != nil {
			return fail(err)
		}
		if claim == nil {
			return fail(&operation.SubmissionError{Op: step.Name, Conflict: true, Detail: "operation is being submitted by another runner"})
		}
		defer func() {
			if err := claim.Release(context.WithoutCancel(ctx)); err != nil {
				r.log.WarnContext(ctx, "Failed to release submit claim", "error", err)
			}
		}()
	}

	h, err := r.submitter.Submit(ctx, req)
	if err != nil {
		var subErr *operation.SubmissionError
		if errors.As(err, &subErr) && subErr.Conflict && step.OnExists == OnExistsSkip {
			res.Outcome = r.alreadyExists(ctx, p, step, req.URL, "")
			return res
		}
		return fail(err)
	}

	if claim != nil {
		if err := claim.Record(ctx, h); err != nil {
			r.log.WarnContext(ctx, "Failed to record handle, resume will not be possible", "error", err)
		}
	}

	res.Outcome = p.Await(ctx, h)
	r.settle(ctx, opKey, res.Outcome)
	return res
}

// settle forgets the recorded handle once the operation's fate is known.
// Timed out, unreadable, and cancelled operations keep it for the next run.
func (r *Runner) settle(ctx context.Context, opKey string, o *operation.Outcome) {
	if r.registry == nil {
		return
	}
	if o.Kind != operation.OutcomeSucceeded && o.Kind != operation.OutcomeFailed {
		return
	}
	if err := r.registry.Forget(context.WithoutCancel(ctx), opKey); err != nil {
		r.log.WarnContext(ctx, "Failed to forget handle", "error", err)
	}
}

func (r *Runner) alreadyExists(ctx context.Context, p *poller.Poller, step *Step, target, status string) *operation.Outcome {
	now := time.Now()
	o := &operation.Outcome{
		SessionID:  operation.NewSessionID(),
		Handle:     operation.Handle{ID: target, Name: step.Name, IssuedAt: now},
		Kind:       operation.OutcomeAlreadyExists,
		Status:     status,
		Detail:     "target already exists, submission skipped",
		StartedAt:  now,
		FinishedAt: now,
	}
	return p.Reporter().Report(ctx, o)
}
