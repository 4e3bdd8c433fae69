// Package poller waits for long-running operations to reach a terminal state.
//
// A session polls a StatusSource, classifies each raw status with a
// classifier.Table, and ends with exactly one Outcome:
//
//	WAITING --in progress, time left--> WAITING (sleep, poll again)
//	WAITING --succeeded-->              SUCCEEDED
//	WAITING --failed-->                 FAILED
//	WAITING --elapsed >= max wait-->    TIMED_OUT
//	WAITING --too many query errors-->  POLL_ERROR
//	WAITING --context cancelled-->      CANCELLED
//
// Sessions share no mutable state; run several concurrently by calling
// Await from separate goroutines.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/muaviaUsmani/lrowait/internal/classifier"
	"github.com/muaviaUsmani/lrowait/internal/logger"
	"github.com/muaviaUsmani/lrowait/internal/metrics"
	"github.com/muaviaUsmani/lrowait/internal/operation"
)

var errNoSnapshot = errors.New("status source returned no snapshot")

// Poller awaits operations from one status source with one policy
type Poller struct {
	source   operation.StatusSource
	table    *classifier.Table
	policy   Policy
	clock    Clock
	log      logger.Logger
	metrics  *metrics.Collector
	reporter *Reporter
}

// Option configures a Poller
type Option func(*Poller)

// WithClock replaces the wall clock (tests)
func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithLogger sets the logger used for progress messages
func WithLogger(l logger.Logger) Option {
	return func(p *Poller) { p.log = l }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithStore persists every outcome to s
func WithStore(s OutcomeStore) Option {
	return func(p *Poller) { p.reporter.store = s }
}

// New creates a poller. Zero-valued optional policy fields take their defaults.
func New(source operation.StatusSource, table *classifier.Table, policy Policy, opts ...Option) (*Poller, error) {
	if source == nil {
		return nil, fmt.Errorf("status source is required")
	}
	if table == nil {
		return nil, fmt.Errorf("classifier table is required")
	}

	policy = policy.WithDefaults()
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid poll policy: %w", err)
	}

	p := &Poller{
		source:   source,
		table:    table,
		policy:   policy,
		clock:    RealClock(),
		log:      logger.Default(),
		metrics:  metrics.Default(),
		reporter: &Reporter{},
	}
	for _, opt := range opts {
		opt(p)
	}

	p.log = p.log.WithComponent(logger.ComponentPoller).WithSource(logger.LogSourceOperation)
	p.reporter.log = p.log
	p.reporter.metrics = p.metrics
	return p, nil
}

// Policy returns the effective policy
func (p *Poller) Policy() Policy {
	return p.policy
}

// Reporter returns the reporter used for this poller's outcomes
func (p *Poller) Reporter() *Reporter {
	return p.reporter
}

// session holds the state of one Await call
type session struct {
	id        string
	handle    operation.Handle
	started   time.Time
	polls     int
	failures  int
	last      *operation.Snapshot
	lastErr   error
	retryHint time.Duration
}

// Await polls h until a terminal state, the max wait, too many query errors,
// or cancellation of ctx. It always returns exactly one non-nil Outcome.
func (p *Poller) Await(ctx context.Context, h operation.Handle) *operation.Outcome {
	s := &session{
		id:      operation.NewSessionID(),
		handle:  h,
		started: p.clock.Now(),
	}
	ctx = logger.WithSession(ctx, s.id)
	log := p.log.WithFields(map[string]interface{}{"handle": h.ID})

	p.metrics.RecordSessionStarted()
	log.InfoContext(ctx, "Waiting for operation",
		"operation", h.Name,
		"interval", p.policy.Interval,
		"max_wait", p.policy.MaxWait)

	bo := newBackoff(p.policy)

	for {
		if err := ctx.Err(); err != nil {
			return p.finish(ctx, s, operation.OutcomeCancelled, err)
		}

		snap, err := p.query(ctx, h, p.policy.MaxWait-p.clock.Now().Sub(s.started))
		s.polls++

		switch {
		case err != nil && ctx.Err() != nil:
			return p.finish(ctx, s, operation.OutcomeCancelled, ctx.Err())
		case operation.IsDeferred(err):
			s.retryHint = 0
			log.DebugContext(ctx, "Status query deferred", "reason", err)
		case err != nil:
			p.metrics.RecordPoll(true)
			s.failures++
			s.lastErr = err
			s.retryHint = 0

			if operation.IsPermanent(err) || s.failures > p.policy.tolerance() {
				return p.finish(ctx, s, operation.OutcomePollError, err)
			}

			log.WarnContext(ctx, "Status query failed, will retry",
				"error", err,
				"consecutive_failures", s.failures,
				"max_consecutive_errors", p.policy.tolerance())
		default:
			p.metrics.RecordPoll(false)
			if s.failures > 0 {
				log.InfoContext(ctx, "Status query recovered", "after_failures", s.failures)
			}
			s.failures = 0

			state, known := p.table.Classify(snap.Status)
			if !known {
				p.metrics.RecordUnknownStatus()
				log.WarnContext(ctx, "Unrecognized operation status",
					"status", snap.Status,
					"classified_as", state)
			}

			snap.State = state
			s.last = snap
			s.retryHint = snap.RetryAfter

			switch state {
			case operation.StateSucceeded:
				return p.finish(ctx, s, operation.OutcomeSucceeded, nil)
			case operation.StateFailed:
				return p.finish(ctx, s, operation.OutcomeFailed, nil)
			}

			log.DebugContext(ctx, "Operation in progress", "status", snap.Status, "poll", s.polls)
		}

		elapsed := p.clock.Now().Sub(s.started)
		if elapsed >= p.policy.MaxWait {
			return p.finish(ctx, s, operation.OutcomeTimedOut, nil)
		}

		wait := sleepFor(bo.next(), s.retryHint, p.policy.MaxWait-elapsed)
		select {
		case <-ctx.Done():
			return p.finish(ctx, s, operation.OutcomeCancelled, ctx.Err())
		case <-p.clock.After(wait):
		}
	}
}

// query runs one status read. Its timeout is QueryTimeout, shortened so the
// read ends shortly after the session's deadline.
func (p *Poller) query(ctx context.Context, h operation.Handle, remaining time.Duration) (*operation.Snapshot, error) {
	qctx, cancel := context.WithTimeout(ctx, p.policy.queryTimeout(remaining))
	defer cancel()

	snap, err := p.source.Status(qctx, h)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, errNoSnapshot
	}

	out := *snap
	if out.Timestamp.IsZero() {
		out.Timestamp = p.clock.Now()
	}
	return &out, nil
}

// finish builds the session's single outcome and hands it to the reporter
func (p *Poller) finish(ctx context.Context, s *session, kind operation.OutcomeKind, cause error) *operation.Outcome {
	now := p.clock.Now()
	o := &operation.Outcome{
		SessionID:  s.id,
		Handle:     s.handle,
		Kind:       kind,
		Polls:      s.polls,
		StartedAt:  s.started,
		FinishedAt: now,
		Elapsed:    now.Sub(s.started),
	}
	if s.last != nil {
		o.Status = s.last.Status
		o.Payload = s.last.Payload
	}

	switch kind {
	case operation.OutcomeSucceeded, operation.OutcomeFailed:
		o.Detail = s.last.Detail
	case operation.OutcomePollError:
		o.Detail = cause.Error()
		o.WithCause(cause)
	case operation.OutcomeTimedOut:
		o.Detail = fmt.Sprintf("no terminal state within %v", p.policy.MaxWait)
		if s.lastErr != nil && s.failures > 0 {
			o.Detail += ": last query error: " + s.lastErr.Error()
		}
	case operation.OutcomeCancelled:
		o.Detail = cause.Error()
		o.WithCause(cause)
	}

	if r, ok := p.source.(operation.Releaser); ok {
		r.Release(s.handle)
	}
	return p.reporter.Report(ctx, o)
}
