package poller

import (
	"context"
	"time"

	"github.com/muaviaUsmani/lrowait/internal/logger"
	"github.com/muaviaUsmani/lrowait/internal/metrics"
	"github.com/muaviaUsmani/lrowait/internal/operation"
)

const storeTimeout = 5 * time.Second

// OutcomeStore persists outcomes for out-of-process readers
type OutcomeStore interface {
	StoreOutcome(ctx context.Context, o *operation.Outcome) error
}

// Reporter emits a finished outcome: one log line, metrics, and the optional store
type Reporter struct {
	log     logger.Logger
	metrics *metrics.Collector
	store   OutcomeStore
}

// NewReporter creates a reporter. A nil store disables persistence.
func NewReporter(log logger.Logger, m *metrics.Collector, store OutcomeStore) *Reporter {
	if log == nil {
		log = logger.Default()
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Reporter{log: log, metrics: m, store: store}
}

// Report records o and returns it unchanged
func (r *Reporter) Report(ctx context.Context, o *operation.Outcome) *operation.Outcome {
	args := []interface{}{
		"handle", o.Handle.ID,
		"outcome", o.Kind,
		"polls", o.Polls,
		"elapsed", o.Elapsed.Round(time.Millisecond),
	}
	if o.Status != "" {
		args = append(args, "status", o.Status)
	}
	if o.Detail != "" {
		args = append(args, "detail", o.Detail)
	}

	switch o.Kind {
	case operation.OutcomeSucceeded, operation.OutcomeAlreadyExists:
		r.log.InfoContext(ctx, "Operation finished", args...)
	case operation.OutcomeFailed, operation.OutcomePollError:
		r.log.ErrorContext(ctx, "Operation finished", args...)
	default:
		r.log.WarnContext(ctx, "Operation finished", args...)
	}

	r.metrics.RecordOutcome(o.Kind, o.Elapsed)

	if r.store != nil {
		// A cancelled session still gets stored
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer cancel()
		if err := r.store.StoreOutcome(sctx, o); err != nil {
			// Persistence is best effort; the caller still gets the outcome
			r.log.WarnContext(ctx, "Failed to store outcome", "error", err)
		}
	}
	return o
}
