package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/muaviaUsmani/lrowait/internal/operation"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalCollector *Collector
	once            sync.Once
)

// Collector tracks poll session metrics in memory
type Collector struct {
	sessionsStarted atomic.Int64
	activeSessions  atomic.Int64
	polls           atomic.Int64
	queryErrors     atomic.Int64
	unknownStatuses atomic.Int64
	submissions     atomic.Int64
	submitErrors    atomic.Int64

	mu             sync.RWMutex
	outcomesByKind map[operation.OutcomeKind]int64
	totalWait      time.Duration
	finished       int64
	startTime      time.Time
}

// Metrics represents a snapshot of current metrics
type Metrics struct {
	SessionsStarted  int64                           `json:"sessions_started"`
	ActiveSessions   int64                           `json:"active_sessions"`
	Polls            int64                           `json:"polls"`
	QueryErrors      int64                           `json:"query_errors"`
	UnknownStatuses  int64                           `json:"unknown_statuses"`
	Submissions      int64                           `json:"submissions"`
	SubmissionErrors int64                           `json:"submission_errors"`
	OutcomesByKind   map[operation.OutcomeKind]int64 `json:"outcomes_by_kind"`
	AvgWait          time.Duration                   `json:"avg_wait"`
	SuccessRate      float64                         `json:"success_rate"`
	Uptime           time.Duration                   `json:"uptime"`
}

// Default returns the global metrics collector instance
func Default() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
	})
	return globalCollector
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		outcomesByKind: make(map[operation.OutcomeKind]int64),
		startTime:      time.Now(),
	}
}

// RecordSessionStarted counts a new poll session
func (c *Collector) RecordSessionStarted() {
	c.sessionsStarted.Add(1)
	c.activeSessions.Add(1)
}

// RecordPoll counts one status query; failed reports whether it errored
func (c *Collector) RecordPoll(failed bool) {
	c.polls.Add(1)
	if failed {
		c.queryErrors.Add(1)
	}
}

// RecordUnknownStatus counts a status the classifier did not recognize
func (c *Collector) RecordUnknownStatus() {
	c.unknownStatuses.Add(1)
}

// RecordSubmission counts a submit call; failed reports whether it errored
func (c *Collector) RecordSubmission(failed bool) {
	c.submissions.Add(1)
	if failed {
		c.submitErrors.Add(1)
	}
}

// RecordOutcome records the terminal result of a session.
// AlreadyExists outcomes never started a session and do not touch the active gauge.
func (c *Collector) RecordOutcome(kind operation.OutcomeKind, wait time.Duration) {
	if kind != operation.OutcomeAlreadyExists {
		c.activeSessions.Add(-1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomesByKind[kind]++
	c.totalWait += wait
	c.finished++
}

// GetMetrics returns a snapshot of current metrics
func (c *Collector) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byKind := make(map[operation.OutcomeKind]int64, len(c.outcomesByKind))
	for k, v := range c.outcomesByKind {
		byKind[k] = v
	}

	var avgWait time.Duration
	var successRate float64
	if c.finished > 0 {
		avgWait = c.totalWait / time.Duration(c.finished)
		ok := c.outcomesByKind[operation.OutcomeSucceeded] + c.outcomesByKind[operation.OutcomeAlreadyExists]
		successRate = float64(ok) / float64(c.finished) * 100
	}

	return Metrics{
		SessionsStarted:  c.sessionsStarted.Load(),
		ActiveSessions:   c.activeSessions.Load(),
		Polls:            c.polls.Load(),
		QueryErrors:      c.queryErrors.Load(),
		UnknownStatuses:  c.unknownStatuses.Load(),
		Submissions:      c.submissions.Load(),
		SubmissionErrors: c.submitErrors.Load(),
		OutcomesByKind:   byKind,
		AvgWait:          avgWait,
		SuccessRate:      successRate,
		Uptime:           time.Since(c.startTime),
	}
}

// Reset clears all metrics (useful for testing)
func (c *Collector) Reset() {
	c.sessionsStarted.Store(0)
	c.activeSessions.Store(0)
	c.polls.Store(0)
	c.queryErrors.Store(0)
	c.unknownStatuses.Store(0)
	c.submissions.Store(0)
	c.submitErrors.Store(0)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomesByKind = make(map[operation.OutcomeKind]int64)
	c.totalWait = 0
	c.finished = 0
	c.startTime = time.Now()
}

var (
	descSessions = prometheus.NewDesc("lrowait_sessions_started_total", "Poll sessions started.", nil, nil)
	descActive   = prometheus.NewDesc("lrowait_sessions_active", "Poll sessions currently waiting.", nil, nil)
	descPolls    = prometheus.NewDesc("lrowait_polls_total", "Status queries issued.", nil, nil)
	descErrors   = prometheus.NewDesc("lrowait_poll_errors_total", "Status queries that failed.", nil, nil)
	descUnknown  = prometheus.NewDesc("lrowait_unknown_status_total", "Statuses missing from the classifier table.", nil, nil)
	descSubmits  = prometheus.NewDesc("lrowait_submissions_total", "Operations submitted.", []string{"result"}, nil)
	descOutcomes = prometheus.NewDesc("lrowait_outcomes_total", "Session outcomes by kind.", []string{"kind"}, nil)
	descAvgWait  = prometheus.NewDesc("lrowait_wait_seconds_avg", "Average wait per finished session.", nil, nil)
)

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descSessions
	ch <- descActive
	ch <- descPolls
	ch <- descErrors
	ch <- descUnknown
	ch <- descSubmits
	ch <- descOutcomes
	ch <- descAvgWait
}

// Collect implements prometheus.Collector from a point-in-time snapshot
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.GetMetrics()

	ch <- prometheus.MustNewConstMetric(descSessions, prometheus.CounterValue, float64(m.SessionsStarted))
	ch <- prometheus.MustNewConstMetric(descActive, prometheus.GaugeValue, float64(m.ActiveSessions))
	ch <- prometheus.MustNewConstMetric(descPolls, prometheus.CounterValue, float64(m.Polls))
	ch <- prometheus.MustNewConstMetric(descErrors, prometheus.CounterValue, float64(m.QueryErrors))
	ch <- prometheus.MustNewConstMetric(descUnknown, prometheus.CounterValue, float64(m.UnknownStatuses))
	ch <- prometheus.MustNewConstMetric(descSubmits, prometheus.CounterValue, float64(m.Submissions-m.SubmissionErrors), "ok")
	ch <- prometheus.MustNewConstMetric(descSubmits, prometheus.CounterValue, float64(m.SubmissionErrors), "error")
	for kind, n := range m.OutcomesByKind {
		ch <- prometheus.MustNewConstMetric(descOutcomes, prometheus.CounterValue, float64(n), string(kind))
	}
	ch <- prometheus.MustNewConstMetric(descAvgWait, prometheus.GaugeValue, m.AvgWait.Seconds())
}

var _ prometheus.Collector = (*Collector)(nil)
