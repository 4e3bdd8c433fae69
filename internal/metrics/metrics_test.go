package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/muaviaUsmani/lrowait/internal/operation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}

	m := c.GetMetrics()
	if m.SessionsStarted != 0 || m.Polls != 0 || m.ActiveSessions != 0 {
		t.Errorf("expected zeroed metrics, got %+v", m)
	}
	if m.SuccessRate != 0 {
		t.Errorf("expected success rate 0 with no sessions, got %f", m.SuccessRate)
	}
}

func TestSessionLifecycle(t *testing.T) {
	c := NewCollector()

	c.RecordSessionStarted()
	c.RecordSessionStarted()
	c.RecordPoll(false)
	c.RecordPoll(true)
	c.RecordPoll(false)
	c.RecordUnknownStatus()

	m := c.GetMetrics()
	if m.ActiveSessions != 2 {
		t.Errorf("ActiveSessions = %d, want 2", m.ActiveSessions)
	}
	if m.Polls != 3 || m.QueryErrors != 1 {
		t.Errorf("Polls = %d, QueryErrors = %d, want 3 and 1", m.Polls, m.QueryErrors)
	}

	c.RecordOutcome(operation.OutcomeSucceeded, 20*time.Second)
	c.RecordOutcome(operation.OutcomeTimedOut, 40*time.Second)

	m = c.GetMetrics()
	if m.ActiveSessions != 0 {
		t.Errorf("ActiveSessions = %d, want 0", m.ActiveSessions)
	}
	if m.AvgWait != 30*time.Second {
		t.Errorf("AvgWait = %v, want 30s", m.AvgWait)
	}
	if m.SuccessRate != 50 {
		t.Errorf("SuccessRate = %f, want 50", m.SuccessRate)
	}
	if m.OutcomesByKind[operation.OutcomeTimedOut] != 1 {
		t.Errorf("expected one timed_out outcome, got %d", m.OutcomesByKind[operation.OutcomeTimedOut])
	}
}

func TestAlreadyExistsDoesNotTouchActiveGauge(t *testing.T) {
	c := NewCollector()
	c.RecordOutcome(operation.OutcomeAlreadyExists, 0)

	m := c.GetMetrics()
	if m.ActiveSessions != 0 {
		t.Errorf("ActiveSessions = %d, want 0", m.ActiveSessions)
	}
	if m.SuccessRate != 100 {
		t.Errorf("SuccessRate = %f, want 100", m.SuccessRate)
	}
}

func TestConcurrentRecording(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordSessionStarted()
			c.RecordPoll(false)
			c.RecordOutcome(operation.OutcomeSucceeded, time.Second)
		}()
	}
	wg.Wait()

	m := c.GetMetrics()
	if m.SessionsStarted != 50 || m.Polls != 50 {
		t.Errorf("SessionsStarted = %d, Polls = %d, want 50 each", m.SessionsStarted, m.Polls)
	}
	if m.OutcomesByKind[operation.OutcomeSucceeded] != 50 {
		t.Errorf("succeeded = %d, want 50", m.OutcomesByKind[operation.OutcomeSucceeded])
	}
}

func TestReset(t *testing.T) {
	c := NewCollector()
	c.RecordSessionStarted()
	c.RecordSubmission(true)
	c.RecordOutcome(operation.OutcomeFailed, time.Second)

	c.Reset()

	m := c.GetMetrics()
	if m.SessionsStarted != 0 || m.SubmissionErrors != 0 || len(m.OutcomesByKind) != 0 {
		t.Errorf("expected metrics cleared, got %+v", m)
	}
}

func TestPrometheusCollector(t *testing.T) {
	c := NewCollector()
	c.RecordSessionStarted()
	c.RecordPoll(false)
	c.RecordPoll(false)
	c.RecordSubmission(false)
	c.RecordOutcome(operation.OutcomeFailed, 5*time.Second)

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	expected := `
# HELP lrowait_polls_total Status queries issued.
# TYPE lrowait_polls_total counter
lrowait_polls_total 2
# HELP lrowait_outcomes_total Session outcomes by kind.
# TYPE lrowait_outcomes_total counter
lrowait_outcomes_total{kind="failed"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "lrowait_polls_total", "lrowait_outcomes_total"); err != nil {
		t.Errorf("unexpected metrics output: %v", err)
	}
}
