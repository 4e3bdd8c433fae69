package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/muaviaUsmani/lrowait/internal/classifier"
	"github.com/muaviaUsmani/lrowait/internal/logger"
	"github.com/muaviaUsmani/lrowait/internal/operation"
	"github.com/muaviaUsmani/lrowait/internal/poller"
)

var fastPolicy = poller.Policy{Interval: 5 * time.Millisecond, MaxWait: 2 * time.Second}

// newDeploymentServer accepts a PUT on /deployments/web and reports it running
// for the given number of status reads before settling on final
func newDeploymentServer(t *testing.T, running int, final string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var reads atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/deployments/web", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Azure-AsyncOperation", "/operations/op1")
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/operations/op1", func(w http.ResponseWriter, r *http.Request) {
		n := reads.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if int(n) <= running {
			w.Write([]byte(`{"status":"Running"}`))
			return
		}
		if final == "Failed" {
			w.Write([]byte(`{"status":"Failed","error":{"code":"QuotaExceeded","message":"Quota exceeded for VM family"}}`))
			return
		}
		w.Write([]byte(`{"status":"` + final + `"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &reads
}

func TestSubmitAndAwait_Succeeded(t *testing.T) {
	srv, reads := newDeploymentServer(t, 2, "Succeeded")

	c, err := NewClient(Options{Policy: fastPolicy, Logger: &logger.NoOpLogger{}})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer c.Close()

	o, err := c.SubmitAndAwait(context.Background(), &operation.Request{Name: "web", Method: "PUT", URL: srv.URL + "/deployments/web"})
	if err != nil {
		t.Fatalf("SubmitAndAwait failed: %v", err)
	}
	if o.Kind != operation.OutcomeSucceeded {
		t.Errorf("Expected succeeded, got %s (%s)", o.Kind, o.Detail)
	}
	if o.Polls != 3 || reads.Load() != 3 {
		t.Errorf("Expected 3 polls, got %d (server saw %d)", o.Polls, reads.Load())
	}
	if o.Handle.ID != srv.URL+"/operations/op1" {
		t.Errorf("Expected handle resolved against the request URL, got %s", o.Handle.ID)
	}
}

func TestSubmitAndAwait_FailedKeepsDetail(t *testing.T) {
	srv, _ := newDeploymentServer(t, 0, "Failed")

	c, err := NewClient(Options{Policy: fastPolicy, Logger: &logger.NoOpLogger{}})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	o, err := c.SubmitAndAwait(context.Background(), &operation.Request{Name: "web", Method: "PUT", URL: srv.URL + "/deployments/web"})
	if err != nil {
		t.Fatalf("SubmitAndAwait failed: %v", err)
	}
	if o.Kind != operation.OutcomeFailed {
		t.Fatalf("Expected failed, got %s", o.Kind)
	}
	if o.Detail != "Quota exceeded for VM family" {
		t.Errorf("Expected backend detail verbatim, got %q", o.Detail)
	}
}

func TestSubmitAndAwait_SubmissionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"InvalidTemplate"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Options{Policy: fastPolicy, Logger: &logger.NoOpLogger{}})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	o, err := c.SubmitAndAwait(context.Background(), &operation.Request{Name: "web", URL: srv.URL})
	if o != nil {
		t.Errorf("Expected no outcome for a rejected submission, got %+v", o)
	}
	var subErr *operation.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("Expected SubmissionError, got %v", err)
	}
	if subErr.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", subErr.StatusCode)
	}
}

func TestSubmitAndAwait_TimesOut(t *testing.T) {
	srv, _ := newDeploymentServer(t, 1_000_000, "Succeeded")

	policy := poller.Policy{Interval: 5 * time.Millisecond, MaxWait: 30 * time.Millisecond}
	c, err := NewClient(Options{Policy: policy, Logger: &logger.NoOpLogger{}})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	o, err := c.SubmitAndAwait(context.Background(), &operation.Request{Name: "web", Method: "PUT", URL: srv.URL + "/deployments/web"})
	if err != nil {
		t.Fatalf("SubmitAndAwait failed: %v", err)
	}
	if o.Kind != operation.OutcomeTimedOut {
		t.Errorf("Expected timed_out, got %s", o.Kind)
	}
	if o.Status != "Running" {
		t.Errorf("Expected last status Running, got %q", o.Status)
	}
}

func TestClient_StoresOutcomes(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	srv, _ := newDeploymentServer(t, 0, "Succeeded")

	c, err := NewClient(Options{Policy: fastPolicy, RedisURL: "redis://" + mr.Addr(), Logger: &logger.NoOpLogger{}})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer c.Close()

	o, err := c.SubmitAndAwait(context.Background(), &operation.Request{Name: "web", Method: "PUT", URL: srv.URL + "/deployments/web"})
	if err != nil {
		t.Fatalf("SubmitAndAwait failed: %v", err)
	}

	stored, err := c.GetOutcome(context.Background(), o.SessionID)
	if err != nil {
		t.Fatalf("GetOutcome failed: %v", err)
	}
	if stored == nil || stored.Kind != operation.OutcomeSucceeded {
		t.Errorf("Expected stored succeeded outcome, got %+v", stored)
	}
}

func TestClient_GetOutcomeWithoutStore(t *testing.T) {
	c, err := NewClient(Options{Logger: &logger.NoOpLogger{}})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := c.GetOutcome(context.Background(), "x"); err == nil {
		t.Error("Expected error without an outcome store")
	}
}

func TestNewClient_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"unknown preset", Options{Preset: "backup"}},
		{"bad override", Options{Statuses: map[string]string{"Done": "finished"}}},
		{"bad policy", Options{Policy: poller.Policy{Interval: time.Minute, MaxInterval: time.Second}}},
		{"unreachable redis", Options{RedisURL: "redis://127.0.0.1:1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.opts); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestAwait_WithStatusFunc(t *testing.T) {
	table, err := classifier.FromPreset(classifier.PresetScan)
	if err != nil {
		t.Fatalf("FromPreset failed: %v", err)
	}

	calls := 0
	src := operation.StatusFunc(func(ctx context.Context, h operation.Handle) (*operation.Snapshot, error) {
		calls++
		if calls < 3 {
			return &operation.Snapshot{Status: "Queued"}, nil
		}
		return &operation.Snapshot{Status: "Completed"}, nil
	})

	o, err := Await(context.Background(), src, operation.NewHandle("scan-1", "scan"), table, fastPolicy,
		poller.WithLogger(&logger.NoOpLogger{}))
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if o.Kind != operation.OutcomeSucceeded || calls != 3 {
		t.Errorf("Expected succeeded after 3 calls, got %s after %d", o.Kind, calls)
	}
}

func TestAwait_RejectsMissingTable(t *testing.T) {
	src := operation.StatusFunc(func(ctx context.Context, h operation.Handle) (*operation.Snapshot, error) {
		return nil, nil
	})
	if _, err := Await(context.Background(), src, operation.NewHandle("x", ""), nil, fastPolicy); err == nil {
		t.Error("Expected error for nil table")
	}
}
