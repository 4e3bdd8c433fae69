package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/muaviaUsmani/lrowait/internal/operation"
	"github.com/muaviaUsmani/lrowait/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quietEnv keeps config loading deterministic and polling fast
func quietEnv(t *testing.T) {
	t.Setenv("LOG_CONSOLE_ENABLED", "false")
	t.Setenv("LOG_FILE_ENABLED", "false")
	t.Setenv("STORE_ENABLED", "false")
	t.Setenv("POLL_INTERVAL", "5ms")
	t.Setenv("POLL_MAX_WAIT", "2s")
}

// newARMServer answers a PUT on /deployments/web with an async operation
// URL whose status is final
func newARMServer(t *testing.T, final string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/deployments/web", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Azure-AsyncOperation", "/operations/op1")
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/operations/op1", func(w http.ResponseWriter, r *http.Request) {
		if final == "Failed" {
			w.Write([]byte(`{"status":"Failed","error":{"message":"Quota exceeded"}}`))
			return
		}
		w.Write([]byte(`{"status":"` + final + `"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeWorkflow(t *testing.T, serverURL string) string {
	t.Helper()
	t.Setenv("LROWAIT_TEST_SERVER", serverURL)
	doc := `
name: cli-test
defaults:
  preset: deployment
steps:
  - name: deploy
    request:
      method: PUT
      url: ${LROWAIT_TEST_SERVER}/deployments/web
`
	path := filepath.Join(t.TempDir(), "wf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(workflow.SeverityOK))
	assert.Equal(t, ExitRecoverable, ExitCode(workflow.SeverityRecoverable))
	assert.Equal(t, ExitFatal, ExitCode(workflow.SeverityFatal))
	assert.Equal(t, ExitCancelled, ExitCode(workflow.SeverityCancelled))
}

func TestRunCommand(t *testing.T) {
	quietEnv(t)
	srv := newARMServer(t, "Succeeded")
	path := writeWorkflow(t, srv.URL)

	var out bytes.Buffer
	code := Main(context.Background(), []string{"run", "-f", path}, &out)

	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out.String(), "deploy")
	assert.Contains(t, out.String(), "succeeded")
	assert.Contains(t, out.String(), "workflow cli-test: ok")
}

func TestRunCommandFailure(t *testing.T) {
	quietEnv(t)
	srv := newARMServer(t, "Failed")
	path := writeWorkflow(t, srv.URL)

	var out bytes.Buffer
	code := Main(context.Background(), []string{"run", "--file", path, "--json"}, &out)
	assert.Equal(t, ExitFatal, code)

	var sum workflow.Summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &sum))
	require.Len(t, sum.Steps, 1)
	assert.Equal(t, operation.OutcomeFailed, sum.Steps[0].Outcome.Kind)
	assert.Equal(t, "Quota exceeded", sum.Steps[0].Outcome.Detail)
}

func TestRunCommandMissingFile(t *testing.T) {
	quietEnv(t)
	var out bytes.Buffer
	code := Main(context.Background(), []string{"run", "-f", filepath.Join(t.TempDir(), "nope.yaml")}, &out)
	assert.Equal(t, ExitFatal, code)
}

func TestAwaitCommand(t *testing.T) {
	quietEnv(t)
	srv := newARMServer(t, "Succeeded")

	var out bytes.Buffer
	code := Main(context.Background(), []string{"await", "--url", srv.URL + "/operations/op1", "--name", "web", "--json"}, &out)
	require.Equal(t, ExitOK, code)

	var o operation.Outcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &o))
	assert.Equal(t, operation.OutcomeSucceeded, o.Kind)
	assert.Equal(t, "web", o.Handle.Name)
}

func TestAwaitCommandTimeout(t *testing.T) {
	quietEnv(t)
	srv := newARMServer(t, "Running")

	var out bytes.Buffer
	code := Main(context.Background(), []string{"await", "-u", srv.URL + "/operations/op1", "--max-wait", "20ms"}, &out)
	assert.Equal(t, ExitRecoverable, code)
	assert.Contains(t, out.String(), "timed_out")
}

func TestAwaitCommandStatusOverride(t *testing.T) {
	quietEnv(t)
	srv := newARMServer(t, "Synced")

	var out bytes.Buffer
	code := Main(context.Background(), []string{"await", "-u", srv.URL + "/operations/op1", "-p", "replication", "-s", "Synced:succeeded"}, &out)
	assert.Equal(t, ExitOK, code)
}

func TestAwaitCommandCancelled(t *testing.T) {
	quietEnv(t)
	srv := newARMServer(t, "Running")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	code := Main(ctx, []string{"await", "-u", srv.URL + "/operations/op1"}, &out)
	assert.Equal(t, ExitCancelled, code)
}

func TestUsageErrors(t *testing.T) {
	quietEnv(t)
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no command", nil, ExitUsage},
		{"unknown command", []string{"deploy"}, ExitUsage},
		{"missing required flag", []string{"await"}, ExitUsage},
		{"help", []string{"--help"}, ExitOK},
		{"bad preset", []string{"await", "-u", "http://x/op", "-p", "backup"}, ExitFatal},
		{"outcome without store", []string{"outcome", "--name", "web"}, ExitFatal},
		{"outcome needs one selector", []string{"outcome"}, ExitFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Equal(t, tt.code, Main(context.Background(), tt.args, &out))
		})
	}
}

func TestInvalidConfig(t *testing.T) {
	quietEnv(t)
	t.Setenv("LOG_LEVEL", "chatty")

	var out bytes.Buffer
	assert.Equal(t, ExitFatal, Main(context.Background(), []string{"--help"}, &out))
}

func TestRunWithStoreThenOutcome(t *testing.T) {
	quietEnv(t)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	t.Setenv("STORE_ENABLED", "true")
	t.Setenv("REDIS_URL", "redis://"+mr.Addr())

	srv := newARMServer(t, "Succeeded")
	path := writeWorkflow(t, srv.URL)

	var out bytes.Buffer
	require.Equal(t, ExitOK, Main(context.Background(), []string{"run", "-f", path}, &out))

	out.Reset()
	require.Equal(t, ExitOK, Main(context.Background(), []string{"outcome", "--name", "deploy"}, &out))

	var o operation.Outcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &o))
	assert.Equal(t, operation.OutcomeSucceeded, o.Kind)

	out.Reset()
	assert.Equal(t, ExitOK, Main(context.Background(), []string{"outcome", "--session", o.SessionID}, &out))

	out.Reset()
	assert.Equal(t, ExitFatal, Main(context.Background(), []string{"outcome", "--session", "missing"}, &out))
	assert.Contains(t, out.String(), "no outcome found")
}
