// Package cli implements the lrowait command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/muaviaUsmani/lrowait/internal/config"
	"github.com/muaviaUsmani/lrowait/internal/httpop"
	"github.com/muaviaUsmani/lrowait/internal/logger"
	"github.com/muaviaUsmani/lrowait/internal/metrics"
	"github.com/muaviaUsmani/lrowait/internal/store"
	"github.com/muaviaUsmani/lrowait/internal/workflow"
	"github.com/redis/go-redis/v9"
)

// Process exit codes
const (
	ExitOK          = 0
	ExitFatal       = 1
	ExitRecoverable = 2
	ExitUsage       = 64
	ExitCancelled   = 130
)

// ExitCode maps a workflow severity to a process exit code
func ExitCode(s workflow.Severity) int {
	switch s {
	case workflow.SeverityOK:
		return ExitOK
	case workflow.SeverityRecoverable:
		return ExitRecoverable
	case workflow.SeverityCancelled:
		return ExitCancelled
	default:
		return ExitFatal
	}
}

// app is the state shared by every command of one invocation
type app struct {
	ctx     context.Context
	cfg     *config.Config
	log     logger.Logger
	metrics *metrics.Collector
	out     io.Writer
	code    int
}

// Main parses args, runs the selected command and returns the exit code.
// Configuration comes from the environment; see config.LoadConfig.
func Main(ctx context.Context, args []string, out io.Writer) int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return ExitFatal
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return ExitFatal
	}
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()
	logger.SetDefault(log)

	a := &app{
		ctx:     ctx,
		cfg:     cfg,
		log:     log.WithComponent(logger.ComponentCLI).WithSource(logger.LogSourceInternal),
		metrics: metrics.Default(),
		out:     out,
	}

	parser := flags.NewNamedParser("lrowait", flags.HelpFlag|flags.PassDoubleDash)
	parser.AddCommand("run", "Run a workflow file",
		"Submits every step of a workflow and waits for each operation to finish.", &runCommand{app: a})
	parser.AddCommand("await", "Wait on an existing operation",
		"Polls an operation status URL until it succeeds, fails or the wait runs out.", &awaitCommand{app: a})
	parser.AddCommand("outcome", "Show a stored outcome",
		"Reads an outcome from the store by session ID or operation name.", &outcomeCommand{app: a})

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				fmt.Fprintln(out, flagsErr.Message)
				return ExitOK
			}
			fmt.Fprintln(os.Stderr, flagsErr.Message)
			return ExitUsage
		}
		a.log.Error("Command failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFatal
	}
	return a.code
}

func (a *app) httpClient() *httpop.Client {
	cfg := httpop.DefaultConfig()
	cfg.Timeout = a.cfg.HTTPTimeout
	cfg.BearerToken = a.cfg.BearerToken
	return httpop.New(cfg, httpop.WithLogger(a.log), httpop.WithMetrics(a.metrics))
}

// redis connects to the store when it is enabled; nil otherwise
func (a *app) redis() (*redis.Client, error) {
	if !a.cfg.StoreEnabled {
		return nil, nil
	}
	return store.Connect(a.ctx, a.cfg.RedisURL)
}

func (a *app) backend(client *redis.Client) *store.RedisBackend {
	return store.NewRedisBackend(client, a.cfg.OutcomeTTLSuccess, a.cfg.OutcomeTTLFailure)
}
