package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/muaviaUsmani/lrowait/internal/classifier"
	"github.com/muaviaUsmani/lrowait/internal/operation"
	"github.com/muaviaUsmani/lrowait/internal/poller"
	"github.com/muaviaUsmani/lrowait/internal/store"
	"github.com/muaviaUsmani/lrowait/internal/workflow"
)

type runCommand struct {
	app *app

	File string `short:"f" long:"file" description:"Workflow file (.yaml, .yml or .json)" required:"true"`
	JSON bool   `long:"json" description:"Print the summary as JSON"`
}

func (c *runCommand) Execute(args []string) error {
	a := c.app
	wf, err := workflow.Load(c.File)
	if err != nil {
		return err
	}

	client := a.httpClient()
	opts := []workflow.Option{
		workflow.WithExistenceChecker(client),
		workflow.WithDefaultPolicy(a.cfg.Poll),
		workflow.WithConcurrency(a.cfg.Concurrency),
		workflow.WithLogger(a.log),
		workflow.WithMetrics(a.metrics),
	}

	rc, err := a.redis()
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
		opts = append(opts,
			workflow.WithRegistry(store.NewHandleRegistry(rc, a.cfg.HandleTTL)),
			workflow.WithStore(a.backend(rc)))
	}

	sum := workflow.NewRunner(client, client, opts...).Run(a.ctx, wf)
	if c.JSON {
		if err := writeJSON(a.out, sum); err != nil {
			return err
		}
	} else {
		printSummary(a.out, sum)
	}
	a.code = ExitCode(sum.Worst())
	return nil
}

type awaitCommand struct {
	app *app

	URL      string            `short:"u" long:"url" description:"Operation status URL" required:"true"`
	Name     string            `short:"n" long:"name" description:"Operation name used for logs and the stored outcome"`
	Preset   string            `short:"p" long:"preset" description:"Status table preset (deployment, scan, replication)" default:"deployment"`
	Statuses map[string]string `short:"s" long:"status" description:"Extra status mapping, e.g. Synced:succeeded (repeatable)"`
	Strict   bool              `long:"strict" description:"Fail on statuses missing from the table"`
	Interval time.Duration     `long:"interval" description:"Poll interval (default from POLL_INTERVAL)"`
	MaxWait  time.Duration     `long:"max-wait" description:"Maximum wait (default from POLL_MAX_WAIT)"`
	JSON     bool              `long:"json" description:"Print the outcome as JSON"`
}

func (c *awaitCommand) Execute(args []string) error {
	a := c.app
	table, err := classifier.Build(classifier.Preset(c.Preset), c.Statuses)
	if err != nil {
		return err
	}
	table.StrictUnknown = c.Strict

	policy := a.cfg.Poll
	if c.Interval > 0 {
		policy.Interval = c.Interval
		if policy.MaxInterval > 0 && policy.MaxInterval < policy.Interval {
			policy.MaxInterval = policy.Interval
		}
	}
	if c.MaxWait > 0 {
		policy.MaxWait = c.MaxWait
	}

	opts := []poller.Option{poller.WithLogger(a.log), poller.WithMetrics(a.metrics)}
	rc, err := a.redis()
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
		opts = append(opts, poller.WithStore(a.backend(rc)))
	}

	p, err := poller.New(a.httpClient(), table, policy, opts...)
	if err != nil {
		return err
	}

	o := p.Await(a.ctx, operation.NewHandle(c.URL, c.Name))
	if c.JSON {
		if err := writeJSON(a.out, o); err != nil {
			return err
		}
	} else {
		printOutcome(a.out, o)
	}
	res := workflow.StepResult{Step: c.Name, Outcome: o}
	a.code = ExitCode(res.Severity())
	return nil
}

type outcomeCommand struct {
	app *app

	Session string        `long:"session" description:"Session ID of the outcome"`
	Name    string        `long:"name" description:"Operation name; shows its latest outcome"`
	Wait    time.Duration `long:"wait" description:"Wait up to this long for a session's outcome to be stored"`
}

func (c *outcomeCommand) Execute(args []string) error {
	a := c.app
	if (c.Session == "") == (c.Name == "") {
		return fmt.Errorf("exactly one of --session or --name is required")
	}
	if !a.cfg.StoreEnabled {
		return fmt.Errorf("outcome store is disabled (set STORE_ENABLED=true)")
	}

	rc, err := a.redis()
	if err != nil {
		return err
	}
	defer rc.Close()
	backend := a.backend(rc)

	var o *operation.Outcome
	switch {
	case c.Name != "":
		o, err = backend.GetLatestOutcome(a.ctx, c.Name)
	case c.Wait > 0:
		o, err = backend.WaitForOutcome(a.ctx, c.Session, c.Wait)
	default:
		o, err = backend.GetOutcome(a.ctx, c.Session)
	}
	if err != nil {
		return err
	}
	if o == nil {
		fmt.Fprintln(a.out, "no outcome found")
		a.code = ExitFatal
		return nil
	}
	return writeJSON(a.out, o)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
)

func severityColor(s workflow.Severity) *color.Color {
	switch s {
	case workflow.SeverityOK:
		return okColor
	case workflow.SeverityRecoverable, workflow.SeverityCancelled:
		return warnColor
	default:
		return failColor
	}
}

func printSummary(w io.Writer, sum *workflow.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tRESULT\tPOLLS\tELAPSED\tDETAIL")
	for i := range sum.Steps {
		r := &sum.Steps[i]
		result, polls, elapsed, detail := "skipped", "-", "-", ""
		switch {
		case r.Outcome != nil:
			result = string(r.Outcome.Kind)
			if r.Resumed {
				result += " (resumed)"
			}
			polls = fmt.Sprint(r.Outcome.Polls)
			elapsed = r.Outcome.Elapsed.Round(time.Second).String()
			detail = r.Outcome.Detail
		case r.Err != nil:
			result = "error"
			detail = r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Step, result, polls, elapsed, detail)
	}
	tw.Flush()

	worst := sum.Worst()
	severityColor(worst).Fprintf(w, "workflow %s: %s", sum.Workflow, worst)
	fmt.Fprintf(w, " (%v)\n", sum.Elapsed.Round(time.Millisecond))
}

func printOutcome(w io.Writer, o *operation.Outcome) {
	res := workflow.StepResult{Outcome: o}
	severityColor(res.Severity()).Fprintf(w, "%s", o.Kind)
	fmt.Fprintf(w, " after %d polls in %v", o.Polls, o.Elapsed.Round(time.Millisecond))
	if o.Status != "" {
		fmt.Fprintf(w, " (last status %s)", o.Status)
	}
	fmt.Fprintln(w)
	if o.Detail != "" {
		fmt.Fprintln(w, o.Detail)
	}
	fmt.Fprintf(w, "session %s\n", o.SessionID)
}
