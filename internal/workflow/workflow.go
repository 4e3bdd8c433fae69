// Package workflow runs a parameter file of submit-and-await steps.
//
// A workflow lists named steps. Each step submits one request, waits for the
// resulting operation with its own classifier and poll policy, and reports one
// outcome. Consecutive steps sharing a parallel group run concurrently.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/muaviaUsmani/lrowait/internal/classifier"
	"github.com/muaviaUsmani/lrowait/internal/operation"
	"github.com/muaviaUsmani/lrowait/internal/poller"
	"gopkg.in/yaml.v3"
)

// OnExists decides what a step does when its target already exists
type OnExists string

const (
	// OnExistsSkip reports AlreadyExists and moves on
	OnExistsSkip OnExists = "skip"
	// OnExistsFail treats an existing target as a submission error
	OnExistsFail OnExists = "fail"
	// OnExistsSubmit submits anyway (idempotent PUT)
	OnExistsSubmit OnExists = "submit"
)

// Workflow is a named list of steps
type Workflow struct {
	Name     string   `json:"name" yaml:"name" validate:"required"`
	Defaults Defaults `json:"defaults" yaml:"defaults"`
	Steps    []Step   `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
}

// Defaults apply to every step that doesn't override them
type Defaults struct {
	Preset string      `json:"preset,omitempty" yaml:"preset,omitempty"`
	Policy *PolicySpec `json:"policy,omitempty" yaml:"policy,omitempty"`
	// Concurrency bounds each parallel group (0 = config default)
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty" validate:"gte=0"`
}

// Step is one submit-and-await unit
type Step struct {
	Name    string      `json:"name" yaml:"name" validate:"required"`
	Request RequestSpec `json:"request" yaml:"request"`
	// ExistsURL is checked before submitting; empty skips the check
	ExistsURL string `json:"exists_url,omitempty" yaml:"exists_url,omitempty" validate:"omitempty,url"`
	// OnExists applies to a found ExistsURL and to a 409 on submit
	OnExists OnExists `json:"on_exists,omitempty" yaml:"on_exists,omitempty" validate:"omitempty,oneof=skip fail submit"`
	// Preset names a built-in status table
	Preset string `json:"preset,omitempty" yaml:"preset,omitempty"`
	// Statuses extend or override the preset: raw status -> in_progress|succeeded|failed
	Statuses map[string]string `json:"statuses,omitempty" yaml:"statuses,omitempty"`
	// StrictUnknown fails the step on a status missing from the table
	StrictUnknown bool        `json:"strict_unknown,omitempty" yaml:"strict_unknown,omitempty"`
	Policy        *PolicySpec `json:"policy,omitempty" yaml:"policy,omitempty"`
	// ContinueOnError keeps the workflow going after this step fails
	ContinueOnError bool `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`
	// Parallel groups consecutive steps that run concurrently
	Parallel string `json:"parallel,omitempty" yaml:"parallel,omitempty"`
}

// RequestSpec describes the submit call of a step
type RequestSpec struct {
	Method  string            `json:"method,omitempty" yaml:"method,omitempty" validate:"omitempty,oneof=PUT POST PATCH DELETE GET"`
	URL     string            `json:"url" yaml:"url" validate:"required,url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// Body is sent as JSON; a string is sent verbatim
	Body interface{} `json:"body,omitempty" yaml:"body,omitempty"`
}

// PolicySpec is the file form of poller.Policy; durations are Go duration strings.
// max_consecutive_errors: 0 keeps the inherited value, -1 tolerates no failed query.
type PolicySpec struct {
	Interval             string  `json:"interval,omitempty" yaml:"interval,omitempty"`
	MaxWait              string  `json:"max_wait,omitempty" yaml:"max_wait,omitempty"`
	BackoffMultiplier    float64 `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier,omitempty"`
	MaxInterval          string  `json:"max_interval,omitempty" yaml:"max_interval,omitempty"`
	QueryTimeout         string  `json:"query_timeout,omitempty" yaml:"query_timeout,omitempty"`
	MaxConsecutiveErrors int     `json:"max_consecutive_errors,omitempty" yaml:"max_consecutive_errors,omitempty"`
}

// Apply overlays the set fields of s onto base
func (s *PolicySpec) Apply(base poller.Policy) (poller.Policy, error) {
	if s == nil {
		return base, nil
	}
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"interval", s.Interval, &base.Interval},
		{"max_wait", s.MaxWait, &base.MaxWait},
		{"max_interval", s.MaxInterval, &base.MaxInterval},
		{"query_timeout", s.QueryTimeout, &base.QueryTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return base, fmt.Errorf("policy %s: %w", d.name, err)
		}
		*d.dst = v
	}
	if s.BackoffMultiplier != 0 {
		base.BackoffMultiplier = s.BackoffMultiplier
	}
	if s.MaxConsecutiveErrors != 0 {
		base.MaxConsecutiveErrors = s.MaxConsecutiveErrors
	}
	return base, nil
}

// OperationRequest converts the step's request to a submit request
func (s *Step) OperationRequest() (*operation.Request, error) {
	req := &operation.Request{
		Name:    s.Name,
		Method:  strings.ToUpper(s.Request.Method),
		URL:     s.Request.URL,
		Headers: s.Request.Headers,
	}
	switch body := s.Request.Body.(type) {
	case nil:
	case string:
		req.Body = []byte(body)
	default:
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("step %s: encode body: %w", s.Name, err)
		}
		req.Body = raw
	}
	return req, nil
}

// Table builds the step's classifier from its preset and overrides
func (s *Step) Table(defaultPreset string) (*classifier.Table, error) {
	preset := s.Preset
	if preset == "" {
		preset = defaultPreset
	}
	t, err := classifier.Build(classifier.Preset(preset), s.Statuses)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", s.Name, err)
	}
	t.StrictUnknown = s.StrictUnknown
	return t, nil
}

var validate = validator.New()

// Load reads a workflow file. ${VAR} references are expanded from the
// environment before parsing; an undefined variable is an error.
func Load(path string) (*Workflow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return Parse(raw, format)
}

// Parse decodes a workflow document in the given format ("json" or "yaml")
func Parse(raw []byte, format string) (*Workflow, error) {
	expanded, err := expandEnv(string(raw))
	if err != nil {
		return nil, err
	}

	wf := &Workflow{}
	switch format {
	case "json":
		dec := json.NewDecoder(bytes.NewReader([]byte(expanded)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(wf); err != nil {
			return nil, fmt.Errorf("parse workflow json: %w", err)
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(strings.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(wf); err != nil {
			return nil, fmt.Errorf("parse workflow yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported workflow format %q", format)
	}

	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

// Validate checks field constraints and cross-step rules
func (wf *Workflow) Validate() error {
	if err := validate.Struct(wf); err != nil {
		return fmt.Errorf("invalid workflow: %w", err)
	}

	if _, err := wf.Defaults.Policy.Apply(poller.DefaultPolicy()); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}

	seen := make(map[string]bool, len(wf.Steps))
	groups := make(map[string]int)
	for i := range wf.Steps {
		s := &wf.Steps[i]
		if seen[s.Name] {
			return fmt.Errorf("duplicate step name %q", s.Name)
		}
		seen[s.Name] = true

		if _, err := s.Table(wf.Defaults.Preset); err != nil {
			return err
		}
		if _, err := s.Policy.Apply(poller.DefaultPolicy()); err != nil {
			return fmt.Errorf("step %s: %w", s.Name, err)
		}
		if s.Parallel != "" {
			if last, ok := groups[s.Parallel]; ok && last != i-1 {
				return fmt.Errorf("step %s: parallel group %q must be contiguous", s.Name, s.Parallel)
			}
			groups[s.Parallel] = i
		}
	}
	return nil
}

// Batches splits the steps into runs: a parallel group is one batch, every
// other step is a batch of one
func (wf *Workflow) Batches() [][]int {
	var out [][]int
	for i, s := range wf.Steps {
		n := len(out)
		if s.Parallel != "" && n > 0 {
			prev := wf.Steps[out[n-1][0]]
			if prev.Parallel == s.Parallel {
				out[n-1] = append(out[n-1], i)
				continue
			}
		}
		out = append(out, []int{i})
	}
	return out
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references, failing on undefined variables.
// A bare $name is left alone so template keys like "$schema" survive.
func expandEnv(s string) (string, error) {
	missing := make(map[string]bool)
	out := envRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[2 : len(ref)-1]
		v, ok := os.LookupEnv(name)
		if !ok {
			missing[name] = true
		}
		return v
	})
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return "", fmt.Errorf("undefined environment variables: %s", strings.Join(names, ", "))
	}
	return out, nil
}
