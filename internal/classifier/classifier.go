// Package classifier maps raw backend status strings to operation states.
package classifier

import (
	"fmt"
	"sort"
	"strings"

	"github.com/muaviaUsmani/lrowait/internal/operation"
)

// Preset names a built-in status table
type Preset string

const (
	// PresetDeployment covers ARM deployments and resource provisioningState
	PresetDeployment Preset = "deployment"
	// PresetScan covers classification/data-map scan runs
	PresetScan Preset = "scan"
	// PresetReplication covers schema and policy replication status
	PresetReplication Preset = "replication"
)

var presets = map[Preset]map[string]operation.State{
	PresetDeployment: {
		"Accepted":   operation.StateInProgress,
		"Running":    operation.StateInProgress,
		"Creating":   operation.StateInProgress,
		"Updating":   operation.StateInProgress,
		"Deleting":   operation.StateInProgress,
		"Canceling":  operation.StateInProgress,
		"NotStarted": operation.StateInProgress,
		"Succeeded":  operation.StateSucceeded,
		"Failed":     operation.StateFailed,
		"Canceled":   operation.StateFailed,
	},
	PresetScan: {
		"Queued":                  operation.StateInProgress,
		"Accepted":                operation.StateInProgress,
		"InProgress":              operation.StateInProgress,
		"Running":                 operation.StateInProgress,
		"Succeeded":               operation.StateSucceeded,
		"Completed":               operation.StateSucceeded,
		"Failed":                  operation.StateFailed,
		"Canceled":                operation.StateFailed,
		"Cancelled":               operation.StateFailed,
		"CompletedWithExceptions": operation.StateFailed,
	},
	PresetReplication: {
		"Pending":     operation.StateInProgress,
		"NotStarted":  operation.StateInProgress,
		"InProgress":  operation.StateInProgress,
		"Replicating": operation.StateInProgress,
		"Replicated":  operation.StateSucceeded,
		"Succeeded":   operation.StateSucceeded,
		"Completed":   operation.StateSucceeded,
		"Failed":      operation.StateFailed,
		"Error":       operation.StateFailed,
	},
}

// Presets returns the names of the built-in tables
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Table maps raw status strings to states.
// Matching is case-insensitive and ignores surrounding whitespace.
type Table struct {
	states map[string]operation.State
	// StrictUnknown turns unrecognized statuses into failures instead of waiting
	StrictUnknown bool
}

// NewTable builds a table from a raw status -> state mapping
func NewTable(mapping map[string]operation.State) (*Table, error) {
	t := &Table{states: make(map[string]operation.State, len(mapping))}
	for raw, state := range mapping {
		if err := t.set(raw, state); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// FromPreset returns a fresh copy of a built-in table
func FromPreset(p Preset) (*Table, error) {
	mapping, ok := presets[p]
	if !ok {
		names := make([]string, 0, len(presets))
		for _, known := range Presets() {
			names = append(names, string(known))
		}
		return nil, fmt.Errorf("unknown classifier preset: %q (available: %s)", p, strings.Join(names, ", "))
	}
	return NewTable(mapping)
}

// Build starts from an optional preset and applies overrides on top.
// Override values are state names (in_progress, succeeded, failed).
func Build(preset Preset, overrides map[string]string) (*Table, error) {
	var t *Table
	var err error
	if preset != "" {
		t, err = FromPreset(preset)
	} else {
		t, err = NewTable(nil)
	}
	if err != nil {
		return nil, err
	}

	for raw, name := range overrides {
		state, err := operation.ParseState(name)
		if err != nil {
			return nil, fmt.Errorf("status %q: %w", raw, err)
		}
		if err := t.set(raw, state); err != nil {
			return nil, err
		}
	}

	if t.Len() == 0 {
		return nil, fmt.Errorf("classifier table is empty: set a preset or status overrides")
	}
	return t, nil
}

func (t *Table) set(raw string, state operation.State) error {
	key := normalize(raw)
	if key == "" {
		return fmt.Errorf("status string cannot be empty")
	}
	if _, err := operation.ParseState(string(state)); err != nil {
		return fmt.Errorf("status %q: %w", raw, err)
	}
	t.states[key] = state
	return nil
}

// Classify maps a raw status to a state. known is false when the status is
// not in the table; the state is then InProgress (fail-open), or Failed when
// StrictUnknown is set.
func (t *Table) Classify(raw string) (state operation.State, known bool) {
	if s, ok := t.states[normalize(raw)]; ok {
		return s, true
	}
	if t.StrictUnknown {
		return operation.StateFailed, false
	}
	return operation.StateInProgress, false
}

// Len returns the number of mapped statuses
func (t *Table) Len() int {
	return len(t.states)
}

func normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
