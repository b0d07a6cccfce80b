package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run against a fresh projection and WAL.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Schema is the CUE schema directory. Relative paths resolve against
	// the scenario file's directory.
	Schema string `yaml:"schema"`

	// Session is the default session for steps that do not set one.
	Session map[string]any `yaml:"session,omitempty"`

	// IDPrefix prefixes the generated mutation ids. Default "m".
	IDPrefix string `yaml:"id_prefix,omitempty"`

	// Setup steps run first and must all succeed.
	Setup []Step `yaml:"setup,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is either an exec or a query.
type Step struct {
	// Exec names the action to apply.
	Exec string `yaml:"exec,omitempty"`

	// Query is a query document to run.
	Query string `yaml:"query,omitempty"`

	Args    []any          `yaml:"args,omitempty"`
	Session map[string]any `yaml:"session,omitempty"`

	// Version overrides the mutation version. Default: the schema version.
	Version int `yaml:"version,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the outcome a step must have.
type Expect struct {
	// Error is the expected error code (UNIQUE_VIOLATION, SYNTAX, USER, ...).
	// Empty means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Rows are the rows an exec must return, compared exactly.
	Rows []map[string]any `yaml:"rows,omitempty"`

	// Result is the JSON result a query must return, compared exactly.
	Result any `yaml:"result,omitempty"`
}

// Assertion validates the trace or the final projection.
type Assertion struct {
	Type string `yaml:"type"`

	// Action and Args are used by trace_contains and trace_count. Args is
	// a prefix match.
	Action string `yaml:"action,omitempty"`
	Args   []any  `yaml:"args,omitempty"`

	// Actions is the expected order for trace_order.
	Actions []string `yaml:"actions,omitempty"`

	// Count is used by trace_count and wal_count.
	Count *int `yaml:"count,omitempty"`

	// Table, Where and Expect are used by final_state.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	// Query is the document replay compares.
	Query string `yaml:"query,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertWALCount      = "wal_count"
	AssertReplay        = "replay"
)

// LoadScenario reads a scenario file and resolves its schema path.
// Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Schema != "" && !filepath.IsAbs(s.Schema) {
		s.Schema = filepath.Join(filepath.Dir(path), s.Schema)
	}
	if _, err := os.Stat(s.Schema); err != nil {
		return nil, fmt.Errorf("invalid scenario: schema directory: %w", err)
	}
	return s, nil
}

// ParseScenario decodes and validates a scenario document. Schema paths
// are left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: setup steps cannot carry expect", i)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch {
	case step.Exec == "" && step.Query == "":
		return fmt.Errorf("exec or query is required")
	case step.Exec != "" && step.Query != "":
		return fmt.Errorf("exec and query are mutually exclusive")
	case step.Version < 0:
		return fmt.Errorf("version must be positive")
	}
	if e := step.Expect; e != nil {
		if e.Error != "" && (e.Rows != nil || e.Result != nil) {
			return fmt.Errorf("expect.error excludes rows and result")
		}
		if step.Query != "" && e.Rows != nil {
			return fmt.Errorf("expect.rows only applies to exec")
		}
		if step.Exec != "" && e.Result != nil {
			return fmt.Errorf("expect.result only applies to query")
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("trace_contains requires action")
		}
	case AssertTraceOrder:
		if len(a.Actions) < 2 {
			return fmt.Errorf("trace_order requires at least 2 actions")
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("trace_count requires action")
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("trace_count requires a non-negative count")
		}
	case AssertWALCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("wal_count requires a non-negative count")
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("final_state requires table")
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("final_state requires expect")
		}
	case AssertReplay:
		if a.Query == "" {
			return fmt.Errorf("replay requires query")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
