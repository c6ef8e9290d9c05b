package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rotd/internal/transform"
)

// Scenario defines one end-to-end run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario demonstrates.
	Description string `yaml:"description"`

	// Source is the initial source tree, relative path to content.
	Source map[string]string `yaml:"source"`

	// Rotation holds the engine defaults used when a rotate step leaves
	// fields empty.
	Rotation RotationDefaults `yaml:"rotation,omitempty"`

	// AbortOnError makes per-file rotation failures abort the cycle.
	AbortOnError bool `yaml:"abort_on_error,omitempty"`

	// Targets are extra watched files, relative to the base directory.
	Targets []Target `yaml:"targets,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// RotationDefaults mirrors the rotation section of the config file.
type RotationDefaults struct {
	Mode  string `yaml:"mode,omitempty"`
	Param int    `yaml:"param,omitempty"`
	Seed  string `yaml:"seed,omitempty"`
}

// Target is an extra watched file and its optional mirror.
type Target struct {
	Path   string `yaml:"path"`
	Mirror string `yaml:"mirror,omitempty"`
}

// Step is one action. Which fields apply depends on Action.
type Step struct {
	Action string `yaml:"action"`

	// Path is relative to the base directory (write, tamper, delete).
	Path    string  `yaml:"path,omitempty"`
	Content *string `yaml:"content,omitempty"`

	// Rotation overrides (rotate).
	Mode  string `yaml:"mode,omitempty"`
	Param int    `yaml:"param,omitempty"`
	Seed  string `yaml:"seed,omitempty"`

	// Expect is the state the step must end in: ok, partial or aborted for
	// rotate and recover; Healthy or Repairing for tick; FullyRestored,
	// PartiallyRestored or Aborted for restore; Valid or Invalid for verify.
	Expect string `yaml:"expect,omitempty"`
}

// Step actions.
const (
	ActionRotate          = "rotate"
	ActionRecover         = "recover"
	ActionWrite           = "write"
	ActionTamper          = "tamper"
	ActionDelete          = "delete"
	ActionCorruptManifest = "corrupt_manifest"
	ActionTick            = "tick"
	ActionRestore         = "restore"
	ActionVerify          = "verify"
)

// Assertion validates the trace or the final files.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, file,
	// known_good.
	Type string `yaml:"type"`

	// Kind is the trace event kind (trace_contains, trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Path narrows trace assertions to one path; for file and known_good it
	// is the base-relative file to check.
	Path string `yaml:"path,omitempty"`

	// Kinds is the expected order of event kinds (trace_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Count is the expected number of matching events (trace_count).
	Count int `yaml:"count,omitempty"`

	// Content is the expected file content; Absent expects no file (file).
	Content *string `yaml:"content,omitempty"`
	Absent  bool    `yaml:"absent,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFile          = "file"
	AssertKnownGood     = "known_good"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Source) == 0 {
		return fmt.Errorf("source tree is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Rotation.Mode != "" {
		if _, err := transform.ParseMode(s.Rotation.Mode); err != nil {
			return fmt.Errorf("rotation: %w", err)
		}
	}
	for i, t := range s.Targets {
		if t.Path == "" {
			return fmt.Errorf("targets[%d]: path is required", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	switch step.Action {
	case ActionRotate:
		if step.Mode != "" {
			if _, err := transform.ParseMode(step.Mode); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		}
	case ActionWrite, ActionTamper:
		if step.Path == "" {
			return fmt.Errorf("steps[%d]: path is required for %s", i, step.Action)
		}
		if step.Content == nil {
			return fmt.Errorf("steps[%d]: content is required for %s", i, step.Action)
		}
	case ActionDelete:
		if step.Path == "" {
			return fmt.Errorf("steps[%d]: path is required for delete", i)
		}
	case ActionRecover, ActionCorruptManifest, ActionTick, ActionRestore, ActionVerify:
	case "":
		return fmt.Errorf("steps[%d]: action is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", i, step.Action)
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", i)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", i)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", i)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", i)
		}
	case AssertFile:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for file", i)
		}
		if a.Content == nil && !a.Absent {
			return fmt.Errorf("assertions[%d]: content or absent is required for file", i)
		}
	case AssertKnownGood:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for known_good", i)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
