package plan

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Role identifies the worker responsible for a step.
type Role string

const (
	RoleResearcher  Role = "researcher"
	RoleStorywriter Role = "storywriter"
	RoleVisualizer  Role = "visualizer"
	RoleDataAnalyst Role = "data_analyst"
)

// Step is one unit of work assigned to a role-specific worker.
// Steps are immutable after creation.
type Step struct {
	ID              int    `yaml:"id" json:"id"`
	Role            Role   `yaml:"role" json:"role"`
	Instruction     string `yaml:"instruction" json:"instruction"`
	Description     string `yaml:"description" json:"description"`
	DesignDirection string `yaml:"design_direction,omitempty" json:"design_direction,omitempty"`
}

// Plan is an ordered sequence of steps describing the production
// pipeline for one request. Once issued to a session it changes only
// through an explicit replace-on-replan splice.
type Plan struct {
	Steps []Step `yaml:"steps" json:"steps"`
}

// ConfigError marks a fatal ingestion/configuration problem (malformed
// plan, unknown role). It is never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// Parse decodes a plan document. YAML is a superset of the JSON shape
// given in the ingestion contract, so both formats are accepted.
func Parse(data []byte) (Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Plan{}, configErrorf("parse plan: %v", err)
	}
	return p, nil
}

// Validate rejects malformed plans: empty step lists, duplicate or
// non-increasing ids, instructions missing, or roles the dispatch
// table does not know.
func (p Plan) Validate(known map[Role]struct{}) error {
	if len(p.Steps) == 0 {
		return configErrorf("plan has no steps")
	}
	lastID := 0
	for i, step := range p.Steps {
		if step.ID <= lastID {
			return configErrorf("step %d: id %d is not strictly increasing", i, step.ID)
		}
		lastID = step.ID
		if step.Instruction == "" {
			return configErrorf("step %d: instruction is required", step.ID)
		}
		if _, ok := known[step.Role]; !ok {
			return configErrorf("step %d: unknown role %q", step.ID, step.Role)
		}
	}
	return nil
}

// Splice returns a new plan that keeps steps before index and replaces
// the tail with replacement steps. The result must still satisfy the id
// ordering invariant against the kept prefix.
func (p Plan) Splice(index int, tail []Step) (Plan, error) {
	if index < 0 || index > len(p.Steps) {
		return Plan{}, configErrorf("splice index %d out of range", index)
	}
	if len(tail) == 0 {
		return Plan{}, configErrorf("replacement tail is empty")
	}
	next := Plan{Steps: make([]Step, 0, index+len(tail))}
	next.Steps = append(next.Steps, p.Steps[:index]...)
	next.Steps = append(next.Steps, tail...)

	lastID := 0
	for _, step := range next.Steps {
		if step.ID <= lastID {
			return Plan{}, configErrorf("spliced plan: id %d is not strictly increasing", step.ID)
		}
		lastID = step.ID
	}
	return next, nil
}

// Clone returns a defensive copy so callers cannot mutate a session's
// issued plan in place.
func (p Plan) Clone() Plan {
	steps := make([]Step, len(p.Steps))
	copy(steps, p.Steps)
	return Plan{Steps: steps}
}
