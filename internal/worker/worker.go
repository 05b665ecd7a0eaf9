// Package worker routes plan steps to role-specific producers. The
// dispatch table is closed at construction so unknown roles surface as
// configuration errors before a session ever starts.
package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/akira/slidesmith/internal/plan"
	"github.com/akira/slidesmith/internal/session"
)

// Request carries everything a producer may consume: the step, a
// read-only snapshot of accumulated artifacts, and reviewer feedback
// from earlier attempts at the same step.
type Request struct {
	Step      plan.Step
	Artifacts map[string]session.Artifact
	Feedback  []string
	SessionID string
}

// Context renders the shared prompt context: instruction, design
// direction, prior artifact titles, and the appended feedback trail.
// Feedback is appended, never substituted, so retries keep the
// original instruction.
func (r Request) Context() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instruction: %s\n", r.Step.Instruction)
	if r.Step.DesignDirection != "" {
		fmt.Fprintf(&b, "Design direction: %s\n", r.Step.DesignDirection)
	}
	if len(r.Artifacts) > 0 {
		b.WriteString("\nAvailable artifacts:\n")
		ids := make([]string, 0, len(r.Artifacts))
		for id := range r.Artifacts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			a := r.Artifacts[id]
			fmt.Fprintf(&b, "--- %s (%s, v%d): %s ---\n%s\n", id, a.Type, a.Version, a.Title, a.Content)
		}
	}
	if len(r.Feedback) > 0 {
		b.WriteString("\nReview feedback from earlier attempts (fix these issues, keep the original instruction):\n")
		for i, f := range r.Feedback {
			fmt.Fprintf(&b, "%d. %s\n", i+1, f)
		}
	}
	return b.String()
}

// Producer turns a step into a candidate artifact. Producers must
// tolerate retries carrying feedback: the same step with different
// feedback should yield a materially different candidate.
type Producer interface {
	Role() plan.Role
	Produce(ctx context.Context, req Request) (session.Artifact, error)
}

// Dispatcher maintains the static role → producer table.
type Dispatcher struct {
	table map[plan.Role]Producer
}

// NewDispatcher builds the table. Duplicate roles are a configuration
// error.
func NewDispatcher(producers ...Producer) (*Dispatcher, error) {
	table := make(map[plan.Role]Producer, len(producers))
	for _, p := range producers {
		if _, exists := table[p.Role()]; exists {
			return nil, &plan.ConfigError{Reason: fmt.Sprintf("duplicate producer for role %q", p.Role())}
		}
		table[p.Role()] = p
	}
	return &Dispatcher{table: table}, nil
}

// Roles returns the set of roles the table can serve, for plan
// validation at ingestion.
func (d *Dispatcher) Roles() map[plan.Role]struct{} {
	out := make(map[plan.Role]struct{}, len(d.table))
	for role := range d.table {
		out[role] = struct{}{}
	}
	return out
}

// Dispatch routes the request to its producer. An unknown role is
// fatal, not retryable.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (session.Artifact, error) {
	p, ok := d.table[req.Step.Role]
	if !ok {
		return session.Artifact{}, &plan.ConfigError{Reason: fmt.Sprintf("no producer for role %q", req.Step.Role)}
	}
	return p.Produce(ctx, req)
}
