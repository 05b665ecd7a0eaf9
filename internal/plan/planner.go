package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/akira/slidesmith/internal/modelport"
)

// ReplanRequest scopes a partial replan to the objective that failed.
type ReplanRequest struct {
	Objective string   // the original user request, for context
	Failed    Step     // the step that exhausted its retries
	Feedback  []string // reviewer feedback collected for the failed step
	Executed  []Step   // steps already approved (kept prefix)
	NextID    int      // smallest id the replacement tail may use
}

// Planner produces a replacement plan tail after retry exhaustion.
// The initial plan arrives from upstream; the supervisor only ever
// asks for partial replans.
type Planner interface {
	Replan(ctx context.Context, req ReplanRequest) ([]Step, error)
}

// LLMPlanner asks the structured model for a revised tail.
type LLMPlanner struct {
	Port modelport.Port
}

func NewLLMPlanner(port modelport.Port) *LLMPlanner {
	return &LLMPlanner{Port: port}
}

const plannerSystem = "You are a production planner for slide decks. " +
	"A step in the current plan keeps failing review. Produce a replacement " +
	"tail of steps that reaches the objective a different way."

func (p *LLMPlanner) Replan(ctx context.Context, req ReplanRequest) ([]Step, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective: %s\n\n", req.Objective)
	fmt.Fprintf(&b, "Failing step (id %d, role %s): %s\n", req.Failed.ID, req.Failed.Role, req.Failed.Instruction)
	if len(req.Feedback) > 0 {
		b.WriteString("\nReviewer feedback on the failed attempts:\n")
		for _, f := range req.Feedback {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if len(req.Executed) > 0 {
		b.WriteString("\nSteps already completed (do not repeat them):\n")
		for _, s := range req.Executed {
			fmt.Fprintf(&b, "- id %d (%s): %s\n", s.ID, s.Role, s.Description)
		}
	}
	fmt.Fprintf(&b, "\nStep ids must be unique and strictly increasing, starting at %d or higher. ", req.NextID)
	b.WriteString("Allowed roles: researcher, storywriter, visualizer, data_analyst.")

	raw, err := p.Port.GenerateStructured(ctx, modelport.PromptSpec{
		System: plannerSystem,
		Prompt: b.String(),
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"steps": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"id":               map[string]any{"type": "integer"},
							"role":             map[string]any{"type": "string"},
							"instruction":      map[string]any{"type": "string"},
							"description":      map[string]any{"type": "string"},
							"design_direction": map[string]any{"type": "string"},
						},
						"required": []string{"id", "role", "instruction", "description"},
					},
				},
			},
			"required": []string{"steps"},
		},
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Steps []Step `json:"steps"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, modelport.Transient("replan", fmt.Errorf("decode plan tail: %w", err))
	}
	if len(out.Steps) == 0 {
		return nil, modelport.Transient("replan", fmt.Errorf("planner returned no steps"))
	}
	return out.Steps, nil
}
