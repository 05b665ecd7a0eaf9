package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/akira/slidesmith/internal/governance"
	"github.com/akira/slidesmith/internal/modelport"
	"github.com/akira/slidesmith/internal/observability"
	"github.com/akira/slidesmith/internal/plan"
	"github.com/akira/slidesmith/internal/session"
	"github.com/akira/slidesmith/internal/tools"
)

// ResearchReport is the researcher's structured product.
type ResearchReport struct {
	Summary       string    `json:"summary"`
	Findings      []Finding `json:"findings"`
	OpenQuestions []string  `json:"open_questions"`
}

type Finding struct {
	Claim  string `json:"claim"`
	Source string `json:"source"`
}

var reportSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary": map[string]any{"type": "string"},
		"findings": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"claim":  map[string]any{"type": "string"},
					"source": map[string]any{"type": "string"},
				},
				"required": []string{"claim", "source"},
			},
		},
		"open_questions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"summary", "findings"},
}

const gatherSystem = `You are a research assistant preparing evidence for a slide deck.
Use the available tools to collect current, citable facts for the instruction:
search to find sources, scrape to read a promising page, render when a page
needs JavaScript to show its content. Stop calling tools once you have enough
evidence and reply with a short digest of what you found, citing source URLs.`

// Researcher drives the tool registry through a model-directed loop,
// gated by the policy engine, and distills the gathered evidence into
// a sourced report.
type Researcher struct {
	Port    modelport.Port
	Tools   modelport.ToolCaller
	Prompts *PromptManager

	Registry *tools.Registry
	Policy   governance.PolicyEngine
	Logger   *observability.Logger

	// MaxTurns caps the model/tool round trips per step.
	MaxTurns int
}

func (r *Researcher) Role() plan.Role { return plan.RoleResearcher }

func (r *Researcher) Produce(ctx context.Context, req Request) (session.Artifact, error) {
	system, err := r.Prompts.GetRolePrompt(r.Role())
	if err != nil {
		return session.Artifact{}, err
	}

	evidence, err := r.gather(ctx, req)
	if err != nil {
		return session.Artifact{}, err
	}

	prompt := req.Context()
	if evidence != "" {
		prompt += "\nEvidence gathered from the web:\n" + evidence
	}
	raw, err := r.Port.GenerateStructured(ctx, modelport.PromptSpec{
		System: system,
		Prompt: prompt,
		Schema: reportSchema,
	})
	if err != nil {
		return session.Artifact{}, err
	}
	var report ResearchReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return session.Artifact{}, modelport.Transient("researcher decode", err)
	}
	return session.Artifact{
		ID:      fmt.Sprintf("step-%d-research", req.Step.ID),
		Type:    session.ArtifactReport,
		Title:   firstLine(report.Summary),
		Content: raw,
	}, nil
}

// gather lets the model drive the registered tools until it settles on
// an answer. Every invocation passes the policy gate; tool failures and
// denials are fed back as results so the model can route around them.
// Evidence is best-effort: an exhausted loop still returns what was
// collected, and the model can answer from what it knows.
func (r *Researcher) gather(ctx context.Context, req Request) (string, error) {
	if r.Tools == nil || r.Registry == nil || len(r.Registry.Tools) == 0 {
		return "", nil
	}

	var defs []modelport.ToolDef
	for _, t := range r.Registry.List() {
		defs = append(defs, modelport.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}

	toolReq := modelport.ToolRequest{
		System: gatherSystem,
		Prompt: req.Context(),
		Tools:  defs,
	}

	maxTurns := r.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 6
	}

	var evidence strings.Builder
	for turnNum := 0; turnNum < maxTurns; turnNum++ {
		turn, err := r.Tools.GenerateWithTools(ctx, toolReq)
		if err != nil {
			return "", err
		}
		if len(turn.Calls) == 0 {
			if turn.Content != "" {
				fmt.Fprintf(&evidence, "## Research digest\n%s\n", turn.Content)
			}
			return evidence.String(), nil
		}
		for _, call := range turn.Calls {
			result, err := r.invoke(ctx, call.Name, call.Arguments, req.SessionID)
			if err != nil {
				r.Logger.LogStep(req.SessionID, req.Step.ID, "tool_error", err.Error())
				result = fmt.Sprintf("Error: %v", err)
			} else {
				fmt.Fprintf(&evidence, "## %s(%s)\n%s\n\n", call.Name, call.Arguments, result)
			}
			toolReq.Steps = append(toolReq.Steps, modelport.ToolStep{Call: call, Result: result})
		}
	}
	return evidence.String(), nil
}

// invoke runs one tool call behind the policy gate.
func (r *Researcher) invoke(ctx context.Context, name, input, sessionID string) (string, error) {
	tool := r.Registry.Get(name)
	if tool == nil {
		return "", fmt.Errorf("tool %q not registered", name)
	}
	if r.Policy != nil {
		res, err := r.Policy.Evaluate(ctx, governance.Request{
			Tool:      name,
			Arguments: input,
			SessionID: sessionID,
		})
		if err != nil {
			return "", err
		}
		r.Logger.LogPolicy(sessionID, name, string(res.Effect), res.Reason)
		if res.Effect == governance.EffectDeny {
			return "", fmt.Errorf("tool %q denied: %s", name, res.Reason)
		}
	}
	return tool.Execute(ctx, input)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return strings.TrimSpace(s)
}
