package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/akira/slidesmith/internal/modelport"
	"github.com/akira/slidesmith/internal/plan"
	"github.com/akira/slidesmith/internal/session"
)

// DataReport is the analyst's structured product: the figures a deck
// can chart.
type DataReport struct {
	Takeaway string   `json:"takeaway"`
	Figures  []Figure `json:"figures"`
}

type Figure struct {
	Label      string `json:"label"`
	Value      string `json:"value"`
	Unit       string `json:"unit"`
	Source     string `json:"source"`
	ChartHint  string `json:"chart_hint"`
	Unverified bool   `json:"unverified,omitempty"`
}

var dataSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"takeaway": map[string]any{"type": "string"},
		"figures": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"label":      map[string]any{"type": "string"},
					"value":      map[string]any{"type": "string"},
					"unit":       map[string]any{"type": "string"},
					"source":     map[string]any{"type": "string"},
					"chart_hint": map[string]any{"type": "string"},
					"unverified": map[string]any{"type": "boolean"},
				},
				"required": []string{"label", "value"},
			},
		},
	},
	"required": []string{"takeaway", "figures"},
}

// DataAnalyst extracts the quantitative story from prior artifacts.
type DataAnalyst struct {
	Port    modelport.Port
	Prompts *PromptManager
}

func (d *DataAnalyst) Role() plan.Role { return plan.RoleDataAnalyst }

func (d *DataAnalyst) Produce(ctx context.Context, req Request) (session.Artifact, error) {
	system, err := d.Prompts.GetRolePrompt(d.Role())
	if err != nil {
		return session.Artifact{}, err
	}
	raw, err := d.Port.GenerateStructured(ctx, modelport.PromptSpec{
		System: system,
		Prompt: req.Context(),
		Schema: dataSchema,
	})
	if err != nil {
		return session.Artifact{}, err
	}
	var report DataReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return session.Artifact{}, modelport.Transient("data analyst decode", err)
	}
	return session.Artifact{
		ID:      fmt.Sprintf("step-%d-data", req.Step.ID),
		Type:    session.ArtifactReport,
		Title:   firstLine(report.Takeaway),
		Content: raw,
	}, nil
}
