package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/akira/slidesmith/internal/consistency"
	"github.com/akira/slidesmith/internal/modelport"
	"github.com/akira/slidesmith/internal/plan"
	"github.com/akira/slidesmith/internal/session"
)

// SlideImage is one rendered slide inside the visualizer's artifact.
type SlideImage struct {
	Index    int    `json:"index"`
	Title    string `json:"title"`
	Prompt   string `json:"prompt"`
	Seed     int64  `json:"seed"`
	AnchorID string `json:"anchor_id"`
	ImageB64 string `json:"image_b64"`
}

// ImageSet is the visualizer's product: every slide image plus the
// anchor origin that styled them.
type ImageSet struct {
	AnchorOrigin string       `json:"anchor_origin"`
	Slides       []SlideImage `json:"slides"`
}

var imagePromptSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"prompts": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required": []string{"prompts"},
}

// Visualizer renders one image per outline slide through the
// consistency engine. It is bound to a single session because the
// engine's style anchor lives there.
type Visualizer struct {
	Port    modelport.Port
	Prompts *PromptManager
	Engine  *consistency.Engine
	Session *session.State
}

func NewVisualizer(port modelport.Port, prompts *PromptManager, engine *consistency.Engine, sess *session.State) *Visualizer {
	return &Visualizer{Port: port, Prompts: prompts, Engine: engine, Session: sess}
}

func (v *Visualizer) Role() plan.Role { return plan.RoleVisualizer }

func (v *Visualizer) Produce(ctx context.Context, req Request) (session.Artifact, error) {
	outline, ok := FindOutline(req.Artifacts)
	if !ok {
		return session.Artifact{}, &plan.ConfigError{
			Reason: fmt.Sprintf("step %d requires an outline artifact but none exists", req.Step.ID),
		}
	}

	prompts, err := v.draftPrompts(ctx, req, outline)
	if err != nil {
		return session.Artifact{}, err
	}

	specs := make([]consistency.SlideSpec, len(prompts))
	for i, p := range prompts {
		specs[i] = consistency.SlideSpec{Index: i, Prompt: p}
	}
	// An explicit design direction becomes the style anchor; without
	// one the first slide anchors the deck.
	if req.Step.DesignDirection != "" {
		specs[0].StyleHint = req.Step.DesignDirection
	}

	results, err := v.Engine.RegenerateAll(ctx, v.Session, specs)
	if err != nil {
		return session.Artifact{}, err
	}

	set := ImageSet{Slides: make([]SlideImage, len(results))}
	if ref, ok := v.Session.Anchor(); ok {
		set.AnchorOrigin = string(ref.Origin)
	}
	for i, res := range results {
		set.Slides[i] = SlideImage{
			Index:    res.Index,
			Title:    outline.Slides[res.Index].Title,
			Prompt:   res.Signature.BasePrompt,
			Seed:     res.Signature.Seed,
			AnchorID: res.Signature.AnchorID,
			ImageB64: base64.StdEncoding.EncodeToString(res.Image),
		}
	}
	content, err := json.Marshal(set)
	if err != nil {
		return session.Artifact{}, fmt.Errorf("encode image set: %w", err)
	}
	return session.Artifact{
		ID:      fmt.Sprintf("step-%d-images", req.Step.ID),
		Type:    session.ArtifactImage,
		Title:   outline.DeckTitle,
		Content: content,
	}, nil
}

// draftPrompts asks the model for one image prompt per slide.
func (v *Visualizer) draftPrompts(ctx context.Context, req Request, outline Outline) ([]string, error) {
	system, err := v.Prompts.GetRolePrompt(v.Role())
	if err != nil {
		return nil, err
	}
	prompt := req.Context() + fmt.Sprintf("\nWrite exactly %d image prompts, one per slide, in slide order.", len(outline.Slides))
	raw, err := v.Port.GenerateStructured(ctx, modelport.PromptSpec{
		System: system,
		Prompt: prompt,
		Schema: imagePromptSchema,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Prompts []string `json:"prompts"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, modelport.Transient("visualizer decode", err)
	}
	if len(out.Prompts) != len(outline.Slides) {
		return nil, modelport.Transient("visualizer",
			fmt.Errorf("got %d prompts for %d slides", len(out.Prompts), len(outline.Slides)))
	}
	return out.Prompts, nil
}
