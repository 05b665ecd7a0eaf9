package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/akira/slidesmith/internal/modelport"
	"github.com/akira/slidesmith/internal/plan"
	"github.com/akira/slidesmith/internal/session"
)

// Outline is the storywriter's structured product: the deck skeleton
// every later step builds on.
type Outline struct {
	DeckTitle string  `json:"deck_title"`
	Slides    []Slide `json:"slides"`
}

type Slide struct {
	Title        string   `json:"title"`
	Bullets      []string `json:"bullets"`
	SpeakerNotes string   `json:"speaker_notes"`
}

var outlineSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"deck_title": map[string]any{"type": "string"},
		"slides": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":         map[string]any{"type": "string"},
					"bullets":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"speaker_notes": map[string]any{"type": "string"},
				},
				"required": []string{"title", "bullets"},
			},
		},
	},
	"required": []string{"deck_title", "slides"},
}

// Storywriter turns research and instructions into a slide outline.
type Storywriter struct {
	Port    modelport.Port
	Prompts *PromptManager
}

func (s *Storywriter) Role() plan.Role { return plan.RoleStorywriter }

func (s *Storywriter) Produce(ctx context.Context, req Request) (session.Artifact, error) {
	system, err := s.Prompts.GetRolePrompt(s.Role())
	if err != nil {
		return session.Artifact{}, err
	}
	raw, err := s.Port.GenerateStructured(ctx, modelport.PromptSpec{
		System: system,
		Prompt: req.Context(),
		Schema: outlineSchema,
	})
	if err != nil {
		return session.Artifact{}, err
	}
	var outline Outline
	if err := json.Unmarshal(raw, &outline); err != nil {
		return session.Artifact{}, modelport.Transient("storywriter decode", err)
	}
	if len(outline.Slides) == 0 {
		return session.Artifact{}, modelport.Transient("storywriter", fmt.Errorf("outline has no slides"))
	}
	return session.Artifact{
		ID:      fmt.Sprintf("step-%d-outline", req.Step.ID),
		Type:    session.ArtifactOutline,
		Title:   outline.DeckTitle,
		Content: raw,
	}, nil
}

// FindOutline locates the newest outline among artifacts, decoded. The
// visualizer uses it to derive one image per slide.
func FindOutline(artifacts map[string]session.Artifact) (Outline, bool) {
	var best session.Artifact
	found := false
	for _, a := range artifacts {
		if a.Type != session.ArtifactOutline {
			continue
		}
		if !found || a.Version > best.Version {
			best, found = a, true
		}
	}
	if !found {
		return Outline{}, false
	}
	var outline Outline
	if err := json.Unmarshal(best.Content, &outline); err != nil {
		return Outline{}, false
	}
	return outline, true
}
