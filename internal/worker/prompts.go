package worker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/akira/slidesmith/internal/plan"
)

// PromptManager resolves the system prompt for each role. Prompts live
// as <role>.md files in a directory so operators can tune them without
// a rebuild; a compiled-in default covers every built-in role.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// GetRolePrompt returns the on-disk prompt when present, otherwise the
// compiled-in default. A role with neither is a configuration error.
func (pm *PromptManager) GetRolePrompt(role plan.Role) (string, error) {
	if pm.Directory != "" {
		path := filepath.Join(pm.Directory, string(role)+".md")
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read prompt file %s: %v", path, err)
		}
	}
	if p, ok := defaultPrompts[role]; ok {
		return p, nil
	}
	return "", &plan.ConfigError{Reason: fmt.Sprintf("no prompt available for role %q", role)}
}

var defaultPrompts = map[plan.Role]string{
	plan.RoleResearcher: `You are a research analyst preparing source material for a slide deck.
Gather accurate, current facts for the instruction you are given. Prefer primary
sources. Cite the origin of every claim. Return a structured research report:
a short summary, a list of findings (each with a source), and open questions
the deck author should be aware of. Never invent figures.`,

	plan.RoleStorywriter: `You are a presentation storywriter. Turn the instruction and any
available research into a slide outline: a deck title and an ordered list of
slides, each with a title, 2-4 tight bullet points, and speaker notes.
Keep one idea per slide. Bullets are fragments, not paragraphs. The outline
must stand alone without the research attached.`,

	plan.RoleDataAnalyst: `You are a data analyst supporting a slide deck. Extract the
quantitative story from the material you are given: key figures, comparisons,
and trends. Return a structured report with a headline takeaway, a table of
figures (label, value, unit, source), and a suggested chart type for each
comparison. Flag any figure you could not verify.`,

	plan.RoleVisualizer: `You are an art director writing image generation prompts for
presentation slides. For each slide, write one prompt that renders the slide's
idea as a clean 16:9 illustration: concrete subject, composition, and mood.
No embedded text, no logos, no watermarks. Keep the visual language consistent
across the whole deck.`,
}
