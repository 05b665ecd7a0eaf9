// Package review is the quality gate between a produced artifact and
// the session accepting it. Every artifact passes through a reviewer
// before it counts.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/akira/slidesmith/internal/modelport"
	"github.com/akira/slidesmith/internal/plan"
	"github.com/akira/slidesmith/internal/session"
)

// Output is the reviewer's verdict. When Approved is false, Feedback
// must say what to fix; it is appended to the step's feedback trail
// and fed into the retry.
type Output struct {
	Approved bool    `json:"approved"`
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Reviewer judges one artifact against its step's instruction, with
// the session's committed artifacts available for cross-checking (an
// image set is judged against the outline it illustrates).
type Reviewer interface {
	Review(ctx context.Context, step plan.Step, candidate session.Artifact, artifacts map[string]session.Artifact) (Output, error)
}

var verdictSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"approved": map[string]any{"type": "boolean"},
		"score":    map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"feedback": map[string]any{"type": "string"},
	},
	"required": []string{"approved", "score", "feedback"},
}

const reviewerSystem = `You are a strict quality reviewer for slide deck production.
Judge whether the artifact fulfils its instruction: complete, accurate,
on-topic, and fit for the deck. Approve only work you would ship. When
rejecting, give concrete, actionable feedback that names the defect and
what a fixed version looks like. Score is your confidence in the
artifact's quality from 0 to 1.`

// LLMReviewer judges artifacts with a structured model call.
type LLMReviewer struct {
	Port modelport.Port
}

func (r *LLMReviewer) Review(ctx context.Context, step plan.Step, candidate session.Artifact, artifacts map[string]session.Artifact) (Output, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Instruction: %s\n", step.Instruction)
	if step.Description != "" {
		fmt.Fprintf(&b, "Step description: %s\n", step.Description)
	}
	if ctxSection := contextSection(candidate, artifacts); ctxSection != "" {
		fmt.Fprintf(&b, "\nAccepted artifacts from earlier steps (judge consistency against these):\n%s", ctxSection)
	}
	fmt.Fprintf(&b, "\nArtifact under review (%s, %q):\n%s\n", candidate.Type, candidate.Title, summarize(candidate))

	raw, err := r.Port.GenerateStructured(ctx, modelport.PromptSpec{
		System: reviewerSystem,
		Prompt: b.String(),
		Schema: verdictSchema,
	})
	if err != nil {
		return Output{}, err
	}
	var out Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return Output{}, modelport.Transient("review decode", err)
	}
	if !out.Approved && strings.TrimSpace(out.Feedback) == "" {
		return Output{}, modelport.Transient("review",
			fmt.Errorf("rejection carried no feedback"))
	}
	return out, nil
}

// contextSection renders the committed artifacts the candidate should
// agree with, in id order and tightly bounded so the candidate itself
// stays the bulk of the prompt.
func contextSection(candidate session.Artifact, artifacts map[string]session.Artifact) string {
	const perArtifact = 2000
	ids := make([]string, 0, len(artifacts))
	for id := range artifacts {
		if id == candidate.ID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		a := artifacts[id]
		body := summarize(a)
		if len(body) > perArtifact {
			body = body[:perArtifact] + "\n[truncated]"
		}
		fmt.Fprintf(&b, "--- %s (%s, %q, v%d):\n%s\n", a.ID, a.Type, a.Title, a.Version, body)
	}
	return b.String()
}

// summarize keeps review prompts bounded. Image sets are reviewed on
// their prompts and metadata, not the raw bytes.
func summarize(a session.Artifact) string {
	const maxLen = 20000
	if a.Type == session.ArtifactImage {
		var set struct {
			AnchorOrigin string `json:"anchor_origin"`
			Slides       []struct {
				Index  int    `json:"index"`
				Title  string `json:"title"`
				Prompt string `json:"prompt"`
			} `json:"slides"`
		}
		if err := json.Unmarshal(a.Content, &set); err == nil {
			var b strings.Builder
			fmt.Fprintf(&b, "Image set, anchor origin %s, %d slides:\n", set.AnchorOrigin, len(set.Slides))
			for _, s := range set.Slides {
				fmt.Fprintf(&b, "%d. %s — prompt: %s\n", s.Index+1, s.Title, s.Prompt)
			}
			return b.String()
		}
	}
	content := string(a.Content)
	if len(content) > maxLen {
		content = content[:maxLen] + "\n[truncated]"
	}
	return content
}
