package plan

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/akira/slidesmith/internal/modelport"
)

func TestLLMPlanner_DecodesTail(t *testing.T) {
	port := modelport.NewMockPort()
	port.Responses["Failing step (id 2"] = json.RawMessage(`{
		"steps": [
			{"id": 3, "role": "storywriter", "instruction": "simpler outline", "description": "retry with fewer slides"},
			{"id": 4, "role": "visualizer", "instruction": "draw", "description": "images for the new outline"}
		]
	}`)

	p := NewLLMPlanner(port)
	tail, err := p.Replan(context.Background(), ReplanRequest{
		Objective: "bees deck",
		Failed:    Step{ID: 2, Role: RoleStorywriter, Instruction: "outline"},
		Feedback:  []string{"too dense"},
		NextID:    3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].ID != 3 || tail[1].Role != RoleVisualizer {
		t.Fatalf("tail = %+v", tail)
	}
}

func TestLLMPlanner_EmptyTailIsTransient(t *testing.T) {
	port := modelport.NewMockPort()
	port.Responses["Failing step"] = json.RawMessage(`{"steps": []}`)

	p := NewLLMPlanner(port)
	_, err := p.Replan(context.Background(), ReplanRequest{
		Failed: Step{ID: 1, Role: RoleStorywriter, Instruction: "outline"},
	})
	if !modelport.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
