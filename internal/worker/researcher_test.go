package worker

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/akira/slidesmith/internal/governance"
	"github.com/akira/slidesmith/internal/modelport"
	"github.com/akira/slidesmith/internal/plan"
	"github.com/akira/slidesmith/internal/session"
	"github.com/akira/slidesmith/internal/tools"
)

// fakeTool is a scriptable registry entry that records its inputs.
type fakeTool struct {
	name   string
	output string
	calls  int
	inputs []string
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake " + f.name }
func (f *fakeTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
	}
}
func (f *fakeTool) Execute(ctx context.Context, input string) (string, error) {
	f.calls++
	f.inputs = append(f.inputs, input)
	return f.output, nil
}

func newResearchRegistry(entries ...*fakeTool) *tools.Registry {
	reg := tools.NewRegistry()
	for _, e := range entries {
		reg.Register(e)
	}
	return reg
}

func TestResearcher_ModelDrivesToolsIntoReport(t *testing.T) {
	search := &fakeTool{name: "search", output: "bee-facts.example.org says bees pollinate a third of crops"}
	scrape := &fakeTool{name: "scrape", output: "full article: pollination supports 75% of food crops"}

	port := modelport.NewMockPort()
	port.ToolScript = []modelport.ToolTurn{
		{Calls: []modelport.ToolCall{{ID: "c1", Name: "search", Arguments: `{"query":"bee pollination share"}`}}},
		{Calls: []modelport.ToolCall{{ID: "c2", Name: "scrape", Arguments: `{"url":"https://bee-facts.example.org"}`}}},
		{Content: "Bees pollinate roughly a third of food crops (bee-facts.example.org)."},
	}
	// The canned report only matches when the scraped evidence made it
	// into the final prompt.
	port.Responses["pollination supports 75% of food crops"] = json.RawMessage(`{
		"summary": "Bees pollinate a large share of food crops.",
		"findings": [{"claim": "75% of food crops depend on pollinators", "source": "https://bee-facts.example.org"}]
	}`)

	r := &Researcher{
		Port:     port,
		Tools:    port,
		Prompts:  NewPromptManager(""),
		Registry: newResearchRegistry(search, scrape),
	}
	got, err := r.Produce(context.Background(), Request{
		Step:      plan.Step{ID: 1, Role: plan.RoleResearcher, Instruction: "research bee pollination"},
		SessionID: "sess-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "step-1-research" || got.Type != session.ArtifactReport {
		t.Fatalf("artifact = %+v", got)
	}

	if search.calls != 1 || scrape.calls != 1 {
		t.Fatalf("tool calls: search=%d scrape=%d, want 1 each", search.calls, scrape.calls)
	}
	if search.inputs[0] != `{"query":"bee pollination share"}` {
		t.Errorf("search input = %s", search.inputs[0])
	}

	var report ResearchReport
	if err := json.Unmarshal(got.Content, &report); err != nil {
		t.Fatal(err)
	}
	if len(report.Findings) != 1 || report.Findings[0].Source != "https://bee-facts.example.org" {
		t.Fatalf("report = %+v", report)
	}
}

func TestResearcher_OffersEveryRegisteredTool(t *testing.T) {
	search := &fakeTool{name: "search", output: "x"}
	scrape := &fakeTool{name: "scrape", output: "y"}
	render := &fakeTool{name: "render", output: "z"}

	port := modelport.NewMockPort()
	port.ToolScript = []modelport.ToolTurn{{Content: "nothing to look up"}}
	port.Responses["nothing to look up"] = json.RawMessage(`{"summary": "s", "findings": []}`)

	r := &Researcher{
		Port:     port,
		Tools:    port,
		Prompts:  NewPromptManager(""),
		Registry: newResearchRegistry(search, scrape, render),
	}
	if _, err := r.Produce(context.Background(), Request{
		Step: plan.Step{ID: 1, Role: plan.RoleResearcher, Instruction: "research"},
	}); err != nil {
		t.Fatal(err)
	}

	if len(port.ToolRequests) != 1 {
		t.Fatalf("tool turns = %d, want 1", len(port.ToolRequests))
	}
	var names []string
	for _, def := range port.ToolRequests[0].Tools {
		names = append(names, def.Name)
		if def.Parameters == nil {
			t.Errorf("tool %s offered without its parameter schema", def.Name)
		}
	}
	want := []string{"render", "scrape", "search"} // name order
	if len(names) != len(want) {
		t.Fatalf("offered tools = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("offered tools = %v, want %v", names, want)
		}
	}
}

func TestResearcher_DenialFedBackAsToolResult(t *testing.T) {
	scrape := &fakeTool{name: "scrape", output: "never"}

	policy := governance.NewDefaultPolicyEngine()
	policy.DenyTool("scrape")

	port := modelport.NewMockPort()
	port.ToolScript = []modelport.ToolTurn{
		{Calls: []modelport.ToolCall{{ID: "c1", Name: "scrape", Arguments: `{"url":"https://example.org"}`}}},
		{Content: "answering without the page"},
	}
	port.Responses["research"] = json.RawMessage(`{"summary": "s", "findings": []}`)

	r := &Researcher{
		Port:     port,
		Tools:    port,
		Prompts:  NewPromptManager(""),
		Registry: newResearchRegistry(scrape),
		Policy:   policy,
	}
	if _, err := r.Produce(context.Background(), Request{
		Step:      plan.Step{ID: 1, Role: plan.RoleResearcher, Instruction: "research the page"},
		SessionID: "sess-1",
	}); err != nil {
		t.Fatal(err)
	}

	if scrape.calls != 0 {
		t.Fatalf("denied tool executed %d times", scrape.calls)
	}
	// The model's second turn sees the denial as the call's result.
	if len(port.ToolRequests) != 2 {
		t.Fatalf("tool turns = %d, want 2", len(port.ToolRequests))
	}
	steps := port.ToolRequests[1].Steps
	if len(steps) != 1 || !strings.Contains(steps[0].Result, "denied") {
		t.Fatalf("steps = %+v, want a denial result", steps)
	}
}

func TestResearcher_TurnCapStopsRunawayLoops(t *testing.T) {
	search := &fakeTool{name: "search", output: "more results"}

	port := modelport.NewMockPort()
	// The script never yields a final answer.
	for i := 0; i < 10; i++ {
		port.ToolScript = append(port.ToolScript, modelport.ToolTurn{
			Calls: []modelport.ToolCall{{ID: "c", Name: "search", Arguments: `{"query":"again"}`}},
		})
	}
	port.Responses["research"] = json.RawMessage(`{"summary": "s", "findings": []}`)

	r := &Researcher{
		Port:     port,
		Tools:    port,
		Prompts:  NewPromptManager(""),
		Registry: newResearchRegistry(search),
		MaxTurns: 3,
	}
	if _, err := r.Produce(context.Background(), Request{
		Step: plan.Step{ID: 1, Role: plan.RoleResearcher, Instruction: "research forever"},
	}); err != nil {
		t.Fatal(err)
	}
	if port.ToolCalls != 3 {
		t.Errorf("model turns = %d, want 3", port.ToolCalls)
	}
	if search.calls != 3 {
		t.Errorf("tool calls = %d, want 3", search.calls)
	}
}
