package modelport

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// MockPort is a deterministic, offline port used for end-to-end runs and
// tests without a model backend. Structured responses are canned per
// keyword; images are small deterministic byte blobs derived from the
// prompt and seed so consistency checks have something real to compare.
type MockPort struct {
	mu sync.Mutex

	// Responses maps a substring of the prompt to a canned JSON payload.
	// The first matching entry wins; no match returns an empty object.
	Responses map[string]json.RawMessage

	// ToolScript is consumed front-to-back, one turn per
	// GenerateWithTools call; once drained the mock answers with an
	// empty final turn.
	ToolScript []ToolTurn

	// Calls counts invocations per method, for assertions.
	StructuredCalls int
	ImageCalls      int
	ToolCalls       int

	// ImagePrompts records every image prompt, in call order.
	ImagePrompts []string

	// ToolRequests records every tool-calling request, in call order.
	ToolRequests []ToolRequest
}

func NewMockPort() *MockPort {
	return &MockPort{Responses: map[string]json.RawMessage{}}
}

func (m *MockPort) GenerateStructured(ctx context.Context, spec PromptSpec) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient("generate_structured", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StructuredCalls++
	for key, payload := range m.Responses {
		if key != "" && strings.Contains(spec.System+"\n"+spec.Prompt, key) {
			return payload, nil
		}
	}
	return json.RawMessage(`{}`), nil
}

func (m *MockPort) GenerateImage(ctx context.Context, spec ImageSpec) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient("generate_image", err)
	}
	m.mu.Lock()
	m.ImageCalls++
	m.ImagePrompts = append(m.ImagePrompts, spec.Prompt)
	m.mu.Unlock()

	var seed int64
	if spec.Seed != nil {
		seed = *spec.Seed
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%d", spec.Prompt, seed, len(spec.Reference)))
	return sum[:], nil
}

func (m *MockPort) GenerateWithTools(ctx context.Context, req ToolRequest) (ToolTurn, error) {
	if err := ctx.Err(); err != nil {
		return ToolTurn{}, Transient("generate_with_tools", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ToolCalls++
	m.ToolRequests = append(m.ToolRequests, req)
	if len(m.ToolScript) == 0 {
		return ToolTurn{}, nil
	}
	turn := m.ToolScript[0]
	m.ToolScript = m.ToolScript[1:]
	return turn, nil
}
