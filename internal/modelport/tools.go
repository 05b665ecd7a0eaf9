package modelport

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// ToolDef describes one callable capability offered to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema for the tool's inputs
}

// ToolCall is the model asking for one tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded per the tool's schema
}

// ToolStep pairs a call with the result the caller fed back.
type ToolStep struct {
	Call   ToolCall
	Result string
}

// ToolRequest is one turn of a tool-using conversation: the task, the
// available tools, and every call/result exchanged so far.
type ToolRequest struct {
	System string
	Prompt string
	Tools  []ToolDef
	Steps  []ToolStep
}

// ToolTurn is the model's reply: either more tool calls or a final
// text answer.
type ToolTurn struct {
	Content string
	Calls   []ToolCall
}

// ToolCaller is the tool-using capability. It is injected separately
// from Port because only workers that drive tools need it.
type ToolCaller interface {
	GenerateWithTools(ctx context.Context, req ToolRequest) (ToolTurn, error)
}

// GenerateWithTools runs one turn of the tool conversation against the
// langchaingo model, replaying the prior call/result exchange so the
// model sees its own decisions.
func (l *LangChainText) GenerateWithTools(ctx context.Context, req ToolRequest) (ToolTurn, error) {
	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	for _, step := range req.Steps {
		messages = append(messages, llms.MessageContent{
			Role: llms.ChatMessageTypeAI,
			Parts: []llms.ContentPart{llms.ToolCall{
				ID:   step.Call.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      step.Call.Name,
					Arguments: step.Call.Arguments,
				},
			}},
		})
		messages = append(messages, llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{llms.ToolCallResponse{
				ToolCallID: step.Call.ID,
				Name:       step.Call.Name,
				Content:    step.Result,
			}},
		})
	}

	var llmTools []llms.Tool
	for _, t := range req.Tools {
		llmTools = append(llmTools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := l.Model.GenerateContent(ctx, messages,
		llms.WithTools(llmTools),
		llms.WithTemperature(l.Temperature),
	)
	if err != nil {
		return ToolTurn{}, Transient("generate_with_tools", err)
	}
	if len(resp.Choices) == 0 {
		return ToolTurn{}, Transient("generate_with_tools", fmt.Errorf("model returned no choices"))
	}

	choice := resp.Choices[0]
	turn := ToolTurn{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		turn.Calls = append(turn.Calls, ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		})
	}
	return turn, nil
}
