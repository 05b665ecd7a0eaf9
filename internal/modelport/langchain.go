package modelport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// LangChainText adapts a langchaingo model to the structured half of the
// port. It forces JSON mode and validates the payload before handing it
// to the caller, so workers can unmarshal without guessing.
type LangChainText struct {
	Model       llms.Model
	Temperature float64
}

func NewLangChainText(model llms.Model) *LangChainText {
	return &LangChainText{Model: model, Temperature: 0.2}
}

func (l *LangChainText) GenerateStructured(ctx context.Context, spec PromptSpec) (json.RawMessage, error) {
	prompt := spec.Prompt
	if len(spec.Schema) > 0 {
		schema, err := json.Marshal(spec.Schema)
		if err != nil {
			return nil, fmt.Errorf("encode schema: %w", err)
		}
		prompt = fmt.Sprintf("%s\n\nRespond with a single JSON object matching this schema:\n%s", prompt, schema)
	}

	var messages []llms.MessageContent
	if spec.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, spec.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	resp, err := l.Model.GenerateContent(ctx, messages,
		llms.WithJSONMode(),
		llms.WithTemperature(l.Temperature),
	)
	if err != nil {
		return nil, Transient("generate_structured", err)
	}
	if len(resp.Choices) == 0 {
		return nil, Transient("generate_structured", fmt.Errorf("model returned no choices"))
	}

	payload := stripFences(resp.Choices[0].Content)
	if !json.Valid([]byte(payload)) {
		return nil, Transient("generate_structured", fmt.Errorf("model returned invalid JSON: %.120s", payload))
	}
	return json.RawMessage(payload), nil
}

// stripFences removes markdown code fences some models wrap around JSON
// even in JSON mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
