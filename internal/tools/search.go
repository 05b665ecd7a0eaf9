package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/tools/duckduckgo"
)

// maxSearchChars bounds one search result so a long result page cannot
// crowd the evidence out of the research context.
const maxSearchChars = 8000

type SearchTool struct {
	client *duckduckgo.Tool
}

func NewSearchTool() (*SearchTool, error) {
	ddg, err := duckduckgo.New(10, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return &SearchTool{client: ddg}, nil
}

func (s *SearchTool) Name() string {
	return "search"
}

func (s *SearchTool) Description() string {
	return "Search the web using DuckDuckGo for facts, figures and sources to ground slide content."
}

func (s *SearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query to look up",
			},
		},
		"required": []string{"query"},
	}
}

func (s *SearchTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return "", fmt.Errorf("empty search query")
	}

	res, err := s.client.Call(ctx, args.Query)
	if err != nil {
		return "", fmt.Errorf("search %q failed: %w", args.Query, err)
	}
	res = strings.TrimSpace(res)
	if res == "" {
		return fmt.Sprintf("No results for %q. Try a different phrasing.", args.Query), nil
	}
	if len(res) > maxSearchChars {
		res = res[:maxSearchChars] + "\n[truncated]"
	}
	// Frame results so downstream claims carry their source URLs.
	return fmt.Sprintf("Results for %q (cite the source URL for any claim you use):\n%s", args.Query, res), nil
}
