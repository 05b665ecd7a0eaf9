package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// RenderTool fetches JS-heavy pages the plain scraper cannot read by
// rendering them in a headless browser and returning the visible text.
type RenderTool struct {
	Timeout time.Duration
}

func NewRenderTool() *RenderTool {
	return &RenderTool{Timeout: 45 * time.Second}
}

func (r *RenderTool) Name() string {
	return "render"
}

func (r *RenderTool) Description() string {
	return "Render a JavaScript-heavy webpage in a headless browser and extract its visible text. Use only when 'scraper' returns empty or broken content."
}

func (r *RenderTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The full URL of the page to render",
			},
			"wait_seconds": map[string]any{
				"type":        "integer",
				"description": "Extra seconds to wait for dynamic content (default 2, max 10)",
			},
		},
		"required": []string{"url"},
	}
}

func (r *RenderTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		URL         string `json:"url"`
		WaitSeconds int    `json:"wait_seconds"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	if args.WaitSeconds <= 0 {
		args.WaitSeconds = 2
	}
	if args.WaitSeconds > 10 {
		args.WaitSeconds = 10
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	var text string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(args.URL),
		chromedp.Sleep(time.Duration(args.WaitSeconds)*time.Second),
		chromedp.Text("body", &text, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("failed to render page: %w", err)
	}

	if len(text) > maxScrapeChars {
		text = text[:maxScrapeChars] + "\n... (content truncated) ..."
	}
	return text, nil
}
