package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

// maxScrapeChars bounds the extracted article so research context stays
// inside the model's budget.
const maxScrapeChars = 50000

type ScraperTool struct {
	UserAgent string
}

func NewScraperTool() *ScraperTool {
	return &ScraperTool{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	}
}

func (s *ScraperTool) Name() string {
	return "scraper"
}

func (s *ScraperTool) Description() string {
	return "Fetch a webpage URL and extract the main content as clean, sanitized text."
}

func (s *ScraperTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The full URL of the webpage to scrape (e.g., https://example.com/article)",
			},
		},
		"required": []string{"url"},
	}
}

func (s *ScraperTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	req, err := http.NewRequestWithContext(ctx, "GET", args.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", s.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL: status code %d", resp.StatusCode)
	}

	parsedURL, err := url.Parse(args.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %v", err)
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse article: %v", err)
	}

	// Sanitize output (remove any remaining HTML tags or scripts)
	p := bluemonday.StrictPolicy()
	sanitized := p.Sanitize(article.TextContent)

	output := fmt.Sprintf("TITLE: %s\n", article.Title)
	if article.Excerpt != "" {
		output += fmt.Sprintf("EXCERPT: %s\n", article.Excerpt)
	}
	output += "\n-- CONTENT --\n"

	content := sanitized
	if len(content) > maxScrapeChars {
		content = content[:maxScrapeChars] + "\n... (content truncated) ..."
	}
	output += content

	return output, nil
}
