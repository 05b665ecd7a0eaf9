package modelport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxImageResponse caps the image API response body.
const maxImageResponse = 32 * 1024 * 1024 // 32MB

// ImageClient is a thin HTTP wrapper around an image generation endpoint
// (Vertex-style predict API). The reference image, when present, is sent
// as a base64 conditioning input so every slide shares the anchor style.
type ImageClient struct {
	Endpoint  string
	APIKey    string
	Model     string
	UserAgent string
	client    *http.Client
}

func NewImageClient(endpoint, apiKey, model string) *ImageClient {
	return &ImageClient{
		Endpoint:  endpoint,
		APIKey:    apiKey,
		Model:     model,
		UserAgent: "slidesmith/1.0",
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Seed           *int64 `json:"seed,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	ReferenceImage string `json:"reference_image,omitempty"` // base64 PNG
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64 string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *ImageClient) GenerateImage(ctx context.Context, spec ImageSpec) ([]byte, error) {
	body := imageRequest{
		Model:          c.Model,
		Prompt:         spec.Prompt,
		Seed:           spec.Seed,
		AspectRatio:    spec.AspectRatio,
		ResponseFormat: "b64_json",
	}
	if len(spec.Reference) > 0 {
		body.ReferenceImage = base64.StdEncoding.EncodeToString(spec.Reference)
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.UserAgent)
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, Transient("generate_image", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxImageResponse))
	if err != nil {
		return nil, Transient("generate_image", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, Transient("generate_image", fmt.Errorf("status %d: %.200s", resp.StatusCode, raw))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image backend rejected request: status %d: %.200s", resp.StatusCode, raw)
	}

	var parsed imageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, Transient("generate_image", fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("image backend error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].B64 == "" {
		return nil, Transient("generate_image", fmt.Errorf("no image data in response"))
	}
	image, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64)
	if err != nil {
		return nil, Transient("generate_image", fmt.Errorf("decode image payload: %w", err))
	}
	return image, nil
}
