package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FalProvider calls a fal.ai-style model endpoint (flux family). It is the
// primary provider in the default configuration.
type FalProvider struct {
	// BaseURL is the model endpoint, e.g.
	// "https://fal.run/fal-ai/flux/dev".
	BaseURL string
	// APIKey is sent as "Authorization: Key <APIKey>".
	APIKey string
	HC     *http.Client
}

// NewFalProvider constructs a fal provider with a bounded HTTP client.
func NewFalProvider(baseURL, apiKey string, timeout time.Duration) *FalProvider {
	return &FalProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HC:      &http.Client{Timeout: timeout},
	}
}

// Name implements Provider.
func (p *FalProvider) Name() string { return "fal" }

type falRequest struct {
	Prompt    string `json:"prompt"`
	ImageSize string `json:"image_size,omitempty"`
	NumImages int    `json:"num_images"`
	Seed      int64  `json:"seed,omitempty"`
}

type falResponse struct {
	Images []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"images"`
	Detail string `json:"detail"`
}

// Generate implements Provider.
func (p *FalProvider) Generate(ctx context.Context, prompt string, spec OutputSpec) (*Media, error) {
	body, err := json.Marshal(falRequest{
		Prompt:    prompt,
		ImageSize: spec.Size,
		NumImages: 1,
		Seed:      spec.Seed,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+p.APIKey)

	resp, err := p.HC.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransientError{Err: fmt.Errorf("fal status %d", resp.StatusCode)}
	default:
		// fal reports NSFW/content refusals as 4xx with a detail string.
		if strings.Contains(strings.ToLower(string(raw)), "content policy") ||
			strings.Contains(strings.ToLower(string(raw)), "nsfw") {
			return nil, ErrPolicyRejected
		}
		return nil, fmt.Errorf("fal status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var out falResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("fal: decode response: %w", err)
	}
	if len(out.Images) == 0 {
		return nil, &TransientError{Err: fmt.Errorf("fal: empty image list")}
	}
	return &Media{URL: out.Images[0].URL, ContentType: out.Images[0].ContentType}, nil
}

// truncate clips a response body for error messages.
func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "…"
	}
	return string(b)
}
