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

// OpenAIProvider calls the OpenAI images API. It serves as the fallback
// provider in the default configuration.
type OpenAIProvider struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string
	APIKey  string
	// Model selects the image model, e.g. "dall-e-3".
	Model string
	HC    *http.Client
}

// NewOpenAIProvider constructs an OpenAI provider with a bounded HTTP
// client.
func NewOpenAIProvider(baseURL, apiKey, model string, timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		HC:      &http.Client{Timeout: timeout},
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

type openaiRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type openaiResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, spec OutputSpec) (*Media, error) {
	body, err := json.Marshal(openaiRequest{
		Model:          p.Model,
		Prompt:         prompt,
		N:              1,
		Size:           mapSize(spec.Size),
		ResponseFormat: "url",
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.HC.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out openaiResponse
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransientError{Err: fmt.Errorf("openai status %d", resp.StatusCode)}
	default:
		if out.Error != nil && out.Error.Code == "content_policy_violation" {
			return nil, ErrPolicyRejected
		}
		return nil, fmt.Errorf("openai status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	if len(out.Data) == 0 {
		return nil, &TransientError{Err: fmt.Errorf("openai: empty data list")}
	}
	return &Media{URL: out.Data[0].URL, ContentType: "image/png"}, nil
}

// mapSize translates the fal-style size hint to OpenAI's WxH format. The
// hint is passed through when it already looks like a dimension pair.
func mapSize(size string) string {
	switch size {
	case "landscape_4_3", "landscape_16_9":
		return "1792x1024"
	case "portrait_4_3", "portrait_16_9":
		return "1024x1792"
	case "square", "square_hd", "":
		return "1024x1024"
	}
	return size
}
