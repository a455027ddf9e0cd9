// Package messaging models the boundary with the messaging platform the
// node serves. Inbound events arrive through the HTTP webhook (see
// internal/http); this package defines the event shape and the outbound
// delivery client that returns outcomes to requesters.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tbourn/go-mint-node/internal/domain"
)

// InboundEvent is a messaging event carrying a generation request.
type InboundEvent struct {
	RequesterIdentity string   `json:"requester_identity" binding:"required"`
	Prompt            string   `json:"prompt" binding:"required"`
	PaymentReference  string   `json:"payment_reference" binding:"required"`
	Attachments       []string `json:"attachments,omitempty"`
}

// Outcome is the final result delivered back to a requester: either the
// minted asset or a failure reason.
type Outcome struct {
	RequestID         string        `json:"request_id"`
	RequesterIdentity string        `json:"requester_identity"`
	Success           bool          `json:"success"`
	AssetReference    string        `json:"asset_reference,omitempty"`
	MediaURI          string        `json:"media_uri,omitempty"`
	ProviderUsed      string        `json:"provider_used,omitempty"`
	Reason            domain.Reason `json:"reason,omitempty"`
	Message           string        `json:"message"`
}

// Client delivers outcomes over the messaging transport.
type Client interface {
	Deliver(ctx context.Context, o Outcome) error
}

// WebhookClient posts outcomes as JSON to the messaging bridge (the
// platform-specific bot process that owns the gateway connection).
type WebhookClient struct {
	// URL is the bridge's delivery endpoint.
	URL string
	// Token is sent as a bearer token.
	Token string
	HC    *http.Client
}

// NewWebhookClient constructs a delivery client with a bounded HTTP client.
func NewWebhookClient(url, token string, timeout time.Duration) *WebhookClient {
	return &WebhookClient{URL: url, Token: token, HC: &http.Client{Timeout: timeout}}
}

// Deliver implements Client. Any non-2xx response is an error; the caller
// decides whether delivery is retried (success outcomes) or abandoned
// (failure notices).
func (c *WebhookClient) Deliver(ctx context.Context, o Outcome) error {
	body, err := json.Marshal(o)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HC.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver outcome: bridge status %d", resp.StatusCode)
	}
	return nil
}
