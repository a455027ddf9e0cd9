// Package ipfs pins generated media to IPFS through a Pinata-style pinning
// service, so the minted asset references content-addressed storage instead
// of a provider CDN URL that may expire.
package ipfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Pinner pins media by source URL and returns a durable IPFS URI.
type Pinner interface {
	// PinByURL fetches the media at srcURL and pins it under fileName.
	// Returns an ipfs:// URI.
	PinByURL(ctx context.Context, srcURL, fileName string) (string, error)
}

// TransientError wraps a pinning failure that is safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient pin error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// HTTPPinner implements Pinner against a pinFileToIPFS-style endpoint.
type HTTPPinner struct {
	// Endpoint is the pin API, e.g.
	// "https://api.pinata.cloud/pinning/pinFileToIPFS".
	Endpoint string
	// Token is the bearer token.
	Token string
	// GroupID optionally assigns pins to a group.
	GroupID string
	HC      *http.Client
}

// NewHTTPPinner constructs a pinner with a bounded HTTP client.
func NewHTTPPinner(endpoint, token, groupID string, timeout time.Duration) *HTTPPinner {
	return &HTTPPinner{
		Endpoint: endpoint,
		Token:    token,
		GroupID:  groupID,
		HC:       &http.Client{Timeout: timeout},
	}
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// PinByURL implements Pinner. Both the media fetch and the pin upload are
// bounded by ctx and the client timeout; failures on either leg are
// transient (the media URL stays valid long enough to retry).
func (p *HTTPPinner) PinByURL(ctx context.Context, srcURL, fileName string) (string, error) {
	src, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", err
	}
	srcResp, err := p.HC.Do(src)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	defer srcResp.Body.Close()
	if srcResp.StatusCode != http.StatusOK {
		return "", &TransientError{Err: fmt.Errorf("fetch media: status %d", srcResp.StatusCode)}
	}

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, io.LimitReader(srcResp.Body, 32<<20)); err != nil {
		return "", &TransientError{Err: err}
	}
	if p.GroupID != "" {
		opts, _ := json.Marshal(map[string]string{"groupId": p.GroupID})
		if err := mw.WriteField("pinataOptions", string(opts)); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, strings.NewReader(buf.String()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.Token)

	resp, err := p.HC.Do(req)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", &TransientError{Err: fmt.Errorf("pin: status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pin: status %d: %s", resp.StatusCode, raw)
	}

	var out pinResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("pin: decode response: %w", err)
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("pin: response missing IpfsHash")
	}
	return "ipfs://" + out.IpfsHash, nil
}
