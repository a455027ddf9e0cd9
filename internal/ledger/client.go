// Package ledger provides the client for the distributed ledger gateway:
// read-only payment lookups by memo and mint submissions under an
// idempotency key. The gateway is an XRPL-style JSON-RPC endpoint that owns
// the node wallet and signs transactions; key material never reaches this
// process.
//
// Error classification matters more than error detail here. Callers retry
// only what the ledger says is retryable:
//
//   - ErrNoPayment / ErrNoMint: definitive empty results, not failures.
//   - TransientError: timeouts, 5xx/429 responses, network errors, and
//     retryable engine results. Retried with backoff by the owning service.
//   - anything else: permanent; the service escalates to a terminal state.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNoPayment is returned by FindPayment when no ledger transaction
// matches the memo within the lookup window.
var ErrNoPayment = errors.New("no matching payment")

// ErrNoMint is returned by LookupMint when nothing has been minted under
// the idempotency key.
var ErrNoMint = errors.New("no mint under key")

// TransientError wraps a failure that is safe and sensible to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient ledger error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (anywhere in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Payment is a ledger transaction observed against the node account.
type Payment struct {
	Sender      string    `json:"sender"`
	Memo        string    `json:"memo"`
	Amount      float64   `json:"amount"`
	TxHash      string    `json:"tx_hash"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// MintMetadata describes the asset being minted.
type MintMetadata struct {
	MediaURI  string `json:"media_uri"`
	Prompt    string `json:"prompt"`
	Recipient string `json:"recipient"`
}

// MintResult is the outcome of a mint submission or lookup.
type MintResult struct {
	AssetReference string `json:"asset_reference"`
	TxHash         string `json:"tx_hash"`
	AlreadyMinted  bool   `json:"already_minted"`
}

// PaymentFinder is the read-only slice of the client used by payment
// verification.
type PaymentFinder interface {
	// FindPayment returns the payment to the node account whose memo equals
	// memo, observed within the trailing window. ErrNoPayment when none.
	FindPayment(ctx context.Context, memo string, window time.Duration) (*Payment, error)
}

// Minter is the submission slice of the client used by minting.
type Minter interface {
	// SubmitMint records the asset on the ledger under the idempotency key.
	// Submitting an already-minted key is success: the existing result comes
	// back with AlreadyMinted set.
	SubmitMint(ctx context.Context, idempotencyKey string, meta MintMetadata) (*MintResult, error)

	// LookupMint returns the existing mint under the key, or ErrNoMint.
	LookupMint(ctx context.Context, idempotencyKey string) (*MintResult, error)
}

// Client is the full gateway surface.
type Client interface {
	PaymentFinder
	Minter
}

// HTTPClient talks JSON-RPC to the ledger gateway.
type HTTPClient struct {
	// BaseURL is the gateway RPC endpoint, e.g. "https://gateway:5005/rpc".
	BaseURL string
	// Account is the node's ledger account; lookups are scoped to it.
	Account string
	// HC is the underlying HTTP client. Callers should set a Timeout.
	HC *http.Client
}

// NewHTTPClient constructs a gateway client with a bounded-call HTTP client.
func NewHTTPClient(baseURL, account string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Account: account,
		HC:      &http.Client{Timeout: timeout},
	}
}

// rpcRequest is the XRPL-style envelope: a method and a single params
// object.
type rpcRequest struct {
	Method string         `json:"method"`
	Params []map[string]any `json:"params"`
}

// rpcResult is the common result envelope. Status is "success" or "error";
// EngineResult carries the ledger engine code for submissions.
type rpcResult struct {
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	EngineResult string          `json:"engine_result,omitempty"`
	Payment      *Payment        `json:"payment,omitempty"`
	Mint         *MintResult     `json:"mint,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

type rpcEnvelope struct {
	Result rpcResult `json:"result"`
}

// FindPayment implements PaymentFinder. The query is read-only and safely
// retryable; transport-level failures come back as TransientError.
func (c *HTTPClient) FindPayment(ctx context.Context, memo string, window time.Duration) (*Payment, error) {
	res, err := c.call(ctx, "payment_lookup", map[string]any{
		"account":        c.Account,
		"memo":           memo,
		"window_seconds": int(window / time.Second),
	})
	if err != nil {
		return nil, err
	}
	if res.Payment == nil {
		return nil, ErrNoPayment
	}
	return res.Payment, nil
}

// SubmitMint implements Minter.
func (c *HTTPClient) SubmitMint(ctx context.Context, idempotencyKey string, meta MintMetadata) (*MintResult, error) {
	res, err := c.call(ctx, "mint_submit", map[string]any{
		"account":         c.Account,
		"idempotency_key": idempotencyKey,
		"media_uri":       meta.MediaURI,
		"prompt":          meta.Prompt,
		"recipient":       meta.Recipient,
	})
	if err != nil {
		return nil, err
	}
	if res.Mint == nil {
		return nil, &TransientError{Err: errors.New("gateway returned success without a mint result")}
	}
	return res.Mint, nil
}

// LookupMint implements Minter.
func (c *HTTPClient) LookupMint(ctx context.Context, idempotencyKey string) (*MintResult, error) {
	res, err := c.call(ctx, "mint_lookup", map[string]any{
		"account":         c.Account,
		"idempotency_key": idempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	if res.Mint == nil {
		return nil, ErrNoMint
	}
	return res.Mint, nil
}

// call performs one JSON-RPC round trip and classifies the outcome.
func (c *HTTPClient) call(ctx context.Context, method string, params map[string]any) (*rpcResult, error) {
	body, err := json.Marshal(rpcRequest{Method: method, Params: []map[string]any{params}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HC.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable.
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &TransientError{Err: fmt.Errorf("%s: gateway status %d", method, resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: gateway status %d", method, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	var env rpcEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}

	if env.Result.Status != "success" {
		err := fmt.Errorf("%s: %s (%s)", method, env.Result.ErrorMessage, env.Result.EngineResult)
		if retryableEngineResult(env.Result.EngineResult) {
			return nil, &TransientError{Err: err}
		}
		return nil, err
	}
	return &env.Result, nil
}

// retryableEngineResult classifies ledger engine codes. "tel" (local) and
// "ter" (retry) class codes mean the same transaction may succeed later;
// "tem" (malformed) and "tec" (claimed-fee failure) codes are final.
func retryableEngineResult(code string) bool {
	return strings.HasPrefix(code, "tel") || strings.HasPrefix(code, "ter")
}
