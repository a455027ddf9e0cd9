// Package genai defines the generative-AI provider abstraction and its
// concrete HTTP implementations. Providers turn a prompt into media; the
// generation service tries them in a configured order and retries each one
// identically, so adding a provider never touches lifecycle logic.
package genai

import (
	"context"
	"errors"
)

// ErrPolicyRejected indicates the provider refused the prompt on content
// policy grounds. Policy rejections are final: they are not retried and no
// fallback provider is consulted.
var ErrPolicyRejected = errors.New("content policy rejected")

// TransientError wraps a provider failure that is safe to retry (timeouts,
// 5xx-equivalent responses, rate limiting).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient provider error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (anywhere in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// OutputSpec configures the requested media.
type OutputSpec struct {
	// Size is a provider-mapped size hint, e.g. "landscape_4_3" or
	// "1024x1024".
	Size string
	// Format is the media format hint, e.g. "png".
	Format string
	// Seed pins generation for reproducibility when the provider supports
	// it; zero means provider default.
	Seed int64
}

// Media is a successful generation result: a retrievable reference to the
// produced bytes.
type Media struct {
	URL         string
	ContentType string
}

// Provider produces media from a prompt. Implementations classify their
// failures: ErrPolicyRejected for content refusals, TransientError for
// anything retryable, plain errors otherwise.
type Provider interface {
	// Name identifies the provider in logs and on the request record.
	Name() string
	// Generate produces media for the prompt. The context bounds the call.
	Generate(ctx context.Context, prompt string, spec OutputSpec) (*Media, error)
}
