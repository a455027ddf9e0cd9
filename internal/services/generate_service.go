// Package services – GenerateService
//
// This file implements the ContentGenerator: an ordered chain of AI
// providers tried in sequence, each under the same bounded-retry policy, so
// a new provider is a config change rather than new lifecycle logic. The
// generated media is pinned to content-addressed storage before the request
// advances, so the mint never references an expiring provider URL.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-mint-node/internal/backoff"
	"github.com/tbourn/go-mint-node/internal/domain"
	"github.com/tbourn/go-mint-node/internal/genai"
	"github.com/tbourn/go-mint-node/internal/ipfs"
	"github.com/tbourn/go-mint-node/internal/repo"
)

// GenerateService produces and pins media for verified requests.
type GenerateService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Providers is the ordered strategy list; the first is primary.
	Providers []genai.Provider
	// Pinner stores the generated media durably.
	Pinner ipfs.Pinner
	// Spec is the configured output specification.
	Spec genai.OutputSpec
	// MaxAttempts bounds tries per provider per invocation.
	MaxAttempts int
	// CallTimeout bounds each provider call.
	CallTimeout time.Duration
	// Backoff paces retries.
	Backoff backoff.Config

	Log zerolog.Logger
}

// NewGenerateService constructs a GenerateService with sane defaults.
func NewGenerateService(db *gorm.DB, providers []genai.Provider, pinner ipfs.Pinner, log zerolog.Logger) *GenerateService {
	return &GenerateService{
		DB:          db,
		Providers:   providers,
		Pinner:      pinner,
		Spec:        genai.OutputSpec{Size: "landscape_4_3", Format: "png"},
		MaxAttempts: 3,
		CallTimeout: 2 * time.Minute,
		Backoff:     backoff.Default(),
		Log:         log,
	}
}

// Step runs generation for a request in PAYMENT_VERIFIED.
//
// Outcomes:
//   - success on any provider: PAYMENT_VERIFIED -> GENERATED with
//     media_uri and provider_used
//   - content-policy rejection from any provider: PAYMENT_VERIFIED ->
//     FAILED (ContentPolicyRejected); later providers are NOT consulted
//   - all providers exhausted: PAYMENT_VERIFIED -> FAILED
//     (ProviderUnavailable)
//   - pin failure after successful generation: returns the error with the
//     request left in PAYMENT_VERIFIED; the sweeper re-runs the step
func (s *GenerateService) Step(ctx context.Context, req *domain.Request) error {
	if req.State != domain.StatePaymentVerified {
		return ErrUnexpectedState
	}

	for _, provider := range s.Providers {
		for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
			cctx, cancel := context.WithTimeout(ctx, s.CallTimeout)
			media, err := provider.Generate(cctx, req.Prompt, s.Spec)
			cancel()

			switch {
			case err == nil:
				providerCalls.WithLabelValues(provider.Name(), "ok").Inc()
				uri, perr := s.pin(ctx, req, media)
				if perr != nil {
					s.Log.Warn().Err(perr).Str("request_id", req.ID).Msg("pin failed, step will be retried")
					return perr
				}
				s.Log.Info().Str("request_id", req.ID).
					Str("provider", provider.Name()).Str("media_uri", uri).
					Msg("media generated")
				return repo.TransitionState(ctx, s.DB, req.ID, domain.StatePaymentVerified, domain.StateGenerated,
					map[string]any{
						"media_uri":     uri,
						"provider_used": provider.Name(),
					})

			case errors.Is(err, genai.ErrPolicyRejected):
				providerCalls.WithLabelValues(provider.Name(), "policy_rejected").Inc()
				// Policy verdicts are final for the prompt, not the provider.
				s.Log.Info().Str("request_id", req.ID).Str("provider", provider.Name()).
					Msg("prompt rejected by content policy")
				return repo.TransitionState(ctx, s.DB, req.ID, domain.StatePaymentVerified, domain.StateFailed,
					map[string]any{"error_reason": domain.ReasonContentPolicyRejected})

			case genai.IsTransient(err):
				providerCalls.WithLabelValues(provider.Name(), "transient").Inc()
				s.Log.Warn().Err(err).Str("request_id", req.ID).
					Str("provider", provider.Name()).Int("attempt", attempt).
					Msg("provider call failed, retrying")
				if berr := repo.BumpAttempts(ctx, s.DB, req.ID, "generate_attempts"); berr != nil {
					return berr
				}
				if attempt < s.MaxAttempts {
					if berr := backoff.Sleep(ctx, attempt, s.Backoff); berr != nil {
						return berr
					}
				}

			default:
				providerCalls.WithLabelValues(provider.Name(), "error").Inc()
				// Unclassified provider failure: give up on this provider,
				// let the next one try.
				s.Log.Error().Err(err).Str("request_id", req.ID).
					Str("provider", provider.Name()).
					Msg("provider failed permanently")
				attempt = s.MaxAttempts
			}
		}
	}

	s.Log.Error().Str("request_id", req.ID).Msg("all providers exhausted")
	return repo.TransitionState(ctx, s.DB, req.ID, domain.StatePaymentVerified, domain.StateFailed,
		map[string]any{"error_reason": domain.ReasonProviderUnavailable})
}

// pin stores the media durably, retrying transient pin failures within the
// invocation.
func (s *GenerateService) pin(ctx context.Context, req *domain.Request, media *genai.Media) (string, error) {
	name := req.ID + "." + s.Spec.Format
	var lastErr error
	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, s.CallTimeout)
		uri, err := s.Pinner.PinByURL(cctx, media.URL, name)
		cancel()
		if err == nil {
			return uri, nil
		}
		lastErr = err
		var te *ipfs.TransientError
		if !errors.As(err, &te) {
			return "", err
		}
		if attempt < s.MaxAttempts {
			if berr := backoff.Sleep(ctx, attempt, s.Backoff); berr != nil {
				return "", berr
			}
		}
	}
	return "", lastErr
}
