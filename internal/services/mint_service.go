// Package services – MintService
//
// This file implements the Minter. Minting is the one pipeline step with a
// non-idempotent external effect, so it is wrapped in a reserve-then-submit
// protocol: the submission log row is reserved before the ledger call and
// completed after it. On recovery, a reserved-but-incomplete row means "a
// predecessor may have submitted"; the ledger is consulted under the
// idempotency key (the request id) before anything is resubmitted. Together
// with the ledger's own idempotency-key handling this yields at most one
// mint per request, regardless of crashes, retries, or sweeper races.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-mint-node/internal/backoff"
	"github.com/tbourn/go-mint-node/internal/domain"
	"github.com/tbourn/go-mint-node/internal/ledger"
	"github.com/tbourn/go-mint-node/internal/repo"
)

// MintService records generated assets on the ledger.
type MintService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Ledger performs mint submission and lookup.
	Ledger ledger.Minter
	// MaxAttempts bounds submissions per invocation.
	MaxAttempts int
	// MaxTotalAttempts bounds submissions across all invocations; past it
	// the request fails permanently. Operator-configured.
	MaxTotalAttempts int
	// CallTimeout bounds each ledger call.
	CallTimeout time.Duration
	// Backoff paces retries.
	Backoff backoff.Config

	Log zerolog.Logger
}

// NewMintService constructs a MintService with sane defaults.
func NewMintService(db *gorm.DB, lc ledger.Minter, log zerolog.Logger) *MintService {
	return &MintService{
		DB:               db,
		Ledger:           lc,
		MaxAttempts:      3,
		MaxTotalAttempts: 12,
		CallTimeout:      time.Minute,
		Backoff:          backoff.Default(),
		Log:              log,
	}
}

// Step runs minting for a request in GENERATED or MINT_FAILED.
//
// Outcomes:
//   - mint succeeds (or the key was already minted): -> MINTED with
//     asset_reference
//   - transient failures exhaust this invocation's budget: GENERATED ->
//     MINT_FAILED (left for the sweeper), or FAILED (MintPermanent) once
//     total attempts pass the operator maximum
//   - permanent ledger failure: -> FAILED (MintPermanent)
func (s *MintService) Step(ctx context.Context, req *domain.Request) error {
	from := req.State
	if from != domain.StateGenerated && from != domain.StateMintFailed {
		return ErrUnexpectedState
	}

	sub, err := repo.ReserveMint(ctx, s.DB, req.ID)
	if errors.Is(err, repo.ErrDuplicate) {
		if sub.Completed() {
			// A predecessor finished the mint but crashed before the state
			// update. Adopt its result.
			s.Log.Info().Str("request_id", req.ID).Msg("adopting completed mint submission")
			return s.finalize(ctx, req.ID, from, sub.AssetReference)
		}
		// Reserved but incomplete: the ledger call may or may not have
		// happened. Ask the ledger before resubmitting.
		cctx, cancel := context.WithTimeout(ctx, s.CallTimeout)
		res, lerr := s.Ledger.LookupMint(cctx, req.ID)
		cancel()
		switch {
		case lerr == nil:
			if cerr := repo.CompleteMint(ctx, s.DB, req.ID, res.AssetReference, res.TxHash); cerr != nil {
				return cerr
			}
			s.Log.Info().Str("request_id", req.ID).Str("asset", res.AssetReference).
				Msg("mint found on ledger, adopting")
			return s.finalize(ctx, req.ID, from, res.AssetReference)
		case errors.Is(lerr, ledger.ErrNoMint):
			// Nothing landed; safe to submit below.
		default:
			// Can't tell; leave state untouched and let the sweeper retry.
			return lerr
		}
	} else if err != nil {
		return err
	}

	meta := ledger.MintMetadata{
		MediaURI:  req.MediaURI,
		Prompt:    req.Prompt,
		Recipient: req.RequesterIdentity,
	}
	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, s.CallTimeout)
		res, err := s.Ledger.SubmitMint(cctx, req.ID, meta)
		cancel()

		switch {
		case err == nil:
			if res.AlreadyMinted {
				mintSubmissions.WithLabelValues("replayed").Inc()
				s.Log.Info().Str("request_id", req.ID).Msg("ledger reports key already minted")
			} else {
				mintSubmissions.WithLabelValues("minted").Inc()
			}
			if cerr := repo.CompleteMint(ctx, s.DB, req.ID, res.AssetReference, res.TxHash); cerr != nil {
				return cerr
			}
			s.Log.Info().Str("request_id", req.ID).Str("asset", res.AssetReference).Msg("mint recorded")
			return s.finalize(ctx, req.ID, from, res.AssetReference)

		case ledger.IsTransient(err):
			mintSubmissions.WithLabelValues("transient").Inc()
			s.Log.Warn().Err(err).Str("request_id", req.ID).Int("attempt", attempt).
				Msg("mint submission failed, retrying")
			if berr := repo.BumpAttempts(ctx, s.DB, req.ID, "mint_attempts"); berr != nil {
				return berr
			}
			if attempt < s.MaxAttempts {
				if berr := backoff.Sleep(ctx, attempt, s.Backoff); berr != nil {
					return berr
				}
			}

		default:
			mintSubmissions.WithLabelValues("permanent").Inc()
			s.Log.Error().Err(err).Str("request_id", req.ID).Msg("mint failed permanently")
			return repo.TransitionState(ctx, s.DB, req.ID, from, domain.StateFailed,
				map[string]any{"error_reason": domain.ReasonMintPermanent})
		}
	}

	// Transient budget for this invocation exhausted; decide between the
	// recoverable sub-state and permanent failure on the total counter.
	fresh, gerr := repo.GetRequest(ctx, s.DB, req.ID)
	if gerr != nil {
		return gerr
	}
	if s.MaxTotalAttempts > 0 && fresh.MintAttempts >= s.MaxTotalAttempts {
		s.Log.Error().Str("request_id", req.ID).Int("attempts", fresh.MintAttempts).
			Msg("mint attempts exhausted")
		return repo.TransitionState(ctx, s.DB, req.ID, from, domain.StateFailed,
			map[string]any{"error_reason": domain.ReasonMintPermanent})
	}
	if from == domain.StateGenerated {
		return repo.TransitionState(ctx, s.DB, req.ID, domain.StateGenerated, domain.StateMintFailed, nil)
	}
	// Already MINT_FAILED; attempts were bumped, the sweeper will be back.
	return nil
}

// finalize advances the request to MINTED with the asset reference.
func (s *MintService) finalize(ctx context.Context, id string, from domain.State, assetRef string) error {
	return repo.TransitionState(ctx, s.DB, id, from, domain.StateMinted,
		map[string]any{"asset_reference": assetRef})
}
