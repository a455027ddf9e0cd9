// Package services – VerifyService
//
// This file implements the PaymentVerifier: it polls the ledger for a
// payment whose memo matches the request's payment reference and advances
// the request to PAYMENT_VERIFIED, or rejects it. One invocation performs a
// bounded poll cycle; if the request is still unresolved and inside its
// window the invocation returns cleanly and the recovery sweeper re-invokes
// later, so a crash mid-poll never loses the request and a restart never
// extends the window (the deadline is anchored to created_at).
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

// VerifyService confirms the payment that authorizes a request.
type VerifyService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Ledger performs the read-only payment lookup.
	Ledger ledger.PaymentFinder
	// MinAmount is the required payment amount.
	MinAmount float64
	// Window is how long after creation a payment may arrive.
	Window time.Duration
	// PollAttempts bounds lookups per invocation.
	PollAttempts int
	// Backoff paces polls within an invocation.
	Backoff backoff.Config
	// ResolveWallet maps a requester identity to its known wallet address.
	// The default treats the identity as the wallet itself, which is the
	// on-ledger ingest case.
	ResolveWallet func(identity string) string

	Log zerolog.Logger
}

// NewVerifyService constructs a VerifyService with sane defaults.
func NewVerifyService(db *gorm.DB, lc ledger.PaymentFinder, log zerolog.Logger) *VerifyService {
	return &VerifyService{
		DB:            db,
		Ledger:        lc,
		MinAmount:     1,
		Window:        30 * time.Minute,
		PollAttempts:  5,
		Backoff:       backoff.Default(),
		ResolveWallet: func(identity string) string { return identity },
		Log:           log,
	}
}

// Step runs one bounded verification cycle for a request in RECEIVED.
//
// Outcomes:
//   - payment found and valid: RECEIVED -> PAYMENT_VERIFIED
//   - payment found but wrong sender/amount: RECEIVED -> REJECTED
//     (PaymentInvalid)
//   - window expired with no match: RECEIVED -> REJECTED (PaymentNotFound)
//   - still unresolved inside the window: no transition; the sweeper
//     re-invokes after the staleness threshold
func (s *VerifyService) Step(ctx context.Context, req *domain.Request) error {
	if req.State != domain.StateReceived {
		return ErrUnexpectedState
	}
	deadline := req.CreatedAt.Add(s.Window)
	wallet := s.ResolveWallet(req.RequesterIdentity)

	for attempt := 1; attempt <= s.PollAttempts; attempt++ {
		p, err := s.Ledger.FindPayment(ctx, req.PaymentReference, s.Window)
		switch {
		case err == nil:
			if p.Sender != wallet || p.Amount < s.MinAmount {
				s.Log.Info().Str("request_id", req.ID).
					Str("sender", p.Sender).Float64("amount", p.Amount).
					Msg("payment found but invalid")
				return repo.TransitionState(ctx, s.DB, req.ID, domain.StateReceived, domain.StateRejected,
					map[string]any{"error_reason": domain.ReasonPaymentInvalid})
			}
			s.Log.Info().Str("request_id", req.ID).Str("tx_hash", p.TxHash).Msg("payment verified")
			return repo.TransitionState(ctx, s.DB, req.ID, domain.StateReceived, domain.StatePaymentVerified, nil)

		case errors.Is(err, ledger.ErrNoPayment):
			if time.Now().UTC().After(deadline) {
				s.Log.Info().Str("request_id", req.ID).Msg("payment window expired")
				return repo.TransitionState(ctx, s.DB, req.ID, domain.StateReceived, domain.StateRejected,
					map[string]any{"error_reason": domain.ReasonPaymentNotFound})
			}

		case ledger.IsTransient(err):
			s.Log.Warn().Err(err).Str("request_id", req.ID).Msg("payment lookup failed, retrying")

		default:
			// Permanent lookup failures leave the request in RECEIVED; the
			// window still bounds how long we keep trying overall.
			return err
		}

		if err := repo.BumpAttempts(ctx, s.DB, req.ID, "verify_attempts"); err != nil {
			return err
		}
		if attempt < s.PollAttempts {
			if err := backoff.Sleep(ctx, attempt, s.Backoff); err != nil {
				return err
			}
		}
	}
	return nil
}
