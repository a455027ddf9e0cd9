package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-mint-node/internal/domain"
	"github.com/tbourn/go-mint-node/internal/messaging"
	"github.com/tbourn/go-mint-node/internal/repo"
)

// DispatchService delivers pipeline outcomes back to the requester's
// messaging channel. Success delivery is the DELIVERED transition and is
// retried until it sticks; failure notices are best-effort and attempted
// exactly once.
type DispatchService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Messenger sends outcome messages.
	Messenger messaging.Client
	// Formatter renders human-readable outcome text.
	Formatter *messaging.Formatter
	// CallTimeout bounds each delivery call.
	CallTimeout time.Duration

	Log zerolog.Logger
}

// NewDispatchService constructs a DispatchService with sane defaults.
func NewDispatchService(db *gorm.DB, mc messaging.Client, fm *messaging.Formatter, log zerolog.Logger) *DispatchService {
	return &DispatchService{
		DB:          db,
		Messenger:   mc,
		Formatter:   fm,
		CallTimeout: 30 * time.Second,
		Log:         log,
	}
}

// DeliverResult sends the success outcome for a MINTED request and advances
// it to DELIVERED. A failed send leaves the request in MINTED; the sweeper
// will pick it up again, and the requester may receive the notice more than
// once. Duplicate notices are acceptable, lost ones are not.
func (s *DispatchService) DeliverResult(ctx context.Context, req *domain.Request) error {
	if req.State != domain.StateMinted {
		return ErrUnexpectedState
	}

	out := messaging.Outcome{
		RequestID:         req.ID,
		RequesterIdentity: req.RequesterIdentity,
		Success:           true,
		AssetReference:    req.AssetReference,
		MediaURI:          req.MediaURI,
		ProviderUsed:      req.ProviderUsed,
		Message:           s.Formatter.Success(req.AssetReference, req.ProviderUsed),
	}
	cctx, cancel := context.WithTimeout(ctx, s.CallTimeout)
	err := s.Messenger.Deliver(cctx, out)
	cancel()
	if err != nil {
		s.Log.Warn().Err(err).Str("request_id", req.ID).Msg("result delivery failed")
		return err
	}
	s.Log.Info().Str("request_id", req.ID).Str("asset", req.AssetReference).Msg("result delivered")
	return repo.TransitionState(ctx, s.DB, req.ID, domain.StateMinted, domain.StateDelivered, nil)
}

// NotifyFailure sends a single best-effort notice for a request that ended
// in REJECTED or FAILED, then marks the request notified regardless of the
// send outcome so the notice is never repeated.
func (s *DispatchService) NotifyFailure(ctx context.Context, req *domain.Request) error {
	if req.State != domain.StateRejected && req.State != domain.StateFailed {
		return ErrUnexpectedState
	}
	if req.NotifiedAt != nil {
		return nil
	}

	out := messaging.Outcome{
		RequestID:         req.ID,
		RequesterIdentity: req.RequesterIdentity,
		Success:           false,
		Reason:            req.ErrorReason,
		Message:           s.Formatter.Failure(req.ErrorReason),
	}
	cctx, cancel := context.WithTimeout(ctx, s.CallTimeout)
	err := s.Messenger.Deliver(cctx, out)
	cancel()
	if err != nil {
		s.Log.Warn().Err(err).Str("request_id", req.ID).Msg("failure notice not delivered")
	} else {
		s.Log.Info().Str("request_id", req.ID).Str("reason", string(req.ErrorReason)).
			Msg("failure notice delivered")
	}
	return repo.MarkNotified(ctx, s.DB, req.ID, time.Now().UTC())
}
