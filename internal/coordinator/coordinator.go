package coordinator

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-mint-node/internal/domain"
	"github.com/tbourn/go-mint-node/internal/repo"
	"github.com/tbourn/go-mint-node/internal/services"
)

// Coordinator advances a single request through whatever stages it can.
// It owns no state of its own; the request row is the only source of truth,
// so any number of coordinator invocations may race on the same id and the
// conditional transitions guarantee exactly one wins each hop.
type Coordinator struct {
	DB       *gorm.DB
	Verify   *services.VerifyService
	Generate *services.GenerateService
	Mint     *services.MintService
	Dispatch *services.DispatchService

	Log zerolog.Logger
}

// NewCoordinator wires the stage services together.
func NewCoordinator(db *gorm.DB, v *services.VerifyService, g *services.GenerateService,
	m *services.MintService, d *services.DispatchService, log zerolog.Logger) *Coordinator {
	return &Coordinator{DB: db, Verify: v, Generate: g, Mint: m, Dispatch: d, Log: log}
}

// Step loads the request and runs stage services until the request parks:
// it reaches a notified terminal state, a stage leaves the state unchanged
// (bounded retries exhausted for now), or a stage fails. Losing a
// transition race to another worker is not an error.
func (c *Coordinator) Step(ctx context.Context, id string) error {
	for {
		req, err := repo.GetRequest(ctx, c.DB, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				c.Log.Warn().Str("request_id", id).Msg("queued id has no request row")
				return nil
			}
			return err
		}
		before := req.State

		stage, serr := c.runStage(ctx, req)
		if stage == "" {
			// DELIVERED and notified terminals have nothing left to do.
			return nil
		}
		switch {
		case serr == nil:
			stageSteps.WithLabelValues(stage, "ok").Inc()
		case errors.Is(serr, repo.ErrStateConflict):
			// Another worker moved the request first; its step counts.
			stageSteps.WithLabelValues(stage, "conflict").Inc()
			c.Log.Debug().Str("request_id", id).Str("stage", stage).Msg("lost transition race")
			return nil
		case errors.Is(serr, services.ErrUnexpectedState):
			// Raced past the state we loaded; reload and reconsider.
		case errors.Is(serr, context.Canceled), errors.Is(serr, context.DeadlineExceeded):
			return serr
		default:
			stageSteps.WithLabelValues(stage, "error").Inc()
			c.Log.Error().Err(serr).Str("request_id", id).Str("stage", stage).Msg("stage failed")
			return serr
		}

		after, err := repo.GetRequest(ctx, c.DB, id)
		if err != nil {
			return err
		}
		if after.State == before {
			// Parked: bounded retries exhausted for now.
			return nil
		}
		if after.State == domain.StateMintFailed {
			// The mint budget for this pass is spent; the sweeper re-offers
			// the id after the staleness threshold rather than hammering
			// the ledger in a tight loop.
			return nil
		}
		if after.State.IsTerminal() && after.State != domain.StateDelivered {
			recordTerminal(after.State, after.ErrorReason)
		}
		if after.State == domain.StateDelivered {
			recordTerminal(after.State, "")
		}
	}
}

// runStage dispatches the request to the service owning its current state.
// It returns the stage name for instrumentation, or "" when no work remains.
func (c *Coordinator) runStage(ctx context.Context, req *domain.Request) (string, error) {
	switch req.State {
	case domain.StateReceived:
		return "verify", c.Verify.Step(ctx, req)
	case domain.StatePaymentVerified:
		return "generate", c.Generate.Step(ctx, req)
	case domain.StateGenerated, domain.StateMintFailed:
		return "mint", c.Mint.Step(ctx, req)
	case domain.StateMinted:
		return "deliver", c.Dispatch.DeliverResult(ctx, req)
	case domain.StateRejected, domain.StateFailed:
		if req.NotifiedAt == nil {
			return "notify", c.Dispatch.NotifyFailure(ctx, req)
		}
		return "", nil
	default: // DELIVERED
		return "", nil
	}
}
