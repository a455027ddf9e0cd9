// Webhook HTTP handlers.
//
// This file exposes the inbound event endpoint:
//   - POST /events   (receive a generation request from a messaging bridge)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. The endpoint is idempotent by
// construction: replaying an event returns the existing request instead of
// creating a second one.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-mint-node/internal/domain"
	"github.com/tbourn/go-mint-node/internal/messaging"
	"github.com/tbourn/go-mint-node/internal/services"
)

//
// Service contracts (context-aware)
//

// Ingestor accepts inbound messaging events and turns them into requests.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type Ingestor interface {
	// Ingest validates the event and creates (or finds) its request.
	// The boolean reports whether a new request was created.
	Ingest(ctx context.Context, ev messaging.InboundEvent) (*domain.Request, bool, error)
}

// StatusReader serves read-only request lookups for the status API.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type StatusReader interface {
	// Get returns a request and its full transition history.
	Get(ctx context.Context, id string) (*domain.Request, []domain.Transition, error)
	// ListPage returns a page of requests and the total count.
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Request, int64, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for event ingest and request status.
// It depends on abstract service interfaces to keep transport concerns
// separate from pipeline logic.
type Handlers struct {
	ingest Ingestor
	status StatusReader
}

// New constructs and returns a Handlers instance bound to the given services.
func New(ingest Ingestor, status StatusReader) *Handlers {
	return &Handlers{ingest: ingest, status: status}
}

//
// DTOs
//

// EventRequest is the JSON payload delivered by a messaging-channel bridge.
type EventRequest struct {
	// RequesterIdentity identifies the requesting user or wallet.
	RequesterIdentity string `json:"requester_identity" binding:"required"`
	// Prompt is the generation text; the on-ledger request prefix is allowed.
	Prompt string `json:"prompt" binding:"required"`
	// PaymentReference is the memo the authorizing payment must carry.
	PaymentReference string `json:"payment_reference" binding:"required"`
	// Attachments are optional source media URLs (currently unused).
	Attachments []string `json:"attachments,omitempty"`
}

// EventResponse acknowledges an ingested event.
type EventResponse struct {
	// ID is the request identifier to poll for status.
	ID string `json:"id"`
	// State is the request's current lifecycle state.
	State domain.State `json:"state"`
	// Created is false when the event was a replay of a known request.
	Created bool `json:"created"`
}

//
// Handlers
//

// PostEvent receives a generation request event.
//
// Responses:
//   - 202 Accepted with EventResponse on success (also for replays)
//   - 400 Bad Request with ErrorResponse when the payload doesn't bind
//   - 422 Unprocessable Entity when the event fails domain validation
//   - 500 Internal Server Error when persistence fails
func (h *Handlers) PostEvent(c *gin.Context) {
	var body EventRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON payload")
		return
	}

	req, created, err := h.ingest.Ingest(c.Request.Context(), messaging.InboundEvent{
		RequesterIdentity: body.RequesterIdentity,
		Prompt:            body.Prompt,
		PaymentReference:  body.PaymentReference,
		Attachments:       body.Attachments,
	})
	switch {
	case err == nil:
		ok(c, http.StatusAccepted, EventResponse{ID: req.ID, State: req.State, Created: created})
	case errors.Is(err, services.ErrEmptyPrompt),
		errors.Is(err, services.ErrPromptTooLong),
		errors.Is(err, services.ErrInvalidReference):
		fail(c, http.StatusUnprocessableEntity, ErrCodeInvalidEvent, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeIngestFailed, "could not ingest event")
	}
}
