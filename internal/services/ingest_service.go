// Package services – IngestService
//
// This file implements the RequestIngestor: it validates inbound messaging
// events, creates Request rows in state RECEIVED, and hands new work to the
// pipeline queue. Deduplication happens here, at the natural key
// (requester identity, payment reference), so a replayed event never
// creates a second request or a second mint.
package services

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-mint-node/internal/domain"
	"github.com/tbourn/go-mint-node/internal/messaging"
	"github.com/tbourn/go-mint-node/internal/repo"
)

// requestPrefix is the memo grammar marker carried by on-ledger requests.
// Webhook events may use it too; it is stripped before storage.
const requestPrefix = "GENERATE IMAGE ___"

// refPattern bounds what a payment reference may look like: a short opaque
// memo token, no whitespace.
var refPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)

// Enqueuer hands accepted work to the pipeline. Enqueue reports whether
// the id was accepted; a full queue is not an ingest failure because the
// recovery sweeper will pick the request up.
type Enqueuer interface {
	Enqueue(id string) bool
}

// IngestService turns inbound messaging events into Request records.
type IngestService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Queue receives ids of newly created requests.
	Queue Enqueuer
	// MaxPromptLen caps prompts by rune length.
	MaxPromptLen int

	Log zerolog.Logger
}

// NewIngestService constructs an IngestService with sane defaults.
func NewIngestService(db *gorm.DB, q Enqueuer, log zerolog.Logger) *IngestService {
	return &IngestService{
		DB:           db,
		Queue:        q,
		MaxPromptLen: 2000,
		Log:          log,
	}
}

// Ingest validates the event and creates a Request in state RECEIVED.
//
// Returns the request and whether it was newly created. A well-formed
// duplicate returns the existing request with created=false and no error;
// duplicates still get a queue nudge when they are not yet terminal, which
// makes redelivered events a cheap way to hurry a stuck request along.
// Malformed events return a validation error and create nothing.
func (s *IngestService) Ingest(ctx context.Context, ev messaging.InboundEvent) (*domain.Request, bool, error) {
	prompt := ParsePrompt(ev.Prompt)
	if prompt == "" {
		return nil, false, ErrEmptyPrompt
	}
	if s.MaxPromptLen > 0 && utf8.RuneCountInString(prompt) > s.MaxPromptLen {
		return nil, false, ErrPromptTooLong
	}
	ref := strings.TrimSpace(ev.PaymentReference)
	if !refPattern.MatchString(ref) {
		return nil, false, ErrInvalidReference
	}
	requester := strings.TrimSpace(ev.RequesterIdentity)
	if requester == "" {
		return nil, false, ErrInvalidReference
	}

	r, err := repo.CreateRequest(ctx, s.DB, requester, prompt, ref)
	if err != nil {
		if r != nil { // ErrDuplicate carries the existing row
			if !r.State.IsTerminal() {
				s.Queue.Enqueue(r.ID)
			}
			s.Log.Debug().Str("request_id", r.ID).Str("ref", ref).Msg("duplicate event ignored")
			return r, false, nil
		}
		return nil, false, err
	}

	s.Queue.Enqueue(r.ID)
	s.Log.Info().Str("request_id", r.ID).Str("requester", requester).Msg("request received")
	return r, true, nil
}

// IsRequestMemo reports whether raw carries the on-ledger request prefix.
// The stream watcher uses it to skip unrelated payments to the node account.
func IsRequestMemo(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), requestPrefix)
}

// ParsePrompt normalizes prompt text, stripping the on-ledger request
// prefix when present and collapsing surrounding whitespace.
func ParsePrompt(raw string) string {
	p := strings.TrimSpace(raw)
	if strings.HasPrefix(p, requestPrefix) {
		p = strings.TrimSpace(p[len(requestPrefix):])
	}
	return p
}
