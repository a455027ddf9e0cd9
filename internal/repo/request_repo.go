// Package repo implements the data persistence layer for the request
// ledger, backed by GORM. This file provides repository functions for the
// Request model, including the conditional state-transition primitive that
// is the sole mutation path for request lifecycle state.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a request is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - CreateRequest returns ErrDuplicate when the natural key
//     (requester_identity, payment_reference) already exists.
//   - TransitionState returns ErrStateConflict when the guarded update
//     matched zero rows, i.e. another worker already moved the request on.
//   - TransitionState returns ErrInvalidTransition for edges that are not in
//     the lifecycle graph; nothing is written in that case.
//
// Concurrency:
//
// TransitionState is the synchronization mechanism for the whole pipeline.
// It performs "set state to S only if current state equals E" as a single
// guarded UPDATE and records the audit-trail row in the same database
// transaction, so two workers racing on one request cannot both win, and a
// transition is never observable without its history entry.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-mint-node/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that a request already exists for the natural key
// (requester_identity, payment_reference).
var ErrDuplicate = errors.New("duplicate request")

// ErrStateConflict indicates that a conditional transition lost a race: the
// request was no longer in the expected state when the update ran. The
// caller must abandon the attempt without side effects.
var ErrStateConflict = errors.New("state conflict")

// ErrInvalidTransition indicates that the requested edge is not part of the
// lifecycle graph. This is a programming error, not a race.
var ErrInvalidTransition = errors.New("invalid state transition")

// isUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// CreateRequest inserts a new Request in state RECEIVED with a generated
// UUID primary key. The UUID doubles as the mint idempotency key for the
// rest of the pipeline.
//
// Deduplication: insertion is keyed on (requester_identity,
// payment_reference). When a row for that pair already exists, no second
// row is created and the existing row is returned together with
// ErrDuplicate so the caller can distinguish replay from first sight.
func CreateRequest(ctx context.Context, db *gorm.DB, requester, prompt, paymentRef string) (*domain.Request, error) {
	now := time.Now().UTC()
	r := &domain.Request{
		ID:                uuid.NewString(),
		RequesterIdentity: requester,
		Prompt:            prompt,
		PaymentReference:  paymentRef,
		State:             domain.StateReceived,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		if isUniqueViolation(err) {
			existing, gerr := GetRequestByNaturalKey(ctx, db, requester, paymentRef)
			if gerr != nil {
				return nil, gerr
			}
			return existing, ErrDuplicate
		}
		return nil, err
	}
	return r, nil
}

// GetRequest fetches a single request by ID, or ErrNotFound if missing.
func GetRequest(ctx context.Context, db *gorm.DB, id string) (*domain.Request, error) {
	var r domain.Request
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRequestByNaturalKey fetches a request by its dedup key, or ErrNotFound.
func GetRequestByNaturalKey(ctx context.Context, db *gorm.DB, requester, paymentRef string) (*domain.Request, error) {
	var r domain.Request
	err := db.WithContext(ctx).
		Where("requester_identity = ? AND payment_reference = ?", requester, paymentRef).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// TransitionState atomically advances a request from an expected state to a
// new one, applying any extra column updates in the same guarded UPDATE,
// and appends the audit-trail row in the same database transaction.
//
// The updates map uses column names (e.g. "asset_reference", "error_reason",
// "provider_used"). "state" and "updated_at" are set by this function and
// must not appear in updates. When updates carries "error_reason", that
// reason is copied onto the transition row.
func TransitionState(ctx context.Context, db *gorm.DB, id string, from, to domain.State, updates map[string]any) error {
	if !domain.CanTransition(from, to) {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	cols := map[string]any{
		"state":      to,
		"updated_at": now,
	}
	var reason domain.Reason
	for k, v := range updates {
		cols[k] = v
		if k == "error_reason" {
			if r, ok := v.(domain.Reason); ok {
				reason = r
			}
		}
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Request{}).
			Where("id = ? AND state = ?", id, from).
			Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStateConflict
		}
		return tx.Create(&domain.Transition{
			ID:        uuid.NewString(),
			RequestID: id,
			FromState: from,
			ToState:   to,
			Reason:    reason,
			CreatedAt: now,
		}).Error
	})
}

// BumpAttempts increments a per-stage attempt counter without changing
// state. The column must be one of verify_attempts, generate_attempts, or
// mint_attempts. It refreshes updated_at so a request being actively
// retried does not look stale to the sweeper.
func BumpAttempts(ctx context.Context, db *gorm.DB, id, column string) error {
	res := db.WithContext(ctx).Model(&domain.Request{}).
		Where("id = ?", id).
		Updates(map[string]any{
			column:       gorm.Expr(column+" + ?", 1),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListStale returns up to limit non-terminal requests whose updated_at is
// older than the cutoff, oldest first. These are the recovery candidates:
// anything a crashed or wedged worker left behind.
func ListStale(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Request, error) {
	var out []domain.Request
	err := db.WithContext(ctx).
		Where("state IN ? AND updated_at < ?", nonTerminalStates(), cutoff).
		Order("updated_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListUnnotified returns up to limit terminal-failure requests whose
// requester has not yet been sent the failure notice.
func ListUnnotified(ctx context.Context, db *gorm.DB, limit int) ([]domain.Request, error) {
	var out []domain.Request
	err := db.WithContext(ctx).
		Where("state IN ? AND notified_at IS NULL", []domain.State{domain.StateRejected, domain.StateFailed}).
		Order("updated_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkNotified stamps notified_at on a request. Delivery of terminal
// failures is attempted once; the stamp is written whether or not the
// notice went through, so notification is never retried indefinitely.
func MarkNotified(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).Model(&domain.Request{}).
		Where("id = ?", id).
		Update("notified_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListTransitions returns the full transition history of a request in
// chronological order.
func ListTransitions(ctx context.Context, db *gorm.DB, requestID string) ([]domain.Transition, error) {
	var out []domain.Transition
	err := db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// CountRequests returns the total number of requests.
func CountRequests(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Request{}).Count(&total).Error
	return total, err
}

// ListRequestsPage returns a paginated slice of requests, most recent
// first. Use CountRequests to obtain the total for pagination metadata.
func ListRequestsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Request, error) {
	var out []domain.Request
	err := db.WithContext(ctx).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// nonTerminalStates lists every state the sweeper may resume.
func nonTerminalStates() []domain.State {
	return []domain.State{
		domain.StateReceived,
		domain.StatePaymentVerified,
		domain.StateGenerated,
		domain.StateMintFailed,
		domain.StateMinted,
	}
}
