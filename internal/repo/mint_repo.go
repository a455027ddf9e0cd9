// Package repo implements the data persistence layer for the request
// ledger, backed by GORM. This file provides repository helpers for the
// MintSubmission model: the durable submission log that makes minting
// crash-safe.
//
// The protocol is reserve-then-submit. Before the ledger call, the Minter
// reserves the submission row; after the call it completes the row with the
// ledger's asset reference. A crash between reservation and completion
// leaves a reserved-but-incomplete row, which tells the recovered Minter to
// consult the ledger under the idempotency key instead of blindly
// resubmitting.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-mint-node/internal/domain"
)

// ReserveMint records the intent to submit a mint for the given request id.
// The primary key on request_id guarantees at most one reservation: when a
// row already exists (this process or a predecessor got here first), the
// existing row is returned together with ErrDuplicate.
func ReserveMint(ctx context.Context, db *gorm.DB, requestID string) (*domain.MintSubmission, error) {
	now := time.Now().UTC()
	sub := &domain.MintSubmission{
		RequestID: requestID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(sub).Error; err != nil {
		if isUniqueViolation(err) {
			existing, gerr := GetMintSubmission(ctx, db, requestID)
			if gerr != nil {
				return nil, gerr
			}
			return existing, ErrDuplicate
		}
		return nil, err
	}
	return sub, nil
}

// GetMintSubmission fetches the submission row for a request, or
// ErrNotFound if minting was never reserved.
func GetMintSubmission(ctx context.Context, db *gorm.DB, requestID string) (*domain.MintSubmission, error) {
	var sub domain.MintSubmission
	if err := db.WithContext(ctx).Where("request_id = ?", requestID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// CompleteMint stores the ledger result on a reserved submission row.
// Completing an already-completed row with the same values is harmless,
// which keeps idempotent replays simple.
func CompleteMint(ctx context.Context, db *gorm.DB, requestID, assetRef, txHash string) error {
	res := db.WithContext(ctx).Model(&domain.MintSubmission{}).
		Where("request_id = ?", requestID).
		Updates(map[string]any{
			"asset_reference": assetRef,
			"tx_hash":         txHash,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
