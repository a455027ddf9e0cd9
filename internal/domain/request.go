// Package domain defines the persistence models for generation requests,
// their state-transition history, and the mint submission log. These types
// are mapped with GORM and form the core data layer of the mint node.
package domain

import (
	"time"
)

// State is the lifecycle state of a Request. States advance monotonically
// along the transition graph encoded in CanTransition and never regress.
type State string

// Lifecycle states. The happy path is RECEIVED -> PAYMENT_VERIFIED ->
// GENERATED -> MINTED -> DELIVERED. MINT_FAILED is a recoverable sub-state
// between GENERATED and MINTED. REJECTED and FAILED are terminal.
const (
	StateReceived        State = "RECEIVED"
	StatePaymentVerified State = "PAYMENT_VERIFIED"
	StateGenerated       State = "GENERATED"
	StateMinted          State = "MINTED"
	StateDelivered       State = "DELIVERED"
	StateMintFailed      State = "MINT_FAILED"
	StateRejected        State = "REJECTED"
	StateFailed          State = "FAILED"
)

// Reason is a stable, machine-readable failure code stored on a Request
// when it reaches REJECTED or FAILED.
type Reason string

// Failure reasons. PaymentNotFound and PaymentInvalid accompany REJECTED;
// the rest accompany FAILED.
const (
	ReasonPaymentNotFound       Reason = "PaymentNotFound"
	ReasonPaymentInvalid        Reason = "PaymentInvalid"
	ReasonContentPolicyRejected Reason = "ContentPolicyRejected"
	ReasonProviderUnavailable   Reason = "ProviderUnavailable"
	ReasonMintPermanent         Reason = "MintPermanent"
)

// transitions encodes the directed acyclic state graph. A transition is
// legal only if the target state appears in the source state's entry.
var transitions = map[State][]State{
	StateReceived:        {StatePaymentVerified, StateRejected},
	StatePaymentVerified: {StateGenerated, StateFailed},
	StateGenerated:       {StateMinted, StateMintFailed, StateFailed},
	StateMintFailed:      {StateMinted, StateFailed},
	StateMinted:          {StateDelivered},
}

// CanTransition reports whether moving from one state to another is a legal
// edge of the lifecycle graph.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state admits no further transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateDelivered, StateRejected, StateFailed:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known lifecycle states.
func (s State) IsValid() bool {
	switch s {
	case StateReceived, StatePaymentVerified, StateGenerated, StateMinted,
		StateDelivered, StateMintFailed, StateRejected, StateFailed:
		return true
	}
	return false
}

// Request is the central entity: one user request to generate and mint a
// piece of media, paid for by a ledger transaction carrying PaymentReference
// as its memo.
//
// Fields:
//   - ID: stable UUID primary key; doubles as the mint idempotency key.
//   - RequesterIdentity: opaque identifier of the requesting user/channel.
//   - Prompt: text supplied for generation.
//   - PaymentReference: memo expected to match a ledger payment. The pair
//     (requester_identity, payment_reference) is unique so a duplicate
//     inbound event never creates a second row.
//   - State: current lifecycle state; mutated only through the conditional
//     transition primitive in the repo layer.
//   - ProviderUsed: which AI provider produced the media, once known.
//   - MediaURI: pinned location of the generated media, set at GENERATED.
//   - AssetReference: ledger reference of the minted asset, set at MINTED.
//   - ErrorReason: failure code, set only on REJECTED/FAILED.
//   - VerifyAttempts / GenerateAttempts / MintAttempts: per-stage counters
//     bounding retries across invocations.
//   - NotifiedAt: set once a terminal-failure notice has been attempted, so
//     the sweeper never re-sends it.
//   - CreatedAt: anchors the payment verification window.
//   - UpdatedAt: refreshed on every transition; drives staleness detection.
type Request struct {
	ID                string     `json:"id"                 gorm:"type:char(36);primaryKey"`
	RequesterIdentity string     `json:"requester_identity" gorm:"type:varchar(128);not null;index;uniqueIndex:ux_requests_requester_ref,priority:1"`
	Prompt            string     `json:"prompt"             gorm:"type:text;not null"`
	PaymentReference  string     `json:"payment_reference"  gorm:"type:varchar(128);not null;uniqueIndex:ux_requests_requester_ref,priority:2"`
	State             State      `json:"state"              gorm:"type:varchar(32);not null;index"`
	ProviderUsed      string     `json:"provider_used,omitempty"  gorm:"type:varchar(32)"`
	MediaURI          string     `json:"media_uri,omitempty"      gorm:"type:text"`
	AssetReference    string     `json:"asset_reference,omitempty" gorm:"type:varchar(128)"`
	ErrorReason       Reason     `json:"error_reason,omitempty"   gorm:"type:varchar(64)"`
	VerifyAttempts    int        `json:"verify_attempts"    gorm:"not null;default:0"`
	GenerateAttempts  int        `json:"generate_attempts"  gorm:"not null;default:0"`
	MintAttempts      int        `json:"mint_attempts"      gorm:"not null;default:0"`
	NotifiedAt        *time.Time `json:"notified_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"         gorm:"index"`
}

// TableName returns the database table name for Request.
func (Request) TableName() string { return "requests" }

// Transition is one recorded state change of a Request. Rows are append-only
// and retained as the audit trail; a Request's full history is the ordered
// set of its transitions.
type Transition struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	RequestID string    `json:"request_id" gorm:"type:char(36);not null;index:idx_request_transitions,priority:1"`
	FromState State     `json:"from_state" gorm:"type:varchar(32);not null"`
	ToState   State     `json:"to_state"   gorm:"type:varchar(32);not null"`
	Reason    Reason    `json:"reason,omitempty" gorm:"type:varchar(64)"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_request_transitions,priority:2"`

	// Request is the parent entity. Transitions are cascade-deleted if the
	// request row is ever removed (which the application never does).
	Request Request `json:"-" gorm:"foreignKey:RequestID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Transition.
func (Transition) TableName() string { return "request_transitions" }

// MintSubmission is the durable record that a mint has been (or is about to
// be) submitted to the ledger under a request's idempotency key. The row is
// reserved before the ledger call and completed after it, so a crash between
// submission and the state update is detectable on recovery. The primary key
// on RequestID guarantees at most one submission per request.
type MintSubmission struct {
	RequestID      string    `json:"request_id"      gorm:"type:char(36);primaryKey"`
	AssetReference string    `json:"asset_reference" gorm:"type:varchar(128)"`
	TxHash         string    `json:"tx_hash"         gorm:"type:varchar(128)"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for MintSubmission.
func (MintSubmission) TableName() string { return "mint_submissions" }

// Completed reports whether the submission has a recorded ledger result.
func (m *MintSubmission) Completed() bool { return m.AssetReference != "" }
