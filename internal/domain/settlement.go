package domain

import "time"

// SettlementStatus represents the lifecycle state of a settlement.
//
// Legal transitions:
//
//	pending  -> escrow | released | expired
//	escrow   -> released | disputed | expired
//	disputed -> released | cancelled   (via dispute resolution)
type SettlementStatus string

const (
	SettlementStatusPending   SettlementStatus = "pending"
	SettlementStatusEscrow    SettlementStatus = "escrow"
	SettlementStatusReleased  SettlementStatus = "released"
	SettlementStatusDisputed  SettlementStatus = "disputed"
	SettlementStatusCancelled SettlementStatus = "cancelled"
	SettlementStatusExpired   SettlementStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s SettlementStatus) Terminal() bool {
	switch s {
	case SettlementStatusReleased, SettlementStatusCancelled, SettlementStatusExpired:
		return true
	}
	return false
}

// Escrow holds the held-funds state of a settlement. Locked is true exactly
// while the settlement status is escrow or disputed.
type Escrow struct {
	Locked            bool     `json:"locked"`
	ReleaseConditions []string `json:"release_conditions,omitempty"`
	AutoRelease       bool     `json:"auto_release"`
	Mediator          string   `json:"mediator,omitempty"`
}

// DisputeStatus represents the lifecycle state of a dispute.
type DisputeStatus string

const (
	DisputeStatusOpen          DisputeStatus = "open"
	DisputeStatusInvestigating DisputeStatus = "investigating"
	DisputeStatusResolved      DisputeStatus = "resolved"
	DisputeStatusEscalated     DisputeStatus = "escalated"
)

// Resolution is the outcome of a resolved dispute.
type Resolution string

const (
	ResolutionInFavorA  Resolution = "in_favor_a"
	ResolutionInFavorB  Resolution = "in_favor_b"
	ResolutionSplit     Resolution = "split"
	ResolutionDismissed Resolution = "dismissed"
)

// Evidence is one item submitted in support of a dispute.
type Evidence struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	SubmittedBy string    `json:"submitted_by"`
	SubmittedAt time.Time `json:"submitted_at"`
	ContentHash string    `json:"content_hash"`
}

// Dispute is owned by its parent settlement; a settlement has at most one
// active dispute at a time.
type Dispute struct {
	Reason     string        `json:"reason"`
	FiledBy    string        `json:"filed_by"`
	FiledAt    time.Time     `json:"filed_at"`
	Status     DisputeStatus `json:"status"`
	Resolution Resolution    `json:"resolution,omitempty"`
	Mediator   string        `json:"mediator,omitempty"`
	Evidence   []Evidence    `json:"evidence,omitempty"`
}

// Settlement is the downstream lifecycle record of an executed trade.
// PartyA is the buyer, PartyB the seller. Version is bumped on every write
// and used for optimistic compare-and-swap in the settlement store.
type Settlement struct {
	SettlementID   string           `json:"settlement_id"`
	TradeID        string           `json:"trade_id"`
	PartyA         string           `json:"party_a"`
	PartyB         string           `json:"party_b"`
	Amount         int64            `json:"amount"`
	Price          int64            `json:"price"`
	TotalValue     int64            `json:"total_value"`
	Fee            int64            `json:"fee"`
	AssetType      string           `json:"asset_type"`
	PaymentMethod  string           `json:"payment_method"`
	Status         SettlementStatus `json:"status"`
	ReleasedAmount int64            `json:"released_amount"`
	Escrow         Escrow           `json:"escrow"`
	Dispute        *Dispute         `json:"dispute,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	ExpiresAt      time.Time        `json:"expires_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	Version        uint64           `json:"version"`
}

// EscrowConsistent reports whether Escrow.Locked agrees with the status.
func (s *Settlement) EscrowConsistent() bool {
	shouldLock := s.Status == SettlementStatusEscrow || s.Status == SettlementStatusDisputed
	return s.Escrow.Locked == shouldLock
}

// SettlementTerms are the caller-supplied terms for a new settlement.
type SettlementTerms struct {
	AssetType         string   `json:"asset_type"`
	PaymentMethod     string   `json:"payment_method"`
	EscrowRequired    bool     `json:"escrow_required"`
	ReleaseConditions []string `json:"release_conditions,omitempty"`
	AutoRelease       bool     `json:"auto_release"`
	Mediator          string   `json:"mediator,omitempty"`
}

// SettlementRule is read-only administrator configuration consulted when a
// settlement is placed under automation. Zero values mean "no constraint".
type SettlementRule struct {
	RuleID         string   `json:"rule_id"`
	Name           string   `json:"name"`
	AssetTypes     []string `json:"asset_types,omitempty"`
	MinAmount      int64    `json:"min_amount"`
	MaxAmount      int64    `json:"max_amount"`
	PaymentMethods []string `json:"payment_methods,omitempty"`
	Parties        []string `json:"parties,omitempty"`

	TriggerKind      TriggerKind   `json:"trigger_kind"`
	EscrowTimeout    time.Duration `json:"escrow_timeout"`
	DisputeTimeout   time.Duration `json:"dispute_timeout"`
	AutoReleaseAfter time.Duration `json:"auto_release_after"`

	RiskMaxAmount      int64    `json:"risk_max_amount"`
	RequireApproval    bool     `json:"require_approval"`
	MaxDisputes        int      `json:"max_disputes"`
	BlacklistedParties []string `json:"blacklisted_parties,omitempty"`
}

// SettlementEventType names a settlement state change for subscribers.
type SettlementEventType string

const (
	SettlementEventCreated   SettlementEventType = "settlement.created"
	SettlementEventEscrowed  SettlementEventType = "settlement.escrowed"
	SettlementEventReleased  SettlementEventType = "settlement.released"
	SettlementEventDisputed  SettlementEventType = "settlement.disputed"
	SettlementEventResolved  SettlementEventType = "settlement.resolved"
	SettlementEventCancelled SettlementEventType = "settlement.cancelled"
	SettlementEventExpired   SettlementEventType = "settlement.expired"
	SettlementEventEvidence  SettlementEventType = "settlement.evidence"
)

// SettlementEvent is pushed on every successful settlement transition. The
// automation evaluator uses it to re-evaluate event/condition triggered tasks
// without stale reads; the notifier forwards it to the parties.
type SettlementEvent struct {
	Type       SettlementEventType `json:"type"`
	Settlement *Settlement         `json:"settlement"`
	Timestamp  time.Time           `json:"timestamp"`
}
