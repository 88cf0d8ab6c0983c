package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nathanyu/p2p-exchange/internal/domain"
	"github.com/nathanyu/p2p-exchange/internal/store"
	"github.com/nathanyu/p2p-exchange/internal/telemetry"
)

var (
	// SettlementTransitions counts settlement state transitions.
	SettlementTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_settlement_transitions_total",
			Help: "Total number of settlement state transitions",
		},
		[]string{"to"},
	)

	// DisputesTotal counts filed disputes.
	DisputesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exchange_disputes_total",
			Help: "Total number of disputes filed",
		},
	)
)

// Config holds the settlement engine's tunables.
type Config struct {
	// FeeRateBps is the settlement fee rate in basis points of total value.
	FeeRateBps int64
	// ExpiryHorizon is how long a settlement may stay non-terminal before
	// the expire sweep claims it. Defaults to 7 days.
	ExpiryHorizon time.Duration
	// BufferSize sizes the EventOut channel.
	BufferSize int
}

// Engine progresses settlements through their lifecycle. Every mutating
// operation reads a snapshot, validates the transition, and writes back with
// compare-and-swap, so two concurrent callers can never both observe a locked
// escrow and both transition it.
type Engine struct {
	settlements store.SettlementStore
	cfg         Config
	log         *slog.Logger

	// EventOut is pushed one event per successful transition. Consumed by
	// the automation evaluator and the notifier.
	EventOut chan *domain.SettlementEvent
}

// NewEngine creates a settlement engine over the given store.
func NewEngine(settlements store.SettlementStore, cfg Config) *Engine {
	if cfg.ExpiryHorizon <= 0 {
		cfg.ExpiryHorizon = 7 * 24 * time.Hour
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	return &Engine{
		settlements: settlements,
		cfg:         cfg,
		log:         telemetry.Component("settlement"),
		EventOut:    make(chan *domain.SettlementEvent, cfg.BufferSize),
	}
}

// CreateSettlement derives a settlement from an executed trade. Status starts
// pending; escrow locks immediately when the terms require it.
func (e *Engine) CreateSettlement(ctx context.Context, trade *domain.Trade, partyA, partyB string, terms domain.SettlementTerms) (*domain.Settlement, error) {
	if trade == nil {
		return nil, fmt.Errorf("trade is nil: %w", domain.ErrValidation)
	}
	if trade.Amount <= 0 || trade.Price <= 0 {
		return nil, fmt.Errorf("trade amount and price must be positive: %w", domain.ErrValidation)
	}
	if partyA == "" || partyB == "" {
		return nil, fmt.Errorf("both parties are required: %w", domain.ErrValidation)
	}

	now := time.Now()
	totalValue := trade.Amount * trade.Price
	s := &domain.Settlement{
		SettlementID:  uuid.New().String(),
		TradeID:       trade.TradeID,
		PartyA:        partyA,
		PartyB:        partyB,
		Amount:        trade.Amount,
		Price:         trade.Price,
		TotalValue:    totalValue,
		Fee:           totalValue * e.cfg.FeeRateBps / 10_000,
		AssetType:     terms.AssetType,
		PaymentMethod: terms.PaymentMethod,
		Status:        domain.SettlementStatusPending,
		Escrow: domain.Escrow{
			ReleaseConditions: terms.ReleaseConditions,
			AutoRelease:       terms.AutoRelease,
			Mediator:          terms.Mediator,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.ExpiryHorizon),
	}

	eventType := domain.SettlementEventCreated
	if terms.EscrowRequired {
		s.Status = domain.SettlementStatusEscrow
		s.Escrow.Locked = true
		eventType = domain.SettlementEventEscrowed
	}

	if err := e.settlements.Save(ctx, s); err != nil {
		return nil, err
	}

	SettlementTransitions.WithLabelValues(string(s.Status)).Inc()
	e.emit(eventType, s)
	e.log.Info("settlement created",
		"settlement_id", s.SettlementID,
		"trade_id", s.TradeID,
		"status", s.Status,
		"total_value", s.TotalValue,
	)
	return s, nil
}

// Release unlocks escrow and completes the settlement. Legal only while the
// escrow is locked and undisputed; a disputed settlement exits through
// ResolveDispute, and releasing an unlocked escrow (already released or never
// escrowed) fails with InvalidState.
func (e *Engine) Release(ctx context.Context, settlementID string) (*domain.Settlement, error) {
	s, err := e.settlements.Get(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if s.Status == domain.SettlementStatusDisputed {
		return nil, fmt.Errorf("settlement %s is disputed: %w", settlementID, domain.ErrInvalidState)
	}
	if !s.Escrow.Locked {
		return nil, fmt.Errorf("settlement %s escrow is not locked: %w", settlementID, domain.ErrInvalidState)
	}

	now := time.Now()
	s.Status = domain.SettlementStatusReleased
	s.Escrow.Locked = false
	s.CompletedAt = &now
	if err := e.settlements.Update(ctx, s); err != nil {
		return nil, err
	}

	SettlementTransitions.WithLabelValues(string(s.Status)).Inc()
	e.emit(domain.SettlementEventReleased, s)
	e.log.Info("settlement released", "settlement_id", settlementID)
	return s, nil
}

// FileDispute opens a dispute on a non-terminal settlement. A settlement
// holds at most one active dispute; a second filing fails with Conflict.
func (e *Engine) FileDispute(ctx context.Context, settlementID, reason, filedBy string) (*domain.Settlement, error) {
	if reason == "" {
		return nil, fmt.Errorf("dispute reason is required: %w", domain.ErrValidation)
	}
	if filedBy == "" {
		return nil, fmt.Errorf("filer identity is required: %w", domain.ErrValidation)
	}

	s, err := e.settlements.Get(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		return nil, fmt.Errorf("settlement %s is %s: %w", settlementID, s.Status, domain.ErrInvalidState)
	}
	if s.Dispute != nil && s.Dispute.Status != domain.DisputeStatusResolved {
		return nil, fmt.Errorf("settlement %s already has an active dispute: %w", settlementID, domain.ErrConflict)
	}

	s.Dispute = &domain.Dispute{
		Reason:   reason,
		FiledBy:  filedBy,
		FiledAt:  time.Now(),
		Status:   domain.DisputeStatusOpen,
		Mediator: s.Escrow.Mediator,
	}
	s.Status = domain.SettlementStatusDisputed
	s.Escrow.Locked = true
	if err := e.settlements.Update(ctx, s); err != nil {
		return nil, err
	}

	DisputesTotal.Inc()
	SettlementTransitions.WithLabelValues(string(s.Status)).Inc()
	e.emit(domain.SettlementEventDisputed, s)
	e.log.Info("dispute filed", "settlement_id", settlementID, "filed_by", filedBy)
	return s, nil
}

// SubmitEvidence appends an evidence item to the open dispute.
func (e *Engine) SubmitEvidence(ctx context.Context, settlementID string, evidence domain.Evidence) (*domain.Settlement, error) {
	if evidence.SubmittedBy == "" {
		return nil, fmt.Errorf("submitter identity is required: %w", domain.ErrValidation)
	}

	s, err := e.settlements.Get(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if s.Dispute == nil || s.Dispute.Status == domain.DisputeStatusResolved {
		return nil, fmt.Errorf("settlement %s has no open dispute: %w", settlementID, domain.ErrInvalidState)
	}

	evidence.SubmittedAt = time.Now()
	s.Dispute.Evidence = append(s.Dispute.Evidence, evidence)
	if err := e.settlements.Update(ctx, s); err != nil {
		return nil, err
	}

	e.emit(domain.SettlementEventEvidence, s)
	return s, nil
}

// ResolveDispute closes the dispute and maps the resolution onto the
// settlement: in_favor_b cancels, everything else releases.
func (e *Engine) ResolveDispute(ctx context.Context, settlementID string, resolution domain.Resolution, mediator string) (*domain.Settlement, error) {
	switch resolution {
	case domain.ResolutionInFavorA, domain.ResolutionInFavorB, domain.ResolutionSplit, domain.ResolutionDismissed:
	default:
		return nil, fmt.Errorf("unknown resolution %q: %w", resolution, domain.ErrValidation)
	}

	s, err := e.settlements.Get(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if s.Dispute == nil {
		return nil, fmt.Errorf("settlement %s has no dispute: %w", settlementID, domain.ErrInvalidState)
	}
	if s.Dispute.Status == domain.DisputeStatusResolved {
		return nil, fmt.Errorf("settlement %s dispute already resolved: %w", settlementID, domain.ErrInvalidState)
	}

	now := time.Now()
	s.Dispute.Status = domain.DisputeStatusResolved
	s.Dispute.Resolution = resolution
	s.Dispute.Mediator = mediator

	eventType := domain.SettlementEventResolved
	if resolution == domain.ResolutionInFavorB {
		s.Status = domain.SettlementStatusCancelled
		eventType = domain.SettlementEventCancelled
	} else {
		s.Status = domain.SettlementStatusReleased
	}
	s.Escrow.Locked = false
	s.CompletedAt = &now
	if err := e.settlements.Update(ctx, s); err != nil {
		return nil, err
	}

	SettlementTransitions.WithLabelValues(string(s.Status)).Inc()
	e.emit(eventType, s)
	e.log.Info("dispute resolved",
		"settlement_id", settlementID,
		"resolution", resolution,
		"mediator", mediator,
	)
	return s, nil
}

// ReleaseFunds is the automation release path. Unlike Release it accepts
// pending settlements (the no-escrow edge of the lifecycle) and honors a
// percentage for partial releases: the released amount accumulates, and the
// settlement only completes once the full value has been released.
func (e *Engine) ReleaseFunds(ctx context.Context, settlementID string, percentage int) (*domain.Settlement, error) {
	if percentage <= 0 || percentage > 100 {
		percentage = 100
	}

	s, err := e.settlements.Get(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if s.Status != domain.SettlementStatusPending && s.Status != domain.SettlementStatusEscrow {
		return nil, fmt.Errorf("settlement %s is %s: %w", settlementID, s.Status, domain.ErrInvalidState)
	}

	s.ReleasedAmount += s.TotalValue * int64(percentage) / 100
	if s.ReleasedAmount >= s.TotalValue {
		s.ReleasedAmount = s.TotalValue
		now := time.Now()
		s.Status = domain.SettlementStatusReleased
		s.Escrow.Locked = false
		s.CompletedAt = &now
	}
	if err := e.settlements.Update(ctx, s); err != nil {
		return nil, err
	}

	if s.Status == domain.SettlementStatusReleased {
		SettlementTransitions.WithLabelValues(string(s.Status)).Inc()
		e.emit(domain.SettlementEventReleased, s)
	}
	e.log.Info("funds released",
		"settlement_id", settlementID,
		"percentage", percentage,
		"released_amount", s.ReleasedAmount,
	)
	return s, nil
}

// Cancel moves a non-terminal settlement to cancelled. Used by automation's
// cancel_settlement action.
func (e *Engine) Cancel(ctx context.Context, settlementID string) (*domain.Settlement, error) {
	s, err := e.settlements.Get(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		return nil, fmt.Errorf("settlement %s is %s: %w", settlementID, s.Status, domain.ErrInvalidState)
	}

	now := time.Now()
	s.Status = domain.SettlementStatusCancelled
	s.Escrow.Locked = false
	s.CompletedAt = &now
	if err := e.settlements.Update(ctx, s); err != nil {
		return nil, err
	}

	SettlementTransitions.WithLabelValues(string(s.Status)).Inc()
	e.emit(domain.SettlementEventCancelled, s)
	e.log.Info("settlement cancelled", "settlement_id", settlementID)
	return s, nil
}

// EscalateDispute moves an open dispute to escalated. Used by automation's
// escalate_dispute action; the settlement itself stays disputed.
func (e *Engine) EscalateDispute(ctx context.Context, settlementID string) (*domain.Settlement, error) {
	s, err := e.settlements.Get(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if s.Dispute == nil || s.Dispute.Status == domain.DisputeStatusResolved {
		return nil, fmt.Errorf("settlement %s has no open dispute: %w", settlementID, domain.ErrInvalidState)
	}
	if s.Dispute.Status == domain.DisputeStatusEscalated {
		return s, nil
	}

	s.Dispute.Status = domain.DisputeStatusEscalated
	if err := e.settlements.Update(ctx, s); err != nil {
		return nil, err
	}

	e.log.Info("dispute escalated", "settlement_id", settlementID)
	return s, nil
}

// GetSettlement returns a settlement snapshot by ID.
func (e *Engine) GetSettlement(ctx context.Context, settlementID string) (*domain.Settlement, error) {
	return e.settlements.Get(ctx, settlementID)
}

// ListSettlements returns snapshots of all settlements.
func (e *Engine) ListSettlements(ctx context.Context) ([]*domain.Settlement, error) {
	return e.settlements.List(ctx)
}

// ExpireSweep transitions every pending or escrow settlement past its expiry
// to expired. Idempotent: a second immediate sweep is a no-op. CAS conflicts
// are skipped; the racing writer already advanced the settlement.
func (e *Engine) ExpireSweep(ctx context.Context, now time.Time) int {
	settlements, err := e.settlements.List(ctx)
	if err != nil {
		e.log.Error("expire sweep failed to list settlements", "error", err)
		return 0
	}

	expired := 0
	for _, s := range settlements {
		if s.Status != domain.SettlementStatusPending && s.Status != domain.SettlementStatusEscrow {
			continue
		}
		if !now.After(s.ExpiresAt) {
			continue
		}

		s.Status = domain.SettlementStatusExpired
		s.Escrow.Locked = false
		if err := e.settlements.Update(ctx, s); err != nil {
			e.log.Warn("expire sweep skipped settlement", "settlement_id", s.SettlementID, "error", err)
			continue
		}
		expired++
		SettlementTransitions.WithLabelValues(string(s.Status)).Inc()
		e.emit(domain.SettlementEventExpired, s)
	}

	if expired > 0 {
		e.log.Info("settlement expire sweep finished", "expired", expired)
	}
	return expired
}

// emit pushes a settlement event downstream without blocking.
func (e *Engine) emit(eventType domain.SettlementEventType, s *domain.Settlement) {
	event := &domain.SettlementEvent{
		Type:       eventType,
		Settlement: s,
		Timestamp:  time.Now(),
	}
	select {
	case e.EventOut <- event:
	default:
		e.log.Warn("settlement event channel full, dropping event", "type", eventType)
	}
}
