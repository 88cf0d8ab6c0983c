package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanyu/p2p-exchange/internal/domain"
	"github.com/nathanyu/p2p-exchange/internal/store"
)

func newTestEngine() *Engine {
	return NewEngine(store.NewMemorySettlementStore(), Config{
		FeeRateBps: 10,
		BufferSize: 64,
	})
}

func newTrade(amount, price int64) *domain.Trade {
	return &domain.Trade{
		TradeID:   "t1",
		Symbol:    "USDT-TWD",
		Amount:    amount,
		Price:     price,
		Timestamp: time.Now(),
	}
}

func escrowTerms() domain.SettlementTerms {
	return domain.SettlementTerms{
		AssetType:      "USDT",
		PaymentMethod:  "bank_transfer",
		EscrowRequired: true,
	}
}

func TestEngine_CreateSettlement(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	t.Run("pending without escrow", func(t *testing.T) {
		s, err := engine.CreateSettlement(ctx, newTrade(1000, 855), "alice", "bob", domain.SettlementTerms{})
		require.NoError(t, err)

		assert.Equal(t, domain.SettlementStatusPending, s.Status)
		assert.False(t, s.Escrow.Locked)
		assert.True(t, s.EscrowConsistent())
		assert.Equal(t, int64(855_000), s.TotalValue)
		assert.Equal(t, int64(855_000*10/10_000), s.Fee)
		assert.NotEmpty(t, s.SettlementID)

		event := <-engine.EventOut
		assert.Equal(t, domain.SettlementEventCreated, event.Type)
	})

	t.Run("escrow locks immediately", func(t *testing.T) {
		s, err := engine.CreateSettlement(ctx, newTrade(1000, 855), "alice", "bob", escrowTerms())
		require.NoError(t, err)

		assert.Equal(t, domain.SettlementStatusEscrow, s.Status)
		assert.True(t, s.Escrow.Locked)
		assert.True(t, s.EscrowConsistent())

		event := <-engine.EventOut
		assert.Equal(t, domain.SettlementEventEscrowed, event.Type)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := engine.CreateSettlement(ctx, nil, "alice", "bob", domain.SettlementTerms{})
		assert.ErrorIs(t, err, domain.ErrValidation)

		_, err = engine.CreateSettlement(ctx, newTrade(0, 855), "alice", "bob", domain.SettlementTerms{})
		assert.ErrorIs(t, err, domain.ErrValidation)

		_, err = engine.CreateSettlement(ctx, newTrade(1000, 855), "alice", "", domain.SettlementTerms{})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestEngine_Release(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	s, err := engine.CreateSettlement(ctx, newTrade(1000, 855), "alice", "bob", escrowTerms())
	require.NoError(t, err)

	released, err := engine.Release(ctx, s.SettlementID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusReleased, released.Status)
	assert.False(t, released.Escrow.Locked)
	assert.True(t, released.EscrowConsistent())
	require.NotNil(t, released.CompletedAt)

	// A second release finds the escrow already unlocked.
	_, err = engine.Release(ctx, s.SettlementID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// Releasing a never-escrowed settlement fails the same way.
	pending, err := engine.CreateSettlement(ctx, newTrade(500, 855), "alice", "bob", domain.SettlementTerms{})
	require.NoError(t, err)
	_, err = engine.Release(ctx, pending.SettlementID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEngine_DisputeLifecycle(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	s, err := engine.CreateSettlement(ctx, newTrade(1000, 855), "alice", "bob", escrowTerms())
	require.NoError(t, err)
	<-engine.EventOut

	t.Run("file", func(t *testing.T) {
		disputed, err := engine.FileDispute(ctx, s.SettlementID, "payment not received", "alice")
		require.NoError(t, err)

		assert.Equal(t, domain.SettlementStatusDisputed, disputed.Status)
		assert.True(t, disputed.Escrow.Locked)
		assert.True(t, disputed.EscrowConsistent())
		require.NotNil(t, disputed.Dispute)
		assert.Equal(t, domain.DisputeStatusOpen, disputed.Dispute.Status)
		assert.Equal(t, "alice", disputed.Dispute.FiledBy)

		event := <-engine.EventOut
		assert.Equal(t, domain.SettlementEventDisputed, event.Type)
	})

	t.Run("second active dispute conflicts", func(t *testing.T) {
		_, err := engine.FileDispute(ctx, s.SettlementID, "another reason", "bob")
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("release while disputed fails", func(t *testing.T) {
		_, err := engine.Release(ctx, s.SettlementID)
		assert.ErrorIs(t, err, domain.ErrInvalidState)

		// Only ResolveDispute exits the disputed state.
		got, err := engine.GetSettlement(ctx, s.SettlementID)
		require.NoError(t, err)
		assert.Equal(t, domain.SettlementStatusDisputed, got.Status)
		assert.Equal(t, domain.DisputeStatusOpen, got.Dispute.Status)
		assert.True(t, got.Escrow.Locked)
	})

	t.Run("evidence", func(t *testing.T) {
		got, err := engine.SubmitEvidence(ctx, s.SettlementID, domain.Evidence{
			Type:        "screenshot",
			Description: "bank transfer receipt",
			SubmittedBy: "bob",
		})
		require.NoError(t, err)
		require.Len(t, got.Dispute.Evidence, 1)
		assert.False(t, got.Dispute.Evidence[0].SubmittedAt.IsZero())
		<-engine.EventOut
	})

	t.Run("escalate is idempotent", func(t *testing.T) {
		got, err := engine.EscalateDispute(ctx, s.SettlementID)
		require.NoError(t, err)
		assert.Equal(t, domain.DisputeStatusEscalated, got.Dispute.Status)

		again, err := engine.EscalateDispute(ctx, s.SettlementID)
		require.NoError(t, err)
		assert.Equal(t, domain.DisputeStatusEscalated, again.Dispute.Status)
	})

	t.Run("resolve in favor of buyer", func(t *testing.T) {
		resolved, err := engine.ResolveDispute(ctx, s.SettlementID, domain.ResolutionInFavorA, "mediator1")
		require.NoError(t, err)

		assert.Equal(t, domain.SettlementStatusReleased, resolved.Status)
		assert.False(t, resolved.Escrow.Locked)
		assert.Equal(t, domain.DisputeStatusResolved, resolved.Dispute.Status)
		assert.Equal(t, domain.ResolutionInFavorA, resolved.Dispute.Resolution)
		assert.Equal(t, "mediator1", resolved.Dispute.Mediator)
		require.NotNil(t, resolved.CompletedAt)

		event := <-engine.EventOut
		assert.Equal(t, domain.SettlementEventResolved, event.Type)
	})

	t.Run("resolve twice fails", func(t *testing.T) {
		_, err := engine.ResolveDispute(ctx, s.SettlementID, domain.ResolutionSplit, "mediator1")
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("evidence after resolution fails", func(t *testing.T) {
		_, err := engine.SubmitEvidence(ctx, s.SettlementID, domain.Evidence{SubmittedBy: "bob"})
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})
}

func TestEngine_ResolveInFavorOfSeller_Cancels(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	s, err := engine.CreateSettlement(ctx, newTrade(1000, 855), "alice", "bob", escrowTerms())
	require.NoError(t, err)
	_, err = engine.FileDispute(ctx, s.SettlementID, "item not as described", "bob")
	require.NoError(t, err)

	resolved, err := engine.ResolveDispute(ctx, s.SettlementID, domain.ResolutionInFavorB, "mediator1")
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusCancelled, resolved.Status)
	assert.False(t, resolved.Escrow.Locked)
}

func TestEngine_DisputeOnTerminalSettlement(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	s, err := engine.CreateSettlement(ctx, newTrade(1000, 855), "alice", "bob", escrowTerms())
	require.NoError(t, err)
	_, err = engine.Release(ctx, s.SettlementID)
	require.NoError(t, err)

	_, err = engine.FileDispute(ctx, s.SettlementID, "too late", "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEngine_ReleaseFunds(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	t.Run("full release on pending", func(t *testing.T) {
		s, err := engine.CreateSettlement(ctx, newTrade(1000, 855), "alice", "bob", domain.SettlementTerms{})
		require.NoError(t, err)

		released, err := engine.ReleaseFunds(ctx, s.SettlementID, 100)
		require.NoError(t, err)
		assert.Equal(t, domain.SettlementStatusReleased, released.Status)
		assert.Equal(t, released.TotalValue, released.ReleasedAmount)
		require.NotNil(t, released.CompletedAt)
	})

	t.Run("partial releases accumulate", func(t *testing.T) {
		s, err := engine.CreateSettlement(ctx, newTrade(1000, 855), "alice", "bob", escrowTerms())
		require.NoError(t, err)

		partial, err := engine.ReleaseFunds(ctx, s.SettlementID, 40)
		require.NoError(t, err)
		assert.Equal(t, domain.SettlementStatusEscrow, partial.Status)
		assert.Equal(t, s.TotalValue*40/100, partial.ReleasedAmount)

		full, err := engine.ReleaseFunds(ctx, s.SettlementID, 60)
		require.NoError(t, err)
		assert.Equal(t, domain.SettlementStatusReleased, full.Status)
		assert.Equal(t, s.TotalValue, full.ReleasedAmount)
	})

	t.Run("rejected on disputed settlement", func(t *testing.T) {
		s, err := engine.CreateSettlement(ctx, newTrade(1000, 855), "alice", "bob", escrowTerms())
		require.NoError(t, err)
		_, err = engine.FileDispute(ctx, s.SettlementID, "hold it", "alice")
		require.NoError(t, err)

		_, err = engine.ReleaseFunds(ctx, s.SettlementID, 100)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})
}

func TestEngine_Cancel(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	s, err := engine.CreateSettlement(ctx, newTrade(1000, 855), "alice", "bob", escrowTerms())
	require.NoError(t, err)

	cancelled, err := engine.Cancel(ctx, s.SettlementID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusCancelled, cancelled.Status)
	assert.False(t, cancelled.Escrow.Locked)

	_, err = engine.Cancel(ctx, s.SettlementID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEngine_ExpireSweep(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	pending, err := engine.CreateSettlement(ctx, newTrade(1000, 855), "alice", "bob", domain.SettlementTerms{})
	require.NoError(t, err)
	escrowed, err := engine.CreateSettlement(ctx, newTrade(500, 855), "carol", "dave", escrowTerms())
	require.NoError(t, err)
	disputed, err := engine.CreateSettlement(ctx, newTrade(200, 855), "erin", "frank", escrowTerms())
	require.NoError(t, err)
	_, err = engine.FileDispute(ctx, disputed.SettlementID, "held open", "erin")
	require.NoError(t, err)

	assert.Equal(t, 0, engine.ExpireSweep(ctx, time.Now()))

	future := time.Now().Add(8 * 24 * time.Hour)
	assert.Equal(t, 2, engine.ExpireSweep(ctx, future))
	// Idempotent.
	assert.Equal(t, 0, engine.ExpireSweep(ctx, future))

	for _, id := range []string{pending.SettlementID, escrowed.SettlementID} {
		got, err := engine.GetSettlement(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.SettlementStatusExpired, got.Status)
		assert.False(t, got.Escrow.Locked)
	}

	// Disputed settlements are never expired out from under a mediator.
	got, err := engine.GetSettlement(ctx, disputed.SettlementID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusDisputed, got.Status)
}
