package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanyu/p2p-exchange/internal/domain"
)

func TestMemoryOrderStore(t *testing.T) {
	s := NewMemoryOrderStore()
	ctx := context.Background()

	order := &domain.Order{
		OrderID:  "o1",
		TraderID: "alice",
		Symbol:   "USDT-TWD",
		Side:     domain.SideBuy,
		Price:    850,
		Amount:   1000,
		Status:   domain.OrderStatusOpen,
	}
	require.NoError(t, s.Save(ctx, order))

	t.Run("duplicate save conflicts", func(t *testing.T) {
		assert.ErrorIs(t, s.Save(ctx, order), domain.ErrConflict)
	})

	t.Run("get returns a copy", func(t *testing.T) {
		got, err := s.Get(ctx, "o1")
		require.NoError(t, err)
		got.Status = domain.OrderStatusCancelled

		again, err := s.Get(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusOpen, again.Status)
	})

	t.Run("update unknown order", func(t *testing.T) {
		err := s.Update(ctx, &domain.Order{OrderID: "missing"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("list", func(t *testing.T) {
		orders, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, orders, 1)
	})
}

func newSettlement(id string) *domain.Settlement {
	return &domain.Settlement{
		SettlementID: id,
		TradeID:      "t1",
		PartyA:       "alice",
		PartyB:       "bob",
		Amount:       1000,
		Price:        855,
		TotalValue:   855_000,
		Status:       domain.SettlementStatusPending,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(24 * time.Hour),
	}
}

func TestMemorySettlementStore_CAS(t *testing.T) {
	s := NewMemorySettlementStore()
	ctx := context.Background()

	settlement := newSettlement("st1")
	require.NoError(t, s.Save(ctx, settlement))
	assert.Equal(t, uint64(1), settlement.Version)

	// Two readers grab the same version.
	first, err := s.Get(ctx, "st1")
	require.NoError(t, err)
	second, err := s.Get(ctx, "st1")
	require.NoError(t, err)

	first.Status = domain.SettlementStatusEscrow
	require.NoError(t, s.Update(ctx, first))
	assert.Equal(t, uint64(2), first.Version)

	// The stale writer loses.
	second.Status = domain.SettlementStatusCancelled
	err = s.Update(ctx, second)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := s.Get(ctx, "st1")
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusEscrow, got.Status)
	assert.Equal(t, uint64(2), got.Version)
}

func TestMemorySettlementStore_DeepCopy(t *testing.T) {
	s := NewMemorySettlementStore()
	ctx := context.Background()

	settlement := newSettlement("st1")
	settlement.Dispute = &domain.Dispute{
		Reason:   "payment not received",
		FiledBy:  "alice",
		Status:   domain.DisputeStatusOpen,
		Evidence: []domain.Evidence{{Type: "screenshot", SubmittedBy: "alice"}},
	}
	require.NoError(t, s.Save(ctx, settlement))

	got, err := s.Get(ctx, "st1")
	require.NoError(t, err)
	got.Dispute.Evidence = append(got.Dispute.Evidence, domain.Evidence{Type: "bank_statement"})

	again, err := s.Get(ctx, "st1")
	require.NoError(t, err)
	assert.Len(t, again.Dispute.Evidence, 1)
}

func TestMemorySettlementStore_Delete(t *testing.T) {
	s := NewMemorySettlementStore()
	ctx := context.Background()

	settlement := newSettlement("st1")
	require.NoError(t, s.Save(ctx, settlement))

	// Non-terminal settlements cannot be deleted.
	err := s.Delete(ctx, "st1")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	got, err := s.Get(ctx, "st1")
	require.NoError(t, err)
	got.Status = domain.SettlementStatusCancelled
	require.NoError(t, s.Update(ctx, got))

	require.NoError(t, s.Delete(ctx, "st1"))
	_, err = s.Get(ctx, "st1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryTaskStore(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()

	task := &domain.AutomationTask{
		TaskID:       "task1",
		SettlementID: "st1",
		Trigger:      domain.TriggerTimeBased,
		Status:       domain.TaskStatusActive,
	}
	require.NoError(t, s.Save(ctx, task))

	paused := &domain.AutomationTask{
		TaskID:       "task2",
		SettlementID: "st1",
		Trigger:      domain.TriggerManual,
		Status:       domain.TaskStatusPaused,
	}
	require.NoError(t, s.Save(ctx, paused))

	t.Run("list active", func(t *testing.T) {
		active, err := s.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "task1", active[0].TaskID)
	})

	t.Run("list by settlement", func(t *testing.T) {
		tasks, err := s.ListBySettlement(ctx, "st1")
		require.NoError(t, err)
		assert.Len(t, tasks, 2)
	})

	t.Run("stale update conflicts", func(t *testing.T) {
		first, err := s.Get(ctx, "task1")
		require.NoError(t, err)
		second, err := s.Get(ctx, "task1")
		require.NoError(t, err)

		first.Status = domain.TaskStatusCompleted
		require.NoError(t, s.Update(ctx, first))

		second.Status = domain.TaskStatusFailed
		assert.ErrorIs(t, s.Update(ctx, second), domain.ErrConflict)
	})

	t.Run("execution log is copied", func(t *testing.T) {
		got, err := s.Get(ctx, "task2")
		require.NoError(t, err)
		got.ExecutionLog = append(got.ExecutionLog, domain.ExecutionLogEntry{Event: "evaluated"})

		again, err := s.Get(ctx, "task2")
		require.NoError(t, err)
		assert.Empty(t, again.ExecutionLog)
	})
}
