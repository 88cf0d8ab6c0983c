// Package store defines the persistence interfaces for orders, settlements
// and automation tasks, plus reference implementations. The engines are
// storage-agnostic: any implementation providing per-key atomic
// read-snapshot / conditional-write semantics can be plugged in.
package store

import (
	"context"

	"github.com/nathanyu/p2p-exchange/internal/domain"
)

// OrderStore holds order records and their mutable fill state. Mutations are
// serialized per instrument by the matching engine, so no version field is
// needed; implementations must still copy on read so callers never share
// memory with the store.
type OrderStore interface {
	Save(ctx context.Context, order *domain.Order) error
	Get(ctx context.Context, orderID string) (*domain.Order, error)
	Update(ctx context.Context, order *domain.Order) error
	List(ctx context.Context) ([]*domain.Order, error)
}

// SettlementStore holds settlement records. Update performs an optimistic
// compare-and-swap on the settlement's Version field: it fails with
// domain.ErrConflict when the stored version differs from the version the
// caller read, and bumps the version on success.
type SettlementStore interface {
	Save(ctx context.Context, s *domain.Settlement) error
	Get(ctx context.Context, settlementID string) (*domain.Settlement, error)
	Update(ctx context.Context, s *domain.Settlement) error
	List(ctx context.Context) ([]*domain.Settlement, error)
	Delete(ctx context.Context, settlementID string) error
}

// TaskStore holds automation tasks with the same CAS semantics as the
// settlement store.
type TaskStore interface {
	Save(ctx context.Context, t *domain.AutomationTask) error
	Get(ctx context.Context, taskID string) (*domain.AutomationTask, error)
	Update(ctx context.Context, t *domain.AutomationTask) error
	ListActive(ctx context.Context) ([]*domain.AutomationTask, error)
	ListBySettlement(ctx context.Context, settlementID string) ([]*domain.AutomationTask, error)
}
