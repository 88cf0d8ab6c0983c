package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/nathanyu/p2p-exchange/internal/domain"
)

// MemoryOrderStore is the in-memory reference OrderStore.
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

// NewMemoryOrderStore creates an empty in-memory order store.
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: make(map[string]*domain.Order)}
}

func (s *MemoryOrderStore) Save(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.OrderID]; exists {
		return fmt.Errorf("order %s: %w", order.OrderID, domain.ErrConflict)
	}
	cp := *order
	s.orders[order.OrderID] = &cp
	return nil
}

func (s *MemoryOrderStore) Get(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.orders[orderID]
	if !exists {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	cp := *order
	return &cp, nil
}

func (s *MemoryOrderStore) Update(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.OrderID]; !exists {
		return fmt.Errorf("order %s: %w", order.OrderID, domain.ErrNotFound)
	}
	cp := *order
	s.orders[order.OrderID] = &cp
	return nil
}

func (s *MemoryOrderStore) List(_ context.Context) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		cp := *order
		result = append(result, &cp)
	}
	return result, nil
}

// MemorySettlementStore is the in-memory reference SettlementStore with
// optimistic CAS on the Version field.
type MemorySettlementStore struct {
	mu          sync.RWMutex
	settlements map[string]*domain.Settlement
}

// NewMemorySettlementStore creates an empty in-memory settlement store.
func NewMemorySettlementStore() *MemorySettlementStore {
	return &MemorySettlementStore{settlements: make(map[string]*domain.Settlement)}
}

func copySettlement(s *domain.Settlement) *domain.Settlement {
	cp := *s
	if s.Dispute != nil {
		d := *s.Dispute
		d.Evidence = append([]domain.Evidence(nil), s.Dispute.Evidence...)
		cp.Dispute = &d
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Escrow.ReleaseConditions = append([]string(nil), s.Escrow.ReleaseConditions...)
	return &cp
}

func (s *MemorySettlementStore) Save(_ context.Context, settlement *domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.settlements[settlement.SettlementID]; exists {
		return fmt.Errorf("settlement %s: %w", settlement.SettlementID, domain.ErrConflict)
	}
	settlement.Version = 1
	s.settlements[settlement.SettlementID] = copySettlement(settlement)
	return nil
}

func (s *MemorySettlementStore) Get(_ context.Context, settlementID string) (*domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settlement, exists := s.settlements[settlementID]
	if !exists {
		return nil, fmt.Errorf("settlement %s: %w", settlementID, domain.ErrNotFound)
	}
	return copySettlement(settlement), nil
}

// Update writes the settlement back if the caller's version matches the
// stored version, then bumps the version. A mismatch means another writer
// got there first.
func (s *MemorySettlementStore) Update(_ context.Context, settlement *domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.settlements[settlement.SettlementID]
	if !exists {
		return fmt.Errorf("settlement %s: %w", settlement.SettlementID, domain.ErrNotFound)
	}
	if stored.Version != settlement.Version {
		return fmt.Errorf("settlement %s version %d != %d: %w",
			settlement.SettlementID, settlement.Version, stored.Version, domain.ErrConflict)
	}
	settlement.Version++
	s.settlements[settlement.SettlementID] = copySettlement(settlement)
	return nil
}

func (s *MemorySettlementStore) List(_ context.Context) ([]*domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Settlement, 0, len(s.settlements))
	for _, settlement := range s.settlements {
		result = append(result, copySettlement(settlement))
	}
	return result, nil
}

// Delete removes a settlement. Only terminal settlements may be deleted.
func (s *MemorySettlementStore) Delete(_ context.Context, settlementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settlement, exists := s.settlements[settlementID]
	if !exists {
		return fmt.Errorf("settlement %s: %w", settlementID, domain.ErrNotFound)
	}
	if settlement.Status != domain.SettlementStatusCancelled && settlement.Status != domain.SettlementStatusExpired {
		return fmt.Errorf("settlement %s is %s: %w", settlementID, settlement.Status, domain.ErrInvalidState)
	}
	delete(s.settlements, settlementID)
	return nil
}

// MemoryTaskStore is the in-memory reference TaskStore.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*domain.AutomationTask
}

// NewMemoryTaskStore creates an empty in-memory task store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*domain.AutomationTask)}
}

func copyTask(t *domain.AutomationTask) *domain.AutomationTask {
	cp := *t
	cp.Conditions = append([]domain.Condition(nil), t.Conditions...)
	cp.Actions = append([]domain.Action(nil), t.Actions...)
	cp.ExecutionLog = append([]domain.ExecutionLogEntry(nil), t.ExecutionLog...)
	return &cp
}

func (s *MemoryTaskStore) Save(_ context.Context, task *domain.AutomationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.TaskID]; exists {
		return fmt.Errorf("task %s: %w", task.TaskID, domain.ErrConflict)
	}
	task.Version = 1
	s.tasks[task.TaskID] = copyTask(task)
	return nil
}

func (s *MemoryTaskStore) Get(_ context.Context, taskID string) (*domain.AutomationTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	return copyTask(task), nil
}

func (s *MemoryTaskStore) Update(_ context.Context, task *domain.AutomationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.tasks[task.TaskID]
	if !exists {
		return fmt.Errorf("task %s: %w", task.TaskID, domain.ErrNotFound)
	}
	if stored.Version != task.Version {
		return fmt.Errorf("task %s version %d != %d: %w",
			task.TaskID, task.Version, stored.Version, domain.ErrConflict)
	}
	task.Version++
	s.tasks[task.TaskID] = copyTask(task)
	return nil
}

func (s *MemoryTaskStore) ListActive(_ context.Context) ([]*domain.AutomationTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AutomationTask
	for _, task := range s.tasks {
		if task.Status == domain.TaskStatusActive {
			result = append(result, copyTask(task))
		}
	}
	return result, nil
}

func (s *MemoryTaskStore) ListBySettlement(_ context.Context, settlementID string) ([]*domain.AutomationTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AutomationTask
	for _, task := range s.tasks {
		if task.SettlementID == settlementID {
			result = append(result, copyTask(task))
		}
	}
	return result, nil
}
