package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nathanyu/p2p-exchange/internal/domain"
	"github.com/nathanyu/p2p-exchange/internal/telemetry"
)

const settlementKeyPrefix = "settlement:"

// RedisSettlementStore is a SettlementStore backed by Redis. Settlements are
// stored as JSON; Update uses WATCH so two concurrent writers cannot both
// observe the same version and both transition the settlement.
type RedisSettlementStore struct {
	client *redis.Client
}

// NewRedisSettlementStore creates a settlement store on an existing client.
func NewRedisSettlementStore(client *redis.Client) *RedisSettlementStore {
	return &RedisSettlementStore{client: client}
}

func settlementKey(settlementID string) string {
	return settlementKeyPrefix + settlementID
}

func (r *RedisSettlementStore) span(ctx context.Context, op string) (context.Context, trace.Span) {
	if telemetry.Tracer == nil {
		return ctx, nil
	}
	return telemetry.Tracer.Start(ctx, "redis."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", op),
		),
	)
}

func (r *RedisSettlementStore) Save(ctx context.Context, s *domain.Settlement) error {
	ctx, span := r.span(ctx, "SETNX")
	if span != nil {
		defer span.End()
	}

	s.Version = 1
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement: %w", err)
	}

	ok, err := r.client.SetNX(ctx, settlementKey(s.SettlementID), data, 0).Result()
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to save settlement")
		}
		return fmt.Errorf("failed to save settlement: %w", err)
	}
	if !ok {
		return fmt.Errorf("settlement %s: %w", s.SettlementID, domain.ErrConflict)
	}
	return nil
}

func (r *RedisSettlementStore) Get(ctx context.Context, settlementID string) (*domain.Settlement, error) {
	ctx, span := r.span(ctx, "GET")
	if span != nil {
		defer span.End()
	}

	data, err := r.client.Get(ctx, settlementKey(settlementID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("settlement %s: %w", settlementID, domain.ErrNotFound)
	}
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to get settlement")
		}
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}

	var s domain.Settlement
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}
	return &s, nil
}

// Update performs the optimistic write inside a WATCH transaction. The stored
// version must equal the version the caller read; the write bumps it.
func (r *RedisSettlementStore) Update(ctx context.Context, s *domain.Settlement) error {
	ctx, span := r.span(ctx, "WATCH")
	if span != nil {
		defer span.End()
	}

	key := settlementKey(s.SettlementID)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("settlement %s: %w", s.SettlementID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read settlement: %w", err)
		}

		var stored domain.Settlement
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("failed to unmarshal settlement: %w", err)
		}
		if stored.Version != s.Version {
			return fmt.Errorf("settlement %s version %d != %d: %w",
				s.SettlementID, s.Version, stored.Version, domain.ErrConflict)
		}

		s.Version++
		updated, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to marshal settlement: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// Key changed between read and write.
		return fmt.Errorf("settlement %s: %w", s.SettlementID, domain.ErrConflict)
	}
	if err != nil && span != nil && !errors.Is(err, domain.ErrConflict) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update settlement")
	}
	return err
}

func (r *RedisSettlementStore) List(ctx context.Context) ([]*domain.Settlement, error) {
	ctx, span := r.span(ctx, "SCAN")
	if span != nil {
		defer span.End()
	}

	var result []*domain.Settlement
	iter := r.client.Scan(ctx, 0, settlementKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // deleted between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get settlement: %w", err)
		}
		var s domain.Settlement
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settlement: %w", err)
		}
		result = append(result, &s)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan settlements: %w", err)
	}
	return result, nil
}

func (r *RedisSettlementStore) Delete(ctx context.Context, settlementID string) error {
	s, err := r.Get(ctx, settlementID)
	if err != nil {
		return err
	}
	if s.Status != domain.SettlementStatusCancelled && s.Status != domain.SettlementStatusExpired {
		return fmt.Errorf("settlement %s is %s: %w", settlementID, s.Status, domain.ErrInvalidState)
	}
	return r.client.Del(ctx, settlementKey(settlementID)).Err()
}
