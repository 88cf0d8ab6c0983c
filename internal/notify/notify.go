// Package notify delivers outbound settlement notifications to the embedding
// application. The core engines only depend on the Notifier interface; the
// NATS implementation is wired in by the server.
package notify

import (
	"context"

	"github.com/nathanyu/p2p-exchange/internal/domain"
)

// Notifier is the outbound notification collaborator. Implementations must
// not mutate settlement state.
type Notifier interface {
	// NotifyParties informs both settlement parties of a message.
	NotifyParties(ctx context.Context, s *domain.Settlement, message string) error
	// PublishEvent broadcasts a settlement state change.
	PublishEvent(ctx context.Context, event *domain.SettlementEvent) error
}

// Noop is a Notifier that discards everything. Used when no broker is
// configured and in tests.
type Noop struct{}

func (Noop) NotifyParties(context.Context, *domain.Settlement, string) error { return nil }

func (Noop) PublishEvent(context.Context, *domain.SettlementEvent) error { return nil }
