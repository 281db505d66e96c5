package ports

import (
	"context"

	"stableflow/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// SettlementQueue is the at-least-once delivery queue for settlement work.
type SettlementQueue interface {
	// EnqueueTx schedules item inside tx; it becomes visible to workers only if tx commits.
	EnqueueTx(ctx context.Context, tx pgx.Tx, item domain.WorkItem) error
}

// EventSink receives settlement events. Sinks are called off the settlement path.
type EventSink interface {
	Name() string
	Publish(ctx context.Context, event *domain.SettlementEvent) error
}

// EventPublisher hands events to every sink without blocking the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.SettlementEvent)
}
