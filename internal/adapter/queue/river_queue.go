package queue

import (
	"context"
	"fmt"

	"stableflow/config"
	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
)

// QueueSettlement is the River queue settlement jobs run on.
const QueueSettlement = "settlement"

// defaultMaxAttempts bounds River-level retries of attempts that could not even be recorded.
// Snoozes do not consume attempts.
const defaultMaxAttempts = 25

// SettlementArgs is the River job payload: one work item.
type SettlementArgs struct {
	Item domain.WorkItem `json:"item"`
}

// Kind implements river.JobArgs.
func (SettlementArgs) Kind() string { return "settlement" }

// Inserter is the part of *river.Client the queue needs.
type Inserter interface {
	InsertTx(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// RiverQueue implements ports.SettlementQueue on River's Postgres job table, so a job
// becomes visible only when the intake transaction commits.
type RiverQueue struct {
	client Inserter
}

// NewRiverQueue wraps a River client.
func NewRiverQueue(client Inserter) *RiverQueue {
	return &RiverQueue{client: client}
}

// EnqueueTx inserts a settlement job inside tx.
func (q *RiverQueue) EnqueueTx(ctx context.Context, tx pgx.Tx, item domain.WorkItem) error {
	_, err := q.client.InsertTx(ctx, tx, SettlementArgs{Item: item}, &river.InsertOpts{
		Queue:       QueueSettlement,
		MaxAttempts: defaultMaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("enqueue settlement %s: %w", item.TransactionID, err)
	}
	return nil
}

// NewClient builds the River client with the settlement worker registered.
func NewClient(pool *pgxpool.Pool, settlement ports.SettlementService, cfg config.SettlementConfig, log zerolog.Logger) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	if err := river.AddWorkerSafely(workers, NewSettlementWorker(settlement, cfg.ProcessingTimeout, log)); err != nil {
		return nil, fmt.Errorf("register settlement worker: %w", err)
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			QueueSettlement: {MaxWorkers: cfg.Workers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return client, nil
}
