package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, kind, COALESCE(source_owner, ''), COALESCE(destination_owner, ''), currency,
		amount, fee, status, COALESCE(reference_id, ''), COALESCE(description, ''), batch_id,
		COALESCE(idempotency_key, ''), requested_by, COALESCE(failure_reason, ''), created_at, processed_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a new transaction within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (id, kind, source_owner, destination_owner, currency, amount, fee, status,
		reference_id, description, batch_id, idempotency_key, requested_by, failure_reason, created_at, processed_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8,
		NULLIF($9, ''), NULLIF($10, ''), $11, NULLIF($12, ''), $13, NULLIF($14, ''), $15, $16)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.Kind, t.SourceOwner, t.DestinationOwner, t.Currency, t.Amount, t.Fee, t.Status,
		t.ReferenceID, t.Description, t.BatchID, t.IdempotencyKey, t.RequestedBy, t.FailureReason,
		t.CreatedAt, t.ProcessedAt,
	)
	return wrapErr("insert transaction", err)
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a transaction and locks its row until tx ends.
func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	return scanTransaction(tx.QueryRow(ctx, query, id))
}

// UpdateStatus updates a transaction's status within a database transaction.
func (r *TransactionRepo) UpdateStatus(
	ctx context.Context,
	tx pgx.Tx,
	id uuid.UUID,
	status domain.TransactionStatus,
	failureReason string,
	processedAt *time.Time,
) error {
	query := `UPDATE transactions SET status = $1, failure_reason = NULLIF($2, ''), processed_at = $3 WHERE id = $4`

	tag, err := tx.Exec(ctx, query, status, failureReason, processedAt, id)
	if err != nil {
		return wrapErr("update transaction status", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrTransactionNotFound()
	}
	return nil
}

// List fetches transactions with filtering and pagination.
func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.OwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("(source_owner = $%d OR destination_owner = $%d)", argIdx, argIdx))
		args = append(args, params.OwnerID)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, *params.Kind)
		argIdx++
	}
	if params.BatchID != nil {
		conditions = append(conditions, fmt.Sprintf("batch_id = $%d", argIdx))
		args = append(args, *params.BatchID)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, wrapErr("count transactions", err)
	}

	dataQuery := fmt.Sprintf(`SELECT %s FROM transactions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, where, argIdx, argIdx+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, wrapErr("list transactions", err)
	}
	defer rows.Close()

	txns := []domain.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, total, nil
}

// GetStats aggregates an owner's outgoing transactions since periodStart (all time when nil).
func (r *TransactionRepo) GetStats(ctx context.Context, ownerID string, periodStart *time.Time) (*ports.TransactionStats, error) {
	args := []any{ownerID}
	condition := "source_owner = $1"
	if periodStart != nil {
		condition += " AND created_at >= $2"
		args = append(args, *periodStart)
	}

	query := fmt.Sprintf(`SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'COMPLETED') AS completed,
		COUNT(*) FILTER (WHERE status = 'FAILED') AS failed,
		COUNT(*) FILTER (WHERE status IN ('PENDING', 'PROCESSING')) AS in_flight,
		COUNT(*) FILTER (WHERE status = 'CANCELLED') AS cancelled,
		COALESCE(SUM(amount) FILTER (WHERE status = 'COMPLETED'), 0) AS volume,
		COALESCE(SUM(fee) FILTER (WHERE status = 'COMPLETED'), 0) AS fees
		FROM transactions WHERE %s`, condition)

	stats := &ports.TransactionStats{}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&stats.Total, &stats.Completed, &stats.Failed, &stats.InFlight, &stats.Cancelled,
		&stats.CompletedVolume, &stats.FeesPaid,
	)
	if err != nil {
		return nil, wrapErr("get transaction stats", err)
	}
	return stats, nil
}

// scanTransaction scans a single row into a Transaction. Returns nil, nil on no rows.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := row.Scan(
		&t.ID, &t.Kind, &t.SourceOwner, &t.DestinationOwner, &t.Currency,
		&t.Amount, &t.Fee, &t.Status, &t.ReferenceID, &t.Description, &t.BatchID,
		&t.IdempotencyKey, &t.RequestedBy, &t.FailureReason, &t.CreatedAt, &t.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("scan transaction", err)
	}
	return t, nil
}
