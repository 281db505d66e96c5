package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stableflow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const settlementColumns = `id, transaction_id, status, retry_count, max_retries, next_retry_at,
		COALESCE(last_error, ''), work_item, applied_mutations, reservation_released, created_at, updated_at`

// SettlementLogRepo implements ports.SettlementLogRepository.
type SettlementLogRepo struct {
	pool Pool
	now  func() time.Time
}

// NewSettlementLogRepo creates a new SettlementLogRepo.
func NewSettlementLogRepo(pool Pool) *SettlementLogRepo {
	return &SettlementLogRepo{pool: pool, now: time.Now}
}

// GetOrCreateForUpdate inserts a RECEIVED log if the transaction has none, then locks it.
func (r *SettlementLogRepo) GetOrCreateForUpdate(ctx context.Context, tx pgx.Tx, item domain.WorkItem, maxRetries int) (*domain.SettlementLog, error) {
	itemJSON, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshal work item: %w", err)
	}

	query := `INSERT INTO settlement_logs (id, transaction_id, status, retry_count, max_retries, work_item,
			applied_mutations, reservation_released, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, '[]', FALSE, $6, $6)
		ON CONFLICT (transaction_id) DO NOTHING`

	_, err = tx.Exec(ctx, query,
		uuid.New(), item.TransactionID, string(domain.SettlementStatusReceived),
		maxRetries, string(itemJSON), r.now().UTC(),
	)
	if err != nil {
		return nil, wrapErr("insert settlement log", err)
	}

	log, err := r.GetForUpdate(ctx, tx, item.TransactionID)
	if err != nil {
		return nil, err
	}
	if log == nil {
		return nil, fmt.Errorf("settlement log for %s vanished after insert", item.TransactionID)
	}
	return log, nil
}

// GetForUpdate locks the log row of a transaction.
func (r *SettlementLogRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) (*domain.SettlementLog, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlement_logs WHERE transaction_id = $1 FOR UPDATE`
	return scanSettlementLog(tx.QueryRow(ctx, query, transactionID))
}

// Get reads the log of a transaction without locking.
func (r *SettlementLogRepo) Get(ctx context.Context, transactionID uuid.UUID) (*domain.SettlementLog, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlement_logs WHERE transaction_id = $1`
	return scanSettlementLog(r.pool.QueryRow(ctx, query, transactionID))
}

// Update persists the mutable fields of log and stamps UpdatedAt.
func (r *SettlementLogRepo) Update(ctx context.Context, tx pgx.Tx, log *domain.SettlementLog) error {
	mutations := log.AppliedMutations
	if mutations == nil {
		mutations = []domain.AppliedMutation{}
	}
	mutationsJSON, err := json.Marshal(mutations)
	if err != nil {
		return fmt.Errorf("marshal applied mutations: %w", err)
	}

	log.UpdatedAt = r.now().UTC()
	query := `UPDATE settlement_logs
		SET status = $1, retry_count = $2, next_retry_at = $3, last_error = NULLIF($4, ''),
			applied_mutations = $5, reservation_released = $6, updated_at = $7
		WHERE id = $8`

	tag, err := tx.Exec(ctx, query,
		string(log.Status), log.RetryCount, log.NextRetryAt, log.LastError,
		string(mutationsJSON), log.ReservationReleased, log.UpdatedAt, log.ID,
	)
	if err != nil {
		return wrapErr("update settlement log", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("settlement log %s not found", log.ID)
	}
	return nil
}

// MarkReservationReleased records that the limit reservation of a failed transaction was returned.
func (r *SettlementLogRepo) MarkReservationReleased(ctx context.Context, transactionID uuid.UUID) error {
	query := `UPDATE settlement_logs SET reservation_released = TRUE, updated_at = $1 WHERE transaction_id = $2`
	_, err := r.pool.Exec(ctx, query, r.now().UTC(), transactionID)
	return wrapErr("mark reservation released", err)
}

// ListByStatus returns a page of logs in status, most recently updated first.
func (r *SettlementLogRepo) ListByStatus(ctx context.Context, status domain.SettlementStatus, limit, offset int) ([]domain.SettlementLog, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM settlement_logs WHERE status = $1`, string(status),
	).Scan(&total); err != nil {
		return nil, 0, wrapErr("count settlement logs", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+settlementColumns+` FROM settlement_logs WHERE status = $1
		ORDER BY updated_at DESC LIMIT $2 OFFSET $3`,
		string(status), limit, offset,
	)
	if err != nil {
		return nil, 0, wrapErr("list settlement logs", err)
	}
	defer rows.Close()

	var logs []domain.SettlementLog
	for rows.Next() {
		log, err := scanSettlementLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, *log)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrapErr("iterate settlement logs", err)
	}
	return logs, total, nil
}

func scanSettlementLog(row pgx.Row) (*domain.SettlementLog, error) {
	l := &domain.SettlementLog{}
	var status string
	var itemJSON, mutationsJSON []byte
	err := row.Scan(
		&l.ID, &l.TransactionID, &status, &l.RetryCount, &l.MaxRetries, &l.NextRetryAt,
		&l.LastError, &itemJSON, &mutationsJSON, &l.ReservationReleased, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("scan settlement log", err)
	}
	l.Status = domain.SettlementStatus(status)
	if err := json.Unmarshal(itemJSON, &l.WorkItem); err != nil {
		return nil, fmt.Errorf("decode work item: %w", err)
	}
	if len(mutationsJSON) > 0 {
		if err := json.Unmarshal(mutationsJSON, &l.AppliedMutations); err != nil {
			return nil, fmt.Errorf("decode applied mutations: %w", err)
		}
	}
	return l, nil
}
