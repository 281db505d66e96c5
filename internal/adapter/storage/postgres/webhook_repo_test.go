package postgres

import (
	"context"
	"testing"
	"time"

	"stableflow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookRepo_CreateAndUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookRepo(mock)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	entry := &domain.WebhookDeliveryLog{
		ID:            uuid.New(),
		EventID:       uuid.New(),
		TransactionID: uuid.New(),
		WebhookURL:    "https://hooks.example.com/ledger",
		Payload:       `{"event_type":"settlement.completed"}`,
		Status:        domain.WebhookStatusPending,
		CreatedAt:     fixed,
		UpdatedAt:     fixed,
	}

	mock.ExpectExec("INSERT INTO webhook_delivery_logs").
		WithArgs(anyArgs(12)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.Create(context.Background(), entry))

	status := 200
	entry.HTTPStatus = &status
	entry.Attempt = 1
	entry.Status = domain.WebhookStatusDelivered

	mock.ExpectExec("UPDATE webhook_delivery_logs").
		WithArgs(&status, 1, "DELIVERED", pgxmock.AnyArg(), pgxmock.AnyArg(), fixed, entry.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.Update(context.Background(), entry))

	assert.Equal(t, fixed, entry.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookRepo_GetByTransactionID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookRepo(mock)
	txID := uuid.New()
	now := time.Now().UTC()

	cols := []string{"id", "event_id", "transaction_id", "webhook_url", "payload",
		"http_status", "attempt", "status", "next_retry_at", "last_error", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT .+ FROM webhook_delivery_logs").
		WithArgs(txID).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(uuid.New(), uuid.New(), txID, "https://hooks.example.com", `{}`,
				nil, 2, "FAILED", nil, nil, now, now))

	logs, err := repo.GetByTransactionID(context.Background(), txID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.WebhookStatusFailed, logs[0].Status)
	assert.Equal(t, 2, logs[0].Attempt)
	assert.Nil(t, logs[0].HTTPStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}
