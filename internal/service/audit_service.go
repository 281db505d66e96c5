package service

import (
	"context"
	"encoding/json"
	"fmt"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuditService records audit entries and doubles as the settlement event sink for the
// audit trail.
type AuditService struct {
	repo ports.AuditRepository
	log  zerolog.Logger
}

// NewAuditService creates a new audit service.
// If repo is nil, audit logs are only written to the logger.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) *AuditService {
	return &AuditService{repo: repo, log: log}
}

// Log records an audit entry asynchronously (fire-and-forget).
func (s *AuditService) Log(ctx context.Context, entry *domain.AuditLog) {
	go func() {
		if err := s.write(context.WithoutCancel(ctx), entry); err != nil {
			s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist audit log")
		}
	}()
}

func (s *AuditService) Name() string { return "audit" }

// Publish appends a SETTLEMENT_COMPLETED or SETTLEMENT_FAILED entry for the event.
func (s *AuditService) Publish(ctx context.Context, event *domain.SettlementEvent) error {
	action := domain.AuditActionSettlementCompleted
	if event.Type == domain.EventSettlementFailed {
		action = domain.AuditActionSettlementFailed
	}
	details, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode settlement event: %w", err)
	}
	return s.write(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Action:       action,
		ResourceType: "transaction",
		ResourceID:   event.TransactionID.String(),
		Details:      string(details),
		CreatedAt:    event.OccurredAt,
	})
}

func (s *AuditService) write(ctx context.Context, entry *domain.AuditLog) error {
	s.log.Info().
		Str("action", string(entry.Action)).
		Str("actor", entry.ActorID).
		Str("resource_type", entry.ResourceType).
		Str("resource_id", entry.ResourceID).
		Msg("audit")

	if s.repo == nil {
		return nil
	}
	return s.repo.Create(ctx, entry)
}
