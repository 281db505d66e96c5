package service

import (
	"context"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/apperror"
)

// reportingService implements ports.ReportingService.
type reportingService struct {
	txRepo ports.TransactionRepository
	now    func() time.Time
}

// NewReportingService creates a new reporting service.
func NewReportingService(txRepo ports.TransactionRepository) ports.ReportingService {
	return &reportingService{txRepo: txRepo, now: time.Now}
}

// GetStats returns aggregated stats over the owner's outgoing transactions.
func (s *reportingService) GetStats(ctx context.Context, caller domain.Caller, ownerID string, period string) (*ports.TransactionStats, error) {
	ownerID, err := scopeOwner(caller, ownerID)
	if err != nil {
		return nil, err
	}
	if ownerID == "" {
		return nil, apperror.Validation("owner_id is required")
	}

	var periodStart *time.Time
	now := s.now().UTC()
	switch period {
	case "day":
		t := now.AddDate(0, 0, -1)
		periodStart = &t
	case "week":
		t := now.AddDate(0, 0, -7)
		periodStart = &t
	case "month":
		t := now.AddDate(0, -1, 0)
		periodStart = &t
	case "all", "":
		// No time filter
	default:
		return nil, apperror.Validation("invalid period: must be day, week, month, or all")
	}

	stats, err := s.txRepo.GetStats(ctx, ownerID, periodStart)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return stats, nil
}

// ListTransactions returns a page of transactions. Non-admin callers only see their own.
func (s *reportingService) ListTransactions(ctx context.Context, caller domain.Caller, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	owner, err := scopeOwner(caller, params.OwnerID)
	if err != nil {
		return nil, 0, err
	}
	params.OwnerID = owner
	params.Limit, params.Offset = clampPage(params.Limit, params.Offset)
	if params.From != nil && params.To != nil && params.From.After(*params.To) {
		return nil, 0, apperror.Validation("from must not be after to")
	}

	txns, total, err := s.txRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return txns, total, nil
}

// scopeOwner resolves which owner a read applies to.
func scopeOwner(caller domain.Caller, requested string) (string, error) {
	if caller.Role.IsAdmin() {
		return requested, nil
	}
	if requested != "" && requested != caller.OwnerID {
		return "", apperror.ErrForbidden()
	}
	return caller.OwnerID, nil
}
