package service

import (
	"context"
	"encoding/json"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/apperror"

	"github.com/google/uuid"
)

type limitService struct {
	limits ports.LimitTracker
	audit  ports.AuditService
}

// NewLimitService exposes the configured limit tracker to callers.
func NewLimitService(limits ports.LimitTracker, audit ports.AuditService) ports.LimitService {
	return &limitService{limits: limits, audit: audit}
}

func (s *limitService) Get(ctx context.Context, caller domain.Caller, ownerID string) (*domain.LimitCounter, error) {
	if ownerID == "" {
		return nil, apperror.Validation("owner_id is required")
	}
	if !caller.CanActFor(ownerID) {
		return nil, apperror.ErrForbidden()
	}
	counter, err := s.limits.Get(ctx, ownerID)
	if err != nil {
		return nil, internalError("get limits", err)
	}
	return counter, nil
}

func (s *limitService) Update(ctx context.Context, caller domain.Caller, ownerID string, update ports.LimitUpdate) (*domain.LimitCounter, error) {
	if !caller.Role.IsAdmin() {
		return nil, apperror.ErrForbidden()
	}
	if ownerID == "" {
		return nil, apperror.Validation("owner_id is required")
	}
	if update.DailyLimit == nil && update.MonthlyLimit == nil && update.Active == nil {
		return nil, apperror.Validation("nothing to update")
	}
	if update.DailyLimit != nil && !update.DailyLimit.IsPositive() {
		return nil, apperror.Validation("daily_limit must be positive")
	}
	if update.MonthlyLimit != nil && !update.MonthlyLimit.IsPositive() {
		return nil, apperror.Validation("monthly_limit must be positive")
	}
	if update.DailyLimit != nil && update.MonthlyLimit != nil && update.DailyLimit.GreaterThan(*update.MonthlyLimit) {
		return nil, apperror.Validation("daily_limit must not exceed monthly_limit")
	}

	counter, err := s.limits.Update(ctx, ownerID, update)
	if err != nil {
		return nil, internalError("update limits", err)
	}

	details, _ := json.Marshal(map[string]interface{}{
		"daily_limit":   counter.DailyLimit,
		"monthly_limit": counter.MonthlyLimit,
		"active":        counter.Active,
	})
	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		ActorID:      caller.OwnerID,
		Action:       domain.AuditActionLimitUpdated,
		ResourceType: "limit",
		ResourceID:   ownerID,
		Details:      string(details),
		CreatedAt:    time.Now().UTC(),
	})
	return counter, nil
}
