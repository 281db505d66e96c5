package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stableflow/internal/core/domain"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// OutcomeCache implements ports.OutcomeCache. Only final outcomes are stored; the
// settlement log stays authoritative.
type OutcomeCache struct {
	client goredis.UniversalClient
	prefix string
}

// NewOutcomeCache creates a Redis-backed settlement outcome cache.
func NewOutcomeCache(client goredis.UniversalClient) *OutcomeCache {
	return &OutcomeCache{client: client, prefix: "settlement:outcome:"}
}

func (c *OutcomeCache) Get(ctx context.Context, transactionID uuid.UUID) (*domain.SettlementOutcome, error) {
	raw, err := c.client.Get(ctx, c.prefix+transactionID.String()).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis outcome get: %w", err)
	}
	var out domain.SettlementOutcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode cached outcome: %w", err)
	}
	return &out, nil
}

func (c *OutcomeCache) Set(ctx context.Context, outcome *domain.SettlementOutcome, ttl time.Duration) error {
	raw, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+outcome.TransactionID.String(), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis outcome set: %w", err)
	}
	return nil
}
