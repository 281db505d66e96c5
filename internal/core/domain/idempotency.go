package domain

import (
	"time"
)

// IdempotencyLog maps a caller's idempotency key to the intake response it produced.
type IdempotencyLog struct {
	Key          string    `json:"key"` // Format: "owner_id:idempotency_key"
	ResponseJSON []byte    `json:"response_json"`
	CreatedAt    time.Time `json:"created_at"`
}

// BuildIdempotencyKey scopes a client key to its caller.
func BuildIdempotencyKey(ownerID, clientKey string) string {
	return ownerID + ":" + clientKey
}
