package push

import "context"

// TokenStore defines the contract for the durable registration table.
// Implementations must give concurrent readers a consistent view: a scan
// never observes a half-applied upsert.
type TokenStore interface {
	// Upsert stores reg under its Key, preserving RegisteredAt on
	// re-registration, and atomically deactivates any other active row
	// holding the same push token (token reassignment). The stored row is
	// returned with Active = true.
	Upsert(ctx context.Context, reg Registration) (Registration, error)

	// Deactivate soft-deletes the active rows matching (userID, token) and
	// reports how many rows it touched. Zero is not an error.
	Deactivate(ctx context.Context, userID, token string) (int, error)

	// DeactivateToken soft-deletes any active row holding token, regardless
	// of owner. A no-op for unknown tokens.
	DeactivateToken(ctx context.Context, token string) error

	// ListActive returns a snapshot of active registrations, filtered by
	// platform when non-empty. Inactive rows are never included.
	ListActive(ctx context.Context, platform Platform) ([]Registration, error)

	// Stats returns a consistent snapshot of registration counts.
	Stats(ctx context.Context) (TokenStats, error)
}

// Gateway defines the contract for an external push gateway that accepts a
// batch of tokens in one network call and reports one status per token.
type Gateway interface {
	// MaxBatchSize is the largest batch the gateway accepts per call.
	MaxBatchSize() int

	// SendBatch delivers job to tokens. A returned error is batch-level:
	// *TransientGatewayError for retryable conditions, anything else for
	// permanent rejection. On success it returns one outcome per token.
	SendBatch(ctx context.Context, tokens []string, job BroadcastJob) ([]DeliveryOutcome, error)
}
