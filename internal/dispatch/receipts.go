package dispatch

import (
	"context"
	"log/slog"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// Invalidator is the registry hook through which delivery results feed back
// into the registration table.
type Invalidator interface {
	Invalidate(ctx context.Context, token string) error
}

// ReceiptProcessor tallies per-token outcomes into a broadcast result and
// deactivates every token the gateway reported dead, so stale registrations
// stop receiving future broadcasts.
type ReceiptProcessor struct {
	invalidator Invalidator
	logger      *slog.Logger
}

func NewReceiptProcessor(invalidator Invalidator, logger *slog.Logger) *ReceiptProcessor {
	return &ReceiptProcessor{
		invalidator: invalidator,
		logger:      logger.With("component", "ReceiptProcessor"),
	}
}

// Process consumes the outcomes of one broadcast run. Invalidation calls are
// independent; a failure to invalidate is logged and does not disturb the
// tallies or the remaining tokens.
func (p *ReceiptProcessor) Process(ctx context.Context, outcomes []push.DeliveryOutcome) push.BroadcastResult {
	result := push.BroadcastResult{Attempted: len(outcomes)}
	seen := make(map[string]struct{})

	for _, out := range outcomes {
		switch out.Status {
		case push.StatusDelivered:
			result.Delivered++
		case push.StatusInvalid:
			result.Invalidated++
			if _, dup := seen[out.Token]; dup {
				continue
			}
			seen[out.Token] = struct{}{}
			result.InvalidTokens = append(result.InvalidTokens, out.Token)
			if err := p.invalidator.Invalidate(ctx, out.Token); err != nil {
				p.logger.Warn("token invalidation failed", "token", out.Token, "err", err)
			}
		default:
			result.Failed++
		}
	}

	if result.Invalidated > 0 {
		p.logger.Info("stale tokens invalidated", "count", len(result.InvalidTokens))
	}
	return result
}
