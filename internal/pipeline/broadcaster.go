// Package pipeline ties recipient selection, batch dispatch, and receipt
// processing into a single broadcast run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

type Selector interface {
	Select(ctx context.Context, target push.TargetType) ([]string, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, job push.BroadcastJob, recipients []string) []push.DeliveryOutcome
}

type ReceiptProcessor interface {
	Process(ctx context.Context, outcomes []push.DeliveryOutcome) push.BroadcastResult
}

type Broadcaster struct {
	selector   Selector
	dispatcher Dispatcher
	receipts   ReceiptProcessor
	// timeout is the overall broadcast deadline; zero means none.
	timeout time.Duration
	logger  *slog.Logger
}

func NewBroadcaster(
	selector Selector,
	dispatcher Dispatcher,
	receipts ReceiptProcessor,
	timeout time.Duration,
	logger *slog.Logger,
) *Broadcaster {
	return &Broadcaster{
		selector:   selector,
		dispatcher: dispatcher,
		receipts:   receipts,
		timeout:    timeout,
		logger:     logger.With("component", "Broadcaster"),
	}
}

// Run executes one broadcast: resolve recipients, fan out, fold receipts.
// Gateway trouble degrades individual outcomes and never fails the run; the
// returned error covers only bad input and store failures.
func (b *Broadcaster) Run(ctx context.Context, job push.BroadcastJob) (push.BroadcastResult, error) {
	if job.Title == "" {
		return push.BroadcastResult{}, push.NewValidationError("title", "required")
	}
	if job.Body == "" {
		return push.BroadcastResult{}, push.NewValidationError("body", "required")
	}
	if job.TargetType == "" {
		job.TargetType = push.TargetAll
	}

	recipients, err := b.selector.Select(ctx, job.TargetType)
	if err != nil {
		return push.BroadcastResult{}, fmt.Errorf("broadcast aborted: %w", err)
	}

	runID := uuid.NewString()
	runLogger := b.logger.With("broadcast_id", runID, "target", job.TargetType)

	if len(recipients) == 0 {
		runLogger.Info("no recipients for broadcast, skipping dispatch")
		return push.BroadcastResult{}, nil
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	outcomes := b.dispatcher.Dispatch(ctx, job, recipients)
	result := b.receipts.Process(ctx, outcomes)

	runLogger.Info("broadcast finished",
		"attempted", result.Attempted,
		"delivered", result.Delivered,
		"invalidated", result.Invalidated,
		"failed", result.Failed,
		"dur", time.Since(start))
	return result, nil
}
