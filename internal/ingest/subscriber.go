// Package ingest consumes broadcast jobs from a Pub/Sub subscription, for
// callers that enqueue broadcasts instead of hitting the HTTP surface.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub/v2"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// Receiver is the subset of pubsub.Subscriber we consume.
type Receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type Broadcaster interface {
	Run(ctx context.Context, job push.BroadcastJob) (push.BroadcastResult, error)
}

type Subscriber struct {
	receiver    Receiver
	broadcaster Broadcaster
	logger      *slog.Logger
}

func NewSubscriber(receiver Receiver, broadcaster Broadcaster, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		receiver:    receiver,
		broadcaster: broadcaster,
		logger:      logger.With("component", "IngestSubscriber"),
	}
}

// Start blocks until ctx is cancelled or the subscription fails.
func (s *Subscriber) Start(ctx context.Context) error {
	s.logger.Info("broadcast ingestion starting")
	err := s.receiver.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if s.process(ctx, msg.ID, msg.Data) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("pubsub receive failed: %w", err)
	}
	return nil
}

// process runs one enqueued broadcast and reports whether the message should
// be acked. Poison messages (bad JSON, invalid jobs) are acked so they do not
// loop back forever; redelivery cannot fix them. Everything else nacks and
// lets the subscription's retry policy and DLQ take over.
func (s *Subscriber) process(ctx context.Context, msgID string, data []byte) bool {
	var job push.BroadcastJob
	if err := json.Unmarshal(data, &job); err != nil {
		s.logger.Error("dropping malformed broadcast message", "msg_id", msgID, "err", err)
		return true
	}

	result, err := s.broadcaster.Run(ctx, job)
	if err != nil {
		if push.IsValidation(err) {
			s.logger.Error("dropping invalid broadcast job", "msg_id", msgID, "err", err)
			return true
		}
		s.logger.Warn("broadcast failed, message will be redelivered", "msg_id", msgID, "err", err)
		return false
	}

	s.logger.Info("enqueued broadcast processed",
		"msg_id", msgID,
		"attempted", result.Attempted,
		"delivered", result.Delivered,
		"invalidated", result.Invalidated,
		"failed", result.Failed)
	return true
}
