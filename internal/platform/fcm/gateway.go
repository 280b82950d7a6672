// Package fcm implements the push.Gateway contract on top of Firebase Cloud
// Messaging multicast sends.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// maxBatchSize is the FCM multicast token ceiling per call.
const maxBatchSize = 500

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Gateway struct {
	client MessagingClient
	logger *slog.Logger
}

// NewGateway accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewGateway(client MessagingClient, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		logger: logger.With("component", "FCMGateway"),
	}
}

func (g *Gateway) MaxBatchSize() int { return maxBatchSize }

// SendBatch issues one multicast call for the batch. Transport and auth
// failures are transient; an InvalidArgument rejection of the whole batch is
// permanent. Per-token responses map independently: unregistered or malformed
// tokens come back invalid, other per-token errors come back failed.
func (g *Gateway) SendBatch(ctx context.Context, tokens []string, job push.BroadcastJob) ([]push.DeliveryOutcome, error) {
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   job.Data,
		Notification: &messaging.Notification{
			Title: job.Title,
			Body:  job.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: androidPriority(job.Priority),
		},
		APNS: apnsConfig(job),
	}

	br, err := g.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		if messaging.IsInvalidArgument(err) {
			return nil, fmt.Errorf("fcm rejected batch: %w", err)
		}
		return nil, &push.TransientGatewayError{Reason: "fcm transport failed", Err: err}
	}
	if len(br.Responses) != len(tokens) {
		return nil, fmt.Errorf("fcm returned %d responses for %d tokens", len(br.Responses), len(tokens))
	}

	outcomes := make([]push.DeliveryOutcome, len(tokens))
	for i, resp := range br.Responses {
		token := tokens[i]
		switch {
		case resp.Success:
			outcomes[i] = push.Delivered(token)
		case messaging.IsRegistrationTokenNotRegistered(resp.Error) || messaging.IsInvalidArgument(resp.Error):
			outcomes[i] = push.Invalid(token, resp.Error.Error())
		default:
			outcomes[i] = push.Failed(token, resp.Error.Error())
		}
	}
	return outcomes, nil
}

func androidPriority(p string) string {
	if p == "high" {
		return "high"
	}
	return "normal"
}

// apnsConfig carries the iOS-only fields FCM cannot express on the top-level
// notification.
func apnsConfig(job push.BroadcastJob) *messaging.APNSConfig {
	if job.Sound == "" && job.Badge == 0 {
		return nil
	}
	aps := &messaging.Aps{Sound: job.Sound}
	if job.Badge > 0 {
		badge := job.Badge
		aps.Badge = &badge
	}
	return &messaging.APNSConfig{Payload: &messaging.APNSPayload{Aps: aps}}
}
