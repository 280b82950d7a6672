// Package expo implements the push.Gateway contract against the Expo push
// HTTP API. One call carries up to 100 tokens and returns one ticket per
// token, in order.
package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

const (
	// DefaultEndpoint is Expo's production push ingest URL.
	DefaultEndpoint = "https://exp.host/--/api/v2/push/send"

	// maxBatchSize is the documented per-call token ceiling.
	maxBatchSize = 100

	// errDeviceNotRegistered is the ticket error class that marks a token
	// permanently dead.
	errDeviceNotRegistered = "DeviceNotRegistered"
)

type Config struct {
	// Endpoint overrides DefaultEndpoint; used by tests.
	Endpoint string
	// AccessToken, when set, is sent as a bearer token (Expo enhanced
	// security mode).
	AccessToken string
	// Timeout bounds the underlying HTTP client.
	Timeout time.Duration
}

type Gateway struct {
	endpoint    string
	accessToken string
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewGateway(cfg Config, logger *slog.Logger) *Gateway {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Gateway{
		endpoint:    endpoint,
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger.With("component", "ExpoGateway"),
	}
}

func (g *Gateway) MaxBatchSize() int { return maxBatchSize }

// pushMessage is the wire shape of one Expo push request. A single message
// addressed to many tokens yields one ticket per token.
type pushMessage struct {
	To       []string          `json:"to"`
	Title    string            `json:"title,omitempty"`
	Body     string            `json:"body,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
	Sound    string            `json:"sound,omitempty"`
	Badge    int               `json:"badge,omitempty"`
	Priority string            `json:"priority,omitempty"`
}

type pushTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details,omitempty"`
}

type pushResponse struct {
	Data   []pushTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// SendBatch posts one message for the whole batch. Network failures, 429 and
// 5xx responses are transient; everything else is a permanent batch
// rejection. Per-ticket statuses map independently, so a single call can mix
// delivered, invalid, and failed outcomes.
func (g *Gateway) SendBatch(ctx context.Context, tokens []string, job push.BroadcastJob) ([]push.DeliveryOutcome, error) {
	payload, err := json.Marshal(pushMessage{
		To:       tokens,
		Title:    job.Title,
		Body:     job.Body,
		Data:     job.Data,
		Sound:    job.Sound,
		Badge:    job.Badge,
		Priority: job.Priority,
	})
	if err != nil {
		return nil, fmt.Errorf("expo payload marshal failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("expo request build failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+g.accessToken)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &push.TransientGatewayError{Reason: "expo request failed", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &push.TransientGatewayError{
			Reason: fmt.Sprintf("expo returned status %d", resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("expo rejected batch: status %d", resp.StatusCode)
	}

	var parsed pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("expo response decode failed: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("expo rejected batch: %s: %s",
			parsed.Errors[0].Code, parsed.Errors[0].Message)
	}
	if len(parsed.Data) != len(tokens) {
		return nil, fmt.Errorf("expo returned %d tickets for %d tokens",
			len(parsed.Data), len(tokens))
	}

	outcomes := make([]push.DeliveryOutcome, len(tokens))
	for i, ticket := range parsed.Data {
		token := tokens[i]
		switch {
		case ticket.Status == "ok":
			outcomes[i] = push.Delivered(token)
		case ticket.Details.Error == errDeviceNotRegistered:
			outcomes[i] = push.Invalid(token, errDeviceNotRegistered)
		default:
			reason := ticket.Details.Error
			if reason == "" {
				reason = ticket.Message
			}
			outcomes[i] = push.Failed(token, reason)
		}
	}
	return outcomes, nil
}
