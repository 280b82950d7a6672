package fcm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// MockClient satisfies the MessagingClient interface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendBatch_Lifecycle(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()
	job := push.BroadcastJob{Title: "Test", Body: "Body", Data: map[string]string{"id": "1"}}

	t.Run("Happy Path - All Success", func(t *testing.T) {
		mockClient := new(MockClient)
		gw := fcm.NewGateway(mockClient, logger)
		tokens := []string{"token-1", "token-2"}

		mockResponse := &messaging.BatchResponse{
			SuccessCount: 2,
			FailureCount: 0,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: true, MessageID: "msg-2"},
			},
		}
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(mockResponse, nil)

		outcomes, err := gw.SendBatch(ctx, tokens, job)

		require.NoError(t, err)
		require.Len(t, outcomes, 2)
		assert.Equal(t, push.Delivered("token-1"), outcomes[0])
		assert.Equal(t, push.Delivered("token-2"), outcomes[1])
		mockClient.AssertExpectations(t)
	})

	t.Run("Transport Failure (Retryable)", func(t *testing.T) {
		mockClient := new(MockClient)
		gw := fcm.NewGateway(mockClient, logger)
		tokens := []string{"token-1"}

		// Whole batch fails (e.g. DNS error)
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errors.New("network down"))

		_, err := gw.SendBatch(ctx, tokens, job)

		require.Error(t, err)
		assert.True(t, push.IsTransient(err))
	})

	t.Run("Partial Failure - Generic Per-Token Error", func(t *testing.T) {
		mockClient := new(MockClient)
		gw := fcm.NewGateway(mockClient, logger)
		tokens := []string{"token-1", "token-2"}

		mockResponse := &messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: false, Error: errors.New("internal error")},
			},
		}
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(mockResponse, nil)

		outcomes, err := gw.SendBatch(ctx, tokens, job)

		require.NoError(t, err)
		require.Len(t, outcomes, 2)
		assert.Equal(t, push.StatusDelivered, outcomes[0].Status)
		assert.Equal(t, push.StatusFailed, outcomes[1].Status)
		assert.Equal(t, "token-2", outcomes[1].Token)
	})

	t.Run("Response Count Mismatch", func(t *testing.T) {
		mockClient := new(MockClient)
		gw := fcm.NewGateway(mockClient, logger)

		mockResponse := &messaging.BatchResponse{
			Responses: []*messaging.SendResponse{{Success: true}},
		}
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(mockResponse, nil)

		_, err := gw.SendBatch(ctx, []string{"token-1", "token-2"}, job)

		require.Error(t, err)
		assert.False(t, push.IsTransient(err))
	})

	// Note: We rely on the integration environment to verify the specific
	// parsing of IsRegistrationTokenNotRegistered errors, as mocking the
	// internal error types of the Firebase SDK is brittle.
}
