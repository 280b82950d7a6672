package dispatch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-relay/internal/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway scripts per-batch behaviour keyed on the first token of the
// batch, which keeps assertions stable under concurrent workers.
type fakeGateway struct {
	mu       sync.Mutex
	max      int
	calls    [][]string
	sendFunc func(call int, tokens []string) ([]push.DeliveryOutcome, error)
}

func (g *fakeGateway) MaxBatchSize() int {
	if g.max > 0 {
		return g.max
	}
	return 100
}

func (g *fakeGateway) SendBatch(_ context.Context, tokens []string, _ push.BroadcastJob) ([]push.DeliveryOutcome, error) {
	g.mu.Lock()
	g.calls = append(g.calls, tokens)
	call := len(g.calls)
	g.mu.Unlock()
	return g.sendFunc(call, tokens)
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func allDelivered(tokens []string) []push.DeliveryOutcome {
	out := make([]push.DeliveryOutcome, len(tokens))
	for i, t := range tokens {
		out[i] = push.Delivered(t)
	}
	return out
}

func fastConfig() dispatch.Config {
	return dispatch.Config{
		Workers:     2,
		RatePerSec:  10000,
		Burst:       100,
		MaxRetries:  2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		CallTimeout: time.Second,
	}
}

func tokens(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "T" + string(rune('0'+(i+1)/10)) + string(rune('0'+(i+1)%10))
	}
	return out
}

func countByStatus(outcomes []push.DeliveryOutcome) map[push.DeliveryStatus]int {
	counts := make(map[push.DeliveryStatus]int)
	for _, o := range outcomes {
		counts[o.Status]++
	}
	return counts
}

func TestDispatch_IssuesCeilingOfBatchCalls(t *testing.T) {
	gw := &fakeGateway{max: 3, sendFunc: func(_ int, tk []string) ([]push.DeliveryOutcome, error) {
		return allDelivered(tk), nil
	}}
	d := dispatch.New(gw, fastConfig(), newTestLogger())

	outcomes := d.Dispatch(context.Background(), push.BroadcastJob{Title: "t", Body: "b"}, tokens(10))

	require.Len(t, outcomes, 10)
	assert.Equal(t, 4, gw.callCount(), "ceil(10/3) batch calls")
	assert.Equal(t, 10, countByStatus(outcomes)[push.StatusDelivered])
}

func TestDispatch_PermanentBatchFailureIsIsolated(t *testing.T) {
	gw := &fakeGateway{max: 3, sendFunc: func(_ int, tk []string) ([]push.DeliveryOutcome, error) {
		if tk[0] == "T04" {
			return nil, errors.New("gateway rejected payload")
		}
		return allDelivered(tk), nil
	}}
	cfg := fastConfig()
	cfg.MaxRetries = 0
	d := dispatch.New(gw, cfg, newTestLogger())

	outcomes := d.Dispatch(context.Background(), push.BroadcastJob{Title: "t", Body: "b"}, tokens(10))

	require.Len(t, outcomes, 10)
	counts := countByStatus(outcomes)
	assert.Equal(t, 7, counts[push.StatusDelivered], "sibling batches are unaffected")
	assert.Equal(t, 3, counts[push.StatusFailed], "only the rejected batch degrades")
}

func TestDispatch_TransientFailureRetriesThenSucceeds(t *testing.T) {
	gw := &fakeGateway{sendFunc: func(call int, tk []string) ([]push.DeliveryOutcome, error) {
		if call <= 2 {
			return nil, &push.TransientGatewayError{Reason: "rate limited"}
		}
		return allDelivered(tk), nil
	}}
	cfg := fastConfig()
	cfg.Workers = 1
	d := dispatch.New(gw, cfg, newTestLogger())

	outcomes := d.Dispatch(context.Background(), push.BroadcastJob{Title: "t", Body: "b"}, []string{"T1", "T2"})

	require.Len(t, outcomes, 2)
	assert.Equal(t, 2, countByStatus(outcomes)[push.StatusDelivered])
	assert.Equal(t, 3, gw.callCount(), "two transient failures then success")
}

func TestDispatch_ExhaustedRetriesFailTheBatchOnly(t *testing.T) {
	gw := &fakeGateway{max: 2, sendFunc: func(_ int, tk []string) ([]push.DeliveryOutcome, error) {
		if tk[0] == "T01" {
			return nil, &push.TransientGatewayError{Reason: "upstream 503"}
		}
		return allDelivered(tk), nil
	}}
	cfg := fastConfig()
	cfg.Workers = 1
	cfg.MaxRetries = 2
	d := dispatch.New(gw, cfg, newTestLogger())

	outcomes := d.Dispatch(context.Background(), push.BroadcastJob{Title: "t", Body: "b"}, tokens(4))

	require.Len(t, outcomes, 4)
	counts := countByStatus(outcomes)
	assert.Equal(t, 2, counts[push.StatusFailed])
	assert.Equal(t, 2, counts[push.StatusDelivered])
	assert.Equal(t, 4, gw.callCount(), "3 attempts for the sick batch, 1 for the healthy one")
}

func TestDispatch_MixedPerTokenOutcomesPassThrough(t *testing.T) {
	gw := &fakeGateway{max: 3, sendFunc: func(_ int, tk []string) ([]push.DeliveryOutcome, error) {
		out := make([]push.DeliveryOutcome, len(tk))
		for i, tok := range tk {
			if tok == "T05" {
				out[i] = push.Invalid(tok, "DeviceNotRegistered")
			} else {
				out[i] = push.Delivered(tok)
			}
		}
		return out, nil
	}}
	d := dispatch.New(gw, fastConfig(), newTestLogger())

	outcomes := d.Dispatch(context.Background(), push.BroadcastJob{Title: "t", Body: "b"}, tokens(10))

	counts := countByStatus(outcomes)
	assert.Equal(t, 9, counts[push.StatusDelivered])
	assert.Equal(t, 1, counts[push.StatusInvalid])
}

func TestDispatch_ExpiredDeadlineFailsUndispatchedRecipients(t *testing.T) {
	gw := &fakeGateway{max: 3, sendFunc: func(_ int, tk []string) ([]push.DeliveryOutcome, error) {
		return allDelivered(tk), nil
	}}
	d := dispatch.New(gw, fastConfig(), newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := d.Dispatch(ctx, push.BroadcastJob{Title: "t", Body: "b"}, tokens(9))

	require.Len(t, outcomes, 9)
	assert.Equal(t, 0, gw.callCount(), "no batch is newly dispatched after expiry")
	for _, o := range outcomes {
		assert.Equal(t, push.StatusFailed, o.Status)
		assert.Equal(t, "deadline exceeded", o.Reason)
	}
}
