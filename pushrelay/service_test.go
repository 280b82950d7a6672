package pushrelay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/internal/dispatch"
	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/internal/registry"
	"github.com/tinywideclouds/go-push-relay/internal/storage/memory"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// acceptAllGateway delivers everything except tokens it was told are dead.
type acceptAllGateway struct {
	invalid map[string]bool
}

func (g *acceptAllGateway) MaxBatchSize() int { return 100 }

func (g *acceptAllGateway) SendBatch(_ context.Context, tokens []string, _ push.BroadcastJob) ([]push.DeliveryOutcome, error) {
	out := make([]push.DeliveryOutcome, len(tokens))
	for i, tok := range tokens {
		if g.invalid[tok] {
			out[i] = push.Invalid(tok, "DeviceNotRegistered")
		} else {
			out[i] = push.Delivered(tok)
		}
	}
	return out, nil
}

// newTestService wires the full stack on the in-memory store.
func newTestService(gw push.Gateway) *Wrapper {
	logger := newTestLogger()
	store := memory.New()
	reg := registry.New(store, logger)
	d := dispatch.New(gw, dispatch.Config{
		Workers: 2, RatePerSec: 10000, Burst: 100,
		MaxRetries: 1, BaseDelay: time.Millisecond, CallTimeout: time.Second,
	}, logger)
	broadcaster := pipeline.NewBroadcaster(
		registry.NewSelector(reg),
		d,
		dispatch.NewReceiptProcessor(reg, logger),
		0,
		logger,
	)
	pushAPI := api.NewPushAPI(reg, broadcaster, registry.NewReporter(store), logger)
	return New(&config.Config{ListenAddr: ":0"}, pushAPI, nil, logger)
}

func (w *Wrapper) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	w.echo.ServeHTTP(rec, req)
	return rec
}

func TestService_HealthEndpoints(t *testing.T) {
	w := newTestService(&acceptAllGateway{})

	assert.Equal(t, http.StatusOK, w.do(http.MethodGet, "/healthz", "").Code)

	// Not ready until Start.
	assert.Equal(t, http.StatusServiceUnavailable, w.do(http.MethodGet, "/readyz", "").Code)
	w.ready.Store(true)
	assert.Equal(t, http.StatusOK, w.do(http.MethodGet, "/readyz", "").Code)
}

// Full path through the HTTP surface: register, broadcast, observe the dead
// token drop out, remove.
func TestService_EndToEnd(t *testing.T) {
	gw := &acceptAllGateway{invalid: map[string]bool{"tok-dead": true}}
	w := newTestService(gw)

	register := func(user, token, platform string) *httptest.ResponseRecorder {
		return w.do(http.MethodPost, "/register-token",
			`{"userId":"`+user+`","expoPushToken":"`+token+`","platform":"`+platform+`"}`)
	}

	require.Equal(t, http.StatusOK, register("u1", "tok-live", "ios").Code)
	require.Equal(t, http.StatusOK, register("u2", "tok-dead", "android").Code)
	require.Equal(t, http.StatusOK, register("u3", "tok-other", "android").Code)

	rec := w.do(http.MethodPost, "/broadcast", `{"title":"hello","body":"world"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result push.BroadcastResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 2, result.Delivered)
	assert.Equal(t, 1, result.Invalidated)
	assert.Equal(t, []string{"tok-dead"}, result.InvalidTokens)

	// The invalidated token no longer counts as active.
	rec = w.do(http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats push.TokenStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalActive)
	assert.Equal(t, 1, stats.TotalInactive)

	// Removal is idempotent.
	rec = w.do(http.MethodDelete, "/remove-token", `{"userId":"u1","expoPushToken":"tok-live"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":true}`, rec.Body.String())

	rec = w.do(http.MethodDelete, "/remove-token", `{"userId":"u1","expoPushToken":"tok-live"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":false}`, rec.Body.String())
}

func TestService_RejectsBadRegistration(t *testing.T) {
	w := newTestService(&acceptAllGateway{})

	rec := w.do(http.MethodPost, "/register-token", `{"userId":"u1","platform":"ios"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = w.do(http.MethodPost, "/broadcast", `{"title":"no body"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
