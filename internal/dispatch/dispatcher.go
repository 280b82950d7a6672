// Package dispatch fans a broadcast out to the external push gateway in
// bounded-concurrency batches and folds the per-token receipts back into a
// broadcast result.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

type Config struct {
	// BatchSize caps recipients per gateway call. Zero or anything above the
	// gateway's own maximum falls back to that maximum.
	BatchSize int
	// Workers bounds the number of in-flight batch calls.
	Workers int
	// RatePerSec and Burst feed the shared gateway rate limiter.
	RatePerSec float64
	Burst      int
	// MaxRetries is the per-batch retry ceiling for transient failures.
	MaxRetries uint64
	// BaseDelay and MaxDelay shape the exponential backoff between retries.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// CallTimeout bounds a single gateway call, independent of the overall
	// broadcast deadline.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25
	}
	if c.Burst <= 0 {
		c.Burst = c.Workers
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	return c
}

type Dispatcher struct {
	gateway push.Gateway
	limiter *rate.Limiter
	cfg     Config
	logger  *slog.Logger
}

func New(gateway push.Gateway, cfg Config, logger *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		gateway: gateway,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		cfg:     cfg,
		logger:  logger.With("component", "BatchDispatcher"),
	}
}

// Dispatch partitions recipients into gateway-sized batches and sends them
// through a fixed worker pool. One outcome is produced per recipient; the
// failure of one batch never touches its siblings. When ctx expires, batches
// already handed to a worker run to completion and everything still queued
// is reported as failed.
func (d *Dispatcher) Dispatch(ctx context.Context, job push.BroadcastJob, recipients []string) []push.DeliveryOutcome {
	if len(recipients) == 0 {
		return nil
	}

	size := d.cfg.BatchSize
	if max := d.gateway.MaxBatchSize(); size <= 0 || size > max {
		size = max
	}
	batches := partition(recipients, size)

	var (
		mu       sync.Mutex
		outcomes = make([]push.DeliveryOutcome, 0, len(recipients))
	)
	collect := func(res []push.DeliveryOutcome) {
		mu.Lock()
		outcomes = append(outcomes, res...)
		mu.Unlock()
	}

	queue := make(chan []string)
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range queue {
				collect(d.sendBatch(ctx, job, batch))
			}
		}()
	}

feed:
	for i, batch := range batches {
		if ctx.Err() != nil {
			collect(failRemaining(batches[i:]))
			break
		}
		select {
		case queue <- batch:
		case <-ctx.Done():
			collect(failRemaining(batches[i:]))
			break feed
		}
	}
	close(queue)
	wg.Wait()

	return outcomes
}

// sendBatch performs one batch call with retry and backoff. Transient
// gateway failures and call timeouts are retried up to the ceiling; anything
// else, or an exhausted ceiling, degrades the whole batch to failed
// outcomes.
func (d *Dispatcher) sendBatch(ctx context.Context, job push.BroadcastJob, tokens []string) []push.DeliveryOutcome {
	// Detached from the broadcast deadline: an in-flight batch finishes on
	// its own call timeout.
	base := context.WithoutCancel(ctx)

	var result []push.DeliveryOutcome
	attempt := 0
	op := func() error {
		attempt++
		if err := d.limiter.Wait(base); err != nil {
			return backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(base, d.cfg.CallTimeout)
		defer cancel()

		out, err := d.gateway.SendBatch(callCtx, tokens, job)
		if err != nil {
			if push.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
				d.logger.Warn("batch send failed, retrying",
					"attempt", attempt, "size", len(tokens), "err", err)
				return err
			}
			return backoff.Permanent(err)
		}
		result = out
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.BaseDelay
	bo.MaxInterval = d.cfg.MaxDelay
	bo.MaxElapsedTime = 0

	if err := backoff.Retry(op, backoff.WithMaxRetries(bo, d.cfg.MaxRetries)); err != nil {
		d.logger.Warn("batch dropped", "size", len(tokens), "attempts", attempt, "err", err)
		return failBatch(tokens, err.Error())
	}
	return result
}

func partition(tokens []string, size int) [][]string {
	batches := make([][]string, 0, (len(tokens)+size-1)/size)
	for start := 0; start < len(tokens); start += size {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		batches = append(batches, tokens[start:end])
	}
	return batches
}

func failBatch(tokens []string, reason string) []push.DeliveryOutcome {
	out := make([]push.DeliveryOutcome, len(tokens))
	for i, t := range tokens {
		out[i] = push.Failed(t, reason)
	}
	return out
}

func failRemaining(batches [][]string) []push.DeliveryOutcome {
	var out []push.DeliveryOutcome
	for _, b := range batches {
		out = append(out, failBatch(b, "deadline exceeded")...)
	}
	return out
}
