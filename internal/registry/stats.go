package registry

import (
	"context"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// Reporter exposes read-only registration counts for operational
// visibility. The store produces the whole snapshot in one read, so the
// counts never interleave with a concurrent upsert.
type Reporter struct {
	store push.TokenStore
}

func NewReporter(store push.TokenStore) *Reporter {
	return &Reporter{store: store}
}

func (r *Reporter) Report(ctx context.Context) (push.TokenStats, error) {
	return r.store.Stats(ctx)
}
