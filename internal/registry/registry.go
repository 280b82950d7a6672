// Package registry implements the business rules over the registration
// table: registering and deduplicating device tokens, soft-deleting them,
// and the delivery-driven invalidation feedback path.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

type Registry struct {
	store  push.TokenStore
	logger *slog.Logger
}

func New(store push.TokenStore, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger.With("component", "TokenRegistry"),
	}
}

// Register validates and upserts a device registration. An existing row for
// the same (user, device) slot is updated in place; an active row holding
// the same token under a different owner is deactivated by the store as part
// of the same operation.
func (r *Registry) Register(ctx context.Context, reg push.Registration) (push.Registration, error) {
	if reg.UserID == "" {
		return push.Registration{}, push.NewValidationError("userId", "required")
	}
	if reg.PushToken == "" {
		return push.Registration{}, push.NewValidationError("pushToken", "required")
	}
	if !reg.Platform.Known() {
		return push.Registration{}, push.NewValidationError("platform", "must be ios or android")
	}

	stored, err := r.store.Upsert(ctx, reg)
	if err != nil {
		return push.Registration{}, fmt.Errorf("registry upsert failed: %w", err)
	}

	r.logger.Info("registration stored",
		"user", stored.UserID, "platform", stored.Platform, "device", stored.DeviceID)
	return stored, nil
}

// Remove soft-deletes the active rows for (userID, token). It reports false
// when nothing matched, which makes repeated removal idempotent rather than
// an error.
func (r *Registry) Remove(ctx context.Context, userID, token string) (bool, error) {
	if userID == "" {
		return false, push.NewValidationError("userId", "required")
	}
	if token == "" {
		return false, push.NewValidationError("pushToken", "required")
	}

	n, err := r.store.Deactivate(ctx, userID, token)
	if err != nil {
		return false, fmt.Errorf("registry deactivate failed: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	r.logger.Info("registration removed", "user", userID, "rows", n)
	return true, nil
}

// Invalidate marks every row holding token inactive, whoever owns it. Called
// by the receipt processor when the gateway reports the token dead. Unknown
// tokens are a no-op.
func (r *Registry) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := r.store.DeactivateToken(ctx, token); err != nil {
		return fmt.Errorf("registry invalidate failed: %w", err)
	}
	return nil
}

// ListActive returns the active registrations, filtered by platform when
// non-empty. The result is a snapshot; callers re-invoke to restart.
func (r *Registry) ListActive(ctx context.Context, platform push.Platform) ([]push.Registration, error) {
	return r.store.ListActive(ctx, platform)
}
