package registry

import (
	"context"
	"fmt"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// Selector resolves a broadcast target into a concrete, deduplicated token
// list. The store's uniqueness invariant should already prevent duplicate
// active tokens; the selector deduplicates anyway as a second line of
// defence against a racing reassignment.
type Selector struct {
	registry *Registry
}

func NewSelector(registry *Registry) *Selector {
	return &Selector{registry: registry}
}

// Select returns the distinct deliverable tokens for target. An empty result
// is valid, not an error.
func (s *Selector) Select(ctx context.Context, target push.TargetType) ([]string, error) {
	var platform push.Platform
	switch target {
	case push.TargetAll, "":
	case push.TargetIOS:
		platform = push.PlatformIOS
	case push.TargetAndroid:
		platform = push.PlatformAndroid
	default:
		return nil, push.NewValidationError("targetType", fmt.Sprintf("unknown target %q", target))
	}

	regs, err := s.registry.ListActive(ctx, platform)
	if err != nil {
		return nil, fmt.Errorf("recipient selection failed: %w", err)
	}

	seen := make(map[string]struct{}, len(regs))
	tokens := make([]string, 0, len(regs))
	for _, reg := range regs {
		if _, dup := seen[reg.PushToken]; dup {
			continue
		}
		seen[reg.PushToken] = struct{}{}
		tokens = append(tokens, reg.PushToken)
	}
	return tokens, nil
}
