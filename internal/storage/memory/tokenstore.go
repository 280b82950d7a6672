// Package memory provides an in-process TokenStore with the same semantics
// as the Firestore store. It backs unit tests and the "memory" backend for
// local runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// TokenStore keeps registrations in a map keyed by Registration.Key.
// A single mutex covers the table; every mutation is applied whole, so
// readers always observe a consistent snapshot.
type TokenStore struct {
	mu   sync.RWMutex
	rows map[string]push.Registration
}

func New() *TokenStore {
	return &TokenStore{rows: make(map[string]push.Registration)}
}

func (s *TokenStore) Upsert(_ context.Context, reg push.Registration) (push.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := reg.Key()

	if existing, ok := s.rows[key]; ok {
		reg.RegisteredAt = existing.RegisteredAt
	} else {
		reg.RegisteredAt = now
	}
	reg.LastSeenAt = now
	reg.Active = true

	// Token reassignment: the same physical token moving to a new slot
	// deactivates the prior owner in the same critical section.
	for k, row := range s.rows {
		if k != key && row.Active && row.PushToken == reg.PushToken {
			row.Active = false
			s.rows[k] = row
		}
	}

	s.rows[key] = reg
	return reg, nil
}

func (s *TokenStore) Deactivate(_ context.Context, userID, token string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for k, row := range s.rows {
		if row.Active && row.UserID == userID && row.PushToken == token {
			row.Active = false
			s.rows[k] = row
			count++
		}
	}
	return count, nil
}

func (s *TokenStore) DeactivateToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, row := range s.rows {
		if row.Active && row.PushToken == token {
			row.Active = false
			s.rows[k] = row
		}
	}
	return nil
}

func (s *TokenStore) ListActive(_ context.Context, platform push.Platform) ([]push.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]push.Registration, 0, len(s.rows))
	for _, row := range s.rows {
		if !row.Active {
			continue
		}
		if platform != "" && row.Platform != platform {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *TokenStore) Stats(_ context.Context) (push.TokenStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := push.TokenStats{ByPlatform: map[push.Platform]int{
		push.PlatformIOS:     0,
		push.PlatformAndroid: 0,
	}}
	for _, row := range s.rows {
		if row.Active {
			stats.TotalActive++
			stats.ByPlatform[row.Platform]++
		} else {
			stats.TotalInactive++
		}
	}
	return stats, nil
}
