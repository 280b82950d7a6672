// Package firestore implements push.TokenStore on Google Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

const collectionName = "registrations"

// Store keeps one document per (user, device) registration in a flat
// collection. Document IDs are hashes of the registration key to prevent
// hot-spotting on sequential user IDs.
type Store struct {
	client *firestore.Client
}

func New(client *firestore.Client) *Store {
	return &Store{client: client}
}

// registrationDoc is the internal DB representation.
type registrationDoc struct {
	UserID       string    `firestore:"user_id"`
	DeviceID     string    `firestore:"device_id,omitempty"`
	PushToken    string    `firestore:"push_token"`
	Platform     string    `firestore:"platform"`
	AppVersion   string    `firestore:"app_version,omitempty"`
	Active       bool      `firestore:"active"`
	RegisteredAt time.Time `firestore:"registered_at"`
	LastSeenAt   time.Time `firestore:"last_seen_at"`
}

func toDoc(reg push.Registration) registrationDoc {
	return registrationDoc{
		UserID:       reg.UserID,
		DeviceID:     reg.DeviceID,
		PushToken:    reg.PushToken,
		Platform:     string(reg.Platform),
		AppVersion:   reg.AppVersion,
		Active:       reg.Active,
		RegisteredAt: reg.RegisteredAt,
		LastSeenAt:   reg.LastSeenAt,
	}
}

func (d registrationDoc) toRegistration() push.Registration {
	return push.Registration{
		UserID:       d.UserID,
		DeviceID:     d.DeviceID,
		PushToken:    d.PushToken,
		Platform:     push.Platform(d.Platform),
		AppVersion:   d.AppVersion,
		Active:       d.Active,
		RegisteredAt: d.RegisteredAt,
		LastSeenAt:   d.LastSeenAt,
	}
}

// Upsert writes the registration and retires any other active rows holding
// the same token, all inside one transaction so a token never has two active
// owners, even under concurrent registration.
func (s *Store) Upsert(ctx context.Context, reg push.Registration) (push.Registration, error) {
	docRef := s.collection().Doc(hashKey(reg.Key()))

	now := time.Now().UTC()
	reg.Active = true
	reg.LastSeenAt = now

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// All reads must happen before any writes.
		snap, err := tx.Get(docRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if snap != nil && snap.Exists() {
			var existing registrationDoc
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			reg.RegisteredAt = existing.RegisteredAt
		}
		if reg.RegisteredAt.IsZero() {
			reg.RegisteredAt = now
		}

		holders, err := tx.Documents(s.collection().
			Where("push_token", "==", reg.PushToken).
			Where("active", "==", true)).GetAll()
		if err != nil {
			return err
		}

		for _, holder := range holders {
			if holder.Ref.ID == docRef.ID {
				continue
			}
			if err := tx.Update(holder.Ref, []firestore.Update{
				{Path: "active", Value: false},
				{Path: "last_seen_at", Value: now},
			}); err != nil {
				return err
			}
		}
		return tx.Set(docRef, toDoc(reg))
	})
	if err != nil {
		return push.Registration{}, fmt.Errorf("firestore upsert failed: %w", err)
	}
	return reg, nil
}

// Deactivate soft-deletes the user's active rows for the token and reports
// how many were retired. Zero is not an error.
func (s *Store) Deactivate(ctx context.Context, userID, token string) (int, error) {
	docs, err := s.collection().
		Where("user_id", "==", userID).
		Where("push_token", "==", token).
		Where("active", "==", true).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("firestore deactivate query failed: %w", err)
	}
	return len(docs), s.retire(ctx, docs)
}

// DeactivateToken retires every active row holding the token, regardless of
// owner. Used by the receipt feedback loop.
func (s *Store) DeactivateToken(ctx context.Context, token string) error {
	docs, err := s.collection().
		Where("push_token", "==", token).
		Where("active", "==", true).
		Documents(ctx).GetAll()
	if err != nil {
		return fmt.Errorf("firestore invalidate query failed: %w", err)
	}
	return s.retire(ctx, docs)
}

func (s *Store) retire(ctx context.Context, docs []*firestore.DocumentSnapshot) error {
	now := time.Now().UTC()
	for _, doc := range docs {
		_, err := doc.Ref.Update(ctx, []firestore.Update{
			{Path: "active", Value: false},
			{Path: "last_seen_at", Value: now},
		})
		if err != nil {
			return fmt.Errorf("firestore deactivate of %s failed: %w", doc.Ref.ID, err)
		}
	}
	return nil
}

func (s *Store) ListActive(ctx context.Context, platform push.Platform) ([]push.Registration, error) {
	query := s.collection().Where("active", "==", true)
	if platform != "" {
		query = query.Where("platform", "==", string(platform))
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []push.Registration
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var record registrationDoc
		if err := doc.DataTo(&record); err != nil {
			// Skip corrupt rows rather than failing the whole broadcast.
			continue
		}
		out = append(out, record.toRegistration())
	}
	return out, nil
}

// Stats scans the collection once and tallies in memory. Registrations are
// small documents and the collection is bounded by the install base, so a
// scan is acceptable here; swap to aggregation queries if that changes.
func (s *Store) Stats(ctx context.Context) (push.TokenStats, error) {
	stats := push.TokenStats{
		ByPlatform: map[push.Platform]int{
			push.PlatformIOS:     0,
			push.PlatformAndroid: 0,
		},
	}

	iter := s.collection().Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return push.TokenStats{}, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var record registrationDoc
		if err := doc.DataTo(&record); err != nil {
			continue
		}
		if record.Active {
			stats.TotalActive++
			stats.ByPlatform[push.Platform(record.Platform)]++
		} else {
			stats.TotalInactive++
		}
	}
	return stats, nil
}

func (s *Store) collection() *firestore.CollectionRef {
	return s.client.Collection(collectionName)
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
