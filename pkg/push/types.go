// Package push contains the public domain types and contracts for the
// push-relay service.
package push

import "time"

// Platform identifies the mobile OS a registration belongs to.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// Known reports whether p is one of the recognised platform values.
func (p Platform) Known() bool {
	return p == PlatformIOS || p == PlatformAndroid
}

// TargetType selects the audience of a broadcast.
type TargetType string

const (
	TargetAll     TargetType = "all"
	TargetIOS     TargetType = "ios"
	TargetAndroid TargetType = "android"
)

// Registration is one device registration row: a user's device and the
// gateway token that addresses it. A push token belongs to exactly one live
// device at a time; a row is never deleted, only deactivated.
type Registration struct {
	UserID       string    `json:"userId"`
	DeviceID     string    `json:"deviceId,omitempty"`
	PushToken    string    `json:"pushToken"`
	Platform     Platform  `json:"platform"`
	AppVersion   string    `json:"appVersion,omitempty"`
	Active       bool      `json:"active"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
}

// Key returns the identity of the registration slot. With a device ID the
// slot is (userId, deviceId); without one it degrades to (userId, pushToken).
func (r Registration) Key() string {
	if r.DeviceID != "" {
		return r.UserID + "/" + r.DeviceID
	}
	return r.UserID + "/" + r.PushToken
}

// BroadcastJob is one logical message addressed to a target audience.
// Data is an opaque key/value bag passed through to the gateway verbatim.
type BroadcastJob struct {
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Data       map[string]string `json:"data,omitempty"`
	TargetType TargetType        `json:"targetType,omitempty"`
	Sound      string            `json:"sound,omitempty"`
	Badge      int               `json:"badge,omitempty"`
	Priority   string            `json:"priority,omitempty"`
}

// DeliveryStatus classifies the fate of a single recipient.
type DeliveryStatus string

const (
	// StatusDelivered means the gateway accepted the message for the token.
	StatusDelivered DeliveryStatus = "delivered"
	// StatusInvalid means the gateway reported the token as no longer
	// deliverable; the registration must be deactivated.
	StatusInvalid DeliveryStatus = "invalid"
	// StatusFailed covers everything else: exhausted retries, deadline
	// expiry, unclassified per-token errors.
	StatusFailed DeliveryStatus = "failed"
)

// DeliveryOutcome is the per-token result of a dispatch attempt.
type DeliveryOutcome struct {
	Token  string         `json:"token"`
	Status DeliveryStatus `json:"status"`
	Reason string         `json:"reason,omitempty"`
}

// Delivered builds a success outcome.
func Delivered(token string) DeliveryOutcome {
	return DeliveryOutcome{Token: token, Status: StatusDelivered}
}

// Invalid builds an outcome for a dead token.
func Invalid(token, reason string) DeliveryOutcome {
	return DeliveryOutcome{Token: token, Status: StatusInvalid, Reason: reason}
}

// Failed builds an outcome for an undelivered token that is not known-dead.
func Failed(token, reason string) DeliveryOutcome {
	return DeliveryOutcome{Token: token, Status: StatusFailed, Reason: reason}
}

// BroadcastResult aggregates one broadcast run.
type BroadcastResult struct {
	Attempted     int      `json:"attempted"`
	Delivered     int      `json:"delivered"`
	Invalidated   int      `json:"invalidated"`
	Failed        int      `json:"failed"`
	InvalidTokens []string `json:"invalidTokens,omitempty"`
}

// TokenStats is a consistent snapshot of registration counts.
type TokenStats struct {
	TotalActive   int              `json:"totalActive"`
	ByPlatform    map[Platform]int `json:"byPlatform"`
	TotalInactive int              `json:"totalInactive"`
}
