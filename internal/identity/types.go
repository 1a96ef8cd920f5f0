// Package identity implements the Identity & Link Registry: canonical
// identities, platform profiles, link-code lifecycle, and merge/split.
package identity

import "time"

// Identity is the canonical user entity.
type Identity struct {
	UserID      int64     `db:"user_id"`
	DisplayName string    `db:"display_name"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Platform is the controlled vocabulary of external platforms PowerBot
// links profiles against.
type Platform string

const (
	PlatformDiscord Platform = "discord"
	PlatformYouTube Platform = "youtube"
)

// PlatformProfile is an account on an external platform bound to an
// Identity. Exactly one profile exists per (platform,
// external_id) at any time.
type PlatformProfile struct {
	Platform    Platform `db:"platform"`
	ExternalID  string   `db:"external_id"`
	UserID      int64    `db:"user_id"`
	DisplayName string   `db:"display_name"`
	AvatarPath  *string  `db:"avatar_path"`
	RoleMarkers *string  `db:"role_markers"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// TokenStatus is the LinkToken lifecycle state.
type TokenStatus string

const (
	TokenActive   TokenStatus = "active"
	TokenConsumed TokenStatus = "consumed"
	TokenReplaced TokenStatus = "replaced"
	TokenExpired  TokenStatus = "expired"
)

// LinkToken is a short one-time credential used to bind two platform
// profiles to one Identity.
type LinkToken struct {
	Code               string      `db:"code"`
	DiscordExternalID  string      `db:"discord_external_id"`
	OwnerUserID        int64       `db:"owner_user_id"`
	Status             TokenStatus `db:"status"`
	CreatedAt          time.Time   `db:"created_at"`
	ExpiresAt          time.Time   `db:"expires_at"`
	ConsumedAt         *time.Time  `db:"consumed_at"`
	ConsumedBy         *int64      `db:"consumed_by"`
}

// IdLinkMap records a merge: inactiveUserID permanently resolves to
// primaryUserID for lookups.
type IdLinkMap struct {
	InactiveUserID int64     `db:"inactive_user_id"`
	PrimaryUserID  int64     `db:"primary_user_id"`
	Active         bool      `db:"active"`
	Reason         string    `db:"reason"`
	CreatedAt      time.Time `db:"created_at"`
}

// LinkedAccountAudit records per-(user, platform, provider-user) link
// history, with exactly one active row per (platform, provider_user_id).
type LinkedAccountAudit struct {
	UserID         int64      `db:"user_id"`
	Platform       Platform   `db:"platform"`
	ProviderUserID string     `db:"provider_user_id"`
	IsActive       bool       `db:"is_active"`
	LinkedAt       time.Time  `db:"linked_at"`
	UnlinkedAt     *time.Time `db:"unlinked_at"`
}

// MergeResult is returned by ConsumeLinkCode when a merge occurred.
type MergeResult struct {
	DestinationUserID int64
	SourceUserID       int64
	Merged             bool
}

const (
	// LinkCodeLength is the length of generated link codes.
	LinkCodeLength = 8
	// LinkCodeAlphabet is the character set link codes are drawn from.
	LinkCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// LinkCodeTTL is the time-to-live of a freshly issued link code.
	LinkCodeTTL = 10 * time.Minute
	// maxCodeCollisionRetries bounds how many times CreateLinkCode retries
	// on a unique-constraint collision before giving up.
	maxCodeCollisionRetries = 5
)
