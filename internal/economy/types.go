// Package economy implements the Economy Ledger component:
// platform sub-balances, total wallet sync, cooldown-gated credits,
// transfer, and the append-only journal.
package economy

import (
	"math"
	"time"

	"powerbot/internal/identity"
)

// Reason is the controlled vocabulary of ledger entry reasons.
type Reason string

const (
	ReasonMessageEarning Reason = "message_earning"
	ReasonVoiceEarning   Reason = "voice_earning"
	ReasonMineReward     Reason = "mine_reward"
	ReasonGamble         Reason = "gamble"
	ReasonSlots          Reason = "slots"
	ReasonTransferIn     Reason = "transfer_in"
	ReasonTransferOut    Reason = "transfer_out"
	ReasonAdminAdd       Reason = "admin_add"
	ReasonAdminRemove    Reason = "admin_remove"
	ReasonAdminSet       Reason = "admin_set"
	ReasonTax            Reason = "tax"
)

// LedgerEntry is an append-only journal row.
type LedgerEntry struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	AmountCents int64   `db:"amount_cents"`
	Reason    Reason    `db:"reason"`
	Platform  identity.Platform `db:"platform"`
	GuildID   *string   `db:"guild_id"`
	ChannelID *string   `db:"channel_id"`
	SourceID  *string   `db:"source_id"`
	CreatedAt time.Time `db:"created_at"`
}

// AwardResult is returned by AwardMessagePoints.
type AwardResult struct {
	Awarded    bool
	PointsAdded float64
	NewTotal    float64
}

// TransferResult is returned by Transfer.
type TransferResult struct {
	FromTotal float64
	ToTotal   float64
}

// defaultPlatformPriority is the deduction order apply_balance_delta uses
// for a platform-unspecified negative delta: the caller's
// preferred platform first, then discord, then youtube.
func defaultPlatformPriority(preferred identity.Platform) []identity.Platform {
	order := []identity.Platform{preferred, identity.PlatformDiscord, identity.PlatformYouTube}
	seen := map[identity.Platform]bool{}
	var out []identity.Platform
	for _, p := range order {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// RoundAmount rounds a major-unit float to 2 decimals using round-half-even
// (banker's rounding), and returns the result both as the rounded float
// and as integer cents — the internal storage representation this
// rewrite uses to avoid binary-float drift in the ledger.
func RoundAmount(amount float64) (rounded float64, cents int64) {
	scaled := amount * 100
	floor := math.Floor(scaled)
	diff := scaled - floor
	var roundedScaled float64
	switch {
	case diff < 0.5:
		roundedScaled = floor
	case diff > 0.5:
		roundedScaled = floor + 1
	default:
		// exactly .5: round to even
		if math.Mod(floor, 2) == 0 {
			roundedScaled = floor
		} else {
			roundedScaled = floor + 1
		}
	}
	cents = int64(roundedScaled)
	rounded = roundedScaled / 100
	return rounded, cents
}

// CentsToAmount converts stored integer cents back to the public float64
// major-unit representation.
func CentsToAmount(cents int64) float64 {
	return float64(cents) / 100
}
