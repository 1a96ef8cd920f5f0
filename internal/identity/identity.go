package identity

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"math/big"
	"strings"
	"time"

	"powerbot/internal/apperr"
	"powerbot/internal/logging"
	"powerbot/internal/store"
)

// Registry implements the Identity & Link Registry component.
type Registry struct {
	db *store.DB
}

// New returns a Registry backed by db. Callers must have already run
// EnsureTables once per process lifetime (cmd/powerbot does this right
// after store.Open and Migrate, since every component owns its own
// ensure_tables()).
func New(db *store.DB) *Registry {
	return &Registry{db: db}
}

// EnsureTables is additive-only and idempotent; the baseline schema lives
// in migrations/sqlite, this only guards against a store opened against an
// older install that predates this component.
func (r *Registry) EnsureTables(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS identities (
			user_id INTEGER PRIMARY KEY, display_name TEXT NOT NULL,
			created_at DATETIME NOT NULL, updated_at DATETIME NOT NULL)`)
	if err != nil {
		return apperr.Wrap(apperr.SchemaMismatch, "ensure identities table", err)
	}
	return nil
}

// newUserID draws a random integer in [1, 2^62]. A collision is not
// retried: SQLite's PRIMARY KEY constraint rejects the insert and the
// caller returns a Storage error (identity ids are sparse enough that
// collisions are exceedingly rare).
func newUserID() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return 0, err
	}
	return n.Int64() + 1, nil
}

// GetOrCreateIdentity atomically ensures both the identity and the
// profile exist afterward, or neither was created.
func (r *Registry) GetOrCreateIdentity(ctx context.Context, platform Platform, externalID, displayName string, avatarURL *string) (*Identity, *PlatformProfile, bool, error) {
	var ident Identity
	var profile PlatformProfile
	isNew := false

	err := r.db.BeginImmediate(ctx, func(tx *store.Tx) error {
		err := tx.GetContext(ctx, &profile, `SELECT platform, external_id, user_id, display_name, avatar_path, role_markers, created_at, updated_at FROM platform_profiles WHERE platform=? AND external_id=?`, platform, externalID)
		if err == nil {
			return tx.GetContext(ctx, &ident, `SELECT user_id, display_name, created_at, updated_at FROM identities WHERE user_id=?`, profile.UserID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return apperr.Wrap(apperr.Storage, "lookup platform profile", err)
		}

		now := store.Now()
		uid, genErr := newUserID()
		if genErr != nil {
			return apperr.Wrap(apperr.Storage, "generate user id", genErr)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO identities (user_id, display_name, created_at, updated_at) VALUES (?,?,?,?)`, uid, displayName, now, now); err != nil {
			return apperr.Wrap(apperr.Storage, "insert identity", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO platform_profiles (platform, external_id, user_id, display_name, avatar_path, created_at, updated_at) VALUES (?,?,?,?,?,?,?)`,
			platform, externalID, uid, displayName, avatarURL, now, now); err != nil {
			return apperr.Wrap(apperr.Storage, "insert platform profile", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO wallets (user_id, balance_cents, updated_at) VALUES (?,0,?)`, uid, now); err != nil {
			return apperr.Wrap(apperr.Storage, "insert wallet", err)
		}

		ident = Identity{UserID: uid, DisplayName: displayName, CreatedAt: now, UpdatedAt: now}
		profile = PlatformProfile{Platform: platform, ExternalID: externalID, UserID: uid, DisplayName: displayName, AvatarPath: avatarURL, CreatedAt: now, UpdatedAt: now}
		isNew = true
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	return &ident, &profile, isNew, nil
}

// generateLinkCode draws LinkCodeLength characters from LinkCodeAlphabet
// using crypto/rand, not math/rand, since codes gate account merges.
func generateLinkCode() (string, error) {
	var sb strings.Builder
	for i := 0; i < LinkCodeLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(LinkCodeAlphabet))))
		if err != nil {
			return "", err
		}
		sb.WriteByte(LinkCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// CreateLinkCode implements create_link_code: any previous
// active code for the same discord id transitions to replaced, and the new
// code is retried up to 5 times on a collision within the unique code set.
func (r *Registry) CreateLinkCode(ctx context.Context, discordExternalID, discordDisplayName string) (string, time.Time, error) {
	_, p, _, err := r.GetOrCreateIdentity(ctx, PlatformDiscord, discordExternalID, discordDisplayName, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	discordProfile := *p

	var code string
	var expiresAt time.Time

	err = r.db.BeginImmediate(ctx, func(tx *store.Tx) error {
		now := store.Now()
		if _, err := tx.ExecContext(ctx, `UPDATE link_tokens SET status=? WHERE discord_external_id=? AND status=?`, TokenReplaced, discordExternalID, TokenActive); err != nil {
			return apperr.Wrap(apperr.Storage, "replace prior link tokens", err)
		}

		for attempt := 0; attempt < maxCodeCollisionRetries; attempt++ {
			candidate, genErr := generateLinkCode()
			if genErr != nil {
				return apperr.Wrap(apperr.Storage, "generate link code", genErr)
			}
			expiresAt = now.Add(LinkCodeTTL)
			_, err := tx.ExecContext(ctx, `INSERT INTO link_tokens (code, discord_external_id, owner_user_id, status, created_at, expires_at) VALUES (?,?,?,?,?,?)`,
				candidate, discordExternalID, discordProfile.UserID, TokenActive, now, expiresAt)
			if err == nil {
				code = candidate
				return nil
			}
			if !isUniqueViolation(err) {
				return apperr.Wrap(apperr.Storage, "insert link token", err)
			}
			logging.For("identity").Warn().Str("code", candidate).Msg("link code collision, retrying")
		}
		return apperr.New(apperr.AlreadyExists, "exhausted link code collision retries")
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return code, expiresAt, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}

// ConsumeLinkCode implements the consume_link_code algorithm.
func (r *Registry) ConsumeLinkCode(ctx context.Context, code, youtubeExternalID, youtubeDisplayName string, avatarURL *string) (*MergeResult, error) {
	var result MergeResult

	err := r.db.BeginImmediate(ctx, func(tx *store.Tx) error {
		var token LinkToken
		if err := tx.GetContext(ctx, &token, `SELECT code, discord_external_id, owner_user_id, status, created_at, expires_at, consumed_at, consumed_by FROM link_tokens WHERE code=?`, code); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.New(apperr.CodeInvalid, "unknown link code")
			}
			return apperr.Wrap(apperr.Storage, "load link token", err)
		}
		now := store.Now()
		if token.Status != TokenActive {
			return apperr.New(apperr.CodeInvalid, "link code not active")
		}
		if now.After(token.ExpiresAt) {
			if _, err := tx.ExecContext(ctx, `UPDATE link_tokens SET status=? WHERE code=?`, TokenExpired, code); err != nil {
				return apperr.Wrap(apperr.Storage, "expire link token", err)
			}
			return apperr.New(apperr.CodeExpired, "link code expired")
		}

		ytUserID, isNewYT, err := getOrCreateIdentityTx(ctx, tx, PlatformYouTube, youtubeExternalID, youtubeDisplayName, avatarURL)
		if err != nil {
			return err
		}

		destination := token.OwnerUserID
		source := ytUserID
		merged := false

		if !isNewYT && ytUserID != destination {
			if err := mergeIdentitiesTx(ctx, tx, source, destination, "link_code_consume"); err != nil {
				return err
			}
			merged = true
		}

		if _, err := tx.ExecContext(ctx, `UPDATE platform_profiles SET user_id=?, updated_at=? WHERE platform=? AND external_id=?`,
			destination, now, PlatformYouTube, youtubeExternalID); err != nil {
			return apperr.Wrap(apperr.Storage, "reassign youtube profile", err)
		}

		if err := recordLinkAuditTx(ctx, tx, destination, PlatformDiscord, token.DiscordExternalID, now); err != nil {
			return err
		}
		if err := recordLinkAuditTx(ctx, tx, destination, PlatformYouTube, youtubeExternalID, now); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE link_tokens SET status=?, consumed_at=?, consumed_by=? WHERE code=?`,
			TokenConsumed, now, destination, code); err != nil {
			return apperr.Wrap(apperr.Storage, "consume link token", err)
		}

		result = MergeResult{DestinationUserID: destination, SourceUserID: source, Merged: merged}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// getOrCreateIdentityTx is ConsumeLinkCode's in-transaction equivalent of
// GetOrCreateIdentity, needed because the outer operation must not open a
// nested BeginImmediate.
func getOrCreateIdentityTx(ctx context.Context, tx *store.Tx, platform Platform, externalID, displayName string, avatarURL *string) (int64, bool, error) {
	var userID int64
	err := tx.GetContext(ctx, &userID, `SELECT user_id FROM platform_profiles WHERE platform=? AND external_id=?`, platform, externalID)
	if err == nil {
		return userID, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, apperr.Wrap(apperr.Storage, "lookup platform profile", err)
	}

	now := store.Now()
	uid, genErr := newUserID()
	if genErr != nil {
		return 0, false, apperr.Wrap(apperr.Storage, "generate user id", genErr)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO identities (user_id, display_name, created_at, updated_at) VALUES (?,?,?,?)`, uid, displayName, now, now); err != nil {
		return 0, false, apperr.Wrap(apperr.Storage, "insert identity", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO platform_profiles (platform, external_id, user_id, display_name, avatar_path, created_at, updated_at) VALUES (?,?,?,?,?,?,?)`,
		platform, externalID, uid, displayName, avatarURL, now, now); err != nil {
		return 0, false, apperr.Wrap(apperr.Storage, "insert platform profile", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO wallets (user_id, balance_cents, updated_at) VALUES (?,0,?)`, uid, now); err != nil {
		return 0, false, apperr.Wrap(apperr.Storage, "insert wallet", err)
	}
	return uid, true, nil
}

// mergeIdentitiesTx moves source's ledger, cooldowns, inventory and
// platform profiles and sums PlatformWallets into destination, zeros
// source's total, and writes the IdLinkMap row. Must run inside an existing
// BeginImmediate transaction.
func mergeIdentitiesTx(ctx context.Context, tx *store.Tx, source, destination int64, reason string) error {
	now := store.Now()

	rows, err := tx.QueryxContext(ctx, `SELECT platform, balance_cents FROM platform_wallets WHERE user_id=?`, source)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "load source platform wallets", err)
	}
	type pw struct {
		Platform     string
		BalanceCents int64
	}
	var sourceWallets []pw
	for rows.Next() {
		var p pw
		if err := rows.Scan(&p.Platform, &p.BalanceCents); err != nil {
			rows.Close()
			return apperr.Wrap(apperr.Storage, "scan source platform wallet", err)
		}
		sourceWallets = append(sourceWallets, p)
	}
	rows.Close()

	for _, w := range sourceWallets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO platform_wallets (user_id, platform, balance_cents, updated_at) VALUES (?,?,?,?)
			ON CONFLICT(user_id, platform) DO UPDATE SET balance_cents = balance_cents + excluded.balance_cents, updated_at=excluded.updated_at`,
			destination, w.Platform, w.BalanceCents, now); err != nil {
			return apperr.Wrap(apperr.Storage, "merge platform wallet", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE platform_wallets SET balance_cents=0, updated_at=? WHERE user_id=? AND platform=?`, now, source, w.Platform); err != nil {
			return apperr.Wrap(apperr.Storage, "zero source platform wallet", err)
		}
	}

	if err := reconcileWalletTx(ctx, tx, destination); err != nil {
		return err
	}
	if err := reconcileWalletTx(ctx, tx, source); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE ledger_entries SET user_id=? WHERE user_id=?`, destination, source); err != nil {
		return apperr.Wrap(apperr.Storage, "move ledger entries", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE earning_cooldowns SET user_id=? WHERE user_id=? AND NOT EXISTS (SELECT 1 FROM earning_cooldowns e2 WHERE e2.user_id=? AND e2.scope_id=earning_cooldowns.scope_id)`, destination, source, destination); err != nil {
		return apperr.Wrap(apperr.Storage, "move cooldowns", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM earning_cooldowns WHERE user_id=?`, source); err != nil {
		return apperr.Wrap(apperr.Storage, "drop unmoved source cooldowns", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_items (user_id, item_id, quantity, acquired_at)
		SELECT ?, item_id, quantity, acquired_at FROM inventory_items WHERE user_id=?
		ON CONFLICT(user_id, item_id) DO UPDATE SET quantity = quantity + excluded.quantity`, destination, source); err != nil {
		return apperr.Wrap(apperr.Storage, "merge inventory", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM inventory_items WHERE user_id=?`, source); err != nil {
		return apperr.Wrap(apperr.Storage, "drop source inventory", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE platform_profiles SET user_id=?, updated_at=? WHERE user_id=?`, destination, now, source); err != nil {
		return apperr.Wrap(apperr.Storage, "move source profiles", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO id_link_map (inactive_user_id, primary_user_id, active, reason, created_at) VALUES (?,?,1,?,?)`,
		source, destination, reason, now); err != nil {
		return apperr.Wrap(apperr.Storage, "record id link map", err)
	}

	return nil
}

// reconcileWalletTx recomputes Wallet(user) as the sum of its
// PlatformWallets, the invariant every write path must restore before
// commit.
func reconcileWalletTx(ctx context.Context, tx *store.Tx, userID int64) error {
	var total sql.NullInt64
	if err := tx.GetContext(ctx, &total, `SELECT SUM(balance_cents) FROM platform_wallets WHERE user_id=?`, userID); err != nil {
		return apperr.Wrap(apperr.Storage, "sum platform wallets", err)
	}
	sum := int64(0)
	if total.Valid {
		sum = total.Int64
	}
	now := store.Now()
	res, err := tx.ExecContext(ctx, `UPDATE wallets SET balance_cents=?, updated_at=? WHERE user_id=?`, sum, now, userID)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "update wallet total", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO wallets (user_id, balance_cents, updated_at) VALUES (?,?,?)`, userID, sum, now); err != nil {
			return apperr.Wrap(apperr.Storage, "insert wallet total", err)
		}
	}
	return nil
}

func recordLinkAuditTx(ctx context.Context, tx *store.Tx, userID int64, platform Platform, providerUserID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `UPDATE linked_account_audit SET is_active=0, unlinked_at=? WHERE platform=? AND provider_user_id=? AND is_active=1`,
		now, platform, providerUserID); err != nil {
		return apperr.Wrap(apperr.Storage, "deactivate prior link audit", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO linked_account_audit (user_id, platform, provider_user_id, is_active, linked_at) VALUES (?,?,?,1,?)`,
		userID, platform, providerUserID, now); err != nil {
		return apperr.Wrap(apperr.Storage, "insert link audit", err)
	}
	return nil
}

// ResolveActiveUserID implements resolve_active_user_id, walking
// IdLinkMap a single level: a chain of merges only ever points at the
// identity that absorbed it, never transitively further.
func (r *Registry) ResolveActiveUserID(ctx context.Context, anyUserID int64) (int64, error) {
	var primary int64
	err := r.db.GetContext(ctx, &primary, `SELECT primary_user_id FROM id_link_map WHERE inactive_user_id=? AND active=1 ORDER BY created_at DESC LIMIT 1`, anyUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return anyUserID, nil
		}
		return 0, apperr.Wrap(apperr.Storage, "resolve active user id", err)
	}
	return primary, nil
}

// Unlink implements unlink (split). The caller's chosen
// platform (keepPlatform) retains the combined balance; the other is
// zeroed. If a previously-merged inactive id is free of profiles, it is
// reused as the new owner for the moved profile; otherwise a fresh identity
// is created.
func (r *Registry) Unlink(ctx context.Context, callerUserID int64, keepPlatform Platform) error {
	return r.db.BeginImmediate(ctx, func(tx *store.Tx) error {
		now := store.Now()

		var profiles []PlatformProfile
		if err := tx.SelectContext(ctx, &profiles, `SELECT platform, external_id, user_id, display_name, avatar_path, role_markers, created_at, updated_at FROM platform_profiles WHERE user_id=?`, callerUserID); err != nil {
			return apperr.Wrap(apperr.Storage, "load profiles for unlink", err)
		}
		var moving *PlatformProfile
		for i := range profiles {
			if profiles[i].Platform != keepPlatform {
				moving = &profiles[i]
				break
			}
		}
		if moving == nil {
			return apperr.New(apperr.InvalidState, "no other platform profile to split off")
		}

		newOwner, err := findReusableInactiveID(ctx, tx, callerUserID)
		if err != nil {
			return err
		}
		if newOwner == 0 {
			uid, genErr := newUserID()
			if genErr != nil {
				return apperr.Wrap(apperr.Storage, "generate split identity id", genErr)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO identities (user_id, display_name, created_at, updated_at) VALUES (?,?,?,?)`, uid, moving.DisplayName, now, now); err != nil {
				return apperr.Wrap(apperr.Storage, "insert split identity", err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO wallets (user_id, balance_cents, updated_at) VALUES (?,0,?)`, uid, now); err != nil {
				return apperr.Wrap(apperr.Storage, "insert split wallet", err)
			}
			newOwner = uid
		}

		if _, err := tx.ExecContext(ctx, `UPDATE platform_profiles SET user_id=?, updated_at=? WHERE platform=? AND external_id=?`,
			newOwner, now, moving.Platform, moving.ExternalID); err != nil {
			return apperr.Wrap(apperr.Storage, "reassign split profile", err)
		}

		var movedBalance int64
		if err := tx.GetContext(ctx, &movedBalance, `SELECT COALESCE(balance_cents,0) FROM platform_wallets WHERE user_id=? AND platform=?`, callerUserID, moving.Platform); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return apperr.Wrap(apperr.Storage, "load moving platform wallet", err)
		}

		// The moved platform's balance stays with the caller, folded into
		// keepPlatform's wallet; the split-off identity starts at zero.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO platform_wallets (user_id, platform, balance_cents, updated_at) VALUES (?,?,?,?)
			ON CONFLICT(user_id, platform) DO UPDATE SET balance_cents = balance_cents + excluded.balance_cents, updated_at=excluded.updated_at`,
			callerUserID, keepPlatform, movedBalance, now); err != nil {
			return apperr.Wrap(apperr.Storage, "credit kept platform wallet", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE platform_wallets SET balance_cents=0, updated_at=? WHERE user_id=? AND platform=?`, now, callerUserID, moving.Platform); err != nil {
			return apperr.Wrap(apperr.Storage, "zero split-off platform wallet on origin", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO platform_wallets (user_id, platform, balance_cents, updated_at) VALUES (?,?,0,?)
			ON CONFLICT(user_id, platform) DO UPDATE SET balance_cents=0, updated_at=excluded.updated_at`,
			newOwner, moving.Platform, now); err != nil {
			return apperr.Wrap(apperr.Storage, "seed split platform wallet at zero", err)
		}

		if err := reconcileWalletTx(ctx, tx, callerUserID); err != nil {
			return err
		}
		if err := reconcileWalletTx(ctx, tx, newOwner); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE id_link_map SET active=0 WHERE primary_user_id=? AND active=1`, callerUserID); err != nil {
			return apperr.Wrap(apperr.Storage, "deactivate id link map on split", err)
		}

		if err := recordLinkAuditTx(ctx, tx, newOwner, moving.Platform, moving.ExternalID, now); err != nil {
			return err
		}
		return nil
	})
}

// findReusableInactiveID looks for an inactive id mapped from callerUserID
// that currently owns no platform profiles, so Unlink can reuse it instead
// of minting a fresh identity.
func findReusableInactiveID(ctx context.Context, tx *store.Tx, primaryUserID int64) (int64, error) {
	var candidates []int64
	if err := tx.SelectContext(ctx, &candidates, `SELECT inactive_user_id FROM id_link_map WHERE primary_user_id=? AND active=1`, primaryUserID); err != nil {
		return 0, apperr.Wrap(apperr.Storage, "load inactive ids for reuse", err)
	}
	for _, c := range candidates {
		var count int
		if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM platform_profiles WHERE user_id=?`, c); err != nil {
			return 0, apperr.Wrap(apperr.Storage, "count profiles for reuse candidate", err)
		}
		if count == 0 {
			return c, nil
		}
	}
	return 0, nil
}

// ForceLinkDiscordToIdentity is the moderator operation bypassing code
// exchange but applying the same merge semantics as ConsumeLinkCode.
func (r *Registry) ForceLinkDiscordToIdentity(ctx context.Context, discordExternalID string, targetIdentityUserID int64) error {
	return r.db.BeginImmediate(ctx, func(tx *store.Tx) error {
		var discordUserID int64
		err := tx.GetContext(ctx, &discordUserID, `SELECT user_id FROM platform_profiles WHERE platform=? AND external_id=?`, PlatformDiscord, discordExternalID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.NotFound, "discord profile not found")
		}
		if err != nil {
			return apperr.Wrap(apperr.Storage, "lookup discord profile", err)
		}
		if discordUserID == targetIdentityUserID {
			return nil
		}
		if err := mergeIdentitiesTx(ctx, tx, discordUserID, targetIdentityUserID, "force_link"); err != nil {
			return err
		}
		now := store.Now()
		if _, err := tx.ExecContext(ctx, `UPDATE platform_profiles SET user_id=?, updated_at=? WHERE platform=? AND external_id=?`,
			targetIdentityUserID, now, PlatformDiscord, discordExternalID); err != nil {
			return apperr.Wrap(apperr.Storage, "reassign discord profile", err)
		}
		return recordLinkAuditTx(ctx, tx, targetIdentityUserID, PlatformDiscord, discordExternalID, now)
	})
}

// ForceUnlink is the moderator equivalent of Unlink, keyed by the discord
// external id rather than a resolved caller user id.
func (r *Registry) ForceUnlink(ctx context.Context, discordExternalID string) error {
	var userID int64
	if err := r.db.GetContext(ctx, &userID, `SELECT user_id FROM platform_profiles WHERE platform=? AND external_id=?`, PlatformDiscord, discordExternalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.NotFound, "discord profile not found")
		}
		return apperr.Wrap(apperr.Storage, "lookup discord profile for force unlink", err)
	}
	return r.Unlink(ctx, userID, PlatformDiscord)
}
