package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerbot/internal/apperr"
	"powerbot/internal/store"
	"powerbot/internal/testutil"
)

func newTestRegistry(t *testing.T) *Registry {
	reg, _ := newTestRegistryAndDB(t)
	return reg
}

func newTestRegistryAndDB(t *testing.T) (*Registry, *store.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	reg := New(db)
	require.NoError(t, reg.EnsureTables(context.Background()))
	return reg, db
}

// creditPlatformWallet seeds userID's platform_wallets/wallets rows directly,
// the way economy.Ledger's balance-affecting operations would, without
// pulling in the economy package just for test fixtures.
func creditPlatformWallet(t *testing.T, db *store.DB, userID int64, platform Platform, cents int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.BeginImmediate(ctx, func(tx *store.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO platform_wallets (user_id, platform, balance_cents, updated_at) VALUES (?,?,?,?)
			ON CONFLICT(user_id, platform) DO UPDATE SET balance_cents = balance_cents + excluded.balance_cents, updated_at=excluded.updated_at`,
			userID, platform, cents, store.Now()); err != nil {
			return err
		}
		return reconcileWalletTx(ctx, tx, userID)
	}))
}

func platformBalanceCents(t *testing.T, db *store.DB, userID int64, platform Platform) int64 {
	t.Helper()
	var cents int64
	err := db.GetContext(context.Background(), &cents, `SELECT COALESCE(balance_cents,0) FROM platform_wallets WHERE user_id=? AND platform=?`, userID, platform)
	require.NoError(t, err)
	return cents
}

func TestGetOrCreateIdentityCreatesOnce(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	ident, profile, isNew, err := reg.GetOrCreateIdentity(ctx, PlatformDiscord, "ext-1", "Alice", nil)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, ident.UserID, profile.UserID)

	again, profileAgain, isNewAgain, err := reg.GetOrCreateIdentity(ctx, PlatformDiscord, "ext-1", "Alice", nil)
	require.NoError(t, err)
	assert.False(t, isNewAgain)
	assert.Equal(t, ident.UserID, again.UserID)
	assert.Equal(t, profile.UserID, profileAgain.UserID)
}

func TestGetOrCreateIdentityDistinctPlatformsAreDistinctIdentities(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	discord, _, _, err := reg.GetOrCreateIdentity(ctx, PlatformDiscord, "ext-1", "Alice", nil)
	require.NoError(t, err)
	youtube, _, _, err := reg.GetOrCreateIdentity(ctx, PlatformYouTube, "ext-1", "Alice", nil)
	require.NoError(t, err)

	assert.NotEqual(t, discord.UserID, youtube.UserID)
}

func TestCreateAndConsumeLinkCodeBindsNewYouTubeProfile(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, discordProfile, _, err := reg.GetOrCreateIdentity(ctx, PlatformDiscord, "disc-1", "Alice", nil)
	require.NoError(t, err)

	code, expiresAt, err := reg.CreateLinkCode(ctx, "disc-1", "Alice")
	require.NoError(t, err)
	assert.Len(t, code, LinkCodeLength)
	assert.False(t, expiresAt.IsZero())

	result, err := reg.ConsumeLinkCode(ctx, code, "yt-1", "AliceYT", nil)
	require.NoError(t, err)
	assert.False(t, result.Merged, "first consume binds a brand new youtube identity, nothing to merge")
	assert.Equal(t, discordProfile.UserID, result.DestinationUserID)

	resolved, err := reg.ResolveActiveUserID(ctx, discordProfile.UserID)
	require.NoError(t, err)
	assert.Equal(t, discordProfile.UserID, resolved)
}

func TestConsumeLinkCodeMergesExistingYouTubeIdentity(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, discordProfile, _, err := reg.GetOrCreateIdentity(ctx, PlatformDiscord, "disc-1", "Alice", nil)
	require.NoError(t, err)
	_, ytProfile, _, err := reg.GetOrCreateIdentity(ctx, PlatformYouTube, "yt-1", "AliceYT", nil)
	require.NoError(t, err)
	require.NotEqual(t, discordProfile.UserID, ytProfile.UserID)

	code, _, err := reg.CreateLinkCode(ctx, "disc-1", "Alice")
	require.NoError(t, err)

	result, err := reg.ConsumeLinkCode(ctx, code, "yt-1", "AliceYT", nil)
	require.NoError(t, err)
	assert.True(t, result.Merged)
	assert.Equal(t, discordProfile.UserID, result.DestinationUserID)
	assert.Equal(t, ytProfile.UserID, result.SourceUserID)

	resolved, err := reg.ResolveActiveUserID(ctx, ytProfile.UserID)
	require.NoError(t, err)
	assert.Equal(t, discordProfile.UserID, resolved)
}

func TestConsumeLinkCodeRejectsUnknownCode(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.ConsumeLinkCode(ctx, "NOTREAL1", "yt-1", "AliceYT", nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalid))
}

func TestConsumeLinkCodeRejectsReuse(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	code, _, err := reg.CreateLinkCode(ctx, "disc-1", "Alice")
	require.NoError(t, err)

	_, err = reg.ConsumeLinkCode(ctx, code, "yt-1", "AliceYT", nil)
	require.NoError(t, err)

	_, err = reg.ConsumeLinkCode(ctx, code, "yt-2", "Bob", nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalid))
}

func TestUnlinkSplitsPlatformsAndKeepsBalance(t *testing.T) {
	reg, db := newTestRegistryAndDB(t)
	ctx := context.Background()

	_, discordProfile, _, err := reg.GetOrCreateIdentity(ctx, PlatformDiscord, "disc-1", "Alice", nil)
	require.NoError(t, err)
	code, _, err := reg.CreateLinkCode(ctx, "disc-1", "Alice")
	require.NoError(t, err)
	_, err = reg.ConsumeLinkCode(ctx, code, "yt-1", "AliceYT", nil)
	require.NoError(t, err)

	creditPlatformWallet(t, db, discordProfile.UserID, PlatformDiscord, 700)
	creditPlatformWallet(t, db, discordProfile.UserID, PlatformYouTube, 300)

	err = reg.Unlink(ctx, discordProfile.UserID, PlatformDiscord)
	require.NoError(t, err)

	ytUserID, err := resolveProfileUserID(ctx, reg, PlatformYouTube, "yt-1")
	require.NoError(t, err)
	assert.NotEqual(t, discordProfile.UserID, ytUserID, "the split-off platform now belongs to a different user id")

	// The moved (youtube) balance folds into the caller's kept (discord)
	// wallet; the split-off identity starts at zero.
	assert.Equal(t, int64(1000), platformBalanceCents(t, db, discordProfile.UserID, PlatformDiscord))
	assert.Equal(t, int64(0), platformBalanceCents(t, db, discordProfile.UserID, PlatformYouTube))
	assert.Equal(t, int64(0), platformBalanceCents(t, db, ytUserID, PlatformYouTube))

	var callerTotal, newOwnerTotal int64
	require.NoError(t, db.GetContext(ctx, &callerTotal, `SELECT balance_cents FROM wallets WHERE user_id=?`, discordProfile.UserID))
	require.NoError(t, db.GetContext(ctx, &newOwnerTotal, `SELECT balance_cents FROM wallets WHERE user_id=?`, ytUserID))
	assert.Equal(t, int64(1000), callerTotal)
	assert.Equal(t, int64(0), newOwnerTotal)
}

func TestUnlinkRejectsSinglePlatformIdentity(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, profile, _, err := reg.GetOrCreateIdentity(ctx, PlatformDiscord, "disc-1", "Alice", nil)
	require.NoError(t, err)

	err = reg.Unlink(ctx, profile.UserID, PlatformDiscord)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidState))
}

func TestForceLinkDiscordToIdentityMerges(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, discordProfile, _, err := reg.GetOrCreateIdentity(ctx, PlatformDiscord, "disc-1", "Alice", nil)
	require.NoError(t, err)
	_, targetProfile, _, err := reg.GetOrCreateIdentity(ctx, PlatformYouTube, "yt-1", "AliceYT", nil)
	require.NoError(t, err)

	err = reg.ForceLinkDiscordToIdentity(ctx, "disc-1", targetProfile.UserID)
	require.NoError(t, err)

	resolved, err := reg.ResolveActiveUserID(ctx, discordProfile.UserID)
	require.NoError(t, err)
	assert.Equal(t, targetProfile.UserID, resolved)
}

func TestForceUnlinkRejectsUnknownDiscordID(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	err := reg.ForceUnlink(ctx, "no-such-discord-id")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

// resolveProfileUserID is a small test-only helper mirroring the lookup
// GetOrCreateIdentity performs, used to check which user id a platform
// profile points at after a split without exposing new registry surface.
func resolveProfileUserID(ctx context.Context, reg *Registry, platform Platform, externalID string) (int64, error) {
	_, profile, _, err := reg.GetOrCreateIdentity(ctx, platform, externalID, "", nil)
	if err != nil {
		return 0, err
	}
	return profile.UserID, nil
}
