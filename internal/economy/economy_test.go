package economy

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerbot/internal/apperr"
	"powerbot/internal/eventqueue"
	"powerbot/internal/identity"
	"powerbot/internal/progressnotifier"
	"powerbot/internal/testutil"
)

func newTestLedger(t *testing.T) (*Ledger, *identity.Registry, int64) {
	t.Helper()
	db := testutil.OpenDB(t)
	reg := identity.New(db)
	ctx := context.Background()
	require.NoError(t, reg.EnsureTables(ctx))

	ledger := New(db, reg)
	require.NoError(t, ledger.EnsureTables(ctx))

	_, profile, _, err := reg.GetOrCreateIdentity(ctx, identity.PlatformDiscord, "ext-1", "Tester", nil)
	require.NoError(t, err)
	return ledger, reg, profile.UserID
}

func TestAwardMessagePoints(t *testing.T) {
	ledger, _, userID := newTestLedger(t)
	ctx := context.Background()

	result, err := ledger.AwardMessagePoints(ctx, userID, "guild-1", 1.5, 60, nil, identity.PlatformDiscord)
	require.NoError(t, err)
	assert.True(t, result.Awarded)
	assert.Equal(t, 1.5, result.PointsAdded)
	assert.Equal(t, 1.5, result.NewTotal)

	total, err := ledger.GetTotalBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1.5, total)
}

func TestAwardMessagePointsRespectsCooldown(t *testing.T) {
	ledger, _, userID := newTestLedger(t)
	ctx := context.Background()

	first, err := ledger.AwardMessagePoints(ctx, userID, "guild-1", 1.0, 3600, nil, identity.PlatformDiscord)
	require.NoError(t, err)
	assert.True(t, first.Awarded)

	second, err := ledger.AwardMessagePoints(ctx, userID, "guild-1", 1.0, 3600, nil, identity.PlatformDiscord)
	require.NoError(t, err)
	assert.False(t, second.Awarded)

	total, err := ledger.GetTotalBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, total)
}

func TestAwardMessagePointsSourceIDIsIdempotent(t *testing.T) {
	ledger, _, userID := newTestLedger(t)
	ctx := context.Background()
	sourceID := "msg-42"

	first, err := ledger.AwardMessagePoints(ctx, userID, "guild-1", 2.0, 0, &sourceID, identity.PlatformDiscord)
	require.NoError(t, err)
	assert.True(t, first.Awarded)

	second, err := ledger.AwardMessagePoints(ctx, userID, "guild-1", 2.0, 0, &sourceID, identity.PlatformDiscord)
	require.NoError(t, err)
	assert.False(t, second.Awarded)

	total, err := ledger.GetTotalBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, total)
}

func TestApplyBalanceDeltaDeductsAcrossPlatforms(t *testing.T) {
	ledger, _, userID := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.ApplyBalanceDelta(ctx, userID, 3.0, ReasonAdminAdd, identity.PlatformDiscord, nil, nil, nil)
	require.NoError(t, err)
	_, err = ledger.ApplyBalanceDelta(ctx, userID, 2.0, ReasonAdminAdd, identity.PlatformYouTube, nil, nil, nil)
	require.NoError(t, err)

	newTotal, err := ledger.ApplyBalanceDelta(ctx, userID, -4.0, ReasonTax, identity.PlatformDiscord, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, newTotal)

	balances, err := ledger.GetPlatformBalances(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, balances[identity.PlatformDiscord])
	assert.Equal(t, 1.0, balances[identity.PlatformYouTube])
}

func TestApplyBalanceDeltaRejectsInsufficientFunds(t *testing.T) {
	ledger, _, userID := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.ApplyBalanceDelta(ctx, userID, 1.0, ReasonAdminAdd, identity.PlatformDiscord, nil, nil, nil)
	require.NoError(t, err)

	_, err = ledger.ApplyBalanceDelta(ctx, userID, -5.0, ReasonTax, identity.PlatformDiscord, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InsufficientFunds))

	total, err := ledger.GetTotalBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, total)
}

func TestTransferMovesBalanceBetweenUsers(t *testing.T) {
	ledger, reg, fromUser := newTestLedger(t)
	ctx := context.Background()

	_, toProfile, _, err := reg.GetOrCreateIdentity(ctx, identity.PlatformDiscord, "ext-2", "Receiver", nil)
	require.NoError(t, err)
	toUser := toProfile.UserID

	_, err = ledger.ApplyBalanceDelta(ctx, fromUser, 10.0, ReasonAdminAdd, identity.PlatformDiscord, nil, nil, nil)
	require.NoError(t, err)

	result, err := ledger.Transfer(ctx, fromUser, toUser, 4.0, identity.PlatformDiscord)
	require.NoError(t, err)
	assert.Equal(t, 6.0, result.FromTotal)
	assert.Equal(t, 4.0, result.ToTotal)
}

func TestTransferRejectsSelfTransfer(t *testing.T) {
	ledger, _, userID := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Transfer(ctx, userID, userID, 1.0, identity.PlatformDiscord)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
}

func TestRoundAmountBankersRounding(t *testing.T) {
	cases := []struct {
		amount float64
		cents  int64
	}{
		{0.125, 12},
		{0.375, 38},
		{0.625, 62},
		{0.875, 88},
	}
	for _, c := range cases {
		_, cents := RoundAmount(c.amount)
		assert.Equal(t, c.cents, cents, "amount %v", c.amount)
	}
}

func TestTopLeaderboardOrdersByBalanceDescending(t *testing.T) {
	ledger, reg, userA := newTestLedger(t)
	ctx := context.Background()

	_, profileB, _, err := reg.GetOrCreateIdentity(ctx, identity.PlatformDiscord, "ext-3", "Second", nil)
	require.NoError(t, err)
	userB := profileB.UserID

	_, err = ledger.ApplyBalanceDelta(ctx, userA, 5.0, ReasonAdminAdd, identity.PlatformDiscord, nil, nil, nil)
	require.NoError(t, err)
	_, err = ledger.ApplyBalanceDelta(ctx, userB, 20.0, ReasonAdminAdd, identity.PlatformDiscord, nil, nil, nil)
	require.NoError(t, err)

	top, err := ledger.TopLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, userB, top[0].UserID)
	assert.Equal(t, 20.0, top[0].Balance)
}

func TestApplyBalanceDeltaPushesProgressEventOnMilestone(t *testing.T) {
	db := testutil.OpenDB(t)
	reg := identity.New(db)
	ctx := context.Background()
	require.NoError(t, reg.EnsureTables(ctx))

	events := eventqueue.New(filepath.Join(t.TempDir(), "progress_events.json"))
	notifier := progressnotifier.New(filepath.Join(t.TempDir(), "guild_1_milestones.json"), []float64{10}, 0)
	resolver := func(guildID string) *progressnotifier.Notifier {
		assert.Equal(t, "guild-1", guildID)
		return notifier
	}

	ledger := New(db, reg, WithProgressNotifications(events, resolver))
	require.NoError(t, ledger.EnsureTables(ctx))

	_, profile, _, err := reg.GetOrCreateIdentity(ctx, identity.PlatformDiscord, "ext-1", "Tester", nil)
	require.NoError(t, err)
	guildID := "guild-1"

	_, err = ledger.ApplyBalanceDelta(ctx, profile.UserID, 10.0, ReasonAdminAdd, identity.PlatformDiscord, &guildID, nil, nil)
	require.NoError(t, err)

	popped, err := events.PopUpTo(10)
	require.NoError(t, err)
	require.Len(t, popped, 1)

	var envelope eventqueue.Envelope
	require.NoError(t, json.Unmarshal(popped[0], &envelope))
	var payload progressEvent
	require.NoError(t, json.Unmarshal(envelope.Payload, &payload))
	assert.Equal(t, profile.UserID, payload.UserID)
	assert.Equal(t, "guild-1", payload.GuildID)
	assert.Equal(t, 10.0, payload.NewBalance)
	require.Len(t, payload.Notifications, 1)
	assert.Equal(t, "milestone", payload.Notifications[0].Kind)
	assert.Equal(t, 10.0, payload.Notifications[0].Threshold)
}

func TestAwardMessagePointsWithoutProgressWiringStillAwards(t *testing.T) {
	ledger, _, userID := newTestLedger(t)
	ctx := context.Background()

	result, err := ledger.AwardMessagePoints(ctx, userID, "guild-1", 1.0, 60, nil, identity.PlatformDiscord)
	require.NoError(t, err)
	assert.True(t, result.Awarded)
}
