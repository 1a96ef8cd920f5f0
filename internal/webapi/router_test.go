package webapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerbot/internal/economy"
	"powerbot/internal/identity"
	"powerbot/internal/testutil"
)

func newTestLedger(t *testing.T) *economy.Ledger {
	ledger, _ := newTestLedgerAndRegistry(t)
	return ledger
}

func newTestLedgerAndRegistry(t *testing.T) (*economy.Ledger, *identity.Registry) {
	t.Helper()
	db := testutil.OpenDB(t)
	reg := identity.New(db)
	ctx := context.Background()
	require.NoError(t, reg.EnsureTables(ctx))

	ledger := economy.New(db, reg)
	require.NoError(t, ledger.EnsureTables(ctx))
	return ledger, reg
}

func TestHealthHandlerReportsOK(t *testing.T) {
	router := NewRouter(newTestLedger(t), nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["ok"])
}

func TestLeaderboardHandlerReturnsEmptyListWhenNoBalances(t *testing.T) {
	router := NewRouter(newTestLedger(t), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/economy/top10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string][]leaderboardEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body["leaderboard"])
}

func TestLeaderboardHandlerReturnsAwardedBalances(t *testing.T) {
	ledger, reg := newTestLedgerAndRegistry(t)
	ctx := context.Background()
	_, profile, _, err := reg.GetOrCreateIdentity(ctx, identity.PlatformDiscord, "ext-1", "Alice", nil)
	require.NoError(t, err)
	_, err = ledger.ApplyBalanceDelta(ctx, profile.UserID, 5.0, economy.ReasonAdminAdd, identity.PlatformDiscord, nil, nil, nil)
	require.NoError(t, err)

	router := NewRouter(ledger, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/economy/top10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body map[string][]leaderboardEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body["leaderboard"], 1)
	assert.Equal(t, profile.UserID, body["leaderboard"][0].UserID)
	assert.Equal(t, 5.0, body["leaderboard"][0].Balance)
}

func TestFileServerMountsStaticDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello"), 0o644))

	router := NewRouter(newTestLedger(t), map[string]string{"/static": dir})
	req := httptest.NewRequest(http.MethodGet, "/static/hello.txt", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
}
