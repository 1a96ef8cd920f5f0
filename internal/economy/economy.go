package economy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"

	"powerbot/internal/apperr"
	"powerbot/internal/eventqueue"
	"powerbot/internal/identity"
	"powerbot/internal/logging"
	"powerbot/internal/progressnotifier"
	"powerbot/internal/store"
)

// Ledger implements the Economy Ledger component.
type Ledger struct {
	db       *store.DB
	registry *identity.Registry

	events      *eventqueue.Queue
	notifierFor func(guildID string) *progressnotifier.Notifier
}

// Option configures optional Ledger behavior.
type Option func(*Ledger)

// WithProgressNotifications wires the ledger into the cross-process
// progress pipeline: after a balance-affecting operation settles, the
// acting guild's progressnotifier.Notifier (resolved by resolver) is
// updated, and any milestone/bankruptcy notifications it returns are
// pushed onto events for a separate drain loop to broadcast. Operations
// with no guild scope (Transfer) resolve against the "" guild.
//
// Without this option the ledger still records balances correctly; it
// just emits no progress events, the same as before this was wired.
func WithProgressNotifications(events *eventqueue.Queue, resolver func(guildID string) *progressnotifier.Notifier) Option {
	return func(l *Ledger) {
		l.events = events
		l.notifierFor = resolver
	}
}

// New returns a Ledger backed by db, resolving active user ids through
// registry before every credit/debit.
func New(db *store.DB, registry *identity.Registry, opts ...Option) *Ledger {
	l := &Ledger{db: db, registry: registry}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// progressEvent is the payload pushed onto the event queue after a
// balance-affecting operation crosses a milestone or bankruptcy
// threshold; the websocket_hub worker drains these and broadcasts them.
type progressEvent struct {
	UserID          int64                            `json:"user_id"`
	GuildID         string                           `json:"guild_id,omitempty"`
	PreviousBalance float64                          `json:"previous_balance"`
	NewBalance      float64                          `json:"new_balance"`
	Notifications   []progressnotifier.Notification  `json:"notifications"`
}

// emitProgress resolves guildID's notifier (if wired), updates it, and
// pushes any resulting notifications onto the event queue. Failures here
// are logged and swallowed: a lost progress notification never corrupts
// a balance, since Update only ever touches its own advisory state.
func (l *Ledger) emitProgress(userID int64, guildID string, previousBalance, newBalance float64) {
	if l.events == nil || l.notifierFor == nil {
		return
	}
	notifier := l.notifierFor(guildID)
	if notifier == nil {
		return
	}
	notifications, err := notifier.Update(userID, previousBalance, newBalance)
	if err != nil {
		logging.For("economy").Warn().Err(err).Int64("user_id", userID).Msg("progress notifier update failed")
		return
	}
	if len(notifications) == 0 {
		return
	}
	payload, err := json.Marshal(progressEvent{
		UserID:          userID,
		GuildID:         guildID,
		PreviousBalance: previousBalance,
		NewBalance:      newBalance,
		Notifications:   notifications,
	})
	if err != nil {
		logging.For("economy").Warn().Err(err).Msg("marshal progress event")
		return
	}
	if _, err := l.events.PushPayload(payload); err != nil {
		logging.For("economy").Warn().Err(err).Msg("push progress event")
	}
}

// EnsureTables is additive-only and idempotent; the baseline schema lives in
// migrations/sqlite, this only guards a store opened against an older
// install that predates this component.
func (l *Ledger) EnsureTables(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS wallets (
			user_id INTEGER PRIMARY KEY, balance_cents INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL)`)
	if err != nil {
		return apperr.Wrap(apperr.SchemaMismatch, "ensure wallets table", err)
	}
	return nil
}

// AwardMessagePoints implements award_message_points.
func (l *Ledger) AwardMessagePoints(ctx context.Context, anyUserID int64, scopeID string, amount float64, intervalSeconds int, sourceID *string, platform identity.Platform) (AwardResult, error) {
	if amount <= 0 {
		return AwardResult{}, apperr.New(apperr.InvalidArgument, "amount must be positive")
	}
	_, cents := RoundAmount(amount)

	userID, err := l.registry.ResolveActiveUserID(ctx, anyUserID)
	if err != nil {
		return AwardResult{}, err
	}

	var result AwardResult
	var previousCents int64

	err = l.db.BeginImmediate(ctx, func(tx *store.Tx) error {
		if sourceID != nil {
			var existing int
			err := tx.GetContext(ctx, &existing, `SELECT COUNT(*) FROM earning_events WHERE platform=? AND source_id=?`, platform, *sourceID)
			if err != nil {
				return apperr.Wrap(apperr.Storage, "check earning event", err)
			}
			if existing > 0 {
				result = AwardResult{Awarded: false}
				return nil
			}
		}

		var lastAwarded sql.NullTime
		err := tx.GetContext(ctx, &lastAwarded, `SELECT last_awarded_at FROM earning_cooldowns WHERE user_id=? AND scope_id=?`, userID, scopeID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return apperr.Wrap(apperr.Storage, "load cooldown", err)
		}
		now := store.Now()
		if lastAwarded.Valid {
			elapsed := now.Sub(lastAwarded.Time)
			if elapsed.Seconds() < float64(intervalSeconds) {
				result = AwardResult{Awarded: false}
				return nil
			}
		}

		if err := tx.GetContext(ctx, &previousCents, `SELECT balance_cents FROM wallets WHERE user_id=?`, userID); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return apperr.Wrap(apperr.Storage, "load wallet total", err)
		}
		if err := creditPlatformTx(ctx, tx, userID, platform, cents); err != nil {
			return err
		}
		newTotal, err := reconcileWalletTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_entries (user_id, amount_cents, reason, platform, source_id, created_at) VALUES (?,?,?,?,?,?)`,
			userID, cents, ReasonMessageEarning, platform, sourceID, now); err != nil {
			return apperr.Wrap(apperr.Storage, "insert ledger entry", err)
		}
		if sourceID != nil {
			if _, err := tx.ExecContext(ctx, `INSERT INTO earning_events (platform, source_id, user_id, created_at) VALUES (?,?,?,?)`,
				platform, *sourceID, userID, now); err != nil {
				return apperr.Wrap(apperr.Storage, "insert earning event", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO earning_cooldowns (user_id, scope_id, last_awarded_at) VALUES (?,?,?)
			ON CONFLICT(user_id, scope_id) DO UPDATE SET last_awarded_at=excluded.last_awarded_at`,
			userID, scopeID, now); err != nil {
			return apperr.Wrap(apperr.Storage, "upsert cooldown", err)
		}

		result = AwardResult{Awarded: true, PointsAdded: CentsToAmount(cents), NewTotal: CentsToAmount(newTotal)}
		return nil
	})
	if err != nil {
		return AwardResult{}, err
	}
	if result.Awarded {
		l.emitProgress(userID, scopeID, CentsToAmount(previousCents), result.NewTotal)
	}
	return result, nil
}

// creditPlatformTx adds deltaCents (may be negative) to user's platform
// sub-balance, creating the row if absent.
func creditPlatformTx(ctx context.Context, tx *store.Tx, userID int64, platform identity.Platform, deltaCents int64) error {
	now := store.Now()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO platform_wallets (user_id, platform, balance_cents, updated_at) VALUES (?,?,?,?)
		ON CONFLICT(user_id, platform) DO UPDATE SET balance_cents = balance_cents + excluded.balance_cents, updated_at=excluded.updated_at`,
		userID, platform, deltaCents, now)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "credit platform wallet", err)
	}
	return nil
}

// reconcileWalletTx recomputes Wallet(user) and returns the new total.
func reconcileWalletTx(ctx context.Context, tx *store.Tx, userID int64) (int64, error) {
	var total sql.NullInt64
	if err := tx.GetContext(ctx, &total, `SELECT SUM(balance_cents) FROM platform_wallets WHERE user_id=?`, userID); err != nil {
		return 0, apperr.Wrap(apperr.Storage, "sum platform wallets", err)
	}
	sum := int64(0)
	if total.Valid {
		sum = total.Int64
	}
	now := store.Now()
	res, err := tx.ExecContext(ctx, `UPDATE wallets SET balance_cents=?, updated_at=? WHERE user_id=?`, sum, now, userID)
	if err != nil {
		return 0, apperr.Wrap(apperr.Storage, "update wallet total", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO wallets (user_id, balance_cents, updated_at) VALUES (?,?,?)`, userID, sum, now); err != nil {
			return 0, apperr.Wrap(apperr.Storage, "insert wallet total", err)
		}
	}
	return sum, nil
}

type platformBalance struct {
	Platform     identity.Platform `db:"platform"`
	BalanceCents int64             `db:"balance_cents"`
}

func platformBalancesTx(ctx context.Context, tx *store.Tx, userID int64) ([]platformBalance, error) {
	var balances []platformBalance
	if err := tx.SelectContext(ctx, &balances, `SELECT platform, balance_cents FROM platform_wallets WHERE user_id=?`, userID); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "load platform balances", err)
	}
	return balances, nil
}

// deductCombinedTx deducts amountCents from userID across platforms in
// priority order, taking from each until satisfied. Returns
// InsufficientFunds if the combined balance cannot cover it; no partial
// deduction is left in place on that path since the caller rolls back the
// whole transaction.
func deductCombinedTx(ctx context.Context, tx *store.Tx, userID int64, amountCents int64, preferred identity.Platform) error {
	balances, err := platformBalancesTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	byPlatform := map[identity.Platform]int64{}
	for _, b := range balances {
		byPlatform[b.Platform] = b.BalanceCents
	}

	order := defaultPlatformPriority(preferred)
	seen := map[identity.Platform]bool{}
	for _, p := range order {
		seen[p] = true
	}
	var rest []identity.Platform
	for _, b := range balances {
		if !seen[b.Platform] {
			rest = append(rest, b.Platform)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	order = append(order, rest...)

	var combined int64
	for _, p := range order {
		combined += byPlatform[p]
	}
	if combined < amountCents {
		return apperr.New(apperr.InsufficientFunds, "combined balance insufficient")
	}

	remaining := amountCents
	for _, p := range order {
		if remaining <= 0 {
			break
		}
		available := byPlatform[p]
		if available <= 0 {
			continue
		}
		take := available
		if take > remaining {
			take = remaining
		}
		if err := creditPlatformTx(ctx, tx, userID, p, -take); err != nil {
			return err
		}
		remaining -= take
	}
	return nil
}

// ApplyBalanceDelta implements apply_balance_delta.
func (l *Ledger) ApplyBalanceDelta(ctx context.Context, anyUserID int64, deltaAmount float64, reason Reason, platform identity.Platform, guildID, channelID, sourceID *string) (float64, error) {
	if deltaAmount == 0 {
		return 0, apperr.New(apperr.InvalidArgument, "amount must be non-zero")
	}
	_, cents := RoundAmount(absFloat(deltaAmount))
	if deltaAmount < 0 {
		cents = -cents
	}

	userID, err := l.registry.ResolveActiveUserID(ctx, anyUserID)
	if err != nil {
		return 0, err
	}

	var newTotalCents, previousCents int64
	err = l.db.BeginImmediate(ctx, func(tx *store.Tx) error {
		if err := tx.GetContext(ctx, &previousCents, `SELECT balance_cents FROM wallets WHERE user_id=?`, userID); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return apperr.Wrap(apperr.Storage, "load wallet total", err)
		}
		if cents > 0 {
			if err := creditPlatformTx(ctx, tx, userID, platform, cents); err != nil {
				return err
			}
		} else {
			if err := deductCombinedTx(ctx, tx, userID, -cents, platform); err != nil {
				return err
			}
		}
		total, err := reconcileWalletTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		newTotalCents = total

		now := store.Now()
		if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_entries (user_id, amount_cents, reason, platform, guild_id, channel_id, source_id, created_at) VALUES (?,?,?,?,?,?,?,?)`,
			userID, cents, reason, platform, guildID, channelID, sourceID, now); err != nil {
			return apperr.Wrap(apperr.Storage, "insert ledger entry", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	newTotal := CentsToAmount(newTotalCents)
	guild := ""
	if guildID != nil {
		guild = *guildID
	}
	l.emitProgress(userID, guild, CentsToAmount(previousCents), newTotal)
	return newTotal, nil
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Transfer implements transfer.
func (l *Ledger) Transfer(ctx context.Context, fromAnyUserID, toAnyUserID int64, amount float64, platform identity.Platform) (TransferResult, error) {
	if amount <= 0 {
		return TransferResult{}, apperr.New(apperr.InvalidArgument, "amount must be positive")
	}

	fromUser, err := l.registry.ResolveActiveUserID(ctx, fromAnyUserID)
	if err != nil {
		return TransferResult{}, err
	}
	toUser, err := l.registry.ResolveActiveUserID(ctx, toAnyUserID)
	if err != nil {
		return TransferResult{}, err
	}
	if fromUser == toUser {
		return TransferResult{}, apperr.New(apperr.InvalidArgument, "self-transfer is not allowed")
	}

	_, cents := RoundAmount(amount)
	var result TransferResult
	var fromPrevCents, toPrevCents int64

	err = l.db.BeginImmediate(ctx, func(tx *store.Tx) error {
		if err := tx.GetContext(ctx, &fromPrevCents, `SELECT balance_cents FROM wallets WHERE user_id=?`, fromUser); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return apperr.Wrap(apperr.Storage, "load from wallet total", err)
		}
		if err := tx.GetContext(ctx, &toPrevCents, `SELECT balance_cents FROM wallets WHERE user_id=?`, toUser); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return apperr.Wrap(apperr.Storage, "load to wallet total", err)
		}
		if err := deductCombinedTx(ctx, tx, fromUser, cents, platform); err != nil {
			return err
		}
		if err := creditPlatformTx(ctx, tx, toUser, platform, cents); err != nil {
			return err
		}
		fromTotal, err := reconcileWalletTx(ctx, tx, fromUser)
		if err != nil {
			return err
		}
		toTotal, err := reconcileWalletTx(ctx, tx, toUser)
		if err != nil {
			return err
		}

		now := store.Now()
		if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_entries (user_id, amount_cents, reason, platform, created_at) VALUES (?,?,?,?,?)`,
			fromUser, -cents, ReasonTransferOut, platform, now); err != nil {
			return apperr.Wrap(apperr.Storage, "insert transfer_out entry", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_entries (user_id, amount_cents, reason, platform, created_at) VALUES (?,?,?,?,?)`,
			toUser, cents, ReasonTransferIn, platform, now); err != nil {
			return apperr.Wrap(apperr.Storage, "insert transfer_in entry", err)
		}

		result = TransferResult{FromTotal: CentsToAmount(fromTotal), ToTotal: CentsToAmount(toTotal)}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	l.emitProgress(fromUser, "", CentsToAmount(fromPrevCents), result.FromTotal)
	l.emitProgress(toUser, "", CentsToAmount(toPrevCents), result.ToTotal)
	return result, nil
}

// GetTotalBalance returns the cached Wallet total for a user.
func (l *Ledger) GetTotalBalance(ctx context.Context, anyUserID int64) (float64, error) {
	userID, err := l.registry.ResolveActiveUserID(ctx, anyUserID)
	if err != nil {
		return 0, err
	}
	var cents int64
	err = l.db.GetContext(ctx, &cents, `SELECT balance_cents FROM wallets WHERE user_id=?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.New(apperr.NotFound, "unknown user")
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.Storage, "load wallet total", err)
	}
	return CentsToAmount(cents), nil
}

// GetPlatformBalances returns every platform sub-balance for a user.
func (l *Ledger) GetPlatformBalances(ctx context.Context, anyUserID int64) (map[identity.Platform]float64, error) {
	userID, err := l.registry.ResolveActiveUserID(ctx, anyUserID)
	if err != nil {
		return nil, err
	}
	var rows []platformBalance
	if err := l.db.SelectContext(ctx, &rows, `SELECT platform, balance_cents FROM platform_wallets WHERE user_id=?`, userID); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "load platform balances", err)
	}
	out := make(map[identity.Platform]float64, len(rows))
	for _, r := range rows {
		out[r.Platform] = CentsToAmount(r.BalanceCents)
	}
	return out, nil
}

// LeaderboardRow is one entry of top_leaderboard.
type LeaderboardRow struct {
	UserID  int64
	Balance float64
}

// TopLeaderboard returns the top `limit` users by total wallet balance.
func (l *Ledger) TopLeaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	type row struct {
		UserID       int64 `db:"user_id"`
		BalanceCents int64 `db:"balance_cents"`
	}
	var rows []row
	if err := l.db.SelectContext(ctx, &rows, `SELECT user_id, balance_cents FROM wallets ORDER BY balance_cents DESC LIMIT ?`, limit); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "load leaderboard", err)
	}
	out := make([]LeaderboardRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, LeaderboardRow{UserID: r.UserID, Balance: CentsToAmount(r.BalanceCents)})
	}
	return out, nil
}
