// Package progressnotifier implements milestone and bankruptcy
// detection driven off balance updates, persisted per guild alongside
// other Discord config.
package progressnotifier

import (
	"sort"

	"powerbot/internal/configstore"
)

// DefaultThresholds is the milestone ladder used when a guild hasn't
// configured its own: 10, 50, 100, ..., 100000.
var DefaultThresholds = []float64{10, 50, 100, 500, 1000, 5000, 10000, 50000, 100000}

// guildState is the per-guild persisted state (a map of user id to
// milestones seen), keyed by user id within the guild's file.
type guildState struct {
	Users map[int64]*userState `json:"users"`
}

// userState mirrors `{milestones_seen: set}`. It stores the set
// as a sorted slice rather than a map because encoding/json cannot use a
// float64 as a map key.
type userState struct {
	MilestonesSeen []float64 `json:"milestones_seen"`
}

func (u *userState) has(level float64) bool {
	for _, v := range u.MilestonesSeen {
		if v == level {
			return true
		}
	}
	return false
}

// Notification is one advisory event emitted by Update.
type Notification struct {
	Kind      string // "milestone" or "bankruptcy"
	Threshold float64
}

// Notifier watches balance transitions for one guild and persists
// milestones_seen state.
type Notifier struct {
	store               *configstore.Store
	thresholds          []float64
	bankruptcyThreshold float64
}

// New returns a Notifier for a single guild, persisting state to path
//.
func New(path string, thresholds []float64, bankruptcyThreshold float64) *Notifier {
	sorted := append([]float64(nil), thresholds...)
	sort.Float64s(sorted)
	return &Notifier{
		store:               configstore.New(path),
		thresholds:          sorted,
		bankruptcyThreshold: bankruptcyThreshold,
	}
}

// Update implements balance-update algorithm: it computes
// every unseen threshold now crossed, emits one notification per level,
// then (on the bankruptcy transition) resets milestones_seen entirely.
// Loss of a notification must never corrupt balances — Update never
// mutates the ledger, only this component's own advisory state.
func (n *Notifier) Update(userID int64, previousBalance, newBalance float64) ([]Notification, error) {
	var notifications []Notification

	var state guildState
	if err := n.store.Load(&state); err != nil {
		return nil, err
	}
	if state.Users == nil {
		state.Users = make(map[int64]*userState)
	}
	u, ok := state.Users[userID]
	if !ok {
		u = &userState{}
		state.Users[userID] = u
	}

	for _, level := range n.thresholds {
		if newBalance >= level && !u.has(level) {
			notifications = append(notifications, Notification{Kind: "milestone", Threshold: level})
		}
	}
	for _, note := range notifications {
		u.MilestonesSeen = append(u.MilestonesSeen, note.Threshold)
	}

	if previousBalance > n.bankruptcyThreshold && newBalance <= n.bankruptcyThreshold {
		notifications = append(notifications, Notification{Kind: "bankruptcy", Threshold: n.bankruptcyThreshold})
		u.MilestonesSeen = nil
	}

	if err := n.store.Save(&state); err != nil {
		return nil, err
	}
	return notifications, nil
}
