package replication

import "sort"

const (
	retainMostRecent = 5
	retainDailyDays   = 10
)

// selectRetained implements the tiered retention policy: keep the 5
// most recent snapshots unconditionally, plus the newest snapshot of each
// of the 10 most recent distinct UTC calendar days (counted over all
// entries, so days already covered by the top 5 use up part of those 10);
// everything else is marked for deletion.
//
// entries need not be sorted on input; the returned slices preserve no
// particular order beyond grouping into retained/deleted.
func selectRetained(entries []ManifestEntry) (retained, deleted []ManifestEntry) {
	sorted := append([]ManifestEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })

	if len(sorted) <= retainMostRecent {
		return sorted, nil
	}

	// The newest snapshot of each calendar day, computed over every
	// entry (not just the tail past the top 5) — a day whose newest
	// snapshot already falls within the top 5 contributes nothing extra.
	var dayOrder []string
	seenDays := make(map[string]bool)
	bestPerDay := make(map[string]ManifestEntry)
	for _, e := range sorted {
		day := e.CreatedAt.UTC().Format("2006-01-02")
		if !seenDays[day] {
			seenDays[day] = true
			dayOrder = append(dayOrder, day)
		}
		if current, ok := bestPerDay[day]; !ok || e.CreatedAt.After(current.CreatedAt) {
			bestPerDay[day] = e
		}
	}
	if len(dayOrder) > retainDailyDays {
		dayOrder = dayOrder[:retainDailyDays]
	}

	keep := make(map[int64]bool, retainMostRecent+len(dayOrder))
	for _, e := range sorted[:retainMostRecent] {
		keep[e.ID] = true
	}
	for _, day := range dayOrder {
		keep[bestPerDay[day].ID] = true
	}

	for _, e := range sorted {
		if keep[e.ID] {
			retained = append(retained, e)
		} else {
			deleted = append(deleted, e)
		}
	}
	return retained, deleted
}
