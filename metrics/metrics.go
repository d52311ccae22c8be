// Package metrics turns raw deal and user records into the per-user
// sales summary the dashboard presents. Everything here is a pure
// function over the caller's snapshot: recomputing twice from the same
// store state yields the same result, so a redundant refresh is wasted
// work, never a correctness hazard.
package metrics

import (
	"sort"

	"github.com/salesboard/salesboard/models"
)

// DefaultLeaderboardSize caps the ranked view at the top performers.
const DefaultLeaderboardSize = 10

// Compute groups deals by owner, sums their values, and joins the user
// profile for name and account type. Users with no deals appear with a
// zero total: metrics mirror the store's per-user view, so every profile
// row gets an entry. Deals whose owner is missing from users are ignored
// (the store enforces referential integrity at write time; a snapshot
// taken mid-cascade may briefly contain orphans).
func Compute(users []models.User, deals []models.Deal) []models.Metric {
	totals := make(map[string]float64, len(users))

	for i := range deals {
		totals[deals[i].UserID] += deals[i].Value
	}

	ans := make([]models.Metric, 0, len(users))

	for i := range users {
		ans = append(ans, models.Metric{
			UserID:      users[i].ID,
			Name:        users[i].Name,
			AccountType: users[i].AccountType,
			TotalSales:  totals[users[i].ID],
		})
	}

	return ans
}

// Rank produces the leaderboard: admins excluded, sorted by total sales
// descending, ties keeping their input order, truncated to topN.
// topN <= 0 means DefaultLeaderboardSize.
func Rank(items []models.Metric, topN int) []models.Metric {
	if topN <= 0 {
		topN = DefaultLeaderboardSize
	}

	ranked := make([]models.Metric, 0, len(items))

	for i := range items {
		if items[i].AccountType == models.AccountTypeAdmin {
			continue
		}

		ranked = append(ranked, items[i])
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalSales > ranked[j].TotalSales
	})

	if len(ranked) > topN {
		ranked = ranked[:topN]
	}

	return ranked
}

// ActiveTarget selects the target with the newest CreatedAt, regardless
// of slice order. ok is false when no target has been set yet; that is
// the "no target" state, not an error.
func ActiveTarget(targets []models.Target) (value float64, ok bool) {
	if len(targets) == 0 {
		return 0, false
	}

	best := targets[0]

	for _, t := range targets[1:] {
		if t.CreatedAt.After(best.CreatedAt) {
			best = t
		}
	}

	return best.TargetValue, true
}
