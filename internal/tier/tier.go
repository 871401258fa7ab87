// Package tier derives a customer's loyalty tier from lifetime rewards
// claimed. Pure functions over a threshold table; nothing here persists.
package tier

import "sort"

// Level is one rung of the loyalty ladder.
type Level struct {
	Name string

	// MinRewards is the number of claimed rewards at which the level is
	// reached.
	MinRewards int
}

// Standing is the tier view rendered onto a pass.
type Standing struct {
	CurrentTier string

	// NextTier is empty at the top of the ladder.
	NextTier          string
	RewardsToNextTier int
}

// DefaultLadder is used when a business has not configured its own levels.
var DefaultLadder = []Level{
	{Name: "Bronze", MinRewards: 0},
	{Name: "Silver", MinRewards: 5},
	{Name: "Gold", MinRewards: 15},
	{Name: "Platinum", MinRewards: 30},
}

// Calculator resolves standings against one ladder.
type Calculator struct {
	levels []Level
}

// NewCalculator creates a calculator over the given levels. A nil or empty
// ladder falls back to DefaultLadder. Levels are sorted by threshold; the
// lowest level is treated as reachable at zero regardless of its threshold.
func NewCalculator(levels []Level) *Calculator {
	if len(levels) == 0 {
		levels = DefaultLadder
	}
	sorted := make([]Level, len(levels))
	copy(sorted, levels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinRewards < sorted[j].MinRewards })
	return &Calculator{levels: sorted}
}

// Standing returns the tier standing for a rewards-claimed count. Negative
// counts are treated as zero.
func (c *Calculator) Standing(rewardsClaimed int) Standing {
	if rewardsClaimed < 0 {
		rewardsClaimed = 0
	}

	current := 0
	for i, lvl := range c.levels {
		if i == 0 || rewardsClaimed >= lvl.MinRewards {
			current = i
		}
	}

	out := Standing{CurrentTier: c.levels[current].Name}
	if current+1 < len(c.levels) {
		next := c.levels[current+1]
		out.NextTier = next.Name
		out.RewardsToNextTier = next.MinRewards - rewardsClaimed
	}
	return out
}
