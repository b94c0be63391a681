// Package tier derives a loyalty tier from a user's lifetime-earned points.
// The derivation uses lifetime points, never the spendable balance, so
// redeeming rewards can never demote a user.
package tier

// Tier is one band of the loyalty program with its display metadata and
// benefit labels.
type Tier struct {
	Name      string   `json:"name"`
	Color     string   `json:"color"`
	Icon      string   `json:"icon"`
	Benefits  []string `json:"benefits"`
	MinPoints int64    `json:"min_points"`
}

// Progress reports where a user sits inside their current band.
type Progress struct {
	Current Tier    `json:"current"`
	Next    *Tier   `json:"next,omitempty"`
	Percent float64 `json:"percent"`
}

// tiers is ordered by ascending MinPoints; Of scans it from the top.
var tiers = []Tier{
	{
		Name:      "Membre",
		Color:     "bg-gray-600",
		Icon:      "🎯",
		MinPoints: 0,
		Benefits:  []string{"Accumulez des points à chaque achat"},
	},
	{
		Name:      "Bronze",
		Color:     "bg-orange-600",
		Icon:      "🥉",
		MinPoints: 500,
		Benefits:  []string{"5% de réduction sur toutes les commandes"},
	},
	{
		Name:      "Argent",
		Color:     "bg-gray-400",
		Icon:      "🥈",
		MinPoints: 2000,
		Benefits: []string{
			"10% de réduction sur toutes les commandes",
			"Livraison gratuite",
		},
	},
	{
		Name:      "Or",
		Color:     "bg-yellow-500",
		Icon:      "⭐",
		MinPoints: 5000,
		Benefits: []string{
			"15% de réduction sur toutes les commandes",
			"Livraison gratuite",
			"Accès anticipé aux nouveautés",
		},
	},
	{
		Name:      "Platine",
		Color:     "bg-slate-400",
		Icon:      "👑",
		MinPoints: 10000,
		Benefits: []string{
			"20% de réduction sur toutes les commandes",
			"Livraison gratuite",
			"Accès anticipé aux nouveautés",
			"Support prioritaire",
		},
	},
}

// Of maps lifetime-earned points to the tier whose band contains them.
// Bands are closed on the lower bound.
func Of(totalPointsEarned int64) Tier {
	for i := len(tiers) - 1; i > 0; i-- {
		if totalPointsEarned >= tiers[i].MinPoints {
			return tiers[i]
		}
	}
	return tiers[0]
}

// ProgressOf returns the current tier plus the percentage covered of the
// distance to the next band, clamped to 100 at the top tier.
func ProgressOf(totalPointsEarned int64) Progress {
	current := Of(totalPointsEarned)

	var next *Tier
	for i := range tiers {
		if tiers[i].MinPoints > current.MinPoints {
			t := tiers[i]
			next = &t
			break
		}
	}

	if next == nil {
		return Progress{Current: current, Percent: 100}
	}

	span := next.MinPoints - current.MinPoints
	percent := float64(totalPointsEarned-current.MinPoints) / float64(span) * 100
	if percent > 100 {
		percent = 100
	}

	return Progress{Current: current, Next: next, Percent: percent}
}

// All returns the tier table in ascending order, for display.
func All() []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return out
}
