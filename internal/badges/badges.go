// Package badges derives reward tiers from point totals. Pure functions
// over a fixed ascending ladder; no I/O.
package badges

// Badge is one reward tier
type Badge struct {
	Name      string `json:"name"`
	MinPoints int    `json:"min_points"`
	Icon      string `json:"icon"`
	Color     string `json:"color"`
}

// Ladder is an ascending-by-threshold sequence of badges. The first badge
// must have MinPoints 0 so every score maps to a tier.
type Ladder []Badge

// Default is the site's reward ladder
var Default = Ladder{
	{Name: "Starter", MinPoints: 0, Icon: "seedling", Color: "gray"},
	{Name: "Builder", MinPoints: 50, Icon: "hammer", Color: "bronze"},
	{Name: "Achiever", MinPoints: 100, Icon: "medal", Color: "silver"},
	{Name: "Leader", MinPoints: 200, Icon: "trophy", Color: "gold"},
	{Name: "Legend", MinPoints: 500, Icon: "crown", Color: "platinum"},
}

// ForPoints returns the highest badge whose threshold is at or below score.
// Negative scores clamp to the floor tier.
func (l Ladder) ForPoints(score int) Badge {
	if score < 0 {
		score = 0
	}
	current := l[0]
	for _, b := range l {
		if b.MinPoints <= score {
			current = b
		} else {
			break
		}
	}
	return current
}

// Next returns the lowest badge strictly above score, or false at max tier
func (l Ladder) Next(score int) (Badge, bool) {
	if score < 0 {
		score = 0
	}
	for _, b := range l {
		if b.MinPoints > score {
			return b, true
		}
	}
	return Badge{}, false
}

// Progress returns score as a fraction of the next threshold, clamped to
// [0,1]; 1.0 at the max tier
func (l Ladder) Progress(score int) float64 {
	if score < 0 {
		score = 0
	}
	next, ok := l.Next(score)
	if !ok {
		return 1.0
	}
	frac := float64(score) / float64(next.MinPoints)
	if frac > 1 {
		return 1
	}
	return frac
}
