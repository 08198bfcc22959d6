package discovery

import "math"

const (
	// Unrated is returned by WeightedRating for attractions without reviews.
	// Lower than any real Wilson bound, which is never negative.
	Unrated = -1.0

	// DefaultDistancePenaltyPerKm is how much combined score one kilometer costs.
	DefaultDistancePenaltyPerKm = 0.15

	wilsonZ = 1.96 // 95% confidence
)

// WeightedRating returns the Wilson score lower bound of a 0-5 rating, scaled
// back to 0-5. Few reviews pull the value down relative to many reviews at the
// same raw rating.
func WeightedRating(a Attraction) float64 {
	if a.Rating == nil || a.RatingCount == nil || *a.RatingCount <= 0 {
		return Unrated
	}

	n := float64(*a.RatingCount)
	p := *a.Rating / 5
	z2 := wilsonZ * wilsonZ

	numerator := p + z2/(2*n) - wilsonZ*math.Sqrt((p*(1-p)+z2/(4*n))/n)
	denominator := 1 + z2/n

	return numerator / denominator * 5
}

// Scorer blends adjusted rating with proximity.
type Scorer struct {
	DistancePenaltyPerKm float64
}

// DefaultScorer returns a Scorer with the default distance penalty.
func DefaultScorer() Scorer {
	return Scorer{DistancePenaltyPerKm: DefaultDistancePenaltyPerKm}
}

// CombinedScore is max(WeightedRating, 0) minus the distance penalty.
func (s Scorer) CombinedScore(a Attraction) float64 {
	rating := math.Max(WeightedRating(a), 0)
	return rating - s.DistancePenaltyPerKm*(a.DistanceMeters/1000)
}
