package discovery

import "github.com/neexbeast/culturalcompass/internal/geo"

// Reconcile returns a copy of candidates with each Favorite flag set to whether
// its ID is in favoriteIDs. Nothing else changes; running it twice with the
// same set yields the same result.
func Reconcile(candidates []Attraction, favoriteIDs map[string]struct{}) []Attraction {
	out := make([]Attraction, len(candidates))
	for i, a := range candidates {
		_, fav := favoriteIDs[a.ID]
		a.Favorite = fav
		out[i] = a
	}
	return out
}

// buildAttractions turns provider places into attractions measured from center.
// Places with an invalid location are dropped.
func buildAttractions(places []Place, center geo.Coordinate) []Attraction {
	out := make([]Attraction, 0, len(places))
	for _, p := range places {
		if p.ID == "" || !p.Location.Valid() {
			continue
		}
		out = append(out, Attraction{
			ID:             p.ID,
			Name:           p.Name,
			Location:       p.Location,
			DistanceMeters: geo.Distance(center, p.Location),
			Category:       p.Category,
			CategoryLabel:  p.CategoryLabel,
			Rating:         p.Rating,
			RatingCount:    p.RatingCount,
			PhotoRef:       p.PhotoRef,
		})
	}
	return out
}

// remeasure recomputes DistanceMeters against center, e.g. for cached batches.
func remeasure(batch []Attraction, center geo.Coordinate) []Attraction {
	out := make([]Attraction, 0, len(batch))
	for _, a := range batch {
		if !a.Location.Valid() {
			continue
		}
		a.DistanceMeters = geo.Distance(center, a.Location)
		out = append(out, a)
	}
	return out
}
