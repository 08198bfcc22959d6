package discovery

import "sort"

// MaxResults is the provider's per-request cap and the ranking cap.
const MaxResults = 20

// Ranker filters and orders candidates.
type Ranker struct {
	Scorer     Scorer
	MaxResults int
}

// NewRanker returns a Ranker using scorer and the default result cap.
func NewRanker(scorer Scorer) Ranker {
	return Ranker{Scorer: scorer, MaxResults: MaxResults}
}

// Rank returns a new slice holding the candidates that match filter, ordered
// by mode. The input slice and its elements are left untouched; ties keep the
// input (provider) order.
func (r Ranker) Rank(candidates []Attraction, filter CategoryFilter, mode SortMode) []Attraction {
	out := make([]Attraction, 0, len(candidates))
	for _, a := range candidates {
		if filter.Matches(a) {
			out = append(out, a)
		}
	}

	switch mode {
	case SortRating:
		keys := make([]float64, len(out))
		for i := range out {
			keys[i] = WeightedRating(out[i])
		}
		sortStableBy(out, keys, true)
	case SortBest:
		keys := make([]float64, len(out))
		for i := range out {
			keys[i] = r.Scorer.CombinedScore(out[i])
		}
		sortStableBy(out, keys, true)
	default:
		keys := make([]float64, len(out))
		for i := range out {
			keys[i] = out[i].DistanceMeters
		}
		sortStableBy(out, keys, false)
	}

	limit := r.MaxResults
	if limit <= 0 {
		limit = MaxResults
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// keyed sorts attractions and their precomputed keys together.
type keyed struct {
	items []Attraction
	keys  []float64
	desc  bool
}

func (k keyed) Len() int { return len(k.items) }

func (k keyed) Less(i, j int) bool {
	if k.desc {
		return k.keys[i] > k.keys[j]
	}
	return k.keys[i] < k.keys[j]
}

func (k keyed) Swap(i, j int) {
	k.items[i], k.items[j] = k.items[j], k.items[i]
	k.keys[i], k.keys[j] = k.keys[j], k.keys[i]
}

func sortStableBy(items []Attraction, keys []float64, desc bool) {
	sort.Stable(keyed{items: items, keys: keys, desc: desc})
}
