package discovery

import (
	"fmt"
	"strings"
)

// Category keys understood by the engine. The order here is the canonical
// order used in provider requests.
const (
	CategoryTouristAttraction = "tourist_attraction"
	CategoryMuseum            = "museum"
	CategoryArtGallery        = "art_gallery"
)

var categoryOrder = []string{CategoryTouristAttraction, CategoryMuseum, CategoryArtGallery}

var categoryLabels = map[string]string{
	CategoryTouristAttraction: "Tourist attraction",
	CategoryMuseum:            "Museum",
	CategoryArtGallery:        "Art gallery",
}

// CategoryLabel returns the human-readable label for key, or key itself when unknown.
func CategoryLabel(key string) string {
	if l, ok := categoryLabels[key]; ok {
		return l
	}
	return key
}

// KnownCategory reports whether key belongs to the closed category set.
func KnownCategory(key string) bool {
	_, ok := categoryLabels[key]
	return ok
}

// CategoryFilter is the set of enabled category flags. The zero value enables nothing.
type CategoryFilter struct {
	TouristAttraction bool
	Museum            bool
	ArtGallery        bool
}

// AllCategories enables every category.
func AllCategories() CategoryFilter {
	return CategoryFilter{TouristAttraction: true, Museum: true, ArtGallery: true}
}

// NewCategoryFilter enables exactly the given keys. "all" enables everything;
// no keys at all also means everything.
func NewCategoryFilter(keys ...string) (CategoryFilter, error) {
	if len(keys) == 0 {
		return AllCategories(), nil
	}

	var f CategoryFilter
	for _, k := range keys {
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "all":
			return AllCategories(), nil
		case CategoryTouristAttraction:
			f.TouristAttraction = true
		case CategoryMuseum:
			f.Museum = true
		case CategoryArtGallery:
			f.ArtGallery = true
		default:
			return CategoryFilter{}, fmt.Errorf("unknown category %q", k)
		}
	}
	return f, nil
}

func (f CategoryFilter) enabled(key string) bool {
	switch key {
	case CategoryTouristAttraction:
		return f.TouristAttraction
	case CategoryMuseum:
		return f.Museum
	case CategoryArtGallery:
		return f.ArtGallery
	default:
		return false
	}
}

// Empty reports whether no category is enabled.
func (f CategoryFilter) Empty() bool {
	return !f.TouristAttraction && !f.Museum && !f.ArtGallery
}

// IncludedCategoryKeys returns the provider keys of the enabled flags in canonical order.
func (f CategoryFilter) IncludedCategoryKeys() []string {
	keys := make([]string, 0, len(categoryOrder))
	for _, k := range categoryOrder {
		if f.enabled(k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// RequestKeys is what goes into a provider request. An empty filter asks for
// everything rather than sending an empty type list.
func (f CategoryFilter) RequestKeys() []string {
	if f.Empty() {
		return AllCategories().IncludedCategoryKeys()
	}
	return f.IncludedCategoryKeys()
}

// Matches reports whether a's category is enabled. Unknown or empty categories never match.
func (f CategoryFilter) Matches(a Attraction) bool {
	return f.enabled(a.Category)
}

// Covers reports whether a batch fetched for fetched keys already contains
// every category this filter enables, so it can be re-filtered locally.
func (f CategoryFilter) Covers(fetched []string) bool {
	have := make(map[string]struct{}, len(fetched))
	for _, k := range fetched {
		have[k] = struct{}{}
	}
	for _, k := range f.IncludedCategoryKeys() {
		if _, ok := have[k]; !ok {
			return false
		}
	}
	return true
}

// SortMode selects the ranking order.
type SortMode int

const (
	SortDistance SortMode = iota
	SortRating
	SortBest
)

// ParseSortMode accepts "distance", "rating" or "best".
func ParseSortMode(s string) (SortMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "distance":
		return SortDistance, nil
	case "rating":
		return SortRating, nil
	case "best":
		return SortBest, nil
	default:
		return SortDistance, fmt.Errorf("unknown sort mode %q", s)
	}
}

func (m SortMode) String() string {
	switch m {
	case SortRating:
		return "rating"
	case SortBest:
		return "best"
	default:
		return "distance"
	}
}

// MarshalText renders the mode by name.
func (m SortMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a mode name.
func (m *SortMode) UnmarshalText(b []byte) error {
	v, err := ParseSortMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
