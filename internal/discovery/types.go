package discovery

import (
	"fmt"
	"time"

	"github.com/neexbeast/culturalcompass/internal/geo"
)

// Attraction is a single point of interest as seen by the engine.
// DistanceMeters is always relative to the center of the fetch that produced it.
type Attraction struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Location       geo.Coordinate `json:"location"`
	DistanceMeters float64        `json:"distance_meters"`
	Category       string         `json:"category"`
	CategoryLabel  string         `json:"category_label"`
	Rating         *float64       `json:"rating,omitempty"`
	RatingCount    *int           `json:"rating_count,omitempty"`
	PhotoRef       string         `json:"photo_ref,omitempty"`
	Favorite       bool           `json:"favorite"`
}

// FavoriteRecord is the persisted snapshot of a favorited attraction.
type FavoriteRecord struct {
	UserID     string     `json:"user_id"`
	Attraction Attraction `json:"attraction"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Place is a raw provider record before distance and favorite state are applied.
type Place struct {
	ID            string
	Name          string
	Location      geo.Coordinate
	Category      string
	CategoryLabel string
	Rating        *float64
	RatingCount   *int
	PhotoRef      string
}

// NearbyRequest is the input of a Places Provider call.
type NearbyRequest struct {
	Center       geo.Coordinate
	RadiusMeters int
	Categories   []string
	MaxResults   int
	RankBy       string
}

// State is the orchestrator state.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateReady
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateReady:
		return "ready"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// MarshalText lets State render as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{StateIdle, StateFetching, StateReady, StateOffline} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Source identifies where a published batch came from.
type Source string

const (
	SourceNone  Source = "none"
	SourceLive  Source = "live"
	SourceCache Source = "cache"
)

// FetchState is the mutable per-session state owned by the Session control loop.
type FetchState struct {
	LastFetch      geo.Coordinate
	HasLastFetch   bool
	LastPosition   geo.Coordinate
	HasPosition    bool
	Filter         CategoryFilter
	Sort           SortMode
	FollowLocation bool

	// FetchedCategories are the category keys requested by the last completed fetch.
	FetchedCategories []string
}

// NewFetchState returns the state a discovery session starts with.
func NewFetchState(filter CategoryFilter, sort SortMode) FetchState {
	return FetchState{
		Filter:         filter,
		Sort:           sort,
		FollowLocation: true,
	}
}

// Snapshot is what the publisher hands to consumers.
type Snapshot struct {
	Seq         uint64         `json:"seq"`
	State       State          `json:"state"`
	Source      Source         `json:"source"`
	Center      geo.Coordinate `json:"center"`
	Sort        SortMode       `json:"sort"`
	Categories  []string       `json:"categories"`
	Attractions []Attraction   `json:"attractions"`
	Notice      string         `json:"notice,omitempty"`
	PublishedAt time.Time      `json:"published_at"`
}
