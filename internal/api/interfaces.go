package api

import (
	"context"

	"github.com/neexbeast/culturalcompass/internal/discovery"
)

// FavoriteStore defines the favorites operations needed by handlers.
type FavoriteStore interface {
	discovery.FavoriteStore
	GetFavorite(ctx context.Context, userID, placeID string) (*discovery.FavoriteRecord, error)
}

// pinger is anything the health check can probe.
type pinger interface {
	Ping(ctx context.Context) error
}

// stateReporter is a pinger that also names its current state, such as a
// circuit breaker reporting "open".
type stateReporter interface {
	State() string
}
