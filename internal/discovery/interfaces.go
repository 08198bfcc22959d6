package discovery

import "context"

// PlacesProvider returns candidate places around a center.
type PlacesProvider interface {
	Nearby(ctx context.Context, req NearbyRequest) ([]Place, error)
}

// CacheStore is the disposable offline copy of the last live batch per user.
type CacheStore interface {
	UpsertBatch(ctx context.Context, userID string, batch []Attraction) error
	ReadCached(ctx context.Context, userID string) ([]Attraction, error)
}

// FavoriteReader loads the ids a user has favorited.
type FavoriteReader interface {
	FavoriteIDs(ctx context.Context, userID string) (map[string]struct{}, error)
}

// FavoriteStore is the durable, user-authored favorites ledger.
// SetFavorite with a nil attraction removes the favorite.
type FavoriteStore interface {
	FavoriteReader
	SetFavorite(ctx context.Context, userID, placeID string, a *Attraction) error
	ListFavorites(ctx context.Context, userID, category string) ([]FavoriteRecord, error)
}

// ConnectivityOracle reports whether the network is currently reachable.
type ConnectivityOracle interface {
	IsOnline() bool
}
