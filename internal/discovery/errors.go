package discovery

import "errors"

var (
	// ErrProviderUnavailable means the live provider could not be used; the
	// session falls back to the offline cache.
	ErrProviderUnavailable = errors.New("places provider unavailable")

	// ErrNoCachedData means the session is offline and nothing was cached for the user.
	ErrNoCachedData = errors.New("no cached attractions")

	// ErrPersistenceWriteFailed wraps cache write failures. Never surfaced to consumers.
	ErrPersistenceWriteFailed = errors.New("persisting attractions failed")

	// ErrMalformedCandidate marks a provider record that cannot become an Attraction.
	ErrMalformedCandidate = errors.New("malformed candidate")
)
