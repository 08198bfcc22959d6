package api

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neexbeast/culturalcompass/internal/discovery"
)

// SessionFactory starts a discovery session for userID.
type SessionFactory func(userID string, state discovery.FetchState) *discovery.Session

type sessionEntry struct {
	id      string
	userID  string
	session *discovery.Session
	created time.Time
}

// Registry tracks live discovery sessions by id.
type Registry struct {
	newSession SessionFactory
	log        *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// NewRegistry constructs an empty Registry.
func NewRegistry(factory SessionFactory, log *slog.Logger) *Registry {
	return &Registry{
		newSession: factory,
		log:        log,
		sessions:   make(map[string]*sessionEntry),
	}
}

// Create starts a session and returns its id.
func (r *Registry) Create(userID string, state discovery.FetchState) (string, *discovery.Session) {
	id := uuid.NewString()
	s := r.newSession(userID, state)

	r.mu.Lock()
	r.sessions[id] = &sessionEntry{id: id, userID: userID, session: s, created: time.Now()}
	r.mu.Unlock()

	r.log.Info("discovery session opened", "session", id, "user", userID)
	return id, s
}

// Get looks a session up by id.
func (r *Registry) Get(id string) (*discovery.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Remove closes and forgets a session. It reports whether the id was known.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.session.Close()
	r.log.Info("discovery session closed", "session", id, "user", e.userID, "age", time.Since(e.created).String())
	return true
}

// NotifyFavorite forwards a favorite toggle to every open session of userID.
func (r *Registry) NotifyFavorite(userID, placeID string, on bool) {
	for _, e := range r.userSessions(userID) {
		if err := e.session.FavoriteChanged(placeID, on); err != nil {
			r.log.Warn("favorite change not delivered", "session", e.id, "err", err)
		}
	}
}

func (r *Registry) userSessions(userID string) []*sessionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*sessionEntry
	for _, e := range r.sessions {
		if e.userID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for id, e := range r.sessions {
		entries = append(entries, e)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(s *discovery.Session) {
			defer wg.Done()
			s.Close()
		}(e.session)
	}
	wg.Wait()
}
