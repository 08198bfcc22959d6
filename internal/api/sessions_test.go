package api_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neexbeast/culturalcompass/internal/api"
	"github.com/neexbeast/culturalcompass/internal/discovery"
)

func newRegistry(t *testing.T) *api.Registry {
	t.Helper()
	log := discardLogger()
	provider := athensProvider()
	reg := api.NewRegistry(func(userID string, state discovery.FetchState) *discovery.Session {
		return discovery.NewSession(discovery.SessionConfig{UserID: userID}, state, discovery.Dependencies{
			Provider: provider,
			Log:      log,
		})
	}, log)
	t.Cleanup(reg.CloseAll)
	return reg
}

func TestRegistry_CreateGetRemove(t *testing.T) {
	reg := newRegistry(t)

	id, s := reg.Create("u1", discovery.NewFetchState(discovery.AllCategories(), discovery.SortDistance))
	require.NotEmpty(t, id)
	assert.Equal(t, "u1", s.UserID())
	assert.Equal(t, 1, reg.Len())

	got, ok := reg.Get(id)
	require.True(t, ok)
	assert.Same(t, s, got)

	assert.True(t, reg.Remove(id))
	assert.False(t, reg.Remove(id))
	_, ok = reg.Get(id)
	assert.False(t, ok)

	_, err := s.Status()
	assert.ErrorIs(t, err, discovery.ErrSessionClosed)
}

func TestRegistry_IDsAreUnique(t *testing.T) {
	reg := newRegistry(t)
	state := discovery.NewFetchState(discovery.AllCategories(), discovery.SortDistance)

	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := reg.Create("u1", state)
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	assert.Equal(t, 20, reg.Len())
}

func TestRegistry_NotifyFavoriteOnlyReachesUser(t *testing.T) {
	reg := newRegistry(t)
	state := discovery.NewFetchState(discovery.AllCategories(), discovery.SortDistance)

	_, mine := reg.Create("u1", state)
	_, theirs := reg.Create("u2", state)
	require.NoError(t, mine.UpdateLocation(syntagma))
	require.NoError(t, theirs.UpdateLocation(syntagma))

	ready := func(s *discovery.Session) func() bool {
		return func() bool {
			snap, ok := s.Latest()
			return ok && snap.Seq == 1
		}
	}
	require.Eventually(t, ready(mine), 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, ready(theirs), 2*time.Second, 10*time.Millisecond)

	reg.NotifyFavorite("u1", "museum-1", true)

	favorite := func(s *discovery.Session) bool {
		snap, _ := s.Latest()
		for _, a := range snap.Attractions {
			if a.ID == "museum-1" {
				return a.Favorite
			}
		}
		return false
	}
	require.Eventually(t, func() bool { return favorite(mine) }, 2*time.Second, 10*time.Millisecond)

	// Status is processed after the favorite event, so u2's session has seen everything addressed to it.
	_, err := theirs.Status()
	require.NoError(t, err)
	assert.False(t, favorite(theirs))
}

func TestRegistry_CloseAll(t *testing.T) {
	reg := newRegistry(t)
	state := discovery.NewFetchState(discovery.AllCategories(), discovery.SortDistance)

	_, a := reg.Create("u1", state)
	_, b := reg.Create("u2", state)
	ch, cancel := a.Subscribe(1)
	defer cancel()

	reg.CloseAll()
	assert.Equal(t, 0, reg.Len())

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "subscriber channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed")
	}
	assert.ErrorIs(t, b.UpdateLocation(syntagma), discovery.ErrSessionClosed)
}
