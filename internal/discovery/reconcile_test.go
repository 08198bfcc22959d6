package discovery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neexbeast/culturalcompass/internal/discovery"
)

func TestReconcile(t *testing.T) {
	list := []discovery.Attraction{rated("a", 4, 10, 10), rated("b", 4, 10, 20), rated("c", 4, 10, 30)}
	list[2].Favorite = true
	favs := map[string]struct{}{"b": {}, "gone": {}}

	got := discovery.Reconcile(list, favs)

	assert.False(t, got[0].Favorite)
	assert.True(t, got[1].Favorite)
	assert.False(t, got[2].Favorite, "stale flag cleared")
	assert.True(t, list[2].Favorite, "input untouched")
	assert.Equal(t, got, discovery.Reconcile(got, favs))

	// Only the flag changes.
	for i := range got {
		want := list[i]
		want.Favorite = got[i].Favorite
		assert.Equal(t, want, got[i])
	}
}

func TestReconcile_EmptyInputs(t *testing.T) {
	assert.Empty(t, discovery.Reconcile(nil, map[string]struct{}{"a": {}}))

	got := discovery.Reconcile([]discovery.Attraction{rated("a", 4, 10, 10)}, nil)
	assert.False(t, got[0].Favorite)
}
