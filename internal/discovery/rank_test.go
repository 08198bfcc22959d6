package discovery_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neexbeast/culturalcompass/internal/discovery"
)

func ids(list []discovery.Attraction) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.ID
	}
	return out
}

func TestRank_ReviewCountBeatsRawRating(t *testing.T) {
	a := rated("a", 4.5, 200, 500)
	b := rated("b", 5.0, 2, 100)
	r := discovery.NewRanker(discovery.DefaultScorer())
	all := discovery.AllCategories()

	assert.Equal(t, []string{"a", "b"}, ids(r.Rank([]discovery.Attraction{b, a}, all, discovery.SortRating)))
	assert.Equal(t, []string{"b", "a"}, ids(r.Rank([]discovery.Attraction{a, b}, all, discovery.SortDistance)))
	assert.Equal(t, []string{"a", "b"}, ids(r.Rank([]discovery.Attraction{b, a}, all, discovery.SortBest)))
}

func TestRank_UnratedSortsLastByRating(t *testing.T) {
	unrated := discovery.Attraction{ID: "u", Category: discovery.CategoryMuseum, DistanceMeters: 10}
	low := rated("low", 1.0, 3, 900)
	r := discovery.NewRanker(discovery.DefaultScorer())

	got := r.Rank([]discovery.Attraction{unrated, low}, discovery.AllCategories(), discovery.SortRating)
	assert.Equal(t, []string{"low", "u"}, ids(got))
}

func TestRank_FiltersCategories(t *testing.T) {
	museum := rated("m", 4, 10, 100)
	gallery := rated("g", 4, 10, 200)
	gallery.Category = discovery.CategoryArtGallery
	unknown := rated("x", 4, 10, 50)
	unknown.Category = ""

	r := discovery.NewRanker(discovery.DefaultScorer())

	got := r.Rank([]discovery.Attraction{museum, gallery, unknown}, discovery.CategoryFilter{Museum: true}, discovery.SortDistance)
	assert.Equal(t, []string{"m"}, ids(got))

	got = r.Rank([]discovery.Attraction{museum, gallery, unknown}, discovery.CategoryFilter{}, discovery.SortDistance)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestRank_StableOnTies(t *testing.T) {
	list := []discovery.Attraction{
		rated("first", 4, 10, 300),
		rated("second", 4, 10, 300),
		rated("third", 4, 10, 300),
	}
	r := discovery.NewRanker(discovery.DefaultScorer())

	for _, mode := range []discovery.SortMode{discovery.SortDistance, discovery.SortRating, discovery.SortBest} {
		assert.Equal(t, []string{"first", "second", "third"}, ids(r.Rank(list, discovery.AllCategories(), mode)), mode.String())
	}
}

func TestRank_DeterministicAndIdempotent(t *testing.T) {
	var list []discovery.Attraction
	for i := 0; i < 15; i++ {
		list = append(list, rated(fmt.Sprintf("p%02d", i), float64(i%5)+0.5, (i*37)%200+1, float64((i*271)%3000)))
	}
	r := discovery.NewRanker(discovery.DefaultScorer())
	all := discovery.AllCategories()

	for _, mode := range []discovery.SortMode{discovery.SortDistance, discovery.SortRating, discovery.SortBest} {
		once := r.Rank(list, all, mode)
		again := r.Rank(list, all, mode)
		twice := r.Rank(once, all, mode)
		assert.Equal(t, once, again, mode.String())
		assert.Equal(t, once, twice, mode.String())
	}
}

func TestRank_DoesNotMutateInput(t *testing.T) {
	list := []discovery.Attraction{rated("far", 5, 100, 900), rated("near", 1, 1, 10)}
	before := append([]discovery.Attraction(nil), list...)

	_ = discovery.NewRanker(discovery.DefaultScorer()).Rank(list, discovery.AllCategories(), discovery.SortDistance)
	assert.Equal(t, before, list)
}

func TestRank_Truncates(t *testing.T) {
	var list []discovery.Attraction
	for i := 0; i < 30; i++ {
		list = append(list, rated(fmt.Sprintf("p%02d", i), 4, 10, float64(30-i)))
	}

	got := discovery.NewRanker(discovery.DefaultScorer()).Rank(list, discovery.AllCategories(), discovery.SortDistance)
	require.Len(t, got, discovery.MaxResults)
	assert.Equal(t, "p29", got[0].ID)

	small := discovery.Ranker{Scorer: discovery.DefaultScorer(), MaxResults: 3}
	assert.Len(t, small.Rank(list, discovery.AllCategories(), discovery.SortDistance), 3)
}
