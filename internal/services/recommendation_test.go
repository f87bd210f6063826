package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecommendBooks(t *testing.T) {
	t.Run("Recommends From Overlapping Wishlists", func(t *testing.T) {
		wishlists := map[int][]int{
			1: {101, 102},
			2: {102, 103},
			3: {104},
		}

		recs := RecommendBooks(wishlists, 1, 10)

		assert.Len(t, recs, 1)
		assert.Equal(t, 103, recs[0].BookID)
		assert.Equal(t, 1, recs[0].Score)
	})

	t.Run("Excludes Own Wishlist And Non Overlapping Users", func(t *testing.T) {
		wishlists := map[int][]int{
			1: {101, 102},
			2: {102, 103, 101},
			3: {104, 105},
		}

		recs := RecommendBooks(wishlists, 1, 10)

		bookIDs := []int{}
		for _, rec := range recs {
			bookIDs = append(bookIDs, rec.BookID)
		}
		assert.NotContains(t, bookIDs, 101)
		assert.NotContains(t, bookIDs, 102)
		assert.NotContains(t, bookIDs, 104)
		assert.NotContains(t, bookIDs, 105)
		assert.Contains(t, bookIDs, 103)
	})

	t.Run("Weights By Overlap Size", func(t *testing.T) {
		wishlists := map[int][]int{
			1: {101, 102, 103},
			2: {101, 102, 201}, // overlap 2
			3: {103, 202},      // overlap 1
		}

		recs := RecommendBooks(wishlists, 1, 10)

		assert.Len(t, recs, 2)
		assert.Equal(t, 201, recs[0].BookID)
		assert.Equal(t, 2, recs[0].Score)
		assert.Equal(t, 202, recs[1].BookID)
		assert.Equal(t, 1, recs[1].Score)
	})

	t.Run("Ties Break By Ascending Book ID", func(t *testing.T) {
		wishlists := map[int][]int{
			1: {101},
			2: {101, 303},
			3: {101, 202},
		}

		recs := RecommendBooks(wishlists, 1, 10)

		assert.Len(t, recs, 2)
		assert.Equal(t, 202, recs[0].BookID)
		assert.Equal(t, 303, recs[1].BookID)
	})

	t.Run("Empty Wishlist Yields No Recommendations", func(t *testing.T) {
		wishlists := map[int][]int{
			2: {101, 102},
		}

		recs := RecommendBooks(wishlists, 1, 10)
		assert.Empty(t, recs)
	})

	t.Run("Respects Limit", func(t *testing.T) {
		wishlists := map[int][]int{
			1: {101},
			2: {101, 201, 202, 203, 204},
		}

		recs := RecommendBooks(wishlists, 1, 2)

		assert.Len(t, recs, 2)
		assert.Equal(t, 201, recs[0].BookID)
		assert.Equal(t, 202, recs[1].BookID)
	})

	t.Run("Unknown User Yields No Recommendations", func(t *testing.T) {
		wishlists := map[int][]int{
			2: {101},
		}

		recs := RecommendBooks(wishlists, 99, 10)
		assert.Empty(t, recs)
	})
}
