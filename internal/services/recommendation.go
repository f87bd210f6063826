package services

import "sort"

// Recommendation is a candidate book with its affinity score.
type Recommendation struct {
	BookID int `json:"bookId"`
	Score  int `json:"score"`
}

// RecommendBooks suggests books for userID from the wishlists of members
// with overlapping taste. Every other member who shares at least one
// wishlisted book with the target contributes their remaining wishlist
// entries, weighted by the size of the overlap. The target's own wishlist
// entries are never recommended back.
//
// Results are ordered by score descending, then book id ascending so equal
// scores rank deterministically. A member with an empty wishlist gets no
// recommendations.
func RecommendBooks(wishlists map[int][]int, userID, limit int) []Recommendation {
	own := wishlists[userID]
	if len(own) == 0 || limit <= 0 {
		return []Recommendation{}
	}

	ownSet := make(map[int]bool, len(own))
	for _, bookID := range own {
		ownSet[bookID] = true
	}

	scores := map[int]int{}
	for otherID, books := range wishlists {
		if otherID == userID {
			continue
		}

		overlap := 0
		for _, bookID := range books {
			if ownSet[bookID] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}

		for _, bookID := range books {
			if !ownSet[bookID] {
				scores[bookID] += overlap
			}
		}
	}

	recs := make([]Recommendation, 0, len(scores))
	for bookID, score := range scores {
		recs = append(recs, Recommendation{BookID: bookID, Score: score})
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].BookID < recs[j].BookID
	})

	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}
