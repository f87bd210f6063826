package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/literanusa/backend/internal/models"
)

func TestWishlistService_AddToWishlist(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWishlistService(db, nil)

	t.Run("adds book", func(t *testing.T) {
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM books WHERE id = \$1\)`).
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectExec(`INSERT INTO wishlists`).
			WithArgs(7, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		r := withURLParam(authedRequest("POST", "/api/v1/wishlist/3", nil, 7), "bookId", "3")
		w := httptest.NewRecorder()

		service.AddToWishlist(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Wishlisted bool `json:"wishlisted"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.True(t, response.Wishlisted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown book", func(t *testing.T) {
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM books WHERE id = \$1\)`).
			WithArgs(99).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		r := withURLParam(authedRequest("POST", "/api/v1/wishlist/99", nil, 7), "bookId", "99")
		w := httptest.NewRecorder()

		service.AddToWishlist(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("re-adding is idempotent", func(t *testing.T) {
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM books WHERE id = \$1\)`).
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectExec(`INSERT INTO wishlists`).
			WithArgs(7, 3).
			WillReturnResult(sqlmock.NewResult(0, 0)) // ON CONFLICT DO NOTHING

		r := withURLParam(authedRequest("POST", "/api/v1/wishlist/3", nil, 7), "bookId", "3")
		w := httptest.NewRecorder()

		service.AddToWishlist(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestWishlistService_ToggleWishlist(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWishlistService(db, nil)

	t.Run("toggles off when present", func(t *testing.T) {
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM wishlists WHERE user_id = \$1 AND book_id = \$2\)`).
			WithArgs(7, 3).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectExec(`DELETE FROM wishlists WHERE user_id = \$1 AND book_id = \$2`).
			WithArgs(7, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		r := withURLParam(authedRequest("POST", "/api/v1/wishlist/3/toggle", nil, 7), "bookId", "3")
		w := httptest.NewRecorder()

		service.ToggleWishlist(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Wishlisted bool `json:"wishlisted"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.False(t, response.Wishlisted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("toggles on when absent", func(t *testing.T) {
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM wishlists WHERE user_id = \$1 AND book_id = \$2\)`).
			WithArgs(7, 3).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM books WHERE id = \$1\)`).
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectExec(`INSERT INTO wishlists`).
			WithArgs(7, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		r := withURLParam(authedRequest("POST", "/api/v1/wishlist/3/toggle", nil, 7), "bookId", "3")
		w := httptest.NewRecorder()

		service.ToggleWishlist(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Wishlisted bool `json:"wishlisted"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.True(t, response.Wishlisted)
	})
}

func TestWishlistService_GetRecommendations(t *testing.T) {
	t.Run("computes from overlapping wishlists on cache miss", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewWishlistService(db, redisClient)

		redisMock.ExpectGet("recommendations:1:10").RedisNil()

		mock.ExpectQuery(`SELECT user_id, book_id FROM wishlists ORDER BY user_id, book_id`).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "book_id"}).
				AddRow(1, 101).
				AddRow(1, 102).
				AddRow(2, 102).
				AddRow(2, 103).
				AddRow(3, 104))

		expected, _ := json.Marshal(map[string]interface{}{
			"recommendations": []Recommendation{{BookID: 103, Score: 1}},
			"count":           1,
		})
		redisMock.ExpectSet("recommendations:1:10", expected, service.cacheTTL).SetVal("OK")

		r := authedRequest("GET", "/api/v1/wishlist/recommendations", nil, 1)
		w := httptest.NewRecorder()

		service.GetRecommendations(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Recommendations []Recommendation `json:"recommendations"`
			Count           int              `json:"count"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, 1, response.Count)
		assert.Equal(t, 103, response.Recommendations[0].BookID)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("serves cached payload without touching the database", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewWishlistService(db, redisClient)

		cached, _ := json.Marshal(map[string]interface{}{
			"recommendations": []Recommendation{{BookID: 103, Score: 1}},
			"count":           1,
		})
		redisMock.ExpectGet("recommendations:1:10").SetVal(string(cached))

		r := authedRequest("GET", "/api/v1/wishlist/recommendations", nil, 1)
		w := httptest.NewRecorder()

		service.GetRecommendations(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Count int `json:"count"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, 1, response.Count)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("empty wishlist yields empty result", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewWishlistService(db, nil)

		mock.ExpectQuery(`SELECT user_id, book_id FROM wishlists ORDER BY user_id, book_id`).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "book_id"}).
				AddRow(2, 101))

		r := authedRequest("GET", "/api/v1/wishlist/recommendations", nil, 1)
		w := httptest.NewRecorder()

		service.GetRecommendations(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Count int `json:"count"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, 0, response.Count)
	})
}

func TestWishlistService_GetWishlistStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWishlistService(db, nil)

	mock.ExpectQuery(`SELECT book_id, COUNT\(\*\) AS wish_count FROM wishlists GROUP BY book_id ORDER BY wish_count DESC, book_id ASC LIMIT \$1`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"book_id", "wish_count"}).
			AddRow(103, 5).
			AddRow(101, 2))

	r := authedRequest("GET", "/api/v1/wishlist/stats", nil, 1)
	w := httptest.NewRecorder()

	service.GetWishlistStats(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	var response struct {
		Stats []models.BookWishCount `json:"stats"`
	}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Len(t, response.Stats, 2)
	assert.Equal(t, 103, response.Stats[0].BookID)
	assert.Equal(t, 5, response.Stats[0].Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
