package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/literanusa/backend/internal/middleware"
	"github.com/literanusa/backend/internal/models"
)

// WishlistService maintains per-member wishlists and serves taste-based
// recommendations computed from them.
type WishlistService struct {
	db       *sql.DB
	redis    *redis.Client
	cacheTTL time.Duration
}

func NewWishlistService(db *sql.DB, redisClient *redis.Client) *WishlistService {
	return &WishlistService{
		db:       db,
		redis:    redisClient,
		cacheTTL: 5 * time.Minute,
	}
}

// AddToWishlist puts a book on the member's wishlist
// @Summary Add book to wishlist
// @Description Idempotent: adding an already wishlisted book succeeds without change
// @Tags wishlist
// @Produce json
// @Param bookId path int true "Book ID"
// @Success 200 {object} object{success=bool,wishlisted=bool}
// @Failure 404 {object} ErrorResponse
// @Router /wishlist/{bookId} [post]
func (ws *WishlistService) AddToWishlist(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	bookID, err := strconv.Atoi(chi.URLParam(r, "bookId"))
	if err != nil || bookID <= 0 {
		SendErrorResponse(w, "Invalid book id", http.StatusBadRequest, nil)
		return
	}

	if err := ws.add(r.Context(), userID, bookID); err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Book not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[WISHLIST] Failed to add book %d for user %d: %v", bookID, userID, err)
		SendErrorResponse(w, "Failed to update wishlist", http.StatusInternalServerError, nil)
		return
	}

	ws.invalidateCache(r.Context(), userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    true,
		"wishlisted": true,
	})
}

// RemoveFromWishlist drops a book from the member's wishlist
// @Summary Remove book from wishlist
// @Description Idempotent: removing an absent book succeeds without change
// @Tags wishlist
// @Produce json
// @Param bookId path int true "Book ID"
// @Success 200 {object} object{success=bool,wishlisted=bool}
// @Router /wishlist/{bookId} [delete]
func (ws *WishlistService) RemoveFromWishlist(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	bookID, err := strconv.Atoi(chi.URLParam(r, "bookId"))
	if err != nil || bookID <= 0 {
		SendErrorResponse(w, "Invalid book id", http.StatusBadRequest, nil)
		return
	}

	if _, err := ws.db.Exec(`DELETE FROM wishlists WHERE user_id = $1 AND book_id = $2`, userID, bookID); err != nil {
		log.Printf("[WISHLIST] Failed to remove book %d for user %d: %v", bookID, userID, err)
		SendErrorResponse(w, "Failed to update wishlist", http.StatusInternalServerError, nil)
		return
	}

	ws.invalidateCache(r.Context(), userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    true,
		"wishlisted": false,
	})
}

// ToggleWishlist flips the wishlist membership of a book
// @Summary Toggle book on wishlist
// @Tags wishlist
// @Produce json
// @Param bookId path int true "Book ID"
// @Success 200 {object} object{success=bool,wishlisted=bool}
// @Failure 404 {object} ErrorResponse
// @Router /wishlist/{bookId}/toggle [post]
func (ws *WishlistService) ToggleWishlist(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	bookID, err := strconv.Atoi(chi.URLParam(r, "bookId"))
	if err != nil || bookID <= 0 {
		SendErrorResponse(w, "Invalid book id", http.StatusBadRequest, nil)
		return
	}

	onList, err := ws.contains(r.Context(), userID, bookID)
	if err != nil {
		SendErrorResponse(w, "Failed to update wishlist", http.StatusInternalServerError, nil)
		return
	}

	if onList {
		_, err = ws.db.Exec(`DELETE FROM wishlists WHERE user_id = $1 AND book_id = $2`, userID, bookID)
	} else {
		err = ws.add(r.Context(), userID, bookID)
	}
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Book not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[WISHLIST] Failed to toggle book %d for user %d: %v", bookID, userID, err)
		SendErrorResponse(w, "Failed to update wishlist", http.StatusInternalServerError, nil)
		return
	}

	ws.invalidateCache(r.Context(), userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    true,
		"wishlisted": !onList,
	})
}

// GetWishlist lists the member's wishlisted books
// @Summary Get wishlist
// @Tags wishlist
// @Produce json
// @Success 200 {object} object{books=[]models.Book,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /wishlist [get]
func (ws *WishlistService) GetWishlist(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	rows, err := ws.db.Query(`
		SELECT b.id, b.title, b.author, b.isbn, b.genre, b.synopsis, b.rating,
		       b.available_copies, b.total_copies, b.cover_image, b.created_at
		FROM wishlists w
		JOIN books b ON b.id = w.book_id
		WHERE w.user_id = $1
		ORDER BY w.created_at DESC
	`, userID)
	if err != nil {
		log.Printf("[WISHLIST] Failed to fetch wishlist for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch wishlist", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	books := []models.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			SendErrorResponse(w, "Failed to fetch wishlist", http.StatusInternalServerError, nil)
			return
		}
		books = append(books, *b)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"books": books,
		"count": len(books),
	})
}

// ClearWishlist removes every book from the member's wishlist
// @Summary Clear wishlist
// @Tags wishlist
// @Produce json
// @Success 200 {object} object{success=bool,removed=int64}
// @Router /wishlist [delete]
func (ws *WishlistService) ClearWishlist(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	result, err := ws.db.Exec(`DELETE FROM wishlists WHERE user_id = $1`, userID)
	if err != nil {
		log.Printf("[WISHLIST] Failed to clear wishlist for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to clear wishlist", http.StatusInternalServerError, nil)
		return
	}

	removed, _ := result.RowsAffected()
	ws.invalidateCache(r.Context(), userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"removed": removed,
	})
}

// GetRecommendations suggests books based on wishlist overlap
// @Summary Get recommendations
// @Description Suggest books wishlisted by members with overlapping taste
// @Tags wishlist
// @Produce json
// @Param limit query int false "Max results (default 10, max 50)"
// @Success 200 {object} object{recommendations=[]Recommendation,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /wishlist/recommendations [get]
func (ws *WishlistService) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 50 {
			limit = l
		}
	}

	cacheKey := fmt.Sprintf("recommendations:%d:%d", userID, limit)
	if ws.redis != nil {
		if cached, err := ws.redis.Get(r.Context(), cacheKey).Bytes(); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Write(cached)
			return
		}
	}

	wishlists, err := ws.loadAllWishlists(r.Context())
	if err != nil {
		log.Printf("[WISHLIST] Failed to load wishlists for recommendations: %v", err)
		SendErrorResponse(w, "Failed to compute recommendations", http.StatusInternalServerError, nil)
		return
	}

	recs := RecommendBooks(wishlists, userID, limit)

	payload, err := json.Marshal(map[string]interface{}{
		"recommendations": recs,
		"count":           len(recs),
	})
	if err != nil {
		SendErrorResponse(w, "Failed to compute recommendations", http.StatusInternalServerError, nil)
		return
	}

	if ws.redis != nil {
		if err := ws.redis.Set(r.Context(), cacheKey, payload, ws.cacheTTL).Err(); err != nil {
			log.Printf("[WISHLIST] Failed to cache recommendations for user %d: %v", userID, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

// GetWishlistStats reports the most wishlisted books
// @Summary Wishlist statistics
// @Description Admin view of books ranked by wishlist count
// @Tags wishlist
// @Produce json
// @Param limit query int false "Max results (default 10)"
// @Success 200 {object} object{stats=[]models.BookWishCount,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /wishlist/stats [get]
func (ws *WishlistService) GetWishlistStats(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	rows, err := ws.db.Query(`
		SELECT book_id, COUNT(*) AS wish_count
		FROM wishlists
		GROUP BY book_id
		ORDER BY wish_count DESC, book_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		log.Printf("[WISHLIST] Failed to fetch wishlist stats: %v", err)
		SendErrorResponse(w, "Failed to fetch wishlist stats", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	stats := []models.BookWishCount{}
	for rows.Next() {
		var s models.BookWishCount
		if err := rows.Scan(&s.BookID, &s.Count); err != nil {
			SendErrorResponse(w, "Failed to fetch wishlist stats", http.StatusInternalServerError, nil)
			return
		}
		stats = append(stats, s)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"stats": stats,
		"count": len(stats),
	})
}

// Internal helpers

func (ws *WishlistService) add(ctx context.Context, userID, bookID int) error {
	var exists bool
	if err := ws.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM books WHERE id = $1)`, bookID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return sql.ErrNoRows
	}

	_, err := ws.db.ExecContext(ctx, `
		INSERT INTO wishlists (user_id, book_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, book_id) DO NOTHING
	`, userID, bookID)
	return err
}

func (ws *WishlistService) contains(ctx context.Context, userID, bookID int) (bool, error) {
	var exists bool
	err := ws.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM wishlists WHERE user_id = $1 AND book_id = $2)
	`, userID, bookID).Scan(&exists)
	return exists, err
}

// loadAllWishlists materializes every member's wishlist for the
// recommendation engine.
func (ws *WishlistService) loadAllWishlists(ctx context.Context) (map[int][]int, error) {
	rows, err := ws.db.QueryContext(ctx, `SELECT user_id, book_id FROM wishlists ORDER BY user_id, book_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wishlists := map[int][]int{}
	for rows.Next() {
		var entry models.WishlistEntry
		if err := rows.Scan(&entry.UserID, &entry.BookID); err != nil {
			return nil, err
		}
		wishlists[entry.UserID] = append(wishlists[entry.UserID], entry.BookID)
	}
	return wishlists, rows.Err()
}

// invalidateCache drops every cached recommendation set. A wishlist edit
// changes overlap for other members too, so the whole space is flushed.
func (ws *WishlistService) invalidateCache(ctx context.Context, userID int) {
	if ws.redis == nil {
		return
	}

	iter := ws.redis.Scan(ctx, 0, "recommendations:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := ws.redis.Del(ctx, iter.Val()).Err(); err != nil {
			log.Printf("[WISHLIST] Failed to invalidate cache key %s: %v", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		log.Printf("[WISHLIST] Cache invalidation scan failed after user %d edit: %v", userID, err)
	}
}
