package services

import (
	"bytes"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/lib/pq"
	"github.com/literanusa/backend/internal/models"
	"github.com/skip2/go-qrcode"
)

// CatalogService manages the book catalog: browsing, search and admin
// maintenance of titles. Availability counters are owned by the loan
// ledger; this service only reads them.
type CatalogService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

type bookRequest struct {
	Title       string  `json:"title" validate:"required,min=1,max=255"`
	Author      string  `json:"author" validate:"required,min=1,max=255"`
	ISBN        string  `json:"isbn" validate:"omitempty,min=10,max=17"`
	Genre       string  `json:"genre" validate:"required,min=1,max=100"`
	Synopsis    string  `json:"synopsis,omitempty"`
	Rating      float64 `json:"rating" validate:"gte=0,lte=5"`
	TotalCopies int     `json:"totalCopies" validate:"required,gte=1"`
	CoverImage  string  `json:"coverImage,omitempty"`
}

func NewCatalogService(db *sql.DB, redisClient *redis.Client) *CatalogService {
	return &CatalogService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

const bookColumns = `id, title, author, isbn, genre, synopsis, rating, available_copies, total_copies, cover_image, created_at`

func scanBook(row interface{ Scan(...interface{}) error }) (*models.Book, error) {
	b := &models.Book{}
	var isbn sql.NullString
	err := row.Scan(&b.ID, &b.Title, &b.Author, &isbn, &b.Genre, &b.Synopsis,
		&b.Rating, &b.AvailableCopies, &b.TotalCopies, &b.CoverImage, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.ISBN = isbn.String
	return b, nil
}

// nullableISBN stores books without an ISBN as NULL so the partial unique
// index only guards real ISBNs.
func nullableISBN(isbn string) sql.NullString {
	return sql.NullString{String: isbn, Valid: isbn != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// ListBooks returns the catalog ordered by rating
// @Summary List catalog
// @Description Get all books ordered by rating descending
// @Tags catalog
// @Produce json
// @Param genre query string false "Filter by genre"
// @Param limit query int false "Max results (default 50, max 200)"
// @Success 200 {object} object{books=[]models.Book,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /books [get]
func (cs *CatalogService) ListBooks(w http.ResponseWriter, r *http.Request) {
	genre := strings.TrimSpace(r.URL.Query().Get("genre"))
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}

	query := `SELECT ` + bookColumns + ` FROM books`
	args := []interface{}{}
	if genre != "" {
		query += ` WHERE genre ILIKE $1`
		args = append(args, genre)
	}
	query += fmt.Sprintf(` ORDER BY rating DESC, id ASC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := cs.db.Query(query, args...)
	if err != nil {
		log.Printf("[CATALOG] Failed to list books: %v", err)
		SendErrorResponse(w, "Failed to fetch books", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	books := []models.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			SendErrorResponse(w, "Failed to fetch books", http.StatusInternalServerError, nil)
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

// GetBook retrieves a single book
// @Summary Get book by ID
// @Tags catalog
// @Produce json
// @Param bookId path int true "Book ID"
// @Success 200 {object} models.Book
// @Failure 404 {object} ErrorResponse
// @Router /books/{bookId} [get]
func (cs *CatalogService) GetBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.Atoi(chi.URLParam(r, "bookId"))
	if err != nil || bookID <= 0 {
		SendErrorResponse(w, "Invalid book id", http.StatusBadRequest, nil)
		return
	}

	book, err := scanBook(cs.db.QueryRow(`SELECT `+bookColumns+` FROM books WHERE id = $1`, bookID))
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Book not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[CATALOG] Failed to fetch book %d: %v", bookID, err)
			SendErrorResponse(w, "Failed to fetch book", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(book)
}

// SearchBooks searches title, author and genre
// @Summary Search catalog
// @Description Case-insensitive substring search across title, author and genre
// @Tags catalog
// @Produce json
// @Param q query string true "Search term"
// @Success 200 {object} object{books=[]models.Book,count=int}
// @Failure 400 {object} ErrorResponse
// @Router /books/search [get]
func (cs *CatalogService) SearchBooks(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		SendErrorResponse(w, "Search term is required", http.StatusBadRequest, nil)
		return
	}

	books, err := cs.searchCatalog(term)
	if err != nil {
		log.Printf("[CATALOG] Search failed for %q: %v", term, err)
		SendErrorResponse(w, "Search failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"books": books,
		"count": len(books),
	})
}

// searchCatalog is shared with the voice search service.
func (cs *CatalogService) searchCatalog(term string) ([]models.Book, error) {
	pattern := "%" + term + "%"
	rows, err := cs.db.Query(`
		SELECT `+bookColumns+` FROM books
		WHERE title ILIKE $1 OR author ILIKE $1 OR genre ILIKE $1
		ORDER BY rating DESC, id ASC
		LIMIT 50
	`, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := []models.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, *b)
	}
	return books, nil
}

// AddBook creates a catalog entry
// @Summary Add a book
// @Description Admin only. New books start with all copies available
// @Tags catalog
// @Accept json
// @Produce json
// @Param book body bookRequest true "Book data"
// @Success 201 {object} models.Book
// @Failure 400 {object} ErrorResponse
// @Router /books [post]
func (cs *CatalogService) AddBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := cs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	book, err := scanBook(cs.db.QueryRow(`
		INSERT INTO books (title, author, isbn, genre, synopsis, rating, available_copies, total_copies, cover_image, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8, NOW())
		RETURNING `+bookColumns+`
	`, req.Title, req.Author, nullableISBN(req.ISBN), req.Genre, req.Synopsis, req.Rating, req.TotalCopies, req.CoverImage))
	if err != nil {
		if isUniqueViolation(err) {
			SendErrorResponse(w, "A book with this ISBN already exists", http.StatusConflict, nil)
			return
		}
		log.Printf("[CATALOG] Failed to add book %q: %v", req.Title, err)
		SendErrorResponse(w, "Failed to add book", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[CATALOG] Added book %d: %s by %s (%d copies)", book.ID, book.Title, book.Author, book.TotalCopies)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(book)
}

// UpdateBook edits catalog metadata
// @Summary Update a book
// @Description Admin only. Total copies may not drop below the number of copies out on loan
// @Tags catalog
// @Accept json
// @Produce json
// @Param bookId path int true "Book ID"
// @Param book body bookRequest true "Book data"
// @Success 200 {object} models.Book
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /books/{bookId} [put]
func (cs *CatalogService) UpdateBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.Atoi(chi.URLParam(r, "bookId"))
	if err != nil || bookID <= 0 {
		SendErrorResponse(w, "Invalid book id", http.StatusBadRequest, nil)
		return
	}

	var req bookRequest

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := cs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	// The book row is locked while open loans are counted so a concurrent
	// borrow cannot slip a copy out between the check and the update.
	// Availability is recomputed as total minus open loans, which keeps the
	// conservation equation intact through copy-count changes.
	tx, err := cs.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Failed to update book", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	var lockedID int
	err = tx.QueryRow(`SELECT id FROM books WHERE id = $1 FOR UPDATE`, bookID).Scan(&lockedID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Book not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[CATALOG] Failed to lock book %d: %v", bookID, err)
			SendErrorResponse(w, "Failed to update book", http.StatusInternalServerError, nil)
		}
		return
	}

	var openLoans int
	err = tx.QueryRow(`
		SELECT COUNT(*) FROM loans
		WHERE book_id = $1 AND status IN ('ACTIVE', 'OVERDUE')
	`, bookID).Scan(&openLoans)
	if err != nil {
		log.Printf("[CATALOG] Failed to count open loans for book %d: %v", bookID, err)
		SendErrorResponse(w, "Failed to update book", http.StatusInternalServerError, nil)
		return
	}

	if req.TotalCopies < openLoans {
		SendErrorResponse(w,
			fmt.Sprintf("Cannot reduce to %d copies while %d are out on loan", req.TotalCopies, openLoans),
			http.StatusConflict, nil)
		return
	}

	book, err := scanBook(tx.QueryRow(`
		UPDATE books
		SET title = $1, author = $2, isbn = $3, genre = $4, synopsis = $5, rating = $6,
		    available_copies = $7, total_copies = $8, cover_image = $9
		WHERE id = $10
		RETURNING `+bookColumns+`
	`, req.Title, req.Author, nullableISBN(req.ISBN), req.Genre, req.Synopsis, req.Rating,
		req.TotalCopies-openLoans, req.TotalCopies, req.CoverImage, bookID))
	if err != nil {
		if isUniqueViolation(err) {
			SendErrorResponse(w, "A book with this ISBN already exists", http.StatusConflict, nil)
			return
		}
		log.Printf("[CATALOG] Failed to update book %d: %v", bookID, err)
		SendErrorResponse(w, "Failed to update book", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[CATALOG] Failed to commit update of book %d: %v", bookID, err)
		SendErrorResponse(w, "Failed to update book", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(book)
}

// ShareBook generates a scannable share code for a book
// @Summary Generate book share QR
// @Description Returns a QR code image encoding a short-lived share token for the book
// @Tags catalog
// @Produce json
// @Param bookId path int true "Book ID"
// @Success 200 {object} object{shareCode=string,qrImage=string}
// @Failure 404 {object} ErrorResponse
// @Router /books/{bookId}/share [get]
func (cs *CatalogService) ShareBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.Atoi(chi.URLParam(r, "bookId"))
	if err != nil || bookID <= 0 {
		SendErrorResponse(w, "Invalid book id", http.StatusBadRequest, nil)
		return
	}

	var title string
	if err := cs.db.QueryRow(`SELECT title FROM books WHERE id = $1`, bookID).Scan(&title); err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Book not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch book", http.StatusInternalServerError, nil)
		}
		return
	}

	nonce, err := generateNonce()
	if err != nil {
		log.Printf("[CATALOG] Failed to generate share nonce for book %d: %v", bookID, err)
		SendErrorResponse(w, "Failed to generate share code", http.StatusInternalServerError, nil)
		return
	}

	shareData := map[string]interface{}{
		"bookId":    bookID,
		"title":     title,
		"timestamp": time.Now().Unix(),
		"nonce":     nonce,
	}

	jsonData, err := json.Marshal(shareData)
	if err != nil {
		SendErrorResponse(w, "Failed to generate share code", http.StatusInternalServerError, nil)
		return
	}

	shareCode := base64.URLEncoding.EncodeToString(jsonData)

	if cs.redis != nil {
		key := fmt.Sprintf("share:%s", shareCode)
		if err := cs.redis.Set(r.Context(), key, jsonData, 24*time.Hour).Err(); err != nil {
			log.Printf("[CATALOG] Failed to cache share code for book %d: %v", bookID, err)
		}
	}

	qr, err := qrcode.New(shareCode, qrcode.Medium)
	if err != nil {
		SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		SendErrorResponse(w, "Failed to encode QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"shareCode": shareCode,
		"qrImage":   base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}

// ResolveShareCode turns a scanned share code back into its book
// @Summary Resolve book share QR
// @Tags catalog
// @Produce json
// @Param code query string true "Share code"
// @Success 200 {object} models.Book
// @Failure 404 {object} ErrorResponse
// @Router /books/share/resolve [get]
func (cs *CatalogService) ResolveShareCode(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		SendErrorResponse(w, "Share code is required", http.StatusBadRequest, nil)
		return
	}

	var payload []byte
	if cs.redis != nil {
		data, err := cs.redis.Get(r.Context(), fmt.Sprintf("share:%s", code)).Bytes()
		if err == redis.Nil {
			SendErrorResponse(w, "Invalid or expired share code", http.StatusNotFound, nil)
			return
		}
		if err != nil {
			SendErrorResponse(w, "Failed to resolve share code", http.StatusInternalServerError, nil)
			return
		}
		payload = data
	} else {
		decoded, err := base64.URLEncoding.DecodeString(code)
		if err != nil {
			SendErrorResponse(w, "Invalid share code", http.StatusBadRequest, nil)
			return
		}
		payload = decoded
	}

	var shareData struct {
		BookID int `json:"bookId"`
	}
	if err := json.Unmarshal(payload, &shareData); err != nil || shareData.BookID <= 0 {
		SendErrorResponse(w, "Invalid share code", http.StatusBadRequest, nil)
		return
	}

	book, err := scanBook(cs.db.QueryRow(`SELECT `+bookColumns+` FROM books WHERE id = $1`, shareData.BookID))
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Book not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch book", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(book)
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read nonce entropy: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
