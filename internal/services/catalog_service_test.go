package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/literanusa/backend/internal/models"
)

var bookRows = []string{"id", "title", "author", "isbn", "genre", "synopsis", "rating", "available_copies", "total_copies", "cover_image", "created_at"}

func sampleBookRow(rows *sqlmock.Rows, id int, title string, rating float64, available, total int) *sqlmock.Rows {
	return rows.AddRow(id, title, "Ursula K. Le Guin", "9780441478125", "Science Fiction",
		"A classic.", rating, available, total, "", time.Now())
}

func TestCatalogService_ListBooks(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCatalogService(db, nil)

	t.Run("returns books ordered by rating", func(t *testing.T) {
		rows := sqlmock.NewRows(bookRows)
		sampleBookRow(rows, 1, "The Dispossessed", 4.8, 2, 2)
		sampleBookRow(rows, 2, "The Lathe of Heaven", 4.2, 1, 3)

		mock.ExpectQuery(`SELECT id, title, author, isbn, genre, synopsis, rating, available_copies, total_copies, cover_image, created_at FROM books ORDER BY rating DESC, id ASC LIMIT \$1`).
			WithArgs(50).
			WillReturnRows(rows)

		r := httptest.NewRequest("GET", "/api/v1/books", nil)
		w := httptest.NewRecorder()

		service.ListBooks(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Books []models.Book `json:"books"`
			Count int           `json:"count"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, 2, response.Count)
		assert.Equal(t, "The Dispossessed", response.Books[0].Title)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("filters by genre", func(t *testing.T) {
		rows := sqlmock.NewRows(bookRows)
		sampleBookRow(rows, 1, "The Dispossessed", 4.8, 2, 2)

		mock.ExpectQuery(`SELECT .+ FROM books WHERE genre ILIKE \$1 ORDER BY rating DESC, id ASC LIMIT \$2`).
			WithArgs("Science Fiction", 50).
			WillReturnRows(rows)

		r := httptest.NewRequest("GET", "/api/v1/books?genre=Science+Fiction", nil)
		w := httptest.NewRecorder()

		service.ListBooks(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCatalogService_GetBook(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCatalogService(db, nil)

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows(bookRows)
		sampleBookRow(rows, 3, "The Dispossessed", 4.8, 2, 2)

		mock.ExpectQuery(`SELECT .+ FROM books WHERE id = \$1`).
			WithArgs(3).
			WillReturnRows(rows)

		r := withURLParam(httptest.NewRequest("GET", "/api/v1/books/3", nil), "bookId", "3")
		w := httptest.NewRecorder()

		service.GetBook(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var book models.Book
		json.Unmarshal(w.Body.Bytes(), &book)
		assert.Equal(t, 3, book.ID)
		assert.Equal(t, 2, book.AvailableCopies)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM books WHERE id = \$1`).
			WithArgs(99).
			WillReturnRows(sqlmock.NewRows(bookRows))

		r := withURLParam(httptest.NewRequest("GET", "/api/v1/books/99", nil), "bookId", "99")
		w := httptest.NewRecorder()

		service.GetBook(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCatalogService_SearchBooks(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCatalogService(db, nil)

	t.Run("matches title, author or genre", func(t *testing.T) {
		rows := sqlmock.NewRows(bookRows)
		sampleBookRow(rows, 1, "The Dispossessed", 4.8, 2, 2)

		mock.ExpectQuery(`WHERE title ILIKE \$1 OR author ILIKE \$1 OR genre ILIKE \$1`).
			WithArgs("%guin%").
			WillReturnRows(rows)

		r := httptest.NewRequest("GET", "/api/v1/books/search?q=guin", nil)
		w := httptest.NewRecorder()

		service.SearchBooks(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Count int `json:"count"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, 1, response.Count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty term rejected", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/books/search", nil)
		w := httptest.NewRecorder()

		service.SearchBooks(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCatalogService_AddBook(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCatalogService(db, nil)

	t.Run("new book starts fully available", func(t *testing.T) {
		rows := sqlmock.NewRows(bookRows)
		sampleBookRow(rows, 10, "The Dispossessed", 4.8, 3, 3)

		mock.ExpectQuery(`INSERT INTO books`).
			WithArgs("The Dispossessed", "Ursula K. Le Guin", "9780441478125", "Science Fiction", "A classic.", 4.8, 3, "").
			WillReturnRows(rows)

		req := bookRequest{
			Title:       "The Dispossessed",
			Author:      "Ursula K. Le Guin",
			ISBN:        "9780441478125",
			Genre:       "Science Fiction",
			Synopsis:    "A classic.",
			Rating:      4.8,
			TotalCopies: 3,
		}
		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/api/v1/books", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.AddBook(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var book models.Book
		json.Unmarshal(w.Body.Bytes(), &book)
		assert.Equal(t, 10, book.ID)
		assert.Equal(t, book.TotalCopies, book.AvailableCopies)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing isbn stored as null", func(t *testing.T) {
		rows := sqlmock.NewRows(bookRows)
		rows.AddRow(11, "Zine Collection", "Various", nil, "Art",
			"", 0.0, 1, 1, "", time.Now())

		mock.ExpectQuery(`INSERT INTO books`).
			WithArgs("Zine Collection", "Various", nil, "Art", "", 0.0, 1, "").
			WillReturnRows(rows)

		req := bookRequest{
			Title:       "Zine Collection",
			Author:      "Various",
			Genre:       "Art",
			TotalCopies: 1,
		}
		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/api/v1/books", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.AddBook(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var book models.Book
		json.Unmarshal(w.Body.Bytes(), &book)
		assert.Equal(t, "", book.ISBN)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate isbn conflicts", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO books`).
			WillReturnError(&pq.Error{Code: "23505"})

		req := bookRequest{
			Title:       "The Dispossessed",
			Author:      "Ursula K. Le Guin",
			ISBN:        "9780441478125",
			Genre:       "Science Fiction",
			Rating:      4.8,
			TotalCopies: 3,
		}
		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/api/v1/books", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.AddBook(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("rating out of range rejected", func(t *testing.T) {
		req := bookRequest{
			Title:       "Bad Rating",
			Author:      "Nobody",
			Genre:       "Fiction",
			Rating:      6.5,
			TotalCopies: 1,
		}
		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/api/v1/books", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.AddBook(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("zero copies rejected", func(t *testing.T) {
		req := bookRequest{
			Title:       "No Copies",
			Author:      "Nobody",
			Genre:       "Fiction",
			Rating:      3,
			TotalCopies: 0,
		}
		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/api/v1/books", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.AddBook(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCatalogService_UpdateBook(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCatalogService(db, nil)

	t.Run("availability recomputed from open loans", func(t *testing.T) {
		rows := sqlmock.NewRows(bookRows)
		sampleBookRow(rows, 3, "The Dispossessed", 4.8, 4, 5)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id FROM books WHERE id = \$1 FOR UPDATE`).
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM loans WHERE book_id = \$1 AND status IN \('ACTIVE', 'OVERDUE'\)`).
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery(`UPDATE books`).
			WithArgs("The Dispossessed", "Ursula K. Le Guin", "9780441478125", "Science Fiction", "A classic.", 4.8, 4, 5, "", 3).
			WillReturnRows(rows)
		mock.ExpectCommit()

		req := bookRequest{
			Title:       "The Dispossessed",
			Author:      "Ursula K. Le Guin",
			ISBN:        "9780441478125",
			Genre:       "Science Fiction",
			Synopsis:    "A classic.",
			Rating:      4.8,
			TotalCopies: 5,
		}
		body, _ := json.Marshal(req)
		r := withURLParam(httptest.NewRequest("PUT", "/api/v1/books/3", bytes.NewBuffer(body)), "bookId", "3")
		w := httptest.NewRecorder()

		service.UpdateBook(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var book models.Book
		json.Unmarshal(w.Body.Bytes(), &book)
		assert.Equal(t, 5, book.TotalCopies)
		assert.Equal(t, 4, book.AvailableCopies)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cannot retire copies out on loan", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id FROM books WHERE id = \$1 FOR UPDATE`).
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM loans WHERE book_id = \$1 AND status IN \('ACTIVE', 'OVERDUE'\)`).
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectRollback()

		req := bookRequest{
			Title:       "The Dispossessed",
			Author:      "Ursula K. Le Guin",
			Genre:       "Science Fiction",
			Rating:      4.8,
			TotalCopies: 2,
		}
		body, _ := json.Marshal(req)
		r := withURLParam(httptest.NewRequest("PUT", "/api/v1/books/3", bytes.NewBuffer(body)), "bookId", "3")
		w := httptest.NewRecorder()

		service.UpdateBook(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown book", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id FROM books WHERE id = \$1 FOR UPDATE`).
			WithArgs(99).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		req := bookRequest{
			Title:       "Ghost",
			Author:      "Nobody",
			Genre:       "Fiction",
			Rating:      3,
			TotalCopies: 1,
		}
		body, _ := json.Marshal(req)
		r := withURLParam(httptest.NewRequest("PUT", "/api/v1/books/99", bytes.NewBuffer(body)), "bookId", "99")
		w := httptest.NewRecorder()

		service.UpdateBook(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGenerateNonce(t *testing.T) {
	nonce, err := generateNonce()
	assert.NoError(t, err)
	assert.Len(t, nonce, 24)

	again, err := generateNonce()
	assert.NoError(t, err)
	assert.NotEqual(t, nonce, again)
}
