package models

import "time"

// Book is a catalog record. AvailableCopies is owned by the loan ledger and
// must only change through Borrow/Return; direct writes bypass the invariant
// available_copies + open loans == total_copies.
type Book struct {
	ID              int       `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author" db:"author"`
	ISBN            string    `json:"isbn,omitempty" db:"isbn"`
	Genre           string    `json:"genre" db:"genre"`
	Synopsis        string    `json:"synopsis" db:"synopsis"`
	Rating          float64   `json:"rating" db:"rating"`
	AvailableCopies int       `json:"availableCopies" db:"available_copies"`
	TotalCopies     int       `json:"totalCopies" db:"total_copies"`
	CoverImage      string    `json:"coverImage,omitempty" db:"cover_image"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}

// CoverImagePath resolves the static path served under /static/covers.
func (b *Book) CoverImagePath() string {
	if b.CoverImage != "" {
		return "/static/covers/" + b.CoverImage
	}
	return "/static/covers/default-book-cover.jpeg"
}
