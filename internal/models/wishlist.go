package models

// WishlistEntry is set membership: the user has marked interest in the book.
type WishlistEntry struct {
	UserID int `json:"userId" db:"user_id"`
	BookID int `json:"bookId" db:"book_id"`
}

// BookWishCount pairs a book with how many wishlists contain it.
type BookWishCount struct {
	BookID int `json:"bookId"`
	Count  int `json:"count"`
}
